package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketsync/internal/clients"
	"github.com/aristath/marketsync/internal/database"
	"github.com/aristath/marketsync/internal/domain"
	"github.com/aristath/marketsync/internal/store"
)

func setupStore(t *testing.T) (*store.Store, *sql.DB) {
	t.Helper()

	db, err := database.New(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	return store.New(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled)), db.Conn()
}

func seed(t *testing.T, s *store.Store, symbol, emCode string, patch domain.SecurityPatch) domain.Security {
	t.Helper()
	id, err := s.InsertSecurity(context.Background(), symbol, emCode, domain.MarketUS, domain.TypeStock, patch)
	require.NoError(t, err)
	sec, err := s.GetSecurityByID(context.Background(), id)
	require.NoError(t, err)
	return *sec
}

var discard = zerolog.New(nil).Level(zerolog.Disabled)

type fakeInfoFetcher struct {
	patch domain.SecurityPatch
	err   error
}

func (f *fakeInfoFetcher) FetchSecurityInfo(context.Context, string) (domain.SecurityPatch, error) {
	return f.patch, f.err
}

func TestDetailsTaskSuccess(t *testing.T) {
	s, _ := setupStore(t)
	sec := seed(t, s, "aapl", "105.AAPL", nil)

	task := &DetailsTask{
		Store:   s,
		Fetcher: &fakeInfoFetcher{patch: domain.SecurityPatch{domain.ColName: "Apple"}},
		Log:     discard,
	}
	status, err := task.Run(context.Background(), sec)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, status)

	after, err := s.GetSecurityByID(context.Background(), sec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Apple", after.Name)
	assert.Equal(t, "105.AAPL", after.EmCode)
}

func TestDetailsTaskNotFoundDeactivates(t *testing.T) {
	s, _ := setupStore(t)
	sec := seed(t, s, "gone", "", nil)

	task := &DetailsTask{Store: s, Fetcher: &fakeInfoFetcher{err: fmt.Errorf("details: %w", clients.ErrNotFound)}, Log: discard}
	status, err := task.Run(context.Background(), sec)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccessNoData, status)

	after, err := s.GetSecurityByID(context.Background(), sec.ID)
	require.NoError(t, err)
	assert.False(t, after.IsActive)
}

func TestDetailsTaskFetchError(t *testing.T) {
	s, _ := setupStore(t)
	sec := seed(t, s, "aapl", "", nil)

	task := &DetailsTask{Store: s, Fetcher: &fakeInfoFetcher{err: errors.New("boom")}, Log: discard}
	status, err := task.Run(context.Background(), sec)
	assert.Equal(t, domain.StatusError, status)
	assert.Error(t, err)
}

type fakeActionsFetcher struct {
	dividends []domain.Dividend
	splits    []domain.Split
	err       error
}

func (f *fakeActionsFetcher) FetchDividends(context.Context, string) ([]domain.Dividend, error) {
	return f.dividends, f.err
}

func (f *fakeActionsFetcher) FetchSplits(context.Context, string) ([]domain.Split, error) {
	return f.splits, f.err
}

func TestActionsTaskBackfillsCurrencyAndStamps(t *testing.T) {
	s, conn := setupStore(t)
	sec := seed(t, s, "aapl", "", domain.SecurityPatch{domain.ColCurrency: "USD"})

	fetcher := &fakeActionsFetcher{
		dividends: []domain.Dividend{{
			ExDividendDate: domain.NewDate(2024, 2, 10),
			CashAmount:     decimal.RequireFromString("0.24"),
		}},
		splits: []domain.Split{{
			ExecutionDate: domain.NewDate(2020, 8, 31),
			SplitTo:       decimal.NewFromInt(4),
			SplitFrom:     decimal.NewFromInt(1),
		}},
	}
	task := &ActionsTask{Store: s, Dividends: fetcher, Splits: fetcher, Log: discard}

	status, err := task.Run(context.Background(), sec)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, status)

	var currency string
	err = conn.QueryRow("SELECT currency FROM stock_dividends WHERE security_id = ?", sec.ID).Scan(&currency)
	require.NoError(t, err)
	assert.Equal(t, "USD", currency)

	after, err := s.GetSecurityByID(context.Background(), sec.ID)
	require.NoError(t, err)
	assert.NotNil(t, after.ActionsLastUpdatedAt)
}

func TestActionsTaskEmptyStillStamps(t *testing.T) {
	s, _ := setupStore(t)
	sec := seed(t, s, "aapl", "", nil)

	task := &ActionsTask{Store: s, Dividends: &fakeActionsFetcher{}, Splits: &fakeActionsFetcher{}, Log: discard}
	status, err := task.Run(context.Background(), sec)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccessNoData, status)

	after, err := s.GetSecurityByID(context.Background(), sec.ID)
	require.NoError(t, err)
	assert.NotNil(t, after.ActionsLastUpdatedAt, "empty actions must still advance the stamp")
}

type fakePriceSource struct {
	bars     []domain.PriceBar
	err      error
	earliest domain.Date

	gotIdentifier string
	gotStart      domain.Date
	gotEnd        domain.Date
}

func (f *fakePriceSource) FetchHistoricalPrices(_ context.Context, identifier string, start, end domain.Date) ([]domain.PriceBar, error) {
	f.gotIdentifier = identifier
	f.gotStart = start
	f.gotEnd = end
	return f.bars, f.err
}

func (f *fakePriceSource) EarliestSupportedDate() domain.Date {
	if f.earliest.IsZero() {
		return domain.NewDate(1970, 1, 1)
	}
	return f.earliest
}

func fixedNow(date domain.Date) func() time.Time {
	return func() time.Time { return date.Time() }
}

func TestPriceIncrementEmptyFetchAdvancesStamp(t *testing.T) {
	s, _ := setupStore(t)
	sec := seed(t, s, "aapl", "105.AAPL", nil)
	require.NoError(t, s.SetStamp(context.Background(), sec.ID, "price_data_latest_date", domain.NewDate(2024, 1, 10)))
	reloaded, err := s.GetSecurityByID(context.Background(), sec.ID)
	require.NoError(t, err)

	source := &fakePriceSource{}
	task := &PriceIncrementTask{
		Store: s, Source: source, Log: discard,
		UseEmCode: true,
		Now:       fixedNow(domain.NewDate(2024, 1, 15)),
	}

	status, err := task.Run(context.Background(), *reloaded)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccessNoNewData, status)

	assert.Equal(t, "105.AAPL", source.gotIdentifier)
	assert.Equal(t, "2024-01-11", source.gotStart.String())
	assert.Equal(t, "2024-01-15", source.gotEnd.String())

	after, err := s.GetSecurityByID(context.Background(), sec.ID)
	require.NoError(t, err)
	require.NotNil(t, after.PriceDataLatestDate)
	assert.Equal(t, "2024-01-14", after.PriceDataLatestDate.String())
}

func TestPriceIncrementNeverLoadedEmptyFetchAdvancesStamp(t *testing.T) {
	s, _ := setupStore(t)
	// No price_data_latest_date, so the run starts from the history floor.
	sec := seed(t, s, "empty", "105.EMPTY", nil)

	task := &PriceIncrementTask{
		Store: s, Source: &fakePriceSource{}, Log: discard,
		UseEmCode: true,
		Now:       fixedNow(domain.NewDate(2024, 1, 15)),
	}
	status, err := task.Run(context.Background(), sec)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccessNoData, status)

	// The stamp still advances so a symbol the vendor has nothing for is
	// not re-elected every run.
	after, err := s.GetSecurityByID(context.Background(), sec.ID)
	require.NoError(t, err)
	require.NotNil(t, after.PriceDataLatestDate)
	assert.Equal(t, "2024-01-14", after.PriceDataLatestDate.String())
}

func TestPriceIncrementForcedFullRefreshEmptyFetchLeavesStamp(t *testing.T) {
	s, _ := setupStore(t)
	sec := seed(t, s, "aapl", "105.AAPL", nil)
	require.NoError(t, s.SetStamp(context.Background(), sec.ID, "price_data_latest_date", domain.NewDate(2024, 1, 10)))
	reloaded, err := s.GetSecurityByID(context.Background(), sec.ID)
	require.NoError(t, err)

	task := &PriceIncrementTask{
		Store: s, Source: &fakePriceSource{}, Log: discard,
		UseEmCode:   true,
		FullRefresh: true,
		Now:         fixedNow(domain.NewDate(2024, 1, 15)),
	}
	status, err := task.Run(context.Background(), *reloaded)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccessNoData, status)

	after, err := s.GetSecurityByID(context.Background(), sec.ID)
	require.NoError(t, err)
	require.NotNil(t, after.PriceDataLatestDate)
	assert.Equal(t, "2024-01-10", after.PriceDataLatestDate.String())
}

func TestPriceIncrementUpToDate(t *testing.T) {
	s, _ := setupStore(t)
	sec := seed(t, s, "aapl", "", nil)
	require.NoError(t, s.SetStamp(context.Background(), sec.ID, "price_data_latest_date", domain.NewDate(2024, 1, 15)))
	reloaded, err := s.GetSecurityByID(context.Background(), sec.ID)
	require.NoError(t, err)

	task := &PriceIncrementTask{
		Store: s, Source: &fakePriceSource{}, Log: discard,
		Now: fixedNow(domain.NewDate(2024, 1, 15)),
	}
	status, err := task.Run(context.Background(), *reloaded)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccessUpToDate, status)
}

func TestPriceIncrementFullRunStampsFullData(t *testing.T) {
	s, _ := setupStore(t)
	sec := seed(t, s, "aapl", "", nil) // price_data_latest_date NULL forces a full run

	one := decimal.NewFromInt(1)
	source := &fakePriceSource{bars: []domain.PriceBar{
		{Date: domain.NewDate(2024, 1, 12), Open: one, High: one, Low: one, Close: one, Volume: 10},
		{Date: domain.NewDate(2024, 1, 10), Open: one, High: one, Low: one, Close: one, Volume: 10},
	}}
	task := &PriceIncrementTask{
		Store: s, Source: source, Log: discard,
		Now: fixedNow(domain.NewDate(2024, 1, 15)),
	}

	status, err := task.Run(context.Background(), sec)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, status)
	assert.Equal(t, "1970-01-01", source.gotStart.String())

	after, err := s.GetSecurityByID(context.Background(), sec.ID)
	require.NoError(t, err)
	require.NotNil(t, after.PriceDataLatestDate)
	assert.Equal(t, "2024-01-12", after.PriceDataLatestDate.String(), "stamp must be the max bar date")
	assert.NotNil(t, after.FullDataLastUpdatedAt)
}

func TestPriceIncrementSkipsWithoutEmCode(t *testing.T) {
	s, _ := setupStore(t)
	sec := seed(t, s, "nocode", "", nil)

	task := &PriceIncrementTask{Store: s, Source: &fakePriceSource{}, Log: discard, UseEmCode: true}
	status, err := task.Run(context.Background(), sec)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSkipped, status)
}

type fakeGroupedFetcher struct {
	bars []domain.GroupedBar
	err  error
}

func (f *fakeGroupedFetcher) FetchGroupedDaily(context.Context, domain.Date) ([]domain.GroupedBar, error) {
	return f.bars, f.err
}

func TestGroupedDailyReconciliation(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	sec := seed(t, s, "aapl", "105.AAPL", nil)
	date := domain.NewDate(2025, 6, 26)

	rate := decimal.RequireFromString("0.023")
	require.NoError(t, s.UpsertDailyPrices(ctx, sec.ID, []domain.PriceBar{{
		Date:         date,
		Open:         decimal.NewFromInt(1),
		High:         decimal.NewFromInt(2),
		Low:          decimal.RequireFromString("0.5"),
		Close:        decimal.RequireFromString("1.5"),
		Volume:       900,
		TurnoverRate: &rate,
	}}))

	vwap := decimal.RequireFromString("1.2")
	task := &GroupedDailyTask{
		Store: s,
		Fetcher: &fakeGroupedFetcher{bars: []domain.GroupedBar{
			{Symbol: "aapl", PriceBar: domain.PriceBar{
				Date:   date,
				Open:   decimal.RequireFromString("1.01"),
				High:   decimal.RequireFromString("2.01"),
				Low:    decimal.RequireFromString("0.6"),
				Close:  decimal.RequireFromString("1.55"),
				Volume: 1000,
				VWAP:   &vwap,
			}},
			{Symbol: "unknown", PriceBar: domain.PriceBar{Date: date}},
		}},
		Log:       discard,
		SymbolIDs: map[string]int64{"aapl": sec.ID},
	}

	status, err := task.Run(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, status)

	rec, err := s.GetDailyPrice(ctx, sec.ID, date)
	require.NoError(t, err)
	assert.Equal(t, "1.01", rec.Open.String())
	assert.Equal(t, "1.55", rec.Close.String())
	assert.Equal(t, int64(1000), rec.Volume)
	require.NotNil(t, rec.VWAP)
	assert.Equal(t, "1.2", rec.VWAP.String())
	require.NotNil(t, rec.TurnoverRate)
	assert.Equal(t, "0.023", rec.TurnoverRate.String(), "reprice must keep turnover_rate")
	assert.Equal(t, "1", rec.AdjFactor.String(), "reprice must keep adj_factor")
}

func TestGroupedDailySkipsWhenNoStoredRows(t *testing.T) {
	s, _ := setupStore(t)

	task := &GroupedDailyTask{Store: s, Fetcher: &fakeGroupedFetcher{}, Log: discard, SymbolIDs: map[string]int64{}}
	status, err := task.Run(context.Background(), domain.NewDate(2025, 6, 26))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSkipped, status)
}
