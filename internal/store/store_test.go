package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketsync/internal/database"
	"github.com/aristath/marketsync/internal/domain"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.New(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	return New(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
}

func seedSecurity(t *testing.T, s *Store, symbol, emCode string, patch domain.SecurityPatch) int64 {
	t.Helper()
	id, err := s.InsertSecurity(context.Background(), symbol, emCode, domain.MarketUS, domain.TypeStock, patch)
	require.NoError(t, err)
	return id
}

func TestUpdateSecurityPreservesAbsentColumns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id := seedSecurity(t, s, "aapl", "105.AAPL", domain.SecurityPatch{
		domain.ColName: "Apple Inc",
	})

	before, err := s.GetSecurityByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, before.InfoLastUpdatedAt)

	// Stamp advancement needs a clock that moved.
	s.now = func() time.Time { return time.Now().Add(time.Minute) }

	err = s.UpdateSecurity(ctx, id, domain.SecurityPatch{
		domain.ColName:        "Apple",
		domain.ColDescription: "Designs and sells consumer electronics.",
	})
	require.NoError(t, err)

	after, err := s.GetSecurityByID(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, "105.AAPL", after.EmCode, "absent em_code must survive the partial update")
	assert.Equal(t, "Apple", after.Name)
	assert.Equal(t, "Designs and sells consumer electronics.", after.Description)
	assert.True(t, after.InfoLastUpdatedAt.After(*before.InfoLastUpdatedAt))
}

func TestUpdateSecurityExplicitNullOverwrites(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id := seedSecurity(t, s, "msft", "", domain.SecurityPatch{
		domain.ColDescription: "Old description",
	})

	err := s.UpdateSecurity(ctx, id, domain.SecurityPatch{domain.ColDescription: nil})
	require.NoError(t, err)

	sec, err := s.GetSecurityByID(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, sec.Description)
}

func TestUpdateSecurityRejectsIdentityColumns(t *testing.T) {
	s := setupTestStore(t)
	id := seedSecurity(t, s, "aapl", "105.AAPL", nil)

	for _, col := range []string{"id", "symbol", "em_code", "info_last_updated_at", "evil; DROP TABLE securities"} {
		err := s.UpdateSecurity(context.Background(), id, domain.SecurityPatch{col: "x"})
		assert.Error(t, err, "column %q must be rejected", col)
	}
}

func TestUpdateSecurityMissingRow(t *testing.T) {
	s := setupTestStore(t)
	err := s.UpdateSecurity(context.Background(), 999, domain.SecurityPatch{domain.ColName: "x"})
	assert.ErrorIs(t, err, ErrSecurityNotFound)
}

func TestInsertSecurityAssignsJitteredInterval(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const draws = 320
	counts := make(map[int]int)
	for i := 0; i < draws; i++ {
		id, err := s.InsertSecurity(ctx, fmt.Sprintf("sym%d", i), "", domain.MarketUS, domain.TypeStock, nil)
		require.NoError(t, err)

		sec, err := s.GetSecurityByID(ctx, id)
		require.NoError(t, err)
		require.GreaterOrEqual(t, sec.FullRefreshInterval, fullRefreshIntervalMin)
		require.LessOrEqual(t, sec.FullRefreshInterval, fullRefreshIntervalMax)
		counts[sec.FullRefreshInterval]++
	}

	// 320 draws over 16 values averages 20 per value; every value should
	// appear and none should soak up the distribution.
	for v := fullRefreshIntervalMin; v <= fullRefreshIntervalMax; v++ {
		assert.Greater(t, counts[v], 0, "interval %d never drawn", v)
		assert.Less(t, counts[v], draws/4, "interval %d drawn far too often", v)
	}
}

func TestInsertSecurityExistingTuplePatchesInstead(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id := seedSecurity(t, s, "aapl", "105.AAPL", domain.SecurityPatch{domain.ColName: "Apple Inc"})

	again, err := s.InsertSecurity(ctx, "AAPL", "", domain.MarketUS, domain.TypeStock,
		domain.SecurityPatch{domain.ColName: "Apple"})
	require.NoError(t, err)
	assert.Equal(t, id, again, "same natural key must resolve to the same row")

	sec, err := s.GetSecurityByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Apple", sec.Name)
	assert.Equal(t, "105.AAPL", sec.EmCode)
}

func TestSetStampAllowList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	id := seedSecurity(t, s, "aapl", "", nil)

	err := s.SetStamp(ctx, id, "price_data_latest_date", domain.NewDate(2024, 1, 14))
	require.NoError(t, err)

	sec, err := s.GetSecurityByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, sec.PriceDataLatestDate)
	assert.Equal(t, "2024-01-14", sec.PriceDataLatestDate.String())

	// nil means "now" for timestamp columns.
	err = s.SetStamp(ctx, id, "actions_last_updated_at", nil)
	require.NoError(t, err)
	sec, err = s.GetSecurityByID(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, sec.ActionsLastUpdatedAt)

	err = s.SetStamp(ctx, id, "symbol", "hacked")
	assert.Error(t, err)
	err = s.SetStamp(ctx, id, "price_data_latest_date; DROP TABLE securities", nil)
	assert.Error(t, err)
}

func TestUpsertDividendsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	id := seedSecurity(t, s, "aapl", "", nil)

	div := domain.Dividend{
		ExDividendDate: domain.NewDate(2024, 2, 10),
		CashAmount:     decimal.RequireFromString("0.24"),
		Currency:       "USD",
	}

	require.NoError(t, s.UpsertDividends(ctx, id, []domain.Dividend{div}))
	require.NoError(t, s.UpsertDividends(ctx, id, []domain.Dividend{div}))

	n, err := s.CountDividends(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertDividendsBadRowDoesNotAbortBatch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	id := seedSecurity(t, s, "aapl", "", nil)

	good := domain.Dividend{
		ExDividendDate: domain.NewDate(2024, 2, 10),
		CashAmount:     decimal.RequireFromString("0.24"),
	}
	// References a nonexistent security, violating the foreign key.
	require.NoError(t, s.UpsertDividends(ctx, 424242, []domain.Dividend{good}))

	require.NoError(t, s.UpsertDividends(ctx, id, []domain.Dividend{good}))
	n, err := s.CountDividends(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertSplitsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	id := seedSecurity(t, s, "aapl", "", nil)

	split := domain.Split{
		ExecutionDate: domain.NewDate(2020, 8, 31),
		SplitTo:       decimal.NewFromInt(4),
		SplitFrom:     decimal.NewFromInt(1),
	}

	require.NoError(t, s.UpsertSplits(ctx, id, []domain.Split{split}))
	require.NoError(t, s.UpsertSplits(ctx, id, []domain.Split{split}))

	n, err := s.CountSplits(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertDailyPricesSelectiveMerge(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	id := seedSecurity(t, s, "aapl", "105.AAPL", nil)

	rate := decimal.RequireFromString("0.023")
	first := domain.PriceBar{
		Date:         domain.NewDate(2025, 6, 26),
		Open:         decimal.NewFromInt(1),
		High:         decimal.NewFromInt(2),
		Low:          decimal.RequireFromString("0.5"),
		Close:        decimal.RequireFromString("1.5"),
		Volume:       900,
		TurnoverRate: &rate,
	}
	require.NoError(t, s.UpsertDailyPrices(ctx, id, []domain.PriceBar{first}))

	// Second vendor rewrites OHLCV and adds vwap, but carries no
	// turnover_rate; the stored rate must survive.
	vwap := decimal.RequireFromString("1.2")
	second := domain.PriceBar{
		Date:   domain.NewDate(2025, 6, 26),
		Open:   decimal.RequireFromString("1.01"),
		High:   decimal.RequireFromString("2.01"),
		Low:    decimal.RequireFromString("0.6"),
		Close:  decimal.RequireFromString("1.55"),
		Volume: 1000,
		VWAP:   &vwap,
	}
	require.NoError(t, s.UpsertDailyPrices(ctx, id, []domain.PriceBar{second}))

	rec, err := s.GetDailyPrice(ctx, id, domain.NewDate(2025, 6, 26))
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "1.01", rec.Open.String())
	assert.Equal(t, "1.55", rec.Close.String())
	assert.Equal(t, int64(1000), rec.Volume)
	require.NotNil(t, rec.VWAP)
	assert.Equal(t, "1.2", rec.VWAP.String())
	require.NotNil(t, rec.TurnoverRate)
	assert.Equal(t, "0.023", rec.TurnoverRate.String())
	assert.Equal(t, "1", rec.AdjFactor.String())
}

func TestBulkUpdatePricesWritesAllColumns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	id := seedSecurity(t, s, "aapl", "", nil)

	rate := decimal.RequireFromString("0.023")
	bar := domain.PriceBar{
		Date:         domain.NewDate(2025, 6, 26),
		Open:         decimal.NewFromInt(1),
		High:         decimal.NewFromInt(2),
		Low:          decimal.RequireFromString("0.5"),
		Close:        decimal.RequireFromString("1.5"),
		Volume:       900,
		TurnoverRate: &rate,
	}
	require.NoError(t, s.UpsertDailyPrices(ctx, id, []domain.PriceBar{bar}))

	loaded, err := s.LoadPricesForDate(ctx, domain.NewDate(2025, 6, 26))
	require.NoError(t, err)
	rec, ok := loaded[id]
	require.True(t, ok)

	vwap := decimal.RequireFromString("1.2")
	turnover := decimal.NewFromInt(1200)
	rec.ApplyBar(domain.PriceBar{
		Open:     decimal.RequireFromString("1.01"),
		High:     decimal.RequireFromString("2.01"),
		Low:      decimal.RequireFromString("0.6"),
		Close:    decimal.RequireFromString("1.55"),
		Volume:   1000,
		VWAP:     &vwap,
		Turnover: &turnover,
	})
	require.NoError(t, s.BulkUpdatePrices(ctx, []*domain.DailyPrice{rec}))

	got, err := s.GetDailyPrice(ctx, id, domain.NewDate(2025, 6, 26))
	require.NoError(t, err)
	assert.Equal(t, "1.01", got.Open.String())
	require.NotNil(t, got.TurnoverRate)
	assert.Equal(t, "0.023", got.TurnoverRate.String(), "reprice must not disturb turnover_rate")
	assert.Equal(t, "1", got.AdjFactor.String(), "reprice must not disturb adj_factor")
}

func TestSymbolIDMap(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	aapl := seedSecurity(t, s, "aapl", "", nil)
	msft := seedSecurity(t, s, "msft", "", nil)
	inactive := seedSecurity(t, s, "dead", "", nil)
	require.NoError(t, s.UpdateSecurity(ctx, inactive, domain.SecurityPatch{domain.ColIsActive: false}))

	m, err := s.SymbolIDMap(ctx, domain.MarketUS)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"aapl": aapl, "msft": msft}, m)
}

func TestCalibratePriceStamps(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	id := seedSecurity(t, s, "aapl", "", nil)

	bars := []domain.PriceBar{
		{Date: domain.NewDate(2024, 1, 10), Open: decimal.NewFromInt(1), High: decimal.NewFromInt(1),
			Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(1), Volume: 1},
		{Date: domain.NewDate(2024, 1, 12), Open: decimal.NewFromInt(1), High: decimal.NewFromInt(1),
			Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(1), Volume: 1},
	}
	require.NoError(t, s.UpsertDailyPrices(ctx, id, bars))

	// Stamp is behind the actual data.
	require.NoError(t, s.SetStamp(ctx, id, "price_data_latest_date", domain.NewDate(2024, 1, 2)))

	changed, err := s.CalibratePriceStamps(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	sec, err := s.GetSecurityByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, sec.PriceDataLatestDate)
	assert.Equal(t, "2024-01-12", sec.PriceDataLatestDate.String())

	// Second run is a no-op.
	changed, err = s.CalibratePriceStamps(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), changed)
}
