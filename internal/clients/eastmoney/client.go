// Package eastmoney implements the bulk-history vendor client. It serves
// daily kline bars keyed by the vendor's own security code (the em_code
// column, e.g. "105.AAPL" or "1.600519") and needs no API key; politeness
// is enforced with a jittered inter-request delay instead of a key budget.
package eastmoney

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/marketsync/internal/domain"
)

// DefaultBaseURL is the production kline endpoint host.
const DefaultBaseURL = "https://push2his.eastmoney.com"

// earliestSupportedDate is used as the start of full-refresh fetches. The
// vendor serves history well past any listed security's IPO.
var earliestSupportedDate = domain.NewDate(1970, 1, 1)

// klineFieldCount is the number of comma-separated values in one kline row.
const klineFieldCount = 11

// Client talks to the vendor kline API.
type Client struct {
	http  *resty.Client
	delay time.Duration
	log   zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Client. delay is the mean pause inserted before each
// request; the actual pause is jittered +-50%.
func New(baseURL string, timeout, delay time.Duration, log zerolog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Referer", "https://quote.eastmoney.com/")

	return &Client{
		http:  httpClient,
		delay: delay,
		log:   log.With().Str("component", "eastmoney").Logger(),
		sleep: sleepCtx,
	}
}

// EarliestSupportedDate returns the first date full refreshes start from.
func (c *Client) EarliestSupportedDate() domain.Date {
	return earliestSupportedDate
}

type klineResponse struct {
	Data *klineData `json:"data"`
}

type klineData struct {
	Code   string   `json:"code"`
	Klines []string `json:"klines"`
}

// FetchHistoricalPrices retrieves unadjusted daily bars for the security
// identified by emCode over the inclusive range [start, end]. A nil Data
// payload means the vendor has nothing for the range and yields an empty
// result.
func (c *Client) FetchHistoricalPrices(ctx context.Context, emCode string, start, end domain.Date) ([]domain.PriceBar, error) {
	if err := c.politeDelay(ctx); err != nil {
		return nil, err
	}

	var body klineResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"secid":   emCode,
			"klt":     "101", // daily bars
			"fqt":     "0",   // unadjusted
			"beg":     compactDate(start),
			"end":     compactDate(end),
			"fields1": "f1,f2,f3,f4,f5,f6",
			"fields2": "f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61",
		}).
		SetResult(&body).
		Get("/api/qt/stock/kline/get")
	if err != nil {
		return nil, fmt.Errorf("kline request for %s failed: %w", emCode, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("kline for %s: unexpected status %d", emCode, resp.StatusCode())
	}
	if body.Data == nil {
		return nil, nil
	}

	bars := make([]domain.PriceBar, 0, len(body.Data.Klines))
	for _, line := range body.Data.Klines {
		bar, err := parseKline(line)
		if err != nil {
			c.log.Warn().Str("em_code", emCode).Str("kline", line).Err(err).Msg("skipping malformed kline row")
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseKline decodes one comma-separated kline row:
// date,open,close,high,low,volume,turnover,amplitude,pct_change,change,turnover_rate
func parseKline(line string) (domain.PriceBar, error) {
	fields := strings.Split(line, ",")
	if len(fields) != klineFieldCount {
		return domain.PriceBar{}, fmt.Errorf("expected %d fields, got %d", klineFieldCount, len(fields))
	}

	date, err := domain.ParseDate(fields[0])
	if err != nil {
		return domain.PriceBar{}, err
	}

	dec := func(i int) (decimal.Decimal, error) {
		return decimal.NewFromString(fields[i])
	}

	open, err := dec(1)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("bad open: %w", err)
	}
	closePx, err := dec(2)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("bad close: %w", err)
	}
	high, err := dec(3)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("bad high: %w", err)
	}
	low, err := dec(4)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("bad low: %w", err)
	}
	volume, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("bad volume: %w", err)
	}
	turnover, err := dec(6)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("bad turnover: %w", err)
	}
	ratePct, err := dec(10)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("bad turnover rate: %w", err)
	}
	// The vendor reports turnover rate as a percentage.
	rate := ratePct.Div(decimal.NewFromInt(100))

	return domain.PriceBar{
		Date:         date,
		Open:         open,
		High:         high,
		Low:          low,
		Close:        closePx,
		Volume:       volume,
		Turnover:     &turnover,
		TurnoverRate: &rate,
	}, nil
}

// politeDelay pauses before a request so back-to-back fetches do not hammer
// the vendor. The pause is jittered uniformly over [0.5, 1.5] x delay and
// honors cancellation.
func (c *Client) politeDelay(ctx context.Context) error {
	if c.delay <= 0 {
		return nil
	}
	jittered := time.Duration(float64(c.delay) * (0.5 + rand.Float64()))
	return c.sleep(ctx, jittered)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func compactDate(d domain.Date) string {
	return strings.ReplaceAll(d.String(), "-", "")
}
