// Package polygon implements the reference-data vendor client. It covers
// security details, dividends, splits, unadjusted daily aggregates, whole
// market grouped daily bars and market status. Every outbound request first
// obtains an API key from the shared rate limiter.
package polygon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/marketsync/internal/clients"
	"github.com/aristath/marketsync/internal/domain"
	"github.com/aristath/marketsync/internal/ratelimit"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.polygon.io"

// earliestSupportedDate is the vendor's historical data floor, used as the
// start of full-refresh price fetches.
var earliestSupportedDate = domain.NewDate(2003, 9, 10)

// aggLimit is the maximum bar count per aggregates request.
const aggLimit = 50000

// Client talks to the vendor REST API.
type Client struct {
	http    *resty.Client
	limiter *ratelimit.KeyLimiter
	log     zerolog.Logger
}

// New creates a Client. All requests share limiter for key scheduling.
func New(baseURL string, timeout time.Duration, limiter *ratelimit.KeyLimiter, log zerolog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:    httpClient,
		limiter: limiter,
		log:     log.With().Str("component", "polygon").Logger(),
	}
}

// EarliestSupportedDate returns the first date the vendor serves bars for.
func (c *Client) EarliestSupportedDate() domain.Date {
	return earliestSupportedDate
}

// get performs one rate-limited GET. The acquired key is sent as the apiKey
// query parameter. url may be a path relative to the base URL or an
// absolute pagination URL returned by the vendor.
func (c *Client) get(ctx context.Context, url string, params map[string]string, out any) (*resty.Response, error) {
	key, err := c.limiter.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire rate limit slot: %w", err)
	}

	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("apiKey", key).
		SetResult(out)
	for k, v := range params {
		req.SetQueryParam(k, v)
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		// A 429 on a budgeted key means the limiter's rate/window settings
		// disagree with the vendor's actual budget.
		c.log.Error().
			Bool("misconfigured_limiter", true).
			Str("key", key).
			Str("url", url).
			Msg("vendor returned 429 despite local rate limiting")
		return resp, &clients.RateLimitedError{Vendor: "polygon", Key: key}
	}

	return resp, nil
}

type tickerDetailsResponse struct {
	Status  string        `json:"status"`
	Results tickerDetails `json:"results"`
}

type tickerDetails struct {
	Ticker          string           `json:"ticker"`
	Name            string           `json:"name"`
	Market          string           `json:"market"`
	Type            string           `json:"type"`
	PrimaryExchange string           `json:"primary_exchange"`
	CurrencyName    string           `json:"currency_name"`
	CIK             string           `json:"cik"`
	CompositeFIGI   string           `json:"composite_figi"`
	ShareClassFIGI  string           `json:"share_class_figi"`
	MarketCap       *decimal.Decimal `json:"market_cap"`
	SICCode         string           `json:"sic_code"`
	SICDescription  string           `json:"sic_description"`
	Description     string           `json:"description"`
	HomepageURL     string           `json:"homepage_url"`
	TotalEmployees  *int64           `json:"total_employees"`
	ListDate        string           `json:"list_date"`
	DelistedUTC     string           `json:"delisted_utc"`
	Active          *bool            `json:"active"`
	Address         struct {
		Address1   string `json:"address1"`
		City       string `json:"city"`
		State      string `json:"state"`
		PostalCode string `json:"postal_code"`
	} `json:"address"`
	Branding struct {
		LogoURL string `json:"logo_url"`
		IconURL string `json:"icon_url"`
	} `json:"branding"`
}

// FetchSecurityInfo retrieves reference details for symbol. A vendor 404
// yields clients.ErrNotFound: the symbol is simply unknown to the vendor.
func (c *Client) FetchSecurityInfo(ctx context.Context, symbol string) (domain.SecurityPatch, error) {
	var body tickerDetailsResponse
	resp, err := c.get(ctx, "/v3/reference/tickers/"+symbol, nil, &body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("ticker details for %s: %w", symbol, clients.ErrNotFound)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ticker details for %s: unexpected status %d", symbol, resp.StatusCode())
	}

	return c.detailsToPatch(symbol, body.Results), nil
}

func (c *Client) detailsToPatch(symbol string, d tickerDetails) domain.SecurityPatch {
	patch := domain.SecurityPatch{}

	setIfNotEmpty := func(col, val string) {
		if val != "" {
			patch[col] = val
		}
	}

	setIfNotEmpty(domain.ColName, d.Name)
	setIfNotEmpty(domain.ColExchange, d.PrimaryExchange)
	setIfNotEmpty(domain.ColCurrency, d.CurrencyName)
	setIfNotEmpty(domain.ColCIK, d.CIK)
	setIfNotEmpty(domain.ColCompositeFIGI, d.CompositeFIGI)
	setIfNotEmpty(domain.ColShareClassFIGI, d.ShareClassFIGI)
	setIfNotEmpty(domain.ColSICCode, d.SICCode)
	setIfNotEmpty(domain.ColIndustry, d.SICDescription)
	setIfNotEmpty(domain.ColDescription, d.Description)
	setIfNotEmpty(domain.ColHomepageURL, d.HomepageURL)
	setIfNotEmpty(domain.ColAddressLine1, d.Address.Address1)
	setIfNotEmpty(domain.ColCity, d.Address.City)
	setIfNotEmpty(domain.ColState, d.Address.State)
	setIfNotEmpty(domain.ColPostalCode, d.Address.PostalCode)
	setIfNotEmpty(domain.ColLogoURL, d.Branding.LogoURL)
	setIfNotEmpty(domain.ColIconURL, d.Branding.IconURL)

	if d.Market != "" {
		market, known := domain.NormalizeMarket(d.Market)
		if !known {
			c.log.Warn().Str("symbol", symbol).Str("market", d.Market).Msg("unrecognized market value")
		}
		patch[domain.ColMarket] = market
	}
	if d.Type != "" {
		typ, known := domain.NormalizeAssetType(d.Type)
		if !known {
			c.log.Warn().Str("symbol", symbol).Str("type", d.Type).Msg("unrecognized asset type")
		}
		patch[domain.ColType] = typ
	}

	if d.MarketCap != nil {
		patch[domain.ColMarketCap] = *d.MarketCap
	}
	if d.TotalEmployees != nil {
		patch[domain.ColTotalEmployees] = *d.TotalEmployees
	}
	if d.Active != nil {
		patch[domain.ColIsActive] = *d.Active
	}

	if d.ListDate != "" {
		if date, err := domain.ParseDate(d.ListDate); err == nil {
			patch[domain.ColListDate] = date
		} else {
			c.log.Warn().Str("symbol", symbol).Str("list_date", d.ListDate).Msg("unparseable list date")
		}
	}
	if d.DelistedUTC != "" {
		// Delist timestamps arrive as RFC3339; only the date part matters.
		if ts, err := time.Parse(time.RFC3339, d.DelistedUTC); err == nil {
			patch[domain.ColDelistDate] = domain.DateOf(ts)
		} else {
			c.log.Warn().Str("symbol", symbol).Str("delisted_utc", d.DelistedUTC).Msg("unparseable delist timestamp")
		}
	}

	return patch
}

type dividendsResponse struct {
	Results []dividendRecord `json:"results"`
	NextURL string           `json:"next_url"`
}

type dividendRecord struct {
	ExDividendDate  string           `json:"ex_dividend_date"`
	DeclarationDate string           `json:"declaration_date"`
	RecordDate      string           `json:"record_date"`
	PayDate         string           `json:"pay_date"`
	CashAmount      *decimal.Decimal `json:"cash_amount"`
	Currency        string           `json:"currency"`
	Frequency       int              `json:"frequency"`
}

// FetchDividends retrieves all cash dividends for symbol, following the
// vendor's cursor pagination. Records lacking an ex-dividend date or cash
// amount are dropped.
func (c *Client) FetchDividends(ctx context.Context, symbol string) ([]domain.Dividend, error) {
	var out []domain.Dividend

	url := "/v3/reference/dividends"
	params := map[string]string{"ticker": symbol, "limit": "1000"}
	for url != "" {
		var body dividendsResponse
		resp, err := c.get(ctx, url, params, &body)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("dividends for %s: unexpected status %d", symbol, resp.StatusCode())
		}

		for _, rec := range body.Results {
			if rec.ExDividendDate == "" || rec.CashAmount == nil {
				continue
			}
			exDate, err := domain.ParseDate(rec.ExDividendDate)
			if err != nil {
				c.log.Warn().Str("symbol", symbol).Str("ex_dividend_date", rec.ExDividendDate).Msg("skipping dividend with bad date")
				continue
			}
			out = append(out, domain.Dividend{
				ExDividendDate:  exDate,
				DeclarationDate: parseOptionalDate(rec.DeclarationDate),
				RecordDate:      parseOptionalDate(rec.RecordDate),
				PayDate:         parseOptionalDate(rec.PayDate),
				CashAmount:      *rec.CashAmount,
				Currency:        rec.Currency,
				Frequency:       rec.Frequency,
			})
		}

		// Cursor URLs are absolute and already carry the query string.
		url = body.NextURL
		params = nil
	}

	return out, nil
}

type splitsResponse struct {
	Results []splitRecord `json:"results"`
	NextURL string        `json:"next_url"`
}

type splitRecord struct {
	ExecutionDate   string           `json:"execution_date"`
	DeclarationDate string           `json:"declaration_date"`
	SplitTo         *decimal.Decimal `json:"split_to"`
	SplitFrom       *decimal.Decimal `json:"split_from"`
}

// FetchSplits retrieves all stock splits for symbol. Records lacking an
// execution date or split_to ratio are dropped.
func (c *Client) FetchSplits(ctx context.Context, symbol string) ([]domain.Split, error) {
	var out []domain.Split

	url := "/v3/reference/splits"
	params := map[string]string{"ticker": symbol, "limit": "1000"}
	for url != "" {
		var body splitsResponse
		resp, err := c.get(ctx, url, params, &body)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("splits for %s: unexpected status %d", symbol, resp.StatusCode())
		}

		for _, rec := range body.Results {
			if rec.ExecutionDate == "" || rec.SplitTo == nil {
				continue
			}
			execDate, err := domain.ParseDate(rec.ExecutionDate)
			if err != nil {
				c.log.Warn().Str("symbol", symbol).Str("execution_date", rec.ExecutionDate).Msg("skipping split with bad date")
				continue
			}
			splitFrom := decimal.NewFromInt(1)
			if rec.SplitFrom != nil {
				splitFrom = *rec.SplitFrom
			}
			out = append(out, domain.Split{
				ExecutionDate:   execDate,
				DeclarationDate: parseOptionalDate(rec.DeclarationDate),
				SplitTo:         *rec.SplitTo,
				SplitFrom:       splitFrom,
			})
		}

		url = body.NextURL
		params = nil
	}

	return out, nil
}

type aggsResponse struct {
	ResultsCount int         `json:"resultsCount"`
	Results      []aggRecord `json:"results"`
}

type aggRecord struct {
	Timestamp int64            `json:"t"` // epoch milliseconds
	Open      decimal.Decimal  `json:"o"`
	High      decimal.Decimal  `json:"h"`
	Low       decimal.Decimal  `json:"l"`
	Close     decimal.Decimal  `json:"c"`
	Volume    decimal.Decimal  `json:"v"`
	VWAP      *decimal.Decimal `json:"vw"`
	Ticker    string           `json:"T"`
}

// FetchHistoricalPrices retrieves unadjusted daily bars for symbol over the
// inclusive range [start, end]. An empty range result is not an error.
func (c *Client) FetchHistoricalPrices(ctx context.Context, symbol string, start, end domain.Date) ([]domain.PriceBar, error) {
	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/day/%s/%s", symbol, start, end)
	params := map[string]string{
		"adjusted": "false",
		"sort":     "asc",
		"limit":    fmt.Sprintf("%d", aggLimit),
	}

	var body aggsResponse
	resp, err := c.get(ctx, path, params, &body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("aggregates for %s: unexpected status %d", symbol, resp.StatusCode())
	}

	bars := make([]domain.PriceBar, 0, len(body.Results))
	for _, rec := range body.Results {
		bars = append(bars, rec.toPriceBar())
	}
	return bars, nil
}

func (r aggRecord) toPriceBar() domain.PriceBar {
	ts := time.UnixMilli(r.Timestamp).UTC()
	bar := domain.PriceBar{
		Date:   domain.DateOf(ts),
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume.IntPart(),
	}
	if r.VWAP != nil {
		vwap := *r.VWAP
		bar.VWAP = &vwap
		// Turnover is not served directly; approximate it as vwap x volume.
		turnover := vwap.Mul(r.Volume)
		bar.Turnover = &turnover
	}
	return bar
}

// FetchGroupedDaily retrieves one bar for every instrument the vendor
// tracked on day. A 404 means a non-trading day and yields an empty result.
func (c *Client) FetchGroupedDaily(ctx context.Context, day domain.Date) ([]domain.GroupedBar, error) {
	path := "/v2/aggs/grouped/locale/us/market/stocks/" + day.String()
	params := map[string]string{"adjusted": "false"}

	var body aggsResponse
	resp, err := c.get(ctx, path, params, &body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("grouped daily for %s: unexpected status %d", day, resp.StatusCode())
	}

	bars := make([]domain.GroupedBar, 0, len(body.Results))
	for _, rec := range body.Results {
		if rec.Ticker == "" {
			continue
		}
		bar := rec.toPriceBar()
		bar.Date = day
		bars = append(bars, domain.GroupedBar{
			Symbol:   domain.NormalizeSymbol(rec.Ticker),
			PriceBar: bar,
		})
	}
	return bars, nil
}

type marketStatusResponse struct {
	Market string `json:"market"`
}

// IsMarketOpen reports whether the vendor's equities market is in a regular
// trading session right now.
func (c *Client) IsMarketOpen(ctx context.Context) (bool, error) {
	var body marketStatusResponse
	resp, err := c.get(ctx, "/v1/marketstatus/now", nil, &body)
	if err != nil {
		return false, err
	}
	if resp.IsError() {
		return false, fmt.Errorf("market status: unexpected status %d", resp.StatusCode())
	}
	return body.Market == "open", nil
}

func parseOptionalDate(s string) *domain.Date {
	if s == "" {
		return nil
	}
	d, err := domain.ParseDate(s)
	if err != nil {
		return nil
	}
	return &d
}
