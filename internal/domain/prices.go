package domain

import "github.com/shopspring/decimal"

// PriceBar is one vendor-neutral daily OHLCV record. Prices are unadjusted.
// Optional fields are nil when the vendor does not supply them; the store's
// upsert leaves absent fields untouched on existing rows.
type PriceBar struct {
	Date         Date             `json:"date"`
	Open         decimal.Decimal  `json:"open"`
	High         decimal.Decimal  `json:"high"`
	Low          decimal.Decimal  `json:"low"`
	Close        decimal.Decimal  `json:"close"`
	Volume       int64            `json:"volume"`
	Turnover     *decimal.Decimal `json:"turnover,omitempty"`
	VWAP         *decimal.Decimal `json:"vwap,omitempty"`
	TurnoverRate *decimal.Decimal `json:"turnover_rate,omitempty"` // fraction in [0,1]
}

// GroupedBar is one entry of a grouped-daily payload: a PriceBar plus the
// vendor's symbol for that instrument on that date.
type GroupedBar struct {
	Symbol string `json:"symbol"` // lowercase
	PriceBar
}

// DailyPrice is one fully-loaded daily_prices row. The grouped-daily path
// loads rows into memory, mutates the OHLCV fields in place and writes the
// whole record back, which is how turnover_rate and adj_factor survive a
// reprice by a vendor that does not supply them.
type DailyPrice struct {
	SecurityID   int64            `json:"security_id"`
	Date         Date             `json:"date"`
	Open         decimal.Decimal  `json:"open"`
	High         decimal.Decimal  `json:"high"`
	Low          decimal.Decimal  `json:"low"`
	Close        decimal.Decimal  `json:"close"`
	Volume       int64            `json:"volume"`
	Turnover     *decimal.Decimal `json:"turnover,omitempty"`
	VWAP         *decimal.Decimal `json:"vwap,omitempty"`
	TurnoverRate *decimal.Decimal `json:"turnover_rate,omitempty"`
	AdjFactor    decimal.Decimal  `json:"adj_factor"`
}

// ApplyBar overwrites the price fields a grouped-daily vendor supplies,
// leaving turnover_rate and adj_factor untouched.
func (p *DailyPrice) ApplyBar(bar PriceBar) {
	p.Open = bar.Open
	p.High = bar.High
	p.Low = bar.Low
	p.Close = bar.Close
	p.Volume = bar.Volume
	p.VWAP = bar.VWAP
	p.Turnover = bar.Turnover
}
