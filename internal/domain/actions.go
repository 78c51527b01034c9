package domain

import "github.com/shopspring/decimal"

// Dividend is one cash dividend event. ExDividendDate and CashAmount are
// required; vendor records missing either are filtered at the client
// boundary and never reach the store.
type Dividend struct {
	ExDividendDate  Date            `json:"ex_dividend_date"`
	DeclarationDate *Date           `json:"declaration_date,omitempty"`
	RecordDate      *Date           `json:"record_date,omitempty"`
	PayDate         *Date           `json:"pay_date,omitempty"`
	CashAmount      decimal.Decimal `json:"cash_amount"`
	Currency        string          `json:"currency,omitempty"` // 3-letter, uppercase
	Frequency       int             `json:"frequency,omitempty"`
}

// Split is one stock split event. ExecutionDate, SplitTo and SplitFrom are
// required; vendor records missing any are filtered at the client boundary.
type Split struct {
	ExecutionDate   Date            `json:"execution_date"`
	DeclarationDate *Date           `json:"declaration_date,omitempty"`
	SplitTo         decimal.Decimal `json:"split_to"`
	SplitFrom       decimal.Decimal `json:"split_from"`
}
