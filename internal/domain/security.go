// Package domain defines the canonical records the pipeline moves between
// vendor clients, the store and the task workers. Vendor payloads are
// normalized into these shapes at the client boundary; nothing downstream
// sees a vendor-specific field name.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Security is one tradable instrument as stored in the securities table.
// Optional columns use pointers (nil = NULL in the database).
type Security struct {
	ID     int64  `json:"id"`
	Symbol string `json:"symbol"` // canonical lowercase ticker
	EmCode string `json:"em_code,omitempty"`

	Name           string           `json:"name,omitempty"`
	Market         string           `json:"market"` // normalized vocabulary, e.g. "US", "HK", "CNA"
	Type           string           `json:"type"`   // normalized vocabulary, e.g. "STOCK", "ETF"
	Exchange       string           `json:"exchange,omitempty"`
	Currency       string           `json:"currency,omitempty"`
	CIK            string           `json:"cik,omitempty"`
	CompositeFIGI  string           `json:"composite_figi,omitempty"`
	ShareClassFIGI string           `json:"share_class_figi,omitempty"`
	MarketCap      *decimal.Decimal `json:"market_cap,omitempty"`
	Sector         string           `json:"sector,omitempty"`
	Industry       string           `json:"industry,omitempty"`
	Description    string           `json:"description,omitempty"`
	HomepageURL    string           `json:"homepage_url,omitempty"`
	TotalEmployees *int64           `json:"total_employees,omitempty"`
	SICCode        string           `json:"sic_code,omitempty"`
	AddressLine1   string           `json:"address_line1,omitempty"`
	City           string           `json:"city,omitempty"`
	State          string           `json:"state,omitempty"`
	PostalCode     string           `json:"postal_code,omitempty"`
	LogoURL        string           `json:"logo_url,omitempty"`
	IconURL        string           `json:"icon_url,omitempty"`

	IsActive   bool  `json:"is_active"`
	ListDate   *Date `json:"list_date,omitempty"`
	DelistDate *Date `json:"delist_date,omitempty"`

	// Freshness stamps, owned by the store.
	InfoLastUpdatedAt     *time.Time `json:"info_last_updated_at,omitempty"`
	PriceDataLatestDate   *Date      `json:"price_data_latest_date,omitempty"`
	FullDataLastUpdatedAt *time.Time `json:"full_data_last_updated_at,omitempty"`
	ActionsLastUpdatedAt  *time.Time `json:"actions_last_updated_at,omitempty"`

	// FullRefreshInterval is the per-row jittered period, in days, between
	// automatic full-history refreshes. Drawn uniformly from [25,40] when the
	// row is created so the fleet's expensive refreshes spread across days.
	FullRefreshInterval int `json:"full_refresh_interval"`
}

// SecurityPatch is the set of securities columns one vendor fetch supplied.
// Only keys present in the patch are written on upsert; a key whose value is
// nil overwrites the column with NULL. Keys are validated by the store
// against its column allow-list before any SQL is built.
//
// The map-of-present-columns shape is what makes the selective-field merge
// possible: one vendor supplies cik but never em_code, another the reverse,
// and neither may erase the other's contribution.
type SecurityPatch map[string]any

// Column names accepted in a SecurityPatch. The id / symbol / em_code
// identity columns are deliberately absent: they are never updatable through
// the patch path.
const (
	ColName           = "name"
	ColMarket         = "market"
	ColType           = "type"
	ColExchange       = "exchange"
	ColCurrency       = "currency"
	ColCIK            = "cik"
	ColCompositeFIGI  = "composite_figi"
	ColShareClassFIGI = "share_class_figi"
	ColMarketCap      = "market_cap"
	ColSector         = "sector"
	ColIndustry       = "industry"
	ColDescription    = "description"
	ColHomepageURL    = "homepage_url"
	ColTotalEmployees = "total_employees"
	ColSICCode        = "sic_code"
	ColAddressLine1   = "address_line1"
	ColCity           = "city"
	ColState          = "state"
	ColPostalCode     = "postal_code"
	ColLogoURL        = "logo_url"
	ColIconURL        = "icon_url"
	ColIsActive       = "is_active"
	ColListDate       = "list_date"
	ColDelistDate     = "delist_date"
)
