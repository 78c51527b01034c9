package domain

import "strings"

// Controlled vocabulary for Security.Market. Markets are free-form strings
// normalized at vendor boundaries; these are the values the pipeline itself
// produces. Unknown vendor values pass through raw (the caller logs them).
const (
	MarketUS    = "US"
	MarketHK    = "HK"
	MarketCNA   = "CNA"
	MarketIndex = "INDEX"
)

// Controlled vocabulary for Security.Type.
const (
	TypeStock      = "STOCK"
	TypeETF        = "ETF"
	TypeIndex      = "INDEX"
	TypeADR        = "ADR"
	TypeWarrant    = "WARRANT"
	TypePreferred  = "PREFERRED"
	TypeMutualFund = "MUTUAL_FUND"
	TypeOTC        = "OTC"
)

// NormalizeSymbol lowercases and trims a vendor ticker into the canonical
// internal symbol.
func NormalizeSymbol(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeMarket maps a vendor locale/market string to the controlled
// vocabulary. Returns the normalized value and whether the input was
// recognized; unrecognized inputs come back unchanged.
func NormalizeMarket(raw string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "US", "USA", "STOCKS", "GLOBAL":
		return MarketUS, true
	case "HK", "HKEX":
		return MarketHK, true
	case "CN", "CNA", "SH", "SZ":
		return MarketCNA, true
	case "INDEX":
		return MarketIndex, true
	default:
		return raw, false
	}
}

// NormalizeAssetType maps a vendor instrument type to the controlled
// vocabulary. Returns the normalized value and whether the input was
// recognized; unrecognized inputs come back unchanged.
func NormalizeAssetType(raw string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CS", "STOCK", "EQUITY":
		return TypeStock, true
	case "ETF", "ETN", "ETV", "FUND":
		return TypeETF, true
	case "INDEX":
		return TypeIndex, true
	case "ADRC", "ADRP", "ADRR", "ADR":
		return TypeADR, true
	case "WARRANT":
		return TypeWarrant, true
	case "PREFERRED STOCK", "PREFERRED":
		return TypePreferred, true
	case "MUTUAL FUND", "MUTUAL_FUND":
		return TypeMutualFund, true
	case "OS", "OTC":
		return TypeOTC, true
	default:
		return raw, false
	}
}
