package api

import "github.com/shopspring/decimal"

// dollars renders a float64 dollar amount as a decimal string rounded to
// cents, avoiding the binary-float artifacts (e.g. "19.999999999999996")
// that a bare float64-to-JSON encode would otherwise surface in API
// responses for position sizing and P&L.
func dollars(v float64) string {
	return decimal.NewFromFloat(v).Round(2).StringFixed(2)
}
