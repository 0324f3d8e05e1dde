// Package billing holds the money arithmetic shared by the API handlers
// and the render worker. Totals are computed once, server side, and stored
// on the invoice row; the PDF renderer draws them verbatim.
package billing

import (
	"fmt"
	"math"
)

// LineItem is the stored form of one invoice/estimate row (JSONB column).
type LineItem struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	ProductID   *uint   `json:"product_id,omitempty"`
}

// Totals is the computed money summary of a document.
type Totals struct {
	Subtotal float64
	Tax      float64
	Total    float64
}

// Sanitize folds NaN, infinities and negatives to zero. Malformed input
// becomes a zero amount rather than an error, matching the renderer.
func Sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// Round2 rounds to two decimal places for storage and display.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ComputeTotals applies the tax contract: subtotal is the sum of sanitized
// quantity*price, tax is subtotal times the snapshot rate percent, total is
// their sum.
func ComputeTotals(items []LineItem, ratePercent float64) Totals {
	var subtotal float64
	for _, item := range items {
		subtotal += Sanitize(item.Quantity) * Sanitize(item.UnitPrice)
	}
	subtotal = Round2(subtotal)
	tax := Round2(subtotal * Sanitize(ratePercent) / 100)
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    Round2(subtotal + tax),
	}
}

// TaxLabel names the tax row on rendered documents, e.g. "Tax (17%)".
func TaxLabel(ratePercent float64) string {
	rate := Sanitize(ratePercent)
	if rate == math.Trunc(rate) {
		return fmt.Sprintf("Tax (%.0f%%)", rate)
	}
	return fmt.Sprintf("Tax (%.2f%%)", rate)
}
