package billing

import (
	"math"
	"testing"
)

func TestComputeTotals(t *testing.T) {
	items := []LineItem{
		{Name: "Widget", Quantity: 2, UnitPrice: 9.5},
		{Name: "Gadget", Quantity: 1, UnitPrice: 31},
	}

	got := ComputeTotals(items, 17)
	if got.Subtotal != 50 {
		t.Fatalf("subtotal = %v, want 50", got.Subtotal)
	}
	if got.Tax != 8.5 {
		t.Fatalf("tax = %v, want 8.5", got.Tax)
	}
	if got.Total != 58.5 {
		t.Fatalf("total = %v, want 58.5", got.Total)
	}
}

func TestComputeTotalsSanitizesInput(t *testing.T) {
	items := []LineItem{
		{Name: "Broken", Quantity: math.NaN(), UnitPrice: 9.99},
		{Name: "Negative", Quantity: -4, UnitPrice: 10},
		{Name: "Fine", Quantity: 3, UnitPrice: 5},
	}

	got := ComputeTotals(items, 10)
	if got.Subtotal != 15 {
		t.Fatalf("subtotal = %v, want 15", got.Subtotal)
	}
	if got.Total != 16.5 {
		t.Fatalf("total = %v, want 16.5", got.Total)
	}
}

func TestComputeTotalsZeroRate(t *testing.T) {
	got := ComputeTotals([]LineItem{{Quantity: 1, UnitPrice: 100}}, 0)
	if got.Tax != 0 || got.Total != 100 {
		t.Fatalf("zero-rate totals = %+v", got)
	}
}

func TestTaxLabel(t *testing.T) {
	if got := TaxLabel(17); got != "Tax (17%)" {
		t.Fatalf("TaxLabel(17) = %q", got)
	}
	if got := TaxLabel(8.25); got != "Tax (8.25%)" {
		t.Fatalf("TaxLabel(8.25) = %q", got)
	}
	if got := TaxLabel(math.NaN()); got != "Tax (0%)" {
		t.Fatalf("TaxLabel(NaN) = %q", got)
	}
}
