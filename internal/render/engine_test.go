package render

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DisableCompression = true
	return cfg
}

func sampleData(items int) DocumentData {
	data := DocumentData{
		Kind:     KindInvoice,
		Number:   "INV-0042",
		Template: "classic",
		Recipient: Recipient{
			Name:    "Jane Doe",
			Company: "Doe Hardware",
			Phone:   "555-0142",
			Email:   "jane@doehardware.test",
		},
		IssueDate: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Business: BusinessInfo{
			Name:    "Acme Services",
			Address: "12 Main Street\nSpringfield",
			Website: "acme.test",
			Email:   "billing@acme.test",
		},
		Sender: SenderInfo{SignerName: "A. Coyote"},
	}
	for i := 0; i < items; i++ {
		data.Items = append(data.Items, LineItem{
			Name:        "Widget",
			Description: "Standard widget",
			Quantity:    2,
			UnitPrice:   9.5,
		})
	}
	data.Subtotal = float64(items) * 19
	data.TaxAmount = data.Subtotal * 0.17
	data.Total = data.Subtotal + data.TaxAmount
	data.TaxLabel = "Tax (17%)"
	return data
}

func TestRenderSmallDocumentSinglePage(t *testing.T) {
	doc := Render(context.Background(), testConfig(), sampleData(3))

	if doc == nil {
		t.Fatal("expected a document")
	}
	if doc.Degraded {
		t.Fatal("render unexpectedly degraded")
	}
	if doc.Pages != 1 {
		t.Fatalf("expected 1 page, got %d", doc.Pages)
	}
	if len(doc.Bytes) == 0 {
		t.Fatal("expected pdf bytes")
	}
}

func TestRenderPaginatesLongItemTable(t *testing.T) {
	small := Render(context.Background(), testConfig(), sampleData(3))
	large := Render(context.Background(), testConfig(), sampleData(60))

	if large.Degraded {
		t.Fatal("render unexpectedly degraded")
	}
	if large.Pages < 2 {
		t.Fatalf("expected at least 2 pages for 60 items, got %d", large.Pages)
	}
	if large.Pages <= small.Pages {
		t.Fatalf("expected more pages for 60 items than for 3 (%d vs %d)", large.Pages, small.Pages)
	}
}

func TestRenderPageCountGrowsMonotonically(t *testing.T) {
	prev := 0
	for _, n := range []int{3, 60, 150} {
		doc := Render(context.Background(), testConfig(), sampleData(n))
		if doc.Degraded {
			t.Fatalf("render with %d items degraded", n)
		}
		if doc.Pages < prev {
			t.Fatalf("page count shrank: %d items -> %d pages (previous %d)", n, doc.Pages, prev)
		}
		prev = doc.Pages
	}
}

// Templates with a decorative top band must paint it on every page of the
// document, not just the first. With identical layout parameters the banded
// variant draws exactly one extra filled rectangle per page.
func TestTopBandDrawnOnEveryPage(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	data := sampleData(60)

	plain := StyleFor("classic")
	banded := plain
	banded.TopBand = true
	banded.TopBandSize = 3

	plainDoc, err := layoutDocument(ctx, cfg, plain, data)
	if err != nil {
		t.Fatalf("layout without band: %v", err)
	}
	bandedDoc, err := layoutDocument(ctx, cfg, banded, data)
	if err != nil {
		t.Fatalf("layout with band: %v", err)
	}

	if plainDoc.Pages < 2 || bandedDoc.Pages != plainDoc.Pages {
		t.Fatalf("expected identical multi-page layouts, got %d vs %d pages", plainDoc.Pages, bandedDoc.Pages)
	}

	fills := func(doc *RenderedDocument) int { return bytes.Count(doc.Bytes, []byte("re f")) }
	if got, want := fills(bandedDoc)-fills(plainDoc), bandedDoc.Pages; got != want {
		t.Fatalf("band drawn on %d pages of %d", got, want)
	}
}

func TestRenderCoercesInvalidNumbers(t *testing.T) {
	data := sampleData(1)
	data.Items[0].Quantity = math.NaN()
	data.Items[0].UnitPrice = 9.99

	doc := Render(context.Background(), testConfig(), data)
	if doc.Degraded {
		t.Fatal("malformed line item must not degrade the render")
	}
	if !bytes.Contains(doc.Bytes, []byte("(0)")) {
		t.Fatal("expected coerced quantity 0 in page content")
	}
	if !bytes.Contains(doc.Bytes, []byte("(0.00)")) {
		t.Fatal("expected coerced row total 0.00 in page content")
	}
}

func TestCoerceNumber(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{math.NaN(), 0},
		{math.Inf(1), 0},
		{math.Inf(-1), 0},
		{-3.5, 0},
		{0, 0},
		{2.25, 2.25},
	}
	for _, tc := range cases {
		if got := coerceNumber(tc.in); got != tc.want {
			t.Fatalf("coerceNumber(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFormatQuantity(t *testing.T) {
	if got := formatQuantity(3); got != "3" {
		t.Fatalf("formatQuantity(3) = %q", got)
	}
	if got := formatQuantity(2.5); got != "2.50" {
		t.Fatalf("formatQuantity(2.5) = %q", got)
	}
}

func TestShortPolicyStaysOnLastPage(t *testing.T) {
	data := sampleData(3)
	data.Business.Policy = strings.Repeat("Paid in full. ", 6) // well under threshold

	doc := Render(context.Background(), testConfig(), data)
	if doc.Degraded {
		t.Fatal("render unexpectedly degraded")
	}
	if doc.Pages != 1 {
		t.Fatalf("short policy should stay on the single page, got %d pages", doc.Pages)
	}
}

func TestLongPolicyMovesToOwnPage(t *testing.T) {
	base := sampleData(3)
	short := base
	short.Business.Policy = "Net 30."
	long := base
	long.Business.Policy = strings.Repeat("All goods remain property of the seller until paid in full. ", 45)

	shortDoc := Render(context.Background(), testConfig(), short)
	longDoc := Render(context.Background(), testConfig(), long)

	if longDoc.Degraded || shortDoc.Degraded {
		t.Fatal("render unexpectedly degraded")
	}
	if longDoc.Pages <= shortDoc.Pages {
		t.Fatalf("long policy should add at least one page (%d vs %d)", longDoc.Pages, shortDoc.Pages)
	}
}

func TestRenderEstimateFraming(t *testing.T) {
	data := sampleData(2)
	data.Kind = KindEstimate
	data.Number = "EST-0007"

	doc := Render(context.Background(), testConfig(), data)
	if doc.Degraded {
		t.Fatal("render unexpectedly degraded")
	}
	if !bytes.Contains(doc.Bytes, []byte("Estimate")) {
		t.Fatal("expected estimate title in page content")
	}
}
