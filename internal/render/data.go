package render

import "time"

// Document kinds. The kind only changes the title framing; layout is shared.
const (
	KindInvoice  = "invoice"
	KindEstimate = "estimate"
)

// DocumentData is the complete input of one render call. Totals are supplied
// by the caller and drawn verbatim; the engine never recomputes them.
type DocumentData struct {
	Kind     string
	Number   string
	Template string

	Recipient Recipient
	Items     []LineItem

	Subtotal  float64
	TaxAmount float64
	Total     float64
	TaxLabel  string

	IssueDate time.Time
	DueDate   *time.Time

	Business BusinessInfo
	Sender   SenderInfo
}

// Recipient identifies the customer the document is addressed to.
type Recipient struct {
	Name    string
	Company string
	Phone   string
	Email   string
}

// LineItem is one row of the item table. Quantity and UnitPrice are
// defensively coerced (NaN/negative to 0) at the point of use, so a
// malformed item still renders as a zero row instead of aborting.
type LineItem struct {
	Name        string
	Description string
	Quantity    float64
	UnitPrice   float64
}

// BusinessInfo is the issuing business identity drawn in the header.
type BusinessInfo struct {
	Name    string
	Address string
	Website string
	Phone   string
	Email   string
	Policy  string
	Logo    AssetRef
}

// SenderInfo carries the signer contact block and signature asset.
type SenderInfo struct {
	Phone      string
	Email      string
	SignerName string
	Signature  AssetRef
}

// AssetRef references a raster image in one of three forms, checked in
// order: embedded bytes, an absolute URL, or a bare object key resolved
// against the configured public storage origin.
type AssetRef struct {
	Data      []byte
	URL       string
	ObjectKey string
}

// IsZero reports whether the reference points at nothing.
func (r AssetRef) IsZero() bool {
	return len(r.Data) == 0 && r.URL == "" && r.ObjectKey == ""
}

// RenderedDocument is the finished artifact. It is immutable once returned;
// ownership transfers entirely to the caller. MissingAssets lists the
// references (object key, URL, or "embedded") that were requested but could
// not be resolved to a drawable image; the document itself is still
// complete, the affected sections are simply drawn without the image.
type RenderedDocument struct {
	Bytes         []byte
	Pages         int
	Degraded      bool
	MissingAssets []string
}
