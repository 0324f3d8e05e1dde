package render

import (
	"bytes"
	"log/slog"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// fallbackDocument produces the minimal single-page summary used when the
// layout engine fails. It uses only primitive text drawing, so it cannot
// itself fail under normal conditions, and it guarantees the caller always
// receives an artifact instead of an error.
func fallbackDocument(cfg Config, data DocumentData) *RenderedDocument {
	pdf := gofpdf.New("P", "mm", "A4", "")
	if cfg.DisableCompression {
		pdf.SetCompression(false)
	}
	pdf.SetMargins(cfg.MarginLeft, cfg.MarginTop, cfg.MarginRight)
	pdf.SetAutoPageBreak(false, cfg.BottomMargin)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetY(40)
	pdf.CellFormat(0, 10, documentTitle(data), "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 12)
	pdf.Ln(8)
	pdf.CellFormat(0, 7, data.Recipient.Name, "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 7, "Total: "+formatAmount(coerceNumber(data.Total)), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 7, time.Now().Format("Jan 2, 2006"), "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		// Not expected: only primitive calls above. Return an empty
		// artifact rather than surfacing an error to the caller.
		cfg.logger().Error("fallback document output failed", slog.Any("error", err))
		return &RenderedDocument{Pages: 1, Degraded: true}
	}

	return &RenderedDocument{Bytes: buf.Bytes(), Pages: 1, Degraded: true}
}
