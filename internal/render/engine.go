package render

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// engine lays a document out in five sequential phases, all mutating the
// single vertical cursor owned by the canvas: header, recipient, item
// table, totals, footer. Page breaks are always evaluated before drawing a
// row or section, never after, so no row content is ever split across a
// page boundary.
type engine struct {
	pdf      *gofpdf.Fpdf
	cfg      Config
	style    Style
	data     DocumentData
	resolver *assetResolver
	assetSeq int
}

func layoutDocument(ctx context.Context, cfg Config, style Style, data DocumentData) (*RenderedDocument, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(documentTitle(data), true)
	if cfg.DisableCompression {
		pdf.SetCompression(false)
	}
	pdf.SetMargins(cfg.MarginLeft, cfg.MarginTop, cfg.MarginRight)
	pdf.SetAutoPageBreak(false, cfg.BottomMargin)

	e := &engine{
		pdf:      pdf,
		cfg:      cfg,
		style:    style,
		data:     data,
		resolver: newAssetResolver(cfg),
	}

	if style.TopBand {
		// Drawn via the page hook so continuation pages carry the band too.
		pdf.SetHeaderFunc(func() {
			pdf.SetFillColor(style.Accent.R, style.Accent.G, style.Accent.B)
			pdf.Rect(0, 0, cfg.PageWidth, style.TopBandSize, "F")
		})
	}

	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(style.Font, "", 8)
		pdf.SetTextColor(style.SubtleText.R, style.SubtleText.G, style.SubtleText.B)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	e.drawHeader(ctx)
	e.drawRecipient()
	e.drawItems()
	e.drawTotals()
	e.drawFooter(ctx)

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("layout document: %w", err)
	}

	pages := pdf.PageCount()
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("finalize document: %w", err)
	}

	return &RenderedDocument{
		Bytes:         buf.Bytes(),
		Pages:         pages,
		MissingAssets: e.resolver.missing,
	}, nil
}

// drawHeader draws the business identity block. When the logo resolves,
// header text starts to the right of its fixed box; otherwise it starts at
// the left margin. Either way the cursor ends no higher than the minimum
// header height, then the centered document title follows.
func (e *engine) drawHeader(ctx context.Context) {
	cfg, pdf := e.cfg, e.pdf

	textX := cfg.MarginLeft
	logo := e.resolver.resolve(ctx, e.data.Business.Logo)
	if logo.resolved {
		e.placeImage(logo, cfg.MarginLeft, cfg.MarginTop, cfg.LogoWidth, 0)
		textX = cfg.MarginLeft + cfg.LogoWidth + cfg.LogoGap
	}

	y := cfg.MarginTop
	pdf.SetFont(e.style.Font, "B", 15)
	pdf.SetTextColor(e.style.Accent.R, e.style.Accent.G, e.style.Accent.B)
	pdf.SetXY(textX, y)
	pdf.CellFormat(cfg.PageWidth-textX-cfg.MarginRight, 7, e.data.Business.Name, "", 0, "L", false, 0, "")
	y += 7 + 1

	pdf.SetFont(e.style.Font, "", 9)
	pdf.SetTextColor(e.style.SubtleText.R, e.style.SubtleText.G, e.style.SubtleText.B)
	for _, line := range e.headerLines() {
		pdf.SetXY(textX, y)
		pdf.CellFormat(cfg.PageWidth-textX-cfg.MarginRight, cfg.LineHeight, line, "", 0, "L", false, 0, "")
		y += cfg.LineHeight
	}

	if minY := cfg.MarginTop + cfg.MinHeaderHeight; y < minY {
		y = minY
	}
	pdf.SetY(y)

	title := documentTitle(e.data)
	if e.style.TitleUpper {
		title = strings.ToUpper(title)
	}
	pdf.SetFont(e.style.Font, "B", 18)
	pdf.SetTextColor(e.style.Accent.R, e.style.Accent.G, e.style.Accent.B)
	pdf.CellFormat(0, 10, title, "", 1, "C", false, 0, "")
	if e.data.Number != "" {
		pdf.SetFont(e.style.Font, "", 10)
		pdf.SetTextColor(e.style.SubtleText.R, e.style.SubtleText.G, e.style.SubtleText.B)
		pdf.CellFormat(0, 5, e.data.Number, "", 1, "C", false, 0, "")
	}
	pdf.Ln(3)
}

func (e *engine) headerLines() []string {
	b := e.data.Business
	var lines []string
	for _, part := range strings.Split(b.Address, "\n") {
		if part = strings.TrimSpace(part); part != "" {
			lines = append(lines, part)
		}
	}
	for _, s := range []string{b.Website, b.Phone, b.Email} {
		if s = strings.TrimSpace(s); s != "" {
			lines = append(lines, s)
		}
	}
	return lines
}

// drawRecipient draws the customer block on the left and the issue/due
// dates right-aligned on the same rows.
func (e *engine) drawRecipient() {
	cfg, pdf := e.cfg, e.pdf
	r := e.data.Recipient

	top := pdf.GetY()

	pdf.SetFont(e.style.Font, "B", 10)
	pdf.SetTextColor(e.style.Accent.R, e.style.Accent.G, e.style.Accent.B)
	label := "Bill To"
	if e.data.Kind == KindEstimate {
		label = "Prepared For"
	}
	pdf.SetXY(cfg.MarginLeft, top)
	pdf.CellFormat(90, cfg.LineHeight, label, "", 1, "L", false, 0, "")

	pdf.SetFont(e.style.Font, "", 10)
	pdf.SetTextColor(e.style.TableText.R, e.style.TableText.G, e.style.TableText.B)
	y := top + cfg.LineHeight
	for _, line := range []string{r.Name, r.Company, r.Phone, r.Email} {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		pdf.SetXY(cfg.MarginLeft, y)
		pdf.CellFormat(90, cfg.LineHeight, line, "", 0, "L", false, 0, "")
		y += cfg.LineHeight
	}

	pdf.SetFont(e.style.Font, "", 10)
	pdf.SetTextColor(e.style.SubtleText.R, e.style.SubtleText.G, e.style.SubtleText.B)
	dateY := top
	pdf.SetXY(cfg.MarginLeft, dateY)
	pdf.CellFormat(cfg.contentWidth(), cfg.LineHeight, "Date: "+e.data.IssueDate.Format("Jan 2, 2006"), "", 0, "R", false, 0, "")
	if e.data.DueDate != nil {
		dateY += cfg.LineHeight
		pdf.SetXY(cfg.MarginLeft, dateY)
		pdf.CellFormat(cfg.contentWidth(), cfg.LineHeight, "Due: "+e.data.DueDate.Format("Jan 2, 2006"), "", 0, "R", false, 0, "")
	}

	if bottom := dateY + cfg.LineHeight; y < bottom {
		y = bottom
	}
	pdf.SetY(y + 4)
}

// drawItems renders the line-item table. The break check runs before each
// row; a new page restarts the cursor at the top margin and repeats the
// column header so the table stays readable across pages.
func (e *engine) drawItems() {
	e.drawTableHeader()
	for _, item := range e.data.Items {
		if e.pdf.GetY() > e.cfg.breakLimit() {
			e.newTablePage()
		}
		e.drawItemRow(item)
	}
}

func (e *engine) newTablePage() {
	e.pdf.AddPage()
	e.pdf.SetY(e.cfg.MarginTop)
	e.drawTableHeader()
}

func (e *engine) drawTableHeader() {
	cfg, pdf := e.cfg, e.pdf

	pdf.SetFont(e.style.Font, "B", 9)
	pdf.SetFillColor(e.style.TableFill.R, e.style.TableFill.G, e.style.TableFill.B)
	pdf.SetTextColor(e.style.TableText.R, e.style.TableText.G, e.style.TableText.B)

	pdf.SetX(cfg.MarginLeft)
	pdf.CellFormat(cfg.ColItem, cfg.RowHeight, "Item", "", 0, "L", true, 0, "")
	pdf.CellFormat(cfg.ColDesc, cfg.RowHeight, "Description", "", 0, "L", true, 0, "")
	pdf.CellFormat(cfg.ColQty, cfg.RowHeight, "Qty", "", 0, "R", true, 0, "")
	pdf.CellFormat(cfg.ColPrice, cfg.RowHeight, "Price", "", 0, "R", true, 0, "")
	pdf.CellFormat(cfg.ColTotal, cfg.RowHeight, "Total", "", 1, "R", true, 0, "")
}

func (e *engine) drawItemRow(item LineItem) {
	cfg, pdf := e.cfg, e.pdf

	qty := coerceNumber(item.Quantity)
	price := coerceNumber(item.UnitPrice)
	total := qty * price

	pdf.SetFont(e.style.Font, "", 9)
	pdf.SetTextColor(e.style.TableText.R, e.style.TableText.G, e.style.TableText.B)

	pdf.SetX(cfg.MarginLeft)
	pdf.CellFormat(cfg.ColItem, cfg.RowHeight, e.truncate(item.Name, cfg.ColItem-2), "", 0, "L", false, 0, "")
	pdf.CellFormat(cfg.ColDesc, cfg.RowHeight, e.truncate(item.Description, cfg.ColDesc-2), "", 0, "L", false, 0, "")
	pdf.CellFormat(cfg.ColQty, cfg.RowHeight, formatQuantity(qty), "", 0, "R", false, 0, "")
	pdf.CellFormat(cfg.ColPrice, cfg.RowHeight, formatAmount(price), "", 0, "R", false, 0, "")
	pdf.CellFormat(cfg.ColTotal, cfg.RowHeight, formatAmount(total), "", 1, "R", false, 0, "")

	y := pdf.GetY()
	pdf.SetDrawColor(e.style.TableFill.R, e.style.TableFill.G, e.style.TableFill.B)
	pdf.SetLineWidth(0.1)
	pdf.Line(cfg.MarginLeft, y, cfg.PageWidth-cfg.MarginRight, y)
}

// drawTotals draws Subtotal / Tax / Total right-aligned, with a rule above
// the grand total. The block is never split: if it does not fit, it moves
// to a fresh page whole.
func (e *engine) drawTotals() {
	cfg, pdf := e.cfg, e.pdf

	needed := 3*cfg.RowHeight + 6
	if pdf.GetY()+needed > cfg.breakLimit() {
		pdf.AddPage()
		pdf.SetY(cfg.MarginTop)
	}
	pdf.Ln(3)

	labelW := cfg.contentWidth() - 35
	taxLabel := e.data.TaxLabel
	if taxLabel == "" {
		taxLabel = "Tax"
	}

	pdf.SetFont(e.style.Font, "", 10)
	pdf.SetTextColor(e.style.TableText.R, e.style.TableText.G, e.style.TableText.B)
	pdf.SetX(cfg.MarginLeft)
	pdf.CellFormat(labelW, cfg.RowHeight-1, "Subtotal", "", 0, "R", false, 0, "")
	pdf.CellFormat(35, cfg.RowHeight-1, formatAmount(coerceNumber(e.data.Subtotal)), "", 1, "R", false, 0, "")
	pdf.SetX(cfg.MarginLeft)
	pdf.CellFormat(labelW, cfg.RowHeight-1, taxLabel, "", 0, "R", false, 0, "")
	pdf.CellFormat(35, cfg.RowHeight-1, formatAmount(coerceNumber(e.data.TaxAmount)), "", 1, "R", false, 0, "")

	y := pdf.GetY() + 1
	pdf.SetDrawColor(e.style.Accent.R, e.style.Accent.G, e.style.Accent.B)
	pdf.SetLineWidth(e.style.RuleWidth)
	pdf.Line(cfg.MarginLeft+labelW-30, y, cfg.PageWidth-cfg.MarginRight, y)

	pdf.SetY(y + 1)
	pdf.SetFont(e.style.Font, "B", 11)
	pdf.SetTextColor(e.style.Accent.R, e.style.Accent.G, e.style.Accent.B)
	pdf.SetX(cfg.MarginLeft)
	pdf.CellFormat(labelW, cfg.RowHeight, "Total", "", 0, "R", false, 0, "")
	pdf.CellFormat(35, cfg.RowHeight, formatAmount(coerceNumber(e.data.Total)), "", 1, "R", false, 0, "")
}

// drawFooter draws the signature block and then the policy/terms text.
// Policy text over the configured threshold gets its own page and wraps
// freely; shorter text is appended compactly to the current page.
func (e *engine) drawFooter(ctx context.Context) {
	cfg, pdf := e.cfg, e.pdf

	if pdf.GetY()+cfg.SignatureHeight+14 > cfg.breakLimit() {
		pdf.AddPage()
		pdf.SetY(cfg.MarginTop)
	}
	pdf.Ln(6)

	pdf.SetFont(e.style.Font, "", 10)
	pdf.SetTextColor(e.style.TableText.R, e.style.TableText.G, e.style.TableText.B)
	pdf.SetX(cfg.MarginLeft)
	pdf.CellFormat(60, cfg.LineHeight, "Authorized Signature:", "", 1, "L", false, 0, "")

	sigTop := pdf.GetY() + 1
	sig := e.resolver.resolve(ctx, e.data.Sender.Signature)
	if sig.resolved {
		e.placeImage(sig, cfg.MarginLeft, sigTop, cfg.SignatureWidth, cfg.SignatureHeight)
	} else {
		pdf.SetDrawColor(e.style.SubtleText.R, e.style.SubtleText.G, e.style.SubtleText.B)
		pdf.SetLineWidth(0.2)
		pdf.Line(cfg.MarginLeft, sigTop+cfg.SignatureHeight, cfg.MarginLeft+60, sigTop+cfg.SignatureHeight)
	}
	pdf.SetY(sigTop + cfg.SignatureHeight + 2)

	if name := strings.TrimSpace(e.data.Sender.SignerName); name != "" {
		pdf.SetFont(e.style.Font, "", 9)
		pdf.SetTextColor(e.style.SubtleText.R, e.style.SubtleText.G, e.style.SubtleText.B)
		pdf.SetX(cfg.MarginLeft)
		pdf.CellFormat(90, cfg.LineHeight, name, "", 1, "L", false, 0, "")
	}

	e.drawPolicy()
}

func (e *engine) drawPolicy() {
	cfg, pdf := e.cfg, e.pdf

	policy := strings.TrimSpace(e.data.Business.Policy)
	if policy == "" {
		return
	}

	if len(policy) > cfg.PolicyPageThreshold {
		pdf.AddPage()
		pdf.SetY(cfg.MarginTop)
		pdf.SetFont(e.style.Font, "B", 11)
		pdf.SetTextColor(e.style.Accent.R, e.style.Accent.G, e.style.Accent.B)
		pdf.CellFormat(0, 8, "Terms & Policy", "", 1, "L", false, 0, "")

		pdf.SetFont(e.style.Font, "", 9)
		pdf.SetTextColor(e.style.TableText.R, e.style.TableText.G, e.style.TableText.B)
		for _, line := range pdf.SplitText(policy, cfg.contentWidth()) {
			if pdf.GetY() > cfg.breakLimit() {
				pdf.AddPage()
				pdf.SetY(cfg.MarginTop)
			}
			pdf.SetX(cfg.MarginLeft)
			pdf.CellFormat(cfg.contentWidth(), cfg.LineHeight, line, "", 1, "L", false, 0, "")
		}
		return
	}

	pdf.Ln(4)
	pdf.SetFont(e.style.Font, "", 7)
	pdf.SetTextColor(e.style.SubtleText.R, e.style.SubtleText.G, e.style.SubtleText.B)
	pdf.SetX(cfg.MarginLeft)
	pdf.MultiCell(cfg.contentWidth(), 3.5, policy, "", "L", false)
}

// placeImage registers fetched bytes under a unique name and draws them in
// the given box. A zero height keeps the aspect ratio.
func (e *engine) placeImage(a asset, x, y, w, h float64) {
	e.assetSeq++
	name := fmt.Sprintf("asset-%d", e.assetSeq)
	opts := gofpdf.ImageOptions{ImageType: a.format}
	e.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(a.data))
	e.pdf.ImageOptions(name, x, y, w, h, false, opts, 0, "")
}

// truncate fits s on a single row of width w, replacing the overflow with
// an ellipsis. Long descriptions are cut, not wrapped, so row height stays
// constant.
func (e *engine) truncate(s string, w float64) string {
	if e.pdf.GetStringWidth(s) <= w {
		return s
	}
	const ellipsis = "..."
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + ellipsis
		if e.pdf.GetStringWidth(candidate) <= w {
			return candidate
		}
	}
	return ellipsis
}

func documentTitle(data DocumentData) string {
	if data.Kind == KindEstimate {
		return "Estimate"
	}
	return "Invoice"
}

// coerceNumber folds NaN, infinities and negatives to zero so malformed
// line items render as zero rows instead of poisoning the document.
func coerceNumber(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatQuantity(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
