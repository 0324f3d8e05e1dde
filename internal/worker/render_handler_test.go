package worker

import (
	"testing"

	"billdesk/internal/database"
	"billdesk/internal/errcode"
	"billdesk/internal/render"
)

func testInvoice() *database.Invoice {
	inv := &database.Invoice{Kind: database.KindInvoice}
	inv.ID = 42
	return inv
}

func TestCompletionNotifyClean(t *testing.T) {
	doc := &render.RenderedDocument{Pages: 1}

	notify := completionNotify(testInvoice(), "corr-1", database.PdfStatusCompleted, doc)

	if notify.ErrorCode != errcode.OK {
		t.Fatalf("clean render must report OK, got %d", notify.ErrorCode)
	}
	if notify.Status != "completed" || notify.InvoiceID != 42 {
		t.Fatalf("unexpected notify: %+v", notify)
	}
	if len(notify.MissingKeys) != 0 {
		t.Fatalf("clean render must not carry missing keys: %v", notify.MissingKeys)
	}
}

func TestCompletionNotifyMissingAssets(t *testing.T) {
	doc := &render.RenderedDocument{
		Pages:         1,
		MissingAssets: []string{"user-assets/7/logo.png"},
	}

	notify := completionNotify(testInvoice(), "corr-2", database.PdfStatusCompleted, doc)

	if notify.ErrorCode != errcode.ResourceMissing {
		t.Fatalf("missing assets must report ResourceMissing, got %d", notify.ErrorCode)
	}
	if notify.Status != "completed" || notify.PdfStatus != database.PdfStatusCompleted {
		t.Fatalf("missing assets are a warning, not a failure: %+v", notify)
	}
	if len(notify.MissingKeys) != 1 || notify.MissingKeys[0] != "user-assets/7/logo.png" {
		t.Fatalf("unexpected missing keys: %v", notify.MissingKeys)
	}
	if notify.ErrorMessage == "" {
		t.Fatal("expected a human-readable warning message")
	}
}

func TestCompletionNotifyDegradedWins(t *testing.T) {
	doc := &render.RenderedDocument{
		Pages:         1,
		Degraded:      true,
		MissingAssets: []string{"user-assets/7/logo.png"},
	}

	notify := completionNotify(testInvoice(), "corr-3", database.PdfStatusDegraded, doc)

	if notify.ErrorCode != errcode.RenderDegraded {
		t.Fatalf("degraded render outranks missing assets, got %d", notify.ErrorCode)
	}
}
