package api

import (
	"encoding/json"
	"testing"

	"billdesk/internal/errcode"
	"billdesk/internal/tasks"
)

func TestDocumentEventEnvelopeWrapsNotify(t *testing.T) {
	payload, err := json.Marshal(tasks.DocumentRenderNotifyMessage{
		Status:        "completed",
		InvoiceID:     9,
		Kind:          "invoice",
		PdfStatus:     "completed",
		CorrelationID: "corr-9",
		ErrorCode:     errcode.ResourceMissing,
		MissingKeys:   []string{"user-assets/3/logo.png"},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	event, err := documentEventEnvelope(payload)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}

	var got wsDocumentEvent
	if err := json.Unmarshal(event, &got); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if got.Type != "document_render" {
		t.Fatalf("unexpected event type %q", got.Type)
	}
	if got.Data.InvoiceID != 9 || got.Data.ErrorCode != errcode.ResourceMissing {
		t.Fatalf("notify fields lost in envelope: %+v", got.Data)
	}
	if len(got.Data.MissingKeys) != 1 {
		t.Fatalf("missing keys lost in envelope: %+v", got.Data)
	}
}

func TestDocumentEventEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := documentEventEnvelope([]byte("not json")); err == nil {
		t.Fatal("non-JSON payload must be rejected")
	}
	if _, err := documentEventEnvelope([]byte(`{"status":"completed"}`)); err == nil {
		t.Fatal("payload without invoice_id must be rejected")
	}
	if _, err := documentEventEnvelope([]byte(`{"invoice_id":4}`)); err == nil {
		t.Fatal("payload without status must be rejected")
	}
}
