package render

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestUnknownTemplateFallsBackToDefault(t *testing.T) {
	if got := StyleFor("no-such-template").Name; got != DefaultTemplate {
		t.Fatalf("unknown key resolved to %q, want %q", got, DefaultTemplate)
	}
	if got := StyleFor("").Name; got != DefaultTemplate {
		t.Fatalf("empty key resolved to %q, want %q", got, DefaultTemplate)
	}

	data := sampleData(2)
	data.Template = "no-such-template"
	doc := Render(context.Background(), testConfig(), data)
	if doc.Degraded {
		t.Fatal("unknown template must still produce a document")
	}
}

func TestLayoutPanicDegradesToFallback(t *testing.T) {
	panicking := func(context.Context, Config, Style, DocumentData) (*RenderedDocument, error) {
		panic("forced layout failure")
	}

	data := sampleData(5)
	doc := renderWith(context.Background(), panicking, testConfig(), data)

	if doc == nil {
		t.Fatal("fallback must always return a document")
	}
	if !doc.Degraded {
		t.Fatal("expected degraded artifact")
	}
	if doc.Pages != 1 {
		t.Fatalf("fallback must be a single page, got %d", doc.Pages)
	}
	if !bytes.Contains(doc.Bytes, []byte("Jane Doe")) {
		t.Fatal("fallback must carry the recipient name")
	}
	if !bytes.Contains(doc.Bytes, []byte("Total:")) {
		t.Fatal("fallback must carry the total")
	}
}

func TestLayoutErrorDegradesToFallback(t *testing.T) {
	failing := func(context.Context, Config, Style, DocumentData) (*RenderedDocument, error) {
		return nil, errors.New("drawing backend rejected the document")
	}

	doc := renderWith(context.Background(), failing, testConfig(), sampleData(1))
	if doc == nil || !doc.Degraded {
		t.Fatal("layout error must degrade to the fallback document")
	}
}

func TestTemplateKeysCoverAllStyles(t *testing.T) {
	keys := TemplateKeys()
	if len(keys) != len(styles) {
		t.Fatalf("expected %d template keys, got %d", len(styles), len(keys))
	}
	for _, want := range []string{"classic", "professional", "diamond", "modern", "golden"} {
		if _, ok := styles[want]; !ok {
			t.Fatalf("missing template %q", want)
		}
	}
}
