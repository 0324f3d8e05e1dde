package render

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestResolveEmbeddedBytes(t *testing.T) {
	r := newAssetResolver(testConfig())

	a := r.resolve(context.Background(), AssetRef{Data: testPNG(t)})
	if !a.resolved {
		t.Fatal("embedded png should resolve")
	}
	if a.format != "PNG" {
		t.Fatalf("unexpected format %q", a.format)
	}
}

func TestResolveRejectsNonImageBytes(t *testing.T) {
	r := newAssetResolver(testConfig())

	a := r.resolve(context.Background(), AssetRef{Data: []byte("not an image")})
	if a.resolved {
		t.Fatal("garbage bytes must not resolve")
	}
}

func TestResolveObjectKeyBuildsPublicURL(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		w.Write(testPNG(t))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.StorageOrigin = srv.URL
	cfg.StorageBucket = "assets"
	r := newAssetResolver(cfg)

	a := r.resolve(context.Background(), AssetRef{ObjectKey: "logos/acme.png"})
	if !a.resolved {
		t.Fatal("stored object should resolve")
	}
	if want := "/storage/v1/object/public/assets/logos/acme.png"; gotPath != want {
		t.Fatalf("fetched %q, want %q", gotPath, want)
	}
}

func TestResolveMissingObjectIsUnresolved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such object", http.StatusNotFound)
	}))
	defer srv.Close()

	r := newAssetResolver(testConfig())
	a := r.resolve(context.Background(), AssetRef{URL: srv.URL + "/missing.png"})
	if a.resolved {
		t.Fatal("404 must yield the unresolved state, not an image")
	}
}

func TestResolveUnreachableHostIsUnresolved(t *testing.T) {
	r := newAssetResolver(testConfig())
	a := r.resolve(context.Background(), AssetRef{URL: "http://127.0.0.1:1/logo.png"})
	if a.resolved {
		t.Fatal("network failure must yield the unresolved state")
	}
}

// Rendering with and without assets must both succeed and differ only in
// the embedded image, never in failure vs success.
func TestRenderAssetIndependence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(testPNG(t))
	}))
	defer srv.Close()

	withLogo := sampleData(3)
	withLogo.Business.Logo = AssetRef{URL: srv.URL + "/logo.png"}
	withLogo.Sender.Signature = AssetRef{URL: srv.URL + "/sig.png"}
	without := sampleData(3)

	ctx := context.Background()
	cfg := testConfig()

	docWith := Render(ctx, cfg, withLogo)
	docWithout := Render(ctx, cfg, without)

	if docWith.Degraded || docWithout.Degraded {
		t.Fatal("asset presence must not change success")
	}
	if docWith.Pages != docWithout.Pages {
		t.Fatalf("asset presence changed page count: %d vs %d", docWith.Pages, docWithout.Pages)
	}
	if len(docWith.MissingAssets) != 0 {
		t.Fatalf("resolved assets reported as missing: %v", docWith.MissingAssets)
	}
	if len(docWithout.MissingAssets) != 0 {
		t.Fatalf("absent references must not be reported as missing: %v", docWithout.MissingAssets)
	}
}

func TestRenderWithBrokenAssetReference(t *testing.T) {
	data := sampleData(3)
	data.Business.Logo = AssetRef{URL: "http://127.0.0.1:1/logo.png"}

	doc := Render(context.Background(), testConfig(), data)
	if doc.Degraded {
		t.Fatal("unresolvable asset must not degrade the render")
	}
	if doc.Pages != 1 {
		t.Fatalf("expected 1 page, got %d", doc.Pages)
	}
	if len(doc.MissingAssets) != 1 || doc.MissingAssets[0] != "http://127.0.0.1:1/logo.png" {
		t.Fatalf("expected the broken reference in MissingAssets, got %v", doc.MissingAssets)
	}
}

// A finished document must name every referenced asset that failed to
// resolve, by object key when one was given, so the caller can tell the
// user which stored images are broken.
func TestRenderReportsMissingAssetKeys(t *testing.T) {
	cfg := testConfig()
	cfg.StorageOrigin = "http://127.0.0.1:1"
	cfg.StorageBucket = "assets"

	data := sampleData(3)
	data.Business.Logo = AssetRef{ObjectKey: "user-assets/7/logo.png"}
	data.Sender.Signature = AssetRef{ObjectKey: "user-assets/7/sig.png"}

	doc := Render(context.Background(), cfg, data)
	if doc.Degraded {
		t.Fatal("missing assets must not degrade the render")
	}
	if len(doc.MissingAssets) != 2 {
		t.Fatalf("expected 2 missing assets, got %v", doc.MissingAssets)
	}
	want := map[string]bool{"user-assets/7/logo.png": true, "user-assets/7/sig.png": true}
	for _, key := range doc.MissingAssets {
		if !want[key] {
			t.Fatalf("unexpected missing key %q in %v", key, doc.MissingAssets)
		}
	}
}
