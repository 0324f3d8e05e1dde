package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	// Decoders registered for format sniffing of fetched assets.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// asset is the outcome of resolving an AssetRef. The two states make the
// "did we get an image" branch in the layout code exhaustive: an asset is
// either resolved with drawable bytes, or it is absent and the section is
// drawn without it. Absence is never an error condition.
type asset struct {
	resolved bool
	data     []byte
	// format is the gofpdf image type: PNG, JPG or GIF.
	format string
}

const maxAssetBytes = 8 << 20

// assetResolver turns AssetRefs into drawable images. Every failure mode
// (network, missing object, oversized payload, decode failure) collapses to
// the unresolved state after a single attempt; callers must treat "no
// asset" as a normal outcome. Each failed non-zero reference is recorded in
// missing so the finished document can report which assets were skipped.
type assetResolver struct {
	client  *http.Client
	origin  string
	bucket  string
	logger  *slog.Logger
	missing []string
}

func newAssetResolver(cfg Config) *assetResolver {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &assetResolver{
		client: &http.Client{Timeout: timeout},
		origin: strings.TrimRight(cfg.StorageOrigin, "/"),
		bucket: cfg.StorageBucket,
		logger: cfg.logger(),
	}
}

func (r *assetResolver) resolve(ctx context.Context, ref AssetRef) asset {
	a := r.resolveRef(ctx, ref)
	if !a.resolved && !ref.IsZero() {
		r.missing = append(r.missing, refKey(ref))
	}
	return a
}

func (r *assetResolver) resolveRef(ctx context.Context, ref AssetRef) asset {
	switch {
	case len(ref.Data) > 0:
		return sniffAsset(ref.Data)
	case ref.URL != "":
		return r.fetch(ctx, ref.URL)
	case ref.ObjectKey != "":
		if r.origin == "" || r.bucket == "" {
			r.logger.Warn("asset resolver has no storage origin configured",
				slog.String("object_key", ref.ObjectKey),
			)
			return asset{}
		}
		return r.fetch(ctx, r.publicObjectURL(ref.ObjectKey))
	default:
		return asset{}
	}
}

// refKey identifies a failed reference in MissingAssets reports. Object
// keys are preferred because they match what the caller stored.
func refKey(ref AssetRef) string {
	switch {
	case ref.ObjectKey != "":
		return ref.ObjectKey
	case ref.URL != "":
		return ref.URL
	default:
		return "embedded"
	}
}

// publicObjectURL builds the anonymous read URL for a bare object key.
func (r *assetResolver) publicObjectURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s",
		r.origin, r.bucket, strings.TrimLeft(key, "/"))
}

func (r *assetResolver) fetch(ctx context.Context, url string) asset {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		r.logger.Warn("build asset request failed", slog.String("url", url), slog.Any("error", err))
		return asset{}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("fetch asset failed", slog.String("url", url), slog.Any("error", err))
		return asset{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("fetch asset unexpected status",
			slog.String("url", url),
			slog.Int("status", resp.StatusCode),
		)
		return asset{}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		r.logger.Warn("read asset body failed", slog.String("url", url), slog.Any("error", err))
		return asset{}
	}
	if len(data) > maxAssetBytes {
		r.logger.Warn("asset exceeds size limit", slog.String("url", url))
		return asset{}
	}

	a := sniffAsset(data)
	if !a.resolved {
		r.logger.Warn("asset is not a decodable image", slog.String("url", url))
	}
	return a
}

// sniffAsset decodes just the image header to confirm the bytes are a
// raster format the canvas can embed.
func sniffAsset(data []byte) asset {
	if len(data) == 0 {
		return asset{}
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return asset{}
	}
	switch format {
	case "png":
		return asset{resolved: true, data: data, format: "PNG"}
	case "jpeg":
		return asset{resolved: true, data: data, format: "JPG"}
	case "gif":
		return asset{resolved: true, data: data, format: "GIF"}
	default:
		return asset{}
	}
}
