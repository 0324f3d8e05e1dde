// Package render lays invoices and estimates out as paginated PDF
// documents. One layout engine serves every template; templates differ only
// by a Style value. Rendering is strictly sequential per call and calls
// share no mutable state, so concurrent renders need no coordination.
package render

import (
	"context"
	"fmt"
	"log/slog"
)

type layoutFn func(ctx context.Context, cfg Config, style Style, data DocumentData) (*RenderedDocument, error)

// Render produces a document for the template named in data. It never
// returns nil: layout failures of any kind degrade to the single-page
// fallback summary so the caller always receives an artifact.
func Render(ctx context.Context, cfg Config, data DocumentData) *RenderedDocument {
	return renderWith(ctx, layoutDocument, cfg, data)
}

func renderWith(ctx context.Context, layout layoutFn, cfg Config, data DocumentData) *RenderedDocument {
	style := StyleFor(data.Template)

	doc, err := runLayout(ctx, layout, cfg, style, data)
	if err != nil {
		cfg.logger().Error("document layout failed, degrading to fallback",
			slog.String("template", style.Name),
			slog.String("number", data.Number),
			slog.Any("error", err),
		)
		return fallbackDocument(cfg, data)
	}
	return doc
}

// runLayout confines panics from the drawing path to this render call.
func runLayout(ctx context.Context, layout layoutFn, cfg Config, style Style, data DocumentData) (doc *RenderedDocument, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("layout panic: %v", r)
		}
	}()
	return layout(ctx, cfg, style, data)
}
