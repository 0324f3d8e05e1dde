package render

import (
	"log/slog"
	"time"
)

// Config collects every dimension and threshold the layout engine uses.
// All lengths are millimetres on an A4 portrait page. A single Config is
// injected by the caller; nothing in the engine reads globals.
type Config struct {
	PageWidth  float64
	PageHeight float64

	MarginLeft  float64
	MarginTop   float64
	MarginRight float64
	// BottomMargin is the page-break threshold: a row whose cursor sits
	// below PageHeight-BottomMargin starts a new page before drawing.
	BottomMargin float64

	LineHeight float64
	RowHeight  float64

	// MinHeaderHeight keeps short header text from leaving a ragged gap
	// next to a tall logo: after the header the cursor is forced down to
	// at least MarginTop+MinHeaderHeight.
	MinHeaderHeight float64

	LogoWidth       float64
	LogoGap         float64
	SignatureWidth  float64
	SignatureHeight float64

	// Item table column widths. They must sum to the content width
	// (PageWidth - MarginLeft - MarginRight).
	ColItem  float64
	ColDesc  float64
	ColQty   float64
	ColPrice float64
	ColTotal float64

	// PolicyPageThreshold decides where the terms/policy text goes: at or
	// under the threshold it is appended to the last page, over it the
	// text is laid out in full starting on a fresh page.
	PolicyPageThreshold int

	// Public storage read origin for bare object keys, Supabase style:
	// {origin}/storage/v1/object/public/{bucket}/{key}.
	StorageOrigin string
	StorageBucket string
	FetchTimeout  time.Duration

	// DisableCompression emits uncompressed content streams. Used by
	// tests to assert on drawn text.
	DisableCompression bool

	Logger *slog.Logger
}

// DefaultConfig returns the standard A4 layout used by all templates.
func DefaultConfig() Config {
	return Config{
		PageWidth:  210,
		PageHeight: 297,

		MarginLeft:   15,
		MarginTop:    15,
		MarginRight:  15,
		BottomMargin: 20,

		LineHeight: 5,
		RowHeight:  8,

		MinHeaderHeight: 34,

		LogoWidth:       30,
		LogoGap:         6,
		SignatureWidth:  42,
		SignatureHeight: 16,

		ColItem:  55,
		ColDesc:  60,
		ColQty:   15,
		ColPrice: 25,
		ColTotal: 25,

		PolicyPageThreshold: 500,

		FetchTimeout: 10 * time.Second,
	}
}

func (c Config) contentWidth() float64 {
	return c.PageWidth - c.MarginLeft - c.MarginRight
}

func (c Config) breakLimit() float64 {
	return c.PageHeight - c.BottomMargin
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
