package render

// RGB is an opaque 8-bit color triple.
type RGB struct {
	R, G, B int
}

// Style parameterises the one layout engine into the named template
// variants. Only presentation knobs live here; the section order and the
// pagination rules are identical across templates.
type Style struct {
	Name string
	Font string

	Accent      RGB
	TableFill   RGB
	TableText   RGB
	SubtleText  RGB
	RuleWidth   float64
	TitleUpper  bool
	TopBand     bool
	TopBandSize float64
}

// DefaultTemplate is used whenever an unknown template key is requested.
// Unknown keys fail closed onto it rather than erroring, to maximise the
// chance some document is produced.
const DefaultTemplate = "classic"

var styles = map[string]Style{
	"classic": {
		Name:       "classic",
		Font:       "Helvetica",
		Accent:     RGB{31, 41, 55},
		TableFill:  RGB{229, 231, 235},
		TableText:  RGB{17, 24, 39},
		SubtleText: RGB{107, 114, 128},
		RuleWidth:  0.3,
	},
	"professional": {
		Name:       "professional",
		Font:       "Helvetica",
		Accent:     RGB{30, 64, 175},
		TableFill:  RGB{30, 64, 175},
		TableText:  RGB{255, 255, 255},
		SubtleText: RGB{100, 116, 139},
		RuleWidth:  0.4,
		TitleUpper: true,
	},
	"diamond": {
		Name:        "diamond",
		Font:        "Times",
		Accent:      RGB{15, 118, 110},
		TableFill:   RGB{204, 251, 241},
		TableText:   RGB{19, 78, 74},
		SubtleText:  RGB{115, 115, 115},
		RuleWidth:   0.3,
		TopBand:     true,
		TopBandSize: 3,
	},
	"modern": {
		Name:        "modern",
		Font:        "Helvetica",
		Accent:      RGB{124, 58, 237},
		TableFill:   RGB{237, 233, 254},
		TableText:   RGB{76, 29, 149},
		SubtleText:  RGB{113, 113, 122},
		RuleWidth:   0.5,
		TitleUpper:  true,
		TopBand:     true,
		TopBandSize: 5,
	},
	"golden": {
		Name:       "golden",
		Font:       "Times",
		Accent:     RGB{161, 98, 7},
		TableFill:  RGB{254, 243, 199},
		TableText:  RGB{113, 63, 18},
		SubtleText: RGB{120, 113, 108},
		RuleWidth:  0.6,
	},
}

// StyleFor maps a template key to its style, falling back to the default
// for unknown or empty keys.
func StyleFor(key string) Style {
	if s, ok := styles[key]; ok {
		return s
	}
	return styles[DefaultTemplate]
}

// TemplateKeys lists the known template identifiers.
func TemplateKeys() []string {
	keys := make([]string, 0, len(styles))
	for k := range styles {
		keys = append(keys, k)
	}
	return keys
}
