package visualdiff

// thresholdTable holds the fixed pixel/distance tolerances below which a
// measured deviation is ignored. Never mutated at runtime.
type thresholdTable struct {
	Height    int // overall rendered height, px
	LogoSize  int // logo width/height, px
	LogoPos   int // logo top-y position, px
	FontSize  int // estimated font size, px
	TextY     int // text block top-y position, px
	ColorDist int // Euclidean RGB distance
	SectionY  int // main structural edge y, px
}

var thresholds = thresholdTable{
	Height:    10,
	LogoSize:  8,
	LogoPos:   15,
	FontSize:  3,
	TextY:     10,
	ColorDist: 30,
	SectionY:  15,
}

const (
	// Text block selection: skip decorative/tiny blocks, cap the work per call.
	minTextFontSize = 10
	minTextLen      = 3
	maxTextBlocks   = 8

	// Fuzzy matching: prefix window and the shortest prefix worth matching on.
	matchPrefixLen    = 15
	minMatchPrefixLen = 3

	// A reference block shorter than this (trimmed) is too generic to report
	// as missing.
	minReportableTextLen = 5

	previewLong  = 25 // "not found" directives
	previewShort = 20 // size/position directives
)
