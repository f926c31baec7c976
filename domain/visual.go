package domain

// VisualDescription is the structured description extracted from one image
// (the reference design or a rendered candidate). It is transient: produced
// per render and discarded after comparison.
type VisualDescription struct {
	Dimensions      Dimensions   `json:"dimensions"`
	TextBlocks      []TextBlock  `json:"textBlocks,omitempty"`
	Logos           []Logo       `json:"logos,omitempty"`
	HorizontalEdges []Edge       `json:"horizontalEdges,omitempty"`
	ColorPalette    ColorPalette `json:"colorPalette"`
}

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Bounds struct {
	XLeft   int `json:"xLeft"`
	XRight  int `json:"xRight"`
	YTop    int `json:"yTop"`
	YBottom int `json:"yBottom"`
}

type TextBlock struct {
	Text              string `json:"text"`
	Bounds            Bounds `json:"bounds"`
	Width             int    `json:"width"`
	Height            int    `json:"height"`
	EstimatedFontSize int    `json:"estimatedFontSize"`
}

type Logo struct {
	Name   string `json:"name,omitempty"`
	Bounds Bounds `json:"bounds"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Edge is a horizontal color boundary at y; colors are hex strings like "#ffffff".
type Edge struct {
	Y          int    `json:"y"`
	ColorAbove string `json:"colorAbove"`
	ColorBelow string `json:"colorBelow"`
}

type ColorPalette struct {
	Background string `json:"background,omitempty"`
	Text       string `json:"text,omitempty"`
	Accent     string `json:"accent,omitempty"`
}
