package convert

import (
	"context"

	"footergen/domain"
)

// Draft is the first HTML rendition of a reference design, along with the
// layout analysis the drafting model produced on the way.
type Draft struct {
	HTML         string               `json:"html"`
	Slices       []domain.Slice       `json:"slices,omitempty"`
	LegalSection *domain.LegalSection `json:"legalSection,omitempty"`
	LegalCutoffY int                  `json:"legalCutoffY,omitempty"`
}

// Frame is one rendered candidate screenshot. Description is set when the
// render sidecar describes the frame itself; otherwise the worker stores the
// PNG and runs the vision extractor over it.
type Frame struct {
	PNG         []byte
	Description *domain.VisualDescription
}

// VisionExtractor turns an image into a structured visual description.
type VisionExtractor interface {
	Describe(ctx context.Context, imageURL string) (*domain.VisualDescription, error)
}

// Drafter produces the initial HTML draft for a job's reference image.
type Drafter interface {
	Draft(ctx context.Context, job *domain.ProcessingJob) (*Draft, error)
}

// Renderer rasterizes candidate HTML at the reference width.
type Renderer interface {
	Render(ctx context.Context, html string, width int) (*Frame, error)
}

// Corrector rewrites candidate HTML to address a list of correction
// directives.
type Corrector interface {
	Revise(ctx context.Context, html string, directives []string) (string, error)
}
