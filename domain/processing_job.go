package domain

import "time"

type JobStatus string

const (
	JobStatusProcessing    JobStatus = "processing"
	JobStatusPendingReview JobStatus = "pending_review"
	JobStatusCompleted     JobStatus = "completed"
	JobStatusFailed        JobStatus = "failed"
)

// IsTerminal reports whether the status should not be re-entered (policy,
// not enforced: the record is last-write-wins across actors).
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type JobSource string

const (
	JobSourceUpload JobSource = "upload"
	JobSourceFigma  JobSource = "figma"
)

// Slice is one horizontal band cut from the reference design image.
type Slice struct {
	Index    int    `json:"index"`
	ImageURL string `json:"imageUrl"`
	YTop     int    `json:"yTop"`
	YBottom  int    `json:"yBottom"`
}

// LegalSection is the detected legal/footer region below the cutoff line.
type LegalSection struct {
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
	CutoffY int    `json:"cutoffY"`
}

// ProcessingJob is one persisted image-to-HTML conversion attempt. It is the
// single source of truth for the conversion, written both by the orchestrator
// and by the pipeline worker; readers see an eventually-consistent view.
type ProcessingJob struct {
	ID      string    `json:"id"`
	UserID  string    `json:"userId"`
	BrandID string    `json:"brandId,omitempty"`
	Source  JobSource `json:"source"`

	// SourceURL is set for figma imports; empty for direct uploads.
	SourceURL string `json:"sourceUrl,omitempty"`

	// ImageURL is a browser-reachable URL of the reference image.
	// CloudinaryPublicID is the image-store object key behind it (the field
	// name is kept from the wire contract).
	ImageURL           string `json:"imageUrl"`
	CloudinaryPublicID string `json:"cloudinaryPublicId,omitempty"`
	ImageWidth         int    `json:"imageWidth"`
	ImageHeight        int    `json:"imageHeight"`

	Slices       []Slice       `json:"slices,omitempty"`
	LegalSection *LegalSection `json:"legalSection,omitempty"`
	LegalCutoffY int           `json:"legalCutoffY,omitempty"`

	Status            JobStatus `json:"status"`
	ProcessingStep    string    `json:"processingStep"`
	ProcessingPercent int       `json:"processingPercent"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`

	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
	ProcessingCompletedAt *time.Time `json:"processingCompletedAt,omitempty"`
}

// ClampPercent keeps processing_percent inside [0,100].
func ClampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
