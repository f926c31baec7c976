package convert

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"footergen/domain"
	"footergen/orchestrator"
	"footergen/store"
	"footergen/streamq"
)

// fakePipeline scripts the sidecar: Describe returns the fixed reference
// description, Render walks through pre-baked candidate descriptions.
type fakePipeline struct {
	refDesc *domain.VisualDescription
	frames  []*domain.VisualDescription

	draftErr  error
	renderErr error
	reviseErr error

	describeCalls int
	draftCalls    int
	renderCalls   int
	reviseCalls   int
}

func (f *fakePipeline) Describe(_ context.Context, _ string) (*domain.VisualDescription, error) {
	f.describeCalls++
	return f.refDesc, nil
}

func (f *fakePipeline) Draft(_ context.Context, _ *domain.ProcessingJob) (*Draft, error) {
	f.draftCalls++
	if f.draftErr != nil {
		return nil, f.draftErr
	}
	return &Draft{
		HTML:         "<div>footer</div>",
		Slices:       []domain.Slice{{Index: 0, YTop: 0, YBottom: 400}},
		LegalSection: &domain.LegalSection{Text: "All rights reserved", CutoffY: 700},
		LegalCutoffY: 700,
	}, nil
}

func (f *fakePipeline) Render(_ context.Context, _ string, _ int) (*Frame, error) {
	f.renderCalls++
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	idx := f.renderCalls - 1
	if idx >= len(f.frames) {
		idx = len(f.frames) - 1
	}
	return &Frame{Description: f.frames[idx]}, nil
}

func (f *fakePipeline) Revise(_ context.Context, html string, _ []string) (string, error) {
	f.reviseCalls++
	if f.reviseErr != nil {
		return "", f.reviseErr
	}
	return html + "<!-- revised -->", nil
}

func descWithHeight(h int) *domain.VisualDescription {
	return &domain.VisualDescription{Dimensions: domain.Dimensions{Width: 600, Height: h}}
}

func newTestWorker(t *testing.T, st store.ProcessingJobStore, p *fakePipeline, budget orchestrator.Budget) *Worker {
	t.Helper()
	return NewWorker(st, nil, p, p, p, p, nil, budget, t.TempDir())
}

func seedJob(t *testing.T, st store.ProcessingJobStore, id string) {
	t.Helper()
	require.NoError(t, st.Create(context.Background(), &domain.ProcessingJob{
		ID:             id,
		UserID:         "user-1",
		Source:         domain.JobSourceUpload,
		ImageURL:       "https://img.example.com/ref.png",
		ImageWidth:     600,
		ImageHeight:    800,
		Status:         domain.JobStatusProcessing,
		ProcessingStep: "queued",
	}))
}

func TestWorkerConverges(t *testing.T) {
	st := store.NewInMemoryProcessingJobStore(nil)
	seedJob(t, st, "j1")

	// Round 1 renders 20px short (one directive); round 2 matches.
	p := &fakePipeline{
		refDesc: descWithHeight(800),
		frames:  []*domain.VisualDescription{descWithHeight(780), descWithHeight(800)},
	}
	w := newTestWorker(t, st, p, orchestrator.Budget{MaxAttempts: 3, MinImprovement: 1})

	err := w.Process(context.Background(), "j1")
	require.True(t, streamq.IsTerminal(err))

	job, ok, _ := st.Get(context.Background(), "j1")
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusPendingReview, job.Status)
	assert.Equal(t, "awaiting_review", job.ProcessingStep)
	assert.Equal(t, 100, job.ProcessingPercent)
	assert.Empty(t, job.ErrorMessage)
	require.NotNil(t, job.ProcessingCompletedAt)
	require.Len(t, job.Slices, 1)
	require.NotNil(t, job.LegalSection)
	assert.Equal(t, 700, job.LegalCutoffY)

	assert.Equal(t, 2, p.renderCalls)
	assert.Equal(t, 1, p.reviseCalls)
	assert.Equal(t, 1, p.describeCalls, "reference described once; frames carry their own descriptions")
}

func TestWorkerStopsWhenDiffStallsThenHandsOver(t *testing.T) {
	st := store.NewInMemoryProcessingJobStore(nil)
	seedJob(t, st, "j1")

	// Every round stays 20px short: after round 2 the directive count has not
	// improved, so the loop stops early.
	p := &fakePipeline{
		refDesc: descWithHeight(800),
		frames:  []*domain.VisualDescription{descWithHeight(780)},
	}
	w := newTestWorker(t, st, p, orchestrator.Budget{MaxAttempts: 5, MinImprovement: 1})

	err := w.Process(context.Background(), "j1")
	require.True(t, streamq.IsTerminal(err))

	job, _, _ := st.Get(context.Background(), "j1")
	assert.Equal(t, domain.JobStatusPendingReview, job.Status, "an imperfect candidate still goes to review")
	assert.Equal(t, 2, p.renderCalls)
	assert.Equal(t, 1, p.reviseCalls)
}

func TestWorkerExhaustsBudget(t *testing.T) {
	st := store.NewInMemoryProcessingJobStore(nil)
	seedJob(t, st, "j1")

	// Shrinking diffs keep the loop going until MaxAttempts.
	ref := descWithHeight(800)
	ref.ColorPalette = domain.ColorPalette{Background: "#ffffff", Text: "#333333"}
	off := descWithHeight(700)
	off.ColorPalette = domain.ColorPalette{Background: "#000000", Text: "#ffffff"}
	closer := descWithHeight(760)
	closer.ColorPalette = ref.ColorPalette
	p := &fakePipeline{
		refDesc: ref,
		frames:  []*domain.VisualDescription{off, closer},
	}
	w := newTestWorker(t, st, p, orchestrator.Budget{MaxAttempts: 2, MinImprovement: 1})

	err := w.Process(context.Background(), "j1")
	require.True(t, streamq.IsTerminal(err))

	job, _, _ := st.Get(context.Background(), "j1")
	assert.Equal(t, domain.JobStatusPendingReview, job.Status)
	assert.Equal(t, 2, p.renderCalls)
	assert.Equal(t, 1, p.reviseCalls, "no revise once the budget's last render is compared")
}

func TestWorkerDraftFailureFailsJob(t *testing.T) {
	st := store.NewInMemoryProcessingJobStore(nil)
	seedJob(t, st, "j1")

	p := &fakePipeline{
		refDesc:  descWithHeight(800),
		frames:   []*domain.VisualDescription{descWithHeight(800)},
		draftErr: errors.New("model overloaded"),
	}
	w := newTestWorker(t, st, p, orchestrator.DefaultBudget())

	err := w.Process(context.Background(), "j1")
	require.True(t, streamq.IsTerminal(err), "pipeline failures are terminal for the queue")

	job, _, _ := st.Get(context.Background(), "j1")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, "failed", job.ProcessingStep)
	assert.Contains(t, job.ErrorMessage, "model overloaded")
	assert.Equal(t, 0, p.renderCalls)
}

func TestWorkerRenderFailureFailsJob(t *testing.T) {
	st := store.NewInMemoryProcessingJobStore(nil)
	seedJob(t, st, "j1")

	p := &fakePipeline{
		refDesc:   descWithHeight(800),
		frames:    []*domain.VisualDescription{descWithHeight(800)},
		renderErr: errors.New("chromium crashed"),
	}
	w := newTestWorker(t, st, p, orchestrator.DefaultBudget())

	err := w.Process(context.Background(), "j1")
	require.True(t, streamq.IsTerminal(err))

	job, _, _ := st.Get(context.Background(), "j1")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "chromium crashed")
}

func TestWorkerSkipsTerminalJob(t *testing.T) {
	st := store.NewInMemoryProcessingJobStore(nil)
	require.NoError(t, st.Create(context.Background(), &domain.ProcessingJob{
		ID:       "done",
		UserID:   "user-1",
		Source:   domain.JobSourceUpload,
		ImageURL: "https://img.example.com/ref.png",
		Status:   domain.JobStatusCompleted,
	}))

	p := &fakePipeline{refDesc: descWithHeight(800), frames: []*domain.VisualDescription{descWithHeight(800)}}
	w := newTestWorker(t, st, p, orchestrator.DefaultBudget())

	err := w.Process(context.Background(), "done")
	require.True(t, streamq.IsTerminal(err))
	assert.Equal(t, 0, p.describeCalls)
	assert.Equal(t, 0, p.draftCalls)
}

func TestWorkerMissingJobAcks(t *testing.T) {
	st := store.NewInMemoryProcessingJobStore(nil)
	p := &fakePipeline{refDesc: descWithHeight(800), frames: []*domain.VisualDescription{descWithHeight(800)}}
	w := newTestWorker(t, st, p, orchestrator.DefaultBudget())

	err := w.Process(context.Background(), "ghost")
	require.True(t, streamq.IsTerminal(err))
	assert.Equal(t, 0, p.draftCalls)
}

func TestWorkerPersistsReferenceDimensions(t *testing.T) {
	st := store.NewInMemoryProcessingJobStore(nil)
	require.NoError(t, st.Create(context.Background(), &domain.ProcessingJob{
		ID:        "j1",
		UserID:    "user-1",
		Source:    domain.JobSourceFigma,
		SourceURL: "https://figma.example.com/file/abc",
		ImageURL:  "https://figma.example.com/file/abc",
		Status:    domain.JobStatusProcessing,
	}))

	p := &fakePipeline{
		refDesc: descWithHeight(800),
		frames:  []*domain.VisualDescription{descWithHeight(800)},
	}
	w := newTestWorker(t, st, p, orchestrator.DefaultBudget())

	err := w.Process(context.Background(), "j1")
	require.True(t, streamq.IsTerminal(err))

	job, _, _ := st.Get(context.Background(), "j1")
	assert.Equal(t, 600, job.ImageWidth)
	assert.Equal(t, 800, job.ImageHeight)
}
