package convert

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"footergen/domain"
	"footergen/imagestore"
	"footergen/obs"
	"footergen/orchestrator"
	"footergen/redislock"
	"footergen/store"
	"footergen/streamq"
	"footergen/visualdiff"
)

// Worker runs the conversion pipeline for one job: describe the reference,
// draft HTML, then iterate render -> describe -> compare -> revise until the
// candidate matches or the budget runs out.
type Worker struct {
	store     store.ProcessingJobStore
	images    *imagestore.Store
	extractor VisionExtractor
	drafter   Drafter
	renderer  Renderer
	corrector Corrector
	budget    orchestrator.Budget

	tmpRoot  string
	lock     *redislock.Client
	lockTTL  time.Duration
	lockKick time.Duration
	inflight chan struct{}
}

func NewWorker(
	st store.ProcessingJobStore,
	images *imagestore.Store,
	extractor VisionExtractor,
	drafter Drafter,
	renderer Renderer,
	corrector Corrector,
	lock *redislock.Client,
	budget orchestrator.Budget,
	tmpRoot string,
) *Worker {
	maxInflight := readEnvIntDefault("CONVERT_MAX_INFLIGHT", 4)
	if maxInflight <= 0 {
		maxInflight = 1
	}
	lockTTL := readEnvDurationSecondsDefault("CONVERT_JOB_LOCK_TTL_SECONDS", 30*time.Minute)
	lockKick := readEnvDurationSecondsDefault("CONVERT_JOB_LOCK_REFRESH_SECONDS", 30*time.Second)
	if lockKick <= 0 {
		lockKick = 30 * time.Second
	}
	if err := budget.Validate(); err != nil {
		budget = orchestrator.DefaultBudget()
	}
	return &Worker{
		store:     st,
		images:    images,
		extractor: extractor,
		drafter:   drafter,
		renderer:  renderer,
		corrector: corrector,
		budget:    budget,
		tmpRoot:   tmpRoot,
		lock:      lock,
		lockTTL:   lockTTL,
		lockKick:  lockKick,
		inflight:  make(chan struct{}, maxInflight),
	}
}

func (w *Worker) acquireInflight() {
	if w == nil || w.inflight == nil {
		return
	}
	w.inflight <- struct{}{}
}

func (w *Worker) releaseInflight() {
	if w == nil || w.inflight == nil {
		return
	}
	select {
	case <-w.inflight:
	default:
	}
}

func (w *Worker) Process(ctx context.Context, jobID string) error {
	w.acquireInflight()
	defer w.releaseInflight()

	if w == nil || w.store == nil {
		return errors.New("worker/store not initialized")
	}
	if w.extractor == nil || w.drafter == nil || w.renderer == nil || w.corrector == nil {
		return streamq.Terminal(w.fail(ctx, jobID, errors.New("pipeline adapters not configured")))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// Distributed lock: prevent duplicate processing across worker replicas.
	if w.lock != nil {
		token, err := redislock.Token()
		if err != nil {
			return err
		}
		lockKey := w.lock.Key(jobID)
		ok, err := w.lock.Acquire(ctx, lockKey, token, w.lockTTL)
		if err != nil {
			// transient: keep pending
			return err
		}
		if !ok {
			// Likely a duplicate enqueue; ACK and move on.
			return streamq.Terminal(fmt.Errorf("job locked: %s", lockKey))
		}
		defer func() {
			_, _ = w.lock.Release(context.Background(), lockKey, token)
		}()

		stopKick := make(chan struct{})
		defer close(stopKick)
		go func() {
			t := time.NewTicker(w.lockKick)
			defer t.Stop()
			for {
				select {
				case <-stopKick:
					return
				case <-ctx.Done():
					return
				case <-t.C:
					_, err := w.lock.Refresh(context.Background(), lockKey, token, w.lockTTL)
					if err != nil {
						// best-effort; TTL is long enough for typical jobs
						log.Printf("lock refresh failed job=%s: %v", jobID, err)
					}
				}
			}
		}()
	}

	job, ok, err := w.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		// Record expired or was never created; nothing to retry.
		return streamq.Terminal(nil)
	}
	if job.Status.IsTerminal() || job.Status == domain.JobStatusPendingReview {
		return streamq.Terminal(nil)
	}
	if strings.TrimSpace(job.ImageURL) == "" {
		return streamq.Terminal(w.fail(ctx, jobID, errors.New("job has no reference image url")))
	}

	w.setProgress(ctx, jobID, "describing_reference", 10)
	refDesc, err := w.extractor.Describe(ctx, job.ImageURL)
	if err != nil {
		return streamq.Terminal(w.fail(ctx, jobID, fmt.Errorf("describe reference failed: %w", err)))
	}
	if refDesc == nil {
		return streamq.Terminal(w.fail(ctx, jobID, errors.New("vision extractor returned empty description")))
	}
	if job.ImageWidth == 0 && refDesc.Dimensions.Width > 0 {
		_, _, _ = w.store.Update(ctx, jobID, func(j *domain.ProcessingJob) {
			if j.Status.IsTerminal() {
				return
			}
			j.ImageWidth = refDesc.Dimensions.Width
			j.ImageHeight = refDesc.Dimensions.Height
		})
		job.ImageWidth = refDesc.Dimensions.Width
		job.ImageHeight = refDesc.Dimensions.Height
	}

	w.setProgress(ctx, jobID, "drafting", 30)
	draft, err := w.drafter.Draft(ctx, job)
	if err != nil {
		return streamq.Terminal(w.fail(ctx, jobID, fmt.Errorf("draft failed: %w", err)))
	}
	if draft == nil || strings.TrimSpace(draft.HTML) == "" {
		return streamq.Terminal(w.fail(ctx, jobID, errors.New("drafter returned empty html")))
	}
	_, _, _ = w.store.Update(ctx, jobID, func(j *domain.ProcessingJob) {
		if j.Status.IsTerminal() {
			return
		}
		j.Slices = draft.Slices
		j.LegalSection = draft.LegalSection
		j.LegalCutoffY = draft.LegalCutoffY
	})

	width := job.ImageWidth
	if width == 0 {
		width = refDesc.Dimensions.Width
	}

	html := draft.HTML
	attempts := 0
	prevCount := 0
	for attempt := 1; attempt <= w.budget.MaxAttempts; attempt++ {
		attempts = attempt

		// Progress climbs from 30 toward 90 across the budget; the last
		// stretch is reserved for finalize.
		progress := 30 + (60*attempt)/(w.budget.MaxAttempts+1)
		w.setProgress(ctx, jobID, "rendering", progress)

		frame, err := w.renderer.Render(ctx, html, width)
		if err != nil {
			return streamq.Terminal(w.fail(ctx, jobID, fmt.Errorf("render attempt %d failed: %w", attempt, err)))
		}

		candDesc := frame.Description
		if candDesc == nil {
			candDesc, err = w.describeFrame(ctx, jobID, attempt, frame.PNG)
			if err != nil {
				return streamq.Terminal(w.fail(ctx, jobID, fmt.Errorf("describe attempt %d failed: %w", attempt, err)))
			}
		}

		directives := visualdiff.ComputeDifferences(refDesc, candDesc)
		obs.RecordComparison(attempt, len(directives))
		if len(directives) == 0 {
			break
		}
		// Stop early when the diff stops shrinking meaningfully.
		if attempt > 1 && prevCount-len(directives) < w.budget.MinImprovement {
			log.Printf("convert job=%s stalled at %d directives after %d rounds", jobID, len(directives), attempt)
			break
		}
		prevCount = len(directives)
		if attempt == w.budget.MaxAttempts {
			log.Printf("convert job=%s budget exhausted with %d directives", jobID, len(directives))
			break
		}

		w.setProgress(ctx, jobID, "revising", progress)
		html, err = w.corrector.Revise(ctx, html, directives)
		if err != nil {
			return streamq.Terminal(w.fail(ctx, jobID, fmt.Errorf("revise attempt %d failed: %w", attempt, err)))
		}
		if strings.TrimSpace(html) == "" {
			return streamq.Terminal(w.fail(ctx, jobID, errors.New("corrector returned empty html")))
		}
	}
	obs.RecordConvergence(attempts)

	now := time.Now()
	_, _, _ = w.store.Update(ctx, jobID, func(j *domain.ProcessingJob) {
		if j.Status.IsTerminal() {
			return
		}
		j.Status = domain.JobStatusPendingReview
		j.ProcessingStep = "awaiting_review"
		j.ProcessingPercent = 100
		j.ErrorMessage = ""
		j.ProcessingCompletedAt = &now
	})
	return streamq.Terminal(nil)
}

// describeFrame stores one candidate screenshot and runs the vision extractor
// over its signed URL.
func (w *Worker) describeFrame(ctx context.Context, jobID string, attempt int, png []byte) (*domain.VisualDescription, error) {
	if len(png) == 0 {
		return nil, errors.New("render returned neither description nor frame")
	}
	if w.images == nil || !w.images.Enabled() {
		return nil, errors.New("image store not enabled")
	}

	dir := filepath.Join(w.tmpRoot, "convert_jobs", jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	local := filepath.Join(dir, fmt.Sprintf("attempt_%d.png", attempt))
	if err := os.WriteFile(local, png, 0o644); err != nil {
		return nil, err
	}
	defer os.Remove(local)

	key := w.images.ObjectKeyForFrame(jobID, attempt)
	if err := w.images.PutFileFromPath(key, local, "image/png"); err != nil {
		return nil, fmt.Errorf("upload frame failed: %w", err)
	}
	u, err := w.images.SignViewURL(key)
	if err != nil {
		return nil, err
	}
	return w.extractor.Describe(ctx, u)
}

func (w *Worker) setProgress(ctx context.Context, jobID, step string, percent int) {
	_, _, _ = w.store.Update(ctx, jobID, func(j *domain.ProcessingJob) {
		if j.Status.IsTerminal() {
			return
		}
		j.Status = domain.JobStatusProcessing
		j.ProcessingStep = step
		j.ProcessingPercent = percent
		j.ErrorMessage = ""
	})
}

func (w *Worker) fail(ctx context.Context, jobID string, err error) error {
	if strings.TrimSpace(jobID) == "" {
		return err
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	_, _, _ = w.store.Update(ctx, jobID, func(j *domain.ProcessingJob) {
		j.Status = domain.JobStatusFailed
		j.ProcessingStep = "failed"
		j.ErrorMessage = msg
	})
	return err
}

func readEnvIntDefault(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func readEnvDurationSecondsDefault(key string, defaultVal time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return time.Duration(n) * time.Second
}
