// Package orchestrator manages the lifecycle of one image-to-HTML conversion
// job: create the persisted record, kick the external pipeline, observe the
// job's change feed, and expose the current snapshot to callers. One job id
// is tracked per instance; concurrent jobs need separate instances.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"footergen/domain"
	"footergen/feed"
	"footergen/store"
	"footergen/trigger"
)

// Callbacks receive lifecycle notifications. The change feed is assumed
// at-least-once: OnComplete fires for every delivered terminal event, so it
// must be idempotent.
type Callbacks struct {
	OnComplete func(job *domain.ProcessingJob)
	OnError    func(message string)
}

// Budget is the explicit iteration/termination policy for the correction
// loop: at most MaxAttempts render-compare-revise rounds, stopping early when
// a round shrinks the directive count by less than MinImprovement.
type Budget struct {
	MaxAttempts    int
	MinImprovement int
}

func DefaultBudget() Budget {
	return Budget{MaxAttempts: 3, MinImprovement: 1}
}

func (b Budget) Validate() error {
	if b.MaxAttempts < 1 {
		return &ValidationError{Reason: "budget: MaxAttempts must be >= 1"}
	}
	if b.MinImprovement < 0 {
		return &ValidationError{Reason: "budget: MinImprovement must be >= 0"}
	}
	return nil
}

type CreateJobParams struct {
	UserID  string
	BrandID string

	Source    domain.JobSource
	SourceURL string

	ImageURL           string
	CloudinaryPublicID string
	ImageWidth         int
	ImageHeight        int
}

const genericFailureMessage = "Processing failed"

type Orchestrator struct {
	store   store.ProcessingJobStore
	feed    feed.JobFeed
	trigger trigger.PipelineTrigger
	budget  Budget

	// cb is the stable callback box: SetCallbacks swaps the pointer, the
	// long-lived feed handler reads the latest value. Swapping callbacks
	// never tears down or rebuilds the feed registration.
	cb atomic.Pointer[Callbacks]

	mu          sync.Mutex
	jobID       string
	job         *domain.ProcessingJob
	errMsg      string
	unsubscribe func()
}

func New(st store.ProcessingJobStore, f feed.JobFeed, tr trigger.PipelineTrigger, budget Budget) (*Orchestrator, error) {
	if st == nil {
		return nil, errors.New("job store is nil")
	}
	if err := budget.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		store:   st,
		feed:    f,
		trigger: tr,
		budget:  budget,
	}
	o.cb.Store(&Callbacks{})
	return o, nil
}

// SetCallbacks replaces the completion/error callbacks without touching the
// feed subscription.
func (o *Orchestrator) SetCallbacks(cb Callbacks) {
	o.cb.Store(&cb)
}

func (o *Orchestrator) Budget() Budget { return o.budget }

// CreateJob validates the request, persists a new record in
// processing/queued/0% and fires a best-effort pipeline trigger. A trigger
// failure is logged but does not fail creation; a store insert failure is
// fatal and returns an empty id.
func (o *Orchestrator) CreateJob(ctx context.Context, p CreateJobParams) (string, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return "", o.fail(&ValidationError{Reason: "missing actor identity"})
	}
	switch p.Source {
	case domain.JobSourceUpload:
		if strings.TrimSpace(p.ImageURL) == "" {
			return "", o.fail(&ValidationError{Reason: "imageUrl is required for upload source"})
		}
	case domain.JobSourceFigma:
		if strings.TrimSpace(p.SourceURL) == "" {
			return "", o.fail(&ValidationError{Reason: "sourceUrl is required for figma source"})
		}
	default:
		return "", o.fail(&ValidationError{Reason: fmt.Sprintf("unknown source %q", p.Source)})
	}

	job := &domain.ProcessingJob{
		ID:                 uuid.NewString(),
		UserID:             p.UserID,
		BrandID:            p.BrandID,
		Source:             p.Source,
		SourceURL:          p.SourceURL,
		ImageURL:           p.ImageURL,
		CloudinaryPublicID: p.CloudinaryPublicID,
		ImageWidth:         p.ImageWidth,
		ImageHeight:        p.ImageHeight,
		Status:             domain.JobStatusProcessing,
		ProcessingStep:     "queued",
		ProcessingPercent:  0,
		CreatedAt:          time.Now(),
	}

	if err := o.store.Create(ctx, job); err != nil {
		return "", o.fail(&PersistenceError{Op: "insert", Err: err})
	}

	o.mu.Lock()
	o.errMsg = ""
	o.job = job
	o.mu.Unlock()

	if err := o.Subscribe(job.ID); err != nil {
		// The record exists; polling via FetchJob still works.
		log.Printf("orchestrator: subscribe job=%s failed: %v", job.ID, err)
	}

	if o.trigger != nil {
		if err := o.trigger.Kick(ctx, job.ID); err != nil {
			te := &TriggerError{Err: err}
			log.Printf("orchestrator: job=%s %v (job remains queued)", job.ID, te)
		}
	}

	return job.ID, nil
}

// Subscribe opens exactly one feed registration for jobID. Calling it again
// with the same id is a no-op; a different id closes the previous
// registration first. Events arriving for a previously tracked id are
// compared against the current one and dropped.
func (o *Orchestrator) Subscribe(jobID string) error {
	jobID = strings.TrimSpace(jobID)

	o.mu.Lock()
	if jobID == o.jobID && o.unsubscribe != nil {
		o.mu.Unlock()
		return nil
	}
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
	o.jobID = jobID
	o.mu.Unlock()

	if jobID == "" || o.feed == nil {
		return nil
	}

	unsub, err := o.feed.RegisterListener(jobID, func(ev feed.Event) {
		o.handleEvent(jobID, ev)
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	if o.jobID != jobID {
		// Tracked id changed while registering; drop the stale registration.
		o.mu.Unlock()
		unsub()
		return nil
	}
	o.unsubscribe = unsub
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) handleEvent(subscribedID string, ev feed.Event) {
	if ev.Job == nil {
		return
	}
	o.mu.Lock()
	if subscribedID != o.jobID || ev.JobID != o.jobID {
		// Late delivery for an abandoned job id.
		o.mu.Unlock()
		return
	}
	o.job = ev.Job
	status := ev.Job.Status
	var errMsg string
	if status == domain.JobStatusFailed {
		errMsg = strings.TrimSpace(ev.Job.ErrorMessage)
		if errMsg == "" {
			errMsg = genericFailureMessage
		}
		o.errMsg = errMsg
	}
	o.mu.Unlock()

	cb := o.cb.Load()
	switch status {
	case domain.JobStatusPendingReview, domain.JobStatusCompleted:
		// Every delivered terminal event fires the callback; repeated
		// deliveries are the consumer's problem (documented tolerance).
		if cb.OnComplete != nil {
			cb.OnComplete(ev.Job)
		}
	case domain.JobStatusFailed:
		if cb.OnError != nil {
			cb.OnError(errMsg)
		}
	}
}

// FetchJob is a one-shot read independent of any subscription.
func (o *Orchestrator) FetchJob(ctx context.Context, id string) (*domain.ProcessingJob, bool, error) {
	job, ok, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, false, o.fail(&PersistenceError{Op: "select", Err: err})
	}
	return job, ok, nil
}

// CompleteJob writes status=completed for the tracked job id. No-op when no
// job is tracked.
func (o *Orchestrator) CompleteJob(ctx context.Context) error {
	o.mu.Lock()
	jobID := o.jobID
	o.mu.Unlock()
	if jobID == "" {
		return nil
	}

	_, ok, err := o.store.Update(ctx, jobID, func(j *domain.ProcessingJob) {
		now := time.Now()
		j.Status = domain.JobStatusCompleted
		j.ProcessingStep = "completed"
		j.ProcessingPercent = 100
		j.ProcessingCompletedAt = &now
	})
	if err != nil {
		return o.fail(&PersistenceError{Op: "update", Err: err})
	}
	if !ok {
		log.Printf("orchestrator: complete job=%s: record not found (expired?)", jobID)
	}
	return nil
}

// Reset clears all locally observed state and closes the subscription. The
// persisted record is untouched.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
	o.jobID = ""
	o.job = nil
	o.errMsg = ""
}

// TrackedJobID returns the currently tracked job id ("" when none).
func (o *Orchestrator) TrackedJobID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.jobID
}

// Job returns a copy of the last observed snapshot, or nil.
func (o *Orchestrator) Job() *domain.ProcessingJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.job == nil {
		return nil
	}
	cp := *o.job
	return &cp
}

// ErrorMessage returns the retained error string ("" when none).
func (o *Orchestrator) ErrorMessage() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errMsg
}

// fail retains the message and funnels it to the error callback, then
// returns the error for the caller.
func (o *Orchestrator) fail(err error) error {
	msg := err.Error()
	o.mu.Lock()
	o.errMsg = msg
	o.mu.Unlock()
	if cb := o.cb.Load(); cb.OnError != nil {
		cb.OnError(msg)
	}
	return err
}
