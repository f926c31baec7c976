// Package feed is the realtime change feed for processing jobs: writers
// publish fresh job snapshots, readers register per-job listeners. The Redis
// implementation rides pub/sub; delivery is at-least-once from the consumer's
// point of view, so terminal-status handlers must be idempotent.
package feed

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"footergen/domain"
)

// Event is one observed change of a job record.
type Event struct {
	JobID string
	Job   *domain.ProcessingJob
}

type Handler func(Event)

// JobFeed delivers update events for a single job id. The returned func
// closes the registration; after it returns no further events are delivered
// to the handler.
type JobFeed interface {
	RegisterListener(jobID string, h Handler) (func(), error)
}

// Publisher pushes a fresh job snapshot into the feed. Best-effort: a lost
// event is recovered by the next one or by a one-shot fetch.
type Publisher interface {
	PublishUpdate(ctx context.Context, job *domain.ProcessingJob)
}

const defaultChannelPrefix = "fg:jobevents:"

type RedisFeed struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisFeed(rdb *redis.Client, prefix string) *RedisFeed {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisFeed{rdb: rdb, prefix: prefix}
}

func (f *RedisFeed) channel(jobID string) string {
	return f.prefix + strings.TrimSpace(jobID)
}

func (f *RedisFeed) PublishUpdate(ctx context.Context, job *domain.ProcessingJob) {
	if f == nil || f.rdb == nil || job == nil || strings.TrimSpace(job.ID) == "" {
		return
	}
	b, err := json.Marshal(job)
	if err != nil {
		log.Printf("feed: marshal job %s failed: %v", job.ID, err)
		return
	}
	if err := f.rdb.Publish(ctx, f.channel(job.ID), b).Err(); err != nil {
		log.Printf("feed: publish job %s failed: %v", job.ID, err)
	}
}

func (f *RedisFeed) RegisterListener(jobID string, h Handler) (func(), error) {
	jobID = strings.TrimSpace(jobID)
	// Subscription outlives the caller's context: it is closed explicitly via
	// the returned func.
	ps := f.rdb.Subscribe(context.Background(), f.channel(jobID))
	if _, err := ps.Receive(context.Background()); err != nil {
		_ = ps.Close()
		return nil, err
	}
	go func() {
		for msg := range ps.Channel() {
			var job domain.ProcessingJob
			if err := json.Unmarshal([]byte(msg.Payload), &job); err != nil {
				log.Printf("feed: bad event payload for job %s: %v", jobID, err)
				continue
			}
			h(Event{JobID: jobID, Job: &job})
		}
	}()
	return func() { _ = ps.Close() }, nil
}

// InMemoryFeed is a process-local feed for single-binary deployments and
// tests. Events are dispatched synchronously on the publisher's goroutine.
type InMemoryFeed struct {
	mu        sync.Mutex
	nextToken int
	listeners map[string]map[int]Handler
}

func NewInMemoryFeed() *InMemoryFeed {
	return &InMemoryFeed{listeners: make(map[string]map[int]Handler)}
}

func (f *InMemoryFeed) PublishUpdate(_ context.Context, job *domain.ProcessingJob) {
	if f == nil || job == nil {
		return
	}
	f.mu.Lock()
	hs := make([]Handler, 0, len(f.listeners[job.ID]))
	for _, h := range f.listeners[job.ID] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		cp := *job
		h(Event{JobID: job.ID, Job: &cp})
	}
}

func (f *InMemoryFeed) RegisterListener(jobID string, h Handler) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextToken++
	token := f.nextToken
	if f.listeners[jobID] == nil {
		f.listeners[jobID] = make(map[int]Handler)
	}
	f.listeners[jobID][token] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners[jobID], token)
	}, nil
}

// ListenerCount reports active registrations for a job id.
func (f *InMemoryFeed) ListenerCount(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners[jobID])
}
