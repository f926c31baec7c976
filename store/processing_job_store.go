package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"footergen/domain"
	"footergen/feed"
)

// ProcessingJobStore persists conversion job records. The record is shared
// state: both the orchestrator and the pipeline worker write to it with no
// optimistic-concurrency token at the API level (last write wins); the Redis
// implementation serializes each Update with WATCH internally.
type ProcessingJobStore interface {
	Create(ctx context.Context, job *domain.ProcessingJob) error
	Get(ctx context.Context, id string) (*domain.ProcessingJob, bool, error)
	Update(ctx context.Context, id string, fn func(j *domain.ProcessingJob)) (*domain.ProcessingJob, bool, error)
}

type InMemoryProcessingJobStore struct {
	mu     sync.Mutex
	jobs   map[string]*domain.ProcessingJob
	events feed.Publisher
}

func NewInMemoryProcessingJobStore(events feed.Publisher) *InMemoryProcessingJobStore {
	return &InMemoryProcessingJobStore{
		jobs:   make(map[string]*domain.ProcessingJob),
		events: events,
	}
}

func (s *InMemoryProcessingJobStore) Create(ctx context.Context, job *domain.ProcessingJob) error {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return errors.New("job id empty")
	}
	s.mu.Lock()
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	cp := *job
	s.jobs[job.ID] = &cp
	s.mu.Unlock()

	s.publish(ctx, job)
	return nil
}

func (s *InMemoryProcessingJobStore) Get(_ context.Context, id string) (*domain.ProcessingJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j == nil {
		return nil, false, nil
	}
	// Return a copy to avoid accidental mutation outside the lock.
	cp := *j
	return &cp, true, nil
}

func (s *InMemoryProcessingJobStore) Update(ctx context.Context, id string, fn func(j *domain.ProcessingJob)) (*domain.ProcessingJob, bool, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, false, nil
	}
	fn(j)
	j.UpdatedAt = time.Now()
	j.ProcessingPercent = domain.ClampPercent(j.ProcessingPercent)
	cp := *j
	s.mu.Unlock()

	s.publish(ctx, &cp)
	return &cp, true, nil
}

func (s *InMemoryProcessingJobStore) publish(ctx context.Context, job *domain.ProcessingJob) {
	if s.events != nil {
		s.events.PublishUpdate(ctx, job)
	}
}

type RedisProcessingJobStore struct {
	rdb       *redis.Client
	keyPrefix string
	ttl       time.Duration
	events    feed.Publisher
}

func readJobTTL() time.Duration {
	raw := strings.TrimSpace(os.Getenv("JOB_TTL_SECONDS"))
	if raw == "" {
		return 30 * 24 * time.Hour
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(n) * time.Second
}

// NewRedisProcessingJobStore opens the job store on an existing Redis client.
// events may be nil; when set, every successful Create/Update publishes the
// fresh snapshot to the job's feed channel.
func NewRedisProcessingJobStore(rdb *redis.Client, events feed.Publisher) (*RedisProcessingJobStore, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	ttl := readJobTTL()
	log.Printf("processing job store: redis enabled ttl=%s", ttl)

	return &RedisProcessingJobStore{
		rdb:       rdb,
		keyPrefix: "fg:procjob:",
		ttl:       ttl,
		events:    events,
	}, nil
}

func (s *RedisProcessingJobStore) key(id string) string {
	return s.keyPrefix + strings.TrimSpace(id)
}

func (s *RedisProcessingJobStore) Create(ctx context.Context, job *domain.ProcessingJob) error {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return errors.New("job id empty")
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.key(job.ID), b, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if s.events != nil {
		s.events.PublishUpdate(ctx, job)
	}
	return nil
}

func (s *RedisProcessingJobStore) Get(ctx context.Context, id string) (*domain.ProcessingJob, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false, nil
	}
	val, err := s.rdb.Get(ctx, s.key(id)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var job domain.ProcessingJob
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return nil, false, err
	}
	return &job, true, nil
}

func (s *RedisProcessingJobStore) Update(ctx context.Context, id string, fn func(j *domain.ProcessingJob)) (*domain.ProcessingJob, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false, nil
	}
	if fn == nil {
		return nil, false, errors.New("update fn is nil")
	}

	key := s.key(id)

	var out *domain.ProcessingJob
	var ok bool

	for i := 0; i < 8; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			val, err := tx.Get(ctx, key).Result()
			if err == redis.Nil {
				ok = false
				out = nil
				return nil
			}
			if err != nil {
				return err
			}
			var job domain.ProcessingJob
			if err := json.Unmarshal([]byte(val), &job); err != nil {
				return err
			}
			fn(&job)
			job.UpdatedAt = time.Now()
			job.ProcessingPercent = domain.ClampPercent(job.ProcessingPercent)
			out = &job
			ok = true

			nb, err := json.Marshal(&job)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, nb, s.ttl)
				return nil
			})
			return err
		}, key)

		if err == nil {
			if ok && s.events != nil {
				s.events.PublishUpdate(ctx, out)
			}
			return out, ok, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, false, err
	}

	return nil, false, errors.New("redis update retry exceeded")
}
