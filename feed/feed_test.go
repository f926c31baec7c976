package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"footergen/domain"
)

func TestInMemoryFeedDispatch(t *testing.T) {
	f := NewInMemoryFeed()

	var got []Event
	unsub, err := f.RegisterListener("j1", func(ev Event) { got = append(got, ev) })
	require.NoError(t, err)

	f.PublishUpdate(context.Background(), &domain.ProcessingJob{ID: "j1", ProcessingPercent: 10})
	f.PublishUpdate(context.Background(), &domain.ProcessingJob{ID: "other", ProcessingPercent: 50})

	require.Len(t, got, 1, "listener only sees its own job id")
	assert.Equal(t, "j1", got[0].JobID)
	assert.Equal(t, 10, got[0].Job.ProcessingPercent)

	unsub()
	assert.Equal(t, 0, f.ListenerCount("j1"))
	f.PublishUpdate(context.Background(), &domain.ProcessingJob{ID: "j1", ProcessingPercent: 99})
	assert.Len(t, got, 1, "no delivery after unsubscribe")
}

func TestInMemoryFeedDeliversCopies(t *testing.T) {
	f := NewInMemoryFeed()

	var seen *domain.ProcessingJob
	_, err := f.RegisterListener("j1", func(ev Event) { seen = ev.Job })
	require.NoError(t, err)

	src := &domain.ProcessingJob{ID: "j1", ProcessingPercent: 10}
	f.PublishUpdate(context.Background(), src)
	src.ProcessingPercent = 90

	require.NotNil(t, seen)
	assert.Equal(t, 10, seen.ProcessingPercent, "handler gets a snapshot, not the shared pointer")
}

func TestRedisFeedRoundtrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := NewRedisFeed(rdb, "")

	var mu sync.Mutex
	var got []Event
	unsub, err := f.RegisterListener("j1", func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})
	require.NoError(t, err)
	defer unsub()

	f.PublishUpdate(context.Background(), &domain.ProcessingJob{
		ID:                "j1",
		Status:            domain.JobStatusProcessing,
		ProcessingStep:    "rendering",
		ProcessingPercent: 60,
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "j1", got[0].JobID)
	assert.Equal(t, "rendering", got[0].Job.ProcessingStep)
	assert.Equal(t, 60, got[0].Job.ProcessingPercent)
}
