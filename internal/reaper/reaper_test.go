package reaper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eaneto/ssache/internal/metrics"
	"github.com/eaneto/ssache/internal/store"
)

func TestNewBuildsReaperWithFixedInterval(t *testing.T) {
	st := store.New(1, 0, t.TempDir()+"/ssache.dump", metrics.Noop)
	r := New(st, metrics.Noop, zap.NewNop())

	require.NotNil(t, r)
	assert.Equal(t, Interval, r.interval)
	assert.Equal(t, time.Second, r.interval)
}

// evictionCounter records the eviction counts the reaper reports, so a test
// can tell a reaper sweep apart from the lazy eviction Store.Get performs.
type evictionCounter struct {
	metrics.Sink
	evicted atomic.Int64
}

func (c *evictionCounter) IncReaperEvictions(count int) {
	c.evicted.Add(int64(count))
}

func TestReaperEvictsExpiredEntriesOnTick(t *testing.T) {
	st := store.New(2, 0, t.TempDir()+"/ssache.dump", metrics.Noop)
	st.Set("k", []byte("v"))
	require.NoError(t, st.Expire("k", 0))

	sink := &evictionCounter{Sink: metrics.Noop}
	r := New(st, sink, zap.NewNop())
	r.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sink.evicted.Load() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expired key was never reaped")
}

func TestReaperRunStopsOnContextCancel(t *testing.T) {
	st := store.New(1, 0, t.TempDir()+"/ssache.dump", metrics.Noop)
	r := New(st, metrics.Noop, zap.NewNop())
	r.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
