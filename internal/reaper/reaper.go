// Package reaper runs the background expiration sweep: a fixed-cadence
// ticker that asks the store to evict expired entries, independent of and
// never competing with client-driven EXPIRE calls for replication.
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eaneto/ssache/internal/metrics"
	"github.com/eaneto/ssache/internal/store"
)

// Interval is the fixed cadence at which the reaper sweeps all shards for
// expired entries.
const Interval = time.Second

// Reaper periodically evicts expired entries from a Store. A zero value is
// not usable; construct one with New.
type Reaper struct {
	store    *store.Store
	sink     metrics.Sink
	logger   *zap.Logger
	interval time.Duration
}

// New builds a Reaper that sweeps st at the fixed Interval cadence.
func New(st *store.Store, sink metrics.Sink, logger *zap.Logger) *Reaper {
	return &Reaper{store: st, sink: sink, logger: logger, interval: Interval}
}

// Run sweeps once immediately and then on every tick until ctx is
// canceled. It is intended to be run on its own goroutine.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sweep()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reaper) sweep() {
	removed := r.store.ReapOnce()
	if removed == 0 {
		return
	}
	r.sink.IncReaperEvictions(removed)
	r.logger.Debug("reaper evicted expired entries", zap.Int("count", removed))
}
