// Package replication ships committed writes out to statically configured
// peer replicas. One Replicator runs per configured peer, draining every
// shard's per-replica log segment in round-robin order and replaying each
// batch over the same inline wire protocol clients use.
package replication

import (
	"bufio"
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/eaneto/ssache/internal/metrics"
	"github.com/eaneto/ssache/internal/protocol"
	"github.com/eaneto/ssache/internal/store"
)

const (
	maxBatchSize  = 100
	dialTimeout   = 2 * time.Second
	writeTimeout  = 30 * time.Second
	minBackoff    = time.Second
	maxBackoff    = 30 * time.Second
	idleScanSleep = 50 * time.Millisecond
)

// Replicator drains one replica's log segments across every shard and
// replays them against a peer address, reconnecting with exponential
// backoff when the peer is unreachable.
type Replicator struct {
	replicaIdx int
	addr       string
	store      *store.Store
	sink       metrics.Sink
	logger     *zap.Logger
}

// New builds a Replicator for the replica at index replicaIdx (the slot
// used when the Store was constructed), shipping writes to addr.
func New(replicaIdx int, addr string, st *store.Store, sink metrics.Sink, logger *zap.Logger) *Replicator {
	return &Replicator{
		replicaIdx: replicaIdx,
		addr:       addr,
		store:      st,
		sink:       sink,
		logger:     logger.With(zap.String("replica", addr)),
	}
}

// Run connects to the peer and ships drained batches until ctx is
// canceled. Dial failures and failures mid-stream are both retried after a
// backoff that doubles on each consecutive failure, capped at maxBackoff,
// and resets to minBackoff once a dial succeeds. Undelivered ops remain in
// the segment for the next attempt.
func (r *Replicator) Run(ctx context.Context) {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := net.DialTimeout("tcp", r.addr, dialTimeout)
		if err != nil {
			r.logger.Warn("dial failed", zap.Error(err))
			r.sink.IncReplicatorErrors(r.addr)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = minBackoff
		err = r.drainLoop(ctx, conn)
		conn.Close()
		if err == nil {
			continue
		}
		r.logger.Warn("replication stream failed", zap.Error(err))
		r.sink.IncReplicatorErrors(r.addr)
		if !sleepOrDone(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// drainLoop repeatedly sweeps every shard for this replica, sending any
// drained batch and committing it once the peer has replied to every op in
// the batch. It returns when ctx is canceled or the connection breaks.
func (r *Replicator) drainLoop(ctx context.Context, conn net.Conn) error {
	reader := bufio.NewReader(conn)

	for {
		if ctx.Err() != nil {
			return nil
		}

		sentAny := false
		for shard := 0; shard < r.store.ShardCount(); shard++ {
			batch, highWater := r.store.DrainSegment(shard, r.replicaIdx, maxBatchSize)
			if len(batch) == 0 {
				continue
			}
			sentAny = true

			if err := r.sendBatch(conn, reader, batch); err != nil {
				return err
			}
			r.store.CommitSegment(shard, r.replicaIdx, highWater)
			r.sink.IncReplicatorBatches(r.addr)
			r.sink.SetReplicatorLag(r.addr, shard, r.store.SegmentLag(shard, r.replicaIdx))
		}

		if !sentAny {
			if !sleepOrDone(ctx, idleScanSleep) {
				return nil
			}
		}
	}
}

// sendBatch writes every op in batch as an inline command and consumes one
// reply line per op, treating any write or read failure as a reason to
// reconnect rather than commit.
func (r *Replicator) sendBatch(conn net.Conn, reader *bufio.Reader, batch []store.LogOp) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	for _, op := range batch {
		if _, err := conn.Write(encodeOp(op)); err != nil {
			return err
		}
	}
	conn.SetReadDeadline(time.Now().Add(writeTimeout))
	for range batch {
		if _, err := protocol.ReadLine(reader); err != nil {
			return err
		}
	}
	return nil
}

// encodeOp renders a LogOp as the inline command a peer's handler expects.
func encodeOp(op store.LogOp) []byte {
	switch op.Kind {
	case store.OpIncr:
		return []byte("INCR " + op.Key + "\r\n")
	case store.OpDecr:
		return []byte("DECR " + op.Key + "\r\n")
	default:
		return []byte("SET " + op.Key + " " + string(op.Value) + "\r\n")
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// sleepOrDone waits for d or ctx cancellation, reporting whether the sleep
// completed normally (false means ctx was canceled first).
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
