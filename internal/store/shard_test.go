package store

import (
	"testing"
	"time"

	"github.com/eaneto/ssache/internal/metrics"
)

func TestShardLogOpsAppendedOnSetAndIncrDecr(t *testing.T) {
	s := newShard(0, 2, metrics.Noop)

	s.set("k", []byte("v1"))
	s.set("k", []byte("v2"))
	if _, err := s.incrDecr("ctr", 1, OpIncr, time.Now()); err != nil {
		t.Fatalf("incr: %v", err)
	}

	for replica := 0; replica < 2; replica++ {
		seg := s.segments[replica]
		if len(seg.ops) != 3 {
			t.Fatalf("replica %d: expected 3 ops, got %d", replica, len(seg.ops))
		}
		if seg.ops[0].Kind != OpSet || seg.ops[1].Kind != OpSet || seg.ops[2].Kind != OpIncr {
			t.Errorf("replica %d: unexpected op kinds %+v", replica, seg.ops)
		}
	}
}

func TestShardExpireIsNotReplicated(t *testing.T) {
	s := newShard(0, 1, metrics.Noop)
	s.set("k", []byte("v"))

	before := len(s.segments[0].ops)
	if err := s.expire("k", 0, time.Now()); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(s.segments[0].ops) != before {
		t.Errorf("EXPIRE must not append a LogOp, segment grew from %d to %d", before, len(s.segments[0].ops))
	}
}

func TestShardDrainAndCommitResetsWhenQuiescent(t *testing.T) {
	s := newShard(0, 1, metrics.Noop)
	s.set("a", []byte("1"))
	s.set("b", []byte("2"))

	batch, hw := s.drainSegment(0, 100)
	if len(batch) != 2 {
		t.Fatalf("expected 2 ops in batch, got %d", len(batch))
	}
	s.commitSegment(0, hw)

	if got := s.segmentLag(0); got != 0 {
		t.Errorf("expected lag 0 after quiescent drain, got %d", got)
	}
	if len(s.segments[0].ops) != 0 {
		t.Errorf("expected segment truncated to empty, len=%d", len(s.segments[0].ops))
	}
}

func TestShardDrainAndCommitPreservesTailWrittenDuringSend(t *testing.T) {
	s := newShard(0, 1, metrics.Noop)
	s.set("a", []byte("1"))

	batch, hw := s.drainSegment(0, 100)
	if len(batch) != 1 {
		t.Fatalf("expected 1 op, got %d", len(batch))
	}

	// Simulate a write landing on the shard while the batch is in flight.
	s.set("b", []byte("2"))

	s.commitSegment(0, hw)

	if got := s.segmentLag(0); got != 1 {
		t.Errorf("expected 1 unacknowledged op remaining (the concurrent write), got %d", got)
	}
}

func TestShardDrainRespectsMaxBatchSize(t *testing.T) {
	s := newShard(0, 1, metrics.Noop)
	for i := 0; i < 250; i++ {
		s.set("k", []byte("v"))
	}

	batch, hw := s.drainSegment(0, 100)
	if len(batch) != 100 {
		t.Fatalf("expected batch capped at 100, got %d", len(batch))
	}
	if hw != 100 {
		t.Fatalf("expected high-water mark 100, got %d", hw)
	}
}

func TestShardOffsetNeverExceedsSegmentLength(t *testing.T) {
	s := newShard(0, 1, metrics.Noop)
	s.set("k", []byte("v"))

	_, hw := s.drainSegment(0, 100)
	s.commitSegment(0, hw)

	seg := s.segments[0]
	if seg.offset > len(seg.ops) {
		t.Fatalf("invariant violated: offset %d > len %d", seg.offset, len(seg.ops))
	}
}
