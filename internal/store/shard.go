package store

import (
	"sync"
	"time"

	"github.com/eaneto/ssache/internal/metrics"
)

// shard is the unit of locking in the store. One exclusive mutex guards
// both the key/value map and every configured replica's log segment for
// the slice of keyspace this shard owns. There is no reader/writer split:
// contention is mitigated by sharding rather than by lock flavor.
type shard struct {
	entries  map[string]*entry
	segments []*segment // one per configured replica, same order as cfg.Replicas
	mu       sync.Mutex
	id       int
	sink     metrics.Sink
}

func newShard(id, replicaCount int, sink metrics.Sink) *shard {
	segs := make([]*segment, replicaCount)
	for i := range segs {
		segs[i] = &segment{}
	}
	return &shard{
		id:       id,
		entries:  make(map[string]*entry),
		segments: segs,
		sink:     sink,
	}
}

// get returns the value stored for key, or ErrNotFound if absent or
// expired. Lazily expired entries are evicted eagerly on read, which is
// allowed but not required by the store's expiration contract.
func (s *shard) get(key string, now time.Time) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sink.IncOp("get", s.id)

	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if e.expired(now) {
		delete(s.entries, key)
		return nil, ErrNotFound
	}
	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, nil
}

// set stores value under key, clearing any prior expiration, and appends a
// SET LogOp to every replica's segment for this shard.
func (s *shard) set(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sink.IncOp("set", s.id)

	stored := make([]byte, len(value))
	copy(stored, value)
	s.entries[key] = &entry{value: stored}
	s.appendLog(LogOp{Kind: OpSet, Key: key, Value: stored})
	s.sink.SetKeys(s.id, len(s.entries))
}

// setWithExpiry is like set but preserves an explicit absolute expiration,
// used by Load to reconstruct entries from a dump file. It does not append
// a LogOp: loaded state is not itself a live write to replicate.
func (s *shard) setWithExpiry(key string, value []byte, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.entries[key] = &entry{value: stored, expiresAt: expiresAt}
	s.sink.SetKeys(s.id, len(s.entries))
}

// expire sets key's absolute expiration to now+ttl. Returns ErrNotFound if
// the key is absent or already expired. Not replicated: see DESIGN.md.
func (s *shard) expire(key string, ttl time.Duration, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sink.IncOp("expire", s.id)

	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		return ErrNotFound
	}
	e.expiresAt = now.Add(ttl)
	return nil
}

// incrDecr adds delta (+1 or -1) to the integer stored at key, initializing
// absent or expired keys to 0 first. Returns ErrTypeMismatch if the current
// value is not a valid signed 64-bit decimal integer.
func (s *shard) incrDecr(key string, delta int64, kind OpKind, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kind == OpIncr {
		s.sink.IncOp("incr", s.id)
	} else {
		s.sink.IncOp("decr", s.id)
	}

	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		e = &entry{value: []byte("0")}
		s.entries[key] = e
	}

	current, err := parseInt(e.value)
	if err != nil {
		return 0, ErrTypeMismatch
	}

	next := current + delta
	e.value = formatInt(next)
	e.expiresAt = time.Time{}
	s.appendLog(LogOp{Kind: kind, Key: key})
	s.sink.SetKeys(s.id, len(s.entries))
	return next, nil
}

// appendLog must be called with s.mu held.
func (s *shard) appendLog(op LogOp) {
	for _, seg := range s.segments {
		seg.append(op)
	}
}

// reap removes every entry whose expiration has elapsed as of now, and
// returns the count removed. Reaper deletions are never replicated.
func (s *shard) reap(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		s.sink.SetKeys(s.id, len(s.entries))
	}
	return removed
}

// snapshot returns a copy of every non-expired (key, value, expiresAt)
// triple, holding the shard's lock only for the duration of the copy.
func (s *shard) snapshot(now time.Time) []snapshotEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]snapshotEntry, 0, len(s.entries))
	for key, e := range s.entries {
		if e.expired(now) {
			continue
		}
		value := make([]byte, len(e.value))
		copy(value, e.value)
		out = append(out, snapshotEntry{key: key, value: value, expiresAt: e.expiresAt})
	}
	return out
}

// drainSegment returns up to max unacknowledged ops for replicaIdx along
// with the high-water mark to pass to commitSegment, without holding the
// lock across any I/O.
func (s *shard) drainSegment(replicaIdx, max int) ([]LogOp, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segments[replicaIdx].drain(max)
}

// commitSegment applies the drain-and-reset rule for replicaIdx after a
// successful transmission of the batch produced by drainSegment.
func (s *shard) commitSegment(replicaIdx, highWater int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments[replicaIdx].commit(highWater)
}

// segmentLag reports len(ops)-offset for replicaIdx, for metrics.
func (s *shard) segmentLag(replicaIdx int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg := s.segments[replicaIdx]
	return len(seg.ops) - seg.offset
}

type snapshotEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}
