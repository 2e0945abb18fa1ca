// Package store implements SSache's sharded in-memory key/value engine:
// the fixed-size vector of lock-protected Shards, the FNV-1a key router,
// and the SAVE/LOAD dump-file round trip.
package store

import (
	"hash/fnv"
	"time"

	"github.com/eaneto/ssache/internal/metrics"
)

// Store owns a fixed-size vector of Shards and the immutable configuration
// needed to route keys, size replication segments, and locate the dump
// file. A Store is created once at process startup and lives for the
// lifetime of the process: shard count cannot change afterward.
type Store struct {
	shards   []*shard
	dumpPath string
	now      func() time.Time
}

// New creates a Store with shardCount shards, one log segment per
// replicaCount configured replicas in every shard. sink receives
// instrumentation for every shard; pass metrics.Noop to disable it.
func New(shardCount, replicaCount int, dumpPath string, sink metrics.Sink) *Store {
	if shardCount <= 0 {
		shardCount = 1
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = newShard(i, replicaCount, sink)
	}
	return &Store{shards: shards, dumpPath: dumpPath, now: time.Now}
}

// ShardCount returns the number of shards the store was created with.
func (s *Store) ShardCount() int {
	return len(s.shards)
}

// shardFor hashes key with FNV-1a and routes it to a shard index modulo
// the shard count. The hash is deterministic for the process lifetime but
// not cryptographic, matching the non-adversarial routing this store's
// keyspace partitioning is grounded on.
func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	idx := int(h.Sum32()) % len(s.shards)
	return s.shards[idx]
}

// Get returns the value for key, or ErrNotFound if it is absent or
// expired.
func (s *Store) Get(key string) ([]byte, error) {
	return s.shardFor(key).get(key, s.now())
}

// Set stores value under key, replacing any expiration, and enqueues a
// SET LogOp for every configured replica.
func (s *Store) Set(key string, value []byte) {
	s.shardFor(key).set(key, value)
}

// Expire sets key's time-to-live in milliseconds from now. Returns
// ErrNotFound if key is absent or already expired, ErrInvalidTTL if
// ttlMillis is negative. EXPIRE is never replicated.
func (s *Store) Expire(key string, ttlMillis int64) error {
	if ttlMillis < 0 {
		return ErrInvalidTTL
	}
	return s.shardFor(key).expire(key, time.Duration(ttlMillis)*time.Millisecond, s.now())
}

// Incr adds one to the integer stored at key, initializing absent or
// expired keys to 0 first, and returns the new value.
func (s *Store) Incr(key string) (int64, error) {
	return s.shardFor(key).incrDecr(key, 1, OpIncr, s.now())
}

// Decr subtracts one from the integer stored at key, initializing absent
// or expired keys to 0 first, and returns the new value.
func (s *Store) Decr(key string) (int64, error) {
	return s.shardFor(key).incrDecr(key, -1, OpDecr, s.now())
}

// ReapOnce scans every shard once, deleting entries whose expiration has
// elapsed, and returns the total number of entries removed.
func (s *Store) ReapOnce() int {
	total := 0
	now := s.now()
	for _, sh := range s.shards {
		total += sh.reap(now)
	}
	return total
}

// DrainSegment returns up to max unacknowledged LogOps for shardIdx's
// replicaIdx segment and the high-water mark to later commit, without
// holding the shard lock across any network I/O.
func (s *Store) DrainSegment(shardIdx, replicaIdx, max int) ([]LogOp, int) {
	return s.shards[shardIdx].drainSegment(replicaIdx, max)
}

// CommitSegment applies the drain-and-reset rule to shardIdx's replicaIdx
// segment after a successful transmission.
func (s *Store) CommitSegment(shardIdx, replicaIdx, highWater int) {
	s.shards[shardIdx].commitSegment(replicaIdx, highWater)
}

// SegmentLag reports the current unacknowledged op count for shardIdx's
// replicaIdx segment, for metrics reporting.
func (s *Store) SegmentLag(shardIdx, replicaIdx int) int {
	return s.shards[shardIdx].segmentLag(replicaIdx)
}
