package store

import "errors"

// ErrNotFound is returned when an operation targets a key that does not
// exist in its shard, or whose entry has already expired.
//
// This mirrors the sentinel-error convention used throughout the storage
// layer: callers compare against this value rather than parsing error
// strings.
var ErrNotFound = errors.New("key not found")

// ErrTypeMismatch is returned by INCR/DECR when the stored value is not a
// valid signed 64-bit decimal integer.
var ErrTypeMismatch = errors.New("value is not an integer")

// ErrInvalidTTL is returned by EXPIRE when given a negative TTL.
var ErrInvalidTTL = errors.New("invalid ttl")

// ErrBadDumpFormat is returned by Load when the dump file's magic or
// version header does not match what this build writes.
var ErrBadDumpFormat = errors.New("bad dump format")
