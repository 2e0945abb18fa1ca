package store

import "time"

// entry is a single stored value plus its optional expiration. A zero
// expiresAt means the value never expires.
//
// entry is not safe for concurrent use on its own; all access is
// serialized by the owning shard's lock.
type entry struct {
	value     []byte
	expiresAt time.Time
}

// expired reports whether the entry is considered absent at instant now.
// An entry with a zero expiresAt never expires.
func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}
