package models

import "time"

// Lock is a TTL-bounded advisory lock record. At most one live (unexpired)
// holder may exist per key; expired records are reclaimable.
type Lock struct {
	Key        string    `json:"key"`
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IsExpired reports whether the lock's TTL has elapsed at the given instant.
func (l *Lock) IsExpired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
