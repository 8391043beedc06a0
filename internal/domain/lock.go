package domain

import (
	"context"
	"time"
)

// LockManager provides distributed mutual exclusion for cross-process
// critical sections. Acquire returns ErrLockHeld when another holder owns
// the key; the returned release function is safe to call more than once.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
