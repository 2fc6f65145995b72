// Package locking provides the per-statement critical sections that serialize
// mutating reconciliation operations.
package locking

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrNotAcquired is returned when a lock is still held by someone else after
// the configured wait.
var ErrNotAcquired = errors.New("lock not acquired")

// ErrLockLost is returned by Release when the lock expired and was taken over.
var ErrLockLost = errors.New("lock expired before release")

// Locker hands out exclusive locks by key
type Locker interface {
	// Acquire blocks until key is held, ctx ends or the wait timeout elapses.
	Acquire(ctx context.Context, key string) (Lock, error)
}

// Lock is a held lock
type Lock interface {
	Release(ctx context.Context) error
}

// Config controls how long callers wait for a lock
type Config struct {
	WaitTimeout   time.Duration `mapstructure:"wait_timeout"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	// TTL bounds how long a distributed lock survives a crashed holder.
	TTL time.Duration `mapstructure:"ttl"`
}

// DefaultConfig waits up to two seconds
func DefaultConfig() Config {
	return Config{
		WaitTimeout:   2 * time.Second,
		RetryInterval: 50 * time.Millisecond,
		TTL:           30 * time.Second,
	}
}

// Validate checks the lock timings
func (c Config) Validate() error {
	if c.WaitTimeout < 0 {
		return fmt.Errorf("wait timeout cannot be negative: %s", c.WaitTimeout)
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("retry interval must be positive: %s", c.RetryInterval)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive: %s", c.TTL)
	}
	return nil
}

// StatementKey is the lock key of a statement
func StatementKey(statementID int64) string {
	return fmt.Sprintf("reconcile:lock:statement:%d", statementID)
}
