// Package kv defines the key-value store contract gaspar coordinates through.
//
// The contract is the Redis subset gaspar needs: create-if-absent, expire,
// get and remaining time-to-live. Stores that can run a multi-step procedure
// atomically on the server side also implement ScriptingStore.
package kv

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	// NoExpiry is returned by TTL for a key that exists without a time-to-live.
	NoExpiry time.Duration = -1
	// KeyAbsent is returned by TTL for a key that does not exist.
	KeyAbsent time.Duration = -2
)

var ErrKeyNotFound = errors.New("key not found")

type Store interface {
	// SetNX writes value at key only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string) (bool, error)
	// Expire sets the time-to-live of an existing key, rounded to whole seconds.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Get returns ErrKeyNotFound when key is absent.
	Get(ctx context.Context, key string) (string, error)
	// TTL returns the remaining time-to-live in whole seconds, NoExpiry or KeyAbsent.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// ScriptingStore is a Store able to acquire an expiring lock in one
// indivisible server-side step.
type ScriptingStore interface {
	Store

	// SupportsScripting probes whether AcquireLock can be used against the
	// running server. A false answer with a nil error means the server is
	// reachable but too old (or configured) to run it.
	SupportsScripting(ctx context.Context) (bool, error)

	// AcquireLock clears key if it exists without a time-to-live, then
	// creates it with value and ttl if absent. It reports whether the key
	// was created.
	AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// Seconds converts ttl to the whole number of seconds stores work with,
// never less than one.
func Seconds(ttl time.Duration) int64 {
	s := int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		s++
	}
	if s < 1 {
		s = 1
	}
	return s
}
