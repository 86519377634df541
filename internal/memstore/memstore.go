// Package memstore is an in-process kv.ScriptingStore.
//
// It keeps the semantics of a single Redis node (whole-second TTLs, lazily
// expired keys) and lets callers drive its clock, switch scripting support
// off and inject failures.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/go-tick/gaspar/kv"
)

type Option func(*Store)

type entry struct {
	value     string
	expiresAt time.Time
}

type Store struct {
	mu        sync.Mutex
	entries   map[string]entry
	now       func() time.Time
	scripting bool
	err       error
}

var _ kv.ScriptingStore = (*Store)(nil)

func New(options ...Option) *Store {
	s := &Store{
		entries:   make(map[string]entry),
		now:       time.Now,
		scripting: true,
	}

	for _, option := range options {
		option(s)
	}

	return s
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithScripting controls the answer of SupportsScripting.
func WithScripting(enabled bool) Option {
	return func(s *Store) {
		s.scripting = enabled
	}
}

// Fail makes every following operation return err until Fail(nil).
func (s *Store) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Store) SetNX(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return false, s.err
	}

	if _, ok := s.liveLocked(key); ok {
		return false, nil
	}

	s.entries[key] = entry{value: value}
	return true, nil
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return false, s.err
	}

	e, ok := s.liveLocked(key)
	if !ok {
		return false, nil
	}

	e.expiresAt = s.now().Add(time.Duration(kv.Seconds(ttl)) * time.Second)
	s.entries[key] = e
	return true, nil
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return "", s.err
	}

	e, ok := s.liveLocked(key)
	if !ok {
		return "", kv.ErrKeyNotFound
	}

	return e.value, nil
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return 0, s.err
	}

	e, ok := s.liveLocked(key)
	if !ok {
		return kv.KeyAbsent, nil
	}

	if e.expiresAt.IsZero() {
		return kv.NoExpiry, nil
	}

	remaining := e.expiresAt.Sub(s.now())
	return (remaining + time.Second/2).Truncate(time.Second), nil
}

func (s *Store) SupportsScripting(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return false, s.err
	}

	return s.scripting, nil
}

func (s *Store) AcquireLock(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return false, s.err
	}

	e, ok := s.liveLocked(key)
	if ok && e.expiresAt.IsZero() {
		delete(s.entries, key)
		ok = false
	}

	if ok {
		return false, nil
	}

	s.entries[key] = entry{
		value:     value,
		expiresAt: s.now().Add(time.Duration(kv.Seconds(ttl)) * time.Second),
	}
	return true, nil
}

func (s *Store) liveLocked(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}

	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return entry{}, false
	}

	return e, true
}
