package gaspar

import (
	"context"
	"fmt"
	"time"

	"github.com/go-tick/gaspar/kv"
	"github.com/rs/zerolog"
)

type LockStrategy int

const (
	// LockFallback creates the key and expires it in two round trips. A
	// process dying between the two leaves a key without TTL behind; it is
	// only cleared by a member running LockAtomic.
	LockFallback LockStrategy = iota
	// LockAtomic runs clear-stale, create and expire as one server-side step.
	LockAtomic
)

func (s LockStrategy) String() string {
	if s == LockAtomic {
		return "atomic"
	}
	return "fallback"
}

// LockToken is the value stored under an occurrence key.
type LockToken struct {
	Owner      string
	AcquiredAt time.Time
}

func (t LockToken) String() string {
	return fmt.Sprintf("%s@%d", t.Owner, t.AcquiredAt.Unix())
}

type lockManager struct {
	store    kv.Store
	scripted kv.ScriptingStore
	strategy LockStrategy
	identity string
	now      func() time.Time
	timeout  time.Duration
	log      zerolog.Logger
	metrics  *metrics
}

func newLockManager(store kv.Store, cfg *Config, log zerolog.Logger, m *metrics) *lockManager {
	return &lockManager{
		store:    store,
		strategy: LockFallback,
		identity: cfg.identity,
		now:      cfg.now,
		timeout:  cfg.lockTimeout,
		log:      log,
		metrics:  m,
	}
}

// probe picks the strategy for the lifetime of this start. An unreachable
// store leaves the fallback selected.
func (m *lockManager) probe(ctx context.Context) LockStrategy {
	m.strategy = LockFallback
	m.scripted = nil

	scripted, ok := m.store.(kv.ScriptingStore)
	if !ok {
		return m.strategy
	}

	supported, err := scripted.SupportsScripting(ctx)
	if err != nil {
		m.metrics.storeError("probe")
		m.log.Warn().Err(err).Msg("scripting probe failed, using fallback locks")
		return m.strategy
	}

	if supported {
		m.strategy = LockAtomic
		m.scripted = scripted
	}

	return m.strategy
}

// Acquire reports whether this process owns key until ttl elapses. A store
// error is returned together with false; the occurrence is lost, not retried.
func (m *lockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	token := LockToken{Owner: m.identity, AcquiredAt: m.now()}.String()

	if m.strategy == LockAtomic {
		ok, err := m.scripted.AcquireLock(ctx, key, token, ttl)
		if err != nil {
			return false, storeError(err, "acquire lock")
		}
		return ok, nil
	}

	ok, err := m.store.SetNX(ctx, key, token)
	if err != nil {
		return false, storeError(err, "create lock")
	}
	if !ok {
		return false, nil
	}

	if _, err := m.store.Expire(ctx, key, ttl); err != nil {
		// The key is ours; run the occurrence and leave the TTL-less key behind.
		m.metrics.storeError("expire")
		m.log.Warn().Err(err).Str("key", key).Msg("lock acquired without ttl")
	}

	return true, nil
}
