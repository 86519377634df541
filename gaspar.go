// Package gaspar triggers periodic and cron jobs exactly once across a fleet
// of processes that all register the same jobs.
//
// Members coordinate only through a shared key-value store: every scheduled
// occurrence maps to a key, and the member that creates the key runs the
// occurrence. The key expires shortly before the next occurrence. Local
// clocks are corrected by a drift estimate derived from the remaining TTL
// of a long-lived reference key, so the store's clock is the fleet's clock.
package gaspar

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-tick/gaspar/kv"
	"github.com/rs/zerolog"
)

type state int

const (
	stateUnconfigured state = iota
	stateConfigured
	stateStarting
	stateStarted
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateConfigured:
		return "configured"
	case stateStarting:
		return "starting"
	case stateStarted:
		return "started"
	case stateStopped:
		return "stopped"
	default:
		return "unconfigured"
	}
}

// RegisterFunc declares the jobs of a process. It runs on every Start, with
// Every, Cron, CanRunIf and Use available on g. Started reports false
// until the block has returned.
type RegisterFunc func(g *Gaspar) error

type Gaspar struct {
	cfg     *Config
	log     zerolog.Logger
	metrics *metrics
	running *runningJobs

	mu       sync.Mutex
	state    state
	block    RegisterFunc
	current  *session
	starting *session

	regMu   sync.Mutex
	pending *session
}

// session is everything bound to one Start: the store, the strategy probed
// against it and the engine firing this start's jobs.
type session struct {
	g      *Gaspar
	ctx    context.Context
	cancel context.CancelFunc

	store  kv.Store
	locks  *lockManager
	drift  *driftSynchronizer
	engine TimerEngine
	chain  *CallbackChain
	canRun func() bool
	jobs   []string

	resyncDone chan struct{}
}

func New(cfg *Config) (*Gaspar, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	m, err := newMetrics(cfg.registerer)
	if err != nil {
		return nil, err
	}

	return &Gaspar{
		cfg:     cfg,
		log:     cfg.logger.With().Str("comp", "gaspar").Str("namespace", cfg.namespace).Logger(),
		metrics: m,
		running: newRunningJobs(),
	}, nil
}

// Configure stores the job declarations. Only the first call has an
// effect until Destruct.
func (g *Gaspar) Configure(block RegisterFunc) *Gaspar {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != stateUnconfigured {
		return g
	}

	if block == nil {
		block = func(*Gaspar) error { return nil }
	}

	g.block = block
	g.state = stateConfigured
	return g
}

// Start begins scheduling against store. A process that must not run
// jobs (a controlling terminal, a false guard, go test) logs why and
// returns nil, staying configured. The store is probed and the configure
// block runs without holding the lifecycle lock, so a Shutdown during a
// slow start returns at once and the start fails with ErrStopped.
func (g *Gaspar) Start(ctx context.Context, store kv.Store) error {
	g.mu.Lock()
	switch g.state {
	case stateUnconfigured:
		g.mu.Unlock()
		return ErrNotConfigured
	case stateStarting, stateStarted:
		g.mu.Unlock()
		return nil
	case stateStopped:
		g.mu.Unlock()
		return ErrStopped
	}

	if reason := g.refusal(nil); reason != "" {
		g.mu.Unlock()
		g.log.Warn().Msg(reason)
		return nil
	}

	if store == nil {
		g.mu.Unlock()
		return errors.Wrap(ErrConfiguration, "no store")
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		g:          g,
		ctx:        sctx,
		cancel:     cancel,
		store:      store,
		locks:      newLockManager(store, g.cfg, g.log, g.metrics),
		drift:      newDriftSynchronizer(store, g.cfg.namespace, g.cfg.now, g.log, g.metrics),
		engine:     g.cfg.newEngine(),
		chain:      &CallbackChain{},
		resyncDone: make(chan struct{}),
	}
	s.chain.Add(g.cfg.hooks...)

	block := g.block
	g.state = stateStarting
	g.starting = s
	g.mu.Unlock()

	strategy := s.locks.probe(ctx)
	_, _ = s.drift.Sync(ctx)

	g.regMu.Lock()
	g.pending = s
	g.regMu.Unlock()

	err := block(g)

	g.regMu.Lock()
	g.pending = nil
	g.regMu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.starting != s {
		cancel()
		return ErrStopped
	}
	g.starting = nil

	if err != nil {
		cancel()
		g.state = stateConfigured
		return errors.Wrap(err, "configure jobs")
	}

	if reason := g.refusal(s.canRun); reason != "" {
		cancel()
		g.state = stateConfigured
		g.log.Warn().Msg(reason)
		return nil
	}

	g.current = s
	g.state = stateStarted
	go s.resyncLoop(g.cfg.resync)
	s.engine.Start()

	g.log.Info().
		Str("identity", g.cfg.identity).
		Stringer("strategy", strategy).
		Dur("drift", s.drift.Offset()).
		Strs("jobs", s.jobs).
		Msg("started")

	return nil
}

// Shutdown stops future occurrences and waits for occurrences in flight,
// bounded by the drain timeout and ctx. Jobs still running afterwards are
// abandoned. Shutting down a start in progress makes that Start fail.
func (g *Gaspar) Shutdown(ctx context.Context) {
	g.mu.Lock()
	switch g.state {
	case stateStarting:
		g.state = stateStopped
		g.starting = nil
		g.mu.Unlock()
		g.log.Info().Msg("stopped while starting")
		return
	case stateStarted:
	default:
		g.mu.Unlock()
		return
	}

	s := g.current
	g.state = stateStopped
	g.mu.Unlock()

	s.engine.Stop()
	s.cancel()
	<-s.resyncDone

	if left := g.running.wait(ctx, g.cfg.drainTimeout); left > 0 {
		g.log.Warn().Int("running", left).Dur("timeout", g.cfg.drainTimeout).Msg("shutdown with jobs still running")
		return
	}

	g.log.Info().Msg("stopped")
}

// Destruct shuts down and forgets the configuration, so the instance can
// be configured and started again.
func (g *Gaspar) Destruct(ctx context.Context) {
	g.Shutdown(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.state = stateUnconfigured
	g.block = nil
	g.current = nil
}

func (g *Gaspar) Started() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == stateStarted
}

// Drift is the last estimate of how far the local clock runs ahead of the
// store's.
func (g *Gaspar) Drift() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current == nil {
		return 0
	}
	return g.current.drift.Offset()
}

// Running is the number of occurrences this process is locking or running.
func (g *Gaspar) Running() int {
	return g.running.Count()
}

func (g *Gaspar) Strategy() LockStrategy {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current == nil {
		return LockFallback
	}
	return g.current.locks.strategy
}

func (g *Gaspar) onError(err error) {
	for _, listener := range g.cfg.errorListeners {
		listener.OnError(err)
	}
}

func (s *session) resyncLoop(interval time.Duration) {
	defer close(s.resyncDone)

	if interval <= 0 {
		<-s.ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.drift.Sync(s.ctx)
		}
	}
}
