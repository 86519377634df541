package gaspar

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Every registers target to run once per period across the fleet. It may
// only be called from the configure block.
func (g *Gaspar) Every(timing string, target Target, options ...JobOption) error {
	period, err := ParseInterval(timing)
	if err != nil {
		return err
	}

	job, err := newJobSpec(g.cfg, TimingInterval, timing, period, target, options)
	if err != nil {
		return err
	}

	return g.register(job, func(s *session, fire func()) error {
		first := quantize(g.cfg.now(), s.drift.Offset(), period)
		return s.engine.RegisterInterval(first, period, fire)
	})
}

// Cron registers target on a cron expression. The lock expiry is derived
// from the gap between the expression's next two firings.
func (g *Gaspar) Cron(expr string, target Target, options ...JobOption) error {
	schedule, err := ParseCron(expr)
	if err != nil {
		return err
	}

	job, err := newJobSpec(g.cfg, TimingCron, expr, CronPeriod(schedule, g.cfg.now()), target, options)
	if err != nil {
		return err
	}

	return g.register(job, func(s *session, fire func()) error {
		return s.engine.RegisterCron(expr, fire)
	})
}

// CanRunIf installs a guard evaluated before the engine starts. A false
// answer aborts the start.
func (g *Gaspar) CanRunIf(guard func() bool) error {
	g.regMu.Lock()
	defer g.regMu.Unlock()

	if g.pending == nil {
		return ErrNotStarting
	}

	g.pending.canRun = guard
	return nil
}

// Use adds hooks wrapping every job of this start.
func (g *Gaspar) Use(hooks ...Hook) error {
	g.regMu.Lock()
	defer g.regMu.Unlock()

	if g.pending == nil {
		return ErrNotStarting
	}

	g.pending.chain.Add(hooks...)
	return nil
}

func (g *Gaspar) register(job *jobSpec, schedule func(*session, func()) error) error {
	g.regMu.Lock()
	defer g.regMu.Unlock()

	s := g.pending
	if s == nil {
		return ErrNotStarting
	}

	if err := schedule(s, s.fire(job)); err != nil {
		return errors.Wrapf(err, "schedule %q", job.name)
	}

	s.jobs = append(s.jobs, job.name)
	g.log.Debug().Str("job", job.name).Str("timing", job.timing).Dur("ttl", job.ttl).Msg("registered")
	return nil
}

// quantize returns the first instant after now, corrected by drift, that
// lies on the period grid. Members that agree on drift pick the same one.
func quantize(now time.Time, drift, period time.Duration) time.Time {
	adj := now.Add(-drift).UnixNano()
	p := int64(period)
	return time.Unix(0, adj+(p-adj%p)).In(now.Location())
}

// fire returns the engine callback for job. The occurrence counts as in
// flight from before the lock request until the body returns, so a drain
// never misses an occurrence that fired before shutdown. An occurrence that
// fires after shutdown began is dropped without touching the store.
func (s *session) fire(job *jobSpec) func() {
	g := s.g
	log := g.log.With().Str("job", job.name).Logger()

	return func() {
		g.running.inc()
		defer g.running.dec()

		if s.ctx.Err() != nil {
			return
		}

		occ := job.occurrence(g.cfg.now())

		// Bounded by the lock timeout, not by shutdown: a lock the store
		// commits must be followed by its run.
		won, err := s.locks.Acquire(context.WithoutCancel(s.ctx), job.key, job.ttl)
		if err != nil {
			g.metrics.storeError("lock")
			g.metrics.skipped.WithLabelValues(job.name).Inc()
			log.Warn().Err(err).Str("key", job.key).Msg("lock unavailable, occurrence skipped")
			return
		}
		if !won {
			g.metrics.skipped.WithLabelValues(job.name).Inc()
			log.Debug().Str("key", job.key).Msg("occurrence taken by another member")
			return
		}

		g.metrics.running.Inc()
		defer g.metrics.running.Dec()

		g.metrics.won.WithLabelValues(job.name).Inc()
		log.Info().Str("identity", g.cfg.identity).Msg("running")

		if err := s.run(occ, job); err != nil {
			g.metrics.failed.WithLabelValues(job.name).Inc()
			err = errors.Wrapf(err, "job %q", job.name)
			log.Error().Err(err).Msg("job failed")
			g.onError(err)
		}
	}
}

func (s *session) run(occ Occurrence, job *jobSpec) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrJobPanicked, "%v", r)
		}
	}()

	ctx := context.WithoutCancel(s.ctx)
	return s.chain.Wrap(occ, job.body)(ctx)
}
