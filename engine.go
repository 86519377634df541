package gaspar

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// TimerEngine fires registered callbacks. Each firing may run on its own
// goroutine; the engine must not wait for one callback before the next.
type TimerEngine interface {
	// RegisterInterval fires fn at first and then every period after it.
	RegisterInterval(first time.Time, period time.Duration, fn func()) error
	RegisterCron(expr string, fn func()) error
	Start()
	// Stop prevents future firings. Callbacks already running are not waited for.
	Stop()
}

type cronEngine struct {
	c *cron.Cron
}

// NewCronEngine returns a TimerEngine on robfig/cron. Cron expressions are
// evaluated in the local time zone unless prefixed with CRON_TZ.
func NewCronEngine(opts ...cron.Option) TimerEngine {
	return &cronEngine{c: cron.New(opts...)}
}

func (e *cronEngine) RegisterInterval(first time.Time, period time.Duration, fn func()) error {
	if period <= 0 {
		return errors.Wrapf(ErrInvalidTiming, "period %s", period)
	}

	e.c.Schedule(gridSchedule{first: first, period: period}, cron.FuncJob(fn))
	return nil
}

func (e *cronEngine) RegisterCron(expr string, fn func()) error {
	if _, err := e.c.AddFunc(expr, fn); err != nil {
		return errors.Wrapf(ErrInvalidTiming, "cannot schedule cron %q: %v", expr, err)
	}
	return nil
}

func (e *cronEngine) Start() {
	e.c.Start()
}

func (e *cronEngine) Stop() {
	e.c.Stop()
}

// gridSchedule fires on first + k*period. Every member anchored on the same
// quantized first fire lands on the same instants.
type gridSchedule struct {
	first  time.Time
	period time.Duration
}

func (s gridSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}

	steps := t.Sub(s.first)/s.period + 1
	return s.first.Add(steps * s.period)
}
