package gaspar

import (
	"sync"
	"time"

	gotick "github.com/go-tick/core"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(unix int64) *fakeClock {
	return &fakeClock{t: time.Unix(unix, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type registration struct {
	first  time.Time
	period time.Duration
	expr   string
	fn     func()
}

// manualEngine records registrations and fires them only when told to.
type manualEngine struct {
	mu            sync.Mutex
	registrations []registration
	started       bool
	stopped       bool
}

func (e *manualEngine) RegisterInterval(first time.Time, period time.Duration, fn func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registrations = append(e.registrations, registration{first: first, period: period, fn: fn})
	return nil
}

func (e *manualEngine) RegisterCron(expr string, fn func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registrations = append(e.registrations, registration{expr: expr, fn: fn})
	return nil
}

func (e *manualEngine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = true
}

func (e *manualEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
}

func (e *manualEngine) Registrations() []registration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]registration(nil), e.registrations...)
}

// FireAll runs every registered callback once, synchronously.
func (e *manualEngine) FireAll() {
	for _, r := range e.Registrations() {
		r.fn()
	}
}

// testConfig returns options for a process allowed to start inside go test.
func testConfig(clock *fakeClock, engine *manualEngine, options ...gotick.Option[Config]) *Config {
	base := []gotick.Option[Config]{
		WithClock(clock.Now),
		WithTerminalDetector(func() bool { return false }),
		WithPermitTestMode(true),
		WithEngineFactory(func() TimerEngine { return engine }),
		WithDrainTimeout(time.Second),
	}

	return DefaultConfig(append(base, options...)...)
}
