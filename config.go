package gaspar

import (
	"fmt"
	"os"
	"testing"
	"time"

	gotick "github.com/go-tick/core"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	DefaultNamespace      = "gaspar"
	DefaultDrainTimeout   = 15 * time.Second
	DefaultResyncInterval = time.Hour
	DefaultLockTimeout    = 5 * time.Second
)

// DispatchMode selects how symbolic job references are executed.
type DispatchMode int

const (
	// DispatchInline runs inline closures only; Ref targets are rejected.
	DispatchInline DispatchMode = iota
	// DispatchQueue forwards Ref targets to the configured Enqueuer.
	DispatchQueue
)

func (m DispatchMode) String() string {
	switch m {
	case DispatchInline:
		return "inline"
	case DispatchQueue:
		return "queue"
	default:
		return fmt.Sprintf("DispatchMode(%d)", int(m))
	}
}

type Config struct {
	namespace      string
	identity       string
	dispatchMode   DispatchMode
	enqueuer       Enqueuer
	guard          func() bool
	permitTestMode bool
	logger         zerolog.Logger

	now          func() time.Time
	isTerminal   func() bool
	isTestMode   func() bool
	newEngine    func() TimerEngine
	drainTimeout time.Duration
	resync       time.Duration
	lockTimeout  time.Duration

	hooks          []Hook
	errorListeners []ErrorListener
	registerer     prometheus.Registerer
}

func DefaultConfig(options ...gotick.Option[Config]) *Config {
	config := &Config{
		namespace:    DefaultNamespace,
		identity:     defaultIdentity(),
		dispatchMode: DispatchInline,
		logger:       zerolog.Nop(),
		now:          time.Now,
		isTerminal:   controllingTerminal,
		isTestMode:   testing.Testing,
		newEngine:    func() TimerEngine { return NewCronEngine() },
		drainTimeout: DefaultDrainTimeout,
		resync:       DefaultResyncInterval,
		lockTimeout:  DefaultLockTimeout,
	}

	for _, option := range options {
		option(config)
	}

	return config
}

func WithNamespace(namespace string) gotick.Option[Config] {
	return func(config *Config) {
		config.namespace = namespace
	}
}

// WithIdentity overrides the owner written into every lock this process takes.
func WithIdentity(identity string) gotick.Option[Config] {
	return func(config *Config) {
		config.identity = identity
	}
}

func WithDispatchMode(mode DispatchMode) gotick.Option[Config] {
	return func(config *Config) {
		config.dispatchMode = mode
	}
}

func WithEnqueuer(enqueuer Enqueuer) gotick.Option[Config] {
	return func(config *Config) {
		config.enqueuer = enqueuer
	}
}

// WithGuard installs a start predicate; Start refuses while it returns false.
func WithGuard(guard func() bool) gotick.Option[Config] {
	return func(config *Config) {
		config.guard = guard
	}
}

func WithPermitTestMode(permit bool) gotick.Option[Config] {
	return func(config *Config) {
		config.permitTestMode = permit
	}
}

func WithLogger(logger zerolog.Logger) gotick.Option[Config] {
	return func(config *Config) {
		config.logger = logger
	}
}

func WithClock(now func() time.Time) gotick.Option[Config] {
	return func(config *Config) {
		config.now = now
	}
}

func WithTerminalDetector(isTerminal func() bool) gotick.Option[Config] {
	return func(config *Config) {
		config.isTerminal = isTerminal
	}
}

func WithTestModeDetector(isTestMode func() bool) gotick.Option[Config] {
	return func(config *Config) {
		config.isTestMode = isTestMode
	}
}

// WithEngineFactory replaces the robfig/cron timer engine. The factory is
// called once per Start.
func WithEngineFactory(factory func() TimerEngine) gotick.Option[Config] {
	return func(config *Config) {
		config.newEngine = factory
	}
}

func WithDrainTimeout(timeout time.Duration) gotick.Option[Config] {
	return func(config *Config) {
		config.drainTimeout = timeout
	}
}

func WithResyncInterval(interval time.Duration) gotick.Option[Config] {
	return func(config *Config) {
		config.resync = interval
	}
}

func WithLockTimeout(timeout time.Duration) gotick.Option[Config] {
	return func(config *Config) {
		config.lockTimeout = timeout
	}
}

func WithHooks(hooks ...Hook) gotick.Option[Config] {
	return func(config *Config) {
		config.hooks = append(config.hooks, hooks...)
	}
}

func WithErrorListeners(listeners ...ErrorListener) gotick.Option[Config] {
	return func(config *Config) {
		config.errorListeners = append(config.errorListeners, listeners...)
	}
}

// WithRegisterer registers gaspar's collectors with reg.
func WithRegisterer(reg prometheus.Registerer) gotick.Option[Config] {
	return func(config *Config) {
		config.registerer = reg
	}
}

func defaultIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())
}

func controllingTerminal() bool {
	for _, f := range []*os.File{os.Stdout, os.Stderr} {
		if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
			return true
		}
	}

	return false
}
