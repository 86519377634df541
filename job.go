package gaspar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	gotick "github.com/go-tick/core"
)

// Enqueuer hands a symbolic job reference to an external work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, ref string, args ...any) error
}

// EnqueuerFunc adapts a function to Enqueuer.
type EnqueuerFunc func(ctx context.Context, ref string, args ...any) error

func (f EnqueuerFunc) Enqueue(ctx context.Context, ref string, args ...any) error {
	return f(ctx, ref, args...)
}

// Target is what a job does when this process wins an occurrence: either
// run a closure or enqueue a reference for a worker pool.
type Target struct {
	fn   JobFunc
	ref  string
	args []any
}

func Func(fn JobFunc) Target {
	return Target{fn: fn}
}

func Ref(ref string, args ...any) Target {
	return Target{ref: ref, args: args}
}

func (t Target) isRef() bool {
	return t.fn == nil
}

// defaultName is "ref(arg1, arg2)" for references and empty for closures.
func (t Target) defaultName() string {
	if !t.isRef() {
		return ""
	}

	parts := make([]string, len(t.args))
	for i, arg := range t.args {
		parts[i] = fmt.Sprint(arg)
	}

	return fmt.Sprintf("%s(%s)", t.ref, strings.Join(parts, ", "))
}

type JobConfig struct {
	name string
}

type JobOption = gotick.Option[JobConfig]

// WithName sets the job's fleet-wide name. Two members register the same
// job only if they give it the same name and timing.
func WithName(name string) JobOption {
	return func(config *JobConfig) {
		config.name = name
	}
}

type jobSpec struct {
	name   string
	timing string
	kind   TimingKind
	period time.Duration
	key    string
	ttl    time.Duration
	body   JobFunc
}

func (j *jobSpec) occurrence(firedAt time.Time) Occurrence {
	return Occurrence{
		Name:    j.name,
		Timing:  j.timing,
		Kind:    j.kind,
		Key:     j.key,
		TTL:     j.ttl,
		Period:  j.period,
		FiredAt: firedAt,
	}
}

// newJobSpec resolves name and body. Every configuration problem surfaces
// here, at registration, rather than at fire time.
func newJobSpec(cfg *Config, kind TimingKind, timing string, period time.Duration, target Target, options []JobOption) (*jobSpec, error) {
	jc := &JobConfig{}
	for _, option := range options {
		option(jc)
	}

	if target.fn == nil && target.ref == "" {
		return nil, errors.Wrap(ErrConfiguration, "job has neither a function nor a reference")
	}

	name := jc.name
	if name == "" {
		name = target.defaultName()
	}
	if name == "" {
		return nil, errors.Wrapf(ErrMissingJobName, "%s %q", kind, timing)
	}

	body := target.fn
	if target.isRef() {
		if cfg.dispatchMode != DispatchQueue || cfg.enqueuer == nil {
			return nil, errors.Wrapf(ErrNoEnqueuer, "job %q in %s dispatch mode", name, cfg.dispatchMode)
		}

		enqueuer, ref, args := cfg.enqueuer, target.ref, target.args
		body = func(ctx context.Context) error {
			return enqueuer.Enqueue(ctx, ref, args...)
		}
	}

	return &jobSpec{
		name:   name,
		timing: timing,
		kind:   kind,
		period: period,
		key:    OccurrenceKey(cfg.namespace, timing, name),
		ttl:    LockTTL(period),
		body:   body,
	}, nil
}
