package gaspar

import (
	"context"

	"github.com/cockroachdb/errors"
)

// JobFunc is the body of an inline job.
type JobFunc func(ctx context.Context) error

type HookFunc func(ctx context.Context, occ Occurrence) error

// AroundFunc decides whether and when to call next.
type AroundFunc func(ctx context.Context, occ Occurrence, next JobFunc) error

type hookKind int

const (
	hookBefore hookKind = iota
	hookAfter
	hookAround
)

type Hook struct {
	kind   hookKind
	fn     HookFunc
	around AroundFunc
}

// Before runs fn ahead of every job body. An error skips the body.
func Before(fn HookFunc) Hook {
	return Hook{kind: hookBefore, fn: fn}
}

// After runs fn once the body returned, failed or panicked.
func After(fn HookFunc) Hook {
	return Hook{kind: hookAfter, fn: fn}
}

func Around(fn AroundFunc) Hook {
	return Hook{kind: hookAround, around: fn}
}

type CallbackChain struct {
	before []HookFunc
	after  []HookFunc
	around []AroundFunc
}

func (c *CallbackChain) Add(hooks ...Hook) {
	for _, h := range hooks {
		switch h.kind {
		case hookBefore:
			c.before = append(c.before, h.fn)
		case hookAfter:
			c.after = append(c.after, h.fn)
		case hookAround:
			c.around = append(c.around, h.around)
		}
	}
}

// Wrap composes the chain around body. Around hooks nest in registration
// order, the first registered being outermost.
func (c *CallbackChain) Wrap(occ Occurrence, body JobFunc) JobFunc {
	next := body
	for i := len(c.around) - 1; i >= 0; i-- {
		around, inner := c.around[i], next
		next = func(ctx context.Context) error {
			return around(ctx, occ, inner)
		}
	}

	return func(ctx context.Context) (err error) {
		defer func() {
			for _, after := range c.after {
				if herr := after(ctx, occ); herr != nil {
					err = errors.CombineErrors(err, errors.Wrap(herr, "after hook"))
				}
			}
		}()

		for _, before := range c.before {
			if herr := before(ctx, occ); herr != nil {
				return errors.Wrap(herr, "before hook")
			}
		}

		return next(ctx)
	}
}
