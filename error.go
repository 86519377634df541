package gaspar

import "github.com/cockroachdb/errors"

// Markers. Use errors.Is to classify a returned error.
var (
	ErrConfiguration  = errors.New("configuration error")
	ErrStoreTransient = errors.New("store unavailable")
)

var (
	ErrMissingJobName = errors.Mark(errors.New("no job name specified"), ErrConfiguration)
	ErrNoEnqueuer     = errors.Mark(errors.New("no enqueuer configured for a job reference"), ErrConfiguration)
	ErrInvalidTiming  = errors.Mark(errors.New("invalid timing"), ErrConfiguration)
	ErrNotConfigured  = errors.New("gaspar has not been configured")
	ErrNotStarting    = errors.New("jobs can only be registered while gaspar is starting")
	ErrStopped        = errors.New("gaspar has been stopped")
	ErrJobPanicked    = errors.New("job panicked")
)

type ErrorListener interface {
	OnError(err error)
}

// ErrorListenerFunc adapts a function to ErrorListener.
type ErrorListenerFunc func(err error)

func (f ErrorListenerFunc) OnError(err error) {
	f(err)
}

func storeError(err error, op string) error {
	return errors.Mark(errors.Wrap(err, op), ErrStoreTransient)
}
