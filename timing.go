package gaspar

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

type TimingKind string

const (
	TimingInterval TimingKind = "every"
	TimingCron     TimingKind = "cron"
)

// ParseInterval parses an interval descriptor: a Go duration ("5m",
// "0.35s") or a bare number of seconds ("300").
func ParseInterval(descriptor string) (time.Duration, error) {
	s := strings.TrimSpace(descriptor)
	if s == "" {
		return 0, errors.Wrap(ErrInvalidTiming, "interval required")
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		secs, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, errors.Wrapf(ErrInvalidTiming, "cannot parse interval %q", descriptor)
		}
		d = time.Duration(secs * float64(time.Second))
	}

	if d <= 0 {
		return 0, errors.Wrapf(ErrInvalidTiming, "interval %q must be positive", descriptor)
	}

	return d, nil
}

// ParseCron parses a standard five-field cron expression or a descriptor
// such as "@hourly".
func ParseCron(expr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidTiming, "cannot parse cron %q: %v", expr, err)
	}

	return schedule, nil
}

// CronPeriod returns the gap between the next two firings after from.
// Cron gaps are not uniform, so this is measured rather than assumed.
func CronPeriod(schedule cron.Schedule, from time.Time) time.Duration {
	next := schedule.Next(from)
	return schedule.Next(next).Sub(next)
}
