package gaspar

import "time"

// expiryMargin keeps a lock from outliving the next occurrence of its job.
const expiryMargin = 5 * time.Second

// Occurrence is one scheduled firing of a job. Hooks observe it.
type Occurrence struct {
	Name    string
	Timing  string
	Kind    TimingKind
	Key     string
	TTL     time.Duration
	Period  time.Duration
	FiredAt time.Time
}

func OccurrenceKey(namespace, timing, name string) string {
	return namespace + ":" + timing + "-" + name
}

// LockTTL is period minus a five second margin in whole seconds, floored
// at one second.
func LockTTL(period time.Duration) time.Duration {
	ttl := period.Truncate(time.Second) - expiryMargin
	if ttl < time.Second {
		ttl = time.Second
	}

	return ttl
}
