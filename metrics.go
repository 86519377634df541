package gaspar

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "gaspar"

type metrics struct {
	won         *prometheus.CounterVec
	skipped     *prometheus.CounterVec
	failed      *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
	drift       prometheus.Gauge
	running     prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		won: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "occurrences_won_total",
			Help:      "Occurrences this process acquired the lock for and executed.",
		}, []string{"job"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "occurrences_skipped_total",
			Help:      "Occurrences another fleet member won, or that failed to reach the store.",
		}, []string{"job"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "job_failures_total",
			Help:      "Executions that returned an error or panicked.",
		}, []string{"job"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "store_errors_total",
			Help:      "Store operations that failed.",
		}, []string{"op"}),
		drift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "drift_seconds",
			Help:      "Estimated offset of the local clock from the store clock.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "running_jobs",
			Help:      "Job bodies currently executing in this process.",
		}),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	m.won, err = register(reg, m.won)
	if err != nil {
		return nil, err
	}
	m.skipped, err = register(reg, m.skipped)
	if err != nil {
		return nil, err
	}
	m.failed, err = register(reg, m.failed)
	if err != nil {
		return nil, err
	}
	m.storeErrors, err = register(reg, m.storeErrors)
	if err != nil {
		return nil, err
	}
	m.drift, err = register(reg, m.drift)
	if err != nil {
		return nil, err
	}
	m.running, err = register(reg, m.running)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// register reuses an identical collector already registered by another
// instance in the same process.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "register metrics")
	}

	return c, nil
}

func (m *metrics) storeError(op string) {
	m.storeErrors.WithLabelValues(op).Inc()
}
