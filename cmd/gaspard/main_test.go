package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-tick/gaspar"
	"github.com/go-tick/gaspar/internal/memstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
namespace: billing
log_level: debug
drain_timeout: 30s
store:
  driver: memory
  purge_interval: 0s
metrics:
  addr: ":9108"
jobs:
  - name: heartbeat
    every: 30s
    log: still alive
  - name: nightly
    cron: "0 3 * * *"
`

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "gaspard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigShouldReadFileOverDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "billing", cfg.Namespace)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.DrainTimeout)
	assert.Equal(t, gaspar.DefaultResyncInterval, cfg.ResyncInterval)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.True(t, cfg.Store.Scripting)
	assert.Equal(t, ":9108", cfg.Metrics.Addr)
	require.Len(t, cfg.Jobs, 2)
	assert.Equal(t, JobConfig{Name: "heartbeat", Every: "30s", Log: "still alive"}, cfg.Jobs[0])
	assert.Equal(t, "0 3 * * *", cfg.Jobs[1].Cron)
}

func TestLoadConfigShouldApplyEnvironment(t *testing.T) {
	t.Setenv("GASPAR_NAMESPACE", "from-env")
	t.Setenv("GASPAR_STORE_ADDR", "redis:6380")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Namespace)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "redis:6380", cfg.Store.Addr)
}

func TestLoadConfigShouldRejectInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "store:\n  driver: etcd\n"},
		{"postgres without dsn", "store:\n  driver: postgres\n"},
		{"job with both timings", "jobs:\n  - name: x\n    every: 1m\n    cron: \"* * * * *\"\n"},
		{"job without timing", "jobs:\n  - name: x\n"},
		{"ref without amqp", "jobs:\n  - every: 1m\n    ref: Report\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

type recordingEngine struct {
	mu        sync.Mutex
	intervals []time.Duration
	crons     []string
}

func (e *recordingEngine) RegisterInterval(_ time.Time, period time.Duration, _ func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.intervals = append(e.intervals, period)
	return nil
}

func (e *recordingEngine) RegisterCron(expr string, _ func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.crons = append(e.crons, expr)
	return nil
}

func (e *recordingEngine) Start() {}
func (e *recordingEngine) Stop()  {}

type purgingStore struct {
	*memstore.Store
	purged int
}

func (s *purgingStore) PurgeExpired(context.Context) error {
	s.purged++
	return nil
}

func TestRegisterJobsShouldScheduleConfiguredJobs(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	cfg.Store.PurgeInterval = time.Hour

	engine := &recordingEngine{}
	store := &purgingStore{Store: memstore.New()}

	g, err := gaspar.New(gaspar.DefaultConfig(
		gaspar.WithEngineFactory(func() gaspar.TimerEngine { return engine }),
		gaspar.WithTerminalDetector(func() bool { return false }),
		gaspar.WithPermitTestMode(true),
	))
	require.NoError(t, err)

	require.NoError(t, g.Configure(registerJobs(cfg, store, zerolog.Nop())).Start(context.Background(), store))
	defer g.Shutdown(context.Background())

	assert.Equal(t, []time.Duration{30 * time.Second, time.Hour}, engine.intervals)
	assert.Equal(t, []string{"0 3 * * *"}, engine.crons)
}

func TestRegisterJobsShouldRequireNamesForLogJobs(t *testing.T) {
	cfg := &Config{Jobs: []JobConfig{{Every: "1m"}}}

	g, err := gaspar.New(gaspar.DefaultConfig(
		gaspar.WithEngineFactory(func() gaspar.TimerEngine { return &recordingEngine{} }),
		gaspar.WithTerminalDetector(func() bool { return false }),
		gaspar.WithPermitTestMode(true),
	))
	require.NoError(t, err)

	err = g.Configure(registerJobs(cfg, memstore.New(), zerolog.Nop())).Start(context.Background(), memstore.New())
	assert.ErrorIs(t, err, gaspar.ErrMissingJobName)
}
