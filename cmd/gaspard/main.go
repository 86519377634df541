package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	gotick "github.com/go-tick/core"
	"github.com/go-tick/gaspar"
	"github.com/go-tick/gaspar/amqpqueue"
	"github.com/go-tick/gaspar/pgstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gaspard",
	Short: "Run a gaspar fleet member",
	Long: `gaspard runs the jobs declared in its config file as one member of a fleet.

Start the same config on as many hosts as you like: every occurrence of every
job runs on exactly one of them. Members coordinate through Redis or Postgres.`,
	SilenceUsage: true,
	RunE:         run,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the gaspar table and lock function in Postgres",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if cfg.Store.Driver != "postgres" {
			return errors.Newf("migrate needs the postgres driver, have %q", cfg.Store.Driver)
		}

		store, err := pgstore.Open(cmd.Context(), cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer store.Close()

		return store.Migrate(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml, toml or json)")
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	options := []gotick.Option[gaspar.Config]{
		gaspar.WithNamespace(cfg.Namespace),
		gaspar.WithLogger(log),
		gaspar.WithDrainTimeout(cfg.DrainTimeout),
		gaspar.WithResyncInterval(cfg.ResyncInterval),
		gaspar.WithLockTimeout(cfg.LockTimeout),
		gaspar.WithRegisterer(prometheus.DefaultRegisterer),
		gaspar.WithErrorListeners(gaspar.ErrorListenerFunc(func(err error) {
			log.Debug().Err(err).Msg("error listener")
		})),
	}
	if cfg.Identity != "" {
		options = append(options, gaspar.WithIdentity(cfg.Identity))
	}
	if cfg.AllowTTY {
		options = append(options, gaspar.WithTerminalDetector(func() bool { return false }))
	}

	if cfg.AMQP.URL != "" {
		conn, err := amqpqueue.Dial(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			return err
		}
		defer conn.Close()

		publisher := amqpqueue.NewPublisher(conn.Channel(), cfg.AMQP.Queue,
			amqpqueue.WithExchange(cfg.AMQP.Exchange),
			amqpqueue.WithLogger(log),
		)
		options = append(options, gaspar.WithDispatchMode(gaspar.DispatchQueue), gaspar.WithEnqueuer(publisher))
	}

	g, err := gaspar.New(gaspar.DefaultConfig(options...))
	if err != nil {
		return err
	}

	if err := g.Configure(registerJobs(cfg, store, log)).Start(ctx, store); err != nil {
		return err
	}
	if !g.Started() {
		return errors.New("gaspard refused to start, see the log")
	}

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout+time.Second)
	defer cancel()
	g.Shutdown(drainCtx)

	return nil
}

func serveMetrics(addr string, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server")
		}
	}()

	return srv
}
