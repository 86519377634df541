package main

import (
	"context"
	"time"

	"github.com/go-tick/gaspar"
	"github.com/go-tick/gaspar/kv"
	"github.com/rs/zerolog"
)

const purgeJobName = "gaspar:purge-expired"

type purger interface {
	PurgeExpired(ctx context.Context) error
}

// registerJobs turns the configured jobs into a gaspar configure block.
func registerJobs(cfg *Config, store kv.Store, log zerolog.Logger) gaspar.RegisterFunc {
	return func(g *gaspar.Gaspar) error {
		for _, job := range cfg.Jobs {
			if err := registerJob(g, job, log); err != nil {
				return err
			}
		}

		if p, ok := store.(purger); ok && cfg.Store.PurgeInterval > 0 {
			return g.Every(cfg.Store.PurgeInterval.String(), gaspar.Func(p.PurgeExpired), gaspar.WithName(purgeJobName))
		}

		return nil
	}
}

func registerJob(g *gaspar.Gaspar, job JobConfig, log zerolog.Logger) error {
	target := gaspar.Ref(job.Ref, job.Args...)
	if job.Ref == "" {
		target = gaspar.Func(logJob(job, log))
	}

	var options []gaspar.JobOption
	if job.Name != "" {
		options = append(options, gaspar.WithName(job.Name))
	}

	if job.Cron != "" {
		return g.Cron(job.Cron, target, options...)
	}
	return g.Every(job.Every, target, options...)
}

func logJob(job JobConfig, log zerolog.Logger) gaspar.JobFunc {
	message := job.Log
	if message == "" {
		message = "tick"
	}

	return func(context.Context) error {
		log.Info().Str("job", job.Name).Time("at", time.Now()).Msg(message)
		return nil
	}
}
