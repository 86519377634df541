package main

import (
	"context"

	"github.com/cockroachdb/errors"
	gotick "github.com/go-tick/core"
	"github.com/go-tick/gaspar/internal/memstore"
	"github.com/go-tick/gaspar/kv"
	"github.com/go-tick/gaspar/pgstore"
	"github.com/go-tick/gaspar/redisstore"
	"github.com/redis/go-redis/v9"
)

// openStore connects the configured store. On success the closer is never nil.
func openStore(ctx context.Context, cfg StoreConfig) (kv.Store, func() error, error) {
	switch cfg.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})

		var options []gotick.Option[redisstore.Store]
		if !cfg.Scripting {
			options = append(options, redisstore.WithoutScripting())
		}

		store := redisstore.New(client, options...)
		if err := store.Ping(ctx); err != nil {
			return nil, nil, errors.CombineErrors(err, client.Close())
		}
		return store, client.Close, nil

	case "postgres":
		store, err := pgstore.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}

		if cfg.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, nil, errors.CombineErrors(err, store.Close())
			}
		}
		return store, store.Close, nil

	case "memory":
		return memstore.New(memstore.WithScripting(cfg.Scripting)), func() error { return nil }, nil
	}

	return nil, nil, errors.Newf("unknown store driver %q", cfg.Driver)
}
