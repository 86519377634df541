// Package pgstore implements kv.ScriptingStore on PostgreSQL.
//
// Keys live in the gaspar_kv table. Expiry is evaluated against the
// database clock, and the stored function gaspar_acquire_lock is the atomic
// lock path. Run Migrate once to create both.
package pgstore

import (
	"context"
	_ "embed"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-tick/gaspar/internal/repository"
	"github.com/go-tick/gaspar/kv"
	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

var _ kv.ScriptingStore = (*Store)(nil)

type Store struct {
	db   *sqlx.DB
	repo repository.Repository
}

// New wraps db. The caller owns the connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{
		db:   db,
		repo: repository.NewRepository(db),
	}
}

// Open connects to dsn with lib/pq.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "pgstore: connect")
	}

	return New(db), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the table and the lock function if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	return errors.Wrap(repository.Migrate(ctx, s.db, schema), "pgstore: migrate")
}

// PurgeExpired deletes expired rows. Expired rows are already invisible to
// every other operation; purging only reclaims space.
func (s *Store) PurgeExpired(ctx context.Context) error {
	return errors.Wrap(s.repo.PurgeExpired(ctx), "pgstore: purge")
}

func (s *Store) SetNX(ctx context.Context, key, value string) (bool, error) {
	ok, err := s.repo.Insert(ctx, key, value)
	if err != nil {
		return false, errors.Wrapf(err, "pgstore: setnx %q", key)
	}
	return ok, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.repo.Expire(ctx, key, kv.Seconds(ttl))
	if err != nil {
		return false, errors.Wrapf(err, "pgstore: expire %q", key)
	}
	return ok, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	entry, err := s.repo.Lookup(ctx, key)
	if err != nil {
		return "", errors.Wrapf(err, "pgstore: get %q", key)
	}
	if entry == nil {
		return "", kv.ErrKeyNotFound
	}
	return entry.Value, nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	entry, err := s.repo.Lookup(ctx, key)
	if err != nil {
		return 0, errors.Wrapf(err, "pgstore: ttl %q", key)
	}

	switch {
	case entry == nil:
		return kv.KeyAbsent, nil
	case entry.ExpiresAt == nil:
		return kv.NoExpiry, nil
	}

	remaining := entry.ExpiresAt.Sub(entry.Now)
	return (remaining + time.Second/2).Truncate(time.Second), nil
}

// SupportsScripting reports whether gaspar_acquire_lock is installed.
func (s *Store) SupportsScripting(ctx context.Context) (bool, error) {
	ok, err := s.repo.HasAcquireLock(ctx)
	if err != nil {
		return false, errors.Wrap(err, "pgstore: probe lock function")
	}
	return ok, nil
}

func (s *Store) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.repo.AcquireLock(ctx, key, value, kv.Seconds(ttl))
	if err != nil {
		return false, errors.Wrapf(err, "pgstore: acquire lock %q", key)
	}
	return ok, nil
}
