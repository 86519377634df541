package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-tick/gaspar/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func TestSetNXShouldRespectExpiry(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Unix(1000, 0)}
	s := New(WithClock(c.Now))

	ok, err := s.SetNX(ctx, "k", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "k", "b")
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, kv.NoExpiry, ttl)

	ok, err = s.Expire(ctx, "k", 3*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	c.now = c.now.Add(time.Second)
	ttl, err = s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, ttl)

	c.now = c.now.Add(2 * time.Second)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, kv.ErrKeyNotFound)

	ttl, err = s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, kv.KeyAbsent, ttl)
}

func TestAcquireLockShouldClearKeysWithoutExpiry(t *testing.T) {
	ctx := context.Background()
	s := New()

	ok, err := s.SetNX(ctx, "lock", "crashed")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AcquireLock(ctx, "lock", "winner", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	v, err := s.Get(ctx, "lock")
	require.NoError(t, err)
	assert.Equal(t, "winner", v)

	ok, err = s.AcquireLock(ctx, "lock", "loser", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailShouldBreakEveryOperation(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")
	s := New(WithScripting(false))
	s.Fail(boom)

	_, err := s.SetNX(ctx, "k", "v")
	assert.ErrorIs(t, err, boom)
	_, err = s.SupportsScripting(ctx)
	assert.ErrorIs(t, err, boom)

	s.Fail(nil)
	supported, err := s.SupportsScripting(ctx)
	require.NoError(t, err)
	assert.False(t, supported)
}
