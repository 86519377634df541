package gaspar

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-tick/gaspar/kv"
	"github.com/rs/zerolog"
)

const (
	timesyncKey = "timesync"

	// ReferenceLifetime is the TTL put on the fleet's reference key. The
	// key's remaining TTL is a clock that only the store advances.
	ReferenceLifetime = 320000000 * time.Second
)

// driftSynchronizer estimates how far the local clock runs ahead of the
// store's clock, in whole seconds.
type driftSynchronizer struct {
	store   kv.Store
	key     string
	now     func() time.Time
	log     zerolog.Logger
	metrics *metrics

	offset atomic.Int64
}

func newDriftSynchronizer(store kv.Store, namespace string, now func() time.Time, log zerolog.Logger, m *metrics) *driftSynchronizer {
	return &driftSynchronizer{
		store:   store,
		key:     namespace + ":" + timesyncKey,
		now:     now,
		log:     log,
		metrics: m,
	}
}

// Sync anchors the reference epoch if the fleet has none yet and
// recomputes the offset. On failure the previous offset is kept.
func (d *driftSynchronizer) Sync(ctx context.Context) (int64, error) {
	drift, err := d.sync(ctx)
	if err != nil {
		d.metrics.storeError("timesync")
		d.log.Warn().Err(err).Int64("drift", d.offset.Load()).Msg("resync failed")
		return d.offset.Load(), err
	}

	d.offset.Store(drift)
	d.metrics.drift.Set(float64(drift))
	d.log.Debug().Int64("drift", drift).Msg("resynced")
	return drift, nil
}

// Offset is the last computed drift.
func (d *driftSynchronizer) Offset() time.Duration {
	return time.Duration(d.offset.Load()) * time.Second
}

func (d *driftSynchronizer) sync(ctx context.Context) (int64, error) {
	now := d.now().Unix()

	created, err := d.store.SetNX(ctx, d.key, strconv.FormatInt(now, 10))
	if err != nil {
		return 0, storeError(err, "anchor reference time")
	}

	if created {
		if _, err := d.store.Expire(ctx, d.key, ReferenceLifetime); err != nil {
			return 0, storeError(err, "expire reference time")
		}
	}

	raw, err := d.store.Get(ctx, d.key)
	if err != nil {
		return 0, storeError(err, "read reference time")
	}

	epoch, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "reference time %q", raw)
	}

	remaining, err := d.store.TTL(ctx, d.key)
	if err != nil {
		return 0, storeError(err, "read reference ttl")
	}

	switch remaining {
	case kv.KeyAbsent:
		return 0, errors.Newf("reference key %q vanished", d.key)
	case kv.NoExpiry:
		// anchored by a process that died before setting the lifetime
		if _, err := d.store.Expire(ctx, d.key, ReferenceLifetime); err != nil {
			return 0, storeError(err, "heal reference ttl")
		}
		remaining = ReferenceLifetime
	}

	return computeDrift(epoch, int64(ReferenceLifetime/time.Second), int64(remaining/time.Second), now), nil
}

// computeDrift is local time minus the store's notion of now, which is the
// epoch plus the lifetime already consumed from the reference key.
func computeDrift(epoch, lifetime, remaining, now int64) int64 {
	return now - (epoch + (lifetime - remaining))
}
