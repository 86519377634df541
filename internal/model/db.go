package model

import "time"

// Entry is a live row of gaspar_kv. Now is the database clock at read
// time, so remaining TTL never depends on the caller's clock.
type Entry struct {
	Key       string     `db:"key"`
	Value     string     `db:"value"`
	ExpiresAt *time.Time `db:"expires_at"`
	Now       time.Time  `db:"now"`
}
