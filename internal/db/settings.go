package db

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type Statistics struct {
	ScopeID         int64     `db:"scope_id"`
	TotalMessages   int64     `db:"total_messages"`
	DeletedMessages int64     `db:"deleted_messages"`
	TotalUsers      int64     `db:"total_users"`
	BannedUsers     int64     `db:"banned_users"`
	LastUpdated     time.Time `db:"last_updated"`
}

// StatsDelta is added to the scope counters. Negative values are rejected.
type StatsDelta struct {
	TotalMessages   int64
	DeletedMessages int64
	TotalUsers      int64
	BannedUsers     int64
}

func (d StatsDelta) IsZero() bool {
	return d == StatsDelta{}
}

func (d StatsDelta) Valid() bool {
	return d.TotalMessages >= 0 && d.DeletedMessages >= 0 && d.TotalUsers >= 0 && d.BannedUsers >= 0
}
