// Package journal records the management actions an operator ran from this
// machine, so a later "history" shows who moved what and how it went.
package journal

import (
	"context"
	"time"
)

// Record is one journal line.
type Record struct {
	ID        int64
	At        time.Time
	Server    string
	Command   string
	RequestID string
	// Outcome is "ok" or the error text.
	Outcome string
}

type Repository interface {
	Append(ctx context.Context, rec *Record) error
	// Latest returns up to limit records, newest first.
	Latest(ctx context.Context, limit int) ([]*Record, error)
}
