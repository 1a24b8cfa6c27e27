// package repositories provides SQLite persistence for tokens and campaigns
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// maxUpdateAttempts bounds optimistic-lock retries.
const maxUpdateAttempts = 5

// Millisecond timestamps are stored as INTEGER, with 0 for the zero time.

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// NextSequence bumps the single-row counter in <table>_sequence and returns the new value.
//
// The counter numbers campaigns for logs and never goes backwards, even when a campaign is replaced.
func NextSequence(ctx context.Context, db *sql.DB, table string) (int, error) {
	query := fmt.Sprintf("UPDATE %s_sequence SET value = value + 1 WHERE id = 1 RETURNING value", table)

	var next int
	if err := db.QueryRowContext(ctx, query).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to advance %s sequence: %w", table, err)
	}
	return next, nil
}
