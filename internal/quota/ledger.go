// Package quota enforces the per-user daily cap on successful research
// jobs. Records are bucketed by calendar day in a fixed reference
// timezone; only successful jobs count against the cap.
package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // register sqlite driver
)

// Outcome is a terminal job outcome recorded in the ledger.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"

	statusPending = "pending"
)

// ErrLedgerConflict reports a finalize that contradicts an earlier
// terminal status for the same job. This is an internal-consistency
// error: it should be logged loudly, never swallowed.
var ErrLedgerConflict = errors.New("ledger: conflicting terminal status")

// ErrUnknownJob reports a finalize for a job_id that was never reserved.
var ErrUnknownJob = errors.New("ledger: unknown job")

const schema = `
CREATE TABLE IF NOT EXISTS research_usage (
	job_id   TEXT PRIMARY KEY,
	user_id  TEXT NOT NULL,
	ref_date TEXT NOT NULL,
	status   TEXT NOT NULL CHECK(status IN ('pending','success','failed'))
);
CREATE INDEX IF NOT EXISTS idx_usage_user_date ON research_usage(user_id, ref_date);
`

// Ledger is the sqlite-backed quota record store. Safe for concurrent
// use from multiple jobs: every operation is a self-contained statement
// against a keyed record, and a job_id is only ever written by its own
// job.
type Ledger struct {
	db       *sql.DB
	dailyMax int
	loc      *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// Options configures a Ledger.
type Options struct {
	// DailyMax is the successful-job cap per user per reference day.
	DailyMax int

	// Timezone is the IANA name of the reference timezone.
	Timezone string

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time

	Logger *zap.Logger
}

// Open opens (and if needed creates) the ledger database at path.
// Use ":memory:" for an ephemeral ledger.
func Open(path string, opts Options) (*Ledger, error) {
	if opts.DailyMax <= 0 {
		return nil, fmt.Errorf("ledger: daily max must be positive")
	}
	tz := opts.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("ledger: load timezone: %w", err)
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("ledger: create data dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}

	// In-memory databases are per-connection; keep a single connection
	// so every statement sees the same data.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ledger: exec %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Ledger{
		db:       db,
		dailyMax: opts.DailyMax,
		loc:      loc,
		now:      now,
		logger:   logger,
	}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error { return l.db.Close() }

// DailyMax returns the configured successful-job cap.
func (l *Ledger) DailyMax() int { return l.dailyMax }

// ReferenceDate returns today's calendar date in the reference timezone.
func (l *Ledger) ReferenceDate() string {
	return l.now().In(l.loc).Format("2006-01-02")
}

// Reserve writes a pending record for jobID under today's reference date
// and returns the date used. Overwriting the same job_id is idempotent.
// A pending record never counts toward the daily cap.
func (l *Ledger) Reserve(ctx context.Context, userID, jobID string) (string, error) {
	refDate := l.ReferenceDate()
	const query = `INSERT OR REPLACE INTO research_usage (job_id, user_id, ref_date, status)
		VALUES (?, ?, ?, 'pending')`
	if _, err := l.db.ExecContext(ctx, query, jobID, userID, refDate); err != nil {
		return "", fmt.Errorf("ledger: reserve: %w", err)
	}
	l.logger.Debug("quota reserved",
		zap.String("job_id", jobID),
		zap.String("user_id", userID),
		zap.String("ref_date", refDate))
	return refDate, nil
}

// Remaining reports how many successful jobs the user has left today and
// the reference date that applies.
func (l *Ledger) Remaining(ctx context.Context, userID string) (int, string, error) {
	refDate := l.ReferenceDate()
	const query = `SELECT COUNT(1) FROM research_usage
		WHERE user_id = ? AND ref_date = ? AND status = 'success'`
	var used int
	if err := l.db.QueryRowContext(ctx, query, userID, refDate).Scan(&used); err != nil {
		return 0, "", fmt.Errorf("ledger: count successes: %w", err)
	}
	remaining := l.dailyMax - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, refDate, nil
}

// Finalize records the terminal outcome for jobID. Repeating the same
// outcome is a no-op; a conflicting terminal outcome returns
// ErrLedgerConflict and leaves the record unchanged.
func (l *Ledger) Finalize(ctx context.Context, jobID string, outcome Outcome) error {
	if outcome != OutcomeSuccess && outcome != OutcomeFailed {
		return fmt.Errorf("ledger: invalid outcome %q", outcome)
	}

	var current string
	err := l.db.QueryRowContext(ctx,
		`SELECT status FROM research_usage WHERE job_id = ?`, jobID).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if err != nil {
		return fmt.Errorf("ledger: read status: %w", err)
	}

	switch current {
	case string(outcome):
		return nil // idempotent repeat
	case statusPending:
		// fall through to the terminal transition
	default:
		l.logger.Error("conflicting ledger finalize",
			zap.String("job_id", jobID),
			zap.String("have", current),
			zap.String("want", string(outcome)))
		return fmt.Errorf("%w: job %s is %s, cannot become %s",
			ErrLedgerConflict, jobID, current, outcome)
	}

	const query = `UPDATE research_usage SET status = ? WHERE job_id = ? AND status = 'pending'`
	if _, err := l.db.ExecContext(ctx, query, string(outcome), jobID); err != nil {
		return fmt.Errorf("ledger: finalize: %w", err)
	}
	return nil
}
