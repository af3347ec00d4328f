package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // driver registration

	"github.com/google/uuid"

	"companyprofiler/internal/logx"
)

var log = logx.New("queue")

// SQLiteQueue is a single-node local-dev fallback implementing the Queue
// interface: production deployments dequeue from a relational database
// with SELECT ... FOR UPDATE SKIP LOCKED semantics, which this package
// does not attempt to reproduce (sqlite has one writer). Claiming a job
// here selects the oldest pending row and marks it claimed with an
// UPDATE inside one transaction, on a pool limited to a single
// connection, so concurrent claims are serialized.
type SQLiteQueue struct {
	db *sql.DB
}

// OpenSQLiteQueue opens (creating if necessary) a sqlite-backed queue at
// dbPath, matching the teacher's connection string: foreign keys on,
// WAL journaling, a five-second busy timeout.
func OpenSQLiteQueue(dbPath string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("queue: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: pinging database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: initializing schema: %w", err)
	}
	log.Infof("sqlite queue opened at %s", dbPath)
	return &SQLiteQueue{db: db}, nil
}

func createSchema(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	cnpj          TEXT,
	trade_name    TEXT,
	legal_name    TEXT,
	city          TEXT,
	seed_url      TEXT,
	deadline_ms   INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'pending',
	attempts      INTEGER NOT NULL DEFAULT 0,
	enqueued_at   TEXT NOT NULL,
	claimed_at    TEXT,
	result_json   TEXT,
	failure       TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, enqueued_at);
`
	_, err := db.Exec(ddl)
	return err
}

// Close releases the underlying connection.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

// Enqueue inserts a new pending job, assigning it an ID if it doesn't
// already have one, and returns the ID.
func (q *SQLiteQueue) Enqueue(ctx context.Context, j Job) (string, error) {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}
	_, err := q.db.ExecContext(ctx, `
INSERT INTO jobs (id, cnpj, trade_name, legal_name, city, seed_url, deadline_ms, status, attempts, enqueued_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', 0, ?)`,
		j.ID, j.CNPJ, j.TradeName, j.LegalName, j.City, j.SeedURL,
		j.Deadline.Milliseconds(), j.EnqueuedAt.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("queue: enqueueing job: %w", err)
	}
	return j.ID, nil
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Job, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
SELECT id, cnpj, trade_name, legal_name, city, seed_url, deadline_ms, attempts, enqueued_at
FROM jobs WHERE status = 'pending' ORDER BY enqueued_at LIMIT 1`)

	var j Job
	var deadlineMs int64
	var enqueuedAt string
	if err := row.Scan(&j.ID, &j.CNPJ, &j.TradeName, &j.LegalName, &j.City, &j.SeedURL,
		&deadlineMs, &j.Attempts, &enqueuedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("queue: scanning claimable job: %w", err)
	}
	j.Deadline = time.Duration(deadlineMs) * time.Millisecond
	j.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, enqueuedAt)
	j.Attempts++

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = 'claimed', attempts = ?, claimed_at = ? WHERE id = ? AND status = 'pending'`,
		j.Attempts, time.Now().Format(time.RFC3339Nano), j.ID); err != nil {
		return nil, fmt.Errorf("queue: claiming job %s: %w", j.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("queue: committing claim: %w", err)
	}
	return &j, nil
}

func (q *SQLiteQueue) Complete(ctx context.Context, jobID string, result Result) error {
	payload, err := json.Marshal(result.Profile)
	if err != nil {
		return fmt.Errorf("queue: marshaling result for %s: %w", jobID, err)
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'done', result_json = ? WHERE id = ? AND status = 'claimed'`,
		string(payload), jobID)
	if err != nil {
		return fmt.Errorf("queue: completing job %s: %w", jobID, err)
	}
	return requireRowsAffected(res, jobID)
}

func (q *SQLiteQueue) Fail(ctx context.Context, jobID string, cause error) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed', failure = ? WHERE id = ? AND status = 'claimed'`,
		cause.Error(), jobID)
	if err != nil {
		return fmt.Errorf("queue: failing job %s: %w", jobID, err)
	}
	return requireRowsAffected(res, jobID)
}

func (q *SQLiteQueue) Heartbeat(ctx context.Context, jobID string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET claimed_at = ? WHERE id = ? AND status = 'claimed'`,
		time.Now().Format(time.RFC3339Nano), jobID)
	if err != nil {
		return fmt.Errorf("queue: heartbeat for job %s: %w", jobID, err)
	}
	return requireRowsAffected(res, jobID)
}

func requireRowsAffected(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue: checking rows affected for %s: %w", jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return nil
}
