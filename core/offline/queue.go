// Package offline implements the durable submission queue used by kiosk
// devices with unreliable connectivity. Entries survive restarts and are
// removed only after the server confirms receipt.
package offline

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"tracktally/core/utils"
)

// Sender delivers one queued submission payload to the server.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

type Queue struct {
	db     *sql.DB
	logger *utils.Logger
}

type Entry struct {
	UUID      string
	Payload   []byte
	QueuedAt  time.Time
	Attempts  int
	LastError string
}

func OpenQueue(path string, logger *utils.Logger) (*Queue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue file: %w", err)
	}
	// Single writer. The kiosk process owns the file.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_submissions (
			uuid TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			queued_at TIMESTAMP NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT ''
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init queue schema: %w", err)
	}
	return &Queue{db: db, logger: logger}, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue stores a submission keyed by its client UUID. Re-queueing the
// same UUID is a no-op, which keeps retry loops from duplicating entries.
func (q *Queue) Enqueue(ctx context.Context, uuid string, payload []byte) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO pending_submissions(uuid, payload, queued_at)
		VALUES(?,?,?)
		ON CONFLICT(uuid) DO NOTHING`,
		uuid, payload, time.Now().UTC())
	return err
}

// Flush attempts delivery of every queued entry in arrival order. An entry
// is deleted only after the sender returns nil; failures keep the entry
// with an incremented attempt count so nothing is lost mid-flush.
func (q *Queue) Flush(ctx context.Context, sender Sender) (flushed, failed int, err error) {
	entries, err := q.pending(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return flushed, failed, err
		}
		if sendErr := sender.Send(ctx, e.Payload); sendErr != nil {
			failed++
			q.logger.Warnf("queue flush: send %s failed (attempt %d): %v", e.UUID, e.Attempts+1, sendErr)
			if _, err := q.db.ExecContext(ctx, `
				UPDATE pending_submissions SET attempts=attempts+1, last_error=? WHERE uuid=?`,
				sendErr.Error(), e.UUID); err != nil {
				return flushed, failed, err
			}
			continue
		}
		if _, err := q.db.ExecContext(ctx,
			`DELETE FROM pending_submissions WHERE uuid=?`, e.UUID); err != nil {
			return flushed, failed, err
		}
		flushed++
	}
	if flushed > 0 || failed > 0 {
		q.logger.Printf("queue flush: %d delivered, %d still pending", flushed, failed)
	}
	return flushed, failed, nil
}

func (q *Queue) Count(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_submissions`).Scan(&n)
	return n, err
}

func (q *Queue) pending(ctx context.Context) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT uuid, payload, queued_at, attempts, last_error
		FROM pending_submissions ORDER BY queued_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.UUID, &e.Payload, &e.QueuedAt, &e.Attempts, &e.LastError); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
