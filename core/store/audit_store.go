package store

import (
	"context"
	"time"
)

// AuditStore records security-relevant events. Best-effort: callers ignore
// the error after logging it, an audit failure never blocks the request.
type AuditStore interface {
	Log(ctx context.Context, actor, action, details string) error
	Recent(ctx context.Context, limit int) ([]AuditEntry, error)
}

type AuditEntry struct {
	ID        int64     `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type auditStore struct {
	db *DB
}

func NewAuditStore(db *DB) AuditStore {
	return &auditStore{db: db}
}

func (s *auditStore) Log(ctx context.Context, actor, action, details string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO audit_log(actor, action, details, created_at) VALUES(?,?,?,?)`),
		actor, action, details, time.Now().UTC())
	return err
}

func (s *auditStore) Recent(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, actor, action, details, created_at FROM audit_log
		ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var details *string
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		if details != nil {
			e.Details = *details
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
