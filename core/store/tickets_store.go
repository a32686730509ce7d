package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// AuthTicket carries a mobile sign-in handoff. The lifecycle is strictly
// ordered: created → session attached → transfer issued → consumed.
type AuthTicket struct {
	State             string
	SessionID         string
	TransferTokenHash string
	RedirectPath      string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	ConsumedAt        *time.Time
}

func (t *AuthTicket) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

func (t *AuthTicket) Consumed() bool {
	return t.ConsumedAt != nil
}

type TicketsStore interface {
	Create(ctx context.Context, t *AuthTicket) error
	Get(ctx context.Context, state string) (*AuthTicket, error)
	AttachSession(ctx context.Context, state, sessionID, transferTokenHash string) error
	MarkConsumed(ctx context.Context, state string, at time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type ticketsStore struct {
	db *DB
}

func NewTicketsStore(db *DB) TicketsStore {
	return &ticketsStore{db: db}
}

func (s *ticketsStore) Create(ctx context.Context, t *AuthTicket) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO auth_tickets(state, session_id, transfer_token_hash, redirect_path, created_at, expires_at)
		VALUES(?,?,?,?,?,?)`),
		t.State, t.SessionID, t.TransferTokenHash, t.RedirectPath, t.CreatedAt.UTC(), t.ExpiresAt.UTC())
	return err
}

func (s *ticketsStore) Get(ctx context.Context, state string) (*AuthTicket, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT state, session_id, transfer_token_hash, redirect_path, created_at, expires_at, consumed_at
		FROM auth_tickets WHERE state=?`), state)
	var t AuthTicket
	err := row.Scan(&t.State, &t.SessionID, &t.TransferTokenHash, &t.RedirectPath, &t.CreatedAt, &t.ExpiresAt, &t.ConsumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *ticketsStore) AttachSession(ctx context.Context, state, sessionID, transferTokenHash string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE auth_tickets SET session_id=?, transfer_token_hash=?
		WHERE state=? AND session_id='' AND consumed_at IS NULL`),
		sessionID, transferTokenHash, state)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ticketsStore) MarkConsumed(ctx context.Context, state string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE auth_tickets SET consumed_at=? WHERE state=? AND consumed_at IS NULL`),
		at.UTC(), state)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ticketsStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM auth_tickets WHERE expires_at < ? OR consumed_at IS NOT NULL`), now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
