package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SessionRecord is the denormalized snapshot handed to request handlers.
// Role and organization fields are refreshed from the account row on every
// sign-in, not on every request; the snapshot is stale at most until the
// next sign-in.
type SessionRecord struct {
	ID             string     `json:"id"`
	AccountID      int64      `json:"account_id"`
	Email          string     `json:"email"`
	Role           string     `json:"role"`
	OrganizationID *int64     `json:"organization_id,omitempty"`
	OrgName        string     `json:"org_name,omitempty"`
	OrgDomain      string     `json:"org_domain,omitempty"`
	IP             string     `json:"-"`
	UserAgent      string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
}

type SessionsStore interface {
	Save(ctx context.Context, rec *SessionRecord) error
	Get(ctx context.Context, id string) (*SessionRecord, error)
	UpdateActivity(ctx context.Context, id string, seen time.Time, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type sessionsStore struct {
	db *DB
}

func NewSessionsStore(db *DB) SessionsStore {
	return &sessionsStore{db: db}
}

func (s *sessionsStore) Save(ctx context.Context, rec *SessionRecord) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO sessions(id, account_id, email, role, organization_id, org_name, org_domain, ip, user_agent, created_at, last_seen_at, expires_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`),
		rec.ID, rec.AccountID, rec.Email, rec.Role, rec.OrganizationID, rec.OrgName, rec.OrgDomain,
		rec.IP, rec.UserAgent, rec.CreatedAt, rec.LastSeenAt, rec.ExpiresAt)
	return err
}

func (s *sessionsStore) Get(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT id, account_id, email, role, organization_id, org_name, org_domain, ip, user_agent, created_at, last_seen_at, expires_at
		FROM sessions WHERE id=?`), id)
	var rec SessionRecord
	err := row.Scan(&rec.ID, &rec.AccountID, &rec.Email, &rec.Role, &rec.OrganizationID, &rec.OrgName,
		&rec.OrgDomain, &rec.IP, &rec.UserAgent, &rec.CreatedAt, &rec.LastSeenAt, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().UTC().After(rec.ExpiresAt) {
		return nil, nil
	}
	return &rec, nil
}

func (s *sessionsStore) UpdateActivity(ctx context.Context, id string, seen time.Time, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE sessions SET last_seen_at=?, expires_at=? WHERE id=?`),
		seen.UTC(), seen.UTC().Add(ttl), id)
	return err
}

func (s *sessionsStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sessions WHERE id=?`), id)
	return err
}

func (s *sessionsStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sessions WHERE expires_at < ?`), now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
