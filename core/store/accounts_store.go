package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type Account struct {
	ID             int64      `json:"id"`
	Email          string     `json:"email"`
	Name           string     `json:"name,omitempty"`
	Role           string     `json:"role"`
	OrganizationID *int64     `json:"organization_id,omitempty"`
	Active         bool       `json:"active"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type AccountsStore interface {
	Create(ctx context.Context, acc *Account) (int64, error)
	Update(ctx context.Context, acc *Account) error
	FindByEmail(ctx context.Context, email string) (*Account, error)
	GetByID(ctx context.Context, id int64) (*Account, error)
	ListByOrganization(ctx context.Context, orgID int64) ([]Account, error)
	TouchLogin(ctx context.Context, id int64, at time.Time) error
	SetActive(ctx context.Context, id int64, active bool) error
}

type accountsStore struct {
	db *DB
}

func NewAccountsStore(db *DB) AccountsStore {
	return &accountsStore{db: db}
}

const accountColumns = `id, email, name, role, organization_id, active, last_login_at, created_at, updated_at`

func (s *accountsStore) Create(ctx context.Context, acc *Account) (int64, error) {
	now := time.Now().UTC()
	acc.Email = strings.ToLower(strings.TrimSpace(acc.Email))
	acc.CreatedAt = now
	acc.UpdatedAt = now
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		INSERT INTO accounts(email, name, role, organization_id, active, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?) RETURNING id`),
		acc.Email, acc.Name, acc.Role, acc.OrganizationID, acc.Active, now, now)
	if err := row.Scan(&acc.ID); err != nil {
		return 0, err
	}
	return acc.ID, nil
}

func (s *accountsStore) Update(ctx context.Context, acc *Account) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE accounts SET name=?, role=?, organization_id=?, active=?, updated_at=? WHERE id=?`),
		acc.Name, acc.Role, acc.OrganizationID, acc.Active, time.Now().UTC(), acc.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *accountsStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT `+accountColumns+` FROM accounts WHERE email=?`),
		strings.ToLower(strings.TrimSpace(email)))
	return scanAccount(row)
}

func (s *accountsStore) GetByID(ctx context.Context, id int64) (*Account, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT `+accountColumns+` FROM accounts WHERE id=?`), id)
	return scanAccount(row)
}

func (s *accountsStore) ListByOrganization(ctx context.Context, orgID int64) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT `+accountColumns+` FROM accounts WHERE organization_id=? ORDER BY email`), orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		acc, err := scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *acc)
	}
	return out, rows.Err()
}

func (s *accountsStore) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE accounts SET last_login_at=? WHERE id=?`), at.UTC(), id)
	return err
}

func (s *accountsStore) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE accounts SET active=?, updated_at=? WHERE id=?`), active, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row *sql.Row) (*Account, error) {
	acc, err := scanAccountRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func scanAccountRow(r rowScanner) (*Account, error) {
	var acc Account
	if err := r.Scan(&acc.ID, &acc.Email, &acc.Name, &acc.Role, &acc.OrganizationID, &acc.Active, &acc.LastLoginAt, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return nil, err
	}
	return &acc, nil
}
