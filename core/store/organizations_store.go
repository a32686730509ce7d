package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrOrganizationInUse = errors.New("organization still has incident records")
)

type Organization struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Domain      string    `json:"domain"`
	LMSProvider string    `json:"lms_provider,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type OrganizationsStore interface {
	Create(ctx context.Context, org *Organization) (int64, error)
	Update(ctx context.Context, org *Organization) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*Organization, error)
	GetByDomain(ctx context.Context, domain string) (*Organization, error)
	List(ctx context.Context) ([]Organization, error)
}

type organizationsStore struct {
	db *DB
}

func NewOrganizationsStore(db *DB) OrganizationsStore {
	return &organizationsStore{db: db}
}

const orgColumns = `id, name, domain, lms_provider, active, created_at, updated_at`

func (s *organizationsStore) Create(ctx context.Context, org *Organization) (int64, error) {
	now := time.Now().UTC()
	org.Domain = strings.ToLower(strings.TrimSpace(org.Domain))
	org.CreatedAt = now
	org.UpdatedAt = now
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		INSERT INTO organizations(name, domain, lms_provider, active, created_at, updated_at)
		VALUES(?,?,?,?,?,?) RETURNING id`),
		org.Name, org.Domain, org.LMSProvider, org.Active, now, now)
	if err := row.Scan(&org.ID); err != nil {
		return 0, err
	}
	return org.ID, nil
}

func (s *organizationsStore) Update(ctx context.Context, org *Organization) error {
	org.Domain = strings.ToLower(strings.TrimSpace(org.Domain))
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE organizations SET name=?, domain=?, lms_provider=?, active=?, updated_at=? WHERE id=?`),
		org.Name, org.Domain, org.LMSProvider, org.Active, time.Now().UTC(), org.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete refuses to remove a tenant that still owns incident rows; scoped
// settings rows cascade through foreign keys.
func (s *organizationsStore) Delete(ctx context.Context, id int64) error {
	var count int64
	if err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT COUNT(*) FROM incidents WHERE organization_id=?`), id).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return ErrOrganizationInUse
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM organizations WHERE id=?`), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *organizationsStore) GetByID(ctx context.Context, id int64) (*Organization, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT `+orgColumns+` FROM organizations WHERE id=?`), id)
	return scanOrganization(row)
}

func (s *organizationsStore) GetByDomain(ctx context.Context, domain string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT `+orgColumns+` FROM organizations WHERE domain=?`),
		strings.ToLower(strings.TrimSpace(domain)))
	return scanOrganization(row)
}

func (s *organizationsStore) List(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+orgColumns+` FROM organizations ORDER BY domain`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Organization
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.Domain, &org.LMSProvider, &org.Active, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

func scanOrganization(row *sql.Row) (*Organization, error) {
	var org Organization
	err := row.Scan(&org.ID, &org.Name, &org.Domain, &org.LMSProvider, &org.Active, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}
