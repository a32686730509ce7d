package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	KindIncident     = "incident"
	KindCommendation = "commendation"
)

type Incident struct {
	UUID           string    `json:"uuid"`
	OrganizationID int64     `json:"organization_id"`
	Kind           string    `json:"type"`
	OccurredAt     time.Time `json:"timestamp"`
	StudentID      string    `json:"student_id"`
	StudentName    string    `json:"student_name"`
	ClassCode      string    `json:"class_code,omitempty"`
	TeacherEmail   string    `json:"teacher_email"`
	Level          string    `json:"level"`
	Category       string    `json:"category"`
	Location       string    `json:"location"`
	ActionTaken    string    `json:"action_taken,omitempty"`
	Note           string    `json:"note,omitempty"`
	Device         string    `json:"device,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// IncidentFilter scopes reads. OrganizationID is mandatory unless
// AllOrganizations is set, which only the superadmin paths may do.
type IncidentFilter struct {
	OrganizationID   int64
	AllOrganizations bool
	Kind             string
	StudentID        string
	Since            time.Time
	Until            time.Time
	Limit            int
	Offset           int
}

var ErrUnscopedQuery = errors.New("incident query without organization scope")

type IncidentsStore interface {
	// InsertIfAbsent persists the record unless a row with the same UUID
	// already exists, in which case it reports inserted=false and leaves
	// the stored row untouched. Rows are immutable once written.
	InsertIfAbsent(ctx context.Context, inc *Incident) (inserted bool, err error)
	Get(ctx context.Context, uuid string) (*Incident, error)
	List(ctx context.Context, filter IncidentFilter) ([]Incident, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeOrganization(ctx context.Context, orgID int64) (int64, error)
}

type incidentsStore struct {
	db *DB
}

func NewIncidentsStore(db *DB) IncidentsStore {
	return &incidentsStore{db: db}
}

const incidentColumns = `uuid, organization_id, kind, occurred_at, student_id, student_name, class_code, teacher_email, level, category, location, action_taken, note, device, created_at`

func (s *incidentsStore) InsertIfAbsent(ctx context.Context, inc *Incident) (bool, error) {
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO incidents(`+incidentColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(uuid) DO NOTHING`),
		inc.UUID, inc.OrganizationID, inc.Kind, inc.OccurredAt.UTC(), inc.StudentID, inc.StudentName,
		inc.ClassCode, inc.TeacherEmail, inc.Level, inc.Category, inc.Location,
		inc.ActionTaken, inc.Note, inc.Device, inc.CreatedAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *incidentsStore) Get(ctx context.Context, uuid string) (*Incident, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT `+incidentColumns+` FROM incidents WHERE uuid=?`), uuid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanIncident(rows)
}

func (s *incidentsStore) List(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	where := []string{}
	args := []any{}
	if !filter.AllOrganizations {
		if filter.OrganizationID <= 0 {
			return nil, ErrUnscopedQuery
		}
		where = append(where, "organization_id=?")
		args = append(args, filter.OrganizationID)
	}
	if filter.Kind != "" {
		where = append(where, "kind=?")
		args = append(args, filter.Kind)
	}
	if filter.StudentID != "" {
		where = append(where, "student_id=?")
		args = append(args, filter.StudentID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		where = append(where, "occurred_at < ?")
		args = append(args, filter.Until.UTC())
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inc)
	}
	return out, rows.Err()
}

func (s *incidentsStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM incidents WHERE occurred_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *incidentsStore) PurgeOrganization(ctx context.Context, orgID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM incidents WHERE organization_id=?`), orgID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanIncident(r rowScanner) (*Incident, error) {
	var inc Incident
	if err := r.Scan(&inc.UUID, &inc.OrganizationID, &inc.Kind, &inc.OccurredAt, &inc.StudentID, &inc.StudentName,
		&inc.ClassCode, &inc.TeacherEmail, &inc.Level, &inc.Category, &inc.Location,
		&inc.ActionTaken, &inc.Note, &inc.Device, &inc.CreatedAt); err != nil {
		return nil, err
	}
	return &inc, nil
}
