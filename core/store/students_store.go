package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type Student struct {
	ID                   int64     `json:"id"`
	OrganizationID       int64     `json:"organization_id"`
	StudentID            string    `json:"student_id"`
	Name                 string    `json:"name"`
	ClassCode            string    `json:"class_code,omitempty"`
	HomeroomTeacherEmail string    `json:"homeroom_teacher_email,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type Classroom struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

type StudentsStore interface {
	Upsert(ctx context.Context, st *Student) error
	Delete(ctx context.Context, orgID int64, studentID string) error
	Find(ctx context.Context, orgID int64, studentID string) (*Student, error)
	ListByOrganization(ctx context.Context, orgID int64) ([]Student, error)

	UpsertClassroom(ctx context.Context, c *Classroom) error
	ClassroomNames(ctx context.Context, orgID int64) (map[string]string, error)
}

type studentsStore struct {
	db *DB
}

func NewStudentsStore(db *DB) StudentsStore {
	return &studentsStore{db: db}
}

func (s *studentsStore) Upsert(ctx context.Context, st *Student) error {
	now := time.Now().UTC()
	st.StudentID = strings.TrimSpace(st.StudentID)
	st.HomeroomTeacherEmail = strings.ToLower(strings.TrimSpace(st.HomeroomTeacherEmail))
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO students(organization_id, student_id, name, class_code, homeroom_teacher_email, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(organization_id, student_id) DO UPDATE SET
			name=excluded.name,
			class_code=excluded.class_code,
			homeroom_teacher_email=excluded.homeroom_teacher_email,
			updated_at=excluded.updated_at`),
		st.OrganizationID, st.StudentID, st.Name, st.ClassCode, st.HomeroomTeacherEmail, now, now)
	return err
}

func (s *studentsStore) Delete(ctx context.Context, orgID int64, studentID string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM students WHERE organization_id=? AND student_id=?`), orgID, studentID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *studentsStore) Find(ctx context.Context, orgID int64, studentID string) (*Student, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT id, organization_id, student_id, name, class_code, homeroom_teacher_email, created_at, updated_at
		FROM students WHERE organization_id=? AND student_id=?`), orgID, strings.TrimSpace(studentID))
	var st Student
	err := row.Scan(&st.ID, &st.OrganizationID, &st.StudentID, &st.Name, &st.ClassCode, &st.HomeroomTeacherEmail, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *studentsStore) ListByOrganization(ctx context.Context, orgID int64) ([]Student, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, organization_id, student_id, name, class_code, homeroom_teacher_email, created_at, updated_at
		FROM students WHERE organization_id=? ORDER BY name`), orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.OrganizationID, &st.StudentID, &st.Name, &st.ClassCode, &st.HomeroomTeacherEmail, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *studentsStore) UpsertClassroom(ctx context.Context, c *Classroom) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO classrooms(organization_id, code, name, created_at)
		VALUES(?,?,?,?)
		ON CONFLICT(organization_id, code) DO UPDATE SET name=excluded.name`),
		c.OrganizationID, strings.TrimSpace(c.Code), c.Name, time.Now().UTC())
	return err
}

func (s *studentsStore) ClassroomNames(ctx context.Context, orgID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT code, name FROM classrooms WHERE organization_id=?`), orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := map[string]string{}
	for rows.Next() {
		var code, name string
		if err := rows.Scan(&code, &name); err != nil {
			return nil, err
		}
		names[code] = name
	}
	return names, rows.Err()
}
