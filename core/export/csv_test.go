package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"testing"
	"time"

	"tracktally/config"
	"tracktally/core/store"
	"tracktally/core/utils"
)

func setupExportEnv(t *testing.T) (*CSVWriter, store.StudentsStore) {
	t.Helper()
	cfg := &config.AppConfig{DBDriver: "sqlite", DBURL: filepath.Join(t.TempDir(), "export.db")}
	logger := utils.NewLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	students := store.NewStudentsStore(db)
	return NewCSVWriter(students), students
}

func TestWriteProducesFixedColumnsWithClassNames(t *testing.T) {
	w, students := setupExportEnv(t)
	ctx := context.Background()
	if err := students.UpsertClassroom(ctx, &store.Classroom{OrganizationID: 7, Code: "5B", Name: "Year 5 Blue"}); err != nil {
		t.Fatalf("upsert classroom: %v", err)
	}

	occurred := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	incidents := []store.Incident{{
		UUID:         "11111111-2222-3333-4444-555555555555",
		Kind:         store.KindIncident,
		OccurredAt:   occurred,
		StudentID:    "S-042",
		StudentName:  "Robin \"Rob\" Banks",
		ClassCode:    "5B",
		TeacherEmail: "teacher@school.test",
		Level:        "minor",
		Category:     "disruption",
		Location:     "classroom",
		ActionTaken:  "verbal reminder",
		Note:         "talking during quiet reading,\nsecond time this week",
		Device:       "kiosk-3",
	}}

	var buf bytes.Buffer
	if err := w.Write(ctx, &buf, 7, incidents); err != nil {
		t.Fatalf("write: %v", err)
	}

	records, err := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want header + 1 row", len(records))
	}
	if len(records[0]) != 15 || records[0][0] != "Date" || records[0][14] != "UUID" {
		t.Fatalf("header = %v", records[0])
	}
	row := records[1]
	if row[0] != "2025-03-14" || row[1] != "09:26:53" {
		t.Errorf("date/time = %q %q", row[0], row[1])
	}
	if row[4] != `Robin "Rob" Banks` {
		t.Errorf("student name not round-tripped: %q", row[4])
	}
	if row[9] != "talking during quiet reading,\nsecond time this week" {
		t.Errorf("note not round-tripped: %q", row[9])
	}
	if row[12] != "Year 5 Blue" {
		t.Errorf("class name = %q, want resolved from roster", row[12])
	}
}

func TestWriteUnknownClassCodeLeavesNameBlank(t *testing.T) {
	w, _ := setupExportEnv(t)
	var buf bytes.Buffer
	incidents := []store.Incident{{
		UUID: "u1", Kind: store.KindCommendation, OccurredAt: time.Now(),
		StudentID: "S-1", StudentName: "A", ClassCode: "ZZ", Location: "gym",
		TeacherEmail: "t@school.test",
	}}
	if err := w.Write(context.Background(), &buf, 7, incidents); err != nil {
		t.Fatalf("write: %v", err)
	}
	records, _ := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
	if records[1][12] != "" {
		t.Errorf("class name = %q, want empty", records[1][12])
	}
}
