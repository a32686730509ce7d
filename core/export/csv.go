// Package export renders incident lists in the column layout admins
// already use in their spreadsheets.
package export

import (
	"context"
	"encoding/csv"
	"io"

	"tracktally/core/store"
)

var csvHeader = []string{
	"Date", "Time", "Type", "Student ID", "Student Name", "Level", "Category",
	"Location", "Action Taken", "Note", "Teacher Email", "Class Code",
	"Class Name", "Device", "UUID",
}

type CSVWriter struct {
	students store.StudentsStore
}

func NewCSVWriter(students store.StudentsStore) *CSVWriter {
	return &CSVWriter{students: students}
}

// Write streams the rows as CSV. Class names are resolved from the roster
// so the export is readable without cross-referencing class codes.
func (w *CSVWriter) Write(ctx context.Context, out io.Writer, orgID int64, incidents []store.Incident) error {
	classNames := map[string]string{}
	if w.students != nil && orgID > 0 {
		names, err := w.students.ClassroomNames(ctx, orgID)
		if err != nil {
			return err
		}
		classNames = names
	}

	cw := csv.NewWriter(out)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, inc := range incidents {
		occurred := inc.OccurredAt.UTC()
		row := []string{
			occurred.Format("2006-01-02"),
			occurred.Format("15:04:05"),
			inc.Kind,
			inc.StudentID,
			inc.StudentName,
			inc.Level,
			inc.Category,
			inc.Location,
			inc.ActionTaken,
			inc.Note,
			inc.TeacherEmail,
			inc.ClassCode,
			classNames[inc.ClassCode],
			inc.Device,
			inc.UUID,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
