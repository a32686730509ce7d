package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"

	"tracktally/core/store"
)

// MaxBodyBytes caps the raw request body before any parsing happens.
const MaxBodyBytes = 10 * 1024

// Submission is the wire shape of an incident create request. Identity
// fields (teacher, organization) are deliberately absent: they are replayed
// from the server-side session, never read from the payload.
type Submission struct {
	Type        string `json:"type,omitempty"`
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
	Level       string `json:"level"`
	Category    string `json:"category"`
	Location    string `json:"location"`
	ActionTaken string `json:"actionTaken,omitempty"`
	Note        string `json:"note,omitempty"`
	ClassCode   string `json:"classCode,omitempty"`
	Device      string `json:"device,omitempty"`
	UUID        string `json:"uuid,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// ValidationError carries the first failed check; its message is safe to
// echo back to the caller verbatim.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

var Locations = []string{
	"classroom",
	"hallway",
	"playground",
	"cafeteria",
	"library",
	"gym",
	"bus",
	"online",
	"other",
}

func validLocation(loc string) bool {
	for _, l := range Locations {
		if l == loc {
			return true
		}
	}
	return false
}

// Validate checks the submission shape and bounds, returning the first
// issue found.
func Validate(sub *Submission) error {
	if sub.Type != "" && sub.Type != store.KindIncident && sub.Type != store.KindCommendation {
		return &ValidationError{Msg: "type must be incident or commendation"}
	}
	if err := requireBounded("studentId", sub.StudentID, 64); err != nil {
		return err
	}
	if err := requireBounded("studentName", sub.StudentName, 120); err != nil {
		return err
	}
	if err := requireBounded("level", sub.Level, 32); err != nil {
		return err
	}
	if err := requireBounded("category", sub.Category, 64); err != nil {
		return err
	}
	if strings.TrimSpace(sub.Location) == "" {
		return &ValidationError{Msg: "location is required"}
	}
	if !validLocation(sub.Location) {
		return &ValidationError{Msg: fmt.Sprintf("location must be one of: %s", strings.Join(Locations, ", "))}
	}
	if err := bounded("actionTaken", sub.ActionTaken, 120); err != nil {
		return err
	}
	if err := bounded("note", sub.Note, 600); err != nil {
		return err
	}
	if err := bounded("classCode", sub.ClassCode, 32); err != nil {
		return err
	}
	if err := bounded("device", sub.Device, 200); err != nil {
		return err
	}
	if err := bounded("timestamp", sub.Timestamp, 40); err != nil {
		return err
	}
	if sub.UUID != "" {
		if _, err := uuid.FromString(sub.UUID); err != nil {
			return &ValidationError{Msg: "uuid must be a valid RFC 4122 UUID"}
		}
	}
	return nil
}

func requireBounded(field, value string, max int) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Msg: field + " is required"}
	}
	return bounded(field, value, max)
}

func bounded(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{Msg: fmt.Sprintf("%s must be at most %d characters", field, max)}
	}
	return nil
}
