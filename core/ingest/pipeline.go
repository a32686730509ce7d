package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"

	"tracktally/core/notify"
	"tracktally/core/store"
	"tracktally/core/utils"
)

// Mirror is the spreadsheet append target. Sheet selection is by record
// kind; the 12-column row order is a compatibility surface and must not
// change.
type Mirror interface {
	Append(ctx context.Context, sheet string, row []string) error
}

// RetentionTrigger is invoked fire-and-forget after each accepted
// submission; its implementation throttles itself.
type RetentionTrigger interface {
	Enforce(ctx context.Context)
}

// MirrorError marks a failed mirror write. The mirror is currently the
// nominal source of truth, so this is the one upstream failure that aborts
// the request.
type MirrorError struct {
	Err error
}

func (e *MirrorError) Error() string {
	return fmt.Sprintf("mirror write failed: %v", e.Err)
}

func (e *MirrorError) Unwrap() error {
	return e.Err
}

// Caller is the authenticated context replayed into the record. Both fields
// come from the server-side session, never from the payload.
type Caller struct {
	OrganizationID int64
	TeacherEmail   string
	UserAgent      string
}

const (
	sheetIncidents     = "Incidents"
	sheetCommendations = "Commendations"
)

type Service struct {
	incidents store.IncidentsStore
	students  store.StudentsStore
	mirror    Mirror
	mailer    notify.Mailer
	retention RetentionTrigger
	logger    *utils.Logger
}

func NewService(incidents store.IncidentsStore, students store.StudentsStore, mirror Mirror, mailer notify.Mailer, retention RetentionTrigger, logger *utils.Logger) *Service {
	return &Service{
		incidents: incidents,
		students:  students,
		mirror:    mirror,
		mailer:    mailer,
		retention: retention,
		logger:    logger,
	}
}

// Submit runs the ingestion pipeline in its fixed order: validate,
// sanitize, replay identity, default, persist (best-effort), mirror
// (fatal on failure), notify (best-effort), trigger retention.
func (s *Service) Submit(ctx context.Context, sub *Submission, caller Caller) (*store.Incident, error) {
	if err := Validate(sub); err != nil {
		return nil, err
	}
	sanitize(sub)

	kind := sub.Type
	if kind == "" {
		kind = store.KindIncident
	}
	occurredAt := utils.NowUTC()
	if sub.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, sub.Timestamp); err == nil {
			occurredAt = ts.UTC()
		}
	}
	id := sub.UUID
	if id == "" {
		// Legacy clients don't send a UUID; every row still needs a
		// dedup key.
		id = uuid.Must(uuid.NewV4()).String()
	}
	device := sub.Device
	if device == "" {
		device = truncate(caller.UserAgent, 200)
	}

	inc := &store.Incident{
		UUID:           id,
		OrganizationID: caller.OrganizationID,
		Kind:           kind,
		OccurredAt:     occurredAt,
		StudentID:      sub.StudentID,
		StudentName:    sub.StudentName,
		ClassCode:      sub.ClassCode,
		TeacherEmail:   strings.ToLower(strings.TrimSpace(caller.TeacherEmail)),
		Level:          sub.Level,
		Category:       sub.Category,
		Location:       sub.Location,
		ActionTaken:    sub.ActionTaken,
		Note:           sub.Note,
		Device:         device,
		CreatedAt:      utils.NowUTC(),
	}

	inserted, err := s.incidents.InsertIfAbsent(ctx, inc)
	if err != nil {
		// The mirror is the nominal source of truth for now, so a
		// failed database write is logged and the pipeline carries on.
		if s.logger != nil {
			s.logger.Errorf("incident db write uuid=%s: %v", inc.UUID, err)
		}
	}

	if s.mirror != nil {
		sheet := sheetIncidents
		if inc.Kind == store.KindCommendation {
			sheet = sheetCommendations
		}
		if err := s.mirror.Append(ctx, sheet, MirrorRow(inc)); err != nil {
			return nil, &MirrorError{Err: err}
		}
	} else if s.logger != nil {
		s.logger.Warnf("mirror not configured, incident uuid=%s recorded in database only", inc.UUID)
	}

	if inserted {
		s.notifyHomeroom(ctx, inc)
	}

	if s.retention != nil {
		go s.retention.Enforce(context.WithoutCancel(ctx))
	}
	return inc, nil
}

func (s *Service) notifyHomeroom(ctx context.Context, inc *store.Incident) {
	if s.mailer == nil || s.students == nil {
		return
	}
	st, err := s.students.Find(ctx, inc.OrganizationID, inc.StudentID)
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("homeroom lookup student=%s: %v", inc.StudentID, err)
		}
		return
	}
	if st == nil || st.HomeroomTeacherEmail == "" || st.HomeroomTeacherEmail == inc.TeacherEmail {
		return
	}
	subject := fmt.Sprintf("Behaviour record for %s", inc.StudentName)
	body := fmt.Sprintf("A %s was logged for %s (%s) in %s: %s / %s.",
		inc.Kind, inc.StudentName, inc.StudentID, inc.Location, inc.Level, inc.Category)
	if err := s.mailer.Send(ctx, st.HomeroomTeacherEmail, subject, body); err != nil && s.logger != nil {
		s.logger.Errorf("homeroom notification for %s: %v", utils.RedactEmail(st.HomeroomTeacherEmail), err)
	}
}

// MirrorRow builds the fixed 12-column spreadsheet row.
func MirrorRow(inc *store.Incident) []string {
	return []string{
		inc.OccurredAt.UTC().Format(time.RFC3339),
		inc.StudentID,
		inc.StudentName,
		inc.Level,
		inc.Category,
		inc.Location,
		inc.ActionTaken,
		inc.Note,
		inc.TeacherEmail,
		inc.ClassCode,
		inc.Device,
		inc.UUID,
	}
}

func sanitize(sub *Submission) {
	sub.StudentID = utils.StripTags(sub.StudentID)
	sub.StudentName = utils.StripTags(sub.StudentName)
	sub.Level = utils.StripTags(sub.Level)
	sub.Category = utils.StripTags(sub.Category)
	sub.ActionTaken = utils.StripTags(sub.ActionTaken)
	sub.Note = utils.StripTags(sub.Note)
	sub.ClassCode = utils.StripTags(sub.ClassCode)
	sub.Device = utils.StripTags(sub.Device)
	sub.Location = strings.TrimSpace(sub.Location)
	sub.Timestamp = strings.TrimSpace(sub.Timestamp)
	sub.UUID = strings.TrimSpace(sub.UUID)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
