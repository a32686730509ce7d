package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"tracktally/config"
	"tracktally/core/retention"
	"tracktally/core/store"
	"tracktally/core/utils"
)

type AdminHandler struct {
	cfg       *config.AppConfig
	orgs      store.OrganizationsStore
	accounts  store.AccountsStore
	students  store.StudentsStore
	settings  store.SettingsStore
	retention *retention.Enforcer
	audits    store.AuditStore
	logger    *utils.Logger
}

func NewAdminHandler(cfg *config.AppConfig, orgs store.OrganizationsStore, accounts store.AccountsStore, students store.StudentsStore, settings store.SettingsStore, enforcer *retention.Enforcer, audits store.AuditStore, logger *utils.Logger) *AdminHandler {
	return &AdminHandler{cfg: cfg, orgs: orgs, accounts: accounts, students: students, settings: settings, retention: enforcer, audits: audits, logger: logger}
}

func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	orgID := orgIDFrom(r)
	rows, err := h.accounts.ListByOrganization(r.Context(), orgID)
	if err != nil {
		h.logger.Errorf("accounts list: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"accounts": rows, "count": len(rows)})
}

func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > 1000 {
			n = 1000
		}
		limit = n
	}
	rows, err := h.audits.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Errorf("audit list: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"entries": rows, "count": len(rows)})
}

func (h *AdminHandler) ListStudents(w http.ResponseWriter, r *http.Request) {
	orgID := orgIDFrom(r)
	rows, err := h.students.ListByOrganization(r.Context(), orgID)
	if err != nil {
		h.logger.Errorf("students list: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"students": rows, "count": len(rows)})
}

func (h *AdminHandler) UpsertStudent(w http.ResponseWriter, r *http.Request) {
	orgID := orgIDFrom(r)
	var st store.Student
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json body")
		return
	}
	st.OrganizationID = orgID
	st.StudentID = strings.TrimSpace(st.StudentID)
	if st.StudentID == "" || len(st.StudentID) > 64 {
		writeErr(w, http.StatusBadRequest, "studentId is required and at most 64 characters")
		return
	}
	if strings.TrimSpace(st.Name) == "" {
		writeErr(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := h.students.Upsert(r.Context(), &st); err != nil {
		h.logger.Errorf("student upsert: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeOK(w, http.StatusOK, st)
}

func (h *AdminHandler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	orgID := orgIDFrom(r)
	studentID := strings.TrimSpace(chi.URLParam(r, "student_id"))
	if studentID == "" {
		writeErr(w, http.StatusBadRequest, "missing student id")
		return
	}
	if err := h.students.Delete(r.Context(), orgID, studentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "student not found")
			return
		}
		h.logger.Errorf("student delete: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (h *AdminHandler) ListClassrooms(w http.ResponseWriter, r *http.Request) {
	orgID := orgIDFrom(r)
	names, err := h.students.ClassroomNames(r.Context(), orgID)
	if err != nil {
		h.logger.Errorf("classrooms list: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"classrooms": names})
}

func (h *AdminHandler) UpsertClassroom(w http.ResponseWriter, r *http.Request) {
	orgID := orgIDFrom(r)
	var c store.Classroom
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json body")
		return
	}
	c.OrganizationID = orgID
	c.Code = strings.TrimSpace(c.Code)
	if c.Code == "" || len(c.Code) > 32 {
		writeErr(w, http.StatusBadRequest, "code is required and at most 32 characters")
		return
	}
	if err := h.students.UpsertClassroom(r.Context(), &c); err != nil {
		h.logger.Errorf("classroom upsert: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeOK(w, http.StatusOK, c)
}

func (h *AdminHandler) GetRetention(w http.ResponseWriter, r *http.Request) {
	days, err := h.settings.GetInt(r.Context(), store.SettingRetentionDays, h.cfg.Retention.DefaultDays)
	if err != nil {
		h.logger.Errorf("retention setting read: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"days": h.cfg.ClampRetentionDays(days)})
}

func (h *AdminHandler) PutRetention(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Days int `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Days <= 0 {
		writeErr(w, http.StatusBadRequest, "days must be a positive integer")
		return
	}
	days := h.cfg.ClampRetentionDays(req.Days)
	if err := h.settings.Set(r.Context(), store.SettingRetentionDays, strconv.Itoa(days)); err != nil {
		h.logger.Errorf("retention setting write: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.retention.Invalidate()
	sess := sessionFrom(r)
	_ = h.audits.Log(r.Context(), sess.Email, "settings.retention", fmt.Sprintf("days=%d", days))
	writeOK(w, http.StatusOK, map[string]any{"days": days})
}

func (h *AdminHandler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	rows, err := h.orgs.List(r.Context())
	if err != nil {
		h.logger.Errorf("organizations list: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"organizations": rows, "count": len(rows)})
}

func (h *AdminHandler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var org store.Organization
	if err := json.NewDecoder(r.Body).Decode(&org); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(org.Name) == "" || strings.TrimSpace(org.Domain) == "" {
		writeErr(w, http.StatusBadRequest, "name and domain are required")
		return
	}
	org.Active = true
	if _, err := h.orgs.Create(r.Context(), &org); err != nil {
		h.logger.Errorf("organization create: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	sess := sessionFrom(r)
	_ = h.audits.Log(r.Context(), sess.Email, "orgs.create", org.Domain)
	writeOK(w, http.StatusCreated, org)
}

func (h *AdminHandler) UpdateOrganization(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeErr(w, http.StatusBadRequest, "invalid organization id")
		return
	}
	var org store.Organization
	if err := json.NewDecoder(r.Body).Decode(&org); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json body")
		return
	}
	org.ID = id
	if strings.TrimSpace(org.Name) == "" || strings.TrimSpace(org.Domain) == "" {
		writeErr(w, http.StatusBadRequest, "name and domain are required")
		return
	}
	if err := h.orgs.Update(r.Context(), &org); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "organization not found")
			return
		}
		h.logger.Errorf("organization update: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	sess := sessionFrom(r)
	_ = h.audits.Log(r.Context(), sess.Email, "orgs.update", org.Domain)
	writeOK(w, http.StatusOK, org)
}

func (h *AdminHandler) DeleteOrganization(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeErr(w, http.StatusBadRequest, "invalid organization id")
		return
	}
	if err := h.orgs.Delete(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeErr(w, http.StatusNotFound, "organization not found")
		case errors.Is(err, store.ErrOrganizationInUse):
			writeErr(w, http.StatusConflict, "organization still has incident records")
		default:
			h.logger.Errorf("organization delete: %v", err)
			writeErr(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	sess := sessionFrom(r)
	_ = h.audits.Log(r.Context(), sess.Email, "orgs.delete", strconv.FormatInt(id, 10))
	writeOK(w, http.StatusOK, nil)
}
