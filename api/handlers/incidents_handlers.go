package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tracktally/config"
	"tracktally/core/export"
	"tracktally/core/ingest"
	"tracktally/core/store"
	"tracktally/core/utils"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
	exportLimit      = 50000
)

type IncidentsHandler struct {
	cfg       *config.AppConfig
	svc       *ingest.Service
	incidents store.IncidentsStore
	exporter  *export.CSVWriter
	audits    store.AuditStore
	logger    *utils.Logger
}

func NewIncidentsHandler(cfg *config.AppConfig, svc *ingest.Service, incidents store.IncidentsStore, exporter *export.CSVWriter, audits store.AuditStore, logger *utils.Logger) *IncidentsHandler {
	return &IncidentsHandler{cfg: cfg, svc: svc, incidents: incidents, exporter: exporter, audits: audits, logger: logger}
}

func (h *IncidentsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	orgID := orgIDFrom(r)
	if sess == nil || orgID <= 0 {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, ingest.MaxBodyBytes)
	var sub ingest.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			// Oversize bodies are a validation failure like any other.
			writeErr(w, http.StatusBadRequest, "request body too large")
			return
		}
		writeErr(w, http.StatusBadRequest, "invalid json body")
		return
	}

	inc, err := h.svc.Submit(r.Context(), &sub, ingest.Caller{
		OrganizationID: orgID,
		TeacherEmail:   sess.Email,
		UserAgent:      r.UserAgent(),
	})
	if err != nil {
		var verr *ingest.ValidationError
		if errors.As(err, &verr) {
			writeErr(w, http.StatusBadRequest, verr.Msg)
			return
		}
		var merr *ingest.MirrorError
		if errors.As(err, &merr) {
			writeErr(w, http.StatusBadGateway, merr.Error())
			return
		}
		h.logger.Errorf("incident submit: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"uuid": inc.UUID})
}

func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := h.filterFromQuery(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.incidents.List(r.Context(), filter)
	if err != nil {
		h.logger.Errorf("incident list: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"incidents": rows,
		"count":     len(rows),
	})
}

func (h *IncidentsHandler) Export(w http.ResponseWriter, r *http.Request) {
	filter, err := h.filterFromQuery(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Limit = exportLimit
	filter.Offset = 0
	rows, err := h.incidents.List(r.Context(), filter)
	if err != nil {
		h.logger.Errorf("incident export: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}

	sess := sessionFrom(r)
	_ = h.audits.Log(r.Context(), sess.Email, "incidents.export",
		fmt.Sprintf("org=%d rows=%d", filter.OrganizationID, len(rows)))

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		`attachment; filename="incidents-`+time.Now().UTC().Format("20060102")+`.csv"`)
	if err := h.exporter.Write(r.Context(), w, filter.OrganizationID, rows); err != nil {
		// Headers are gone; all we can do is log.
		h.logger.Errorf("incident export stream: %v", err)
	}
}

func (h *IncidentsHandler) Purge(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	orgID := orgIDFrom(r)
	if sess == nil || orgID <= 0 {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	n, err := h.incidents.PurgeOrganization(r.Context(), orgID)
	if err != nil {
		h.logger.Errorf("incident purge: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	_ = h.audits.Log(r.Context(), sess.Email, "incidents.purge", fmt.Sprintf("org=%d deleted=%d", orgID, n))
	h.logger.Printf("incidents purged org=%d n=%d by=%s", orgID, n, utils.RedactEmail(sess.Email))
	writeOK(w, http.StatusOK, map[string]any{"deleted": n})
}

func (h *IncidentsHandler) filterFromQuery(r *http.Request) (store.IncidentFilter, error) {
	q := r.URL.Query()
	filter := store.IncidentFilter{
		OrganizationID: orgIDFrom(r),
		Kind:           strings.TrimSpace(q.Get("type")),
		StudentID:      strings.TrimSpace(q.Get("studentId")),
		Limit:          defaultListLimit,
	}
	if filter.OrganizationID <= 0 {
		return filter, errors.New("missing organization scope")
	}
	if filter.Kind != "" && filter.Kind != store.KindIncident && filter.Kind != store.KindCommendation {
		return filter, errors.New("type must be incident or commendation")
	}
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("since must be RFC3339")
		}
		filter.Since = t
	}
	if raw := q.Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("until must be RFC3339")
		}
		filter.Until = t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return filter, errors.New("limit must be a positive integer")
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = n
	}
	return filter, nil
}
