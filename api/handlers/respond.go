package handlers

import (
	"encoding/json"
	"net/http"

	"tracktally/core/auth"
	"tracktally/core/store"
	"tracktally/core/tenant"
)

// Error is a plain string in the envelope; rejection reasons beyond the
// message go to the server log.
type envelope struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{OK: true, Data: data})
}

func writeErr(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{OK: false, Error: message})
}

func sessionFrom(r *http.Request) *store.SessionRecord {
	v := r.Context().Value(auth.SessionContextKey)
	if v == nil {
		return nil
	}
	return v.(*store.SessionRecord)
}

func orgIDFrom(r *http.Request) int64 {
	v := r.Context().Value(tenant.OrgIDContextKey)
	if v == nil {
		return 0
	}
	return v.(int64)
}
