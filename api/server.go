package api

import (
	"encoding/json"
	"net/http"

	"tracktally/config"
	"tracktally/core/auth"
	"tracktally/core/export"
	"tracktally/core/ingest"
	"tracktally/core/ratelimit"
	"tracktally/core/rbac"
	"tracktally/core/retention"
	"tracktally/core/store"
	"tracktally/core/utils"
)

type ServerDeps struct {
	Cfg            *config.AppConfig
	Logger         *utils.Logger
	Policy         *rbac.Policy
	Accounts       store.AccountsStore
	Organizations  store.OrganizationsStore
	Students       store.StudentsStore
	Incidents      store.IncidentsStore
	Sessions       store.SessionsStore
	Settings       store.SettingsStore
	Audits         store.AuditStore
	SessionManager *auth.SessionManager
	Identity       *auth.IdentityResolver
	Provider       auth.IdentityProvider
	Tickets        *auth.TicketService
	Ingest         *ingest.Service
	Exporter       *export.CSVWriter
	Retention      *retention.Enforcer
	Limiter        *ratelimit.Limiter
}

type Server struct {
	cfg            *config.AppConfig
	logger         *utils.Logger
	policy         *rbac.Policy
	accounts       store.AccountsStore
	orgs           store.OrganizationsStore
	students       store.StudentsStore
	incidents      store.IncidentsStore
	sessions       store.SessionsStore
	settings       store.SettingsStore
	audits         store.AuditStore
	sessionManager *auth.SessionManager
	identity       *auth.IdentityResolver
	provider       auth.IdentityProvider
	tickets        *auth.TicketService
	ingest         *ingest.Service
	exporter       *export.CSVWriter
	retention      *retention.Enforcer
	limiter        *ratelimit.Limiter

	activityTracker *sessionActivity
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		cfg:             deps.Cfg,
		logger:          deps.Logger,
		policy:          deps.Policy,
		accounts:        deps.Accounts,
		orgs:            deps.Organizations,
		students:        deps.Students,
		incidents:       deps.Incidents,
		sessions:        deps.Sessions,
		settings:        deps.Settings,
		audits:          deps.Audits,
		sessionManager:  deps.SessionManager,
		identity:        deps.Identity,
		provider:        deps.Provider,
		tickets:         deps.Tickets,
		ingest:          deps.Ingest,
		exporter:        deps.Exporter,
		retention:       deps.Retention,
		limiter:         deps.Limiter,
		activityTracker: newSessionActivity(),
	}
}

// Every response body is the same envelope so clients never branch on
// shape: {ok, data?, error?}. Error is a plain string; the finer-grained
// rejection reasons live in the server log.
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
