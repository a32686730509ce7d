package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tracktally/config"
	"tracktally/core/auth"
	"tracktally/core/export"
	"tracktally/core/ingest"
	"tracktally/core/notify"
	"tracktally/core/ratelimit"
	"tracktally/core/rbac"
	"tracktally/core/retention"
	"tracktally/core/store"
	"tracktally/core/utils"
)

type serverEnv struct {
	server   *Server
	handler  http.Handler
	cfg      *config.AppConfig
	orgs     store.OrganizationsStore
	accounts store.AccountsStore
	sessions *auth.SessionManager
	mirror   *recordingMirror
	logs     *logSink
}

// logSink captures log output; the mutex covers writes from the retention
// goroutine that can outlive the request.
type logSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *logSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *logSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

type recordingMirror struct {
	rows [][]string
	fail error
}

func (m *recordingMirror) Append(ctx context.Context, sheet string, row []string) error {
	if m.fail != nil {
		return m.fail
	}
	m.rows = append(m.rows, append([]string{sheet}, row...))
	return nil
}

func setupServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver:   "sqlite",
		DBURL:      filepath.Join(t.TempDir(), "api.db"),
		BaseURL:    "http://localhost:8080",
		SessionTTL: time.Hour,
		Auth: config.AuthConfig{
			AllowedDomain: "school.test",
			TicketTTL:     5 * time.Minute,
		},
		RateLimit: config.RateLimitConfig{
			SubmitLimit:  3,
			SubmitWindow: time.Hour,
			AdminLimit:   5,
			AdminWindow:  time.Hour,
		},
		Retention: config.RetentionConfig{
			DefaultDays: 365, MinDays: 1, MaxDays: 3650,
			RunInterval: time.Minute, SettingTTL: 5 * time.Minute,
		},
	}
	logs := &logSink{}
	logger := utils.NewLoggerTo(logs)
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	accounts := store.NewAccountsStore(db)
	orgs := store.NewOrganizationsStore(db)
	students := store.NewStudentsStore(db)
	incidents := store.NewIncidentsStore(db)
	sessions := store.NewSessionsStore(db)
	settings := store.NewSettingsStore(db)
	audits := store.NewAuditStore(db)

	policy, err := rbac.NewPolicy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	sm := auth.NewSessionManager(sessions, cfg, logger)
	identity := auth.NewIdentityResolver(cfg, accounts, orgs, audits, logger)
	tickets := auth.NewTicketService(store.NewTicketsStore(db), cfg, logger)
	enforcer := retention.NewEnforcer(cfg, incidents, settings, logger)
	mirror := &recordingMirror{}
	svc := ingest.NewService(incidents, students, mirror, notify.NewMailer(cfg.SMTP, logger), enforcer, logger)

	srv := NewServer(ServerDeps{
		Cfg:            cfg,
		Logger:         logger,
		Policy:         policy,
		Accounts:       accounts,
		Organizations:  orgs,
		Students:       students,
		Incidents:      incidents,
		Sessions:       sessions,
		Settings:       settings,
		Audits:         audits,
		SessionManager: sm,
		Identity:       identity,
		Tickets:        tickets,
		Ingest:         svc,
		Exporter:       export.NewCSVWriter(students),
		Retention:      enforcer,
		Limiter:        ratelimit.NewLimiter(ratelimit.NewMemoryStore()),
	})
	return &serverEnv{
		server:   srv,
		handler:  srv.Routes(),
		cfg:      cfg,
		orgs:     orgs,
		accounts: accounts,
		sessions: sm,
		mirror:   mirror,
		logs:     logs,
	}
}

func (env *serverEnv) seedOrg(t *testing.T, name, domain string) *store.Organization {
	t.Helper()
	org := &store.Organization{Name: name, Domain: domain, Active: true}
	if _, err := env.orgs.Create(context.Background(), org); err != nil {
		t.Fatalf("seed org: %v", err)
	}
	return org
}

func (env *serverEnv) seedSession(t *testing.T, email, role string, org *store.Organization) *store.SessionRecord {
	t.Helper()
	ctx := context.Background()
	acc := &store.Account{Email: email, Name: "Test User", Role: role, Active: true}
	if org != nil {
		acc.OrganizationID = &org.ID
	}
	if _, err := env.accounts.Create(ctx, acc); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	sess, err := env.sessions.Create(ctx, acc, org, "198.51.100.7", "test-agent")
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return sess
}

func doRequest(t *testing.T, h http.Handler, method, target, sessionID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.RemoteAddr = "198.51.100.7:51324"
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: sessionID})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope (%d %s): %v", rec.Code, rec.Body.String(), err)
	}
	return env
}

func TestMissingSessionIsUnauthorized(t *testing.T) {
	env := setupServerEnv(t)
	rec := doRequest(t, env.handler, http.MethodGet, "/api/admin/incidents", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	body := decodeEnvelope(t, rec)
	if body.OK || body.Error != "unauthorized" {
		t.Fatalf("envelope = %+v", body)
	}

	// The error field is a plain string, not a structured object.
	var raw struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("error field is not a plain string: %v (%s)", err, rec.Body.String())
	}
}

func TestTeacherCannotReachAdminRoutes(t *testing.T) {
	env := setupServerEnv(t)
	org := env.seedOrg(t, "Northside", "school.test")
	sess := env.seedSession(t, "teacher@school.test", rbac.RoleTeacher, org)
	rec := doRequest(t, env.handler, http.MethodGet, "/api/admin/incidents", sess.ID, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body.Error != "forbidden" {
		t.Fatalf("envelope = %+v", body)
	}
}

func TestAdminListScopedToOwnOrganization(t *testing.T) {
	env := setupServerEnv(t)
	org := env.seedOrg(t, "Northside", "school.test")
	sess := env.seedSession(t, "admin@school.test", rbac.RoleAdmin, org)
	rec := doRequest(t, env.handler, http.MethodGet, "/api/admin/incidents", sess.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s, want 200", rec.Code, rec.Body.String())
	}
	if body := decodeEnvelope(t, rec); !body.OK {
		t.Fatalf("envelope = %+v", body)
	}
}

func TestNoAllowedDomainFailsClosed(t *testing.T) {
	env := setupServerEnv(t)
	org := env.seedOrg(t, "Northside", "school.test")
	sess := env.seedSession(t, "admin@school.test", rbac.RoleAdmin, org)
	env.cfg.Auth.AllowedDomain = ""
	rec := doRequest(t, env.handler, http.MethodGet, "/api/admin/incidents", sess.ID, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 when no domain configured", rec.Code)
	}
}

func TestDomainChangeCutsOffOldSessions(t *testing.T) {
	env := setupServerEnv(t)
	org := env.seedOrg(t, "Northside", "school.test")
	sess := env.seedSession(t, "admin@school.test", rbac.RoleAdmin, org)
	env.cfg.Auth.AllowedDomain = "other.test"
	rec := doRequest(t, env.handler, http.MethodGet, "/api/admin/incidents", sess.ID, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 after domain change", rec.Code)
	}
}

func TestSuperadminImpersonationRequiresExplicitDomain(t *testing.T) {
	env := setupServerEnv(t)
	env.seedOrg(t, "Northside", "school.test")
	sess := env.seedSession(t, "root@hq.test", rbac.RoleSuperAdmin, nil)

	// No ?domain= and no bound org: binding fails, nothing implicit.
	rec := doRequest(t, env.handler, http.MethodGet, "/api/admin/incidents", sess.ID, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 without explicit domain", rec.Code)
	}

	rec = doRequest(t, env.handler, http.MethodGet, "/api/admin/incidents?domain=school.test", sess.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s, want 200 with explicit domain", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, env.handler, http.MethodGet, "/api/admin/incidents?domain=ghost.test", sess.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown domain", rec.Code)
	}
}

func TestAdminRateLimitBoundary(t *testing.T) {
	env := setupServerEnv(t)
	org := env.seedOrg(t, "Northside", "school.test")
	sess := env.seedSession(t, "admin@school.test", rbac.RoleAdmin, org)

	limit := env.cfg.RateLimit.AdminLimit
	for i := 0; i < limit; i++ {
		rec := doRequest(t, env.handler, http.MethodGet, "/api/admin/incidents", sess.ID, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got == "" {
			t.Fatalf("request %d missing X-RateLimit-Limit", i+1)
		}
	}

	rec := doRequest(t, env.handler, http.MethodGet, "/api/admin/incidents", sess.ID, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over-limit status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("429 missing Retry-After")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 0", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestSubmitInsertsAndMirrors(t *testing.T) {
	env := setupServerEnv(t)
	org := env.seedOrg(t, "Northside", "school.test")
	sess := env.seedSession(t, "teacher@school.test", rbac.RoleTeacher, org)

	payload := `{"studentId":"S-1","studentName":"Ada","level":"minor","category":"disruption","location":"classroom","uuid":"0d4cbb76-6b34-4a31-9f2c-3d06c9a1f552"}`
	rec := doRequest(t, env.handler, http.MethodPost, "/api/incidents", sess.ID, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s, want 200", rec.Code, rec.Body.String())
	}
	if len(env.mirror.rows) != 1 || env.mirror.rows[0][0] != "Incidents" {
		t.Fatalf("mirror rows = %v", env.mirror.rows)
	}

	// Same UUID again: idempotent, still mirrored per the retry contract.
	rec = doRequest(t, env.handler, http.MethodPost, "/api/incidents", sess.ID, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry status = %d, want 200", rec.Code)
	}
}

func TestSubmitMirrorFailureIsBadGateway(t *testing.T) {
	env := setupServerEnv(t)
	org := env.seedOrg(t, "Northside", "school.test")
	sess := env.seedSession(t, "teacher@school.test", rbac.RoleTeacher, org)
	env.mirror.fail = context.DeadlineExceeded

	payload := `{"studentId":"S-1","studentName":"Ada","level":"minor","category":"disruption","location":"classroom"}`
	rec := doRequest(t, env.handler, http.MethodPost, "/api/incidents", sess.ID, payload)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d body=%s, want 502", rec.Code, rec.Body.String())
	}
}

func TestSubmitValidationErrorIsVerbatim(t *testing.T) {
	env := setupServerEnv(t)
	org := env.seedOrg(t, "Northside", "school.test")
	sess := env.seedSession(t, "teacher@school.test", rbac.RoleTeacher, org)

	payload := `{"studentId":"S-1","studentName":"Ada","level":"minor","category":"disruption","location":"moon"}`
	rec := doRequest(t, env.handler, http.MethodPost, "/api/incidents", sess.ID, payload)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeEnvelope(t, rec)
	if !strings.Contains(body.Error, "location") {
		t.Fatalf("envelope = %+v, want verbatim validation message", body)
	}
}

func TestSubmitOversizedBodyRejected(t *testing.T) {
	env := setupServerEnv(t)
	org := env.seedOrg(t, "Northside", "school.test")
	sess := env.seedSession(t, "teacher@school.test", rbac.RoleTeacher, org)

	big := strings.Repeat("x", int(ingest.MaxBodyBytes)+100)
	payload := `{"studentId":"S-1","studentName":"` + big + `","level":"minor","category":"disruption","location":"classroom"}`
	rec := doRequest(t, env.handler, http.MethodPost, "/api/incidents", sess.ID, payload)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body.Error != "request body too large" {
		t.Fatalf("envelope = %+v", body)
	}
}

func TestRequestLogAttributesAuthenticatedUser(t *testing.T) {
	env := setupServerEnv(t)
	org := env.seedOrg(t, "Northside", "school.test")
	sess := env.seedSession(t, "admin@school.test", rbac.RoleAdmin, org)

	rec := doRequest(t, env.handler, http.MethodGet, "/api/admin/incidents", sess.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(env.logs.String(), "user=a***@school.test") {
		t.Fatalf("RESP line missing redacted user:\n%s", env.logs.String())
	}
}

func TestAdminCanListOrganizationAccounts(t *testing.T) {
	env := setupServerEnv(t)
	org := env.seedOrg(t, "Northside", "school.test")
	other := env.seedOrg(t, "Southside", "other.test")
	sess := env.seedSession(t, "admin@school.test", rbac.RoleAdmin, org)
	env.seedSession(t, "head@other.test", rbac.RoleAdmin, other)

	rec := doRequest(t, env.handler, http.MethodGet, "/api/admin/accounts", sess.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data struct {
			Accounts []store.Account `json:"accounts"`
			Count    int             `json:"count"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Count != 1 || body.Data.Accounts[0].Email != "admin@school.test" {
		t.Fatalf("accounts = %+v, want only the caller's organization", body.Data)
	}
}

func TestAuditTrailIsSuperadminOnly(t *testing.T) {
	env := setupServerEnv(t)
	org := env.seedOrg(t, "Northside", "school.test")
	admin := env.seedSession(t, "admin@school.test", rbac.RoleAdmin, org)
	root := env.seedSession(t, "root@hq.test", rbac.RoleSuperAdmin, nil)

	// Generate an auditable action first.
	rec := doRequest(t, env.handler, http.MethodPut, "/api/admin/settings/retention", admin.ID, `{"days":30}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("retention put status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, env.handler, http.MethodGet, "/api/admin/audit", admin.ID, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("admin audit status = %d, want 403", rec.Code)
	}

	rec = doRequest(t, env.handler, http.MethodGet, "/api/admin/audit", root.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("superadmin audit status = %d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data struct {
			Entries []store.AuditEntry `json:"entries"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	found := false
	for _, e := range body.Data.Entries {
		if e.Action == "settings.retention" && e.Actor == "admin@school.test" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the retention change in the trail: %+v", body.Data.Entries)
	}
}

func TestClientIPHonorsTrustedProxies(t *testing.T) {
	env := setupServerEnv(t)
	env.cfg.TrustedProxies = []string{"10.0.0.0/8"}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:9000"
	req.Header.Set("X-Forwarded-For", "203.0.113.50, 10.9.9.9")
	if got := env.server.clientIP(req); got != "203.0.113.50" {
		t.Fatalf("clientIP = %q, want nearest untrusted hop", got)
	}

	// Untrusted peer: the header is attacker-controlled, ignore it.
	req.RemoteAddr = "203.0.113.80:9000"
	if got := env.server.clientIP(req); got != "203.0.113.80" {
		t.Fatalf("clientIP = %q, want peer address", got)
	}
}
