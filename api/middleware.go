package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"tracktally/core/auth"
	"tracktally/core/ratelimit"
	"tracktally/core/rbac"
	"tracktally/core/store"
	"tracktally/core/tenant"
	"tracktally/core/utils"
)

const (
	sessionCookie           = "tracktally_session"
	sessionActivityInterval = 30 * time.Second
)

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Errorf("PANIC %s %s: %v\n%s", r.Method, r.URL.Path, rec, string(debug.Stack()))
				writeErr(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// logUser is a per-request slot the session middleware fills in, so the
// outer request logger can attribute the line. The outer middleware never
// sees the derived context withSession builds further down the chain.
type logUser struct {
	email string
}

type logUserKey struct{}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		holder := &logUser{}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), logUserKey{}, holder)))
		user := "-"
		if holder.email != "" {
			user = utils.RedactEmail(holder.email)
		}
		s.logger.Printf("RESP %s %s user=%s status=%d dur=%s bytes=%d",
			r.Method, r.URL.Path, user, rec.status, time.Since(start), rec.size)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// sessionActivity throttles last-seen writes so a chatty client does not
// turn every request into an UPDATE.
type sessionActivity struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newSessionActivity() *sessionActivity {
	return &sessionActivity{last: map[string]time.Time{}}
}

func (sa *sessionActivity) shouldUpdate(id string, now time.Time, interval time.Duration) bool {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	last, ok := sa.last[id]
	if !ok || now.Sub(last) >= interval {
		sa.last[id] = now
		return true
	}
	return false
}

func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		token := ""
		if err == nil {
			token = cookie.Value
		}
		if token == "" {
			// Kiosk devices send the session as a bearer token instead of
			// a cookie.
			if bearer := strings.TrimSpace(r.Header.Get("Authorization")); strings.HasPrefix(bearer, "Bearer ") {
				token = strings.TrimSpace(strings.TrimPrefix(bearer, "Bearer "))
			}
		}
		if token == "" {
			s.logger.Printf("AUTH fail (missing credential) %s %s", r.Method, r.URL.Path)
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		sess, err := s.sessions.Get(r.Context(), token)
		if err != nil || sess == nil {
			s.logger.Printf("AUTH fail (session not found) %s %s: %v", r.Method, r.URL.Path, err)
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		now := time.Now().UTC()
		if s.activityTracker == nil || s.activityTracker.shouldUpdate(sess.ID, now, sessionActivityInterval) {
			_ = s.sessionManager.Refresh(r.Context(), sess.ID)
		}
		if holder, ok := r.Context().Value(logUserKey{}).(*logUser); ok {
			holder.email = sess.Email
		}
		ctx := context.WithValue(r.Context(), auth.SessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// enforceDomain re-checks the tenant domain on every authorized request so
// a domain change in config cuts off stale sessions from the old tenant.
// Superadmins are exempt. No configured domain means nobody passes.
func (s *Server) enforceDomain(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)
		if sess == nil {
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if sess.Role == rbac.RoleSuperAdmin {
			next.ServeHTTP(w, r)
			return
		}
		allowed := s.cfg.NormalizedAllowedDomain()
		if allowed == "" {
			s.logger.Warnf("domain check: no allowed domain configured, rejecting %s", utils.RedactEmail(sess.Email))
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if emailDomain(sess.Email) != allowed {
			s.logger.Warnf("domain check: %s outside allowed domain", utils.RedactEmail(sess.Email))
			writeErr(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	}
}

func (s *Server) requirePermission(perm rbac.Permission) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			sess := sessionFrom(r)
			if sess == nil {
				writeErr(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !s.policy.Allowed(sess.Role, perm) {
				s.logger.Printf("PERM fail %s %s user=%s role=%s need=%s",
					r.Method, r.URL.Path, utils.RedactEmail(sess.Email), sess.Role, perm)
				writeErr(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}

// withOrganization binds the request to exactly one tenant. Superadmins
// may target any tenant with ?domain=, everyone else gets their own.
func (s *Server) withOrganization(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)
		if sess == nil {
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		orgID, err := tenant.Resolve(r.Context(), s.orgs, sess, r.URL.Query().Get("domain"))
		if err != nil {
			switch {
			case errors.Is(err, tenant.ErrOrganizationNotFound):
				writeErr(w, http.StatusNotFound, "organization not found")
			case errors.Is(err, tenant.ErrOrganizationUnavailable):
				s.logger.Warnf("tenant bind: %s has no organization", utils.RedactEmail(sess.Email))
				writeErr(w, http.StatusForbidden, "forbidden")
			default:
				s.logger.Errorf("tenant bind: %v", err)
				writeErr(w, http.StatusInternalServerError, "internal server error")
			}
			return
		}
		ctx := context.WithValue(r.Context(), tenant.OrgIDContextKey, orgID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// rateLimit applies the fixed-window budget per client IP and per signed-in
// identity. Both buckets must have room; headers always reflect the
// identity bucket so clients can pace themselves.
func (s *Server) rateLimit(limit int, window time.Duration) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			sess := sessionFrom(r)
			if sess == nil {
				writeErr(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			ipRes := s.limiter.Check("ip|"+s.clientIP(r), limit, window)
			if ipRes.Limited {
				setRateHeaders(w, ipRes)
				writeErr(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			acctRes := s.limiter.Check("acct|"+strings.ToLower(sess.Email), limit, window)
			setRateHeaders(w, acctRes)
			if acctRes.Limited {
				writeErr(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}

func setRateHeaders(w http.ResponseWriter, res ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
	if res.Limited {
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds()+0.5)))
	}
}

// submitGate guards the incident submission endpoint.
func (s *Server) submitGate(next http.HandlerFunc) http.HandlerFunc {
	rl := s.rateLimit(s.cfg.RateLimit.SubmitLimit, s.cfg.RateLimit.SubmitWindow)
	return s.withSession(s.enforceDomain(s.requirePermission(rbac.PermIncidentsSubmit)(s.withOrganization(rl(next)))))
}

// adminGate is the single checkpoint order for tenant-scoped admin routes.
func (s *Server) adminGate(perm rbac.Permission, next http.HandlerFunc) http.HandlerFunc {
	rl := s.rateLimit(s.cfg.RateLimit.AdminLimit, s.cfg.RateLimit.AdminWindow)
	return s.withSession(s.enforceDomain(s.requirePermission(perm)(s.withOrganization(rl(next)))))
}

// superadminGate skips tenant binding, for the routes that manage tenants
// themselves.
func (s *Server) superadminGate(perm rbac.Permission, next http.HandlerFunc) http.HandlerFunc {
	rl := s.rateLimit(s.cfg.RateLimit.AdminLimit, s.cfg.RateLimit.AdminWindow)
	return s.withSession(s.requirePermission(perm)(rl(next)))
}

func sessionFrom(r *http.Request) *store.SessionRecord {
	v := r.Context().Value(auth.SessionContextKey)
	if v == nil {
		return nil
	}
	return v.(*store.SessionRecord)
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

func (s *Server) clientIP(r *http.Request) string {
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	if ip == "" {
		ip = r.RemoteAddr
	}
	ip = strings.TrimSpace(ip)
	if s.cfg == nil || !isTrustedProxy(ip, s.cfg.TrustedProxies) {
		return ip
	}
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if candidate := extractClientIPFromXFF(xff, s.cfg.TrustedProxies); candidate != "" {
			return candidate
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		if parsed := net.ParseIP(realIP); parsed != nil {
			return parsed.String()
		}
	}
	return ip
}

func extractClientIPFromXFF(xff string, trusted []string) string {
	parts := strings.Split(xff, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(parts[i])
		parsed := net.ParseIP(candidate)
		if parsed == nil {
			continue
		}
		val := parsed.String()
		if !isTrustedProxy(val, trusted) {
			return val
		}
	}
	return ""
}

func isTrustedProxy(ip string, trusted []string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	for _, raw := range trusted {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if strings.Contains(val, "/") {
			if _, block, err := net.ParseCIDR(val); err == nil && block.Contains(parsed) {
				return true
			}
			continue
		}
		if parsed.Equal(net.ParseIP(val)) {
			return true
		}
	}
	return false
}
