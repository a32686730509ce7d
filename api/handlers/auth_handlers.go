package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"tracktally/config"
	"tracktally/core/auth"
	"tracktally/core/store"
	"tracktally/core/utils"
)

const (
	sessionCookie    = "tracktally_session"
	oauthStateCookie = "tracktally_oauth_state"
	oauthStateTTL    = 10 * time.Minute

	defaultMobileRedirect = "tracktally://auth"
)

type AuthHandler struct {
	cfg            *config.AppConfig
	provider       auth.IdentityProvider
	identity       *auth.IdentityResolver
	sessionManager *auth.SessionManager
	sessions       store.SessionsStore
	tickets        *auth.TicketService
	audits         store.AuditStore
	logger         *utils.Logger
}

func NewAuthHandler(cfg *config.AppConfig, provider auth.IdentityProvider, identity *auth.IdentityResolver, sm *auth.SessionManager, sessions store.SessionsStore, tickets *auth.TicketService, audits store.AuditStore, logger *utils.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, provider: provider, identity: identity, sessionManager: sm, sessions: sessions, tickets: tickets, audits: audits, logger: logger}
}

func (h *AuthHandler) GoogleStart(w http.ResponseWriter, r *http.Request) {
	state := uuid.Must(uuid.NewV4()).String()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/auth",
		HttpOnly: true,
		Secure:   h.secureCookies(),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(oauthStateTTL),
	})
	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusFound)
}

func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	state := strings.TrimSpace(r.URL.Query().Get("state"))
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if state == "" || code == "" {
		writeErr(w, http.StatusBadRequest, "missing state or code")
		return
	}

	profile, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Warnf("oauth exchange failed: %v", err)
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	acc, org, err := h.identity.Resolve(r.Context(), profile)
	if err != nil {
		var rej *auth.RejectionError
		if errors.As(err, &rej) {
			// Rejection reasons go to the log and audit trail only.
			writeErr(w, http.StatusForbidden, "forbidden")
			return
		}
		h.logger.Errorf("identity resolve: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}

	sess, err := h.sessionManager.Create(r.Context(), acc, org, remoteIP(r), r.UserAgent())
	if err != nil {
		h.logger.Errorf("session create: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	_ = h.audits.Log(r.Context(), acc.Email, "auth.signin", "role="+acc.Role)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies(),
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})

	// Browser flow: the state must match the cookie we set at /start.
	if c, err := r.Cookie(oauthStateCookie); err == nil && c.Value == state {
		h.clearCookie(w, oauthStateCookie, "/api/auth")
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	// Mobile handoff: the state may belong to an open auth ticket. The
	// transfer token rides the redirect into the app's deep link.
	token, redirectPath, err := h.tickets.Finish(r.Context(), state, sess.ID)
	if err == nil {
		target := redirectPath + "?state=" + url.QueryEscape(state) + "&token=" + url.QueryEscape(token)
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	h.logger.Warnf("oauth callback: unmatched state for %s: %v", utils.RedactEmail(acc.Email), err)
	writeErr(w, http.StatusBadRequest, "state mismatch")
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if sess == nil {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	data := map[string]any{
		"email":     sess.Email,
		"role":      sess.Role,
		"expiresAt": sess.ExpiresAt,
	}
	if sess.OrganizationID != nil {
		data["organization"] = map[string]any{
			"id":     *sess.OrganizationID,
			"name":   sess.OrgName,
			"domain": sess.OrgDomain,
		}
	}
	writeOK(w, http.StatusOK, data)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if sess != nil {
		if err := h.sessionManager.Destroy(r.Context(), sess.ID); err != nil {
			h.logger.Errorf("session destroy: %v", err)
		}
		_ = h.audits.Log(r.Context(), sess.Email, "auth.signout", "")
	}
	h.clearCookie(w, sessionCookie, "/")
	writeOK(w, http.StatusOK, nil)
}

func (h *AuthHandler) MobileStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RedirectPath string `json:"redirectPath"`
	}
	// Body is optional for this endpoint.
	_ = json.NewDecoder(r.Body).Decode(&req)
	redirect := strings.TrimSpace(req.RedirectPath)
	if redirect == "" {
		redirect = defaultMobileRedirect
	}
	if len(redirect) > 200 || !validMobileRedirect(redirect) {
		writeErr(w, http.StatusBadRequest, "invalid redirect path")
		return
	}
	state, err := h.tickets.Start(r.Context(), redirect)
	if err != nil {
		h.logger.Errorf("mobile ticket start: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"state":   state,
		"authUrl": h.provider.AuthCodeURL(state),
	})
}

func (h *AuthHandler) MobileFinish(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if sess == nil {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.State) == "" {
		writeErr(w, http.StatusBadRequest, "missing state")
		return
	}
	token, _, err := h.tickets.Finish(r.Context(), strings.TrimSpace(req.State), sess.ID)
	if err != nil {
		h.writeTicketError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"transferToken": token})
}

func (h *AuthHandler) MobileSession(w http.ResponseWriter, r *http.Request) {
	state := strings.TrimSpace(r.URL.Query().Get("state"))
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if state == "" || token == "" {
		writeErr(w, http.StatusBadRequest, "missing state or token")
		return
	}
	sessionID, _, err := h.tickets.Claim(r.Context(), state, token)
	if err != nil {
		h.writeTicketError(w, err)
		return
	}
	sess, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil || sess == nil {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	_ = h.audits.Log(r.Context(), sess.Email, "auth.mobile_claimed", "")
	writeOK(w, http.StatusOK, map[string]any{
		"token":     sess.ID,
		"expiresAt": sess.ExpiresAt,
	})
}

func (h *AuthHandler) writeTicketError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrTicketExpired):
		writeErr(w, http.StatusBadRequest, "ticket expired")
	case errors.Is(err, auth.ErrTicketInvalid):
		writeErr(w, http.StatusBadRequest, "ticket invalid")
	default:
		h.logger.Errorf("mobile ticket: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *AuthHandler) secureCookies() bool {
	return strings.HasPrefix(strings.ToLower(h.cfg.BaseURL), "https://")
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// validMobileRedirect accepts app deep links and server-relative paths,
// never absolute web URLs, so the callback cannot bounce a transfer token
// to a third party.
func validMobileRedirect(redirect string) bool {
	if strings.HasPrefix(redirect, "/") {
		return !strings.HasPrefix(redirect, "//")
	}
	u, err := url.Parse(redirect)
	if err != nil || u.Scheme == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "javascript", "data", "file":
		return false
	}
	return true
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return ip
}
