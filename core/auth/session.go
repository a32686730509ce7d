package auth

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"tracktally/config"
	"tracktally/core/store"
	"tracktally/core/utils"
)

type SessionManager struct {
	sessions store.SessionsStore
	cfg      *config.AppConfig
	logger   *utils.Logger
}

func NewSessionManager(sessions store.SessionsStore, cfg *config.AppConfig, logger *utils.Logger) *SessionManager {
	return &SessionManager{sessions: sessions, cfg: cfg, logger: logger}
}

// Create mints a session carrying the account's role and organization as a
// denormalized snapshot. Token refreshes read this row; only a fresh
// sign-in recomputes it from the account record.
func (m *SessionManager) Create(ctx context.Context, acc *store.Account, org *store.Organization, ip, userAgent string) (*store.SessionRecord, error) {
	id := uuid.Must(uuid.NewV4()).String()
	now := utils.NowUTC()
	rec := &store.SessionRecord{
		ID:         id,
		AccountID:  acc.ID,
		Email:      acc.Email,
		Role:       acc.Role,
		IP:         ip,
		UserAgent:  userAgent,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(m.cfg.EffectiveSessionTTL()),
	}
	if org != nil {
		rec.OrganizationID = &org.ID
		rec.OrgName = org.Name
		rec.OrgDomain = org.Domain
	} else if acc.OrganizationID != nil {
		rec.OrganizationID = acc.OrganizationID
	}
	if err := m.sessions.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (m *SessionManager) Refresh(ctx context.Context, sessionID string) error {
	return m.sessions.UpdateActivity(ctx, sessionID, utils.NowUTC(), m.cfg.EffectiveSessionTTL())
}

func (m *SessionManager) Destroy(ctx context.Context, sessionID string) error {
	return m.sessions.Delete(ctx, sessionID)
}

// Prune removes expired session rows. Lookups already reject expired
// sessions; this keeps the table from growing without bound.
func (m *SessionManager) Prune(ctx context.Context) {
	n, err := m.sessions.DeleteExpired(ctx, utils.NowUTC())
	if err != nil {
		m.logger.Errorf("session prune: %v", err)
		return
	}
	if n > 0 {
		m.logger.Printf("session prune removed %d expired sessions", n)
	}
}
