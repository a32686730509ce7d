package auth

import (
	"context"
	"fmt"
	"strings"

	"tracktally/config"
	"tracktally/core/rbac"
	"tracktally/core/store"
	"tracktally/core/utils"
)

// Profile is the identity assertion handed over by the OIDC provider after
// token verification. HostedDomain carries the provider's hd claim when the
// account belongs to a workspace domain.
type Profile struct {
	Email        string
	HostedDomain string
	Name         string
}

// Rejection reason codes. They go to the audit trail and server log only;
// clients always see a generic access-denied message.
const (
	ReasonDomainMismatch          = "domainMismatch"
	ReasonMissingDomain           = "missingDomain"
	ReasonOrganizationMissing     = "organizationMissing"
	ReasonExceptionMissingTeacher = "exceptionMissingTeacher"
	ReasonNotProvisioned          = "notProvisioned"
	ReasonInactive                = "inactive"
)

// RejectionError signals a refused sign-in with its machine-readable reason.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("sign-in rejected: %s", e.Reason)
}

type IdentityResolver struct {
	cfg      *config.AppConfig
	accounts store.AccountsStore
	orgs     store.OrganizationsStore
	audits   store.AuditStore
	logger   *utils.Logger
}

func NewIdentityResolver(cfg *config.AppConfig, accounts store.AccountsStore, orgs store.OrganizationsStore, audits store.AuditStore, logger *utils.Logger) *IdentityResolver {
	return &IdentityResolver{cfg: cfg, accounts: accounts, orgs: orgs, audits: audits, logger: logger}
}

// Resolve decides whether the profile may sign in, upserts the account and
// returns it with its bound organization (nil for superadmins). The role is
// recomputed from configuration on every call so that granting or revoking
// elevated access takes effect on the next sign-in without a migration.
func (r *IdentityResolver) Resolve(ctx context.Context, p Profile) (*store.Account, *store.Organization, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if email == "" {
		return nil, nil, r.reject(ctx, email, ReasonDomainMismatch)
	}
	allowedDomain := r.cfg.NormalizedAllowedDomain()
	if allowedDomain == "" {
		// No configured domain means nobody signs in. Fail closed.
		return nil, nil, r.reject(ctx, email, ReasonMissingDomain)
	}

	role := r.computeRole(email)

	var org *store.Organization
	var boundOrgID *int64
	switch {
	case role == rbac.RoleSuperAdmin:
		// Superadmins bypass domain and organization gating entirely.
	case r.isException(email):
		existing, err := r.accounts.FindByEmail(ctx, email)
		if err != nil {
			return nil, nil, err
		}
		if existing == nil || existing.OrganizationID == nil {
			// Exception accounts skip domain checks but may never
			// self-provision a tenant.
			return nil, nil, r.reject(ctx, email, ReasonExceptionMissingTeacher)
		}
		org, err = r.orgs.GetByID(ctx, *existing.OrganizationID)
		if err != nil {
			return nil, nil, err
		}
		if org == nil {
			return nil, nil, r.reject(ctx, email, ReasonOrganizationMissing)
		}
		boundOrgID = existing.OrganizationID
	default:
		if emailDomain(email) != allowedDomain {
			return nil, nil, r.reject(ctx, email, ReasonDomainMismatch)
		}
		if hd := strings.ToLower(strings.TrimSpace(p.HostedDomain)); hd != "" && hd != allowedDomain {
			return nil, nil, r.reject(ctx, email, ReasonDomainMismatch)
		}
		var err error
		org, err = r.orgs.GetByDomain(ctx, allowedDomain)
		if err != nil {
			return nil, nil, err
		}
		if org == nil {
			return nil, nil, r.reject(ctx, email, ReasonOrganizationMissing)
		}
		boundOrgID = &org.ID
	}

	acc, err := r.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	if acc == nil {
		acc = &store.Account{
			Email:          email,
			Name:           strings.TrimSpace(p.Name),
			Role:           role,
			OrganizationID: boundOrgID,
			Active:         true,
		}
		if _, err := r.accounts.Create(ctx, acc); err != nil {
			return nil, nil, err
		}
	} else {
		changed := false
		if acc.Role != role {
			acc.Role = role
			changed = true
		}
		if name := strings.TrimSpace(p.Name); name != "" && acc.Name != name {
			acc.Name = name
			changed = true
		}
		if boundOrgID != nil && (acc.OrganizationID == nil || *acc.OrganizationID != *boundOrgID) {
			acc.OrganizationID = boundOrgID
			changed = true
		}
		if changed {
			if err := r.accounts.Update(ctx, acc); err != nil {
				return nil, nil, err
			}
		}
	}

	if !acc.Active {
		return nil, nil, r.reject(ctx, email, ReasonInactive)
	}
	if acc.Role != rbac.RoleSuperAdmin && acc.OrganizationID == nil {
		return nil, nil, r.reject(ctx, email, ReasonNotProvisioned)
	}

	now := utils.NowUTC()
	if err := r.accounts.TouchLogin(ctx, acc.ID, now); err != nil && r.logger != nil {
		r.logger.Errorf("touch login for account %d: %v", acc.ID, err)
	}
	if org == nil && acc.OrganizationID != nil {
		org, err = r.orgs.GetByID(ctx, *acc.OrganizationID)
		if err != nil {
			return nil, nil, err
		}
	}
	return acc, org, nil
}

func (r *IdentityResolver) computeRole(email string) string {
	if containsEmail(r.cfg.Auth.SuperAdminEmails, email) {
		return rbac.RoleSuperAdmin
	}
	if containsEmail(r.cfg.Auth.AdminEmails, email) {
		return rbac.RoleAdmin
	}
	return rbac.RoleTeacher
}

func (r *IdentityResolver) isException(email string) bool {
	return containsEmail(r.cfg.Auth.ExceptionEmails, email)
}

func (r *IdentityResolver) reject(ctx context.Context, email, reason string) error {
	if r.logger != nil {
		r.logger.Warnf("sign-in rejected reason=%s email=%s", reason, utils.RedactEmail(email))
	}
	if r.audits != nil {
		if err := r.audits.Log(ctx, utils.RedactEmail(email), "auth.signin_rejected", reason); err != nil && r.logger != nil {
			r.logger.Errorf("audit sign-in rejection: %v", err)
		}
	}
	return &RejectionError{Reason: reason}
}

func containsEmail(list []string, email string) bool {
	for _, e := range list {
		if strings.ToLower(strings.TrimSpace(e)) == email {
			return true
		}
	}
	return false
}

func emailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}
