// Package tenant holds the single choke point that turns a caller's session
// into the organization id every scoped query must filter by.
package tenant

import (
	"context"
	"errors"
	"strings"

	"tracktally/core/rbac"
	"tracktally/core/store"
)

var (
	// ErrOrganizationNotFound: an explicitly requested impersonation
	// domain has no organization. Hard error, never a silent fallback.
	ErrOrganizationNotFound = errors.New("organization not found")
	// ErrOrganizationUnavailable: the caller has no bound organization
	// and did not (or may not) request one.
	ErrOrganizationUnavailable = errors.New("no organization available for this account")
)

// Resolve determines the effective organization for a request. Superadmins
// may impersonate another tenant by naming its domain; everyone else is
// pinned to the organization bound at sign-in. Handlers must never trust a
// client-supplied organization id directly.
func Resolve(ctx context.Context, orgs store.OrganizationsStore, sess *store.SessionRecord, requestedDomain string) (int64, error) {
	requestedDomain = strings.ToLower(strings.TrimSpace(requestedDomain))
	if sess.Role == rbac.RoleSuperAdmin && requestedDomain != "" {
		org, err := orgs.GetByDomain(ctx, requestedDomain)
		if err != nil {
			return 0, err
		}
		if org == nil {
			return 0, ErrOrganizationNotFound
		}
		return org.ID, nil
	}
	if sess.OrganizationID == nil || *sess.OrganizationID <= 0 {
		return 0, ErrOrganizationUnavailable
	}
	return *sess.OrganizationID, nil
}
