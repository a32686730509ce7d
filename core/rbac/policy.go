package rbac

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

type Permission string

const (
	PermIncidentsSubmit Permission = "incidents.submit"
	PermIncidentsView   Permission = "incidents.view"
	PermIncidentsExport Permission = "incidents.export"
	PermIncidentsPurge  Permission = "incidents.purge"
	PermRosterManage    Permission = "roster.manage"
	PermSettingsManage  Permission = "settings.manage"
	PermAccountsView    Permission = "accounts.view"
	PermAuditView       Permission = "audit.view"
	PermOrgsManage      Permission = "organizations.manage"
)

const (
	RoleTeacher    = "teacher"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

const rbacModel = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj
`

// Policy answers role→permission questions. Roles inherit upward:
// superadmin ⊇ admin ⊇ teacher, except organization management which is
// superadmin-only by an explicit grant.
type Policy struct {
	enforcer *casbin.Enforcer
}

func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("rbac model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("rbac enforcer: %w", err)
	}
	grants := [][2]string{
		{RoleTeacher, string(PermIncidentsSubmit)},
		{RoleAdmin, string(PermIncidentsView)},
		{RoleAdmin, string(PermIncidentsExport)},
		{RoleAdmin, string(PermIncidentsPurge)},
		{RoleAdmin, string(PermRosterManage)},
		{RoleAdmin, string(PermSettingsManage)},
		{RoleAdmin, string(PermAccountsView)},
		// The audit trail spans every tenant, so it stays superadmin-only
		// like organization management.
		{RoleSuperAdmin, string(PermAuditView)},
		{RoleSuperAdmin, string(PermOrgsManage)},
	}
	for _, g := range grants {
		if _, err := e.AddPolicy(g[0], g[1]); err != nil {
			return nil, err
		}
	}
	if _, err := e.AddGroupingPolicy(RoleAdmin, RoleTeacher); err != nil {
		return nil, err
	}
	if _, err := e.AddGroupingPolicy(RoleSuperAdmin, RoleAdmin); err != nil {
		return nil, err
	}
	return &Policy{enforcer: e}, nil
}

func (p *Policy) Allowed(role string, perm Permission) bool {
	if p == nil || p.enforcer == nil {
		return false
	}
	ok, err := p.enforcer.Enforce(role, string(perm))
	return err == nil && ok
}

func ValidRole(role string) bool {
	switch role {
	case RoleTeacher, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}
