package rbac

import "testing"

func TestRoleInheritance(t *testing.T) {
	p, err := NewPolicy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	cases := []struct {
		role string
		perm Permission
		want bool
	}{
		{RoleTeacher, PermIncidentsSubmit, true},
		{RoleTeacher, PermIncidentsView, false},
		{RoleTeacher, PermOrgsManage, false},
		{RoleAdmin, PermIncidentsSubmit, true},
		{RoleAdmin, PermIncidentsView, true},
		{RoleAdmin, PermIncidentsPurge, true},
		{RoleAdmin, PermAccountsView, true},
		{RoleAdmin, PermAuditView, false},
		{RoleAdmin, PermOrgsManage, false},
		{RoleSuperAdmin, PermIncidentsView, true},
		{RoleSuperAdmin, PermAuditView, true},
		{RoleSuperAdmin, PermOrgsManage, true},
		{"", PermIncidentsSubmit, false},
	}
	for _, c := range cases {
		if got := p.Allowed(c.role, c.perm); got != c.want {
			t.Fatalf("Allowed(%q, %q) = %v, want %v", c.role, c.perm, got, c.want)
		}
	}
}
