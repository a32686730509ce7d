package tenant

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"tracktally/config"
	"tracktally/core/rbac"
	"tracktally/core/store"
	"tracktally/core/utils"
)

func setupResolverEnv(t *testing.T) (store.OrganizationsStore, *store.Organization) {
	t.Helper()
	cfg := &config.AppConfig{DBDriver: "sqlite", DBURL: filepath.Join(t.TempDir(), "tenant.db")}
	logger := utils.NewLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	orgs := store.NewOrganizationsStore(db)
	org := &store.Organization{Name: "Northside", Domain: "school.test", Active: true}
	if _, err := orgs.Create(context.Background(), org); err != nil {
		t.Fatalf("seed org: %v", err)
	}
	return orgs, org
}

func TestBoundAccountResolvesOwnOrganization(t *testing.T) {
	orgs, org := setupResolverEnv(t)
	sess := &store.SessionRecord{Role: rbac.RoleAdmin, OrganizationID: &org.ID}
	got, err := Resolve(context.Background(), orgs, sess, "")
	if err != nil || got != org.ID {
		t.Fatalf("Resolve = (%d, %v), want (%d, nil)", got, err, org.ID)
	}
}

func TestUnboundAccountIsUnavailable(t *testing.T) {
	orgs, _ := setupResolverEnv(t)
	sess := &store.SessionRecord{Role: rbac.RoleAdmin}
	if _, err := Resolve(context.Background(), orgs, sess, ""); !errors.Is(err, ErrOrganizationUnavailable) {
		t.Fatalf("err = %v, want ErrOrganizationUnavailable", err)
	}
}

func TestSuperadminImpersonatesByDomainOnly(t *testing.T) {
	orgs, org := setupResolverEnv(t)
	ctx := context.Background()
	sess := &store.SessionRecord{Role: rbac.RoleSuperAdmin}

	// Explicit domain resolves the target tenant.
	got, err := Resolve(ctx, orgs, sess, "school.test")
	if err != nil || got != org.ID {
		t.Fatalf("Resolve = (%d, %v), want (%d, nil)", got, err, org.ID)
	}

	// Unknown domain is a hard failure, not a fallback.
	if _, err := Resolve(ctx, orgs, sess, "ghost.test"); !errors.Is(err, ErrOrganizationNotFound) {
		t.Fatalf("err = %v, want ErrOrganizationNotFound", err)
	}

	// Without an explicit domain an unbound superadmin gets nothing.
	if _, err := Resolve(ctx, orgs, sess, ""); !errors.Is(err, ErrOrganizationUnavailable) {
		t.Fatalf("err = %v, want ErrOrganizationUnavailable", err)
	}
}

func TestNonSuperadminCannotImpersonate(t *testing.T) {
	orgs, org := setupResolverEnv(t)
	other := &store.Organization{Name: "Southside", Domain: "south.test", Active: true}
	if _, err := orgs.Create(context.Background(), other); err != nil {
		t.Fatalf("seed org: %v", err)
	}
	sess := &store.SessionRecord{Role: rbac.RoleAdmin, OrganizationID: &org.ID}
	got, err := Resolve(context.Background(), orgs, sess, "south.test")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != org.ID {
		t.Fatalf("Resolve = %d, want bound org %d regardless of ?domain", got, org.ID)
	}
}
