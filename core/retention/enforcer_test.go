package retention

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"tracktally/config"
	"tracktally/core/store"
	"tracktally/core/utils"
)

func setupRetentionEnv(t *testing.T) (*Enforcer, store.IncidentsStore, store.SettingsStore, *config.AppConfig) {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver: "sqlite",
		DBURL:    filepath.Join(t.TempDir(), "retention.db"),
		Retention: config.RetentionConfig{
			DefaultDays: 365,
			MinDays:     1,
			MaxDays:     3650,
			RunInterval: time.Minute,
			SettingTTL:  5 * time.Minute,
		},
	}
	logger := utils.NewLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	incidents := store.NewIncidentsStore(db)
	settings := store.NewSettingsStore(db)
	return NewEnforcer(cfg, incidents, settings, logger), incidents, settings, cfg
}

func seedIncident(t *testing.T, incidents store.IncidentsStore, orgID int64, ageDays int, n int) {
	t.Helper()
	ctx := context.Background()
	occurred := time.Now().AddDate(0, 0, -ageDays)
	for i := 0; i < n; i++ {
		inc := &store.Incident{
			UUID:           uuid.Must(uuid.NewV4()).String(),
			OrganizationID: orgID,
			Kind:           store.KindIncident,
			StudentID:      "S-" + strconv.Itoa(i),
			StudentName:    "Student " + strconv.Itoa(i),
			Location:       "classroom",
			TeacherEmail:   "teacher@school.test",
			OccurredAt:     occurred,
		}
		if _, err := incidents.InsertIfAbsent(ctx, inc); err != nil {
			t.Fatalf("seed incident: %v", err)
		}
	}
}

func countIncidents(t *testing.T, incidents store.IncidentsStore, orgID int64) int {
	t.Helper()
	rows, err := incidents.List(context.Background(), store.IncidentFilter{OrganizationID: orgID, Limit: 1000})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return len(rows)
}

func TestEnforceDeletesOnlyAgedIncidents(t *testing.T) {
	enforcer, incidents, settings, _ := setupRetentionEnv(t)
	ctx := context.Background()
	if err := settings.Set(ctx, store.SettingRetentionDays, "30"); err != nil {
		t.Fatalf("set: %v", err)
	}
	seedIncident(t, incidents, 1, 40, 3)
	seedIncident(t, incidents, 1, 5, 2)

	enforcer.Enforce(ctx)
	if got := countIncidents(t, incidents, 1); got != 2 {
		t.Fatalf("incidents after sweep = %d, want 2", got)
	}
}

func TestEnforceThrottlesRepeatRuns(t *testing.T) {
	enforcer, incidents, settings, _ := setupRetentionEnv(t)
	ctx := context.Background()
	if err := settings.Set(ctx, store.SettingRetentionDays, "30"); err != nil {
		t.Fatalf("set: %v", err)
	}
	enforcer.Enforce(ctx)

	// Within the throttle interval a second call is a no-op even though
	// aged rows now exist.
	seedIncident(t, incidents, 1, 40, 2)
	enforcer.Enforce(ctx)
	if got := countIncidents(t, incidents, 1); got != 2 {
		t.Fatalf("incidents after throttled sweep = %d, want 2", got)
	}

	enforcer.mu.Lock()
	enforcer.lastRun = time.Now().Add(-2 * time.Minute)
	enforcer.mu.Unlock()
	enforcer.Enforce(ctx)
	if got := countIncidents(t, incidents, 1); got != 0 {
		t.Fatalf("incidents after eligible sweep = %d, want 0", got)
	}
}

func TestRetentionDaysClampedAndCached(t *testing.T) {
	enforcer, _, settings, _ := setupRetentionEnv(t)
	ctx := context.Background()
	if err := settings.Set(ctx, store.SettingRetentionDays, "999999"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if days := enforcer.retentionDays(ctx, time.Now()); days != 3650 {
		t.Fatalf("days = %d, want clamp to 3650", days)
	}

	// Cached value survives a setting change until invalidated.
	if err := settings.Set(ctx, store.SettingRetentionDays, "10"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if days := enforcer.retentionDays(ctx, time.Now()); days != 3650 {
		t.Fatalf("days = %d, want cached 3650", days)
	}
	enforcer.Invalidate()
	if days := enforcer.retentionDays(ctx, time.Now()); days != 10 {
		t.Fatalf("days = %d, want 10 after invalidate", days)
	}
}

func TestMissingSettingFallsBackToDefault(t *testing.T) {
	enforcer, _, _, cfg := setupRetentionEnv(t)
	if days := enforcer.retentionDays(context.Background(), time.Now()); days != cfg.Retention.DefaultDays {
		t.Fatalf("days = %d, want default %d", days, cfg.Retention.DefaultDays)
	}
}
