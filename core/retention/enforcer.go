// Package retention deletes incidents older than the configured window.
package retention

import (
	"context"
	"sync"
	"time"

	"tracktally/config"
	"tracktally/core/store"
	"tracktally/core/utils"
)

// Enforcer trims aged incidents. It is safe to poke from the submission
// path on every write: actual sweeps are throttled and the retention
// setting is cached, so the hot path never blocks on housekeeping.
type Enforcer struct {
	cfg       *config.AppConfig
	incidents store.IncidentsStore
	settings  store.SettingsStore
	logger    *utils.Logger

	mu         sync.Mutex
	lastRun    time.Time
	cachedDays int
	cachedAt   time.Time
}

func NewEnforcer(cfg *config.AppConfig, incidents store.IncidentsStore, settings store.SettingsStore, logger *utils.Logger) *Enforcer {
	return &Enforcer{cfg: cfg, incidents: incidents, settings: settings, logger: logger}
}

// Enforce runs at most once per configured interval. Errors are logged and
// swallowed so a broken sweep never fails a submission.
func (e *Enforcer) Enforce(ctx context.Context) {
	now := time.Now()

	e.mu.Lock()
	if !e.lastRun.IsZero() && now.Sub(e.lastRun) < e.cfg.Retention.RunInterval {
		e.mu.Unlock()
		return
	}
	e.lastRun = now
	e.mu.Unlock()

	days := e.retentionDays(ctx, now)
	cutoff := now.AddDate(0, 0, -days)
	deleted, err := e.incidents.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		e.logger.Errorf("retention sweep failed: %v", err)
		return
	}
	if deleted > 0 {
		e.logger.Printf("retention sweep removed %d incidents older than %d days", deleted, days)
	}
}

func (e *Enforcer) retentionDays(ctx context.Context, now time.Time) int {
	e.mu.Lock()
	if e.cachedDays > 0 && now.Sub(e.cachedAt) < e.cfg.Retention.SettingTTL {
		days := e.cachedDays
		e.mu.Unlock()
		return days
	}
	e.mu.Unlock()

	days, err := e.settings.GetInt(ctx, store.SettingRetentionDays, e.cfg.Retention.DefaultDays)
	if err != nil {
		e.logger.Warnf("retention setting lookup failed, using default: %v", err)
		days = e.cfg.Retention.DefaultDays
	}
	days = e.cfg.ClampRetentionDays(days)

	e.mu.Lock()
	e.cachedDays = days
	e.cachedAt = now
	e.mu.Unlock()
	return days
}

// Invalidate drops the cached setting so an admin change takes effect on
// the next sweep instead of after the cache TTL.
func (e *Enforcer) Invalidate() {
	e.mu.Lock()
	e.cachedDays = 0
	e.cachedAt = time.Time{}
	e.mu.Unlock()
}
