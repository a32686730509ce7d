package retention

import (
	"context"

	"github.com/robfig/cron/v3"

	"tracktally/config"
	"tracktally/core/utils"
)

// Pruner is implemented by the auth ticket service and session manager,
// which both sweep expired rows.
type Pruner interface {
	Prune(ctx context.Context)
}

// Scheduler drives the periodic sweeps so retention is enforced even when
// nobody is submitting.
type Scheduler struct {
	cfg      *config.AppConfig
	enforcer *Enforcer
	tickets  Pruner
	sessions Pruner
	logger   *utils.Logger
	cron     *cron.Cron
}

func NewScheduler(cfg *config.AppConfig, enforcer *Enforcer, tickets, sessions Pruner, logger *utils.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, enforcer: enforcer, tickets: tickets, sessions: sessions, logger: logger, cron: cron.New()}
}

func (s *Scheduler) Start() error {
	if !s.cfg.Scheduler.Enabled {
		s.logger.Printf("background scheduler disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.cfg.Scheduler.RetentionSpec, func() {
		s.enforcer.Enforce(context.Background())
	}); err != nil {
		return err
	}
	if s.tickets != nil {
		if _, err := s.cron.AddFunc(s.cfg.Scheduler.TicketSpec, func() {
			s.tickets.Prune(context.Background())
		}); err != nil {
			return err
		}
	}
	if s.sessions != nil {
		if _, err := s.cron.AddFunc(s.cfg.Scheduler.TicketSpec, func() {
			s.sessions.Prune(context.Background())
		}); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.logger.Printf("background scheduler started (retention %q, tickets %q)",
		s.cfg.Scheduler.RetentionSpec, s.cfg.Scheduler.TicketSpec)
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
