package appbootstrap

import (
	"tracktally/api"
	"tracktally/config"
	"tracktally/core/auth"
	"tracktally/core/export"
	"tracktally/core/ingest"
	"tracktally/core/mirror"
	"tracktally/core/notify"
	"tracktally/core/ratelimit"
	"tracktally/core/rbac"
	"tracktally/core/retention"
	"tracktally/core/store"
	"tracktally/core/utils"
)

type runtimeComposition struct {
	serverDeps api.ServerDeps
	scheduler  *retention.Scheduler
}

func composeRuntime(cfg *config.AppConfig, db *store.DB, logger *utils.Logger) (*runtimeComposition, error) {
	accounts := store.NewAccountsStore(db)
	orgs := store.NewOrganizationsStore(db)
	students := store.NewStudentsStore(db)
	incidents := store.NewIncidentsStore(db)
	sessions := store.NewSessionsStore(db)
	tickets := store.NewTicketsStore(db)
	settings := store.NewSettingsStore(db)
	audits := store.NewAuditStore(db)

	policy, err := rbac.NewPolicy()
	if err != nil {
		return nil, err
	}

	sessionManager := auth.NewSessionManager(sessions, cfg, logger)
	identity := auth.NewIdentityResolver(cfg, accounts, orgs, audits, logger)
	provider := auth.NewGoogleProvider(cfg.Auth)
	ticketSvc := auth.NewTicketService(tickets, cfg, logger)

	enforcer := retention.NewEnforcer(cfg, incidents, settings, logger)
	mailer := notify.NewMailer(cfg.SMTP, logger)

	var sheetMirror ingest.Mirror
	if cfg.Mirror.Configured() {
		tokens, err := mirror.NewServiceAccountTokenSource(cfg.Mirror)
		if err != nil {
			return nil, err
		}
		sheetMirror = mirror.NewSheetsClient(cfg.Mirror, tokens, logger)
	} else {
		logger.Warnf("spreadsheet mirror not configured, submissions will not be mirrored")
	}

	ingestSvc := ingest.NewService(incidents, students, sheetMirror, mailer, enforcer, logger)
	scheduler := retention.NewScheduler(cfg, enforcer, ticketSvc, sessionManager, logger)

	return &runtimeComposition{
		serverDeps: api.ServerDeps{
			Cfg:            cfg,
			Logger:         logger,
			Policy:         policy,
			Accounts:       accounts,
			Organizations:  orgs,
			Students:       students,
			Incidents:      incidents,
			Sessions:       sessions,
			Settings:       settings,
			Audits:         audits,
			SessionManager: sessionManager,
			Identity:       identity,
			Provider:       provider,
			Tickets:        ticketSvc,
			Ingest:         ingestSvc,
			Exporter:       export.NewCSVWriter(students),
			Retention:      enforcer,
			Limiter:        ratelimit.NewLimiter(ratelimit.NewMemoryStore()),
		},
		scheduler: scheduler,
	}, nil
}
