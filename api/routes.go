package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"tracktally/api/handlers"
	"tracktally/core/rbac"
)

type routeHandlers struct {
	auth      *handlers.AuthHandler
	incidents *handlers.IncidentsHandler
	admin     *handlers.AdminHandler
}

func (s *Server) newRouteHandlers() routeHandlers {
	return routeHandlers{
		auth:      handlers.NewAuthHandler(s.cfg, s.provider, s.identity, s.sessionManager, s.sessions, s.tickets, s.audits, s.logger),
		incidents: handlers.NewIncidentsHandler(s.cfg, s.ingest, s.incidents, s.exporter, s.audits, s.logger),
		admin:     handlers.NewAdminHandler(s.cfg, s.orgs, s.accounts, s.students, s.settings, s.retention, s.audits, s.logger),
	}
}

func (s *Server) Routes() http.Handler {
	h := s.newRouteHandlers()
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.securityHeadersMiddleware)
	r.Use(s.loggingMiddleware)

	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Route("/auth", func(authRouter chi.Router) {
			authRouter.MethodFunc("GET", "/google/start", h.auth.GoogleStart)
			authRouter.MethodFunc("GET", "/google/callback", h.auth.GoogleCallback)
			authRouter.MethodFunc("GET", "/me", s.withSession(h.auth.Me))
			authRouter.MethodFunc("POST", "/logout", s.withSession(h.auth.Logout))
			authRouter.MethodFunc("POST", "/mobile/start", h.auth.MobileStart)
			authRouter.MethodFunc("POST", "/mobile/finish", s.withSession(h.auth.MobileFinish))
			authRouter.MethodFunc("GET", "/mobile/session", h.auth.MobileSession)
		})

		apiRouter.MethodFunc("POST", "/incidents", s.submitGate(h.incidents.Submit))

		apiRouter.Route("/admin", func(adminRouter chi.Router) {
			adminRouter.MethodFunc("GET", "/incidents", s.adminGate(rbac.PermIncidentsView, h.incidents.List))
			adminRouter.MethodFunc("GET", "/incidents/export", s.adminGate(rbac.PermIncidentsExport, h.incidents.Export))
			adminRouter.MethodFunc("DELETE", "/incidents", s.adminGate(rbac.PermIncidentsPurge, h.incidents.Purge))

			adminRouter.MethodFunc("GET", "/students", s.adminGate(rbac.PermRosterManage, h.admin.ListStudents))
			adminRouter.MethodFunc("POST", "/students", s.adminGate(rbac.PermRosterManage, h.admin.UpsertStudent))
			adminRouter.MethodFunc("PUT", "/students", s.adminGate(rbac.PermRosterManage, h.admin.UpsertStudent))
			adminRouter.MethodFunc("DELETE", "/students/{student_id}", s.adminGate(rbac.PermRosterManage, h.admin.DeleteStudent))
			adminRouter.MethodFunc("GET", "/classrooms", s.adminGate(rbac.PermRosterManage, h.admin.ListClassrooms))
			adminRouter.MethodFunc("POST", "/classrooms", s.adminGate(rbac.PermRosterManage, h.admin.UpsertClassroom))

			adminRouter.MethodFunc("GET", "/accounts", s.adminGate(rbac.PermAccountsView, h.admin.ListAccounts))
			adminRouter.MethodFunc("GET", "/audit", s.superadminGate(rbac.PermAuditView, h.admin.ListAudit))

			adminRouter.MethodFunc("GET", "/settings/retention", s.adminGate(rbac.PermSettingsManage, h.admin.GetRetention))
			adminRouter.MethodFunc("PUT", "/settings/retention", s.adminGate(rbac.PermSettingsManage, h.admin.PutRetention))

			adminRouter.MethodFunc("GET", "/organizations", s.superadminGate(rbac.PermOrgsManage, h.admin.ListOrganizations))
			adminRouter.MethodFunc("POST", "/organizations", s.superadminGate(rbac.PermOrgsManage, h.admin.CreateOrganization))
			adminRouter.MethodFunc("PUT", "/organizations/{id:[0-9]+}", s.superadminGate(rbac.PermOrgsManage, h.admin.UpdateOrganization))
			adminRouter.MethodFunc("DELETE", "/organizations/{id:[0-9]+}", s.superadminGate(rbac.PermOrgsManage, h.admin.DeleteOrganization))
		})
	})
	return r
}
