package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Routes wires every endpoint onto a fresh router. Rate limiting and request
// logging are applied router-wide by the caller.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)

	journals := r.PathPrefix("/journals").Subrouter()
	journals.HandleFunc("", h.listJournals).Methods(http.MethodGet)
	journals.HandleFunc("/search", h.searchJournals).Methods(http.MethodGet)
	journals.HandleFunc("/subject-areas", h.listSubjectAreas).Methods(http.MethodGet)
	journals.HandleFunc("/{id:[0-9]+}", h.getJournal).Methods(http.MethodGet)
	journals.HandleFunc("/{id:[0-9]+}/access", h.optionalAuth(h.requestAccess)).Methods(http.MethodPost)
	journals.HandleFunc("/{id:[0-9]+}/proxy-url", h.requireAuth(h.getProxyURL)).Methods(http.MethodGet)

	proxy := r.PathPrefix("/proxy").Subrouter()
	proxy.HandleFunc("/generate", h.optionalAuth(h.generateConfig)).Methods(http.MethodPost)
	proxy.HandleFunc("/status", h.requireAdmin(h.proxyStatus)).Methods(http.MethodGet)
	proxy.HandleFunc("/stats", h.requireAdmin(h.proxyStats)).Methods(http.MethodGet)
	proxy.HandleFunc("/cleanup", h.requireAdmin(h.proxyCleanup)).Methods(http.MethodPost)
	proxy.HandleFunc("/reload", h.requireAdmin(h.proxyReload)).Methods(http.MethodPost)
	proxy.HandleFunc("/configs", h.requireAuth(h.listConfigs)).Methods(http.MethodGet)
	proxy.HandleFunc("/{id:[0-9]+}", h.requireAuth(h.revokeConfig)).Methods(http.MethodDelete)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/users", h.requireAdmin(h.adminListUsers)).Methods(http.MethodGet)
	admin.HandleFunc("/users", h.requireAdmin(h.adminCreateUser)).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id:[0-9]+}", h.requireAdmin(h.adminUpdateUser)).Methods(http.MethodPut)
	admin.HandleFunc("/users/{id:[0-9]+}/password", h.requireAdmin(h.adminSetPassword)).Methods(http.MethodPut)
	admin.HandleFunc("/journals", h.requireAdmin(h.adminListJournals)).Methods(http.MethodGet)
	admin.HandleFunc("/journals", h.requireAdmin(h.adminCreateJournal)).Methods(http.MethodPost)
	admin.HandleFunc("/journals/{id:[0-9]+}", h.requireAdmin(h.adminUpdateJournal)).Methods(http.MethodPut)
	admin.HandleFunc("/journals/{id:[0-9]+}", h.requireAdmin(h.adminDeleteJournal)).Methods(http.MethodDelete)
	admin.HandleFunc("/stats", h.requireAdmin(h.adminStats)).Methods(http.MethodGet)
	admin.HandleFunc("/access-logs", h.requireAdmin(h.adminAccessLogs)).Methods(http.MethodGet)

	analytics := r.PathPrefix("/analytics").Subrouter()
	analytics.HandleFunc("/dashboard", h.requireAdmin(h.analyticsDashboard)).Methods(http.MethodGet)
	analytics.HandleFunc("/resources", h.requireAdmin(h.analyticsResources)).Methods(http.MethodGet)
	analytics.HandleFunc("/users", h.requireAdmin(h.analyticsUsers)).Methods(http.MethodGet)
	analytics.HandleFunc("/departments", h.requireAdmin(h.analyticsDepartments)).Methods(http.MethodGet)
	analytics.HandleFunc("/geographic", h.requireAdmin(h.analyticsGeographic)).Methods(http.MethodGet)
	analytics.HandleFunc("/failures", h.requireAdmin(h.analyticsFailures)).Methods(http.MethodGet)
	analytics.HandleFunc("/turn-aways", h.requireAdmin(h.analyticsTurnAways)).Methods(http.MethodGet)
	analytics.HandleFunc("/breakdown", h.requireAdmin(h.analyticsBreakdown)).Methods(http.MethodGet)
	analytics.HandleFunc("/logs", h.requireAdmin(h.analyticsLogs)).Methods(http.MethodGet)
	analytics.HandleFunc("/export", h.requireAdmin(h.analyticsExport)).Methods(http.MethodGet)

	authRoutes := r.PathPrefix("/auth").Subrouter()
	authRoutes.HandleFunc("/login", h.login).Methods(http.MethodPost)
	authRoutes.HandleFunc("/register", h.register).Methods(http.MethodPost)
	authRoutes.HandleFunc("/refresh", h.refresh).Methods(http.MethodPost)
	authRoutes.HandleFunc("/profile", h.requireAuth(h.getProfile)).Methods(http.MethodGet)
	authRoutes.HandleFunc("/profile", h.requireAuth(h.updateProfile)).Methods(http.MethodPut)
	authRoutes.HandleFunc("/change-password", h.requireAuth(h.changePassword)).Methods(http.MethodPost)
	authRoutes.HandleFunc("/logout", h.requireAuth(h.logout)).Methods(http.MethodPost)

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
