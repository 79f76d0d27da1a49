// Package http wires the portal routes. Three route groups map to the three
// portals (driver, officer, admin); the session middleware authenticates, the
// role middleware gates the group, and the policy layer inside the services
// decides per-record access.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appealsvc "fineledger/internal/appeal/service"
	"fineledger/internal/domain"
	driversvc "fineledger/internal/driver/service"
	offensesvc "fineledger/internal/offense/service"
	paymentsvc "fineledger/internal/payment/service"
	"fineledger/internal/platform/metrics"
	"fineledger/internal/platform/middleware"
	"fineledger/internal/session"
	"fineledger/pkg/requestcontext"
)

const requestTimeout = 30 * time.Second

type Handler struct {
	logger   *slog.Logger
	drivers  *driversvc.Service
	offenses *offensesvc.Service
	appeals  *appealsvc.Service
	payments *paymentsvc.Service
}

func NewHandler(logger *slog.Logger, drivers *driversvc.Service, offenses *offensesvc.Service, appeals *appealsvc.Service, payments *paymentsvc.Service) *Handler {
	return &Handler{
		logger:   logger,
		drivers:  drivers,
		offenses: offenses,
		appeals:  appeals,
		payments: payments,
	}
}

// NewRouter assembles the full route tree with the shared middleware chain.
func NewRouter(h *Handler, sessions middleware.SessionValidator, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.Recovery(logger),
		middleware.RequestID,
		middleware.RequestTime,
		middleware.Logger(logger),
		middleware.Timeout(requestTimeout),
		middleware.ContentTypeJSON,
		middleware.Latency(m),
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	authenticate := middleware.RequireSession(session.CookieName, sessions, logger)

	r.Route("/driver", func(r chi.Router) {
		r.Use(authenticate, middleware.RequireRole(domain.RoleDriver))
		r.Get("/dashboard", h.handleDriverDashboard)
		r.Get("/offenses", h.handleListOffenses)
		r.Get("/offenses/{offenseID}", h.handleGetOffense)
		r.Get("/appeals", h.handleListAppeals)
		r.Post("/appeals", h.handleSubmitAppeal)
		r.Get("/appeals/{appealID}", h.handleGetAppeal)
		r.Post("/appeals/{appealID}/resubmit", h.handleResubmitAppeal)
		r.Get("/payments", h.handleDriverListPayments)
		r.Post("/payments", h.handleProcessPayment)
		r.Get("/payment-summary", h.handleDriverPaymentSummary)
		r.Get("/payments/{paymentID}", h.handleGetPayment)
	})

	r.Route("/officer", func(r chi.Router) {
		r.Use(authenticate, middleware.RequireRole(domain.RoleOfficer, domain.RoleAdmin))
		r.Get("/offenses", h.handleListOffenses)
		r.Post("/offenses", h.handleCreateOffense)
		r.Get("/offenses/{offenseID}", h.handleGetOffense)
		r.Get("/appeals", h.handleListAppeals)
		r.Get("/appeals/{appealID}", h.handleGetAppeal)
		r.Put("/appeals/{appealID}/decision", h.handleDecideAppeal)
		r.Put("/appeals/{appealID}/assign", h.handleAssignAppeal)
		r.Get("/users", h.handleListDrivers)
		r.Get("/users/{driverID}", h.handleGetDriverRecord)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(authenticate, middleware.RequireRole(domain.RoleAdmin))
		r.Post("/drivers", h.handleRegisterDriver)
		r.Delete("/drivers/{driverID}", h.handleDeactivateDriver)
		r.Get("/offenses", h.handleListOffenses)
		r.Post("/offenses/{offenseID}/cancel", h.handleCancelOffense)
		r.Get("/appeals", h.handleListAppeals)
		r.Get("/appeals/export", h.handleExportAppeals)
		r.Patch("/appeals/{appealID}", h.handleReprioritizeAppeal)
		r.Post("/appeals/{appealID}/review", h.handleDecideAppeal)
		r.Get("/appeals/{appealID}/evidence/*", h.handleDownloadEvidence)
	})

	return r
}

// actorFrom pulls the authenticated actor placed by RequireSession. Routes
// outside the authenticated groups never call this.
func actorFrom(r *http.Request) domain.Actor {
	actor, _ := requestcontext.ActorFrom(r.Context())
	return actor
}
