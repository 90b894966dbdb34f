// Package handler exposes the wizard over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/observability"
	"github.com/boddenberg/vehicle-tax-portal/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// HealthCheck probes one dependency for GET /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps wires the router. Auth is nil when operator authentication is off.
// CORS is enabled only when AllowedOrigins is set.
type Deps struct {
	Wizard         *service.Wizard
	Sessions       *service.SessionManager
	Auth           *service.AuthService
	Health         []HealthCheck
	Metrics        *observability.Metrics
	Logger         *zap.Logger
	AllowedOrigins []string
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	if len(d.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   d.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Transaction-Completed", "Content-Disposition"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.Health, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if d.Auth != nil {
			r.Post("/auth/login", authLoginHandler(d.Auth, logger))
		}

		r.Get("/payment-methods", paymentMethodsHandler())
		r.Get("/metrics/wizard", wizardMetricsHandler(d.Metrics))

		r.Group(func(r chi.Router) {
			if d.Auth != nil {
				r.Use(JWTAuthMiddleware(d.Auth, logger))
			}

			h := &sessionHandlers{wizard: d.Wizard, sessions: d.Sessions, auth: d.Auth, logger: logger}

			r.Post("/sessions", h.create)
			r.Route("/sessions/{sessionId}", func(r chi.Router) {
				r.Get("/", h.viewed(h.view))
				r.Delete("/", h.discard)
				r.Post("/identify", h.acquired(h.identify))
				r.Get("/tax-types", h.viewed(h.taxTypes))
				r.Post("/tax-type", h.acquired(h.selectTaxType))
				r.Post("/plate-lookup", h.acquired(h.lookupPlate))
				r.Patch("/forms/{index}", h.acquired(h.setFields))
				r.Post("/submit", h.acquired(h.submit))
				r.Delete("/declaration", h.acquired(h.deleteDeclaration))
				r.Post("/payment", h.acquired(h.pay))
				r.Get("/receipt", h.acquired(h.receipt))
				r.Post("/print", h.acquired(h.print))
				r.Post("/reset", h.acquired(h.reset))
			})
		})
	})

	return r
}

func healthzHandler(checks []HealthCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "portal-bff", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}

		for _, c := range checks {
			start := time.Now()
			err := c.Check(ctx)
			latency := time.Since(start).Milliseconds()
			status := "healthy"
			if err != nil {
				status = "degraded"
				logger.Warn("health check failed", zap.String("dependency", c.Name), zap.Error(err))
			}
			services = append(services, domain.ServiceHealth{
				Name: c.Name, Status: status, LatencyMs: latency, LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func wizardMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetWizardSnapshot())
	}
}

func paymentMethodsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, domain.PaymentMethods())
	}
}
