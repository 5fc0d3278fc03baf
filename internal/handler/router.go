package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/domain"
	"github.com/patrimonium/ressarcimentos/internal/importer"
	"github.com/patrimonium/ressarcimentos/internal/infra/observability"
	"github.com/patrimonium/ressarcimentos/internal/service"
)

var tracer = otel.Tracer("handler")

// DefaultImportMaxBytes bounds an uploaded spreadsheet when no limit is set.
const DefaultImportMaxBytes = 10 << 20

// Pinger is implemented by record stores that can check their backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

type routerConfig struct {
	allowedOrigins []string
	importMaxBytes int64
	pinger         Pinger
	backend        string
}

// Option configures NewRouter.
type Option func(*routerConfig)

// WithAllowedOrigins sets the CORS origins of the browser front-end.
func WithAllowedOrigins(origins []string) Option {
	return func(c *routerConfig) { c.allowedOrigins = origins }
}

// WithImportMaxBytes bounds the body of POST /v1/importacao/{tipo}.
func WithImportMaxBytes(n int64) Option {
	return func(c *routerConfig) {
		if n > 0 {
			c.importMaxBytes = n
		}
	}
}

// WithStoreHealth makes /healthz and /readyz ping the record store.
func WithStoreHealth(backend string, p Pinger) Option {
	return func(c *routerConfig) {
		c.backend = backend
		c.pinger = p
	}
}

// NewRouter creates the HTTP router with all routes and middleware.
// Routes follow the API contract of the Patrimonium front-end.
func NewRouter(svc *service.PortfolioService, imp *importer.Importer, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) http.Handler {
	cfg := routerConfig{
		allowedOrigins: []string{"*"},
		importMaxBytes: DefaultImportMaxBytes,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(RequestIDHeader)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(cfg, logger))
	r.Get("/readyz", readyzHandler(cfg))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// =============================================
		// 1. Clientes
		// =============================================
		r.Get("/clientes", listClientsHandler(svc, logger))
		r.Post("/clientes", createClientHandler(svc, logger))
		r.Get("/clientes/{clienteId}", getClientHandler(svc, logger))
		r.Get("/clientes/{clienteId}/processos", listClientClaimsHandler(svc, logger))

		// =============================================
		// 2. Processos
		// =============================================
		r.Get("/processos", listClaimsHandler(svc, logger))
		r.Post("/processos", createClaimHandler(svc, logger))
		r.Get("/processos/{processoId}", getClaimHandler(svc, logger))

		// =============================================
		// 3. Baixas
		// =============================================
		r.Get("/processos/{processoId}/baixas", listSettlementsHandler(svc, logger))
		r.Post("/processos/{processoId}/baixas", createSettlementHandler(svc, logger))
		r.Get("/baixas/resumo", settlementSummaryHandler(svc, logger))
		r.Get("/baixas/tributos", offsetTaxesHandler())

		// =============================================
		// 4. Dashboard & honorários
		// =============================================
		r.Get("/dashboard", dashboardHandler(svc, logger))
		r.Get("/dashboard/evolucao", timelineHandler(svc, logger))
		r.Get("/metrics/engine", engineMetricsHandler(svc))

		// =============================================
		// 5. Importação & administração
		// =============================================
		r.Post("/importacao/{tipo}", importHandler(imp, cfg.importMaxBytes, logger))
		r.Post("/admin/reset", resetHandler(svc, logger))
	})

	return r
}

// ============================================================
// Health checks
// ============================================================

func healthzHandler(cfg routerConfig, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "ressarcimentos-api", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}

		if cfg.pinger != nil {
			start := time.Now()
			err := cfg.pinger.Ping(r.Context())
			latency := time.Since(start).Milliseconds()
			status := "healthy"
			if err != nil {
				status = "degraded"
				logger.Warn("store ping failed", zap.String("backend", cfg.backend), zap.Error(err))
			}
			services = append(services, domain.ServiceHealth{
				Name: cfg.backend, Status: status, LatencyMs: latency, LastChecked: now,
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

func readyzHandler(cfg routerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.pinger != nil {
			if err := cfg.pinger.Ping(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "store not ready")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
