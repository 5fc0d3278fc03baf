package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/service"
)

// ============================================================
// 4. Dashboard & honorários
// ============================================================

func dashboardHandler(svc *service.PortfolioService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/dashboard")
		defer span.End()

		q := r.URL.Query()
		dashboard, err := svc.Dashboard(ctx, q.Get("cliente_id"), q.Get("granularidade"))
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, dashboard)
	}
}

func timelineHandler(svc *service.PortfolioService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/dashboard/evolucao")
		defer span.End()

		q := r.URL.Query()
		timeline, err := svc.Timeline(ctx, q.Get("cliente_id"), q.Get("granularidade"))
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, timeline)
	}
}

func engineMetricsHandler(svc *service.PortfolioService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.EngineMetrics())
	}
}
