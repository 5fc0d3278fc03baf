package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/domain"
	"github.com/patrimonium/ressarcimentos/internal/service"
)

// ============================================================
// 3. Baixas
// ============================================================

func listSettlementsHandler(svc *service.PortfolioService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/processos/{processoId}/baixas")
		defer span.End()

		settlements, err := svc.ListSettlements(ctx, chi.URLParam(r, "processoId"))
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, settlements)
	}
}

// createSettlementHandler answers 201 with a new settlement and 200 with
// the existing one when the same value and date were already recorded.
func createSettlementHandler(svc *service.PortfolioService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/processos/{processoId}/baixas")
		defer span.End()

		claimID := chi.URLParam(r, "processoId")
		var req domain.SettlementRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		settlement, created, err := svc.ApplySettlement(ctx, claimID, req)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		span.SetAttributes(
			attribute.String("processo.id", claimID),
			attribute.Bool("baixa.created", created),
		)

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, settlement)
	}
}

func settlementSummaryHandler(svc *service.PortfolioService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/baixas/resumo")
		defer span.End()

		filter, err := claimFilter(r)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}

		summary, err := svc.SettlementSummary(ctx, filter)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func offsetTaxesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, domain.OffsetTaxSuggestions)
	}
}
