package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/domain"
	"github.com/patrimonium/ressarcimentos/internal/service"
)

// ============================================================
// 2. Processos
// ============================================================

func listClaimsHandler(svc *service.PortfolioService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/processos")
		defer span.End()

		filter, err := claimFilter(r)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}

		claims, err := svc.ListClaims(ctx, filter)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, claims)
	}
}

func createClaimHandler(svc *service.PortfolioService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/processos")
		defer span.End()

		var req domain.ClaimCreate
		if !decodeJSON(w, r, &req) {
			return
		}

		claim, err := svc.CreateClaim(ctx, req)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, claim)
	}
}

func getClaimHandler(svc *service.PortfolioService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/processos/{processoId}")
		defer span.End()

		claim, err := svc.GetClaim(ctx, chi.URLParam(r, "processoId"))
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, claim)
	}
}
