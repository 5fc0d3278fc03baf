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
// 1. Clientes
// ============================================================

func listClientsHandler(svc *service.PortfolioService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/clientes")
		defer span.End()

		clients, err := svc.ListClients(ctx)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, clients)
	}
}

func createClientHandler(svc *service.PortfolioService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/clientes")
		defer span.End()

		var req domain.ClientCreate
		if !decodeJSON(w, r, &req) {
			return
		}

		client, err := svc.CreateClient(ctx, req)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, client)
	}
}

func getClientHandler(svc *service.PortfolioService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/clientes/{clienteId}")
		defer span.End()

		clientID := chi.URLParam(r, "clienteId")
		span.SetAttributes(attribute.String("cliente.id", clientID))

		client, err := svc.GetClient(ctx, clientID)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, client)
	}
}

func listClientClaimsHandler(svc *service.PortfolioService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/clientes/{clienteId}/processos")
		defer span.End()

		claims, err := svc.ListClientClaims(ctx, chi.URLParam(r, "clienteId"))
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, claims)
	}
}
