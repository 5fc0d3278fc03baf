package service

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/domain"
)

// ============================================================
// Clientes
// ============================================================

// CreateClient validates the payload and upserts the client by CNPJ.
// A client with the same normalized CNPJ is replaced and keeps its id.
func (s *PortfolioService) CreateClient(ctx context.Context, in domain.ClientCreate) (*domain.Client, error) {
	ctx, span := tracer.Start(ctx, "PortfolioService.CreateClient")
	defer span.End()
	defer s.observe("CreateClient", time.Now())

	client, err := s.buildClient(in)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("cliente.cnpj", client.CNPJ))

	saved, err := s.store.UpsertClient(ctx, client)
	if err != nil {
		return nil, s.storeFailed("UpsertClient", err)
	}
	s.invalidate()

	s.logger.Info("client upserted",
		zap.String("cliente_id", saved.ID),
		zap.String("cnpj", domain.FormatCNPJ(saved.CNPJ)),
		zap.Float64("percentual_honorarios", saved.FeePercentage),
	)
	return saved, nil
}

func (s *PortfolioService) buildClient(in domain.ClientCreate) (*domain.Client, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, &domain.ErrValidation{Field: "razao_social", Message: "is required"}
	}
	cnpj := domain.NormalizeCNPJ(in.CNPJ)
	if cnpj == "" {
		return nil, &domain.ErrValidation{Field: "cnpj", Message: "is required"}
	}

	start := s.today()
	if strings.TrimSpace(in.ContractStart) != "" {
		parsed, err := domain.ParseDate("contrato_inicio", in.ContractStart)
		if err != nil {
			return nil, err
		}
		start = parsed
	}

	fee := domain.DefaultFeePercentage
	if in.FeePercentage != nil {
		fee = *in.FeePercentage
	}
	if err := domain.ValidateFeePercentage(fee); err != nil {
		return nil, err
	}

	return &domain.Client{
		ID:            s.newID(),
		Name:          name,
		CNPJ:          cnpj,
		ContractStart: start,
		FeePercentage: fee,
	}, nil
}

// ListClients returns every client.
func (s *PortfolioService) ListClients(ctx context.Context) ([]domain.Client, error) {
	ctx, span := tracer.Start(ctx, "PortfolioService.ListClients")
	defer span.End()

	clients, err := s.store.ListClients(ctx)
	if err != nil {
		return nil, s.storeFailed("ListClients", err)
	}
	if clients == nil {
		clients = []domain.Client{}
	}
	return clients, nil
}

// GetClient returns one client.
func (s *PortfolioService) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	ctx, span := tracer.Start(ctx, "PortfolioService.GetClient")
	defer span.End()
	span.SetAttributes(attribute.String("cliente.id", clientID))

	c, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, s.storeFailed("GetClient", err)
	}
	return c, nil
}

// FindClientByCNPJ looks a client up by tax number in any formatting.
func (s *PortfolioService) FindClientByCNPJ(ctx context.Context, cnpj string) (*domain.Client, error) {
	clients, err := s.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	want := domain.NormalizeCNPJ(cnpj)
	for i := range clients {
		if clients[i].CNPJ == want {
			return &clients[i], nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "cliente", ID: want}
}

func (s *PortfolioService) observe(op string, start time.Time) {
	s.metrics.RecordRequestDuration(op, time.Since(start))
}
