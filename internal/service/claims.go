package service

import (
	"context"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patrimonium/ressarcimentos/internal/domain"
)

// ============================================================
// Processos
// ============================================================

const (
	minYear = 1900
	maxYear = 9999
)

// CreateClaim validates the payload, applies defaults and stores the claim
// for an existing client.
func (s *PortfolioService) CreateClaim(ctx context.Context, in domain.ClaimCreate) (*domain.ClaimView, error) {
	ctx, span := tracer.Start(ctx, "PortfolioService.CreateClaim")
	defer span.End()
	defer s.observe("CreateClaim", time.Now())

	claim, err := s.buildClaim(in)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("cliente.id", claim.ClientID),
		attribute.String("processo.periodo", claim.PeriodLabel()),
	)

	client, err := s.store.GetClient(ctx, claim.ClientID)
	if err != nil {
		return nil, s.storeFailed("GetClient", err)
	}

	if err := s.store.InsertClaim(ctx, claim); err != nil {
		return nil, s.storeFailed("InsertClaim", err)
	}
	s.invalidate()

	s.logger.Info("claim created",
		zap.String("processo_id", claim.ID),
		zap.String("cliente_id", claim.ClientID),
		zap.String("periodo", claim.PeriodLabel()),
		zap.Float64("valor", claim.Value),
	)
	view := domain.NewClaimView(*claim, client)
	return &view, nil
}

func (s *PortfolioService) buildClaim(in domain.ClaimCreate) (*domain.Claim, error) {
	if strings.TrimSpace(in.ClientID) == "" {
		return nil, &domain.ErrValidation{Field: "cliente_id", Message: "is required"}
	}
	quarter, err := domain.ParseQuarter(in.Quarter)
	if err != nil {
		return nil, err
	}
	if in.Year < minYear || in.Year > maxYear {
		return nil, &domain.ErrValidation{Field: "ano", Message: "must be a four-digit year"}
	}
	regime, err := domain.ParseTaxRegime(in.TaxRegime)
	if err != nil {
		return nil, err
	}
	if in.Value <= 0 || math.IsNaN(in.Value) || math.IsInf(in.Value, 0) {
		return nil, &domain.ErrValidation{Field: "valor", Message: "must be positive"}
	}

	fee := domain.DefaultFeePercentage
	if in.FeePercentage != nil {
		fee = *in.FeePercentage
	}
	if err := domain.ValidateFeePercentage(fee); err != nil {
		return nil, err
	}

	responsible := true
	if in.FirmResponsibility != nil {
		responsible = *in.FirmResponsibility
	}

	caseType := strings.TrimSpace(in.CaseType)
	if caseType == "" {
		caseType = domain.DefaultCaseType
	}

	today := s.today()
	filing := today
	if strings.TrimSpace(in.FilingDate) != "" {
		filing, err = domain.ParseDate("data_lancamento_rfb", in.FilingDate)
		if err != nil {
			return nil, err
		}
	}

	return &domain.Claim{
		ID:                 s.newID(),
		ClientID:           strings.TrimSpace(in.ClientID),
		CaseType:           caseType,
		FirmResponsibility: responsible,
		FeePercentage:      fee,
		Quarter:            quarter,
		Year:               in.Year,
		TaxRegime:          regime,
		Value:              in.Value,
		FilingDate:         filing,
		CreatedAt:          today,
		Settlements:        []domain.Settlement{},
	}, nil
}

// ListClaims returns the read model of every claim matching the filter.
// Clients and claims are loaded concurrently and joined by id.
func (s *PortfolioService) ListClaims(ctx context.Context, filter domain.ClaimFilter) ([]domain.ClaimView, error) {
	ctx, span := tracer.Start(ctx, "PortfolioService.ListClaims")
	defer span.End()
	defer s.observe("ListClaims", time.Now())

	if filter.Status == "" {
		filter.Status = domain.StatusAll
	}

	var clients []domain.Client
	var claims []domain.Claim

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		clients, err = s.store.ListClients(gCtx)
		return s.storeFailed("ListClients", err)
	})
	g.Go(func() error {
		var err error
		claims, err = s.store.ListClaims(gCtx, filter.ClientID)
		return s.storeFailed("ListClaims", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	views := JoinClaims(claims, clients)
	return FilterClaims(views, filter), nil
}

// ListClientClaims lists the claims of one existing client.
func (s *PortfolioService) ListClientClaims(ctx context.Context, clientID string) ([]domain.ClaimView, error) {
	if _, err := s.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	return s.ListClaims(ctx, domain.ClaimFilter{ClientID: clientID, Status: domain.StatusAll})
}

// GetClaim returns the read model of one claim. A missing client yields
// a view without client.
func (s *PortfolioService) GetClaim(ctx context.Context, claimID string) (*domain.ClaimView, error) {
	ctx, span := tracer.Start(ctx, "PortfolioService.GetClaim")
	defer span.End()
	span.SetAttributes(attribute.String("processo.id", claimID))

	claim, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, s.storeFailed("GetClaim", err)
	}

	client, err := s.store.GetClient(ctx, claim.ClientID)
	if err != nil {
		if !isNotFound(err) {
			return nil, s.storeFailed("GetClient", err)
		}
		client = nil
	}

	view := domain.NewClaimView(*claim, client)
	return &view, nil
}

// JoinClaims resolves each claim's client by id. Claims whose client is
// gone get a nil client.
func JoinClaims(claims []domain.Claim, clients []domain.Client) []domain.ClaimView {
	byID := make(map[string]*domain.Client, len(clients))
	for i := range clients {
		byID[clients[i].ID] = &clients[i]
	}
	views := make([]domain.ClaimView, 0, len(claims))
	for _, c := range claims {
		views = append(views, domain.NewClaimView(c, byID[c.ClientID]))
	}
	return views
}
