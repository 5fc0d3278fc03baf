package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/domain"
	"github.com/patrimonium/ressarcimentos/internal/infra/observability"
)

// ============================================================
// Baixas
// ============================================================

// ApplySettlement records a payment or tax offset against a claim.
//
// The request is validated before the claim is read: a positive amount is
// required, then an offset tax type when the kind is a compensation. A
// settlement with the same value and date as an existing one is absorbed:
// the existing record is returned with created=false and nothing is written.
// Writes on the same claim are serialized.
func (s *PortfolioService) ApplySettlement(ctx context.Context, claimID string, req domain.SettlementRequest) (*domain.Settlement, bool, error) {
	ctx, span := tracer.Start(ctx, "PortfolioService.ApplySettlement")
	defer span.End()
	defer s.observe("ApplySettlement", time.Now())
	span.SetAttributes(attribute.String("processo.id", claimID))

	st, err := s.validateSettlement(claimID, req)
	if err != nil {
		s.metrics.IncrSettlement(observability.SettlementRejected)
		s.logger.Warn("settlement rejected",
			zap.String("processo_id", claimID),
			zap.Error(err),
		)
		return nil, false, err
	}

	unlock := s.locks.Lock(claimID)
	defer unlock()

	claim, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, false, s.storeFailed("GetClaim", err)
	}

	if existing := claim.FindSettlement(st.Value, st.Date); existing != nil {
		return s.absorbDuplicate(claimID, existing), false, nil
	}

	st.ID = s.newID()
	if err := s.store.AppendSettlement(ctx, st); err != nil {
		var dup *domain.ErrDuplicate
		if !errors.As(err, &dup) {
			return nil, false, s.storeFailed("AppendSettlement", err)
		}
		// Another writer got there first; hand back its record.
		fresh, gerr := s.store.GetClaim(ctx, claimID)
		if gerr != nil {
			return nil, false, s.storeFailed("GetClaim", gerr)
		}
		if existing := fresh.FindSettlement(st.Value, st.Date); existing != nil {
			return s.absorbDuplicate(claimID, existing), false, nil
		}
		return nil, false, s.storeFailed("AppendSettlement", &domain.ErrStore{Op: "AppendSettlement", Err: err})
	}
	s.invalidate()

	claim.Settlements = append(claim.Settlements, *st)
	totals := claim.Totals()
	s.metrics.IncrSettlement(observability.SettlementCreated)
	s.logger.Info("settlement applied",
		zap.String("processo_id", claimID),
		zap.String("baixa_id", st.ID),
		zap.String("tipo", string(st.Kind)),
		zap.Float64("valor", st.Value),
		zap.String("data_baixa", st.Date),
		zap.Float64("saldo", totals.Balance),
		zap.Bool("baixado", totals.IsClosed),
	)
	return st, true, nil
}

func (s *PortfolioService) absorbDuplicate(claimID string, existing *domain.Settlement) *domain.Settlement {
	s.metrics.IncrSettlement(observability.SettlementDuplicate)
	s.logger.Info("duplicate settlement absorbed",
		zap.String("processo_id", claimID),
		zap.String("baixa_id", existing.ID),
		zap.Float64("valor", existing.Value),
		zap.String("data_baixa", existing.Date),
	)
	out := *existing
	return &out
}

func (s *PortfolioService) validateSettlement(claimID string, req domain.SettlementRequest) (*domain.Settlement, error) {
	kind, kindErr := domain.ParseSettlementKind(req.Kind)

	if req.Value == nil || *req.Value <= 0 || math.IsNaN(*req.Value) || math.IsInf(*req.Value, 0) {
		return nil, &domain.ErrValidation{Field: "valor", Message: "missing amount"}
	}
	offset := strings.TrimSpace(req.OffsetTaxType)
	if kindErr == nil && kind == domain.SettlementCompensation && offset == "" {
		return nil, &domain.ErrValidation{Field: "tributo_compensado", Message: "missing offset tax type"}
	}
	if kindErr != nil {
		return nil, kindErr
	}
	if kind != domain.SettlementCompensation {
		offset = ""
	}

	date := s.today()
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := domain.ParseDate("data_baixa", req.Date)
		if err != nil {
			return nil, err
		}
		date = parsed
	}

	return &domain.Settlement{
		ClaimID:       claimID,
		Kind:          kind,
		OffsetTaxType: offset,
		Value:         *req.Value,
		Date:          date,
	}, nil
}

// ListSettlements returns a claim's settlements in recording order.
func (s *PortfolioService) ListSettlements(ctx context.Context, claimID string) ([]domain.Settlement, error) {
	ctx, span := tracer.Start(ctx, "PortfolioService.ListSettlements")
	defer span.End()

	claim, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, s.storeFailed("GetClaim", err)
	}
	if claim.Settlements == nil {
		return []domain.Settlement{}, nil
	}
	return claim.Settlements, nil
}

// SettlementSummary totals the claims matching the filter.
func (s *PortfolioService) SettlementSummary(ctx context.Context, filter domain.ClaimFilter) (domain.SettlementSummary, error) {
	views, err := s.ListClaims(ctx, filter)
	if err != nil {
		return domain.SettlementSummary{}, err
	}
	return SummarizeSettlements(views), nil
}
