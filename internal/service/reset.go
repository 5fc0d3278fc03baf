package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/domain"
)

// ResetAll wipes every client, claim and settlement. The caller must pass
// the confirmation phrase verbatim.
func (s *PortfolioService) ResetAll(ctx context.Context, confirmation string) error {
	ctx, span := tracer.Start(ctx, "PortfolioService.ResetAll")
	defer span.End()
	defer s.observe("ResetAll", time.Now())

	if confirmation != domain.ResetConfirmation {
		return &domain.ErrConfirmation{Expected: domain.ResetConfirmation}
	}

	if err := s.store.ResetAll(ctx); err != nil {
		return s.storeFailed("ResetAll", err)
	}
	s.invalidate()

	s.logger.Warn("store reset", zap.String("backend", s.backend))
	return nil
}

// EngineMetrics exposes the settlement and cache counters.
func (s *PortfolioService) EngineMetrics() *domain.EngineMetrics {
	return s.metrics.Snapshot(DashboardCache)
}
