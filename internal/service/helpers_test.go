package service_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/domain"
	"github.com/patrimonium/ressarcimentos/internal/infra/cache"
	"github.com/patrimonium/ressarcimentos/internal/infra/memory"
	"github.com/patrimonium/ressarcimentos/internal/infra/observability"
	"github.com/patrimonium/ressarcimentos/internal/port"
	"github.com/patrimonium/ressarcimentos/internal/service"
)

var fixedNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *service.PortfolioService
	store   port.RecordStore
	metrics *observability.Metrics
}

func newFixture(t *testing.T, store port.RecordStore) *fixture {
	t.Helper()
	if store == nil {
		store = memory.New()
	}
	c := cache.New[*domain.Dashboard](time.Minute)
	t.Cleanup(c.Close)

	var seq atomic.Int64
	metrics := observability.NewMetrics()
	svc := service.NewPortfolioService(store, c, metrics, zap.NewNop(),
		service.WithClock(func() time.Time { return fixedNow }),
		service.WithIDGenerator(func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }),
		service.WithBackend("test"),
	)
	return &fixture{svc: svc, store: store, metrics: metrics}
}

func (f *fixture) client(t *testing.T, name, cnpj string) *domain.Client {
	t.Helper()
	c, err := f.svc.CreateClient(context.Background(), domain.ClientCreate{Name: name, CNPJ: cnpj})
	require.NoError(t, err)
	return c
}

func (f *fixture) claim(t *testing.T, clientID string, quarter string, year int, value float64, fee *float64) *domain.ClaimView {
	t.Helper()
	v, err := f.svc.CreateClaim(context.Background(), domain.ClaimCreate{
		ClientID:      clientID,
		Quarter:       quarter,
		Year:          year,
		TaxRegime:     string(domain.RegimeLucroReal),
		Value:         value,
		FeePercentage: fee,
	})
	require.NoError(t, err)
	return v
}

func (f *fixture) settle(t *testing.T, claimID string, value float64, date string) *domain.Settlement {
	t.Helper()
	st, _, err := f.svc.ApplySettlement(context.Background(), claimID, domain.SettlementRequest{Value: &value, Date: date})
	require.NoError(t, err)
	return st
}

func ptr[T any](v T) *T { return &v }
