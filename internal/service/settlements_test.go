package service_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrimonium/ressarcimentos/internal/domain"
	"github.com/patrimonium/ressarcimentos/internal/port/mocks"
)

func TestApplySettlement_CreatesAndUpdatesTotals(t *testing.T) {
	f := newFixture(t, nil)
	cli := f.client(t, "Acme", "11.222.333/0001-44")
	claim := f.claim(t, cli.ID, "1º TRIM", 2023, 1000, nil)

	st, created, err := f.svc.ApplySettlement(context.Background(), claim.ID, domain.SettlementRequest{
		Kind:  "CONTA CORRENTE",
		Value: ptr(400.0),
		Date:  "2024-01-10",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, st.ID)
	assert.Equal(t, domain.SettlementDirectDeposit, st.Kind)
	assert.Equal(t, "2024-01-10", st.Date)

	view, err := f.svc.GetClaim(context.Background(), claim.ID)
	require.NoError(t, err)
	assert.InDelta(t, 400, view.Totals.SettledTotal, 1e-9)
	assert.InDelta(t, 600, view.Totals.Balance, 1e-9)
	assert.False(t, view.Totals.IsClosed)

	f.settle(t, claim.ID, 599.995, "2024-02-10")
	view, err = f.svc.GetClaim(context.Background(), claim.ID)
	require.NoError(t, err)
	assert.True(t, view.Totals.IsClosed, "balance within tolerance closes the claim")
}

func TestApplySettlement_DuplicateIsAbsorbed(t *testing.T) {
	f := newFixture(t, nil)
	cli := f.client(t, "Acme", "11222333000144")
	claim := f.claim(t, cli.ID, "2º TRIM", 2023, 1000, nil)
	req := domain.SettlementRequest{Value: ptr(250.0), Date: "2024-01-10"}

	first, created, err := f.svc.ApplySettlement(context.Background(), claim.ID, req)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := f.svc.ApplySettlement(context.Background(), claim.ID, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)

	list, err := f.svc.ListSettlements(context.Background(), claim.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	snap := f.svc.EngineMetrics()
	assert.Equal(t, int64(1), snap.SettlementsCreated)
	assert.Equal(t, int64(1), snap.DuplicatesAbsorbed)
}

func TestApplySettlement_SameValueDifferentDateIsNew(t *testing.T) {
	f := newFixture(t, nil)
	cli := f.client(t, "Acme", "11222333000144")
	claim := f.claim(t, cli.ID, "2º TRIM", 2023, 1000, nil)

	f.settle(t, claim.ID, 100, "2024-01-10")
	f.settle(t, claim.ID, 100, "2024-01-11")

	list, err := f.svc.ListSettlements(context.Background(), claim.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestApplySettlement_ConcurrentIdenticalRequests(t *testing.T) {
	f := newFixture(t, nil)
	cli := f.client(t, "Acme", "11222333000144")
	claim := f.claim(t, cli.ID, "3º TRIM", 2023, 1000, nil)

	var wg sync.WaitGroup
	results := make([]*domain.Settlement, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st, _, err := f.svc.ApplySettlement(context.Background(), claim.ID, domain.SettlementRequest{
				Value: ptr(300.0), Date: "2024-01-10",
			})
			assert.NoError(t, err)
			results[i] = st
		}(i)
	}
	wg.Wait()

	list, err := f.svc.ListSettlements(context.Background(), claim.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	for _, r := range results {
		assert.Equal(t, list[0].ID, r.ID)
	}
}

func TestApplySettlement_DefaultsDateToToday(t *testing.T) {
	f := newFixture(t, nil)
	cli := f.client(t, "Acme", "11222333000144")
	claim := f.claim(t, cli.ID, "1º TRIM", 2023, 1000, nil)

	st := f.settle(t, claim.ID, 10, "")
	assert.Equal(t, "2024-03-15", st.Date)
}

func TestApplySettlement_Compensation(t *testing.T) {
	f := newFixture(t, nil)
	cli := f.client(t, "Acme", "11222333000144")
	claim := f.claim(t, cli.ID, "1º TRIM", 2023, 1000, nil)

	_, _, err := f.svc.ApplySettlement(context.Background(), claim.ID, domain.SettlementRequest{
		Kind: "COMPENSACAO", Value: ptr(100.0), Date: "2024-01-01",
	})
	var ve *domain.ErrValidation
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "tributo_compensado", ve.Field)
	assert.Equal(t, "missing offset tax type", ve.Message)

	st, created, err := f.svc.ApplySettlement(context.Background(), claim.ID, domain.SettlementRequest{
		Kind: "Compensação", Value: ptr(100.0), Date: "2024-01-01", OffsetTaxType: "Pis",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.SettlementCompensation, st.Kind)
	assert.Equal(t, "Pis", st.OffsetTaxType)
}

func TestApplySettlement_DirectDepositDropsOffsetTax(t *testing.T) {
	f := newFixture(t, nil)
	cli := f.client(t, "Acme", "11222333000144")
	claim := f.claim(t, cli.ID, "1º TRIM", 2023, 1000, nil)

	st, _, err := f.svc.ApplySettlement(context.Background(), claim.ID, domain.SettlementRequest{
		Kind: "CONTA CORRENTE", Value: ptr(100.0), Date: "2024-01-01", OffsetTaxType: "IRPJ",
	})
	require.NoError(t, err)
	assert.Empty(t, st.OffsetTaxType)
}

func TestApplySettlement_ValidationHappensBeforeLookup(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRecordStore(ctrl) // no calls expected
	f := newFixture(t, store)

	cases := []struct {
		name  string
		req   domain.SettlementRequest
		field string
		msg   string
	}{
		{"missing value", domain.SettlementRequest{Date: "2024-01-01"}, "valor", "missing amount"},
		{"zero value", domain.SettlementRequest{Value: ptr(0.0)}, "valor", "missing amount"},
		{"negative value", domain.SettlementRequest{Value: ptr(-5.0)}, "valor", "missing amount"},
		{"NaN value", domain.SettlementRequest{Value: ptr(math.NaN()), Date: "2024-01-10"}, "valor", "missing amount"},
		{"infinite value", domain.SettlementRequest{Value: ptr(math.Inf(1)), Date: "2024-01-10"}, "valor", "missing amount"},
		{"negative infinite value", domain.SettlementRequest{Value: ptr(math.Inf(-1))}, "valor", "missing amount"},
		{"missing value wins over missing tax", domain.SettlementRequest{Kind: "COMPENSACAO"}, "valor", "missing amount"},
		{"compensation without tax", domain.SettlementRequest{Kind: "COMPENSACAO", Value: ptr(10.0), OffsetTaxType: "  "}, "tributo_compensado", "missing offset tax type"},
		{"unknown kind", domain.SettlementRequest{Kind: "PIX", Value: ptr(10.0)}, "tipo", ""},
		{"bad date", domain.SettlementRequest{Value: ptr(10.0), Date: "2024-13-45"}, "data_baixa", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.svc.ApplySettlement(context.Background(), "missing-claim", tc.req)

			var ve *domain.ErrValidation
			require.True(t, errors.As(err, &ve), "expected ErrValidation, got %v", err)
			assert.Equal(t, tc.field, ve.Field)
			if tc.msg != "" {
				assert.Equal(t, tc.msg, ve.Message)
			}
		})
	}
	assert.Equal(t, int64(len(cases)), f.svc.EngineMetrics().SettlementsRejected)
}

func TestApplySettlement_UnknownClaim(t *testing.T) {
	f := newFixture(t, nil)

	_, _, err := f.svc.ApplySettlement(context.Background(), "nope", domain.SettlementRequest{Value: ptr(1.0)})

	var nf *domain.ErrNotFound
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "nope", nf.ID)
}

func TestApplySettlement_StoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRecordStore(ctrl)
	f := newFixture(t, store)

	boom := &domain.ErrStore{Op: "GetClaim", Err: errors.New("connection refused")}
	store.EXPECT().GetClaim(gomock.Any(), "p-1").Return(nil, boom)

	_, _, err := f.svc.ApplySettlement(context.Background(), "p-1", domain.SettlementRequest{Value: ptr(1.0)})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), f.svc.EngineMetrics().StoreErrors)
}

func TestApplySettlement_StoreDuplicateReturnsExisting(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRecordStore(ctrl)
	f := newFixture(t, store)

	before := domain.Claim{ID: "p-1", Value: 1000}
	winner := domain.Settlement{ID: "b-other", ClaimID: "p-1", Kind: domain.SettlementDirectDeposit, Value: 50, Date: "2024-01-10"}
	after := domain.Claim{ID: "p-1", Value: 1000, Settlements: []domain.Settlement{winner}}

	gomock.InOrder(
		store.EXPECT().GetClaim(gomock.Any(), "p-1").Return(&before, nil),
		store.EXPECT().AppendSettlement(gomock.Any(), gomock.Any()).Return(&domain.ErrDuplicate{Key: "p-1"}),
		store.EXPECT().GetClaim(gomock.Any(), "p-1").Return(&after, nil),
	)

	st, created, err := f.svc.ApplySettlement(context.Background(), "p-1", domain.SettlementRequest{
		Value: ptr(50.0), Date: "2024-01-10",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "b-other", st.ID)
}

func TestSettlementSummary(t *testing.T) {
	f := newFixture(t, nil)
	acme := f.client(t, "Acme", "11222333000144")
	beta := f.client(t, "Beta", "99888777000166")
	a := f.claim(t, acme.ID, "1º TRIM", 2023, 1000, nil)
	f.claim(t, beta.ID, "2º TRIM", 2023, 500, nil)
	f.settle(t, a.ID, 1000, "2024-01-01")

	all, err := f.svc.SettlementSummary(context.Background(), domain.ClaimFilter{Status: domain.StatusAll})
	require.NoError(t, err)
	assert.InDelta(t, 1000, all.TotalSettled, 1e-9)
	assert.InDelta(t, 500, all.TotalOpen, 1e-9)
	assert.Equal(t, 2, all.Count)

	open, err := f.svc.SettlementSummary(context.Background(), domain.ClaimFilter{Status: domain.StatusOpen})
	require.NoError(t, err)
	assert.Equal(t, 1, open.Count)
	assert.InDelta(t, 0, open.TotalSettled, 1e-9)
}
