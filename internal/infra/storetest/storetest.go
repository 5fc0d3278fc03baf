// Package storetest holds the behavioural contract every RecordStore
// adapter must satisfy. Adapter packages call Run from their tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrimonium/ressarcimentos/internal/domain"
	"github.com/patrimonium/ressarcimentos/internal/port"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) port.RecordStore

// Run executes the contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, s port.RecordStore)
	}{
		{"UpsertAndGetClient", testUpsertAndGetClient},
		{"UpsertKeepsIDForSameCNPJ", testUpsertKeepsIDForSameCNPJ},
		{"GetClientNotFound", testGetClientNotFound},
		{"InsertAndListClaims", testInsertAndListClaims},
		{"GetClaimNotFound", testGetClaimNotFound},
		{"AppendSettlement", testAppendSettlement},
		{"AppendSettlementUnknownClaim", testAppendSettlementUnknownClaim},
		{"AppendSettlementDuplicate", testAppendSettlementDuplicate},
		{"ConcurrentAppends", testConcurrentAppends},
		{"ResetAll", testResetAll},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

// Client returns a valid client fixture.
func Client(id, name, cnpj string) *domain.Client {
	return &domain.Client{
		ID:            id,
		Name:          name,
		CNPJ:          cnpj,
		ContractStart: "2023-01-01",
		FeePercentage: 10,
	}
}

// Claim returns a valid claim fixture.
func Claim(id, clientID string, q domain.Quarter, year int, value float64) *domain.Claim {
	return &domain.Claim{
		ID:                 id,
		ClientID:           clientID,
		CaseType:           domain.DefaultCaseType,
		FirmResponsibility: true,
		FeePercentage:      10,
		Quarter:            q,
		Year:               year,
		TaxRegime:          domain.RegimeLucroReal,
		Value:              value,
		FilingDate:         "2023-05-10",
		CreatedAt:          "2023-05-10",
	}
}

func testUpsertAndGetClient(t *testing.T, s port.RecordStore) {
	ctx := context.Background()

	saved, err := s.UpsertClient(ctx, Client("c-1", "Acme Ltda", "12.345.678/0001-90"))
	require.NoError(t, err)
	assert.Equal(t, "c-1", saved.ID)
	assert.Equal(t, "12345678000190", saved.CNPJ)

	got, err := s.GetClient(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Ltda", got.Name)
	assert.Equal(t, "2023-01-01", got.ContractStart)
	assert.Equal(t, 10.0, got.FeePercentage)
}

func testUpsertKeepsIDForSameCNPJ(t *testing.T, s port.RecordStore) {
	ctx := context.Background()

	_, err := s.UpsertClient(ctx, Client("c-1", "Acme Ltda", "12345678000190"))
	require.NoError(t, err)

	replacement := Client("c-2", "Acme Industria S.A.", "12.345.678/0001-90")
	replacement.FeePercentage = 15
	saved, err := s.UpsertClient(ctx, replacement)
	require.NoError(t, err)
	assert.Equal(t, "c-1", saved.ID, "replacement keeps the prior id")

	clients, err := s.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "Acme Industria S.A.", clients[0].Name)
	assert.Equal(t, 15.0, clients[0].FeePercentage)
}

func testGetClientNotFound(t *testing.T, s port.RecordStore) {
	_, err := s.GetClient(context.Background(), "missing")

	var nf *domain.ErrNotFound
	assert.True(t, errors.As(err, &nf), "expected ErrNotFound, got %v", err)
}

func testInsertAndListClaims(t *testing.T, s port.RecordStore) {
	ctx := context.Background()
	_, err := s.UpsertClient(ctx, Client("c-1", "Acme", "11111111000111"))
	require.NoError(t, err)
	_, err = s.UpsertClient(ctx, Client("c-2", "Beta", "22222222000122"))
	require.NoError(t, err)

	require.NoError(t, s.InsertClaim(ctx, Claim("p-1", "c-1", domain.Quarter1, 2023, 1000)))
	require.NoError(t, s.InsertClaim(ctx, Claim("p-2", "c-2", domain.Quarter2, 2023, 500)))
	require.NoError(t, s.InsertClaim(ctx, Claim("p-3", "c-1", domain.Quarter3, 2022, 250)))

	all, err := s.ListClaims(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"p-1", "p-2", "p-3"}, claimIDs(all))

	mine, err := s.ListClaims(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p-1", "p-3"}, claimIDs(mine))

	got, err := s.GetClaim(ctx, "p-3")
	require.NoError(t, err)
	assert.Equal(t, domain.Quarter3, got.Quarter)
	assert.Equal(t, 2022, got.Year)
	assert.Equal(t, domain.RegimeLucroReal, got.TaxRegime)
	assert.Equal(t, 250.0, got.Value)
	assert.True(t, got.FirmResponsibility)
	assert.Empty(t, got.Settlements)
}

func testGetClaimNotFound(t *testing.T, s port.RecordStore) {
	_, err := s.GetClaim(context.Background(), "missing")

	var nf *domain.ErrNotFound
	assert.True(t, errors.As(err, &nf), "expected ErrNotFound, got %v", err)
}

func testAppendSettlement(t *testing.T, s port.RecordStore) {
	ctx := context.Background()
	require.NoError(t, s.InsertClaim(ctx, Claim("p-1", "c-1", domain.Quarter1, 2023, 1000)))

	require.NoError(t, s.AppendSettlement(ctx, &domain.Settlement{
		ID: "b-1", ClaimID: "p-1", Kind: domain.SettlementDirectDeposit, Value: 400, Date: "2023-06-01",
	}))
	require.NoError(t, s.AppendSettlement(ctx, &domain.Settlement{
		ID: "b-2", ClaimID: "p-1", Kind: domain.SettlementCompensation, OffsetTaxType: "IRPJ", Value: 100, Date: "2023-07-01",
	}))

	got, err := s.GetClaim(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, got.Settlements, 2)
	assert.Equal(t, "b-1", got.Settlements[0].ID)
	assert.Equal(t, domain.SettlementCompensation, got.Settlements[1].Kind)
	assert.Equal(t, "IRPJ", got.Settlements[1].OffsetTaxType)
	assert.InDelta(t, 500, got.SettledTotal(), 1e-9)

	listed, err := s.ListClaims(ctx, "")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Len(t, listed[0].Settlements, 2)
}

func testAppendSettlementUnknownClaim(t *testing.T, s port.RecordStore) {
	err := s.AppendSettlement(context.Background(), &domain.Settlement{
		ID: "b-1", ClaimID: "missing", Kind: domain.SettlementDirectDeposit, Value: 1, Date: "2023-06-01",
	})

	var nf *domain.ErrNotFound
	assert.True(t, errors.As(err, &nf), "expected ErrNotFound, got %v", err)
}

func testAppendSettlementDuplicate(t *testing.T, s port.RecordStore) {
	ctx := context.Background()
	require.NoError(t, s.InsertClaim(ctx, Claim("p-1", "c-1", domain.Quarter1, 2023, 1000)))

	first := &domain.Settlement{ID: "b-1", ClaimID: "p-1", Kind: domain.SettlementDirectDeposit, Value: 400, Date: "2023-06-01"}
	require.NoError(t, s.AppendSettlement(ctx, first))

	again := *first
	again.ID = "b-2"
	err := s.AppendSettlement(ctx, &again)

	var dup *domain.ErrDuplicate
	assert.True(t, errors.As(err, &dup), "expected ErrDuplicate, got %v", err)

	got, err := s.GetClaim(ctx, "p-1")
	require.NoError(t, err)
	assert.Len(t, got.Settlements, 1)
}

func testConcurrentAppends(t *testing.T, s port.RecordStore) {
	ctx := context.Background()
	require.NoError(t, s.InsertClaim(ctx, Claim("p-1", "c-1", domain.Quarter1, 2023, 1000)))

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.AppendSettlement(ctx, &domain.Settlement{
				ID:      "b-" + string(rune('a'+i)),
				ClaimID: "p-1",
				Kind:    domain.SettlementDirectDeposit,
				Value:   float64(i + 1),
				Date:    "2023-06-01",
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetClaim(ctx, "p-1")
	require.NoError(t, err)
	assert.Len(t, got.Settlements, n)
	assert.InDelta(t, float64(n*(n+1)/2), got.SettledTotal(), 1e-9)
}

func testResetAll(t *testing.T, s port.RecordStore) {
	ctx := context.Background()
	_, err := s.UpsertClient(ctx, Client("c-1", "Acme", "11111111000111"))
	require.NoError(t, err)
	require.NoError(t, s.InsertClaim(ctx, Claim("p-1", "c-1", domain.Quarter1, 2023, 1000)))
	require.NoError(t, s.AppendSettlement(ctx, &domain.Settlement{
		ID: "b-1", ClaimID: "p-1", Kind: domain.SettlementDirectDeposit, Value: 10, Date: "2023-06-01",
	}))

	require.NoError(t, s.ResetAll(ctx))

	clients, err := s.ListClients(ctx)
	require.NoError(t, err)
	assert.Empty(t, clients)
	claims, err := s.ListClaims(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, claims)

	// the store stays usable after a wipe
	_, err = s.UpsertClient(ctx, Client("c-9", "Gamma", "11111111000111"))
	require.NoError(t, err)
	got, err := s.GetClient(ctx, "c-9")
	require.NoError(t, err)
	assert.Equal(t, "Gamma", got.Name)
}

func claimIDs(claims []domain.Claim) []string {
	ids := make([]string, len(claims))
	for i, c := range claims {
		ids[i] = c.ID
	}
	return ids
}
