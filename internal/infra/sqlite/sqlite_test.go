package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrimonium/ressarcimentos/internal/domain"
	"github.com/patrimonium/ressarcimentos/internal/infra/sqlite"
	"github.com/patrimonium/ressarcimentos/internal/infra/storetest"
	"github.com/patrimonium/ressarcimentos/internal/port"
)

var _ port.RecordStore = (*sqlite.Store)(nil)

func newMemoryStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) port.RecordStore {
		return newMemoryStore(t)
	})
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ressarcimentos.db")

	s, err := sqlite.New(path)
	require.NoError(t, err)
	_, err = s.UpsertClient(ctx, storetest.Client("c-1", "Acme", "11111111000111"))
	require.NoError(t, err)
	require.NoError(t, s.InsertClaim(ctx, storetest.Claim("p-1", "c-1", domain.Quarter4, 2021, 300)))
	require.NoError(t, s.AppendSettlement(ctx, &domain.Settlement{
		ID: "b-1", ClaimID: "p-1", Kind: domain.SettlementDirectDeposit, Value: 300, Date: "2022-01-15",
	}))
	require.NoError(t, s.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	defer reopened.Close()

	claim, err := reopened.GetClaim(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, claim.Totals().IsClosed)
	assert.Equal(t, domain.Quarter4, claim.Quarter)
}

func TestSQLiteStore_DuplicateIDIsStoreError(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	require.NoError(t, s.InsertClaim(ctx, storetest.Claim("p-1", "c-1", domain.Quarter1, 2023, 10)))
	err := s.InsertClaim(ctx, storetest.Claim("p-1", "c-1", domain.Quarter2, 2023, 20))

	var se *domain.ErrStore
	require.True(t, errors.As(err, &se), "expected ErrStore, got %v", err)
	assert.Equal(t, "sqlite.InsertClaim", se.Op)
}

func TestSQLiteStore_CancelledContext(t *testing.T) {
	s := newMemoryStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ListClients(ctx)
	assert.Error(t, err)
}

func TestSQLiteStore_Ping(t *testing.T) {
	assert.NoError(t, newMemoryStore(t).Ping(context.Background()))
}
