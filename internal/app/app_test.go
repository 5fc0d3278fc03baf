package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/config"
	"github.com/patrimonium/ressarcimentos/internal/domain"
	"github.com/patrimonium/ressarcimentos/internal/infra/memory"
	"github.com/patrimonium/ressarcimentos/internal/infra/sqlite"
	"github.com/patrimonium/ressarcimentos/internal/infra/supabase"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, closeFn, err := OpenStore(ctx, &config.Config{StoreBackend: config.BackendMemory}, zap.NewNop())
	require.NoError(t, err)
	closeFn()
	assert.IsType(t, &memory.Store{}, s)

	path := filepath.Join(t.TempDir(), "test.db")
	s, closeFn, err = OpenStore(ctx, &config.Config{StoreBackend: config.BackendSQLite, SQLitePath: path}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, s)
	closeFn()

	s, _, err = OpenStore(ctx, &config.Config{
		StoreBackend:       config.BackendSupabase,
		SupabaseURL:        "http://localhost:54321",
		SupabaseServiceKey: "key",
		MaxConcurrency:     4,
	}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &supabase.Client{}, s)

	_, _, err = OpenStore(ctx, &config.Config{StoreBackend: "mongo"}, zap.NewNop())
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	a, err := New(context.Background(), &config.Config{StoreBackend: config.BackendMemory}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	c, err := a.Portfolio.CreateClient(context.Background(), domain.ClientCreate{Name: "Acme", CNPJ: "11222333000144"})
	require.NoError(t, err)

	clients, err := a.Store.ListClients(context.Background())
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, c.ID, clients[0].ID)
}
