package supabase_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/domain"
	"github.com/patrimonium/ressarcimentos/internal/infra/resilience"
	"github.com/patrimonium/ressarcimentos/internal/infra/storetest"
	"github.com/patrimonium/ressarcimentos/internal/infra/supabase"
	"github.com/patrimonium/ressarcimentos/internal/port"
)

var _ port.RecordStore = (*supabase.Client)(nil)

// fakePostgREST answers the subset of PostgREST the adapter uses, keeping
// rows in memory.
type fakePostgREST struct {
	mu          sync.Mutex
	clients     []domain.Client
	claims      []domain.Claim
	settlements []domain.Settlement

	// maxRows caps every read the way PostgREST's max-rows setting does.
	maxRows int

	failNext int
	calls    int
	headers  http.Header
	paths    []string
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.headers = r.Header.Clone()
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)
	if f.failNext > 0 {
		f.failNext--
		http.Error(w, `{"message":"upstream unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	q := r.URL.Query()

	switch {
	case r.Method == http.MethodPost && table == "rpc/reset_all":
		f.clients, f.claims, f.settlements = nil, nil, nil
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet && table == "clientes":
		var out []domain.Client
		for _, c := range f.clients {
			if eq(q, "id", c.ID) && eq(q, "cnpj", c.CNPJ) {
				out = append(out, c)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Name != out[j].Name {
				return out[i].Name < out[j].Name
			}
			return out[i].ID < out[j].ID
		})
		writeRows(w, http.StatusOK, f.page(q, out))

	case r.Method == http.MethodPost && table == "clientes":
		var rows []domain.Client
		_ = json.NewDecoder(r.Body).Decode(&rows)
		for _, row := range rows {
			replaced := false
			for i := range f.clients {
				if f.clients[i].CNPJ == row.CNPJ {
					f.clients[i] = row
					replaced = true
				}
			}
			if !replaced {
				f.clients = append(f.clients, row)
			}
		}
		writeRows(w, http.StatusCreated, rows)

	case r.Method == http.MethodGet && table == "processos":
		out := []domain.Claim{}
		for _, c := range f.claims {
			if !eq(q, "id", c.ID) || !eq(q, "cliente_id", c.ClientID) {
				continue
			}
			c.Settlements = []domain.Settlement{}
			for _, s := range f.settlements {
				if s.ClaimID == c.ID {
					c.Settlements = append(c.Settlements, s)
				}
			}
			out = append(out, c)
		}
		writeRows(w, http.StatusOK, f.page(q, out))

	case r.Method == http.MethodPost && table == "processos":
		var rows []domain.Claim
		_ = json.NewDecoder(r.Body).Decode(&rows)
		for _, row := range rows {
			for _, c := range f.claims {
				if c.ID == row.ID {
					writeRows(w, http.StatusConflict, map[string]string{"code": "23505", "message": "duplicate key"})
					return
				}
			}
			f.claims = append(f.claims, row)
		}
		w.WriteHeader(http.StatusCreated)

	case r.Method == http.MethodPost && table == "baixas":
		var rows []domain.Settlement
		_ = json.NewDecoder(r.Body).Decode(&rows)
		for _, row := range rows {
			known := false
			for _, c := range f.claims {
				known = known || c.ID == row.ClaimID
			}
			if !known {
				writeRows(w, http.StatusConflict, map[string]string{"code": "23503", "message": "foreign key violation"})
				return
			}
			for _, s := range f.settlements {
				if s.ClaimID == row.ClaimID && s.Value == row.Value && s.Date == row.Date {
					writeRows(w, http.StatusConflict, map[string]string{"code": "23505", "message": "duplicate key"})
					return
				}
			}
			f.settlements = append(f.settlements, row)
		}
		w.WriteHeader(http.StatusCreated)

	default:
		http.Error(w, `{"message":"unsupported"}`, http.StatusBadRequest)
	}
}

// page applies limit/offset, never serving more than maxRows.
func (f *fakePostgREST) page(q url.Values, rows any) any {
	v := reflect.ValueOf(rows)
	n := v.Len()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil {
		limit = n
	}
	if f.maxRows > 0 && limit > f.maxRows {
		limit = f.maxRows
	}
	start := min(offset, n)
	end := min(start+limit, n)
	return v.Slice(start, end).Interface()
}

// eq matches a PostgREST "col=eq.value" filter; absent filters match.
func eq(q url.Values, column, value string) bool {
	v, ok := q[column]
	if !ok || len(v) == 0 {
		return true
	}
	return strings.TrimPrefix(v[0], "eq.") == value
}

func writeRows(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newClient(t *testing.T, fake *fakePostgREST) *supabase.Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxConcurrency: 8}
	return supabase.NewClient(srv.Client(), srv.URL+"/", "anon-key", "service-key", cfg, zap.NewNop())
}

func TestSupabaseStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) port.RecordStore {
		return newClient(t, &fakePostgREST{})
	})
}

func TestSupabaseStore_SendsAuthHeaders(t *testing.T) {
	fake := &fakePostgREST{}
	c := newClient(t, fake)

	_, err := c.ListClients(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "anon-key", fake.headers.Get("apikey"))
	assert.Equal(t, "Bearer service-key", fake.headers.Get("Authorization"))
}

func TestSupabaseStore_RetriesTransientFailures(t *testing.T) {
	fake := &fakePostgREST{failNext: 2}
	c := newClient(t, fake)

	_, err := c.ListClients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, fake.calls)
}

func TestSupabaseStore_PersistentFailureIsStoreError(t *testing.T) {
	fake := &fakePostgREST{failNext: 100}
	c := newClient(t, fake)

	_, err := c.GetClaim(context.Background(), "p-1")

	var se *domain.ErrStore
	require.True(t, errors.As(err, &se), "expected ErrStore, got %v", err)
	assert.Equal(t, "supabase.GetClaim", se.Op)
	assert.Equal(t, 3, fake.calls)
}

func TestSupabaseStore_NotFoundIsNotRetried(t *testing.T) {
	fake := &fakePostgREST{}
	c := newClient(t, fake)

	for i := 0; i < 10; i++ {
		_, err := c.GetClient(context.Background(), "missing")
		var nf *domain.ErrNotFound
		require.True(t, errors.As(err, &nf))
	}
	assert.Equal(t, 10, fake.calls)

	// breaker stays closed
	_, err := c.ListClients(context.Background())
	assert.NoError(t, err)
}

func TestSupabaseStore_ListsPastMaxRows(t *testing.T) {
	fake := &fakePostgREST{maxRows: 2}
	c := newClient(t, fake)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("c-%d", i)
		_, err := c.UpsertClient(ctx, &domain.Client{ID: id, Name: "Empresa " + id, CNPJ: fmt.Sprintf("1122233300010%d", i)})
		require.NoError(t, err)
		require.NoError(t, c.InsertClaim(ctx, &domain.Claim{
			ID: fmt.Sprintf("p-%d", i), ClientID: "c-0", Quarter: domain.Quarter1, Year: 2023,
			TaxRegime: domain.RegimeLucroReal, Value: float64(i + 1), CreatedAt: "2024-01-01T00:00:00Z",
		}))
	}

	clients, err := c.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 5)
	assert.Equal(t, "c-0", clients[0].ID)
	assert.Equal(t, "c-4", clients[4].ID)

	fake.paths = nil
	claims, err := c.ListClaims(ctx, "c-0")
	require.NoError(t, err)
	require.Len(t, claims, 5)
	for i, cl := range claims {
		assert.Equal(t, fmt.Sprintf("p-%d", i), cl.ID)
		assert.NotNil(t, cl.Settlements)
	}
	// pages of 2, 2, 1 and the empty page that ends the read
	assert.Len(t, fake.paths, 4)
}

func TestSupabaseStore_ResetAllIsSingleCall(t *testing.T) {
	fake := &fakePostgREST{}
	c := newClient(t, fake)
	ctx := context.Background()

	_, err := c.UpsertClient(ctx, &domain.Client{ID: "c-1", Name: "Acme", CNPJ: "11222333000144"})
	require.NoError(t, err)
	require.NoError(t, c.InsertClaim(ctx, &domain.Claim{ID: "p-1", ClientID: "c-1", Value: 100}))
	require.NoError(t, c.AppendSettlement(ctx, &domain.Settlement{ID: "b-1", ClaimID: "p-1", Value: 10, Date: "2024-01-10"}))

	fake.failNext = 100
	err = c.ResetAll(ctx)
	var se *domain.ErrStore
	require.True(t, errors.As(err, &se), "expected ErrStore, got %v", err)
	assert.Equal(t, "supabase.ResetAll", se.Op)

	fake.mu.Lock()
	fake.failNext = 0
	assert.Len(t, fake.clients, 1)
	assert.Len(t, fake.claims, 1)
	assert.Len(t, fake.settlements, 1)
	fake.paths = nil
	fake.mu.Unlock()

	require.NoError(t, c.ResetAll(ctx))
	assert.Equal(t, []string{"POST /rest/v1/rpc/reset_all"}, fake.paths)
	assert.Empty(t, fake.clients)
	assert.Empty(t, fake.claims)
	assert.Empty(t, fake.settlements)
}

func TestSchema_CoversAdapterContract(t *testing.T) {
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS clientes",
		"cnpj TEXT NOT NULL UNIQUE",
		"seq BIGSERIAL PRIMARY KEY",
		"REFERENCES processos(id) ON DELETE CASCADE",
		"UNIQUE (processo_id, valor, data_baixa)",
		"CREATE OR REPLACE FUNCTION reset_all()",
		"TRUNCATE TABLE baixas, processos, clientes",
	} {
		assert.Contains(t, supabase.Schema, want)
	}
}
