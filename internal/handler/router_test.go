package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/domain"
	"github.com/patrimonium/ressarcimentos/internal/handler"
	"github.com/patrimonium/ressarcimentos/internal/importer"
	"github.com/patrimonium/ressarcimentos/internal/infra/cache"
	"github.com/patrimonium/ressarcimentos/internal/infra/memory"
	"github.com/patrimonium/ressarcimentos/internal/infra/observability"
	"github.com/patrimonium/ressarcimentos/internal/service"
)

var today = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newRouter(t *testing.T, opts ...handler.Option) http.Handler {
	t.Helper()
	c := cache.New[*domain.Dashboard](time.Minute)
	t.Cleanup(c.Close)

	var seq atomic.Int64
	metrics := observability.NewMetrics()
	clock := func() time.Time { return today }
	svc := service.NewPortfolioService(memory.New(), c, metrics, zap.NewNop(),
		service.WithClock(clock),
		service.WithIDGenerator(func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }),
	)
	imp := importer.New(svc, metrics, zap.NewNop(), importer.WithClock(clock))
	return handler.NewRouter(svc, imp, metrics, zap.NewNop(), opts...)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func seedClaim(t *testing.T, h http.Handler) (domain.Client, domain.ClaimView) {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/clientes", map[string]any{
		"razao_social":          "Acme Ltda",
		"cnpj":                  "11.222.333/0001-44",
		"percentual_honorarios": 20,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	client := decode[domain.Client](t, rec)

	rec = do(t, h, http.MethodPost, "/v1/processos", map[string]any{
		"cliente_id":            client.ID,
		"trimestre":             "1º TRIM",
		"ano":                   2023,
		"regime_tributario":     "Lucro Real",
		"valor":                 1000,
		"percentual_honorarios": 20,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return client, decode[domain.ClaimView](t, rec)
}

func TestHealthChecks(t *testing.T) {
	h := newRouter(t)
	for _, path := range []string{"/healthz", "/readyz", "/ping", "/metrics"} {
		rec := do(t, h, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	assert.NotEmpty(t, do(t, h, http.MethodGet, "/healthz", nil).Header().Get("X-Request-Id"))
}

func TestHealthChecks_StoreDown(t *testing.T) {
	h := newRouter(t, handler.WithStoreHealth("sqlite", pinger{err: errors.New("disk gone")}))

	rec := do(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[domain.HealthStatus](t, rec)
	assert.Equal(t, "degraded", health.Status)
	require.Len(t, health.Services, 2)
	assert.Equal(t, "sqlite", health.Services[1].Name)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/readyz", nil).Code)
}

func TestClientsAndClaims(t *testing.T) {
	h := newRouter(t)
	client, claim := seedClaim(t, h)

	assert.Equal(t, "11222333000144", client.CNPJ)
	assert.Equal(t, domain.Quarter1, claim.Quarter)
	require.NotNil(t, claim.Client)
	assert.Equal(t, "Acme Ltda", claim.Client.Name)
	assert.InDelta(t, 200, claim.Fees.FeeTotal, 1e-9)

	clients := decode[[]domain.Client](t, do(t, h, http.MethodGet, "/v1/clientes", nil))
	assert.Len(t, clients, 1)

	got := decode[domain.Client](t, do(t, h, http.MethodGet, "/v1/clientes/"+client.ID, nil))
	assert.Equal(t, client, got)

	byClient := decode[[]domain.ClaimView](t, do(t, h, http.MethodGet, "/v1/clientes/"+client.ID+"/processos", nil))
	assert.Len(t, byClient, 1)

	one := decode[domain.ClaimView](t, do(t, h, http.MethodGet, "/v1/processos/"+claim.ID, nil))
	assert.Equal(t, claim.ID, one.ID)

	found := decode[[]domain.ClaimView](t, do(t, h, http.MethodGet, "/v1/processos?q=acme&status=aberto", nil))
	assert.Len(t, found, 1)
	none := decode[[]domain.ClaimView](t, do(t, h, http.MethodGet, "/v1/processos?status=BAIXADO", nil))
	assert.Empty(t, none)
}

func TestErrorMapping(t *testing.T) {
	h := newRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown client", http.MethodGet, "/v1/clientes/ghost", nil, http.StatusNotFound},
		{"unknown claim", http.MethodGet, "/v1/processos/ghost", nil, http.StatusNotFound},
		{"claims of unknown client", http.MethodGet, "/v1/clientes/ghost/processos", nil, http.StatusNotFound},
		{"bad status filter", http.MethodGet, "/v1/processos?status=PAGO", nil, http.StatusBadRequest},
		{"missing name", http.MethodPost, "/v1/clientes", map[string]any{"cnpj": "1"}, http.StatusBadRequest},
		{"settlement without amount", http.MethodPost, "/v1/processos/ghost/baixas", map[string]any{"tipo": "CONTA CORRENTE"}, http.StatusBadRequest},
		{"settlement on unknown claim", http.MethodPost, "/v1/processos/ghost/baixas", map[string]any{"valor": 10}, http.StatusNotFound},
		{"bad granularity", http.MethodGet, "/v1/dashboard?granularidade=mes", nil, http.StatusBadRequest},
		{"unknown import kind", http.MethodPost, "/v1/importacao/bancos", nil, http.StatusBadRequest},
		{"reset without confirmation", http.MethodPost, "/v1/admin/reset", map[string]any{"confirmacao": "sim"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/clientes", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettlements(t *testing.T) {
	h := newRouter(t)
	_, claim := seedClaim(t, h)
	path := "/v1/processos/" + claim.ID + "/baixas"
	body := map[string]any{"tipo": "COMPENSACAO", "tributo_compensado": "IRPJ", "valor": 400, "data_baixa": "2024-01-10"}

	first := do(t, h, http.MethodPost, path, body)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	created := decode[domain.Settlement](t, first)
	assert.Equal(t, domain.SettlementCompensation, created.Kind)
	assert.Equal(t, "IRPJ", created.OffsetTaxType)

	again := do(t, h, http.MethodPost, path, body)
	require.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, created.ID, decode[domain.Settlement](t, again).ID)

	list := decode[[]domain.Settlement](t, do(t, h, http.MethodGet, path, nil))
	assert.Len(t, list, 1)

	summary := decode[domain.SettlementSummary](t, do(t, h, http.MethodGet, "/v1/baixas/resumo", nil))
	assert.InDelta(t, 400, summary.TotalSettled, 1e-9)
	assert.InDelta(t, 600, summary.TotalOpen, 1e-9)

	taxes := decode[[]string](t, do(t, h, http.MethodGet, "/v1/baixas/tributos", nil))
	assert.Contains(t, taxes, "IRPJ")

	engine := decode[domain.EngineMetrics](t, do(t, h, http.MethodGet, "/v1/metrics/engine", nil))
	assert.Equal(t, int64(1), engine.SettlementsCreated)
	assert.Equal(t, int64(1), engine.DuplicatesAbsorbed)
}

func TestDashboard(t *testing.T) {
	h := newRouter(t)
	client, claim := seedClaim(t, h)
	do(t, h, http.MethodPost, "/v1/processos/"+claim.ID+"/baixas", map[string]any{"valor": 250, "data_baixa": "2024-01-10"})

	d := decode[domain.Dashboard](t, do(t, h, http.MethodGet, "/v1/dashboard", nil))
	assert.Equal(t, domain.GranularityYear, d.Granularity)
	assert.InDelta(t, 25, d.Summary.SuccessRate, 1e-9)
	assert.InDelta(t, 50, d.Summary.FeeReceived, 1e-9)

	timeline := decode[[]domain.PeriodBucket](t, do(t, h, http.MethodGet, "/v1/dashboard/evolucao?cliente_id="+client.ID, nil))
	require.Len(t, timeline, 1)
	assert.Equal(t, "1º TRIM 2023", timeline[0].Label)
}

func TestImport(t *testing.T) {
	h := newRouter(t)
	csv := "EMPRESA;CNPJ;% HONORARIOS\nAcme Ltda;11.222.333/0001-44;15%\n"

	req := httptest.NewRequest(http.MethodPost, "/v1/importacao/empresas", strings.NewReader(csv))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[importer.Report](t, rec).Created)

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	fw, err := mw.CreateFormFile("arquivo", "pedidos.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("CNPJ;1º TRIM-2023\n11222333000144;1.500,00\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req = httptest.NewRequest(http.MethodPost, "/v1/importacao/pedidos", &form)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := decode[importer.Report](t, rec)
	assert.Equal(t, 1, rep.Created)
	assert.InDelta(t, 1500, rep.TotalValue, 1e-9)
}

func TestImport_TooLarge(t *testing.T) {
	h := newRouter(t, handler.WithImportMaxBytes(16))

	req := httptest.NewRequest(http.MethodPost, "/v1/importacao/empresas", strings.NewReader(strings.Repeat("x", 64)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestReset(t *testing.T) {
	h := newRouter(t)
	seedClaim(t, h)

	rec := do(t, h, http.MethodPost, "/v1/admin/reset", domain.ResetRequest{Confirmation: domain.ResetConfirmation})
	require.Equal(t, http.StatusOK, rec.Code)

	claims := decode[[]domain.ClaimView](t, do(t, h, http.MethodGet, "/v1/processos", nil))
	assert.Empty(t, claims)
}
