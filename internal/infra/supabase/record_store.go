package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/domain"
)

// ============================================================
// RecordStore over the clientes / processos / baixas tables
// ============================================================

const (
	tableClients     = "clientes"
	tableClaims      = "processos"
	tableSettlements = "baixas"
)

const (
	sqlStateUniqueViolation = "23505"
	sqlStateForeignKey      = "23503"
)

// pageSize is the limit sent on list reads. PostgREST serves fewer rows
// when its max-rows setting is lower, so paging stops on an empty page.
const pageSize = 1000

const claimSelect = "id,cliente_id,tipo_processo,responsabilidade_patrimonium,percentual_honorarios," +
	"trimestre,ano,regime_tributario,valor,data_lancamento_rfb,data_criacao," +
	"baixas(id,processo_id,tipo,tributo_compensado,valor,data_baixa)"

// claimRow is the insert payload; the embedded settlements are read-only.
type claimRow struct {
	ID                 string  `json:"id"`
	ClientID           string  `json:"cliente_id"`
	CaseType           string  `json:"tipo_processo"`
	FirmResponsibility bool    `json:"responsabilidade_patrimonium"`
	FeePercentage      float64 `json:"percentual_honorarios"`
	Quarter            string  `json:"trimestre"`
	Year               int     `json:"ano"`
	TaxRegime          string  `json:"regime_tributario"`
	Value              float64 `json:"valor"`
	FilingDate         string  `json:"data_lancamento_rfb"`
	CreatedAt          string  `json:"data_criacao"`
}

// ResetAll empties clientes, processos and baixas through the reset_all
// function from schema.sql, which truncates them in one statement.
func (c *Client) ResetAll(ctx context.Context) error {
	return c.execute(ctx, "ResetAll", func(ctx context.Context) error {
		if _, err := c.doPost(ctx, "rpc/reset_all", struct{}{}, "return=minimal"); err != nil {
			return err
		}
		c.logger.Info("supabase: all tables emptied")
		return nil
	})
}

// ListClients returns every client ordered by name.
func (c *Client) ListClients(ctx context.Context) ([]domain.Client, error) {
	var clients []domain.Client
	err := c.execute(ctx, "ListClients", func(ctx context.Context) error {
		var err error
		clients, err = getAll[domain.Client](ctx, c, tableClients+"?select=*&order=razao_social.asc,id.asc", tableClients)
		return err
	})
	if err != nil {
		return nil, err
	}
	return clients, nil
}

// GetClient fetches a client by id.
func (c *Client) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	var client *domain.Client
	err := c.execute(ctx, "GetClient", func(ctx context.Context) error {
		found, err := c.findClient(ctx, "id", clientID)
		if err != nil {
			return err
		}
		if found == nil {
			return &domain.ErrNotFound{Resource: "cliente", ID: clientID}
		}
		client = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// UpsertClient replaces the client holding the same CNPJ, keeping its id,
// or inserts a new one.
func (c *Client) UpsertClient(ctx context.Context, in *domain.Client) (*domain.Client, error) {
	stored := *in
	stored.CNPJ = domain.NormalizeCNPJ(in.CNPJ)

	err := c.execute(ctx, "UpsertClient", func(ctx context.Context) error {
		existing, err := c.findClient(ctx, "cnpj", stored.CNPJ)
		if err != nil {
			return err
		}
		if existing != nil {
			stored.ID = existing.ID
		}

		body, err := c.doPost(ctx, tableClients+"?on_conflict=cnpj", []domain.Client{stored},
			"resolution=merge-duplicates,return=representation")
		if err != nil {
			return err
		}
		var rows []domain.Client
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("decode cliente: %w", err)
		}
		if len(rows) > 0 {
			stored = rows[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("supabase: client upserted", zap.String("cliente_id", stored.ID))
	return &stored, nil
}

func (c *Client) findClient(ctx context.Context, column, value string) (*domain.Client, error) {
	path := fmt.Sprintf("%s?select=*&%s=eq.%s&limit=1", tableClients, column, url.QueryEscape(value))
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, err
	}
	var rows []domain.Client
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode cliente: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ListClaims returns claims in insertion order with their settlements
// embedded. An empty clientID lists every claim.
func (c *Client) ListClaims(ctx context.Context, clientID string) ([]domain.Claim, error) {
	path := fmt.Sprintf("%s?select=%s&order=seq.asc&baixas.order=seq.asc", tableClaims, claimSelect)
	if clientID != "" {
		path += "&cliente_id=eq." + url.QueryEscape(clientID)
	}

	var claims []domain.Claim
	err := c.execute(ctx, "ListClaims", func(ctx context.Context) error {
		var err error
		claims, err = getAll[domain.Claim](ctx, c, path, tableClaims)
		return err
	})
	if err != nil {
		return nil, err
	}
	for i := range claims {
		if claims[i].Settlements == nil {
			claims[i].Settlements = []domain.Settlement{}
		}
	}
	return claims, nil
}

// GetClaim fetches one claim with its settlements.
func (c *Client) GetClaim(ctx context.Context, claimID string) (*domain.Claim, error) {
	path := fmt.Sprintf("%s?select=%s&baixas.order=seq.asc&id=eq.%s&limit=1", tableClaims, claimSelect, url.QueryEscape(claimID))

	var claim *domain.Claim
	err := c.execute(ctx, "GetClaim", func(ctx context.Context) error {
		body, err := c.doGet(ctx, path)
		if err != nil {
			return err
		}
		var rows []domain.Claim
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("decode processo: %w", err)
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "processo", ID: claimID}
		}
		claim = &rows[0]
		if claim.Settlements == nil {
			claim.Settlements = []domain.Settlement{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// InsertClaim stores a new claim row.
func (c *Client) InsertClaim(ctx context.Context, claim *domain.Claim) error {
	row := claimRow{
		ID:                 claim.ID,
		ClientID:           claim.ClientID,
		CaseType:           claim.CaseType,
		FirmResponsibility: claim.FirmResponsibility,
		FeePercentage:      claim.FeePercentage,
		Quarter:            string(claim.Quarter),
		Year:               claim.Year,
		TaxRegime:          string(claim.TaxRegime),
		Value:              claim.Value,
		FilingDate:         claim.FilingDate,
		CreatedAt:          claim.CreatedAt,
	}
	return c.execute(ctx, "InsertClaim", func(ctx context.Context) error {
		_, err := c.doPost(ctx, tableClaims, []claimRow{row}, "return=minimal")
		return err
	})
}

// AppendSettlement inserts a settlement. PostgREST conflicts on the
// (processo_id, valor, data_baixa) unique constraint become ErrDuplicate and
// foreign-key failures become ErrNotFound.
func (c *Client) AppendSettlement(ctx context.Context, st *domain.Settlement) error {
	return c.execute(ctx, "AppendSettlement", func(ctx context.Context) error {
		_, err := c.doPost(ctx, tableSettlements, []domain.Settlement{*st}, "return=minimal")
		var se *statusError
		if errors.As(err, &se) && se.Status == http.StatusConflict {
			switch se.Code {
			case sqlStateUniqueViolation:
				return &domain.ErrDuplicate{Key: fmt.Sprintf("%s/%v/%s", st.ClaimID, st.Value, st.Date)}
			case sqlStateForeignKey:
				return &domain.ErrNotFound{Resource: "processo", ID: st.ClaimID}
			}
		}
		return err
	})
}

// Ping issues a cheap read for /readyz.
func (c *Client) Ping(ctx context.Context) error {
	return c.execute(ctx, "Ping", func(ctx context.Context) error {
		_, err := c.doGet(ctx, tableClients+"?select=id&limit=1")
		return err
	})
}

// getAll reads path page by page with limit/offset until PostgREST answers
// with an empty page. path must carry a total order.
func getAll[T any](ctx context.Context, c *Client, path, table string) ([]T, error) {
	all := []T{}
	for offset := 0; ; {
		body, err := c.doGet(ctx, fmt.Sprintf("%s&limit=%d&offset=%d", path, pageSize, offset))
		if err != nil {
			return nil, err
		}
		var page []T
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode %s: %w", table, err)
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
		offset += len(page)
	}
}
