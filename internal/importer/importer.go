// Package importer loads the firm's spreadsheet exports (companies, credit
// requests and received reimbursements) through the portfolio service.
// Rows are applied one by one; a failed row never rolls back earlier ones.
package importer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/domain"
	"github.com/patrimonium/ressarcimentos/internal/infra/observability"
)

var tracer = otel.Tracer("ressarcimentos/importer")

// Kind names one of the three spreadsheet layouts.
type Kind string

const (
	KindClients     Kind = "empresas"
	KindClaims      Kind = "pedidos"
	KindSettlements Kind = "ressarcimentos"
)

// ClaimCaseType labels claims created from the pedidos sheet.
const ClaimCaseType = "Ressarcimento PIS/COFINS"

// maxReportedErrors caps the messages kept on a Report.
const maxReportedErrors = 50

// ParseKind accepts the kind in any letter case.
func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindClients, KindClaims, KindSettlements:
		return k, nil
	}
	return "", &domain.ErrValidation{Field: "tipo", Message: fmt.Sprintf("unknown import kind %q", raw)}
}

// Portfolio is the slice of the portfolio service the importer drives.
type Portfolio interface {
	CreateClient(ctx context.Context, in domain.ClientCreate) (*domain.Client, error)
	ListClients(ctx context.Context) ([]domain.Client, error)
	CreateClaim(ctx context.Context, in domain.ClaimCreate) (*domain.ClaimView, error)
	ListClaims(ctx context.Context, filter domain.ClaimFilter) ([]domain.ClaimView, error)
	ApplySettlement(ctx context.Context, claimID string, req domain.SettlementRequest) (*domain.Settlement, bool, error)
}

// Report summarizes one import run.
type Report struct {
	Kind       Kind     `json:"tipo"`
	Rows       int      `json:"linhas"`
	Created    int      `json:"criados"`
	Duplicates int      `json:"duplicados"`
	Skipped    int      `json:"ignorados"`
	Failed     int      `json:"falhas"`
	TotalValue float64  `json:"valor_total"`
	Errors     []string `json:"erros,omitempty"`
}

func (r *Report) fail(format string, args ...any) {
	r.Failed++
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	}
}

// Importer applies spreadsheet rows through a Portfolio.
type Importer struct {
	portfolio Portfolio
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures an Importer.
type Option func(*Importer)

// WithClock overrides the clock used for filing and settlement dates.
func WithClock(now func() time.Time) Option {
	return func(i *Importer) { i.now = now }
}

// New creates an Importer.
func New(portfolio Portfolio, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *Importer {
	i := &Importer{
		portfolio: portfolio,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Import parses r as the given sheet kind and applies every row.
// The returned error is only set when the file itself cannot be read;
// row failures are counted on the Report.
func (i *Importer) Import(ctx context.Context, kind Kind, r io.Reader) (*Report, error) {
	ctx, span := tracer.Start(ctx, "Importer.Import")
	defer span.End()
	kind, err := ParseKind(string(kind))
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("import.kind", string(kind)))

	t, err := readTable(r)
	if err != nil {
		return nil, &domain.ErrValidation{Field: "arquivo", Message: err.Error()}
	}

	rep := &Report{Kind: kind, Rows: len(t.rows)}
	total := decimal.Zero
	switch kind {
	case KindClients:
		err = i.importClients(ctx, t, rep)
	case KindClaims:
		total, err = i.importClaims(ctx, t, rep)
	case KindSettlements:
		total, err = i.importSettlements(ctx, t, rep)
	}
	if err != nil {
		return nil, err
	}
	rep.TotalValue = total.InexactFloat64()

	i.record(rep)
	span.SetAttributes(
		attribute.Int("import.created", rep.Created),
		attribute.Int("import.failed", rep.Failed),
	)
	return rep, nil
}

func (i *Importer) record(rep *Report) {
	kind := string(rep.Kind)
	i.metrics.AddImportRows(kind, "created", rep.Created)
	i.metrics.AddImportRows(kind, "duplicate", rep.Duplicates)
	i.metrics.AddImportRows(kind, "skipped", rep.Skipped)
	i.metrics.AddImportRows(kind, "failed", rep.Failed)

	i.logger.Info("import finished",
		zap.String("tipo", kind),
		zap.Int("linhas", rep.Rows),
		zap.Int("criados", rep.Created),
		zap.Int("duplicados", rep.Duplicates),
		zap.Int("ignorados", rep.Skipped),
		zap.Int("falhas", rep.Failed),
		zap.String("valor_total", FormatBRL(rep.TotalValue)),
	)
}

func (i *Importer) today() string {
	return i.now().Format(domain.DateLayout)
}

// importClients upserts one client per row of the empresas sheet.
func (i *Importer) importClients(ctx context.Context, t *table, rep *Report) error {
	for n, row := range t.rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		name, cnpj := row["EMPRESA"], row["CNPJ"]
		if name == "" || cnpj == "" {
			rep.Skipped++
			continue
		}
		fee := ExtractFee(first(row, "% HONORARIOS", "% HONORÁRIOS"))
		_, err := i.portfolio.CreateClient(ctx, domain.ClientCreate{
			Name:          name,
			CNPJ:          cnpj,
			ContractStart: first(row, "INÍCIO", "INICIO"),
			FeePercentage: &fee,
		})
		if err != nil {
			if isStoreError(err) {
				return err
			}
			i.logger.Warn("import row rejected", zap.String("tipo", string(KindClients)), zap.Int("linha", n+2), zap.Error(err))
			rep.fail("linha %d: %v", n+2, err)
			continue
		}
		rep.Created++
	}
	return nil
}

// importClaims creates one claim per positive period cell of the pedidos
// sheet, for clients already registered.
func (i *Importer) importClaims(ctx context.Context, t *table, rep *Report) (decimal.Decimal, error) {
	total := decimal.Zero
	cols, colErrs := periodColumns(t.headers)
	for _, err := range colErrs {
		rep.fail("%v", err)
	}

	clients, err := i.portfolio.ListClients(ctx)
	if err != nil {
		return total, err
	}
	byCNPJ := make(map[string]domain.Client, len(clients))
	for _, c := range clients {
		byCNPJ[c.CNPJ] = c
	}

	for n, row := range t.rows {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		client, ok := byCNPJ[domain.NormalizeCNPJ(row["CNPJ"])]
		if !ok {
			rep.Skipped++
			continue
		}
		for _, col := range cols {
			amount, err := ParseAmount(row[col.header])
			if err != nil {
				rep.fail("linha %d, %s: %v", n+2, col.header, err)
				continue
			}
			if !amount.IsPositive() {
				continue
			}
			fee := client.FeePercentage
			_, err = i.portfolio.CreateClaim(ctx, domain.ClaimCreate{
				ClientID:      client.ID,
				CaseType:      ClaimCaseType,
				FeePercentage: &fee,
				Quarter:       string(col.quarter),
				Year:          col.year,
				TaxRegime:     string(domain.RegimeLucroReal),
				Value:         amount.InexactFloat64(),
				FilingDate:    i.today(),
			})
			if err != nil {
				if isStoreError(err) {
					return total, err
				}
				rep.fail("linha %d, %s: %v", n+2, col.header, err)
				continue
			}
			rep.Created++
			total = total.Add(amount)
		}
	}
	return total, nil
}

// importSettlements records a direct-deposit settlement, dated today, on
// the first claim of the row's client matching each positive period cell.
// Re-importing the same sheet on the same day is absorbed as duplicates.
func (i *Importer) importSettlements(ctx context.Context, t *table, rep *Report) (decimal.Decimal, error) {
	total := decimal.Zero
	cols, colErrs := periodColumns(t.headers)
	for _, err := range colErrs {
		rep.fail("%v", err)
	}

	views, err := i.portfolio.ListClaims(ctx, domain.ClaimFilter{})
	if err != nil {
		return total, err
	}

	for n, row := range t.rows {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		cnpj := domain.NormalizeCNPJ(row["CNPJ"])
		for _, col := range cols {
			amount, err := ParseAmount(row[col.header])
			if err != nil {
				rep.fail("linha %d, %s: %v", n+2, col.header, err)
				continue
			}
			if !amount.IsPositive() {
				continue
			}
			claim := matchClaim(views, cnpj, col)
			if claim == nil {
				rep.Skipped++
				continue
			}
			value := amount.InexactFloat64()
			_, created, err := i.portfolio.ApplySettlement(ctx, claim.ID, domain.SettlementRequest{
				Kind:  string(domain.SettlementDirectDeposit),
				Value: &value,
				Date:  i.today(),
			})
			if err != nil {
				if isStoreError(err) {
					return total, err
				}
				rep.fail("linha %d, %s: %v", n+2, col.header, err)
				continue
			}
			if !created {
				rep.Duplicates++
				continue
			}
			rep.Created++
			total = total.Add(amount)
		}
	}
	return total, nil
}

func matchClaim(views []domain.ClaimView, cnpj string, col periodColumn) *domain.ClaimView {
	for k := range views {
		v := &views[k]
		if v.Client == nil || v.Client.CNPJ != cnpj {
			continue
		}
		if v.Quarter == col.quarter && v.Year == col.year {
			return v
		}
	}
	return nil
}
