package domain

import (
	"fmt"
	"strings"
)

// ============================================================
// Honorários & Dashboard
// ============================================================

// FeeSummary aggregates claim values, recoveries and fees over a set of
// claims. Field names follow the dashboard contract of the front-end.
type FeeSummary struct {
	TotalMapped        float64 `json:"total_creditos_mapeados"`
	TotalRecovered     float64 `json:"total_recuperado_cliente"`
	OutstandingBalance float64 `json:"saldo_pendente_cliente"`
	FeeTotal           float64 `json:"patrimonium_honorarios_totais"`
	FeeReceived        float64 `json:"patrimonium_honorarios_recebidos"`
	FeePending         float64 `json:"patrimonium_honorarios_a_receber"`
	SuccessRate        float64 `json:"taxa_sucesso"`
	FeeRealizationRate float64 `json:"taxa_realizacao_honorarios"`
	Count              int     `json:"qtd_processos"`
}

// Granularity selects the period used to bucket claims.
type Granularity string

const (
	GranularityYear    Granularity = "ano"
	GranularityQuarter Granularity = "trimestre"
)

// ParseGranularity accepts "ano"/"year" and "trimestre"/"quarter".
func ParseGranularity(raw string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ano", "year":
		return GranularityYear, nil
	case "trimestre", "quarter":
		return GranularityQuarter, nil
	}
	return "", &ErrValidation{Field: "granularidade", Message: fmt.Sprintf("unknown granularity %q", raw)}
}

// PeriodBucket is one point of the credit evolution series.
type PeriodBucket struct {
	Label     string  `json:"label"`
	Mapped    float64 `json:"mapeado"`
	Recovered float64 `json:"recuperado"`
}

// Dashboard is the response of GET /v1/dashboard.
type Dashboard struct {
	ClientID    string         `json:"cliente_id,omitempty"`
	Summary     FeeSummary     `json:"global"`
	Granularity Granularity    `json:"granularidade"`
	Timeline    []PeriodBucket `json:"evolucao"`
}

// ============================================================
// Filtros de processos
// ============================================================

// ClaimStatus filters claims by settlement state.
type ClaimStatus string

const (
	StatusOpen    ClaimStatus = "ABERTO"
	StatusSettled ClaimStatus = "BAIXADO"
	StatusAll     ClaimStatus = "TODOS"
)

// ParseClaimStatus defaults to TODOS for empty input.
func ParseClaimStatus(raw string) (ClaimStatus, error) {
	switch s := ClaimStatus(strings.ToUpper(strings.TrimSpace(raw))); s {
	case "":
		return StatusAll, nil
	case StatusOpen, StatusSettled, StatusAll:
		return s, nil
	}
	return "", &ErrValidation{Field: "status", Message: fmt.Sprintf("unknown status %q", raw)}
}

// ClaimFilter narrows a claim listing. Zero value matches everything.
type ClaimFilter struct {
	ClientID string
	Status   ClaimStatus
	Search   string
}

// SettlementSummary totals the settled and open amounts of a listing.
type SettlementSummary struct {
	TotalSettled float64 `json:"total_baixado"`
	TotalOpen    float64 `json:"total_em_aberto"`
	Count        int     `json:"qtd_processos"`
}
