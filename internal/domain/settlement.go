package domain

import (
	"fmt"
	"strings"
)

// ============================================================
// Baixas
// ============================================================

// SettlementKind tells how a claim was recovered.
type SettlementKind string

const (
	SettlementDirectDeposit SettlementKind = "CONTA CORRENTE" // deposit on the client's account
	SettlementCompensation  SettlementKind = "COMPENSACAO"    // offset against another tax
)

// OffsetTaxSuggestions lists the taxes usually offset in a compensation.
// It is a hint for forms; any non-empty tax name is accepted.
var OffsetTaxSuggestions = []string{"Pis", "Cofins", "IRPJ", "CSLL", "IPI", "INSS", "CRF", "IRRF"}

// ParseSettlementKind accepts both kinds in any case, with or without
// the cedilla. Empty input means a direct deposit.
func ParseSettlementKind(raw string) (SettlementKind, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("Ç", "C", "Ã", "A", "_", " ").Replace(s)
	switch s {
	case "", string(SettlementDirectDeposit):
		return SettlementDirectDeposit, nil
	case string(SettlementCompensation):
		return SettlementCompensation, nil
	}
	return "", &ErrValidation{Field: "tipo", Message: fmt.Sprintf("unknown settlement kind %q", raw)}
}

// Settlement is an immutable payment or tax-offset event against a claim.
type Settlement struct {
	ID            string         `json:"id"`
	ClaimID       string         `json:"processo_id"`
	Kind          SettlementKind `json:"tipo"`
	OffsetTaxType string         `json:"tributo_compensado,omitempty"`
	Value         float64        `json:"valor"`
	Date          string         `json:"data_baixa"`
}

// SettlementRequest is the payload for POST /v1/processos/{id}/baixas.
// Value is a pointer so a missing amount is distinguishable from zero.
type SettlementRequest struct {
	Kind          string   `json:"tipo"`
	OffsetTaxType string   `json:"tributo_compensado,omitempty"`
	Value         *float64 `json:"valor"`
	Date          string   `json:"data_baixa,omitempty"`
}
