package domain

import (
	"fmt"
	"math"
	"strings"
)

// DefaultFeePercentage is the firm's success fee when a contract omits one.
const DefaultFeePercentage = 10.0

// ============================================================
// Clientes
// ============================================================

// Client is a billed customer of the firm.
type Client struct {
	ID            string  `json:"id"`
	Name          string  `json:"razao_social"`
	CNPJ          string  `json:"cnpj"` // digits only
	ContractStart string  `json:"contrato_inicio"`
	FeePercentage float64 `json:"percentual_honorarios"`
}

// ClientCreate is the payload for creating (or replacing) a client.
// FeePercentage is a pointer so an explicit 0 can be told apart from
// an omitted field.
type ClientCreate struct {
	Name          string   `json:"razao_social"`
	CNPJ          string   `json:"cnpj"`
	ContractStart string   `json:"contrato_inicio,omitempty"`
	FeePercentage *float64 `json:"percentual_honorarios,omitempty"`
}

// NormalizeCNPJ strips every non-digit character from a tax number.
func NormalizeCNPJ(raw string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
}

// FormatCNPJ renders a 14-digit CNPJ as 00.000.000/0000-00.
// Other lengths are returned unchanged.
func FormatCNPJ(digits string) string {
	if len(digits) != 14 {
		return digits
	}
	return fmt.Sprintf("%s.%s.%s/%s-%s", digits[:2], digits[2:5], digits[5:8], digits[8:12], digits[12:14])
}

// ValidateFeePercentage checks the 0–100 range shared by clients and claims.
func ValidateFeePercentage(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 100 {
		return &ErrValidation{Field: "percentual_honorarios", Message: "must be between 0 and 100"}
	}
	return nil
}
