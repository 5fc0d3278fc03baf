package domain

import (
	"fmt"
	"strings"
	"time"
)

// ClosedTolerance is the absolute balance under which a claim counts as
// fully settled. It absorbs float rounding, it is not a percentage.
const ClosedTolerance = 0.01

// DefaultCaseType labels claims created without an explicit case type.
const DefaultCaseType = "Pedido de Ressarcimento"

// DateLayout is the canonical calendar-date format of every stored date.
const DateLayout = "2006-01-02"

// ============================================================
// Trimestre
// ============================================================

// Quarter is a fiscal quarter label in its canonical form ("1º TRIM").
type Quarter string

const (
	Quarter1 Quarter = "1º TRIM"
	Quarter2 Quarter = "2º TRIM"
	Quarter3 Quarter = "3º TRIM"
	Quarter4 Quarter = "4º TRIM"
)

var quarters = [...]Quarter{Quarter1, Quarter2, Quarter3, Quarter4}

// Index returns 1..4, or 0 for a non-canonical label.
func (q Quarter) Index() int {
	for i, c := range quarters {
		if c == q {
			return i + 1
		}
	}
	return 0
}

// ParseQuarter canonicalizes the spellings found in forms and spreadsheets:
// "1º TRIM", "1° TRIM", "1 TRIM", "1T", "Q1", "1º TRIMESTRE".
func ParseQuarter(raw string) (Quarter, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	var digit rune
	var rest strings.Builder
	for _, r := range s {
		switch {
		case digit == 0 && r >= '1' && r <= '4':
			digit = r
		case r == 'º' || r == '°' || r == ' ' || r == '.':
		default:
			rest.WriteRune(r)
		}
	}
	if digit == 0 {
		return "", &ErrValidation{Field: "trimestre", Message: fmt.Sprintf("invalid quarter %q", raw)}
	}
	switch rest.String() {
	case "TRIM", "TRIMESTRE", "T", "Q":
		return quarters[digit-'1'], nil
	}
	return "", &ErrValidation{Field: "trimestre", Message: fmt.Sprintf("invalid quarter %q", raw)}
}

// ============================================================
// Regime tributário
// ============================================================

// TaxRegime is the client's Brazilian corporate tax regime.
type TaxRegime string

const (
	RegimeSimples        TaxRegime = "Simples Nacional"
	RegimeLucroPresumido TaxRegime = "Lucro Presumido"
	RegimeLucroReal      TaxRegime = "Lucro Real"
)

// ParseTaxRegime accepts the regime name in any letter case.
func ParseTaxRegime(raw string) (TaxRegime, error) {
	for _, r := range []TaxRegime{RegimeSimples, RegimeLucroPresumido, RegimeLucroReal} {
		if strings.EqualFold(strings.TrimSpace(raw), string(r)) {
			return r, nil
		}
	}
	return "", &ErrValidation{Field: "regime_tributario", Message: fmt.Sprintf("unknown tax regime %q", raw)}
}

// ============================================================
// Processos
// ============================================================

// Claim is a reimbursement case ("processo") for one client and one
// fiscal period. It references its client by ID only and owns its
// settlements.
type Claim struct {
	ID                 string       `json:"id"`
	ClientID           string       `json:"cliente_id"`
	CaseType           string       `json:"tipo_processo"`
	FirmResponsibility bool         `json:"responsabilidade_patrimonium"`
	FeePercentage      float64      `json:"percentual_honorarios"`
	Quarter            Quarter      `json:"trimestre"`
	Year               int          `json:"ano"`
	TaxRegime          TaxRegime    `json:"regime_tributario"`
	Value              float64      `json:"valor"`
	FilingDate         string       `json:"data_lancamento_rfb"`
	CreatedAt          string       `json:"data_criacao"`
	Settlements        []Settlement `json:"baixas"`
}

// ClaimCreate is the payload for POST /v1/processos.
type ClaimCreate struct {
	ClientID           string   `json:"cliente_id"`
	CaseType           string   `json:"tipo_processo,omitempty"`
	FirmResponsibility *bool    `json:"responsabilidade_patrimonium,omitempty"`
	FeePercentage      *float64 `json:"percentual_honorarios,omitempty"`
	Quarter            string   `json:"trimestre"`
	Year               int      `json:"ano"`
	TaxRegime          string   `json:"regime_tributario"`
	Value              float64  `json:"valor"`
	FilingDate         string   `json:"data_lancamento_rfb,omitempty"`
}

// ClaimTotals is the settlement-derived state of a claim.
type ClaimTotals struct {
	SettledTotal float64 `json:"total_baixado"`
	Balance      float64 `json:"saldo"`
	IsClosed     bool    `json:"baixado"`
}

// ClaimFees is the firm's fee view over a claim.
type ClaimFees struct {
	FeeTotal   float64 `json:"honorarios_totais"`
	FeeSettled float64 `json:"honorarios_recebidos"`
	FeePending float64 `json:"honorarios_a_receber"`
}

// SettledTotal sums every settlement value; an empty history sums to 0.
func (c *Claim) SettledTotal() float64 {
	var total float64
	for _, s := range c.Settlements {
		total += s.Value
	}
	return total
}

// Totals computes settled total, outstanding balance and closed status.
func (c *Claim) Totals() ClaimTotals {
	settled := c.SettledTotal()
	balance := c.Value - settled
	return ClaimTotals{
		SettledTotal: settled,
		Balance:      balance,
		IsClosed:     balance <= ClosedTolerance,
	}
}

// FeeRatio is the fee percentage as a fraction. A zero percentage falls
// back to the default, matching how contracts without a rate are billed.
func (c *Claim) FeeRatio() float64 {
	p := c.FeePercentage
	if p == 0 {
		p = DefaultFeePercentage
	}
	return p / 100
}

// Fees applies the fee ratio to the claim value and to the settled total.
func (c *Claim) Fees() ClaimFees {
	ratio := c.FeeRatio()
	total := c.Value * ratio
	settled := c.SettledTotal() * ratio
	return ClaimFees{
		FeeTotal:   total,
		FeeSettled: settled,
		FeePending: total - settled,
	}
}

// FindSettlement returns the settlement with exactly this value and date.
func (c *Claim) FindSettlement(value float64, date string) *Settlement {
	for i := range c.Settlements {
		if c.Settlements[i].Value == value && c.Settlements[i].Date == date {
			return &c.Settlements[i]
		}
	}
	return nil
}

// PeriodLabel is "<quarter> <year>", e.g. "1º TRIM 2023".
func (c *Claim) PeriodLabel() string {
	return fmt.Sprintf("%s %d", c.Quarter, c.Year)
}

// ClaimView is the denormalized read model: the claim joined with its
// client at read time plus the derived totals and fees. Client is nil
// when the referenced client no longer exists.
type ClaimView struct {
	Claim
	Client *Client     `json:"cliente,omitempty"`
	Totals ClaimTotals `json:"totais"`
	Fees   ClaimFees   `json:"honorarios"`
}

// NewClaimView builds the read model for a claim.
func NewClaimView(c Claim, client *Client) ClaimView {
	return ClaimView{
		Claim:  c,
		Client: client,
		Totals: c.Totals(),
		Fees:   c.Fees(),
	}
}

// ============================================================
// Datas
// ============================================================

// ParseDate validates a calendar date and returns it as YYYY-MM-DD.
// Brazilian DD/MM/YYYY input is accepted as well.
func ParseDate(field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{DateLayout, "02/01/2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(DateLayout), nil
		}
	}
	return "", &ErrValidation{Field: field, Message: fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", raw)}
}
