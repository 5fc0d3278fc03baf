package service

import (
	"errors"
	"strings"

	"github.com/patrimonium/ressarcimentos/internal/domain"
)

// FilterClaims applies client, status and text filters to claim views.
// Search is a case-insensitive substring match on the client name or the
// case type; claims without a client can only match on case type.
func FilterClaims(views []domain.ClaimView, f domain.ClaimFilter) []domain.ClaimView {
	search := strings.ToLower(strings.TrimSpace(f.Search))

	out := make([]domain.ClaimView, 0, len(views))
	for _, v := range views {
		if f.ClientID != "" && v.ClientID != f.ClientID {
			continue
		}
		switch f.Status {
		case domain.StatusOpen:
			if v.Totals.IsClosed {
				continue
			}
		case domain.StatusSettled:
			if !v.Totals.IsClosed {
				continue
			}
		}
		if search != "" && !matchesSearch(v, search) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func matchesSearch(v domain.ClaimView, search string) bool {
	if v.Client != nil && strings.Contains(strings.ToLower(v.Client.Name), search) {
		return true
	}
	return strings.Contains(strings.ToLower(v.CaseType), search)
}

// SummarizeSettlements totals settled and outstanding amounts over views.
// Overpaid claims contribute their negative balance to TotalOpen.
func SummarizeSettlements(views []domain.ClaimView) domain.SettlementSummary {
	var sum domain.SettlementSummary
	for _, v := range views {
		sum.TotalSettled += v.Totals.SettledTotal
		sum.TotalOpen += v.Totals.Balance
		sum.Count++
	}
	return sum
}

func isNotFound(err error) bool {
	var nf *domain.ErrNotFound
	return errors.As(err, &nf)
}
