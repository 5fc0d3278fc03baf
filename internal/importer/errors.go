package importer

import (
	"context"
	"errors"

	"github.com/patrimonium/ressarcimentos/internal/domain"
)

// isStoreError reports whether err aborts the whole import. Store failures
// do; validation and lookup failures only reject the row.
func isStoreError(err error) bool {
	var se *domain.ErrStore
	return errors.As(err, &se) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
