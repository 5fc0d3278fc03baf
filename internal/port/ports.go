// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/patrimonium/ressarcimentos/internal/domain"
)

// RecordStore is the key-addressed persistence for clients, claims and
// settlements. Claims hold only a client ID; the service joins them.
// Implemented by the memory, SQLite, PostgreSQL and Supabase adapters.
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=ports.go
type RecordStore interface {
	// ResetAll wipes every client, claim and settlement, all or nothing.
	ResetAll(ctx context.Context) error

	// Clients
	ListClients(ctx context.Context) ([]domain.Client, error)
	GetClient(ctx context.Context, clientID string) (*domain.Client, error)
	// UpsertClient stores c, replacing any client with the same CNPJ.
	// The replaced client's ID is kept and returned.
	UpsertClient(ctx context.Context, c *domain.Client) (*domain.Client, error)

	// Claims. ListClaims with an empty clientID returns every claim.
	// Returned claims carry their settlements.
	ListClaims(ctx context.Context, clientID string) ([]domain.Claim, error)
	GetClaim(ctx context.Context, claimID string) (*domain.Claim, error)
	InsertClaim(ctx context.Context, c *domain.Claim) error

	// AppendSettlement adds s to its claim. Stores that enforce the
	// (claim, value, date) uniqueness report a clash as *domain.ErrDuplicate.
	AppendSettlement(ctx context.Context, s *domain.Settlement) error
}
