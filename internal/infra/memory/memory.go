// Package memory provides an in-process RecordStore used for development
// runs and tests. Data lives only as long as the process.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/patrimonium/ressarcimentos/internal/domain"
)

// Store is a thread-safe in-memory RecordStore. Claims and settlements
// keep insertion order.
type Store struct {
	mu          sync.RWMutex
	clients     map[string]domain.Client
	byCNPJ      map[string]string
	claims      []domain.Claim
	claimIndex  map[string]int
	settlements map[string][]domain.Settlement
}

// New creates an empty store.
func New() *Store {
	s := &Store{}
	s.resetLocked()
	return s
}

// ctxErr reports a cancelled or expired context as a store failure, the way
// the database adapters surface it.
func ctxErr(op string, err error) error {
	return &domain.ErrStore{Op: "memory." + op, Err: err}
}

func (s *Store) resetLocked() {
	s.clients = make(map[string]domain.Client)
	s.byCNPJ = make(map[string]string)
	s.claims = nil
	s.claimIndex = make(map[string]int)
	s.settlements = make(map[string][]domain.Settlement)
}

// ResetAll drops every client, claim and settlement.
func (s *Store) ResetAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ctxErr("ResetAll", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	return nil
}

// ListClients returns every client ordered by name.
func (s *Store) ListClients(ctx context.Context) ([]domain.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxErr("ListClients", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetClient returns a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxErr("GetClient", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[clientID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "cliente", ID: clientID}
	}
	return &c, nil
}

// UpsertClient inserts the client or replaces the one holding the same
// CNPJ, keeping the existing ID.
func (s *Store) UpsertClient(ctx context.Context, c *domain.Client) (*domain.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxErr("UpsertClient", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *c
	stored.CNPJ = domain.NormalizeCNPJ(c.CNPJ)
	if id, ok := s.byCNPJ[stored.CNPJ]; ok {
		stored.ID = id
	}
	if stored.ID == "" {
		return nil, &domain.ErrValidation{Field: "id", Message: "client id is required"}
	}
	if prev, ok := s.clients[stored.ID]; ok && prev.CNPJ != stored.CNPJ {
		delete(s.byCNPJ, prev.CNPJ)
	}
	s.clients[stored.ID] = stored
	s.byCNPJ[stored.CNPJ] = stored.ID
	return &stored, nil
}

// ListClaims returns claims in insertion order with their settlements.
// An empty clientID lists every claim.
func (s *Store) ListClaims(ctx context.Context, clientID string) ([]domain.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxErr("ListClaims", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Claim, 0, len(s.claims))
	for _, c := range s.claims {
		if clientID != "" && c.ClientID != clientID {
			continue
		}
		out = append(out, s.withSettlementsLocked(c))
	}
	return out, nil
}

// GetClaim returns one claim with its settlements.
func (s *Store) GetClaim(ctx context.Context, claimID string) (*domain.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxErr("GetClaim", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.claimIndex[claimID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "processo", ID: claimID}
	}
	c := s.withSettlementsLocked(s.claims[i])
	return &c, nil
}

// InsertClaim stores a new claim. Settlements on the argument are ignored.
func (s *Store) InsertClaim(ctx context.Context, c *domain.Claim) error {
	if err := ctx.Err(); err != nil {
		return ctxErr("InsertClaim", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.claimIndex[c.ID]; exists {
		return &domain.ErrStore{Op: "memory.InsertClaim", Err: fmt.Errorf("claim %s already exists", c.ID)}
	}
	stored := *c
	stored.Settlements = nil
	s.claimIndex[stored.ID] = len(s.claims)
	s.claims = append(s.claims, stored)
	return nil
}

// AppendSettlement adds a settlement to its claim. A settlement with the
// same value and date on the same claim is rejected with ErrDuplicate.
func (s *Store) AppendSettlement(ctx context.Context, st *domain.Settlement) error {
	if err := ctx.Err(); err != nil {
		return ctxErr("AppendSettlement", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.claimIndex[st.ClaimID]; !ok {
		return &domain.ErrNotFound{Resource: "processo", ID: st.ClaimID}
	}
	for _, existing := range s.settlements[st.ClaimID] {
		if existing.Value == st.Value && existing.Date == st.Date {
			return &domain.ErrDuplicate{Key: fmt.Sprintf("%s/%v/%s", st.ClaimID, st.Value, st.Date)}
		}
	}
	s.settlements[st.ClaimID] = append(s.settlements[st.ClaimID], *st)
	return nil
}

func (s *Store) withSettlementsLocked(c domain.Claim) domain.Claim {
	src := s.settlements[c.ID]
	c.Settlements = make([]domain.Settlement, len(src))
	copy(c.Settlements, src)
	return c
}
