/*
Package sqlite provides a SQLite-backed RecordStore.

KEY TABLES:

	clients:     one row per CNPJ (unique), replaced on upsert
	claims:      reimbursement cases, referencing clients by id only
	settlements: append-only, cascade-deleted with their claim

IDEMPOTENCY:

	idx_settlements_unique_value_date rejects a second settlement with the
	same value and date on a claim. The violation surfaces as
	domain.ErrDuplicate so callers can return the existing record.

CONCURRENCY:

	A single connection serialized by sync.RWMutex. This also keeps
	":memory:" databases coherent across calls.

USAGE:

	store, err := sqlite.New("./data/ressarcimentos.db")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/patrimonium/ressarcimentos/internal/domain"
)

// Store implements port.RecordStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection for /readyz.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		razao_social TEXT NOT NULL,
		cnpj TEXT NOT NULL UNIQUE,
		contrato_inicio TEXT NOT NULL DEFAULT '',
		percentual_honorarios REAL NOT NULL DEFAULT 10
	);

	CREATE TABLE IF NOT EXISTS claims (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		cliente_id TEXT NOT NULL,
		tipo_processo TEXT NOT NULL,
		responsabilidade_patrimonium INTEGER NOT NULL DEFAULT 1,
		percentual_honorarios REAL NOT NULL DEFAULT 10,
		trimestre TEXT NOT NULL,
		ano INTEGER NOT NULL,
		regime_tributario TEXT NOT NULL,
		valor REAL NOT NULL,
		data_lancamento_rfb TEXT NOT NULL DEFAULT '',
		data_criacao TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_claims_cliente
		ON claims(cliente_id);

	CREATE TABLE IF NOT EXISTS settlements (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		processo_id TEXT NOT NULL REFERENCES claims(id) ON DELETE CASCADE,
		tipo TEXT NOT NULL,
		tributo_compensado TEXT NOT NULL DEFAULT '',
		valor REAL NOT NULL,
		data_baixa TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_settlements_unique_value_date
		ON settlements(processo_id, valor, data_baixa);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CLIENTS
// =============================================================================

// ResetAll deletes every row in one transaction.
func (s *Store) ResetAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("ResetAll", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"settlements", "claims", "clients"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return storeErr("ResetAll", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("ResetAll", err)
	}
	return nil
}

// ListClients returns every client ordered by name.
func (s *Store) ListClients(ctx context.Context) ([]domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, razao_social, cnpj, contrato_inicio, percentual_honorarios
		FROM clients
		ORDER BY razao_social, id
	`)
	if err != nil {
		return nil, storeErr("ListClients", err)
	}
	defer rows.Close()

	var clients []domain.Client
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.CNPJ, &c.ContractStart, &c.FeePercentage); err != nil {
			return nil, storeErr("ListClients", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("ListClients", err)
	}
	return clients, nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c domain.Client
	err := s.db.QueryRowContext(ctx,
		"SELECT id, razao_social, cnpj, contrato_inicio, percentual_honorarios FROM clients WHERE id = ?",
		clientID,
	).Scan(&c.ID, &c.Name, &c.CNPJ, &c.ContractStart, &c.FeePercentage)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "cliente", ID: clientID}
	}
	if err != nil {
		return nil, storeErr("GetClient", err)
	}
	return &c, nil
}

// UpsertClient inserts the client, or replaces the row holding the same
// CNPJ while keeping its id.
func (s *Store) UpsertClient(ctx context.Context, c *domain.Client) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *c
	stored.CNPJ = domain.NormalizeCNPJ(c.CNPJ)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("UpsertClient", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO clients (id, razao_social, cnpj, contrato_inicio, percentual_honorarios)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cnpj) DO UPDATE SET
			razao_social = excluded.razao_social,
			contrato_inicio = excluded.contrato_inicio,
			percentual_honorarios = excluded.percentual_honorarios
	`, stored.ID, stored.Name, stored.CNPJ, stored.ContractStart, stored.FeePercentage)
	if err != nil {
		return nil, storeErr("UpsertClient", err)
	}

	if err := tx.QueryRowContext(ctx, "SELECT id FROM clients WHERE cnpj = ?", stored.CNPJ).Scan(&stored.ID); err != nil {
		return nil, storeErr("UpsertClient", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storeErr("UpsertClient", err)
	}
	return &stored, nil
}

// =============================================================================
// CLAIMS & SETTLEMENTS
// =============================================================================

const claimColumns = `id, cliente_id, tipo_processo, responsabilidade_patrimonium, percentual_honorarios,
	trimestre, ano, regime_tributario, valor, data_lancamento_rfb, data_criacao`

// ListClaims returns claims in insertion order with their settlements.
// An empty clientID lists every claim.
func (s *Store) ListClaims(ctx context.Context, clientID string) ([]domain.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	claimQuery := "SELECT " + claimColumns + " FROM claims"
	settlementQuery := `
		SELECT s.id, s.processo_id, s.tipo, s.tributo_compensado, s.valor, s.data_baixa
		FROM settlements s`
	var args []any
	if clientID != "" {
		claimQuery += " WHERE cliente_id = ?"
		settlementQuery += " JOIN claims c ON c.id = s.processo_id WHERE c.cliente_id = ?"
		args = append(args, clientID)
	}
	claimQuery += " ORDER BY seq"
	settlementQuery += " ORDER BY s.seq"

	claims, err := s.queryClaims(ctx, claimQuery, args...)
	if err != nil {
		return nil, storeErr("ListClaims", err)
	}
	settlements, err := s.querySettlements(ctx, settlementQuery, args...)
	if err != nil {
		return nil, storeErr("ListClaims", err)
	}
	attachSettlements(claims, settlements)
	return claims, nil
}

// GetClaim returns one claim with its settlements.
func (s *Store) GetClaim(ctx context.Context, claimID string) (*domain.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	claims, err := s.queryClaims(ctx, "SELECT "+claimColumns+" FROM claims WHERE id = ?", claimID)
	if err != nil {
		return nil, storeErr("GetClaim", err)
	}
	if len(claims) == 0 {
		return nil, &domain.ErrNotFound{Resource: "processo", ID: claimID}
	}
	settlements, err := s.querySettlements(ctx, `
		SELECT id, processo_id, tipo, tributo_compensado, valor, data_baixa
		FROM settlements WHERE processo_id = ? ORDER BY seq`, claimID)
	if err != nil {
		return nil, storeErr("GetClaim", err)
	}
	attachSettlements(claims, settlements)
	return &claims[0], nil
}

// InsertClaim stores a new claim. Settlements on the argument are ignored.
func (s *Store) InsertClaim(ctx context.Context, c *domain.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO claims (`+claimColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.ClientID, c.CaseType, c.FirmResponsibility, c.FeePercentage,
		string(c.Quarter), c.Year, string(c.TaxRegime), c.Value, c.FilingDate, c.CreatedAt,
	)
	if err != nil {
		return storeErr("InsertClaim", err)
	}
	return nil
}

// AppendSettlement adds a settlement to an existing claim.
func (s *Store) AppendSettlement(ctx context.Context, st *domain.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM claims WHERE id = ?", st.ClaimID).Scan(&exists)
	if err != nil {
		return storeErr("AppendSettlement", err)
	}
	if exists == 0 {
		return &domain.ErrNotFound{Resource: "processo", ID: st.ClaimID}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settlements (id, processo_id, tipo, tributo_compensado, valor, data_baixa)
		VALUES (?, ?, ?, ?, ?, ?)
	`, st.ID, st.ClaimID, string(st.Kind), st.OffsetTaxType, st.Value, st.Date)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "settlements.processo_id") {
			return &domain.ErrDuplicate{Key: fmt.Sprintf("%s/%v/%s", st.ClaimID, st.Value, st.Date)}
		}
		return storeErr("AppendSettlement", err)
	}
	return nil
}

func (s *Store) queryClaims(ctx context.Context, query string, args ...any) ([]domain.Claim, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []domain.Claim
	for rows.Next() {
		var c domain.Claim
		var quarter, regime string
		if err := rows.Scan(
			&c.ID, &c.ClientID, &c.CaseType, &c.FirmResponsibility, &c.FeePercentage,
			&quarter, &c.Year, &regime, &c.Value, &c.FilingDate, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		c.Quarter = domain.Quarter(quarter)
		c.TaxRegime = domain.TaxRegime(regime)
		c.Settlements = []domain.Settlement{}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func (s *Store) querySettlements(ctx context.Context, query string, args ...any) ([]domain.Settlement, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Settlement
	for rows.Next() {
		var st domain.Settlement
		var kind string
		if err := rows.Scan(&st.ID, &st.ClaimID, &kind, &st.OffsetTaxType, &st.Value, &st.Date); err != nil {
			return nil, err
		}
		st.Kind = domain.SettlementKind(kind)
		out = append(out, st)
	}
	return out, rows.Err()
}

// attachSettlements distributes settlements over their claims, keeping
// the order of both slices.
func attachSettlements(claims []domain.Claim, settlements []domain.Settlement) {
	index := make(map[string]int, len(claims))
	for i := range claims {
		index[claims[i].ID] = i
	}
	for _, st := range settlements {
		if i, ok := index[st.ClaimID]; ok {
			claims[i].Settlements = append(claims[i].Settlements, st)
		}
	}
}

func storeErr(op string, err error) error {
	return &domain.ErrStore{Op: "sqlite." + op, Err: err}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
