// Package postgres provides a PostgreSQL RecordStore on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/patrimonium/ressarcimentos/internal/domain"
)

const uniqueViolation = "23505"

const settlementUniqueIndex = "settlements_unique_value_date"

const schema = `
CREATE TABLE IF NOT EXISTS clients (
	id TEXT PRIMARY KEY,
	razao_social TEXT NOT NULL,
	cnpj TEXT NOT NULL UNIQUE,
	contrato_inicio TEXT NOT NULL DEFAULT '',
	percentual_honorarios DOUBLE PRECISION NOT NULL DEFAULT 10
);

CREATE TABLE IF NOT EXISTS claims (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	cliente_id TEXT NOT NULL,
	tipo_processo TEXT NOT NULL,
	responsabilidade_patrimonium BOOLEAN NOT NULL DEFAULT TRUE,
	percentual_honorarios DOUBLE PRECISION NOT NULL DEFAULT 10,
	trimestre TEXT NOT NULL,
	ano INTEGER NOT NULL,
	regime_tributario TEXT NOT NULL,
	valor DOUBLE PRECISION NOT NULL,
	data_lancamento_rfb TEXT NOT NULL DEFAULT '',
	data_criacao TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_cliente ON claims(cliente_id);

CREATE TABLE IF NOT EXISTS settlements (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	processo_id TEXT NOT NULL REFERENCES claims(id) ON DELETE CASCADE,
	tipo TEXT NOT NULL,
	tributo_compensado TEXT NOT NULL DEFAULT '',
	valor DOUBLE PRECISION NOT NULL,
	data_baixa TEXT NOT NULL,
	CONSTRAINT settlements_unique_value_date UNIQUE (processo_id, valor, data_baixa)
);
`

// Store implements port.RecordStore on PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// Connect opens a pool for databaseURL and migrates the schema.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pgConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	pgConfig.MaxConns = 20
	pgConfig.MinConns = 2
	pgConfig.MaxConnLifetime = 30 * time.Minute
	pgConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// New wraps an existing pool.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

// Close releases the pool.
func (s *Store) Close() {
	s.db.Close()
}

// Ping checks the pool for /readyz.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// ResetAll deletes every row in one transaction.
func (s *Store) ResetAll(ctx context.Context) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "TRUNCATE settlements, claims, clients RESTART IDENTITY")
		return err
	})
	if err != nil {
		return storeErr("ResetAll", err)
	}
	return nil
}

// ListClients returns every client ordered by name.
func (s *Store) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := s.db.Query(ctx, `
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
	var c domain.Client
	err := s.db.QueryRow(ctx,
		"SELECT id, razao_social, cnpj, contrato_inicio, percentual_honorarios FROM clients WHERE id = $1",
		clientID,
	).Scan(&c.ID, &c.Name, &c.CNPJ, &c.ContractStart, &c.FeePercentage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.ErrNotFound{Resource: "cliente", ID: clientID}
		}
		return nil, storeErr("GetClient", err)
	}
	return &c, nil
}

// UpsertClient inserts the client or replaces the row with the same CNPJ,
// keeping its id.
func (s *Store) UpsertClient(ctx context.Context, c *domain.Client) (*domain.Client, error) {
	stored := *c
	stored.CNPJ = domain.NormalizeCNPJ(c.CNPJ)

	err := s.db.QueryRow(ctx, `
		INSERT INTO clients (id, razao_social, cnpj, contrato_inicio, percentual_honorarios)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cnpj) DO UPDATE SET
			razao_social = EXCLUDED.razao_social,
			contrato_inicio = EXCLUDED.contrato_inicio,
			percentual_honorarios = EXCLUDED.percentual_honorarios
		RETURNING id
	`, stored.ID, stored.Name, stored.CNPJ, stored.ContractStart, stored.FeePercentage).Scan(&stored.ID)
	if err != nil {
		return nil, storeErr("UpsertClient", err)
	}
	return &stored, nil
}

const claimColumns = `id, cliente_id, tipo_processo, responsabilidade_patrimonium, percentual_honorarios,
	trimestre, ano, regime_tributario, valor, data_lancamento_rfb, data_criacao`

// ListClaims returns claims in insertion order with their settlements.
// An empty clientID lists every claim.
func (s *Store) ListClaims(ctx context.Context, clientID string) ([]domain.Claim, error) {
	claimQuery := "SELECT " + claimColumns + " FROM claims WHERE ($1::text = '' OR cliente_id = $1) ORDER BY seq"
	claims, err := s.queryClaims(ctx, claimQuery, clientID)
	if err != nil {
		return nil, storeErr("ListClaims", err)
	}

	settlements, err := s.querySettlements(ctx, `
		SELECT s.id, s.processo_id, s.tipo, s.tributo_compensado, s.valor, s.data_baixa
		FROM settlements s
		JOIN claims c ON c.id = s.processo_id
		WHERE ($1::text = '' OR c.cliente_id = $1)
		ORDER BY s.seq
	`, clientID)
	if err != nil {
		return nil, storeErr("ListClaims", err)
	}
	attachSettlements(claims, settlements)
	return claims, nil
}

// GetClaim returns one claim with its settlements.
func (s *Store) GetClaim(ctx context.Context, claimID string) (*domain.Claim, error) {
	claims, err := s.queryClaims(ctx, "SELECT "+claimColumns+" FROM claims WHERE id = $1", claimID)
	if err != nil {
		return nil, storeErr("GetClaim", err)
	}
	if len(claims) == 0 {
		return nil, &domain.ErrNotFound{Resource: "processo", ID: claimID}
	}
	settlements, err := s.querySettlements(ctx, `
		SELECT id, processo_id, tipo, tributo_compensado, valor, data_baixa
		FROM settlements WHERE processo_id = $1 ORDER BY seq
	`, claimID)
	if err != nil {
		return nil, storeErr("GetClaim", err)
	}
	attachSettlements(claims, settlements)
	return &claims[0], nil
}

// InsertClaim stores a new claim. Settlements on the argument are ignored.
func (s *Store) InsertClaim(ctx context.Context, c *domain.Claim) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO claims (`+claimColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		c.ID, c.ClientID, c.CaseType, c.FirmResponsibility, c.FeePercentage,
		string(c.Quarter), c.Year, string(c.TaxRegime), c.Value, c.FilingDate, c.CreatedAt,
	)
	if err != nil {
		return storeErr("InsertClaim", err)
	}
	return nil
}

// AppendSettlement inserts a settlement. The unique constraint on
// (processo_id, valor, data_baixa) maps to ErrDuplicate.
func (s *Store) AppendSettlement(ctx context.Context, st *domain.Settlement) error {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO settlements (id, processo_id, tipo, tributo_compensado, valor, data_baixa)
		SELECT $1::text, $2::text, $3::text, $4::text, $5::double precision, $6::text
		WHERE EXISTS (SELECT 1 FROM claims WHERE id = $2::text)
	`, st.ID, st.ClaimID, string(st.Kind), st.OffsetTaxType, st.Value, st.Date)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == settlementUniqueIndex {
			return &domain.ErrDuplicate{Key: fmt.Sprintf("%s/%v/%s", st.ClaimID, st.Value, st.Date)}
		}
		return storeErr("AppendSettlement", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrNotFound{Resource: "processo", ID: st.ClaimID}
	}
	return nil
}

func (s *Store) queryClaims(ctx context.Context, query string, args ...any) ([]domain.Claim, error) {
	rows, err := s.db.Query(ctx, query, args...)
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
	rows, err := s.db.Query(ctx, query, args...)
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
	return &domain.ErrStore{Op: "postgres." + op, Err: err}
}
