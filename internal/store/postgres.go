package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/vault-engine/internal/model"
	"github.com/atmx/vault-engine/internal/vault"
)

//go:embed schema.sql
var schema string

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Vault records are stored in their fixed binary layout; u64 amounts in
// the event log are stored as NUMERIC(20, 0) since BIGINT is signed.
type PostgresStore struct {
	pool      *pgxpool.Pool
	programID solana.PublicKey
}

// NewPostgresStore creates a new PostgreSQL-backed store. Records are
// decoded against programID.
func NewPostgresStore(pool *pgxpool.Pool, programID solana.PublicKey) *PostgresStore {
	return &PostgresStore{pool: pool, programID: programID}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) CreateVault(ctx context.Context, v *vault.Vault, ev *model.Event) error {
	data, err := vault.Encode(v)
	if err != nil {
		return err
	}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO vaults (address, authority, vault_id, vault_type, data, created_at, updated_at)
			 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, $6)`,
			v.Address().String(), v.Authority.String(), strconv.FormatUint(v.ID, 10),
			v.Type.String(), data, ev.Timestamp,
		)
		if err != nil {
			return err
		}
		return insertEvent(ctx, tx, ev)
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: authority %s id %d", ErrConflict, v.Authority, v.ID)
	}
	return err
}

func (s *PostgresStore) GetVault(ctx context.Context, addr solana.PublicKey) (*vault.Vault, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM vaults WHERE address = $1`, addr.String()).
		Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("get vault %s: %w", addr, err)
	}
	return vault.Decode(data, s.programID)
}

func (s *PostgresStore) ListVaults(ctx context.Context) ([]*vault.Vault, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM vaults ORDER BY authority, vault_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanVaults(rows)
}

func (s *PostgresStore) ListVaultsByAuthority(ctx context.Context, authority solana.PublicKey) ([]*vault.Vault, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM vaults WHERE authority = $1 ORDER BY vault_id`, authority.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanVaults(rows)
}

func (s *PostgresStore) ApplyVault(ctx context.Context, v *vault.Vault, ev *model.Event) error {
	data, err := vault.Encode(v)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE vaults SET data = $2, updated_at = $3 WHERE address = $1`,
			v.Address().String(), data, ev.Timestamp,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, v.Address())
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) DeleteVault(ctx context.Context, addr solana.PublicKey, ev *model.Event) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM vaults WHERE address = $1`, addr.String())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) GetEventsByVault(ctx context.Context, addr solana.PublicKey) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, vault, op, caller, token_mint,
		        amount::TEXT, lp_amount::TEXT, deposits::TEXT, supply::TEXT, timestamp
		 FROM vault_events WHERE vault = $1 ORDER BY timestamp`, addr.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) GetEventsByCaller(ctx context.Context, caller solana.PublicKey) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, vault, op, caller, token_mint,
		        amount::TEXT, lp_amount::TEXT, deposits::TEXT, supply::TEXT, timestamp
		 FROM vault_events WHERE caller = $1 ORDER BY timestamp`, caller.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func insertEvent(ctx context.Context, tx pgx.Tx, e *model.Event) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO vault_events (id, vault, op, caller, token_mint, amount, lp_amount, deposits, supply, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		e.ID, e.Vault, e.Op, e.Caller, e.TokenMint,
		strconv.FormatUint(e.Amount, 10), strconv.FormatUint(e.LPAmount, 10),
		strconv.FormatUint(e.Deposits, 10), strconv.FormatUint(e.Supply, 10),
		e.Timestamp,
	)
	return err
}

// pgxRows is the subset of pgx.Rows the scanners need.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func (s *PostgresStore) scanVaults(rows pgxRows) ([]*vault.Vault, error) {
	var vaults []*vault.Vault
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		v, err := vault.Decode(data, s.programID)
		if err != nil {
			return nil, err
		}
		vaults = append(vaults, v)
	}
	return vaults, rows.Err()
}

func scanEvents(rows pgxRows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var e model.Event
		var amount, lpAmount, deposits, supply string

		if err := rows.Scan(&e.ID, &e.Vault, &e.Op, &e.Caller, &e.TokenMint,
			&amount, &lpAmount, &deposits, &supply, &e.Timestamp); err != nil {
			return nil, err
		}

		var err error
		if e.Amount, err = strconv.ParseUint(amount, 10, 64); err != nil {
			return nil, fmt.Errorf("event %s amount: %w", e.ID, err)
		}
		if e.LPAmount, err = strconv.ParseUint(lpAmount, 10, 64); err != nil {
			return nil, fmt.Errorf("event %s lp_amount: %w", e.ID, err)
		}
		if e.Deposits, err = strconv.ParseUint(deposits, 10, 64); err != nil {
			return nil, fmt.Errorf("event %s deposits: %w", e.ID, err)
		}
		if e.Supply, err = strconv.ParseUint(supply, 10, 64); err != nil {
			return nil, fmt.Errorf("event %s supply: %w", e.ID, err)
		}

		events = append(events, e)
	}
	return events, rows.Err()
}
