package token

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

	"github.com/atmx/vault-engine/internal/vault"
)

//go:embed schema.sql
var schema string

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

var _ Program = (*PostgresProgram)(nil)

// PostgresProgram implements Program on PostgreSQL. LP mints, balances and
// the rent ledger survive restarts.
type PostgresProgram struct {
	pool      *pgxpool.Pool
	programID solana.PublicKey
}

// NewPostgresProgram creates a token program that trusts delegated signers
// derived under programID.
func NewPostgresProgram(pool *pgxpool.Pool, programID solana.PublicKey) *PostgresProgram {
	return &PostgresProgram{pool: pool, programID: programID}
}

// EnsureSchema creates the token tables if they do not exist.
func (p *PostgresProgram) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	return err
}

func (p *PostgresProgram) CreateMint(ctx context.Context, mint solana.PublicKey, decimals uint8, authority solana.PublicKey) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO lp_mints (mint, decimals, authority, rent) VALUES ($1, $2, $3, $4::NUMERIC)`,
		mint.String(), int16(decimals), authority.String(),
		strconv.FormatUint(vault.RentExempt(MintAccountSize), 10))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrMintExists, mint)
	}
	return err
}

func (p *PostgresProgram) MintTo(ctx context.Context, mint, owner solana.PublicKey, amount uint64, signer vault.Signer) error {
	return p.tx(ctx, func(tx pgx.Tx) error {
		if _, err := p.authorized(ctx, tx, mint, signer); err != nil {
			return err
		}
		n := strconv.FormatUint(amount, 10)
		if _, err := tx.Exec(ctx,
			`UPDATE lp_mints SET supply = supply + $2::NUMERIC WHERE mint = $1`,
			mint.String(), n); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO lp_balances (mint, owner, amount) VALUES ($1, $2, $3::NUMERIC)
			 ON CONFLICT (mint, owner) DO UPDATE SET amount = lp_balances.amount + EXCLUDED.amount`,
			mint.String(), owner.String(), n)
		return err
	})
}

func (p *PostgresProgram) Burn(ctx context.Context, mint, owner solana.PublicKey, amount uint64, signer vault.Signer) error {
	return p.tx(ctx, func(tx pgx.Tx) error {
		if _, err := p.authorized(ctx, tx, mint, signer); err != nil {
			return err
		}
		n := strconv.FormatUint(amount, 10)
		tag, err := tx.Exec(ctx,
			`UPDATE lp_balances SET amount = amount - $3::NUMERIC
			 WHERE mint = $1 AND owner = $2 AND amount >= $3::NUMERIC`,
			mint.String(), owner.String(), n)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 && amount > 0 {
			return fmt.Errorf("%w: %s holds less than %d", ErrInsufficientBalance, owner, amount)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM lp_balances WHERE mint = $1 AND owner = $2 AND amount = 0`,
			mint.String(), owner.String()); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE lp_mints SET supply = supply - $2::NUMERIC WHERE mint = $1`,
			mint.String(), n)
		return err
	})
}

func (p *PostgresProgram) CloseMint(ctx context.Context, mint, destination solana.PublicKey, signer vault.Signer) (uint64, error) {
	var rent uint64
	err := p.tx(ctx, func(tx pgx.Tx) error {
		supply, err := p.authorized(ctx, tx, mint, signer)
		if err != nil {
			return err
		}
		if supply != 0 {
			return fmt.Errorf("%w: %s has %d", ErrMintHasSupply, mint, supply)
		}
		var s string
		if err := tx.QueryRow(ctx,
			`DELETE FROM lp_mints WHERE mint = $1 RETURNING rent::TEXT`, mint.String()).Scan(&s); err != nil {
			return err
		}
		if rent, err = strconv.ParseUint(s, 10, 64); err != nil {
			return err
		}
		return creditRent(ctx, tx, destination, rent)
	})
	if err != nil {
		return 0, err
	}
	return rent, nil
}

func (p *PostgresProgram) Balance(ctx context.Context, mint, owner solana.PublicKey) (uint64, error) {
	var amount string
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT amount::TEXT FROM lp_balances WHERE mint = $1 AND owner = $2), '0')
		 FROM lp_mints WHERE mint = $1`,
		mint.String(), owner.String()).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrMintNotFound, mint)
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(amount, 10, 64)
}

func (p *PostgresProgram) Supply(ctx context.Context, mint solana.PublicKey) (uint64, error) {
	var supply string
	err := p.pool.QueryRow(ctx,
		`SELECT supply::TEXT FROM lp_mints WHERE mint = $1`, mint.String()).Scan(&supply)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrMintNotFound, mint)
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(supply, 10, 64)
}

func (p *PostgresProgram) CreditRent(ctx context.Context, destination solana.PublicKey, lamports uint64) error {
	return p.tx(ctx, func(tx pgx.Tx) error {
		return creditRent(ctx, tx, destination, lamports)
	})
}

func (p *PostgresProgram) DebitRent(ctx context.Context, destination solana.PublicKey, lamports uint64) error {
	return p.tx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE rent_ledger SET lamports = lamports - $2::NUMERIC
			 WHERE owner = $1 AND lamports >= $2::NUMERIC`,
			destination.String(), strconv.FormatUint(lamports, 10))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 && lamports > 0 {
			return fmt.Errorf("%w: %s holds less than %d lamports", ErrInsufficientBalance, destination, lamports)
		}
		_, err = tx.Exec(ctx, `DELETE FROM rent_ledger WHERE owner = $1 AND lamports = 0`, destination.String())
		return err
	})
}

// Lamports returns the rent credited to destination.
func (p *PostgresProgram) Lamports(ctx context.Context, destination solana.PublicKey) (uint64, error) {
	var lamports string
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT lamports::TEXT FROM rent_ledger WHERE owner = $1), '0')`,
		destination.String()).Scan(&lamports)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(lamports, 10, 64)
}

// authorized locks mint and returns its supply if signer proves its
// authority.
func (p *PostgresProgram) authorized(ctx context.Context, tx pgx.Tx, mint solana.PublicKey, signer vault.Signer) (uint64, error) {
	var authority, supply string
	err := tx.QueryRow(ctx,
		`SELECT authority, supply::TEXT FROM lp_mints WHERE mint = $1 FOR UPDATE`,
		mint.String()).Scan(&authority, &supply)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrMintNotFound, mint)
	}
	if err != nil {
		return 0, err
	}
	key, err := solana.PublicKeyFromBase58(authority)
	if err != nil {
		return 0, fmt.Errorf("mint %s authority: %w", mint, err)
	}
	if err := vault.VerifySigner(p.programID, signer, key); err != nil {
		return 0, err
	}
	return strconv.ParseUint(supply, 10, 64)
}

// tx runs fn in a transaction. A u64 range violation maps to
// vault.ErrMathOverflow.
func (p *PostgresProgram) tx(ctx context.Context, fn func(pgx.Tx) error) error {
	err := pgx.BeginFunc(ctx, p.pool, fn)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == checkViolation {
		return fmt.Errorf("%w: %s", vault.ErrMathOverflow, pgErr.ConstraintName)
	}
	return err
}

func creditRent(ctx context.Context, tx pgx.Tx, destination solana.PublicKey, lamports uint64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO rent_ledger (owner, lamports) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (owner) DO UPDATE SET lamports = rent_ledger.lamports + EXCLUDED.lamports`,
		destination.String(), strconv.FormatUint(lamports, 10))
	return err
}
