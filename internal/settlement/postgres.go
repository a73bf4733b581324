package settlement

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

var (
	_ Custodian = (*PostgresCustodian)(nil)
	_ Funder    = (*PostgresCustodian)(nil)
)

// PostgresCustodian implements Custodian and Funder on PostgreSQL, so
// positions and wallet balances survive restarts. Amounts are stored as
// NUMERIC(20, 0) bounded to the u64 range.
type PostgresCustodian struct {
	pool      *pgxpool.Pool
	programID solana.PublicKey
}

// NewPostgresCustodian creates a custodian that trusts delegated signers
// derived under programID.
func NewPostgresCustodian(pool *pgxpool.Pool, programID solana.PublicKey) *PostgresCustodian {
	return &PostgresCustodian{pool: pool, programID: programID}
}

// EnsureSchema creates the custody tables if they do not exist.
func (c *PostgresCustodian) EnsureSchema(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, schema)
	return err
}

func (c *PostgresCustodian) Credit(ctx context.Context, owner, mint solana.PublicKey, amount uint64) error {
	return c.tx(ctx, func(tx pgx.Tx) error {
		return creditWallet(ctx, tx, owner, mint, amount)
	})
}

func (c *PostgresCustodian) OpenPosition(ctx context.Context, pos Position, signer vault.Signer) error {
	if err := vault.VerifySigner(c.programID, signer, pos.Owner); err != nil {
		return err
	}
	_, err := c.pool.Exec(ctx,
		`INSERT INTO custody_positions (owner, account_number, sub_account_number) VALUES ($1, $2, $3)`,
		positionArgs(pos)...)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrPositionExists, pos)
	}
	return err
}

func (c *PostgresCustodian) Deposit(ctx context.Context, pos Position, mint, source solana.PublicKey, amount uint64, signer vault.Signer) error {
	if err := vault.VerifySigner(c.programID, signer, pos.Owner); err != nil {
		return err
	}
	return c.tx(ctx, func(tx pgx.Tx) error {
		if err := lockPosition(ctx, tx, pos); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE custody_wallets SET amount = amount - $3::NUMERIC
			 WHERE owner = $1 AND mint = $2 AND amount >= $3::NUMERIC`,
			source.String(), mint.String(), strconv.FormatUint(amount, 10))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 && amount > 0 {
			return fmt.Errorf("%w: wallet %s holds less than %d of %s", ErrInsufficientFunds, source, amount, mint)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO custody_balances (owner, account_number, sub_account_number, mint, amount)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC)
			 ON CONFLICT (owner, account_number, sub_account_number, mint)
			 DO UPDATE SET amount = custody_balances.amount + EXCLUDED.amount`,
			append(positionArgs(pos), mint.String(), strconv.FormatUint(amount, 10))...)
		return err
	})
}

func (c *PostgresCustodian) Withdraw(ctx context.Context, pos Position, mint, destination solana.PublicKey, amount uint64, signer vault.Signer) error {
	if err := vault.VerifySigner(c.programID, signer, pos.Owner); err != nil {
		return err
	}
	return c.tx(ctx, func(tx pgx.Tx) error {
		if err := lockPosition(ctx, tx, pos); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE custody_balances SET amount = amount - $5::NUMERIC
			 WHERE owner = $1 AND account_number = $2 AND sub_account_number = $3
			   AND mint = $4 AND amount >= $5::NUMERIC`,
			append(positionArgs(pos), mint.String(), strconv.FormatUint(amount, 10))...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 && amount > 0 {
			return fmt.Errorf("%w: position %s holds less than %d of %s", ErrInsufficientFunds, pos, amount, mint)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM custody_balances
			 WHERE owner = $1 AND account_number = $2 AND sub_account_number = $3 AND amount = 0`,
			positionArgs(pos)...); err != nil {
			return err
		}
		return creditWallet(ctx, tx, destination, mint, amount)
	})
}

func (c *PostgresCustodian) ClosePosition(ctx context.Context, pos Position, signer vault.Signer) error {
	if err := vault.VerifySigner(c.programID, signer, pos.Owner); err != nil {
		return err
	}
	return c.tx(ctx, func(tx pgx.Tx) error {
		if err := lockPosition(ctx, tx, pos); err != nil {
			return err
		}
		var held bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM custody_balances
			 WHERE owner = $1 AND account_number = $2 AND sub_account_number = $3 AND amount > 0)`,
			positionArgs(pos)...).Scan(&held); err != nil {
			return err
		}
		if held {
			return fmt.Errorf("%w: %s", ErrPositionNotEmpty, pos)
		}
		_, err := tx.Exec(ctx,
			`DELETE FROM custody_positions WHERE owner = $1 AND account_number = $2 AND sub_account_number = $3`,
			positionArgs(pos)...)
		return err
	})
}

func (c *PostgresCustodian) Balance(ctx context.Context, pos Position, mint solana.PublicKey) (uint64, error) {
	var amount string
	err := c.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT b.amount::TEXT FROM custody_balances b
		         WHERE b.owner = p.owner AND b.account_number = p.account_number
		           AND b.sub_account_number = p.sub_account_number AND b.mint = $4), '0')
		 FROM custody_positions p
		 WHERE p.owner = $1 AND p.account_number = $2 AND p.sub_account_number = $3`,
		append(positionArgs(pos), mint.String())...).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrPositionNotFound, pos)
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(amount, 10, 64)
}

// WalletBalance returns a wallet's holdings of mint.
func (c *PostgresCustodian) WalletBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	var amount string
	err := c.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT amount::TEXT FROM custody_wallets WHERE owner = $1 AND mint = $2), '0')`,
		owner.String(), mint.String()).Scan(&amount)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(amount, 10, 64)
}

// tx runs fn in a transaction. A u64 range violation maps to
// vault.ErrMathOverflow.
func (c *PostgresCustodian) tx(ctx context.Context, fn func(pgx.Tx) error) error {
	err := pgx.BeginFunc(ctx, c.pool, fn)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == checkViolation {
		return fmt.Errorf("%w: %s", vault.ErrMathOverflow, pgErr.ConstraintName)
	}
	return err
}

func positionArgs(pos Position) []any {
	return []any{pos.Owner.String(), int16(pos.AccountNumber), int16(pos.SubAccountNumber)}
}

func lockPosition(ctx context.Context, tx pgx.Tx, pos Position) error {
	var one int
	err := tx.QueryRow(ctx,
		`SELECT 1 FROM custody_positions
		 WHERE owner = $1 AND account_number = $2 AND sub_account_number = $3 FOR UPDATE`,
		positionArgs(pos)...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, pos)
	}
	return err
}

func creditWallet(ctx context.Context, tx pgx.Tx, owner, mint solana.PublicKey, amount uint64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO custody_wallets (owner, mint, amount) VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (owner, mint) DO UPDATE SET amount = custody_wallets.amount + EXCLUDED.amount`,
		owner.String(), mint.String(), strconv.FormatUint(amount, 10))
	return err
}
