// Package settlement is the boundary to the external settlement system that
// custodies vault funds. The vault engine only depends on the Custodian
// interface. PostgresCustodian persists custody state; MemoryCustodian is an
// in-process implementation used for development and tests.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/atmx/vault-engine/internal/vault"
)

var (
	ErrPositionExists    = errors.New("settlement: position already open")
	ErrPositionNotFound  = errors.New("settlement: position not found")
	ErrPositionNotEmpty  = errors.New("settlement: position still holds funds")
	ErrInsufficientFunds = errors.New("settlement: insufficient funds")
)

// Position identifies a custody position. Owner is the vault's delegated
// authority; the account numbers select the margin account and sub-account
// opened for it.
type Position struct {
	Owner            solana.PublicKey `json:"owner"`
	AccountNumber    uint8            `json:"account_number"`
	SubAccountNumber uint8            `json:"sub_account_number"`
}

func (p Position) String() string {
	return fmt.Sprintf("%s/%d/%d", p.Owner, p.AccountNumber, p.SubAccountNumber)
}

// PositionOf returns the position owned by v.
func PositionOf(v *vault.Vault) Position {
	return Position{
		Owner:            v.Address(),
		AccountNumber:    v.AccountNumber,
		SubAccountNumber: v.SubAccountNumber,
	}
}

// Custodian moves funds in and out of vault positions. Every call that acts
// for a vault carries the vault's Signer, which the custodian verifies
// against the position owner.
type Custodian interface {
	// OpenPosition opens the custody position of a vault.
	OpenPosition(ctx context.Context, pos Position, signer vault.Signer) error

	// Deposit moves amount of mint from source into the position.
	Deposit(ctx context.Context, pos Position, mint, source solana.PublicKey, amount uint64, signer vault.Signer) error

	// Withdraw moves amount of mint from the position to destination.
	Withdraw(ctx context.Context, pos Position, mint, destination solana.PublicKey, amount uint64, signer vault.Signer) error

	// ClosePosition releases an empty position.
	ClosePosition(ctx context.Context, pos Position, signer vault.Signer) error

	// Balance returns the position's holdings of mint.
	Balance(ctx context.Context, pos Position, mint solana.PublicKey) (uint64, error)
}

// Funder credits depositor wallets from outside the vault system. It backs
// the development faucet.
type Funder interface {
	Credit(ctx context.Context, owner, mint solana.PublicKey, amount uint64) error
}
