// Package token is the boundary to the fungible token primitives the vault
// uses for its LP tokens. Mint authority over every LP mint is the vault's
// delegated authority, so each mutating call carries the vault Signer.
package token

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/atmx/vault-engine/internal/vault"
)

// MintAccountSize is the size of a mint account; its rent is held by the
// mint until it is closed.
const MintAccountSize = 82

var (
	ErrMintExists          = errors.New("token: mint already exists")
	ErrMintNotFound        = errors.New("token: mint not found")
	ErrMintHasSupply       = errors.New("token: mint has outstanding supply")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
)

// Program is the token interface the vault engine depends on.
type Program interface {
	// CreateMint creates mint with the given decimals and mint authority.
	CreateMint(ctx context.Context, mint solana.PublicKey, decimals uint8, authority solana.PublicKey) error

	// MintTo mints amount to owner. signer must prove the mint authority.
	MintTo(ctx context.Context, mint, owner solana.PublicKey, amount uint64, signer vault.Signer) error

	// Burn burns amount from owner. signer must prove the mint authority.
	Burn(ctx context.Context, mint, owner solana.PublicKey, amount uint64, signer vault.Signer) error

	// CloseMint closes a mint without supply and returns the rent credited
	// to destination.
	CloseMint(ctx context.Context, mint, destination solana.PublicKey, signer vault.Signer) (uint64, error)

	Balance(ctx context.Context, mint, owner solana.PublicKey) (uint64, error)
	Supply(ctx context.Context, mint solana.PublicKey) (uint64, error)

	// CreditRent credits lamports reclaimed from a closed account to
	// destination. DebitRent takes back a credit that must be undone.
	CreditRent(ctx context.Context, destination solana.PublicKey, lamports uint64) error
	DebitRent(ctx context.Context, destination solana.PublicKey, lamports uint64) error
}
