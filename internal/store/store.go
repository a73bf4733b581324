// Package store defines the persistence interface for the vault engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/atmx/vault-engine/internal/model"
	"github.com/atmx/vault-engine/internal/vault"
)

var (
	// ErrNotFound is returned when no vault exists at an address.
	ErrNotFound = errors.New("store: vault not found")

	// ErrConflict is returned when creating a vault whose address, or
	// (authority, id) pair, is already taken.
	ErrConflict = errors.New("store: vault already exists")
)

// Store is the persistence interface. Every mutation persists the vault
// record together with the event describing it, so a committed record
// never lacks its log entry.
type Store interface {
	// --- Vault records ---

	// CreateVault persists a new vault and its creation event.
	CreateVault(ctx context.Context, v *vault.Vault, ev *model.Event) error

	// GetVault retrieves a vault by its delegated authority address.
	GetVault(ctx context.Context, addr solana.PublicKey) (*vault.Vault, error)

	// ListVaults returns all vaults.
	ListVaults(ctx context.Context) ([]*vault.Vault, error)

	// ListVaultsByAuthority returns the vaults administered by authority.
	ListVaultsByAuthority(ctx context.Context, authority solana.PublicKey) ([]*vault.Vault, error)

	// ApplyVault replaces a stored vault and appends ev atomically.
	ApplyVault(ctx context.Context, v *vault.Vault, ev *model.Event) error

	// DeleteVault removes a closed vault and appends its closing event.
	DeleteVault(ctx context.Context, addr solana.PublicKey, ev *model.Event) error

	// --- Immutable event log ---

	// GetEventsByVault returns the operations applied to a vault, oldest first.
	GetEventsByVault(ctx context.Context, addr solana.PublicKey) ([]model.Event, error)

	// GetEventsByCaller returns the operations submitted by caller, oldest first.
	GetEventsByCaller(ctx context.Context, caller solana.PublicKey) ([]model.Event, error)
}
