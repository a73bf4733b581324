package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/vault-engine/internal/model"
	"github.com/atmx/vault-engine/internal/vault"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache of vault records. Records are cached in their binary account layout.
// Writes go to the primary store and invalidate the cache; reads check Redis
// first then fall back to the primary.
type CachedStore struct {
	primary   Store
	rdb       *redis.Client
	ttl       time.Duration
	programID solana.PublicKey
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration, programID solana.PublicKey) *CachedStore {
	return &CachedStore{
		primary:   primary,
		rdb:       rdb,
		ttl:       ttl,
		programID: programID,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateVault(ctx context.Context, v *vault.Vault, ev *model.Event) error {
	if err := s.primary.CreateVault(ctx, v, ev); err != nil {
		return err
	}
	s.cacheVault(ctx, v)
	return nil
}

func (s *CachedStore) ApplyVault(ctx context.Context, v *vault.Vault, ev *model.Event) error {
	// Invalidate before and after: a concurrent reader may have re-cached
	// the old record while the primary write was in flight.
	s.rdb.Del(ctx, vaultKey(v.Address()))
	if err := s.primary.ApplyVault(ctx, v, ev); err != nil {
		return err
	}
	s.rdb.Del(ctx, vaultKey(v.Address()))
	return nil
}

func (s *CachedStore) DeleteVault(ctx context.Context, addr solana.PublicKey, ev *model.Event) error {
	if err := s.primary.DeleteVault(ctx, addr, ev); err != nil {
		return err
	}
	s.rdb.Del(ctx, vaultKey(addr))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetVault(ctx context.Context, addr solana.PublicKey) (*vault.Vault, error) {
	data, err := s.rdb.Get(ctx, vaultKey(addr)).Bytes()
	if err == nil {
		if v, err := vault.Decode(data, s.programID); err == nil {
			return v, nil
		}
	}

	// Cache miss or undecodable entry: read from primary.
	v, err := s.primary.GetVault(ctx, addr)
	if err != nil {
		return nil, err
	}

	s.cacheVault(ctx, v)
	return v, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListVaults(ctx context.Context) ([]*vault.Vault, error) {
	return s.primary.ListVaults(ctx)
}

func (s *CachedStore) ListVaultsByAuthority(ctx context.Context, authority solana.PublicKey) ([]*vault.Vault, error) {
	return s.primary.ListVaultsByAuthority(ctx, authority)
}

func (s *CachedStore) GetEventsByVault(ctx context.Context, addr solana.PublicKey) ([]model.Event, error) {
	return s.primary.GetEventsByVault(ctx, addr)
}

func (s *CachedStore) GetEventsByCaller(ctx context.Context, caller solana.PublicKey) ([]model.Event, error) {
	return s.primary.GetEventsByCaller(ctx, caller)
}

// --- Cache helpers ---

func (s *CachedStore) cacheVault(ctx context.Context, v *vault.Vault) {
	if data, err := vault.Encode(v); err == nil {
		s.rdb.Set(ctx, vaultKey(v.Address()), data, s.ttl)
	}
}

func vaultKey(addr solana.PublicKey) string { return fmt.Sprintf("vault:%s", addr) }
