package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/atmx/vault-engine/internal/model"
	"github.com/atmx/vault-engine/internal/vault"
)

type authorityID struct {
	authority solana.PublicKey
	id        uint64
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	vaults map[solana.PublicKey]*vault.Vault
	ids    map[authorityID]solana.PublicKey
	events []model.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vaults: make(map[solana.PublicKey]*vault.Vault),
		ids:    make(map[authorityID]solana.PublicKey),
	}
}

func (s *MemoryStore) CreateVault(_ context.Context, v *vault.Vault, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := authorityID{v.Authority, v.ID}
	if _, ok := s.ids[key]; ok {
		return fmt.Errorf("%w: authority %s id %d", ErrConflict, v.Authority, v.ID)
	}
	if _, ok := s.vaults[v.Address()]; ok {
		return fmt.Errorf("%w: %s", ErrConflict, v.Address())
	}

	// Store a copy to avoid external mutation.
	s.vaults[v.Address()] = v.Clone()
	s.ids[key] = v.Address()
	s.events = append(s.events, *ev)
	return nil
}

func (s *MemoryStore) GetVault(_ context.Context, addr solana.PublicKey) (*vault.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vaults[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	return v.Clone(), nil
}

func (s *MemoryStore) ListVaults(_ context.Context) ([]*vault.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vaults := make([]*vault.Vault, 0, len(s.vaults))
	for _, v := range s.vaults {
		vaults = append(vaults, v.Clone())
	}
	sortVaults(vaults)
	return vaults, nil
}

func (s *MemoryStore) ListVaultsByAuthority(_ context.Context, authority solana.PublicKey) ([]*vault.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var vaults []*vault.Vault
	for _, v := range s.vaults {
		if v.Authority.Equals(authority) {
			vaults = append(vaults, v.Clone())
		}
	}
	sortVaults(vaults)
	return vaults, nil
}

func (s *MemoryStore) ApplyVault(_ context.Context, v *vault.Vault, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vaults[v.Address()]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, v.Address())
	}
	s.vaults[v.Address()] = v.Clone()
	s.events = append(s.events, *ev)
	return nil
}

func (s *MemoryStore) DeleteVault(_ context.Context, addr solana.PublicKey, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vaults[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	delete(s.ids, authorityID{v.Authority, v.ID})
	delete(s.vaults, addr)
	s.events = append(s.events, *ev)
	return nil
}

func (s *MemoryStore) GetEventsByVault(_ context.Context, addr solana.PublicKey) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := addr.String()
	var result []model.Event
	for _, e := range s.events {
		if e.Vault == key {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetEventsByCaller(_ context.Context, caller solana.PublicKey) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := caller.String()
	var result []model.Event
	for _, e := range s.events {
		if e.Caller == key {
			result = append(result, e)
		}
	}
	return result, nil
}

// sortVaults orders vaults by authority then id, matching the PostgreSQL
// store's ORDER BY.
func sortVaults(vaults []*vault.Vault) {
	sort.Slice(vaults, func(i, j int) bool {
		ai, aj := vaults[i].Authority.String(), vaults[j].Authority.String()
		if ai != aj {
			return ai < aj
		}
		return vaults[i].ID < vaults[j].ID
	})
}
