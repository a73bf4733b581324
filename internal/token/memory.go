package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/atmx/vault-engine/internal/vault"
)

type mintState struct {
	decimals  uint8
	authority solana.PublicKey
	supply    uint64
	rent      uint64
	balances  map[solana.PublicKey]uint64
}

// MemoryProgram implements Program with in-memory mints. Used for testing
// and development.
type MemoryProgram struct {
	mu        sync.RWMutex
	programID solana.PublicKey
	mints     map[solana.PublicKey]*mintState
	lamports  map[solana.PublicKey]uint64
}

// NewMemoryProgram creates a token program that trusts delegated signers
// derived under programID.
func NewMemoryProgram(programID solana.PublicKey) *MemoryProgram {
	return &MemoryProgram{
		programID: programID,
		mints:     make(map[solana.PublicKey]*mintState),
		lamports:  make(map[solana.PublicKey]uint64),
	}
}

func (p *MemoryProgram) CreateMint(ctx context.Context, mint solana.PublicKey, decimals uint8, authority solana.PublicKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.mints[mint]; ok {
		return fmt.Errorf("%w: %s", ErrMintExists, mint)
	}
	p.mints[mint] = &mintState{
		decimals:  decimals,
		authority: authority,
		rent:      vault.RentExempt(MintAccountSize),
		balances:  make(map[solana.PublicKey]uint64),
	}
	return nil
}

// authorized returns the mint if signer proves its authority. Caller must
// hold p.mu.
func (p *MemoryProgram) authorized(mint solana.PublicKey, signer vault.Signer) (*mintState, error) {
	m, ok := p.mints[mint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMintNotFound, mint)
	}
	if err := vault.VerifySigner(p.programID, signer, m.authority); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *MemoryProgram) MintTo(ctx context.Context, mint, owner solana.PublicKey, amount uint64, signer vault.Signer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	m, err := p.authorized(mint, signer)
	if err != nil {
		return err
	}
	if m.supply+amount < m.supply {
		return fmt.Errorf("%w: supply of %s", vault.ErrMathOverflow, mint)
	}
	m.supply += amount
	m.balances[owner] += amount
	return nil
}

func (p *MemoryProgram) Burn(ctx context.Context, mint, owner solana.PublicKey, amount uint64, signer vault.Signer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	m, err := p.authorized(mint, signer)
	if err != nil {
		return err
	}
	if m.balances[owner] < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientBalance, owner, m.balances[owner], amount)
	}
	m.balances[owner] -= amount
	if m.balances[owner] == 0 {
		delete(m.balances, owner)
	}
	m.supply -= amount
	return nil
}

func (p *MemoryProgram) CloseMint(ctx context.Context, mint, destination solana.PublicKey, signer vault.Signer) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	m, err := p.authorized(mint, signer)
	if err != nil {
		return 0, err
	}
	if m.supply != 0 {
		return 0, fmt.Errorf("%w: %s has %d", ErrMintHasSupply, mint, m.supply)
	}
	delete(p.mints, mint)
	p.lamports[destination] += m.rent
	return m.rent, nil
}

func (p *MemoryProgram) Balance(_ context.Context, mint, owner solana.PublicKey) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	m, ok := p.mints[mint]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMintNotFound, mint)
	}
	return m.balances[owner], nil
}

func (p *MemoryProgram) Supply(_ context.Context, mint solana.PublicKey) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	m, ok := p.mints[mint]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMintNotFound, mint)
	}
	return m.supply, nil
}

func (p *MemoryProgram) CreditRent(ctx context.Context, destination solana.PublicKey, lamports uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lamports[destination]+lamports < p.lamports[destination] {
		return fmt.Errorf("%w: lamports of %s", vault.ErrMathOverflow, destination)
	}
	p.lamports[destination] += lamports
	return nil
}

func (p *MemoryProgram) DebitRent(ctx context.Context, destination solana.PublicKey, lamports uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lamports[destination] < lamports {
		return fmt.Errorf("%w: %s holds %d lamports, needs %d", ErrInsufficientBalance, destination, p.lamports[destination], lamports)
	}
	p.lamports[destination] -= lamports
	if p.lamports[destination] == 0 {
		delete(p.lamports, destination)
	}
	return nil
}

// Lamports returns the rent credited to destination.
func (p *MemoryProgram) Lamports(destination solana.PublicKey) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lamports[destination]
}
