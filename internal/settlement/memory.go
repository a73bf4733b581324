package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/atmx/vault-engine/internal/vault"
)

type walletKey struct {
	owner solana.PublicKey
	mint  solana.PublicKey
}

// MemoryCustodian implements Custodian with in-memory balances. Wallet
// balances stand in for the depositors' token accounts. Not suitable for
// production (no persistence).
type MemoryCustodian struct {
	mu        sync.Mutex
	programID solana.PublicKey
	wallets   map[walletKey]uint64
	positions map[Position]map[solana.PublicKey]uint64
}

// NewMemoryCustodian creates a custodian that trusts delegated signers
// derived under programID.
func NewMemoryCustodian(programID solana.PublicKey) *MemoryCustodian {
	return &MemoryCustodian{
		programID: programID,
		wallets:   make(map[walletKey]uint64),
		positions: make(map[Position]map[solana.PublicKey]uint64),
	}
}

// Fund credits a wallet with amount of mint.
func (c *MemoryCustodian) Fund(owner, mint solana.PublicKey, amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wallets[walletKey{owner, mint}] += amount
}

func (c *MemoryCustodian) Credit(ctx context.Context, owner, mint solana.PublicKey, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	wk := walletKey{owner, mint}
	if c.wallets[wk]+amount < c.wallets[wk] {
		return fmt.Errorf("%w: wallet %s", vault.ErrMathOverflow, owner)
	}
	c.wallets[wk] += amount
	return nil
}

// WalletBalance returns a wallet's holdings of mint.
func (c *MemoryCustodian) WalletBalance(owner, mint solana.PublicKey) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wallets[walletKey{owner, mint}]
}

func (c *MemoryCustodian) OpenPosition(ctx context.Context, pos Position, signer vault.Signer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := vault.VerifySigner(c.programID, signer, pos.Owner); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.positions[pos]; ok {
		return fmt.Errorf("%w: %s", ErrPositionExists, pos)
	}
	c.positions[pos] = make(map[solana.PublicKey]uint64)
	return nil
}

// Deposit does not require the source wallet's signature: the depositor
// authorizes the transfer by submitting the request.
func (c *MemoryCustodian) Deposit(ctx context.Context, pos Position, mint, source solana.PublicKey, amount uint64, signer vault.Signer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := vault.VerifySigner(c.programID, signer, pos.Owner); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	balances, ok := c.positions[pos]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, pos)
	}
	wk := walletKey{source, mint}
	if c.wallets[wk] < amount {
		return fmt.Errorf("%w: wallet %s holds %d of %s, needs %d", ErrInsufficientFunds, source, c.wallets[wk], mint, amount)
	}
	if balances[mint]+amount < balances[mint] {
		return fmt.Errorf("%w: position balance", vault.ErrMathOverflow)
	}
	c.wallets[wk] -= amount
	balances[mint] += amount
	return nil
}

func (c *MemoryCustodian) Withdraw(ctx context.Context, pos Position, mint, destination solana.PublicKey, amount uint64, signer vault.Signer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := vault.VerifySigner(c.programID, signer, pos.Owner); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	balances, ok := c.positions[pos]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, pos)
	}
	if balances[mint] < amount {
		return fmt.Errorf("%w: position %s holds %d of %s, needs %d", ErrInsufficientFunds, pos, balances[mint], mint, amount)
	}
	balances[mint] -= amount
	if balances[mint] == 0 {
		delete(balances, mint)
	}
	c.wallets[walletKey{destination, mint}] += amount
	return nil
}

func (c *MemoryCustodian) ClosePosition(ctx context.Context, pos Position, signer vault.Signer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := vault.VerifySigner(c.programID, signer, pos.Owner); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	balances, ok := c.positions[pos]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, pos)
	}
	if len(balances) > 0 {
		return fmt.Errorf("%w: %s", ErrPositionNotEmpty, pos)
	}
	delete(c.positions, pos)
	return nil
}

func (c *MemoryCustodian) Balance(_ context.Context, pos Position, mint solana.PublicKey) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	balances, ok := c.positions[pos]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPositionNotFound, pos)
	}
	return balances[mint], nil
}
