// Package engine runs the vault lifecycle: creating vaults, opening and
// administering token lines, accepting deposits against LP tokens,
// redeeming them, and closing lines and vaults. It coordinates the store,
// the settlement custodian and the token program, and serves the HTTP API.
//
// Operations on one vault are serialized. Every guard runs before the first
// side effect; side effects that completed are reversed if a later step
// fails, and the vault record is persisted together with its event.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/atmx/vault-engine/internal/metrics"
	"github.com/atmx/vault-engine/internal/model"
	"github.com/atmx/vault-engine/internal/settlement"
	"github.com/atmx/vault-engine/internal/store"
	"github.com/atmx/vault-engine/internal/token"
	"github.com/atmx/vault-engine/internal/vault"
)

type vaultLock struct {
	mu   sync.Mutex
	refs int
}

// Service handles vault operations.
type Service struct {
	programID solana.PublicKey
	store     store.Store
	custodian settlement.Custodian
	tokens    token.Program
	wsHub     *WSHub // optional WebSocket hub for real-time broadcasts

	defaultCapacity int
	faucetLimit     uint64

	locksMu sync.Mutex
	locks   map[solana.PublicKey]*vaultLock

	now func() time.Time
}

// NewService creates a new vault service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(programID solana.PublicKey, st store.Store, custodian settlement.Custodian, tokens token.Program, hub *WSHub) *Service {
	return &Service{
		programID: programID,
		store:     st,
		custodian: custodian,
		tokens:    tokens,
		wsHub:     hub,
		locks:     make(map[solana.PublicKey]*vaultLock),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetDefaultCapacity sets the capacity of multi token vaults created
// without one. Call before serving requests.
func (s *Service) SetDefaultCapacity(n int) {
	s.defaultCapacity = n
}

// SetFaucetLimit enables the development faucet, crediting at most n units
// per request. Zero disables it. The custodian must implement
// settlement.Funder.
func (s *Service) SetFaucetLimit(n uint64) {
	s.faucetLimit = n
}

// lock serializes operations on addr and returns the unlock func.
// Entries are dropped once no operation holds or waits on them.
func (s *Service) lock(addr solana.PublicKey) func() {
	s.locksMu.Lock()
	l, ok := s.locks[addr]
	if !ok {
		l = &vaultLock{}
		s.locks[addr] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, addr)
		}
		s.locksMu.Unlock()
	}
}

// --- Parameters and results ---

// CreateVaultParams describes a new vault.
type CreateVaultParams struct {
	Authority        solana.PublicKey
	ID               uint64
	Type             vault.VaultType
	Capacity         int // MultiToken only; SingleToken vaults hold one line
	AccountNumber    uint8
	SubAccountNumber uint8

	// The only line of a SingleToken vault.
	TokenMint    solana.PublicKey
	LPDecimals   uint8
	DepositLimit uint64
}

// OpenDepositsParams describes a new token line.
type OpenDepositsParams struct {
	TokenMint    solana.PublicKey
	LPDecimals   uint8
	DepositLimit uint64
}

// DepositResult reports a committed deposit.
type DepositResult struct {
	EventID  string          `json:"event_id"`
	Minted   uint64          `json:"minted"`
	Line     vault.TokenInfo `json:"line"`
	LPMint   string          `json:"lp_mint"`
	LPAmount string          `json:"lp_ui_amount"`
}

// WithdrawResult reports a committed withdrawal.
type WithdrawResult struct {
	EventID   string          `json:"event_id"`
	Principal uint64          `json:"principal"`
	Burned    uint64          `json:"burned"`
	Line      vault.TokenInfo `json:"line"`
}

// CloseResult reports the rent returned by a close.
type CloseResult struct {
	EventID string `json:"event_id"`
	Rent    uint64 `json:"rent"`
}

// --- Lifecycle ---

// CreateVault creates a vault owned by p.Authority. For SingleToken vaults
// the only line and its LP mint are opened as well.
func (s *Service) CreateVault(ctx context.Context, p CreateVaultParams) (v *vault.Vault, err error) {
	defer s.observe(model.OpCreateVault, time.Now(), &err)

	capacity := p.Capacity
	switch {
	case p.Type == vault.SingleToken:
		capacity = 1
	case capacity == 0 && s.defaultCapacity > 0:
		capacity = s.defaultCapacity
	}
	v, err = vault.New(s.programID, p.Authority, p.ID, p.Type, capacity)
	if err != nil {
		return nil, err
	}
	v.AccountNumber = p.AccountNumber
	v.SubAccountNumber = p.SubAccountNumber

	var line *vault.TokenInfo
	switch v.Type {
	case vault.SingleToken:
		if line, err = v.OpenLine(p.TokenMint, p.LPDecimals, p.DepositLimit); err != nil {
			return nil, err
		}
	case vault.MultiToken:
		if !p.TokenMint.IsZero() {
			return nil, fmt.Errorf("%w: multi token vaults open lines with open_deposits", vault.ErrInvalidTokenMint)
		}
	}

	unlock := s.lock(v.Address())
	defer unlock()

	if _, err := s.store.GetVault(ctx, v.Address()); err == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrConflict, v.Address())
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	undo := s.newUndo(model.OpCreateVault, v)
	pos := settlement.PositionOf(v)
	if err := s.custodian.OpenPosition(ctx, pos, v.Signer()); err != nil {
		return nil, err
	}
	undo.push("close position", func(ctx context.Context) error {
		return s.custodian.ClosePosition(ctx, pos, v.Signer())
	})

	if line != nil {
		if err := s.createLPMint(ctx, v, line, undo); err != nil {
			undo.run(ctx)
			return nil, err
		}
	}

	ev := s.event(v, model.OpCreateVault, p.Authority, line)
	if err := s.store.CreateVault(ctx, v, ev); err != nil {
		undo.run(ctx)
		return nil, err
	}

	metrics.ActiveVaults.Inc()
	slog.Info("vault created",
		"vault", v.Address().String(),
		"authority", p.Authority.String(),
		"id", p.ID,
		"type", v.Type.String(),
		"capacity", v.Capacity,
	)
	s.publish(ev)
	return v, nil
}

// OpenDeposits opens a new token line on a MultiToken vault.
func (s *Service) OpenDeposits(ctx context.Context, caller, addr solana.PublicKey, p OpenDepositsParams) (line vault.TokenInfo, err error) {
	defer s.observe(model.OpOpenDeposits, time.Now(), &err)

	unlock := s.lock(addr)
	defer unlock()

	v, err := s.authorize(ctx, caller, addr)
	if err != nil {
		return line, err
	}
	next := v.Clone()
	ti, err := next.OpenDeposits(p.TokenMint, p.LPDecimals, p.DepositLimit)
	if err != nil {
		return line, err
	}
	if err := ctx.Err(); err != nil {
		return line, err
	}

	undo := s.newUndo(model.OpOpenDeposits, next)
	if err := s.createLPMint(ctx, next, ti, undo); err != nil {
		return line, err
	}

	ev := s.event(next, model.OpOpenDeposits, caller, ti)
	ev.Amount = ti.DepositLimit
	if err := s.store.ApplyVault(ctx, next, ev); err != nil {
		undo.run(ctx)
		return line, err
	}

	slog.Info("deposits opened",
		"vault", addr.String(),
		"token_mint", ti.TokenMint.String(),
		"lp_mint", ti.LPMint.String(),
		"deposit_limit", ti.DepositLimit,
	)
	s.publish(ev)
	return *ti, nil
}

// EnableDeposits resumes deposits on a line.
func (s *Service) EnableDeposits(ctx context.Context, caller, addr, mint solana.PublicKey) (vault.TokenInfo, error) {
	return s.setEnabled(ctx, caller, addr, mint, true)
}

// DisableDeposits stops deposits on a line. Withdrawals are unaffected.
func (s *Service) DisableDeposits(ctx context.Context, caller, addr, mint solana.PublicKey) (vault.TokenInfo, error) {
	return s.setEnabled(ctx, caller, addr, mint, false)
}

func (s *Service) setEnabled(ctx context.Context, caller, addr, mint solana.PublicKey, enabled bool) (line vault.TokenInfo, err error) {
	op := model.OpDisableDeposits
	if enabled {
		op = model.OpEnableDeposits
	}
	defer s.observe(op, time.Now(), &err)

	unlock := s.lock(addr)
	defer unlock()

	v, err := s.authorize(ctx, caller, addr)
	if err != nil {
		return line, err
	}
	if err := v.SetEnabled(mint, enabled); err != nil {
		return line, err
	}
	ti, _ := v.TokenInfo(mint)

	ev := s.event(v, op, caller, ti)
	if err := s.store.ApplyVault(ctx, v, ev); err != nil {
		return line, err
	}

	slog.Info("deposits toggled", "vault", addr.String(), "token_mint", mint.String(), "enabled", enabled)
	s.publish(ev)
	return *ti, nil
}

// SetDepositLimit sets the ceiling on a line's total deposits. Lowering it
// below current deposits blocks new deposits without touching balances.
func (s *Service) SetDepositLimit(ctx context.Context, caller, addr, mint solana.PublicKey, limit uint64) (line vault.TokenInfo, err error) {
	defer s.observe(model.OpSetDepositLimit, time.Now(), &err)

	unlock := s.lock(addr)
	defer unlock()

	v, err := s.authorize(ctx, caller, addr)
	if err != nil {
		return line, err
	}
	if err := v.SetDepositLimit(mint, limit); err != nil {
		return line, err
	}
	ti, _ := v.TokenInfo(mint)

	ev := s.event(v, model.OpSetDepositLimit, caller, ti)
	ev.Amount = limit
	if err := s.store.ApplyVault(ctx, v, ev); err != nil {
		return line, err
	}

	slog.Info("deposit limit set", "vault", addr.String(), "token_mint", mint.String(), "limit", limit)
	s.publish(ev)
	return *ti, nil
}

// Deposit moves amount of mint from depositor into the vault's position
// and mints LP tokens to depositor at the line's current ratio.
func (s *Service) Deposit(ctx context.Context, depositor, addr, mint solana.PublicKey, amount uint64) (res DepositResult, err error) {
	defer s.observe(model.OpDeposit, time.Now(), &err)

	unlock := s.lock(addr)
	defer unlock()

	v, err := s.store.GetVault(ctx, addr)
	if err != nil {
		return res, err
	}
	next := v.Clone()
	ti, err := next.TokenInfo(mint)
	if err != nil {
		return res, err
	}
	if err := ti.CheckDeposit(amount); err != nil {
		return res, err
	}
	minted, err := vault.MintAmount(ti, amount)
	if err != nil {
		return res, err
	}
	if minted == 0 {
		return res, fmt.Errorf("%w: %d of %s", vault.ErrZeroMintAmount, amount, mint)
	}
	if err := ti.ApplyDeposit(amount, minted); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	undo := s.newUndo(model.OpDeposit, next)
	pos := settlement.PositionOf(next)
	signer := next.Signer()

	if err := s.custodian.Deposit(ctx, pos, mint, depositor, amount, signer); err != nil {
		return res, err
	}
	undo.push("return deposit", func(ctx context.Context) error {
		return s.custodian.Withdraw(ctx, pos, mint, depositor, amount, signer)
	})

	if err := s.tokens.MintTo(ctx, ti.LPMint, depositor, minted, signer); err != nil {
		undo.run(ctx)
		return res, err
	}
	undo.push("burn minted", func(ctx context.Context) error {
		return s.tokens.Burn(ctx, ti.LPMint, depositor, minted, signer)
	})

	ev := s.event(next, model.OpDeposit, depositor, ti)
	ev.Amount, ev.LPAmount = amount, minted
	if err := s.store.ApplyVault(ctx, next, ev); err != nil {
		undo.run(ctx)
		return res, err
	}

	metrics.DepositVolume.WithLabelValues(mint.String()).Add(float64(amount))
	metrics.LPMinted.WithLabelValues(mint.String()).Add(float64(minted))
	slog.Info("deposit",
		"vault", addr.String(),
		"token_mint", mint.String(),
		"depositor", depositor.String(),
		"amount", amount,
		"minted", minted,
		"deposits", ti.Deposits,
		"token_supply", ti.TokenSupply,
	)
	s.publish(ev)

	return DepositResult{
		EventID:  ev.ID,
		Minted:   minted,
		Line:     *ti,
		LPMint:   ti.LPMint.String(),
		LPAmount: vault.UIAmount(minted, ti.LPDecimals).String(),
	}, nil
}

// Withdraw burns redeem LP tokens held by owner and returns the
// proportional principal from the vault's position.
func (s *Service) Withdraw(ctx context.Context, owner, addr, mint solana.PublicKey, redeem uint64) (res WithdrawResult, err error) {
	defer s.observe(model.OpWithdraw, time.Now(), &err)

	unlock := s.lock(addr)
	defer unlock()

	v, err := s.store.GetVault(ctx, addr)
	if err != nil {
		return res, err
	}
	next := v.Clone()
	ti, err := next.TokenInfo(mint)
	if err != nil {
		return res, err
	}
	if redeem == 0 {
		return res, vault.ErrInvalidAmount
	}
	principal, err := vault.BurnAmount(ti, redeem)
	if err != nil {
		return res, err
	}
	balance, err := s.tokens.Balance(ctx, ti.LPMint, owner)
	if err != nil {
		return res, err
	}
	if redeem > balance {
		return res, fmt.Errorf("%w: %s holds %d, redeeming %d", vault.ErrInsufficientLPBalance, owner, balance, redeem)
	}
	if principal == 0 {
		return res, fmt.Errorf("%w: %d LP of %s", vault.ErrZeroWithdrawAmount, redeem, mint)
	}
	if err := ti.ApplyWithdraw(principal, redeem); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	undo := s.newUndo(model.OpWithdraw, next)
	pos := settlement.PositionOf(next)
	signer := next.Signer()

	if err := s.tokens.Burn(ctx, ti.LPMint, owner, redeem, signer); err != nil {
		return res, err
	}
	undo.push("remint burned", func(ctx context.Context) error {
		return s.tokens.MintTo(ctx, ti.LPMint, owner, redeem, signer)
	})

	if err := s.custodian.Withdraw(ctx, pos, mint, owner, principal, signer); err != nil {
		undo.run(ctx)
		return res, err
	}
	undo.push("reclaim principal", func(ctx context.Context) error {
		return s.custodian.Deposit(ctx, pos, mint, owner, principal, signer)
	})

	ev := s.event(next, model.OpWithdraw, owner, ti)
	ev.Amount, ev.LPAmount = principal, redeem
	if err := s.store.ApplyVault(ctx, next, ev); err != nil {
		undo.run(ctx)
		return res, err
	}

	metrics.WithdrawVolume.WithLabelValues(mint.String()).Add(float64(principal))
	metrics.LPBurned.WithLabelValues(mint.String()).Add(float64(redeem))
	slog.Info("withdraw",
		"vault", addr.String(),
		"token_mint", mint.String(),
		"owner", owner.String(),
		"burned", redeem,
		"principal", principal,
		"deposits", ti.Deposits,
		"token_supply", ti.TokenSupply,
	)
	s.publish(ev)

	return WithdrawResult{EventID: ev.ID, Principal: principal, Burned: redeem, Line: *ti}, nil
}

// CloseDeposits closes a drained line and its LP mint. The mint's rent is
// credited to destination. The line keeps its slot as a closed entry.
func (s *Service) CloseDeposits(ctx context.Context, caller, addr, mint, destination solana.PublicKey) (res CloseResult, err error) {
	defer s.observe(model.OpCloseDeposits, time.Now(), &err)

	unlock := s.lock(addr)
	defer unlock()

	v, err := s.authorize(ctx, caller, addr)
	if err != nil {
		return res, err
	}
	ti, err := v.CloseLine(mint)
	if err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	undo := s.newUndo(model.OpCloseDeposits, v)
	rent, err := s.closeLPMint(ctx, v, ti, destination, undo)
	if err != nil {
		return res, err
	}

	ev := s.event(v, model.OpCloseDeposits, caller, ti)
	ev.Amount = rent
	if err := s.store.ApplyVault(ctx, v, ev); err != nil {
		undo.run(ctx)
		return res, err
	}

	slog.Info("deposits closed",
		"vault", addr.String(),
		"token_mint", mint.String(),
		"destination", destination.String(),
		"rent", rent,
	)
	s.publish(ev)
	return CloseResult{EventID: ev.ID, Rent: rent}, nil
}

// CloseVault closes a vault whose lines are all drained. Remaining LP mints
// and the settlement position are closed and the record is deleted. The rent
// of the LP mints and of the vault account is credited to destination.
func (s *Service) CloseVault(ctx context.Context, caller, addr, destination solana.PublicKey) (res CloseResult, err error) {
	defer s.observe(model.OpCloseVault, time.Now(), &err)

	unlock := s.lock(addr)
	defer unlock()

	v, err := s.authorize(ctx, caller, addr)
	if err != nil {
		return res, err
	}
	if err := v.CheckClosable(); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	undo := s.newUndo(model.OpCloseVault, v)
	var rent uint64
	for i := range v.TokenInfos {
		ti := &v.TokenInfos[i]
		if ti.Closed {
			continue
		}
		r, err := s.closeLPMint(ctx, v, ti, destination, undo)
		if err != nil {
			undo.run(ctx)
			return res, err
		}
		rent += r
	}

	pos := settlement.PositionOf(v)
	if err := s.custodian.ClosePosition(ctx, pos, v.Signer()); err != nil {
		undo.run(ctx)
		return res, err
	}
	undo.push("reopen position", func(ctx context.Context) error {
		return s.custodian.OpenPosition(ctx, pos, v.Signer())
	})

	accountRent := vault.RentExempt(vault.AccountSize(v.Capacity))
	if err := s.tokens.CreditRent(ctx, destination, accountRent); err != nil {
		undo.run(ctx)
		return res, err
	}
	undo.push("return account rent", func(ctx context.Context) error {
		return s.tokens.DebitRent(ctx, destination, accountRent)
	})
	rent += accountRent

	ev := s.event(v, model.OpCloseVault, caller, nil)
	ev.Amount = rent
	if err := s.store.DeleteVault(ctx, addr, ev); err != nil {
		undo.run(ctx)
		return res, err
	}

	metrics.ActiveVaults.Dec()
	slog.Info("vault closed",
		"vault", addr.String(),
		"destination", destination.String(),
		"rent", rent,
	)
	s.publish(ev)
	return CloseResult{EventID: ev.ID, Rent: rent}, nil
}

// --- Faucet and recovery ---

const opFaucet = "faucet"

// Fund credits owner's wallet with amount of mint from the development
// faucet.
func (s *Service) Fund(ctx context.Context, owner, mint solana.PublicKey, amount uint64) (err error) {
	defer s.observe(opFaucet, time.Now(), &err)

	funder, ok := s.custodian.(settlement.Funder)
	if !ok || s.faucetLimit == 0 {
		return ErrFaucetDisabled
	}
	if mint.IsZero() {
		return fmt.Errorf("%w: zero mint", vault.ErrInvalidTokenMint)
	}
	if amount == 0 {
		return vault.ErrInvalidAmount
	}
	if amount > s.faucetLimit {
		return fmt.Errorf("%w: %d over %d", ErrFaucetLimit, amount, s.faucetLimit)
	}
	if err := funder.Credit(ctx, owner, mint, amount); err != nil {
		return err
	}

	slog.Info("faucet credit", "owner", owner.String(), "token_mint", mint.String(), "amount", amount)
	return nil
}

// Reconcile checks that the custodian and token program back every stored
// vault: the position is open, each open line's principal is held and each
// LP mint exists with the recorded supply. It reports every mismatch.
func (s *Service) Reconcile(ctx context.Context) error {
	vaults, err := s.store.ListVaults(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, v := range vaults {
		pos := settlement.PositionOf(v)
		if _, err := s.custodian.Balance(ctx, pos, solana.PublicKey{}); err != nil {
			errs = append(errs, fmt.Errorf("%w: vault %s: %w", ErrInconsistentState, v.Address(), err))
			continue
		}
		for i := range v.TokenInfos {
			ti := &v.TokenInfos[i]
			if ti.Closed {
				continue
			}
			held, err := s.custodian.Balance(ctx, pos, ti.TokenMint)
			if err != nil {
				return err
			}
			if held < ti.Deposits {
				errs = append(errs, fmt.Errorf("%w: vault %s holds %d of %s, recorded %d",
					ErrInconsistentState, v.Address(), held, ti.TokenMint, ti.Deposits))
			}
			supply, err := s.tokens.Supply(ctx, ti.LPMint)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: vault %s: %w", ErrInconsistentState, v.Address(), err))
				continue
			}
			if supply != ti.TokenSupply {
				errs = append(errs, fmt.Errorf("%w: vault %s lp mint %s supply %d, recorded %d",
					ErrInconsistentState, v.Address(), ti.LPMint, supply, ti.TokenSupply))
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	slog.Info("custody state reconciled", "vaults", len(vaults))
	return nil
}

// --- Queries ---

// GetVault returns the vault at addr.
func (s *Service) GetVault(ctx context.Context, addr solana.PublicKey) (*vault.Vault, error) {
	return s.store.GetVault(ctx, addr)
}

// ListVaults returns all vaults, or those of authority when it is non-zero.
func (s *Service) ListVaults(ctx context.Context, authority solana.PublicKey) ([]*vault.Vault, error) {
	if authority.IsZero() {
		return s.store.ListVaults(ctx)
	}
	return s.store.ListVaultsByAuthority(ctx, authority)
}

// Events returns the operation log of a vault. The log outlives the vault.
func (s *Service) Events(ctx context.Context, addr solana.PublicKey) ([]model.Event, error) {
	return s.store.GetEventsByVault(ctx, addr)
}

// EventsByCaller returns the operations caller submitted, across vaults.
func (s *Service) EventsByCaller(ctx context.Context, caller solana.PublicKey) ([]model.Event, error) {
	return s.store.GetEventsByCaller(ctx, caller)
}

// Holdings returns owner's LP positions across all open lines.
func (s *Service) Holdings(ctx context.Context, owner solana.PublicKey) (*model.Portfolio, error) {
	vaults, err := s.store.ListVaults(ctx)
	if err != nil {
		return nil, err
	}

	p := &model.Portfolio{Owner: owner.String(), Holdings: []model.Holding{}}
	for _, v := range vaults {
		for i := range v.TokenInfos {
			ti := &v.TokenInfos[i]
			if ti.Closed || ti.TokenSupply == 0 {
				continue
			}
			bal, err := s.tokens.Balance(ctx, ti.LPMint, owner)
			if err != nil {
				return nil, fmt.Errorf("balance of %s: %w", ti.LPMint, err)
			}
			if bal == 0 {
				continue
			}
			redeemable, err := vault.BurnAmount(ti, bal)
			if err != nil {
				return nil, fmt.Errorf("redeemable %s of %s: %w", ti.LPMint, v.Address(), err)
			}
			p.Holdings = append(p.Holdings, model.Holding{
				Owner:      owner.String(),
				Vault:      v.Address().String(),
				TokenMint:  ti.TokenMint.String(),
				LPMint:     ti.LPMint.String(),
				LPBalance:  bal,
				UIBalance:  vault.UIAmount(bal, ti.LPDecimals),
				Share:      vault.ShareOf(ti, bal),
				Redeemable: redeemable,
			})
		}
	}
	return p, nil
}

// --- Helpers ---

// authorize loads the vault at addr and checks that caller administers it.
func (s *Service) authorize(ctx context.Context, caller, addr solana.PublicKey) (*vault.Vault, error) {
	v, err := s.store.GetVault(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := v.CheckAuthority(caller); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) createLPMint(ctx context.Context, v *vault.Vault, ti *vault.TokenInfo, undo *undoLog) error {
	lpMint, decimals := ti.LPMint, ti.LPDecimals
	if err := s.tokens.CreateMint(ctx, lpMint, decimals, v.Address()); err != nil {
		return err
	}
	undo.push("close lp mint", func(ctx context.Context) error {
		rent, err := s.tokens.CloseMint(ctx, lpMint, v.Authority, v.Signer())
		if err != nil {
			return err
		}
		return s.tokens.DebitRent(ctx, v.Authority, rent)
	})
	return nil
}

func (s *Service) closeLPMint(ctx context.Context, v *vault.Vault, ti *vault.TokenInfo, destination solana.PublicKey, undo *undoLog) (uint64, error) {
	lpMint, decimals := ti.LPMint, ti.LPDecimals
	rent, err := s.tokens.CloseMint(ctx, lpMint, destination, v.Signer())
	if err != nil {
		return 0, err
	}
	undo.push("recreate lp mint", func(ctx context.Context) error {
		if err := s.tokens.CreateMint(ctx, lpMint, decimals, v.Address()); err != nil {
			return err
		}
		return s.tokens.DebitRent(ctx, destination, rent)
	})
	return rent, nil
}

func (s *Service) event(v *vault.Vault, op string, caller solana.PublicKey, ti *vault.TokenInfo) *model.Event {
	ev := &model.Event{
		ID:        uuid.New().String(),
		Vault:     v.Address().String(),
		Op:        op,
		Caller:    caller.String(),
		Timestamp: s.now(),
	}
	if ti != nil {
		ev.TokenMint = ti.TokenMint.String()
		ev.Deposits = ti.Deposits
		ev.Supply = ti.TokenSupply
	}
	return ev
}

func (s *Service) publish(ev *model.Event) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(*ev)
	}
}

// observe records the outcome of an operation. Rejections log at Warn.
func (s *Service) observe(op string, start time.Time, err *error) {
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "ok"
	if *err != nil {
		class := Classify(*err)
		result = string(class)
		if class == ClassInternal {
			slog.Error("vault operation failed", "op", op, "err", *err)
		} else {
			slog.Warn("vault operation rejected", "op", op, "class", result, "err", *err)
		}
	}
	metrics.OperationsTotal.WithLabelValues(op, result).Inc()
}

// undoLog collects the reversals of completed side effects.
type undoLog struct {
	op    string
	vault string
	steps []undoStep
}

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

func (s *Service) newUndo(op string, v *vault.Vault) *undoLog {
	return &undoLog{op: op, vault: v.Address().String()}
}

func (u *undoLog) push(name string, fn func(ctx context.Context) error) {
	u.steps = append(u.steps, undoStep{name: name, fn: fn})
}

// run reverses the recorded steps, newest first. It ignores cancellation
// of ctx so a client disconnect cannot strand a half-applied operation.
func (u *undoLog) run(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		if err := step.fn(ctx); err != nil {
			metrics.Compensations.WithLabelValues(u.op, "failed").Inc()
			slog.Error("compensation failed",
				"op", u.op,
				"vault", u.vault,
				"step", step.name,
				"err", err,
			)
			continue
		}
		metrics.Compensations.WithLabelValues(u.op, "ok").Inc()
	}
}
