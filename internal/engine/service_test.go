package engine_test

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/atmx/vault-engine/internal/engine"
	"github.com/atmx/vault-engine/internal/model"
	"github.com/atmx/vault-engine/internal/settlement"
	"github.com/atmx/vault-engine/internal/store"
	"github.com/atmx/vault-engine/internal/token"
	"github.com/atmx/vault-engine/internal/vault"
)

type testEnv struct {
	svc       *engine.Service
	store     *store.MemoryStore
	custodian *settlement.MemoryCustodian
	tokens    *token.MemoryProgram
	authority solana.PublicKey
}

// newTestEnv creates a Service over in-memory store, custodian and token
// program. Wrap hooks the store and token program before they reach the
// service.
func newTestEnv(t *testing.T, wrap ...func(store.Store, token.Program) (store.Store, token.Program)) *testEnv {
	t.Helper()
	e := &testEnv{
		store:     store.NewMemoryStore(),
		custodian: settlement.NewMemoryCustodian(vault.ProgramID),
		tokens:    token.NewMemoryProgram(vault.ProgramID),
		authority: solana.NewWallet().PublicKey(),
	}
	var st store.Store = e.store
	var tp token.Program = e.tokens
	for _, w := range wrap {
		st, tp = w(st, tp)
	}
	e.svc = engine.NewService(vault.ProgramID, st, e.custodian, tp, nil)
	return e
}

func key() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func (e *testEnv) multiVault(t *testing.T, capacity int) *vault.Vault {
	t.Helper()
	v, err := e.svc.CreateVault(context.Background(), engine.CreateVaultParams{
		Authority: e.authority,
		ID:        1,
		Type:      vault.MultiToken,
		Capacity:  capacity,
	})
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}
	return v
}

func (e *testEnv) openLine(t *testing.T, v *vault.Vault, mint solana.PublicKey) vault.TokenInfo {
	t.Helper()
	ti, err := e.svc.OpenDeposits(context.Background(), e.authority, v.Address(), engine.OpenDepositsParams{
		TokenMint:    mint,
		LPDecimals:   6,
		DepositLimit: vault.NoDepositLimit,
	})
	if err != nil {
		t.Fatalf("open deposits: %v", err)
	}
	return ti
}

func (e *testEnv) line(t *testing.T, v *vault.Vault, mint solana.PublicKey) vault.TokenInfo {
	t.Helper()
	got, err := e.store.GetVault(context.Background(), v.Address())
	if err != nil {
		t.Fatal(err)
	}
	ti, err := got.TokenInfo(mint)
	if err != nil {
		t.Fatal(err)
	}
	return *ti
}

func (e *testEnv) deposit(t *testing.T, v *vault.Vault, mint, user solana.PublicKey, amount uint64) engine.DepositResult {
	t.Helper()
	e.custodian.Fund(user, mint, amount)
	res, err := e.svc.Deposit(context.Background(), user, v.Address(), mint, amount)
	if err != nil {
		t.Fatalf("deposit %d: %v", amount, err)
	}
	return res
}

// --- Creation ---

func TestCreateVault_MultiToken(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	v := e.multiVault(t, 4)

	addr, _, err := vault.DeriveVaultAddress(vault.ProgramID, e.authority, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Address().Equals(addr) {
		t.Errorf("expected derived address %s, got %s", addr, v.Address())
	}
	if len(v.TokenInfos) != 0 || v.Capacity != 4 {
		t.Errorf("expected empty vault with capacity 4, got %d/%d", len(v.TokenInfos), v.Capacity)
	}
	if _, err := e.custodian.Balance(ctx, settlement.PositionOf(v), key()); err != nil {
		t.Errorf("expected settlement position to be open: %v", err)
	}

	_, err = e.svc.CreateVault(ctx, engine.CreateVaultParams{
		Authority: e.authority, ID: 1, Type: vault.MultiToken, Capacity: 2,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for reused id, got %v", err)
	}
}

func TestCreateVault_SingleToken(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	mint := key()

	v, err := e.svc.CreateVault(ctx, engine.CreateVaultParams{
		Authority:    e.authority,
		ID:           7,
		Type:         vault.SingleToken,
		TokenMint:    mint,
		LPDecimals:   9,
		DepositLimit: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(v.TokenInfos) != 1 || v.Capacity != 1 {
		t.Fatalf("expected exactly one line, got %d/%d", len(v.TokenInfos), v.Capacity)
	}
	ti := v.TokenInfos[0]
	if !ti.TokenMint.Equals(mint) || !ti.Enabled || ti.DepositLimit != 1000 {
		t.Errorf("unexpected line %+v", ti)
	}
	if supply, err := e.tokens.Supply(ctx, ti.LPMint); err != nil || supply != 0 {
		t.Errorf("expected empty LP mint, got %d, %v", supply, err)
	}

	_, err = e.svc.OpenDeposits(ctx, e.authority, v.Address(), engine.OpenDepositsParams{TokenMint: key()})
	if !errors.Is(err, vault.ErrInvalidVaultType) {
		t.Errorf("expected ErrInvalidVaultType, got %v", err)
	}

	_, err = e.svc.CreateVault(ctx, engine.CreateVaultParams{Authority: e.authority, ID: 8, Type: vault.SingleToken})
	if !errors.Is(err, vault.ErrInvalidTokenMint) {
		t.Errorf("expected ErrInvalidTokenMint without a mint, got %v", err)
	}
}

// --- Administration ---

func TestOpenDeposits_Guards(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	v := e.multiVault(t, 1)
	mint := key()

	_, err := e.svc.OpenDeposits(ctx, key(), v.Address(), engine.OpenDepositsParams{TokenMint: mint})
	if !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	e.openLine(t, v, mint)

	_, err = e.svc.OpenDeposits(ctx, e.authority, v.Address(), engine.OpenDepositsParams{TokenMint: mint})
	if !errors.Is(err, vault.ErrTokenAlreadyOpen) {
		t.Errorf("expected ErrTokenAlreadyOpen, got %v", err)
	}
	_, err = e.svc.OpenDeposits(ctx, e.authority, v.Address(), engine.OpenDepositsParams{TokenMint: key()})
	if !errors.Is(err, vault.ErrNoCapacity) {
		t.Errorf("expected ErrNoCapacity, got %v", err)
	}
}

func TestDisableEnable_IsIdentity(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	v := e.multiVault(t, 2)
	mint := key()
	e.openLine(t, v, mint)
	e.deposit(t, v, mint, key(), 500)

	before, _ := e.store.GetVault(ctx, v.Address())

	if _, err := e.svc.DisableDeposits(ctx, e.authority, v.Address(), mint); err != nil {
		t.Fatal(err)
	}
	e.custodian.Fund(e.authority, mint, 10)
	if _, err := e.svc.Deposit(ctx, e.authority, v.Address(), mint, 10); !errors.Is(err, vault.ErrDepositsDisabled) {
		t.Errorf("expected ErrDepositsDisabled, got %v", err)
	}
	if _, err := e.svc.EnableDeposits(ctx, e.authority, v.Address(), mint); err != nil {
		t.Fatal(err)
	}

	after, _ := e.store.GetVault(ctx, v.Address())
	if !reflect.DeepEqual(before.TokenInfos, after.TokenInfos) {
		t.Errorf("disable then enable changed the vault:\n%+v\n%+v", before.TokenInfos, after.TokenInfos)
	}

	if _, err := e.svc.DisableDeposits(ctx, key(), v.Address(), mint); !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := e.svc.EnableDeposits(ctx, e.authority, v.Address(), key()); !errors.Is(err, vault.ErrInvalidTokenMint) {
		t.Errorf("expected ErrInvalidTokenMint, got %v", err)
	}
}

func TestSetDepositLimit(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	v := e.multiVault(t, 1)
	mint := key()
	e.openLine(t, v, mint)
	user := key()
	e.deposit(t, v, mint, user, 100)

	if _, err := e.svc.SetDepositLimit(ctx, e.authority, v.Address(), mint, 150); err != nil {
		t.Fatal(err)
	}
	e.custodian.Fund(user, mint, 100)
	if _, err := e.svc.Deposit(ctx, user, v.Address(), mint, 51); !errors.Is(err, vault.ErrDepositLimitExceeded) {
		t.Errorf("expected ErrDepositLimitExceeded, got %v", err)
	}
	if _, err := e.svc.Deposit(ctx, user, v.Address(), mint, 50); err != nil {
		t.Errorf("deposit up to the limit: %v", err)
	}

	// A limit below current deposits blocks deposits but not withdrawals.
	if _, err := e.svc.SetDepositLimit(ctx, e.authority, v.Address(), mint, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Withdraw(ctx, user, v.Address(), mint, 150); err != nil {
		t.Errorf("withdraw under lowered limit: %v", err)
	}
}

// --- Deposits and withdrawals ---

func TestDepositWithdraw_RoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	v := e.multiVault(t, 2)
	mint := key()
	ti := e.openLine(t, v, mint)
	alice, bob := key(), key()

	if res := e.deposit(t, v, mint, alice, 1_000_000); res.Minted != 1_000_000 {
		t.Errorf("first deposit should mint 1:1, got %d", res.Minted)
	}
	if res := e.deposit(t, v, mint, bob, 250_000); res.Minted != 250_000 {
		t.Errorf("expected 250000 minted at par, got %d", res.Minted)
	}

	pos := settlement.PositionOf(v)
	if held, _ := e.custodian.Balance(ctx, pos, mint); held != 1_250_000 {
		t.Errorf("expected position to hold 1250000, got %d", held)
	}
	if bal, _ := e.tokens.Balance(ctx, ti.LPMint, bob); bal != 250_000 {
		t.Errorf("expected bob to hold 250000 LP, got %d", bal)
	}

	res, err := e.svc.Withdraw(ctx, bob, v.Address(), mint, 250_000)
	if err != nil {
		t.Fatal(err)
	}
	if res.Principal != 250_000 {
		t.Errorf("expected principal 250000, got %d", res.Principal)
	}
	if got := e.custodian.WalletBalance(bob, mint); got != 250_000 {
		t.Errorf("expected bob's wallet restored, got %d", got)
	}

	line := e.line(t, v, mint)
	if line.Deposits != 1_000_000 || line.TokenSupply != 1_000_000 {
		t.Errorf("unexpected line after withdraw: %+v", line)
	}
}

func TestWithdraw_Guards(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	v := e.multiVault(t, 1)
	mint := key()
	e.openLine(t, v, mint)
	user := key()

	if _, err := e.svc.Withdraw(ctx, user, v.Address(), mint, 1); !errors.Is(err, vault.ErrNoSupply) {
		t.Errorf("expected ErrNoSupply on empty line, got %v", err)
	}

	e.deposit(t, v, mint, user, 100)

	tests := []struct {
		name   string
		owner  solana.PublicKey
		mint   solana.PublicKey
		redeem uint64
		want   error
	}{
		{"zero", user, mint, 0, vault.ErrInvalidAmount},
		{"over balance", user, mint, 101, vault.ErrInsufficientLPBalance},
		{"not a holder", key(), mint, 1, vault.ErrInsufficientLPBalance},
		{"unknown line", user, key(), 1, vault.ErrInvalidTokenMint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.svc.Withdraw(ctx, tt.owner, v.Address(), tt.mint, tt.redeem); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if line := e.line(t, v, mint); line.Deposits != 100 || line.TokenSupply != 100 {
		t.Errorf("rejected withdrawals changed the line: %+v", line)
	}
}

func TestDeposit_InsufficientFundsLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	v := e.multiVault(t, 1)
	mint := key()
	e.openLine(t, v, mint)
	user := key()
	e.custodian.Fund(user, mint, 5)

	if _, err := e.svc.Deposit(ctx, user, v.Address(), mint, 6); !errors.Is(err, settlement.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if line := e.line(t, v, mint); !line.IsDrained() {
		t.Errorf("expected untouched line, got %+v", line)
	}
	if got := e.custodian.WalletBalance(user, mint); got != 5 {
		t.Errorf("expected wallet untouched, got %d", got)
	}
}

// --- Atomicity ---

type failingMint struct {
	token.Program
}

func (f failingMint) MintTo(context.Context, solana.PublicKey, solana.PublicKey, uint64, vault.Signer) error {
	return errors.New("mint unavailable")
}

type failingApply struct {
	store.Store
	fail bool
}

func (f *failingApply) ApplyVault(ctx context.Context, v *vault.Vault, ev *model.Event) error {
	if f.fail {
		return errors.New("database unavailable")
	}
	return f.Store.ApplyVault(ctx, v, ev)
}

func (f *failingApply) DeleteVault(ctx context.Context, addr solana.PublicKey, ev *model.Event) error {
	if f.fail {
		return errors.New("database unavailable")
	}
	return f.Store.DeleteVault(ctx, addr, ev)
}

func TestDeposit_MintFailureReturnsFunds(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, func(st store.Store, tp token.Program) (store.Store, token.Program) {
		return st, failingMint{tp}
	})
	v := e.multiVault(t, 1)
	mint := key()
	e.openLine(t, v, mint)
	user := key()
	e.custodian.Fund(user, mint, 100)

	if _, err := e.svc.Deposit(ctx, user, v.Address(), mint, 100); err == nil {
		t.Fatal("expected deposit to fail")
	}
	if got := e.custodian.WalletBalance(user, mint); got != 100 {
		t.Errorf("expected funds returned to wallet, got %d", got)
	}
	if held, _ := e.custodian.Balance(ctx, settlement.PositionOf(v), mint); held != 0 {
		t.Errorf("expected empty position, got %d", held)
	}
	if line := e.line(t, v, mint); !line.IsDrained() {
		t.Errorf("expected untouched line, got %+v", line)
	}
}

func TestStoreFailure_ReversesSideEffects(t *testing.T) {
	ctx := context.Background()
	fa := &failingApply{}
	e := newTestEnv(t, func(st store.Store, tp token.Program) (store.Store, token.Program) {
		fa.Store = st
		return fa, tp
	})
	v := e.multiVault(t, 1)
	mint := key()
	ti := e.openLine(t, v, mint)
	user := key()
	e.deposit(t, v, mint, user, 1000)

	fa.fail = true

	e.custodian.Fund(user, mint, 500)
	if _, err := e.svc.Deposit(ctx, user, v.Address(), mint, 500); err == nil {
		t.Fatal("expected deposit to fail")
	}
	if got := e.custodian.WalletBalance(user, mint); got != 500 {
		t.Errorf("expected deposit returned, wallet holds %d", got)
	}
	if bal, _ := e.tokens.Balance(ctx, ti.LPMint, user); bal != 1000 {
		t.Errorf("expected minted LP burned again, holds %d", bal)
	}

	if _, err := e.svc.Withdraw(ctx, user, v.Address(), mint, 400); err == nil {
		t.Fatal("expected withdraw to fail")
	}
	if bal, _ := e.tokens.Balance(ctx, ti.LPMint, user); bal != 1000 {
		t.Errorf("expected burned LP reminted, holds %d", bal)
	}
	if held, _ := e.custodian.Balance(ctx, settlement.PositionOf(v), mint); held != 1000 {
		t.Errorf("expected principal reclaimed, position holds %d", held)
	}

	fa.fail = false
	if line := e.line(t, v, mint); line.Deposits != 1000 || line.TokenSupply != 1000 {
		t.Errorf("expected committed state only, got %+v", line)
	}
}

func TestConcurrentDeposits_Serialized(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	v := e.multiVault(t, 1)
	mint := key()
	e.openLine(t, v, mint)

	const users, amount = 32, 1000
	keys := make([]solana.PublicKey, users)
	for i := range keys {
		keys[i] = key()
		e.custodian.Fund(keys[i], mint, amount)
	}

	var wg sync.WaitGroup
	errs := make(chan error, users)
	for _, u := range keys {
		wg.Add(1)
		go func(u solana.PublicKey) {
			defer wg.Done()
			if _, err := e.svc.Deposit(ctx, u, v.Address(), mint, amount); err != nil {
				errs <- err
			}
		}(u)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("deposit failed: %v", err)
	}

	line := e.line(t, v, mint)
	if line.Deposits != users*amount || line.TokenSupply != users*amount {
		t.Errorf("expected %d deposited and minted, got %+v", users*amount, line)
	}
}

// --- Closing ---

func TestCloseDeposits_RequiresDrainedLine(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	v := e.multiVault(t, 2)
	mint := key()
	e.openLine(t, v, mint)
	user, dest := key(), key()
	e.deposit(t, v, mint, user, 300)

	if _, err := e.svc.CloseDeposits(ctx, e.authority, v.Address(), mint, dest); !errors.Is(err, vault.ErrTokenWithDeposits) {
		t.Errorf("expected ErrTokenWithDeposits, got %v", err)
	}
	if _, err := e.svc.CloseDeposits(ctx, key(), v.Address(), mint, dest); !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	if _, err := e.svc.Withdraw(ctx, user, v.Address(), mint, 300); err != nil {
		t.Fatal(err)
	}
	res, err := e.svc.CloseDeposits(ctx, e.authority, v.Address(), mint, dest)
	if err != nil {
		t.Fatal(err)
	}
	if want := vault.RentExempt(token.MintAccountSize); res.Rent != want || e.tokens.Lamports(dest) != want {
		t.Errorf("expected mint rent %d at destination, got %d/%d", want, res.Rent, e.tokens.Lamports(dest))
	}

	line := e.line(t, v, mint)
	if !line.Closed || line.Enabled {
		t.Errorf("expected closed line, got %+v", line)
	}
	e.custodian.Fund(user, mint, 1)
	if _, err := e.svc.Deposit(ctx, user, v.Address(), mint, 1); !errors.Is(err, vault.ErrTokenClosed) {
		t.Errorf("expected ErrTokenClosed, got %v", err)
	}
	if _, err := e.svc.EnableDeposits(ctx, e.authority, v.Address(), mint); !errors.Is(err, vault.ErrTokenClosed) {
		t.Errorf("expected ErrTokenClosed on enable, got %v", err)
	}
	if _, err := e.svc.CloseDeposits(ctx, e.authority, v.Address(), mint, dest); !errors.Is(err, vault.ErrTokenClosed) {
		t.Errorf("expected ErrTokenClosed on second close, got %v", err)
	}
}

func TestCloseVault(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	v := e.multiVault(t, 3)
	a, b := key(), key()
	e.openLine(t, v, a)
	e.openLine(t, v, b)
	user, dest := key(), key()
	e.deposit(t, v, b, user, 42)

	if _, err := e.svc.CloseVault(ctx, key(), v.Address(), dest); !errors.Is(err, vault.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := e.svc.CloseVault(ctx, e.authority, v.Address(), dest); !errors.Is(err, vault.ErrTokenWithDeposits) {
		t.Errorf("expected ErrTokenWithDeposits, got %v", err)
	}

	if _, err := e.svc.Withdraw(ctx, user, v.Address(), b, 42); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.CloseDeposits(ctx, e.authority, v.Address(), a, dest); err != nil {
		t.Fatal(err)
	}

	res, err := e.svc.CloseVault(ctx, e.authority, v.Address(), dest)
	if err != nil {
		t.Fatal(err)
	}
	mintRent := vault.RentExempt(token.MintAccountSize)
	if want := mintRent + vault.RentExempt(vault.AccountSize(3)); res.Rent != want {
		t.Errorf("expected rent %d, got %d", want, res.Rent)
	}
	if got := e.tokens.Lamports(dest); got != 2*mintRent+vault.RentExempt(vault.AccountSize(3)) {
		t.Errorf("expected both mint rents and the account rent at destination, got %d", got)
	}

	if _, err := e.svc.GetVault(ctx, v.Address()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after close, got %v", err)
	}
	if _, err := e.custodian.Balance(ctx, settlement.PositionOf(v), a); !errors.Is(err, settlement.ErrPositionNotFound) {
		t.Errorf("expected closed position, got %v", err)
	}

	events, err := e.svc.Events(ctx, v.Address())
	if err != nil {
		t.Fatal(err)
	}
	if n := len(events); n == 0 || events[n-1].Op != model.OpCloseVault {
		t.Errorf("expected event log ending in close_vault, got %d events", n)
	}

	// The (authority, id) pair can be reused once the vault is gone.
	e.multiVault(t, 1)
}

func TestCloseVault_StoreFailureReturnsRent(t *testing.T) {
	ctx := context.Background()
	fa := &failingApply{}
	e := newTestEnv(t, func(st store.Store, tp token.Program) (store.Store, token.Program) {
		fa.Store = st
		return fa, tp
	})
	v := e.multiVault(t, 2)
	mint := key()
	ti := e.openLine(t, v, mint)
	dest := key()

	fa.fail = true
	if _, err := e.svc.CloseVault(ctx, e.authority, v.Address(), dest); err == nil {
		t.Fatal("expected close to fail")
	}
	if got := e.tokens.Lamports(dest); got != 0 {
		t.Errorf("expected no rent kept at destination, got %d", got)
	}
	if _, err := e.tokens.Supply(ctx, ti.LPMint); err != nil {
		t.Errorf("expected lp mint recreated: %v", err)
	}
	if _, err := e.custodian.Balance(ctx, settlement.PositionOf(v), mint); err != nil {
		t.Errorf("expected position reopened: %v", err)
	}

	fa.fail = false
	res, err := e.svc.CloseVault(ctx, e.authority, v.Address(), dest)
	if err != nil {
		t.Fatal(err)
	}
	if got := e.tokens.Lamports(dest); got != res.Rent {
		t.Errorf("expected reported rent %d at destination, got %d", res.Rent, got)
	}
}

// --- Queries ---

func TestHoldings(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	v := e.multiVault(t, 2)
	mint := key()
	ti := e.openLine(t, v, mint)
	alice, bob := key(), key()
	e.deposit(t, v, mint, alice, 750)
	e.deposit(t, v, mint, bob, 250)

	p, err := e.svc.Holdings(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Holdings) != 1 {
		t.Fatalf("expected one holding, got %d", len(p.Holdings))
	}
	h := p.Holdings[0]
	if h.LPMint != ti.LPMint.String() || h.LPBalance != 750 || h.Redeemable != 750 {
		t.Errorf("unexpected holding %+v", h)
	}
	if !h.Share.Equal(decimal.RequireFromString("0.75")) {
		t.Errorf("expected share 0.75, got %s", h.Share)
	}

	empty, err := e.svc.Holdings(ctx, key())
	if err != nil {
		t.Fatal(err)
	}
	if len(empty.Holdings) != 0 {
		t.Errorf("expected no holdings, got %d", len(empty.Holdings))
	}
}

func TestHoldings_InconsistentLineFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	v := e.multiVault(t, 1)
	mint := key()
	e.openLine(t, v, mint)
	user := key()
	e.deposit(t, v, mint, user, 10)

	// A record whose supply no longer covers the minted balance cannot
	// price the holding.
	stored, err := e.store.GetVault(ctx, v.Address())
	if err != nil {
		t.Fatal(err)
	}
	stored.TokenInfos[0].Deposits = math.MaxUint64
	stored.TokenInfos[0].TokenSupply = 1
	if err := e.store.ApplyVault(ctx, stored, &model.Event{ID: "tamper", Vault: v.Address().String()}); err != nil {
		t.Fatal(err)
	}

	if _, err := e.svc.Holdings(ctx, user); !errors.Is(err, vault.ErrMathOverflow) {
		t.Errorf("expected ErrMathOverflow, got %v", err)
	}
}

func TestListVaults_ByAuthority(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.multiVault(t, 1)
	if _, err := e.svc.CreateVault(ctx, engine.CreateVaultParams{Authority: key(), ID: 1, Type: vault.MultiToken, Capacity: 1}); err != nil {
		t.Fatal(err)
	}

	all, _ := e.svc.ListVaults(ctx, solana.PublicKey{})
	mine, _ := e.svc.ListVaults(ctx, e.authority)
	if len(all) != 2 || len(mine) != 1 {
		t.Errorf("expected 2 vaults and 1 of authority, got %d/%d", len(all), len(mine))
	}
}
