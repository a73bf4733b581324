// Package vault implements the pooled-deposit vault record, its token lines,
// the LP share ratio engine and the delegated authority a vault uses to act
// in external systems without holding a private key.
//
// Everything here is pure: no I/O, no locking. Persistence and side effects
// live in the engine and store packages.
package vault

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
)

// LayoutVersion is the current persisted layout version.
const LayoutVersion uint8 = 1

// NoDepositLimit is the deposit limit of a line without a ceiling.
const NoDepositLimit uint64 = math.MaxUint64

// VaultType fixes how many token lines a vault may hold.
type VaultType uint8

const (
	SingleToken VaultType = iota
	MultiToken
)

func (t VaultType) String() string {
	switch t {
	case SingleToken:
		return "single_token"
	case MultiToken:
		return "multi_token"
	default:
		return fmt.Sprintf("vault_type(%d)", uint8(t))
	}
}

// ParseVaultType parses the string form of a VaultType.
func ParseVaultType(s string) (VaultType, error) {
	switch s {
	case "single_token", "single":
		return SingleToken, nil
	case "multi_token", "multi":
		return MultiToken, nil
	}
	return 0, fmt.Errorf("%w: unknown vault type %q", ErrInvalidVaultType, s)
}

func (t VaultType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *VaultType) UnmarshalText(b []byte) error {
	parsed, err := ParseVaultType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TokenInfo is the ledger of one accepted token within a vault.
type TokenInfo struct {
	TokenMint    solana.PublicKey `json:"token_mint"`
	LPMint       solana.PublicKey `json:"lp_mint"`
	LPDecimals   uint8            `json:"lp_decimals"`
	Enabled      bool             `json:"enabled"`
	Closed       bool             `json:"closed"`
	Deposits     uint64           `json:"deposits"`
	DepositLimit uint64           `json:"deposit_limit"`
	TokenSupply  uint64           `json:"token_supply"`
}

// IsDrained reports whether the line satisfies the zero-balance invariant.
func (ti *TokenInfo) IsDrained() bool {
	return ti.Deposits == 0 && ti.TokenSupply == 0
}

// CheckDrained returns the error naming the first nonzero balance.
func (ti *TokenInfo) CheckDrained() error {
	if ti.Deposits != 0 {
		return fmt.Errorf("%w: %s has %d deposited", ErrTokenWithDeposits, ti.TokenMint, ti.Deposits)
	}
	if ti.TokenSupply != 0 {
		return fmt.Errorf("%w: %s has %d LP outstanding", ErrTokenWithLpSupply, ti.TokenMint, ti.TokenSupply)
	}
	return nil
}

// CheckDeposit validates that a deposit of amount may be accepted by the line.
func (ti *TokenInfo) CheckDeposit(amount uint64) error {
	if ti.Closed {
		return fmt.Errorf("%w: %s", ErrTokenClosed, ti.TokenMint)
	}
	if !ti.Enabled {
		return fmt.Errorf("%w: %s", ErrDepositsDisabled, ti.TokenMint)
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	total, err := checkedAdd(ti.Deposits, amount)
	if err != nil {
		return err
	}
	if total > ti.DepositLimit {
		return fmt.Errorf("%w: %d + %d > %d", ErrDepositLimitExceeded, ti.Deposits, amount, ti.DepositLimit)
	}
	return nil
}

// ApplyDeposit records a deposit of amount that minted minted LP tokens.
// The line is unchanged on error.
func (ti *TokenInfo) ApplyDeposit(amount, minted uint64) error {
	deposits, err := checkedAdd(ti.Deposits, amount)
	if err != nil {
		return err
	}
	supply, err := checkedAdd(ti.TokenSupply, minted)
	if err != nil {
		return err
	}
	ti.Deposits, ti.TokenSupply = deposits, supply
	return nil
}

// ApplyWithdraw records a redemption of burned LP tokens that returned
// principal. The line is unchanged on error.
func (ti *TokenInfo) ApplyWithdraw(principal, burned uint64) error {
	deposits, err := checkedSub(ti.Deposits, principal)
	if err != nil {
		return err
	}
	supply, err := checkedSub(ti.TokenSupply, burned)
	if err != nil {
		return err
	}
	ti.Deposits, ti.TokenSupply = deposits, supply
	return nil
}

// Vault is the persistent record of one pooled-deposit vault.
type Vault struct {
	Version          uint8            `json:"version"`
	Bump             uint8            `json:"bump"`
	AccountNumber    uint8            `json:"account_number"`
	SubAccountNumber uint8            `json:"sub_account_number"`
	Type             VaultType        `json:"vault_type"`
	Capacity         int              `json:"capacity"`
	ID               uint64           `json:"id"`
	Authority        solana.PublicKey `json:"authority"`
	TokenInfos       []TokenInfo      `json:"token_infos"`

	programID solana.PublicKey
	address   solana.PublicKey
}

// New derives the delegated authority of (authority, id) and returns an
// empty vault with the given type and token line capacity.
func New(programID, authority solana.PublicKey, id uint64, vt VaultType, capacity int) (*Vault, error) {
	switch vt {
	case SingleToken:
		if capacity != 1 {
			return nil, fmt.Errorf("%w: single token vaults hold exactly one line, got %d", ErrInvalidCapacity, capacity)
		}
	case MultiToken:
		if capacity < 1 || capacity > MaxCapacity {
			return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidCapacity, capacity, MaxCapacity)
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidVaultType, vt)
	}

	addr, bump, err := DeriveVaultAddress(programID, authority, id)
	if err != nil {
		return nil, err
	}
	return &Vault{
		Version:    LayoutVersion,
		Bump:       bump,
		Type:       vt,
		Capacity:   capacity,
		ID:         id,
		Authority:  authority,
		TokenInfos: make([]TokenInfo, 0, capacity),
		programID:  programID,
		address:    addr,
	}, nil
}

// Bind attaches the program id to a decoded record. The stored bump must be
// the canonical bump of (authority, id) under programID.
func (v *Vault) Bind(programID solana.PublicKey) error {
	addr, bump, err := DeriveVaultAddress(programID, v.Authority, v.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorizedSigner, err)
	}
	if bump != v.Bump {
		return fmt.Errorf("%w: bump %d, canonical bump is %d", ErrInvalidLayout, v.Bump, bump)
	}
	v.programID = programID
	v.address = addr
	return nil
}

// Address returns the vault's delegated authority address.
func (v *Vault) Address() solana.PublicKey {
	return v.address
}

// ProgramID returns the program the vault address is derived under.
func (v *Vault) ProgramID() solana.PublicKey {
	return v.programID
}

// Signer returns the capability proving the vault's address. It is built
// only from fields fixed at creation.
func (v *Vault) Signer() Signer {
	return Signer{
		programID: v.programID,
		authority: v.Authority,
		id:        v.ID,
		bump:      v.Bump,
	}
}

// CheckAuthority returns ErrUnauthorized unless caller administers the vault.
func (v *Vault) CheckAuthority(caller solana.PublicKey) error {
	if !v.Authority.Equals(caller) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	return nil
}

// TokenInfo returns the line for mint.
func (v *Vault) TokenInfo(mint solana.PublicKey) (*TokenInfo, error) {
	for i := range v.TokenInfos {
		if v.TokenInfos[i].TokenMint.Equals(mint) {
			return &v.TokenInfos[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidTokenMint, mint)
}

// OpenLine appends a new enabled token line. It does not check the vault
// type; callers outside creation must use OpenDeposits.
func (v *Vault) OpenLine(mint solana.PublicKey, lpDecimals uint8, depositLimit uint64) (*TokenInfo, error) {
	if mint.IsZero() {
		return nil, fmt.Errorf("%w: zero mint", ErrInvalidTokenMint)
	}
	if _, err := v.TokenInfo(mint); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrTokenAlreadyOpen, mint)
	}
	if len(v.TokenInfos) >= v.Capacity {
		return nil, fmt.Errorf("%w: %d/%d lines in use", ErrNoCapacity, len(v.TokenInfos), v.Capacity)
	}
	lpMint, err := DeriveLPMint(v.programID, v.address, mint)
	if err != nil {
		return nil, err
	}
	v.TokenInfos = append(v.TokenInfos, TokenInfo{
		TokenMint:    mint,
		LPMint:       lpMint,
		LPDecimals:   lpDecimals,
		Enabled:      true,
		DepositLimit: depositLimit,
	})
	return &v.TokenInfos[len(v.TokenInfos)-1], nil
}

// OpenDeposits opens a line on a MultiToken vault.
func (v *Vault) OpenDeposits(mint solana.PublicKey, lpDecimals uint8, depositLimit uint64) (*TokenInfo, error) {
	if v.Type != MultiToken {
		return nil, fmt.Errorf("%w: open deposits on %s vault", ErrInvalidVaultType, v.Type)
	}
	return v.OpenLine(mint, lpDecimals, depositLimit)
}

// SetEnabled flips deposit acceptance of an open line.
func (v *Vault) SetEnabled(mint solana.PublicKey, enabled bool) error {
	ti, err := v.TokenInfo(mint)
	if err != nil {
		return err
	}
	if ti.Closed {
		return fmt.Errorf("%w: %s", ErrTokenClosed, mint)
	}
	ti.Enabled = enabled
	return nil
}

// SetDepositLimit sets the deposit ceiling of an open line.
func (v *Vault) SetDepositLimit(mint solana.PublicKey, limit uint64) error {
	ti, err := v.TokenInfo(mint)
	if err != nil {
		return err
	}
	if ti.Closed {
		return fmt.Errorf("%w: %s", ErrTokenClosed, mint)
	}
	ti.DepositLimit = limit
	return nil
}

// CloseLine marks a drained line as closed. Closed lines keep their slot.
func (v *Vault) CloseLine(mint solana.PublicKey) (*TokenInfo, error) {
	ti, err := v.TokenInfo(mint)
	if err != nil {
		return nil, err
	}
	if ti.Closed {
		return nil, fmt.Errorf("%w: %s", ErrTokenClosed, mint)
	}
	if err := ti.CheckDrained(); err != nil {
		return nil, err
	}
	ti.Closed = true
	ti.Enabled = false
	return ti, nil
}

// CheckClosable returns nil when every line satisfies the zero-balance invariant.
func (v *Vault) CheckClosable() error {
	for i := range v.TokenInfos {
		if err := v.TokenInfos[i].CheckDrained(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the structural invariants of a record.
func (v *Vault) Validate() error {
	switch v.Type {
	case SingleToken:
		if v.Capacity != 1 || len(v.TokenInfos) != 1 {
			return fmt.Errorf("%w: single token vault with %d/%d lines", ErrInvalidVaultType, len(v.TokenInfos), v.Capacity)
		}
	case MultiToken:
		if len(v.TokenInfos) > v.Capacity {
			return fmt.Errorf("%w: %d lines over capacity %d", ErrNoCapacity, len(v.TokenInfos), v.Capacity)
		}
	default:
		return fmt.Errorf("%w: %d", ErrInvalidVaultType, v.Type)
	}
	seen := make(map[solana.PublicKey]struct{}, len(v.TokenInfos))
	for _, ti := range v.TokenInfos {
		if _, dup := seen[ti.TokenMint]; dup {
			return fmt.Errorf("%w: duplicate line %s", ErrTokenAlreadyOpen, ti.TokenMint)
		}
		seen[ti.TokenMint] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy that can be mutated without affecting v.
func (v *Vault) Clone() *Vault {
	c := *v
	n := v.Capacity
	if n < len(v.TokenInfos) {
		n = len(v.TokenInfos)
	}
	c.TokenInfos = make([]TokenInfo, len(v.TokenInfos), n)
	copy(c.TokenInfos, v.TokenInfos)
	return &c
}

// MarshalJSON includes the derived address.
func (v *Vault) MarshalJSON() ([]byte, error) {
	type plain Vault
	return json.Marshal(struct {
		Address solana.PublicKey `json:"address"`
		*plain
	}{v.address, (*plain)(v)})
}
