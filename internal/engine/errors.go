package engine

import (
	"errors"
	"net/http"

	"github.com/atmx/vault-engine/internal/settlement"
	"github.com/atmx/vault-engine/internal/store"
	"github.com/atmx/vault-engine/internal/token"
	"github.com/atmx/vault-engine/internal/vault"
)

var (
	ErrBadRequest   = errors.New("engine: malformed request")
	ErrBadSignature = errors.New("engine: request signature invalid")

	ErrFaucetDisabled = errors.New("engine: faucet disabled")
	ErrFaucetLimit    = errors.New("engine: faucet amount over limit")

	// ErrInconsistentState is returned when custody or LP mint state does
	// not back a stored vault record.
	ErrInconsistentState = errors.New("engine: vault record not backed by custody state")
)

// Class tells a caller whether a failed operation can succeed later.
// Business failures may succeed once vault state changes (for example
// after draining a line); structural and authorization failures never will.
type Class string

const (
	ClassBusiness      Class = "business"
	ClassStructural    Class = "structural"
	ClassArithmetic    Class = "arithmetic"
	ClassAuthorization Class = "authorization"
	ClassNotFound      Class = "not_found"
	ClassInternal      Class = "internal"
)

// HTTPStatus returns the response status for the class.
func (c Class) HTTPStatus() int {
	switch c {
	case ClassBusiness:
		return http.StatusConflict
	case ClassStructural:
		return http.StatusBadRequest
	case ClassArithmetic:
		return http.StatusUnprocessableEntity
	case ClassAuthorization:
		return http.StatusForbidden
	case ClassNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type classified struct {
	err   error
	code  string
	class Class
}

// Ordered most specific first; the first match wins.
var taxonomy = []classified{
	{vault.ErrInvalidVaultType, "invalid_vault_type", ClassStructural},
	{vault.ErrInvalidTokenMint, "invalid_token_mint", ClassStructural},
	{vault.ErrInvalidCapacity, "invalid_capacity", ClassStructural},
	{vault.ErrInvalidAmount, "invalid_amount", ClassStructural},
	{vault.ErrInvalidLayout, "invalid_layout", ClassStructural},
	{ErrBadRequest, "bad_request", ClassStructural},
	{ErrFaucetLimit, "faucet_limit", ClassStructural},

	{vault.ErrTokenWithDeposits, "token_with_deposits", ClassBusiness},
	{vault.ErrTokenWithLpSupply, "token_with_lp_supply", ClassBusiness},
	{vault.ErrTokenAlreadyOpen, "token_already_open", ClassBusiness},
	{vault.ErrTokenClosed, "token_closed", ClassBusiness},
	{vault.ErrNoCapacity, "no_capacity", ClassBusiness},
	{vault.ErrDepositsDisabled, "deposits_disabled", ClassBusiness},
	{vault.ErrDepositLimitExceeded, "deposit_limit_exceeded", ClassBusiness},
	{vault.ErrInsufficientLPBalance, "insufficient_lp_balance", ClassBusiness},
	{vault.ErrNoSupply, "no_supply", ClassBusiness},
	{store.ErrConflict, "vault_exists", ClassBusiness},
	{settlement.ErrInsufficientFunds, "insufficient_funds", ClassBusiness},
	{token.ErrInsufficientBalance, "insufficient_balance", ClassBusiness},

	{vault.ErrMathOverflow, "math_overflow", ClassArithmetic},
	{vault.ErrMathUnderflow, "math_underflow", ClassArithmetic},
	{vault.ErrDegenerateRatio, "degenerate_ratio", ClassArithmetic},
	{vault.ErrZeroMintAmount, "zero_mint_amount", ClassArithmetic},
	{vault.ErrZeroWithdrawAmount, "zero_withdraw_amount", ClassArithmetic},

	{vault.ErrUnauthorized, "unauthorized", ClassAuthorization},
	{vault.ErrUnauthorizedSigner, "unauthorized_signer", ClassAuthorization},
	{ErrBadSignature, "bad_signature", ClassAuthorization},

	{store.ErrNotFound, "vault_not_found", ClassNotFound},
	{ErrFaucetDisabled, "faucet_disabled", ClassNotFound},

	{ErrInconsistentState, "inconsistent_state", ClassInternal},
}

// Classify maps err onto its class.
func Classify(err error) Class {
	_, class := lookup(err)
	return class
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	code, _ := lookup(err)
	return code
}

func lookup(err error) (string, Class) {
	for _, c := range taxonomy {
		if errors.Is(err, c.err) {
			return c.code, c.class
		}
	}
	return "internal", ClassInternal
}
