package vault

import "errors"

var (
	// ErrInvalidVaultType is returned when an operation is not supported by
	// the vault's type (e.g. opening a second token line on a SingleToken vault).
	ErrInvalidVaultType = errors.New("vault: the given vault does not support this operation")

	// ErrInvalidTokenMint is returned when the token mint has no line in the vault.
	ErrInvalidTokenMint = errors.New("vault: the given token mint is not supported")

	// ErrTokenWithDeposits is returned when closing a token line with deposits.
	ErrTokenWithDeposits = errors.New("vault: the given token has existing deposits")

	// ErrTokenWithLpSupply is returned when closing a token line whose LP
	// token still has outstanding supply.
	ErrTokenWithLpSupply = errors.New("vault: the given token has outstanding LP token supply")

	ErrTokenAlreadyOpen = errors.New("vault: deposits are already open for the given token")
	ErrTokenClosed      = errors.New("vault: the given token line is closed")
	ErrNoCapacity       = errors.New("vault: no token line capacity remaining")
	ErrInvalidCapacity  = errors.New("vault: invalid token line capacity")

	ErrDepositsDisabled     = errors.New("vault: deposits are disabled for the given token")
	ErrDepositLimitExceeded = errors.New("vault: deposit would exceed the token deposit limit")
	ErrInvalidAmount        = errors.New("vault: amount must be positive")

	// ErrZeroMintAmount is returned when a deposit is too small to mint a
	// single LP token unit at the current share price.
	ErrZeroMintAmount = errors.New("vault: deposit too small to mint LP tokens")

	// ErrZeroWithdrawAmount is returned when a redemption is too small to
	// return a single unit of principal.
	ErrZeroWithdrawAmount = errors.New("vault: redemption too small to return principal")

	ErrInsufficientLPBalance = errors.New("vault: insufficient LP token balance")

	// Arithmetic failures raised by the ratio engine.
	ErrMathOverflow    = errors.New("vault: math overflow")
	ErrMathUnderflow   = errors.New("vault: math underflow")
	ErrNoSupply        = errors.New("vault: token line has no LP supply")
	ErrDegenerateRatio = errors.New("vault: LP supply outstanding with zero deposits")

	// ErrUnauthorized is returned when the caller is not the vault authority.
	ErrUnauthorized = errors.New("vault: caller is not the vault authority")

	// ErrUnauthorizedSigner is returned when a delegated-authority proof does
	// not derive the expected address.
	ErrUnauthorizedSigner = errors.New("vault: delegated authority proof mismatch")

	ErrInvalidLayout = errors.New("vault: invalid account data")
)
