package vault

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// MintAmount returns the LP tokens to mint for a deposit of amount into ti.
//
// The first deposit into a line without supply defines a 1:1 baseline.
// Otherwise the result is floor(amount * supply / deposits), which keeps
// supply/deposits constant across the deposit and rounds toward the vault.
func MintAmount(ti *TokenInfo, amount uint64) (uint64, error) {
	if ti.TokenSupply == 0 {
		return amount, nil
	}
	if ti.Deposits == 0 {
		return 0, ErrDegenerateRatio
	}
	return mulDiv(amount, ti.TokenSupply, ti.Deposits)
}

// BurnAmount returns the principal returned for redeeming redeem LP tokens
// of ti: floor(deposits * redeem / supply).
func BurnAmount(ti *TokenInfo, redeem uint64) (uint64, error) {
	if ti.TokenSupply == 0 {
		return 0, ErrNoSupply
	}
	return mulDiv(ti.Deposits, redeem, ti.TokenSupply)
}

// mulDiv computes floor(a * b / d) with a 256-bit intermediate and fails
// instead of truncating when the quotient does not fit in 64 bits.
func mulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrDegenerateRatio
	}
	var z uint256.Int
	z.Mul(uint256.NewInt(a), uint256.NewInt(b))
	z.Div(&z, uint256.NewInt(d))
	if !z.IsUint64() {
		return 0, ErrMathOverflow
	}
	return z.Uint64(), nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrMathOverflow
	}
	return sum, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrMathUnderflow
	}
	return a - b, nil
}

// SharePrice is the principal backing one whole LP token unit
// (deposits / supply). A line without supply prices at 1.
func SharePrice(ti *TokenInfo) decimal.Decimal {
	if ti.TokenSupply == 0 {
		return decimal.NewFromInt(1)
	}
	return Amount(ti.Deposits).DivRound(Amount(ti.TokenSupply), 12)
}

// Amount converts a raw ledger amount to a decimal without loss.
func Amount(raw uint64) decimal.Decimal {
	return decimal.NewFromUint64(raw)
}

// UIAmount scales a raw amount by the token's decimals.
func UIAmount(raw uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromUint64(raw).Shift(-int32(decimals))
}

// ShareOf returns balance as a fraction of the line's LP supply.
func ShareOf(ti *TokenInfo, balance uint64) decimal.Decimal {
	if ti.TokenSupply == 0 {
		return decimal.Zero
	}
	return Amount(balance).DivRound(Amount(ti.TokenSupply), 12)
}
