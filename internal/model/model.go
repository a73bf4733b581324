// Package model defines the records shared across the vault engine that
// are not part of the vault account itself: the operation log and holder
// views. Raw amounts are integer ledger units; UI amounts use
// shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Operation names recorded in the event log.
const (
	OpCreateVault     = "create_vault"
	OpOpenDeposits    = "open_deposits"
	OpEnableDeposits  = "enable_deposits"
	OpDisableDeposits = "disable_deposits"
	OpSetDepositLimit = "set_deposit_limit"
	OpDeposit         = "deposit"
	OpWithdraw        = "withdraw"
	OpCloseDeposits   = "close_deposits"
	OpCloseVault      = "close_vault"
)

// Event is an immutable record of one committed vault operation.
// Once created, these are never modified or deleted, even after the vault
// itself is closed.
type Event struct {
	ID        string    `json:"id" db:"id"`
	Vault     string    `json:"vault" db:"vault"`
	Op        string    `json:"op" db:"op"`
	Caller    string    `json:"caller" db:"caller"`
	TokenMint string    `json:"token_mint,omitempty" db:"token_mint"`
	Amount    uint64    `json:"amount" db:"amount"`       // principal deposited / returned, new limit, rent
	LPAmount  uint64    `json:"lp_amount" db:"lp_amount"` // LP minted / burned
	Deposits  uint64    `json:"deposits" db:"deposits"`   // line deposits after the operation
	Supply    uint64    `json:"token_supply" db:"supply"` // line LP supply after the operation
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Holding is one owner's LP position in one token line.
type Holding struct {
	Owner      string          `json:"owner"`
	Vault      string          `json:"vault"`
	TokenMint  string          `json:"token_mint"`
	LPMint     string          `json:"lp_mint"`
	LPBalance  uint64          `json:"lp_balance"`
	UIBalance  decimal.Decimal `json:"ui_balance"` // LP balance scaled by LP decimals
	Share      decimal.Decimal `json:"share"`      // fraction of the line's LP supply
	Redeemable uint64          `json:"redeemable"` // principal returned if fully redeemed now
}

// Portfolio aggregates an owner's holdings across vaults.
type Portfolio struct {
	Owner    string    `json:"owner"`
	Holdings []Holding `json:"holdings"`
}
