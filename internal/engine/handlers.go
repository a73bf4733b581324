package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/mr-tron/base58"

	"github.com/atmx/vault-engine/internal/model"
	"github.com/atmx/vault-engine/internal/vault"
)

// --- Request/Response types ---

// CreateVaultRequest is the JSON body for POST /vaults. The signer becomes
// the vault authority.
type CreateVaultRequest struct {
	ID               uint64           `json:"id"`
	VaultType        vault.VaultType  `json:"vault_type"`
	Capacity         int              `json:"capacity,omitempty"`
	AccountNumber    uint8            `json:"account_number"`
	SubAccountNumber uint8            `json:"sub_account_number"`
	TokenMint        solana.PublicKey `json:"token_mint,omitempty"` // single_token only
	LPDecimals       uint8            `json:"lp_decimals,omitempty"`
	DepositLimit     *uint64          `json:"deposit_limit,omitempty"` // nil → unlimited
}

// OpenDepositsRequest is the JSON body for POST /vaults/{vault}/tokens.
type OpenDepositsRequest struct {
	TokenMint    solana.PublicKey `json:"token_mint"`
	LPDecimals   uint8            `json:"lp_decimals"`
	DepositLimit *uint64          `json:"deposit_limit,omitempty"`
}

// LimitRequest is the JSON body for POST .../limit.
type LimitRequest struct {
	DepositLimit uint64 `json:"deposit_limit"`
}

// DepositRequest is the JSON body for POST .../deposit.
type DepositRequest struct {
	Amount uint64 `json:"amount"`
}

// WithdrawRequest is the JSON body for POST .../withdraw.
type WithdrawRequest struct {
	LPAmount uint64 `json:"lp_amount"`
}

// CloseRequest is the JSON body for the close routes. Destination defaults
// to the signer.
type CloseRequest struct {
	Destination *solana.PublicKey `json:"destination,omitempty"`
}

// FaucetRequest is the JSON body for POST /faucet. The signer's wallet is
// credited.
type FaucetRequest struct {
	TokenMint solana.PublicKey `json:"token_mint"`
	Amount    uint64           `json:"amount"`
}

// AccountResponse is the raw account view of a vault.
type AccountResponse struct {
	Address  string `json:"address"`
	Owner    string `json:"owner"`
	Lamports uint64 `json:"lamports"`
	Space    int    `json:"space"`
	Encoding string `json:"encoding"`
	Data     string `json:"data"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Class Class  `json:"class"`
}

// Routes mounts the vault API on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/vaults", s.handleListVaults)
	r.Get("/vaults/{vault}", s.handleGetVault)
	r.Get("/vaults/{vault}/account", s.handleGetAccount)
	r.Get("/vaults/{vault}/events", s.handleGetEvents)
	r.Get("/callers/{caller}/events", s.handleGetCallerEvents)
	r.Get("/holdings/{owner}", s.handleGetHoldings)

	r.Group(func(r chi.Router) {
		r.Use(RequireSignature)

		r.Post("/vaults", s.handleCreateVault)
		r.Post("/vaults/{vault}/tokens", s.handleOpenDeposits)
		r.Post("/vaults/{vault}/tokens/{mint}/enable", s.handleEnableDeposits)
		r.Post("/vaults/{vault}/tokens/{mint}/disable", s.handleDisableDeposits)
		r.Post("/vaults/{vault}/tokens/{mint}/limit", s.handleSetDepositLimit)
		r.Post("/vaults/{vault}/tokens/{mint}/deposit", s.handleDeposit)
		r.Post("/vaults/{vault}/tokens/{mint}/withdraw", s.handleWithdraw)
		r.Post("/vaults/{vault}/tokens/{mint}/close", s.handleCloseDeposits)
		r.Post("/vaults/{vault}/close", s.handleCloseVault)
		r.Post("/faucet", s.handleFaucet)
	})
}

// --- HTTP Handlers ---

// handleCreateVault handles POST /api/v1/vaults
func (s *Service) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	var req CreateVaultRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	signer, _ := SignerFrom(r.Context())

	v, err := s.CreateVault(r.Context(), CreateVaultParams{
		Authority:        signer,
		ID:               req.ID,
		Type:             req.VaultType,
		Capacity:         req.Capacity,
		AccountNumber:    req.AccountNumber,
		SubAccountNumber: req.SubAccountNumber,
		TokenMint:        req.TokenMint,
		LPDecimals:       req.LPDecimals,
		DepositLimit:     limitOrUnlimited(req.DepositLimit),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// handleListVaults handles GET /api/v1/vaults, optionally filtered by
// ?authority=<pubkey>.
func (s *Service) handleListVaults(w http.ResponseWriter, r *http.Request) {
	var authority solana.PublicKey
	if q := r.URL.Query().Get("authority"); q != "" {
		pk, err := solana.PublicKeyFromBase58(q)
		if err != nil {
			writeError(w, fmt.Errorf("%w: authority: %v", ErrBadRequest, err))
			return
		}
		authority = pk
	}

	vaults, err := s.ListVaults(r.Context(), authority)
	if err != nil {
		writeError(w, err)
		return
	}
	if vaults == nil {
		vaults = []*vault.Vault{}
	}
	writeJSON(w, http.StatusOK, vaults)
}

// handleGetVault handles GET /api/v1/vaults/{vault}
func (s *Service) handleGetVault(w http.ResponseWriter, r *http.Request) {
	addr, err := pathKey(r, "vault")
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := s.GetVault(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleGetAccount handles GET /api/v1/vaults/{vault}/account
// Returns the persisted account layout, base58 encoded as RPC nodes do.
func (s *Service) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := pathKey(r, "vault")
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := s.GetVault(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := vault.Encode(v)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{
		Address:  addr.String(),
		Owner:    v.ProgramID().String(),
		Lamports: vault.RentExempt(len(data)),
		Space:    len(data),
		Encoding: "base58",
		Data:     base58.Encode(data),
	})
}

// handleGetEvents handles GET /api/v1/vaults/{vault}/events
func (s *Service) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	addr, err := pathKey(r, "vault")
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := s.Events(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleGetCallerEvents handles GET /api/v1/callers/{caller}/events
func (s *Service) handleGetCallerEvents(w http.ResponseWriter, r *http.Request) {
	caller, err := pathKey(r, "caller")
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := s.EventsByCaller(r.Context(), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleGetHoldings handles GET /api/v1/holdings/{owner}
func (s *Service) handleGetHoldings(w http.ResponseWriter, r *http.Request) {
	owner, err := pathKey(r, "owner")
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.Holdings(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleOpenDeposits handles POST /api/v1/vaults/{vault}/tokens
func (s *Service) handleOpenDeposits(w http.ResponseWriter, r *http.Request) {
	addr, err := pathKey(r, "vault")
	if err != nil {
		writeError(w, err)
		return
	}
	var req OpenDepositsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	signer, _ := SignerFrom(r.Context())

	line, err := s.OpenDeposits(r.Context(), signer, addr, OpenDepositsParams{
		TokenMint:    req.TokenMint,
		LPDecimals:   req.LPDecimals,
		DepositLimit: limitOrUnlimited(req.DepositLimit),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

func (s *Service) handleEnableDeposits(w http.ResponseWriter, r *http.Request) {
	s.handleToggle(w, r, s.EnableDeposits)
}

func (s *Service) handleDisableDeposits(w http.ResponseWriter, r *http.Request) {
	s.handleToggle(w, r, s.DisableDeposits)
}

func (s *Service) handleToggle(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, caller, addr, mint solana.PublicKey) (vault.TokenInfo, error)) {
	addr, mint, err := lineKeys(r)
	if err != nil {
		writeError(w, err)
		return
	}
	signer, _ := SignerFrom(r.Context())

	line, err := fn(r.Context(), signer, addr, mint)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

// handleSetDepositLimit handles POST /api/v1/vaults/{vault}/tokens/{mint}/limit
func (s *Service) handleSetDepositLimit(w http.ResponseWriter, r *http.Request) {
	addr, mint, err := lineKeys(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req LimitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	signer, _ := SignerFrom(r.Context())

	line, err := s.SetDepositLimit(r.Context(), signer, addr, mint, req.DepositLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

// handleDeposit handles POST /api/v1/vaults/{vault}/tokens/{mint}/deposit
// The signer is the depositor and receives the LP tokens.
func (s *Service) handleDeposit(w http.ResponseWriter, r *http.Request) {
	addr, mint, err := lineKeys(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req DepositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	signer, _ := SignerFrom(r.Context())

	res, err := s.Deposit(r.Context(), signer, addr, mint, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleWithdraw handles POST /api/v1/vaults/{vault}/tokens/{mint}/withdraw
func (s *Service) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	addr, mint, err := lineKeys(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req WithdrawRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	signer, _ := SignerFrom(r.Context())

	res, err := s.Withdraw(r.Context(), signer, addr, mint, req.LPAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCloseDeposits handles POST /api/v1/vaults/{vault}/tokens/{mint}/close
func (s *Service) handleCloseDeposits(w http.ResponseWriter, r *http.Request) {
	addr, mint, err := lineKeys(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req CloseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	signer, _ := SignerFrom(r.Context())

	res, err := s.CloseDeposits(r.Context(), signer, addr, mint, destinationOr(req.Destination, signer))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCloseVault handles POST /api/v1/vaults/{vault}/close
func (s *Service) handleCloseVault(w http.ResponseWriter, r *http.Request) {
	addr, err := pathKey(r, "vault")
	if err != nil {
		writeError(w, err)
		return
	}
	var req CloseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	signer, _ := SignerFrom(r.Context())

	res, err := s.CloseVault(r.Context(), signer, addr, destinationOr(req.Destination, signer))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Helpers ---

func pathKey(r *http.Request, param string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(chi.URLParam(r, param))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %s: %v", ErrBadRequest, param, err)
	}
	return pk, nil
}

func lineKeys(r *http.Request) (addr, mint solana.PublicKey, err error) {
	if addr, err = pathKey(r, "vault"); err != nil {
		return
	}
	mint, err = pathKey(r, "mint")
	return
}

// decodeBody decodes a JSON body. An empty body leaves dst untouched.
// handleFaucet handles POST /api/v1/faucet
func (s *Service) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	signer, _ := SignerFrom(r.Context())

	if err := s.Fund(r.Context(), signer, req.TokenMint, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":      signer.String(),
		"token_mint": req.TokenMint.String(),
		"amount":     req.Amount,
	})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

func limitOrUnlimited(limit *uint64) uint64 {
	if limit == nil {
		return vault.NoDepositLimit
	}
	return *limit
}

func destinationOr(dest *solana.PublicKey, fallback solana.PublicKey) solana.PublicKey {
	if dest == nil || dest.IsZero() {
		return fallback
	}
	return *dest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a classified JSON error response.
func writeError(w http.ResponseWriter, err error) {
	code, class := lookup(err)
	writeJSON(w, class.HTTPStatus(), ErrorResponse{
		Error: err.Error(),
		Code:  code,
		Class: class,
	})
}
