package engine_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/mr-tron/base58"

	"github.com/atmx/vault-engine/internal/engine"
	"github.com/atmx/vault-engine/internal/model"
	"github.com/atmx/vault-engine/internal/vault"
)

type client struct {
	t      *testing.T
	router chi.Router
	key    solana.PrivateKey
}

func newRouter(e *testEnv) chi.Router {
	r := chi.NewRouter()
	r.Route("/api/v1", e.svc.Routes)
	return r
}

func newClient(t *testing.T, router chi.Router) *client {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	return &client{t: t, router: router, key: k}
}

func (c *client) pub() solana.PublicKey { return c.key.PublicKey() }

// post sends a signed POST request.
func (c *client) post(path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		c.t.Fatal(err)
	}
	sig, err := c.key.Sign(engine.SigningMessage(http.MethodPost, path, data))
	if err != nil {
		c.t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(engine.HeaderSigner, c.pub().String())
	req.Header.Set(engine.HeaderSignature, sig.String())
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	return w
}

func get(router chi.Router, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

type vaultResponse struct {
	Address    string            `json:"address"`
	Authority  string            `json:"authority"`
	VaultType  string            `json:"vault_type"`
	TokenInfos []vault.TokenInfo `json:"token_infos"`
}

func TestHTTP_VaultLifecycle(t *testing.T) {
	e := newTestEnv(t)
	router := newRouter(e)
	admin := newClient(t, router)
	user := newClient(t, router)
	mint := key()

	// Create.
	w := admin.post("/api/v1/vaults", map[string]any{"id": 9, "vault_type": "multi_token", "capacity": 2})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[vaultResponse](t, w)
	if created.Authority != admin.pub().String() || created.VaultType != "multi_token" {
		t.Errorf("unexpected vault %+v", created)
	}
	base := "/api/v1/vaults/" + created.Address
	line := base + "/tokens/" + mint.String()

	// Open a line without a deposit limit.
	w = admin.post(base+"/tokens", map[string]any{"token_mint": mint.String(), "lp_decimals": 6})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if ti := decode[vault.TokenInfo](t, w); ti.DepositLimit != vault.NoDepositLimit {
		t.Errorf("expected unlimited line, got %d", ti.DepositLimit)
	}

	// Deposit.
	e.custodian.Fund(user.pub(), mint, 5_000_000)
	w = user.post(line+"/deposit", engine.DepositRequest{Amount: 5_000_000})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if res := decode[engine.DepositResult](t, w); res.Minted != 5_000_000 || res.LPAmount != "5" {
		t.Errorf("unexpected deposit result %+v", res)
	}

	// Holdings.
	w = get(router, "/api/v1/holdings/"+user.pub().String())
	if p := decode[model.Portfolio](t, w); len(p.Holdings) != 1 || p.Holdings[0].LPBalance != 5_000_000 {
		t.Errorf("unexpected holdings %+v", p)
	}

	// Close is refused while funds remain: a business failure.
	w = admin.post(line+"/close", engine.CloseRequest{})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if er := decode[engine.ErrorResponse](t, w); er.Code != "token_with_deposits" || er.Class != engine.ClassBusiness {
		t.Errorf("unexpected error response %+v", er)
	}

	// Withdraw everything, then close the line and the vault.
	w = user.post(line+"/withdraw", engine.WithdrawRequest{LPAmount: 5_000_000})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w = admin.post(line+"/close", engine.CloseRequest{}); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w = admin.post(base+"/close", engine.CloseRequest{}); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if w = get(router, base); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after close, got %d", w.Code)
	}
	events := decode[[]model.Event](t, get(router, base+"/events"))
	if len(events) != 6 {
		t.Errorf("expected 6 events, got %d", len(events))
	}
}

func TestHTTP_CallerEvents(t *testing.T) {
	e := newTestEnv(t)
	router := newRouter(e)
	admin, user := newClient(t, router), newClient(t, router)
	mint := key()

	w := admin.post("/api/v1/vaults", map[string]any{"id": 2, "vault_type": "multi_token", "capacity": 1})
	created := decode[vaultResponse](t, w)
	line := "/api/v1/vaults/" + created.Address + "/tokens/" + mint.String()
	if w = admin.post("/api/v1/vaults/"+created.Address+"/tokens", map[string]any{"token_mint": mint.String()}); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	e.custodian.Fund(user.pub(), mint, 100)
	if w = user.post(line+"/deposit", engine.DepositRequest{Amount: 60}); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w = user.post(line+"/withdraw", engine.WithdrawRequest{LPAmount: 20}); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	events := decode[[]model.Event](t, get(router, "/api/v1/callers/"+user.pub().String()+"/events"))
	if len(events) != 2 || events[0].Op != model.OpDeposit || events[1].Op != model.OpWithdraw {
		t.Fatalf("expected deposit then withdraw, got %+v", events)
	}
	if events[0].Vault != created.Address || events[1].LPAmount != 20 {
		t.Errorf("unexpected events %+v", events)
	}

	admins := decode[[]model.Event](t, get(router, "/api/v1/callers/"+admin.pub().String()+"/events"))
	if len(admins) != 2 || admins[0].Op != model.OpCreateVault {
		t.Errorf("expected create and open events for the authority, got %+v", admins)
	}

	if w := get(router, "/api/v1/callers/"+key().String()+"/events"); w.Code != http.StatusOK || w.Body.String() == "null\n" {
		t.Errorf("expected empty list for unknown caller, got %d %s", w.Code, w.Body.String())
	}
}

func TestHTTP_FaucetFundsDeposits(t *testing.T) {
	e := newTestEnv(t)
	router := newRouter(e)
	user := newClient(t, router)
	v := e.multiVault(t, 1)
	mint := key()
	e.openLine(t, v, mint)
	line := "/api/v1/vaults/" + v.Address().String() + "/tokens/" + mint.String()

	// Disabled until a limit is set.
	w := user.post("/api/v1/faucet", engine.FaucetRequest{TokenMint: mint, Amount: 10})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 while disabled, got %d: %s", w.Code, w.Body.String())
	}

	e.svc.SetFaucetLimit(1_000)
	if w = user.post("/api/v1/faucet", engine.FaucetRequest{TokenMint: mint, Amount: 1_001}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 over the limit, got %d: %s", w.Code, w.Body.String())
	}
	if w = user.post("/api/v1/faucet", engine.FaucetRequest{TokenMint: mint, Amount: 1_000}); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := e.custodian.WalletBalance(user.pub(), mint); got != 1_000 {
		t.Errorf("expected funded wallet, got %d", got)
	}

	if w = user.post(line+"/deposit", engine.DepositRequest{Amount: 1_000}); w.Code != http.StatusOK {
		t.Errorf("expected funded deposit to succeed, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHTTP_RejectsBadSignature(t *testing.T) {
	e := newTestEnv(t)
	router := newRouter(e)
	c := newClient(t, router)

	body := []byte(`{"id":1,"vault_type":"multi_token","capacity":1}`)
	sig, err := c.key.Sign(engine.SigningMessage(http.MethodPost, "/api/v1/vaults", body))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		signer string
		sig    string
		body   []byte
	}{
		{"missing headers", "", "", body},
		{"tampered body", c.pub().String(), sig.String(), []byte(`{"id":2,"vault_type":"multi_token","capacity":1}`)},
		{"wrong signer", key().String(), sig.String(), body},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/vaults", bytes.NewReader(tt.body))
			req.Header.Set(engine.HeaderSigner, tt.signer)
			req.Header.Set(engine.HeaderSignature, tt.sig)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != http.StatusForbidden {
				t.Errorf("expected 403, got %d: %s", w.Code, w.Body.String())
			}
		})
	}

	// A signature for one route does not authorize another.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/vaults/"+key().String()+"/close", bytes.NewReader(body))
	req.Header.Set(engine.HeaderSigner, c.pub().String())
	req.Header.Set(engine.HeaderSignature, sig.String())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for replayed signature, got %d", w.Code)
	}
}

func TestHTTP_NonAuthorityIsForbidden(t *testing.T) {
	e := newTestEnv(t)
	router := newRouter(e)
	admin, intruder := newClient(t, router), newClient(t, router)

	w := admin.post("/api/v1/vaults", map[string]any{"id": 1, "vault_type": "multi", "capacity": 1})
	created := decode[vaultResponse](t, w)

	w = intruder.post("/api/v1/vaults/"+created.Address+"/tokens", map[string]any{"token_mint": key().String()})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	if er := decode[engine.ErrorResponse](t, w); er.Code != "unauthorized" {
		t.Errorf("expected unauthorized code, got %+v", er)
	}
}

func TestHTTP_StructuralErrors(t *testing.T) {
	e := newTestEnv(t)
	router := newRouter(e)
	c := newClient(t, router)

	if w := c.post("/api/v1/vaults", map[string]any{"id": 1, "vault_type": "pyramid"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown vault type, got %d", w.Code)
	}
	if w := c.post("/api/v1/vaults", map[string]any{"id": 1, "vault_type": "multi_token", "capacity": vault.MaxCapacity + 1}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for capacity, got %d", w.Code)
	}
	if w := get(router, "/api/v1/vaults/not-a-key"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed address, got %d", w.Code)
	}
}

func TestHTTP_AccountData(t *testing.T) {
	e := newTestEnv(t)
	router := newRouter(e)
	v := e.multiVault(t, 2)
	e.openLine(t, v, key())

	w := get(router, "/api/v1/vaults/"+v.Address().String()+"/account")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	acc := decode[engine.AccountResponse](t, w)
	if acc.Space != vault.AccountSize(2) || acc.Lamports != vault.RentExempt(acc.Space) {
		t.Errorf("unexpected account sizing %+v", acc)
	}

	data, err := base58.Decode(acc.Data)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := vault.Decode(data, vault.ProgramID)
	if err != nil {
		t.Fatal(err)
	}
	if !decoded.Address().Equals(v.Address()) || len(decoded.TokenInfos) != 1 {
		t.Errorf("account data does not round trip: %s with %d lines", decoded.Address(), len(decoded.TokenInfos))
	}
}
