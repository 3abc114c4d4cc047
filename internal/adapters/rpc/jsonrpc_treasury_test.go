package rpc

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KEI-finance/treasury-contracts/internal/api"
	"github.com/KEI-finance/treasury-contracts/internal/app"
	"github.com/KEI-finance/treasury-contracts/internal/authgate"
	"github.com/KEI-finance/treasury-contracts/internal/authgate/callercred"
	"github.com/KEI-finance/treasury-contracts/internal/chain"
	"github.com/KEI-finance/treasury-contracts/internal/storage"
	"github.com/KEI-finance/treasury-contracts/internal/treasury"
	"github.com/KEI-finance/treasury-contracts/pkg/models"
)

var (
	rpcUSDK      = common.HexToAddress("0x4000000000000000000000000000000000000004")
	rpcAdmin     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	rpcOperator  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	rpcRecipient = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

type rpcFixture struct {
	server      *Server
	client      *chain.MemoryClient
	access      *authgate.Registry
	revocations *callercred.InMemoryRevocations
	keyID       string
	issuerPrv   ed25519.PrivateKey
}

func newRPCFixture(t *testing.T) *rpcFixture {
	t.Helper()
	t.Setenv("KEI_ENV", "test")

	client := chain.NewMemoryClient([]common.Address{rpcUSDK}, nil)
	access := authgate.NewRegistry()
	if _, err := access.Grant(treasury.AdminRole(), rpcAdmin); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	if _, err := access.Grant(treasury.RoleOf(rpcUSDK), rpcOperator); err != nil {
		t.Fatalf("seed operator: %v", err)
	}

	svc, err := api.NewService(app.ServiceOptions{
		Ledger:  storage.NewReserveStore(),
		Journal: storage.NewEventJournal(),
		Access:  access,
		Chain:   client,
		Assets: []models.AssetInfo{
			{Address: rpcUSDK.Hex(), Symbol: "USDK", Decimals: 6},
		},
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}

	pub, prv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate issuer key: %v", err)
	}
	keyID := callercred.KeyID(pub)
	verifier := &callercred.Verifier{
		RequiredIssuer: callercred.RequiredIssuer,
		RequiredScope:  callercred.RequiredScope,
		PublicKeys:     map[string]ed25519.PublicKey{keyID: pub},
	}
	revocations := callercred.NewInMemoryRevocations()

	server := newServerWithService(DefaultRPCAddr, svc, "", false, ServerOptions{
		Verifier:    verifier,
		Revocations: revocations,
	})
	return &rpcFixture{
		server:      server,
		client:      client,
		access:      access,
		revocations: revocations,
		keyID:       keyID,
		issuerPrv:   prv,
	}
}

func (fx *rpcFixture) credential(t *testing.T, caller common.Address) string {
	t.Helper()
	claims := callercred.Claims{
		CredentialID: "cred-" + caller.Hex(),
		Caller:       caller,
		IssuedAt:     time.Now().Add(-time.Minute),
		ExpiresAt:    time.Now().Add(time.Hour),
		Scope:        callercred.RequiredScope,
		Issuer:       callercred.RequiredIssuer,
		KeyID:        fx.keyID,
	}
	credential, err := callercred.EncodeSignedCredential(claims, fx.issuerPrv)
	if err != nil {
		t.Fatalf("encode credential: %v", err)
	}
	return credential
}

func (fx *rpcFixture) call(t *testing.T, body, credential, idemKey string) rpcResponse {
	t.Helper()
	rec := fx.rawCall(t, body, credential, idemKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	return decodeRPCResponse(t, rec)
}

func (fx *rpcFixture) rawCall(t *testing.T, body, credential, idemKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if credential != "" {
		req.Header.Set("X-KEI-Credential", credential)
	}
	if idemKey != "" {
		req.Header.Set(rpcIdempotencyHeader, idemKey)
	}
	rec := httptest.NewRecorder()
	fx.server.HandleRPC(rec, req)
	return rec
}

func resultMap(t *testing.T, resp rpcResponse) map[string]any {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %#v", resp.Result)
	}
	return result
}

func bigInt(t *testing.T, raw string) *big.Int {
	t.Helper()
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		t.Fatalf("bad integer literal %q", raw)
	}
	return value
}

func TestRPCWithdrawFlow(t *testing.T) {
	fx := newRPCFixture(t)
	if err := fx.client.Credit(rpcUSDK, bigInt(t, "1000000")); err != nil {
		t.Fatalf("credit: %v", err)
	}

	syncBody := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"treasury.sync","params":{"asset":%q}}`, rpcUSDK.Hex())
	sync := resultMap(t, fx.call(t, syncBody, "", ""))
	if sync["received"] != "1000000" || sync["new_reserve"] != "1000000" {
		t.Fatalf("unexpected sync receipt: %#v", sync)
	}

	withdrawBody := fmt.Sprintf(
		`{"jsonrpc":"2.0","id":2,"method":"treasury.withdraw","params":{"asset":%q,"recipient":%q,"amount":"400000"}}`,
		rpcUSDK.Hex(), rpcRecipient.Hex(),
	)
	withdraw := resultMap(t, fx.call(t, withdrawBody, fx.credential(t, rpcOperator), ""))
	if withdraw["new_reserve"] != "600000" {
		t.Fatalf("unexpected withdraw receipt: %#v", withdraw)
	}
	if ref, ok := withdraw["tx_ref"].(string); !ok || ref == "" {
		t.Fatal("expected a transfer reference")
	}

	reservesBody := fmt.Sprintf(`{"jsonrpc":"2.0","id":3,"method":"treasury.reserves","params":{"asset":%q}}`, rpcUSDK.Hex())
	reserves := resultMap(t, fx.call(t, reservesBody, "", ""))
	if reserves["reserves"] != "600000" {
		t.Fatalf("unexpected reserves: %#v", reserves)
	}
}

func TestRPCWithdrawWithoutCredentialIsUnauthorized(t *testing.T) {
	fx := newRPCFixture(t)
	if err := fx.client.Credit(rpcUSDK, bigInt(t, "1000")); err != nil {
		t.Fatalf("credit: %v", err)
	}
	syncBody := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"treasury.sync","params":{"asset":%q}}`, rpcUSDK.Hex())
	resultMap(t, fx.call(t, syncBody, "", ""))

	withdrawBody := fmt.Sprintf(
		`{"jsonrpc":"2.0","id":2,"method":"treasury.withdraw","params":{"asset":%q,"recipient":%q,"amount":"100"}}`,
		rpcUSDK.Hex(), rpcRecipient.Hex(),
	)
	resp := fx.call(t, withdrawBody, "", "")
	if resp.Error == nil || resp.Error.Code != -32002 {
		t.Fatalf("expected rpc code -32002, got %+v", resp.Error)
	}
}

func TestRPCInsufficientReservesCode(t *testing.T) {
	fx := newRPCFixture(t)

	withdrawBody := fmt.Sprintf(
		`{"jsonrpc":"2.0","id":1,"method":"treasury.withdraw","params":{"asset":%q,"recipient":%q,"amount":"5"}}`,
		rpcUSDK.Hex(), rpcRecipient.Hex(),
	)
	resp := fx.call(t, withdrawBody, fx.credential(t, rpcOperator), "")
	if resp.Error == nil || resp.Error.Code != -32004 {
		t.Fatalf("expected rpc code -32004, got %+v", resp.Error)
	}
}

func TestRPCPausedCode(t *testing.T) {
	fx := newRPCFixture(t)

	pause := resultMap(t, fx.call(t, `{"jsonrpc":"2.0","id":1,"method":"admin.pause","params":{}}`, fx.credential(t, rpcAdmin), ""))
	if pause["changed"] != true {
		t.Fatalf("expected pause to change state: %#v", pause)
	}

	syncBody := fmt.Sprintf(`{"jsonrpc":"2.0","id":2,"method":"treasury.sync","params":{"asset":%q}}`, rpcUSDK.Hex())
	resp := fx.call(t, syncBody, "", "")
	if resp.Error == nil || resp.Error.Code != -32001 {
		t.Fatalf("expected rpc code -32001, got %+v", resp.Error)
	}
}

func TestRPCInvalidParamsCode(t *testing.T) {
	fx := newRPCFixture(t)

	resp := fx.call(t, `{"jsonrpc":"2.0","id":1,"method":"treasury.sync","params":{"asset":"not-an-address"}}`, "", "")
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Fatalf("expected rpc code -32602, got %+v", resp.Error)
	}
}

func TestRPCExpiredCredentialCode(t *testing.T) {
	fx := newRPCFixture(t)

	claims := callercred.Claims{
		CredentialID: "cred-expired",
		Caller:       rpcOperator,
		IssuedAt:     time.Now().Add(-2 * time.Hour),
		ExpiresAt:    time.Now().Add(-time.Hour),
		Scope:        callercred.RequiredScope,
		Issuer:       callercred.RequiredIssuer,
		KeyID:        fx.keyID,
	}
	credential, err := callercred.EncodeSignedCredential(claims, fx.issuerPrv)
	if err != nil {
		t.Fatalf("encode credential: %v", err)
	}

	resp := fx.call(t, `{"jsonrpc":"2.0","id":1,"method":"treasury.status","params":{}}`, credential, "")
	if resp.Error == nil || resp.Error.Code != -32009 {
		t.Fatalf("expected rpc code -32009, got %+v", resp.Error)
	}
}

func TestRPCRevokedCredentialCode(t *testing.T) {
	fx := newRPCFixture(t)
	credential := fx.credential(t, rpcOperator)
	if _, err := fx.revocations.Revoke("cred-"+rpcOperator.Hex(), time.Now()); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	resp := fx.call(t, `{"jsonrpc":"2.0","id":1,"method":"treasury.status","params":{}}`, credential, "")
	if resp.Error == nil || resp.Error.Code != -32010 {
		t.Fatalf("expected rpc code -32010, got %+v", resp.Error)
	}
}

func TestRPCIdempotentWithdrawReplays(t *testing.T) {
	fx := newRPCFixture(t)
	if err := fx.client.Credit(rpcUSDK, bigInt(t, "1000")); err != nil {
		t.Fatalf("credit: %v", err)
	}
	syncBody := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"treasury.sync","params":{"asset":%q}}`, rpcUSDK.Hex())
	resultMap(t, fx.call(t, syncBody, "", ""))

	credential := fx.credential(t, rpcOperator)
	withdrawBody := fmt.Sprintf(
		`{"jsonrpc":"2.0","id":2,"method":"treasury.withdraw","params":{"asset":%q,"recipient":%q,"amount":"400"}}`,
		rpcUSDK.Hex(), rpcRecipient.Hex(),
	)
	first := resultMap(t, fx.call(t, withdrawBody, credential, "idem-1"))
	second := resultMap(t, fx.call(t, withdrawBody, credential, "idem-1"))
	if first["tx_ref"] != second["tx_ref"] {
		t.Fatalf("expected replayed receipt, got %#v vs %#v", first, second)
	}

	reservesBody := fmt.Sprintf(`{"jsonrpc":"2.0","id":3,"method":"treasury.reserves","params":{"asset":%q}}`, rpcUSDK.Hex())
	reserves := resultMap(t, fx.call(t, reservesBody, "", ""))
	if reserves["reserves"] != "600" {
		t.Fatalf("expected a single debit, reserves %#v", reserves)
	}

	otherBody := fmt.Sprintf(
		`{"jsonrpc":"2.0","id":4,"method":"treasury.withdraw","params":{"asset":%q,"recipient":%q,"amount":"100"}}`,
		rpcUSDK.Hex(), rpcRecipient.Hex(),
	)
	resp := fx.call(t, otherBody, credential, "idem-1")
	if resp.Error == nil || resp.Error.Code != -32090 {
		t.Fatalf("expected rpc code -32090, got %+v", resp.Error)
	}
}

func TestRPCStatusAndEvents(t *testing.T) {
	fx := newRPCFixture(t)
	if err := fx.client.Credit(rpcUSDK, bigInt(t, "250")); err != nil {
		t.Fatalf("credit: %v", err)
	}
	syncBody := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"treasury.sync","params":{"asset":%q}}`, rpcUSDK.Hex())
	resultMap(t, fx.call(t, syncBody, "", ""))

	status := resultMap(t, fx.call(t, `{"jsonrpc":"2.0","id":2,"method":"treasury.status","params":{}}`, "", ""))
	assets, ok := status["assets"].([]any)
	if !ok || len(assets) != 1 {
		t.Fatalf("unexpected assets: %#v", status["assets"])
	}
	asset := assets[0].(map[string]any)
	if asset["reserve"] != "250" || asset["symbol"] != "USDK" {
		t.Fatalf("unexpected asset status: %#v", asset)
	}

	events := resultMap(t, fx.call(t, `{"jsonrpc":"2.0","id":3,"method":"treasury.events","params":{"after_seq":0,"limit":10}}`, "", ""))
	list, ok := events["events"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("unexpected events: %#v", events["events"])
	}

	verify := resultMap(t, fx.call(t, `{"jsonrpc":"2.0","id":4,"method":"treasury.verify_journal","params":{}}`, "", ""))
	if verify["intact"] != true {
		t.Fatalf("expected intact journal: %#v", verify)
	}
}

func TestRPCMetricsGet(t *testing.T) {
	fx := newRPCFixture(t)

	metricsResp := resultMap(t, fx.call(t, `{"jsonrpc":"2.0","id":1,"method":"metrics.get","params":{}}`, "", ""))
	if _, ok := metricsResp["journal_len"]; !ok {
		t.Fatalf("expected journal_len in metrics: %#v", metricsResp)
	}
	if _, ok := metricsResp["last_updated_at"]; !ok {
		t.Fatalf("expected last_updated_at in metrics: %#v", metricsResp)
	}
}
