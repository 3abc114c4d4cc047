package rpc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func testRequestHash(method, params string) string {
	return rpcRequestHash(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  json.RawMessage(params),
	})
}

func TestIdempotencyCacheReplaysMatchingRequest(t *testing.T) {
	cache := newRPCIdempotencyCache()
	now := time.Now()
	hash := testRequestHash("treasury.withdraw", `{"amount":"5"}`)
	stored := rpcResponse{JSONRPC: "2.0", Result: map[string]string{"tx_ref": "memtx_1"}}

	cache.set("key-1", hash, stored, now)

	got, hit, conflict := cache.get("key-1", hash, now.Add(time.Second))
	if !hit || conflict {
		t.Fatalf("expected hit without conflict, hit=%v conflict=%v", hit, conflict)
	}
	result, ok := got.Result.(map[string]string)
	if !ok || result["tx_ref"] != "memtx_1" {
		t.Fatalf("unexpected cached result: %#v", got.Result)
	}
}

func TestIdempotencyCacheFlagsConflictingReuse(t *testing.T) {
	cache := newRPCIdempotencyCache()
	now := time.Now()
	cache.set("key-1", testRequestHash("treasury.withdraw", `{"amount":"5"}`), rpcResponse{}, now)

	_, hit, conflict := cache.get("key-1", testRequestHash("treasury.withdraw", `{"amount":"6"}`), now)
	if hit || !conflict {
		t.Fatalf("expected conflict, hit=%v conflict=%v", hit, conflict)
	}
}

func TestIdempotencyCacheExpiresEntries(t *testing.T) {
	cache := newRPCIdempotencyCache()
	now := time.Now()
	hash := testRequestHash("treasury.sync", `{}`)
	cache.set("key-1", hash, rpcResponse{}, now)

	_, hit, _ := cache.get("key-1", hash, now.Add(rpcIdempotencyTTL+time.Second))
	if hit {
		t.Fatal("expected entry to expire")
	}
}

func TestIdempotencyKeyScopedToCaller(t *testing.T) {
	a := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	b := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	if rpcIdempotencyKey("same", "tok", a) == rpcIdempotencyKey("same", "tok", b) {
		t.Fatal("expected caller-scoped keys to differ")
	}
	if rpcIdempotencyKey("  ", "tok", a) != "" {
		t.Fatal("expected blank key to disable idempotency")
	}
}
