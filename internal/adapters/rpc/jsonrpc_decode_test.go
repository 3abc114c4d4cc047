package rpc

import (
	"encoding/json"
	"testing"

	"github.com/KEI-finance/treasury-contracts/internal/treasury"
)

func TestParseAmountStrictness(t *testing.T) {
	if v, err := parseAmount(" 1000 "); err != nil || v.String() != "1000" {
		t.Fatalf("expected 1000, got %v err=%v", v, err)
	}
	if v, err := parseAmount("0"); err != nil || v.Sign() != 0 {
		t.Fatalf("expected zero to parse, got %v err=%v", v, err)
	}
	for _, raw := range []string{"", "-5", "0x10", "1.5", "ten"} {
		if _, err := parseAmount(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestDecodeSyncParamsForms(t *testing.T) {
	asset, max, err := decodeSyncParams(json.RawMessage(`{"asset":"0x4000000000000000000000000000000000000004","max_to_sync":"77"}`))
	if err != nil {
		t.Fatalf("decode object form: %v", err)
	}
	if asset != rpcUSDK || max == nil || max.String() != "77" {
		t.Fatalf("unexpected decode: asset=%s max=%v", asset.Hex(), max)
	}

	asset, max, err = decodeSyncParams(json.RawMessage(`["0x4000000000000000000000000000000000000004"]`))
	if err != nil || max != nil {
		t.Fatalf("decode positional form: asset=%s max=%v err=%v", asset.Hex(), max, err)
	}

	if _, _, err := decodeSyncParams(json.RawMessage(`{"asset":"nope"}`)); err == nil {
		t.Fatal("expected bad address to be rejected")
	}
	if _, _, err := decodeSyncParams(json.RawMessage(`{"asset":"0x4000000000000000000000000000000000000004","max_to_sync":"-1"}`)); err == nil {
		t.Fatal("expected negative cap to be rejected")
	}
}

func TestDecodeEventsParamsForms(t *testing.T) {
	afterSeq, limit, err := decodeEventsParams(nil)
	if err != nil || afterSeq != 0 || limit != 0 {
		t.Fatalf("expected empty defaults, got %d %d err=%v", afterSeq, limit, err)
	}

	afterSeq, limit, err = decodeEventsParams(json.RawMessage(`[5, 20]`))
	if err != nil || afterSeq != 5 || limit != 20 {
		t.Fatalf("positional decode: %d %d err=%v", afterSeq, limit, err)
	}

	afterSeq, limit, err = decodeEventsParams(json.RawMessage(`{"after_seq":3,"limit":7}`))
	if err != nil || afterSeq != 3 || limit != 7 {
		t.Fatalf("object decode: %d %d err=%v", afterSeq, limit, err)
	}

	if _, _, err := decodeEventsParams(json.RawMessage(`[-1, 5]`)); err == nil {
		t.Fatal("expected negative cursor to be rejected")
	}
	if _, _, err := decodeEventsParams(json.RawMessage(`{"limit":-2}`)); err == nil {
		t.Fatal("expected negative limit to be rejected")
	}
}

func TestDecodeRoleChangeParamsAcceptsNamedRoles(t *testing.T) {
	role, account, err := decodeRoleChangeParams(json.RawMessage(`{"role":"admin","account":"0x00000000000000000000000000000000000000a1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if role != treasury.AdminRole() {
		t.Fatalf("expected admin role, got %s", role)
	}
	if account != rpcAdmin {
		t.Fatalf("unexpected account %s", account.Hex())
	}

	if _, _, err := decodeRoleChangeParams(json.RawMessage(`{"role":"owner","account":"0x00000000000000000000000000000000000000a1"}`)); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}
}
