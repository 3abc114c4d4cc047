package securestore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	data, err := Encrypt("pass", []byte(`{"reserves":{}}`))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	plain, err := Decrypt("pass", data)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if string(plain) != `{"reserves":{}}` {
		t.Fatalf("unexpected plaintext: %q", string(plain))
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	data, err := Encrypt("pass", []byte("state"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := Decrypt("other", data); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDecryptTamperedFailsDeterministically(t *testing.T) {
	data, err := Encrypt("pass", []byte("state"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if len(data) < 10 {
		t.Fatalf("unexpected encrypted payload size: %d", len(data))
	}
	data[len(data)-2] ^= 0xFF
	_, err = Decrypt("pass", data)
	if !errors.Is(err, ErrAuthFailed) && !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDecryptPlaintextReportsLegacy(t *testing.T) {
	if _, err := Decrypt("pass", []byte(`{"reserves":{}}`)); !errors.Is(err, ErrLegacyData) {
		t.Fatalf("expected ErrLegacyData, got %v", err)
	}
}

func TestReadDecryptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	sealed, err := Encrypt("pass", []byte(`{"k":"v"}`))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	plain, err := ReadDecryptedFile(path, "pass")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(plain) != `{"k":"v"}` {
		t.Fatalf("unexpected payload: %q", string(plain))
	}
	if _, err := ReadDecryptedFile(filepath.Join(t.TempDir(), "missing"), "pass"); err == nil {
		t.Fatal("expected missing file to fail")
	}
}
