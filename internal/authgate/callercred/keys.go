package callercred

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// ParseIssuerKeys parses "keyid:base64pub" pairs separated by commas,
// the format used in config and the KEI_CREDENTIAL_ISSUER_KEYS override.
func ParseIssuerKeys(raw string) (map[string]ed25519.PublicKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("issuer keys are required")
	}
	out := map[string]ed25519.PublicKey{}
	pairs := strings.Split(raw, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid issuer key pair %q", pair)
		}
		keyID := strings.TrimSpace(parts[0])
		pubRaw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid public key encoding for %q", keyID)
		}
		if len(pubRaw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid public key size for %q", keyID)
		}
		out[keyID] = pubRaw
	}
	return out, nil
}

// FormatIssuerKey renders one key in the ParseIssuerKeys pair format.
func FormatIssuerKey(keyID string, pub ed25519.PublicKey) string {
	return keyID + ":" + base64.StdEncoding.EncodeToString(pub)
}

// GenerateIssuerKey creates a fresh issuer keypair. The key id is
// derived from the public key so ids never collide silently.
func GenerateIssuerKey() (string, ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, nil, err
	}
	return KeyID(pub), pub, priv, nil
}

// KeyID derives the stable identifier for an issuer public key.
func KeyID(pub ed25519.PublicKey) string {
	sum := blake2b.Sum256(pub)
	return "keik1" + base58.Encode(sum[:8])
}
