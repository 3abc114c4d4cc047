// Package callercred verifies the signed caller credentials presented
// on RPC requests. A credential is an ed25519-signed claim set binding
// a credential id to an on-ledger caller address; the control plane
// issues them offline and the daemon only ever verifies.
package callercred

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrCredentialMalformed        = errors.New("caller credential is malformed")
	ErrCredentialIssuerInvalid    = errors.New("caller credential issuer is invalid")
	ErrCredentialScopeInvalid     = errors.New("caller credential scope is invalid")
	ErrCredentialClaimsInvalid    = errors.New("caller credential claims are invalid")
	ErrCredentialSignatureInvalid = errors.New("caller credential signature is invalid")
	ErrCredentialExpired          = errors.New("caller credential is expired")
	ErrCredentialRevoked          = errors.New("caller credential is revoked")
)

const RequiredIssuer = "kei-treasury-control-plane"
const RequiredScope = "treasury.call"

type Claims struct {
	CredentialID string         `json:"credential_id"`
	Caller       common.Address `json:"caller"`
	IssuedAt     time.Time      `json:"issued_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
	Scope        string         `json:"scope"`
	Issuer       string         `json:"issuer"`
	KeyID        string         `json:"key_id"`
}

type AuditEvent struct {
	EventType    string    `json:"event_type"`
	CredentialID string    `json:"credential_id,omitempty"`
	Issuer       string    `json:"issuer,omitempty"`
	KeyID        string    `json:"key_id,omitempty"`
	Result       string    `json:"result"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}

// RevocationList answers whether a credential id has been pulled.
type RevocationList interface {
	IsRevoked(credentialID string) bool
}

type Verifier struct {
	RequiredIssuer string
	RequiredScope  string
	PublicKeys     map[string]ed25519.PublicKey
	Now            func() time.Time
}

// Verify checks structure, claims, expiry, signature and revocation, in
// that order, and returns the bound caller claims. The audit event is
// returned for both outcomes so every presentation is recordable.
func (v Verifier) Verify(credential string, revoked RevocationList) (Claims, AuditEvent, error) {
	now := time.Now().UTC()
	if v.Now != nil {
		now = v.Now().UTC()
	}
	claims, payload, signature, err := decodeCredential(credential)
	if err != nil {
		return Claims{}, rejectedAudit(now, claims, "CRED_MALFORMED"), err
	}
	if err := validateClaims(claims, v.RequiredIssuer, v.RequiredScope); err != nil {
		code := "CRED_CLAIMS_INVALID"
		if errors.Is(err, ErrCredentialIssuerInvalid) {
			code = "CRED_ISSUER_INVALID"
		} else if errors.Is(err, ErrCredentialScopeInvalid) {
			code = "CRED_SCOPE_INVALID"
		}
		return Claims{}, rejectedAudit(now, claims, code), err
	}
	if !claims.ExpiresAt.After(now) {
		return Claims{}, rejectedAudit(now, claims, "CRED_EXPIRED"), ErrCredentialExpired
	}
	pub, ok := v.PublicKeys[claims.KeyID]
	if !ok || len(pub) != ed25519.PublicKeySize {
		return Claims{}, rejectedAudit(now, claims, "CRED_SIGNATURE_INVALID"), ErrCredentialSignatureInvalid
	}
	if !ed25519.Verify(pub, payload, signature) {
		return Claims{}, rejectedAudit(now, claims, "CRED_SIGNATURE_INVALID"), ErrCredentialSignatureInvalid
	}
	if revoked != nil && revoked.IsRevoked(claims.CredentialID) {
		return Claims{}, rejectedAudit(now, claims, "CRED_REVOKED"), ErrCredentialRevoked
	}
	return claims, AuditEvent{
		EventType:    "treasury.credential.verified",
		CredentialID: claims.CredentialID,
		Issuer:       claims.Issuer,
		KeyID:        claims.KeyID,
		Result:       "accepted",
		At:           now,
	}, nil
}

func rejectedAudit(at time.Time, claims Claims, reason string) AuditEvent {
	return AuditEvent{
		EventType:    "treasury.credential.verified",
		CredentialID: claims.CredentialID,
		Issuer:       claims.Issuer,
		KeyID:        claims.KeyID,
		Result:       "rejected",
		Reason:       reason,
		At:           at,
	}
}

func validateClaims(claims Claims, requiredIssuer, requiredScope string) error {
	if requiredIssuer == "" {
		requiredIssuer = RequiredIssuer
	}
	if requiredScope == "" {
		requiredScope = RequiredScope
	}
	if strings.TrimSpace(claims.Issuer) != requiredIssuer {
		return ErrCredentialIssuerInvalid
	}
	if strings.TrimSpace(claims.Scope) != requiredScope {
		return ErrCredentialScopeInvalid
	}
	if strings.TrimSpace(claims.CredentialID) == "" ||
		claims.IssuedAt.IsZero() ||
		claims.ExpiresAt.IsZero() ||
		claims.Caller == (common.Address{}) ||
		strings.TrimSpace(claims.KeyID) == "" {
		return ErrCredentialClaimsInvalid
	}
	if !claims.ExpiresAt.After(claims.IssuedAt) {
		return ErrCredentialClaimsInvalid
	}
	return nil
}

func decodeCredential(credential string) (Claims, []byte, []byte, error) {
	parts := strings.Split(strings.TrimSpace(credential), ".")
	if len(parts) != 2 {
		return Claims{}, nil, nil, ErrCredentialMalformed
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Claims{}, nil, nil, ErrCredentialMalformed
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, nil, nil, ErrCredentialMalformed
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, nil, nil, ErrCredentialMalformed
	}
	return claims, payload, signature, nil
}

func EncodeSignedCredential(claims Claims, privateKey ed25519.PrivateKey) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	signature := ed25519.Sign(privateKey, payload)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}
