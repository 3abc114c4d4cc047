package treasury

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Role identifies an authorization scope as a 32-byte hash handle.
// Per-asset roles are derived from the asset address; the skim and admin
// roles are fixed, label-derived handles that no asset can collide with.
type Role [32]byte

const (
	assetRoleTag = "kei/treasury/role/asset/v1"
	skimRoleTag  = "kei/treasury/role/skim/v1"
	adminRoleTag = "kei/treasury/role/admin/v1"
)

// RoleOf derives the controlling role for an asset. The derivation is a
// one-way Keccak-256 over a domain tag and the asset address, so a role
// handle cannot be forged from another asset's handle.
func RoleOf(asset common.Address) Role {
	return Role(crypto.Keccak256Hash([]byte(assetRoleTag), asset.Bytes()))
}

// SkimRole returns the single global role controlling surplus extraction.
func SkimRole() Role {
	return Role(crypto.Keccak256Hash([]byte(skimRoleTag)))
}

// AdminRole returns the role controlling grants, revocations and pausing.
func AdminRole() Role {
	return Role(crypto.Keccak256Hash([]byte(adminRoleTag)))
}

func (r Role) String() string {
	return "0x" + hex.EncodeToString(r[:])
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRole accepts the named roles "skim" and "admin", a 0x-prefixed
// 32-byte hex handle, or "asset:0x<address>" for a per-asset role.
func ParseRole(raw string) (Role, error) {
	trimmed := strings.TrimSpace(raw)
	switch strings.ToLower(trimmed) {
	case "skim":
		return SkimRole(), nil
	case "admin":
		return AdminRole(), nil
	}
	if rest, ok := strings.CutPrefix(strings.ToLower(trimmed), "asset:"); ok {
		if !common.IsHexAddress(rest) {
			return Role{}, fmt.Errorf("invalid asset address in role %q", raw)
		}
		return RoleOf(common.HexToAddress(rest)), nil
	}
	hexPart := strings.TrimPrefix(trimmed, "0x")
	decoded, err := hex.DecodeString(hexPart)
	if err != nil || len(decoded) != 32 {
		return Role{}, fmt.Errorf("invalid role handle %q", raw)
	}
	var role Role
	copy(role[:], decoded)
	return role, nil
}
