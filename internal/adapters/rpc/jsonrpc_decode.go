package rpc

import (
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KEI-finance/treasury-contracts/internal/treasury"
)

var errInvalidParams = errors.New("invalid params")

// parseChecksumAddress rejects anything that is not a plain 20-byte hex
// address. Amounts and addresses arrive as strings; JSON numbers cannot
// carry uint256 values.
func parseChecksumAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, errInvalidParams
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errInvalidParams
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, errInvalidParams
	}
	return value, nil
}

// parseOptionalAmount treats absent, null and empty values as "no cap".
func parseOptionalAmount(raw *string) (*big.Int, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	return parseAmount(*raw)
}

func decodeAssetParam(raw json.RawMessage) (common.Address, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 1 {
		return parseChecksumAddress(arr[0])
	}
	var payload struct {
		Asset string `json:"asset"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Asset == "" {
		return common.Address{}, errInvalidParams
	}
	return parseChecksumAddress(payload.Asset)
}

func decodeRoleOfParams(raw json.RawMessage) (string, common.Address, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		switch len(arr) {
		case 1:
			kind := strings.TrimSpace(arr[0])
			if kind == "" {
				return "", common.Address{}, errInvalidParams
			}
			return kind, common.Address{}, nil
		case 2:
			kind := strings.TrimSpace(arr[0])
			asset, err := parseChecksumAddress(arr[1])
			if kind == "" || err != nil {
				return "", common.Address{}, errInvalidParams
			}
			return kind, asset, nil
		}
	}

	var payload struct {
		Kind  string `json:"kind"`
		Asset string `json:"asset"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", common.Address{}, errInvalidParams
	}
	kind := strings.TrimSpace(payload.Kind)
	if kind == "" {
		return "", common.Address{}, errInvalidParams
	}
	if strings.TrimSpace(payload.Asset) == "" {
		return kind, common.Address{}, nil
	}
	asset, err := parseChecksumAddress(payload.Asset)
	if err != nil {
		return "", common.Address{}, errInvalidParams
	}
	return kind, asset, nil
}

type syncParams struct {
	Asset     string  `json:"asset"`
	MaxToSync *string `json:"max_to_sync"`
}

func decodeSyncParams(raw json.RawMessage) (common.Address, *big.Int, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && (len(arr) == 1 || len(arr) == 2) {
		asset, err := parseChecksumAddress(arr[0])
		if err != nil {
			return common.Address{}, nil, errInvalidParams
		}
		if len(arr) == 1 {
			return asset, nil, nil
		}
		max, err := parseOptionalAmount(&arr[1])
		if err != nil {
			return common.Address{}, nil, errInvalidParams
		}
		return asset, max, nil
	}

	var p syncParams
	if err := json.Unmarshal(raw, &p); err != nil || p.Asset == "" {
		return common.Address{}, nil, errInvalidParams
	}
	asset, err := parseChecksumAddress(p.Asset)
	if err != nil {
		return common.Address{}, nil, errInvalidParams
	}
	max, err := parseOptionalAmount(p.MaxToSync)
	if err != nil {
		return common.Address{}, nil, errInvalidParams
	}
	return asset, max, nil
}

type transferParams struct {
	Asset     string `json:"asset"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func decodeTransferParams(raw json.RawMessage) (common.Address, common.Address, *big.Int, error) {
	var p transferParams
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 3 {
		p = transferParams{Asset: arr[0], Recipient: arr[1], Amount: arr[2]}
	} else if err := json.Unmarshal(raw, &p); err != nil {
		return common.Address{}, common.Address{}, nil, errInvalidParams
	}
	asset, err := parseChecksumAddress(p.Asset)
	if err != nil {
		return common.Address{}, common.Address{}, nil, errInvalidParams
	}
	recipient, err := parseChecksumAddress(p.Recipient)
	if err != nil {
		return common.Address{}, common.Address{}, nil, errInvalidParams
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return common.Address{}, common.Address{}, nil, errInvalidParams
	}
	return asset, recipient, amount, nil
}

type syncWithdrawParams struct {
	Asset     string  `json:"asset"`
	Recipient string  `json:"recipient"`
	Amount    string  `json:"amount"`
	MaxToSync *string `json:"max_to_sync"`
}

func decodeSyncWithdrawParams(raw json.RawMessage) (common.Address, common.Address, *big.Int, *big.Int, error) {
	var p syncWithdrawParams
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && (len(arr) == 3 || len(arr) == 4) {
		p = syncWithdrawParams{Asset: arr[0], Recipient: arr[1], Amount: arr[2]}
		if len(arr) == 4 {
			p.MaxToSync = &arr[3]
		}
	} else if err := json.Unmarshal(raw, &p); err != nil {
		return common.Address{}, common.Address{}, nil, nil, errInvalidParams
	}
	asset, err := parseChecksumAddress(p.Asset)
	if err != nil {
		return common.Address{}, common.Address{}, nil, nil, errInvalidParams
	}
	recipient, err := parseChecksumAddress(p.Recipient)
	if err != nil {
		return common.Address{}, common.Address{}, nil, nil, errInvalidParams
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return common.Address{}, common.Address{}, nil, nil, errInvalidParams
	}
	max, err := parseOptionalAmount(p.MaxToSync)
	if err != nil {
		return common.Address{}, common.Address{}, nil, nil, errInvalidParams
	}
	return asset, recipient, amount, max, nil
}

func decodeRelinquishParams(raw json.RawMessage) (common.Address, *big.Int, error) {
	var p struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 2 {
		p.Asset, p.Amount = arr[0], arr[1]
	} else if err := json.Unmarshal(raw, &p); err != nil {
		return common.Address{}, nil, errInvalidParams
	}
	asset, err := parseChecksumAddress(p.Asset)
	if err != nil {
		return common.Address{}, nil, errInvalidParams
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return common.Address{}, nil, errInvalidParams
	}
	return asset, amount, nil
}

func decodeSkimParams(raw json.RawMessage) (common.Address, common.Address, error) {
	var p struct {
		Asset     string `json:"asset"`
		Recipient string `json:"recipient"`
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 2 {
		p.Asset, p.Recipient = arr[0], arr[1]
	} else if err := json.Unmarshal(raw, &p); err != nil {
		return common.Address{}, common.Address{}, errInvalidParams
	}
	asset, err := parseChecksumAddress(p.Asset)
	if err != nil {
		return common.Address{}, common.Address{}, errInvalidParams
	}
	recipient, err := parseChecksumAddress(p.Recipient)
	if err != nil {
		return common.Address{}, common.Address{}, errInvalidParams
	}
	return asset, recipient, nil
}

func decodeRoleChangeParams(raw json.RawMessage) (treasury.Role, common.Address, error) {
	var p struct {
		Role    string `json:"role"`
		Account string `json:"account"`
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 2 {
		p.Role, p.Account = arr[0], arr[1]
	} else if err := json.Unmarshal(raw, &p); err != nil {
		return treasury.Role{}, common.Address{}, errInvalidParams
	}
	role, err := treasury.ParseRole(p.Role)
	if err != nil {
		return treasury.Role{}, common.Address{}, errInvalidParams
	}
	account, err := parseChecksumAddress(p.Account)
	if err != nil {
		return treasury.Role{}, common.Address{}, errInvalidParams
	}
	return role, account, nil
}

func decodeEventsParams(raw json.RawMessage) (uint64, int, error) {
	if len(raw) == 0 {
		return 0, 0, nil
	}
	var arr []any
	if err := json.Unmarshal(raw, &arr); err == nil {
		switch len(arr) {
		case 0:
			return 0, 0, nil
		case 2:
			afterSeq, err := decodeStrictNonNegativeInt(arr[0])
			if err != nil {
				return 0, 0, errInvalidParams
			}
			limit, err := decodeStrictNonNegativeInt(arr[1])
			if err != nil {
				return 0, 0, errInvalidParams
			}
			return uint64(afterSeq), limit, nil
		default:
			return 0, 0, errInvalidParams
		}
	}

	var p struct {
		AfterSeq *uint64 `json:"after_seq"`
		Limit    *int    `json:"limit"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, 0, errInvalidParams
	}
	var afterSeq uint64
	if p.AfterSeq != nil {
		afterSeq = *p.AfterSeq
	}
	var limit int
	if p.Limit != nil {
		if *p.Limit < 0 {
			return 0, 0, errInvalidParams
		}
		limit = *p.Limit
	}
	return afterSeq, limit, nil
}

func decodeStrictNonNegativeInt(raw any) (int, error) {
	v, ok := raw.(float64)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errInvalidParams
	}
	if v < 0 || math.Trunc(v) != v {
		return 0, errInvalidParams
	}
	maxInt := float64(^uint(0) >> 1)
	if v > maxInt {
		return 0, errInvalidParams
	}
	return int(v), nil
}
