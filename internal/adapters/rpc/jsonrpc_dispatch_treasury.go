package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KEI-finance/treasury-contracts/internal/app"
)

func (s *Server) dispatchTreasuryRPC(ctx context.Context, caller common.Address, method string, raw json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "treasury.balance_of":
		return treasuryCall(func() (any, error) {
			asset, err := decodeAssetParam(raw)
			if err != nil {
				return nil, err
			}
			balance, err := s.service.BalanceOf(ctx, asset)
			if err != nil {
				return nil, err
			}
			return map[string]string{"asset": asset.Hex(), "balance": balance}, nil
		})
	case "treasury.reserves":
		return treasuryCall(func() (any, error) {
			asset, err := decodeAssetParam(raw)
			if err != nil {
				return nil, err
			}
			return map[string]string{"asset": asset.Hex(), "reserves": s.service.Reserves(asset)}, nil
		})
	case "treasury.role_of":
		return treasuryCall(func() (any, error) {
			kind, asset, err := decodeRoleOfParams(raw)
			if err != nil {
				return nil, err
			}
			return s.service.RoleOf(kind, asset)
		})
	case app.OpSync:
		return treasuryCall(func() (any, error) {
			asset, maxToSync, err := decodeSyncParams(raw)
			if err != nil {
				return nil, err
			}
			return s.service.Sync(ctx, caller, asset, maxToSync)
		})
	case app.OpWithdraw:
		return treasuryCall(func() (any, error) {
			asset, recipient, amount, err := decodeTransferParams(raw)
			if err != nil {
				return nil, err
			}
			return s.service.Withdraw(ctx, caller, asset, recipient, amount)
		})
	case app.OpRelinquish:
		return treasuryCall(func() (any, error) {
			asset, amount, err := decodeRelinquishParams(raw)
			if err != nil {
				return nil, err
			}
			return s.service.Relinquish(ctx, caller, asset, amount)
		})
	case app.OpSyncAndWithdraw:
		return treasuryCall(func() (any, error) {
			asset, recipient, amount, maxToSync, err := decodeSyncWithdrawParams(raw)
			if err != nil {
				return nil, err
			}
			return s.service.SyncAndWithdraw(ctx, caller, asset, recipient, amount, maxToSync)
		})
	case app.OpSkim:
		return treasuryCall(func() (any, error) {
			asset, recipient, err := decodeSkimParams(raw)
			if err != nil {
				return nil, err
			}
			return s.service.Skim(ctx, caller, asset, recipient)
		})
	case "treasury.status":
		return treasuryCall(func() (any, error) {
			return s.service.GetStatus(ctx), nil
		})
	case "treasury.events":
		return treasuryCall(func() (any, error) {
			afterSeq, limit, err := decodeEventsParams(raw)
			if err != nil {
				return nil, err
			}
			return map[string]any{"events": s.service.Events(afterSeq, limit)}, nil
		})
	case "treasury.verify_journal":
		return treasuryCall(func() (any, error) {
			return s.service.VerifyJournal(), nil
		})
	case "metrics.get":
		return treasuryCall(func() (any, error) {
			snapshot := s.service.GetMetrics()
			snapshot.RateLimiterKeys = s.limiter.size()
			return snapshot, nil
		})
	default:
		return nil, nil, false
	}
}

func treasuryCall(call func() (any, error)) (any, *rpcError, bool) {
	result, err := call()
	if err != nil {
		if errors.Is(err, errInvalidParams) {
			return nil, rpcInvalidParams(), true
		}
		return nil, mapTreasuryRPCError(err), true
	}
	return result, nil, true
}
