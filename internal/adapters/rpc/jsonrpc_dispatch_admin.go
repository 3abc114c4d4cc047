package rpc

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KEI-finance/treasury-contracts/internal/app"
)

func (s *Server) dispatchAdminRPC(caller common.Address, method string, raw json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case app.OpGrantRole:
		return treasuryCall(func() (any, error) {
			role, account, err := decodeRoleChangeParams(raw)
			if err != nil {
				return nil, err
			}
			changed, err := s.service.GrantRole(caller, role, account)
			if err != nil {
				return nil, err
			}
			return map[string]any{"changed": changed, "role": role.String(), "account": account.Hex()}, nil
		})
	case app.OpRevokeRole:
		return treasuryCall(func() (any, error) {
			role, account, err := decodeRoleChangeParams(raw)
			if err != nil {
				return nil, err
			}
			changed, err := s.service.RevokeRole(caller, role, account)
			if err != nil {
				return nil, err
			}
			return map[string]any{"changed": changed, "role": role.String(), "account": account.Hex()}, nil
		})
	case app.OpPause:
		return treasuryCall(func() (any, error) {
			changed, err := s.service.Pause(caller)
			if err != nil {
				return nil, err
			}
			return map[string]any{"changed": changed, "paused": true}, nil
		})
	case app.OpUnpause:
		return treasuryCall(func() (any, error) {
			changed, err := s.service.Unpause(caller)
			if err != nil {
				return nil, err
			}
			return map[string]any{"changed": changed, "paused": false}, nil
		})
	default:
		return nil, nil, false
	}
}
