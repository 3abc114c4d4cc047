package rpc

import (
	"errors"

	"github.com/KEI-finance/treasury-contracts/internal/authgate"
	"github.com/KEI-finance/treasury-contracts/internal/authgate/callercred"
	"github.com/KEI-finance/treasury-contracts/internal/treasury"
)

func rpcInvalidParams() *rpcError {
	return &rpcError{Code: -32602, Message: "invalid params"}
}

// mapTreasuryRPCError translates engine and registry sentinels into
// stable wire codes. Anything unrecognized is reported as an internal
// error without leaking the underlying message structure.
func mapTreasuryRPCError(err error) *rpcError {
	switch {
	case errors.Is(err, treasury.ErrPaused):
		return &rpcError{Code: -32001, Message: err.Error()}
	case errors.Is(err, treasury.ErrUnauthorized):
		return &rpcError{Code: -32002, Message: err.Error()}
	case errors.Is(err, treasury.ErrZeroAmount):
		return &rpcError{Code: -32003, Message: err.Error()}
	case errors.Is(err, treasury.ErrInsufficientReserves):
		return &rpcError{Code: -32004, Message: err.Error()}
	case errors.Is(err, treasury.ErrZeroRecipient), errors.Is(err, authgate.ErrZeroAccount):
		return &rpcError{Code: -32005, Message: err.Error()}
	case errors.Is(err, treasury.ErrUnknownAsset):
		return &rpcError{Code: -32006, Message: err.Error()}
	case errors.Is(err, treasury.ErrTransferFailed):
		return &rpcError{Code: -32007, Message: err.Error()}
	default:
		return &rpcError{Code: -32000, Message: err.Error()}
	}
}

func mapCredentialRPCError(err error) *rpcError {
	switch {
	case errors.Is(err, callercred.ErrCredentialExpired):
		return &rpcError{Code: -32009, Message: err.Error()}
	case errors.Is(err, callercred.ErrCredentialRevoked):
		return &rpcError{Code: -32010, Message: err.Error()}
	default:
		return &rpcError{Code: -32008, Message: err.Error()}
	}
}
