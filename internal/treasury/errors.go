package treasury

import (
	"errors"
	"fmt"
)

var (
	// ErrZeroAmount rejects operations that require a positive amount.
	ErrZeroAmount = errors.New("amount must be positive")
	// ErrInsufficientReserves rejects debits exceeding the tracked reserve.
	ErrInsufficientReserves = errors.New("insufficient reserves")
	// ErrZeroRecipient rejects transfers to the zero address.
	ErrZeroRecipient = errors.New("recipient is the zero address")
	// ErrUnauthorized rejects callers lacking the required role.
	ErrUnauthorized = errors.New("caller lacks required role")
	// ErrPaused rejects state-changing operations while the treasury is suspended.
	ErrPaused = errors.New("treasury is paused")
	// ErrUnknownAsset rejects balance queries against unrecognized assets.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrTransferFailed marks an outbound transfer the backend rejected;
	// the ledger debit has already been rolled back.
	ErrTransferFailed = errors.New("transfer failed")
)

// ChainBreakError reports the first journal record that fails hash
// chain verification.
type ChainBreakError struct {
	Seq uint64
}

func (e *ChainBreakError) Error() string {
	return fmt.Sprintf("journal record seq %d fails chain verification", e.Seq)
}
