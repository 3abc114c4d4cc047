package treasury

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChainClient is the engine's view of the underlying asset store: an
// authoritative balance oracle plus a transfer executor. Implementations
// must be synchronous: Transfer returns only once the transfer is final
// or has definitively failed. A balance query against an unrecognized
// asset reports ErrUnknownAsset.
type ChainClient interface {
	BalanceOf(ctx context.Context, asset common.Address) (*big.Int, error)
	Transfer(ctx context.Context, asset, recipient common.Address, amount *big.Int) (TransferReceipt, error)
}

// TransferReceipt references a settled outbound transfer.
type TransferReceipt struct {
	Ref string
}

// AuthGate answers role membership and the process-wide pause flag.
// Membership lifecycle is owned entirely by the gate; the engine only
// ever queries it.
type AuthGate interface {
	HasRole(role Role, account common.Address) bool
	IsPaused() bool
}

// ReserveLedger holds the tracked reserve per asset. Reads default to
// zero for assets never written. SetReserve must persist before the new
// value becomes observable; a failed SetReserve leaves the prior value.
type ReserveLedger interface {
	Reserve(asset common.Address) *big.Int
	SetReserve(asset common.Address, amount *big.Int) error
	Assets() []common.Address
}

// EventSink appends committed events to the ordered journal. Appends
// happen only after an operation's state is final; the sink assigns
// sequence numbers, hashes and timestamps.
type EventSink interface {
	Append(events ...Event) ([]Record, error)
}
