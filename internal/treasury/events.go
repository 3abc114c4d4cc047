package treasury

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType identifies a kind of journal entry.
type EventType string

// Ledger events. These are the externally observable facts of the
// reserve-accounting engine; monitors rely on their exact semantics.
const (
	// EventDeposit records surplus absorbed into reserves by a sync.
	EventDeposit EventType = "treasury.deposit"
	// EventLoss records an observed external balance below the tracked
	// reserve. Informational, does not abort the sync that saw it.
	EventLoss EventType = "treasury.loss"
	// EventRelinquish records a reserve write-down without an external transfer.
	EventRelinquish EventType = "treasury.relinquish"
	// EventWithdraw records a committed withdrawal after its transfer settled.
	EventWithdraw EventType = "treasury.withdraw"
	// EventSkim records untracked surplus swept out to a recipient.
	EventSkim EventType = "treasury.skim"
)

// Access registry events.
const (
	EventRoleGranted EventType = "access.role_granted"
	EventRoleRevoked EventType = "access.role_revoked"
	EventPaused      EventType = "access.paused"
	EventUnpaused    EventType = "access.unpaused"
)

// Event is a journal entry before sequencing. Amount and Recipient are
// meaningful for the ledger events; Role and Account for registry events.
type Event struct {
	Type      EventType      `json:"type"`
	Asset     common.Address `json:"asset,omitzero"`
	Amount    *big.Int       `json:"amount,omitempty"`
	Recipient common.Address `json:"recipient,omitzero"`
	Caller    common.Address `json:"caller,omitzero"`
	Role      Role           `json:"role,omitzero"`
	Account   common.Address `json:"account,omitzero"`
	TxRef     string         `json:"tx_ref,omitempty"`
}

// Record is an event as persisted: sequenced, content-addressed and
// timestamped by the journal on append.
type Record struct {
	Seq  uint64    `json:"seq"`
	Hash string    `json:"hash"`
	Time time.Time `json:"time"`
	Event
}
