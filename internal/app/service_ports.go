package app

import (
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KEI-finance/treasury-contracts/internal/chain"
	"github.com/KEI-finance/treasury-contracts/internal/treasury"
	"github.com/KEI-finance/treasury-contracts/pkg/models"
)

// EventLog is the append-only journal port. Implementations assign
// sequence numbers and hashes on append and serve cursor reads.
type EventLog interface {
	treasury.EventSink
	Records(afterSeq uint64, limit int) []treasury.Record
	LastSeq() uint64
	Len() int
	VerifyChain() error
}

// AccessRegistry owns role membership and the pause flag. Mutations
// report whether they changed anything so the service can journal only
// effective transitions.
type AccessRegistry interface {
	treasury.AuthGate
	Grant(role treasury.Role, account common.Address) (bool, error)
	Revoke(role treasury.Role, account common.Address) (bool, error)
	SetPaused(paused bool) (bool, error)
	Members(role treasury.Role) []common.Address
	Snapshot() map[treasury.Role][]common.Address
}

type NotificationBus interface {
	Subscribe(fromSeq int64) ([]NotificationEvent, <-chan NotificationEvent, func())
	Publish(method string, payload any) NotificationEvent
	BacklogSize() int
}

type ServiceOptions struct {
	Ledger  treasury.ReserveLedger
	Journal EventLog
	Access  AccessRegistry
	Chain   chain.Client

	// Assets carries display metadata for the configured allowlist.
	// Addresses must be hex; entries for unknown addresses are rejected
	// at construction.
	Assets []models.AssetInfo

	AutoSyncInterval time.Duration
	Version          string
	Logger           *slog.Logger
}

const NotificationHistoryLimit = 2048
const MaxEventReplay = 1000
