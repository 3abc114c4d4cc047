package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KEI-finance/treasury-contracts/internal/treasury"
	"github.com/KEI-finance/treasury-contracts/pkg/models"
)

// Operation names shared by the metrics labels and the RPC surface.
const (
	OpSync            = "treasury.sync"
	OpWithdraw        = "treasury.withdraw"
	OpRelinquish      = "treasury.relinquish"
	OpSyncAndWithdraw = "treasury.sync_and_withdraw"
	OpSkim            = "treasury.skim"
	OpGrantRole       = "admin.grant_role"
	OpRevokeRole      = "admin.revoke_role"
	OpPause           = "admin.pause"
	OpUnpause         = "admin.unpause"
)

// TreasuryAPI is the transport-neutral service surface. Callers are
// identified by account address; adapters resolve the address from the
// request credential before calling in.
type TreasuryAPI interface {
	BalanceOf(ctx context.Context, asset common.Address) (string, error)
	Reserves(asset common.Address) string
	RoleOf(kind string, asset common.Address) (models.RoleMembers, error)

	Sync(ctx context.Context, caller, asset common.Address, maxToSync *big.Int) (models.SyncReceipt, error)
	Withdraw(ctx context.Context, caller, asset, recipient common.Address, amount *big.Int) (models.WithdrawReceipt, error)
	Relinquish(ctx context.Context, caller, asset common.Address, amount *big.Int) (models.RelinquishReceipt, error)
	SyncAndWithdraw(ctx context.Context, caller, asset, recipient common.Address, amount, maxToSync *big.Int) (models.SyncWithdrawReceipt, error)
	Skim(ctx context.Context, caller, asset, recipient common.Address) (models.SkimReceipt, error)

	GrantRole(caller common.Address, role treasury.Role, account common.Address) (bool, error)
	RevokeRole(caller common.Address, role treasury.Role, account common.Address) (bool, error)
	Pause(caller common.Address) (bool, error)
	Unpause(caller common.Address) (bool, error)

	GetStatus(ctx context.Context) models.TreasuryStatus
	GetMetrics() models.MetricsSnapshot
	Events(afterSeq uint64, limit int) []treasury.Record
	VerifyJournal() models.JournalVerifyReport
}
