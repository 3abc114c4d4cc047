// Package treasury implements the custodial reserve-accounting engine:
// a per-asset ledger of tracked reserves, reconciliation against the
// authoritative chain balance, and role-gated outbound movement.
//
// The engine maintains one invariant above all others: after every
// completed operation, the tracked reserve of an asset never exceeds its
// actual external balance. Reserves only move in accounted steps (sync
// absorbs observed surplus, relinquish and withdraw debit it) and every
// committed step appends to an ordered event journal.
package treasury

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Engine orchestrates the reserve ledger, the authorization gate and the
// chain collaborator into the public treasury operations. Mutating
// operations on the same asset are serialized by a per-asset lock that
// spans the balance read, the ledger mutation and the transfer.
type Engine struct {
	ledger  ReserveLedger
	journal EventSink
	chain   ChainClient
	gate    AuthGate
	log     *slog.Logger

	mu    sync.Mutex
	locks map[common.Address]*sync.Mutex
}

// SyncResult reports a reconciliation outcome.
type SyncResult struct {
	Received   *big.Int
	NewReserve *big.Int
}

// WithdrawResult reports a committed withdrawal.
type WithdrawResult struct {
	NewReserve *big.Int
	TxRef      string
}

// SyncWithdrawResult reports a combined reconciliation and withdrawal.
type SyncWithdrawResult struct {
	NewReserve *big.Int
	Received   *big.Int
	TxRef      string
}

// SkimResult reports a surplus sweep. Amount is zero when there was no
// surplus to sweep.
type SkimResult struct {
	Amount *big.Int
	TxRef  string
}

func NewEngine(ledger ReserveLedger, journal EventSink, chain ChainClient, gate AuthGate, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		ledger:  ledger,
		journal: journal,
		chain:   chain,
		gate:    gate,
		log:     log,
		locks:   make(map[common.Address]*sync.Mutex),
	}
}

// BalanceOf reports the external store's current balance for the asset.
func (e *Engine) BalanceOf(ctx context.Context, asset common.Address) (*big.Int, error) {
	return e.chain.BalanceOf(ctx, asset)
}

// Reserves reports the tracked reserve for the asset, zero if never synced.
func (e *Engine) Reserves(asset common.Address) *big.Int {
	return e.ledger.Reserve(asset)
}

// Sync reconciles the tracked reserve against the chain balance. Observed
// surplus is absorbed up to maxToSync (zero or nil means uncapped) and
// recorded as a deposit attributed to caller. An observed shortfall clamps
// the reserve down to the actual balance and records a loss; the loss is a
// signal, not an error. Anyone may sync; only the pause flag gates it.
func (e *Engine) Sync(ctx context.Context, caller, asset common.Address, maxToSync *big.Int) (SyncResult, error) {
	if e.gate.IsPaused() {
		return SyncResult{}, ErrPaused
	}
	unlock := e.lockAsset(asset)
	defer unlock()

	prev := e.ledger.Reserve(asset)
	balance, err := e.chain.BalanceOf(ctx, asset)
	if err != nil {
		return SyncResult{}, err
	}

	next, received, deficit := syncStep(prev, balance, maxToSync)
	if next.Cmp(prev) != 0 {
		if err := e.ledger.SetReserve(asset, next); err != nil {
			return SyncResult{}, fmt.Errorf("commit sync: %w", err)
		}
	}
	switch {
	case received.Sign() > 0:
		e.append(Event{Type: EventDeposit, Asset: asset, Amount: received, Caller: caller})
		e.log.Info("reserves synced", "asset", asset, "received", received, "reserve", next)
	case deficit.Sign() > 0:
		e.append(Event{Type: EventLoss, Asset: asset, Amount: deficit, Caller: caller})
		e.log.Warn("external balance below tracked reserve", "asset", asset, "deficit", deficit, "reserve", next)
	}
	return SyncResult{Received: received, NewReserve: next}, nil
}

// Withdraw debits the tracked reserve and transfers the amount out. The
// debit commits before the transfer executes; a failed transfer restores
// the prior reserve, so the operation is observable only as a whole.
func (e *Engine) Withdraw(ctx context.Context, caller, asset, recipient common.Address, amount *big.Int) (WithdrawResult, error) {
	if err := e.guard(RoleOf(asset), caller); err != nil {
		return WithdrawResult{}, err
	}
	unlock := e.lockAsset(asset)
	defer unlock()

	prev := e.ledger.Reserve(asset)
	next, err := relinquishStep(prev, amount)
	if err != nil {
		return WithdrawResult{}, err
	}
	receipt, err := e.debitAndTransfer(ctx, asset, recipient, amount, prev, next)
	if err != nil {
		return WithdrawResult{}, err
	}
	e.append(
		Event{Type: EventRelinquish, Asset: asset, Amount: amount, Caller: caller},
		Event{Type: EventWithdraw, Asset: asset, Amount: amount, Recipient: recipient, Caller: caller, TxRef: receipt.Ref},
	)
	e.log.Info("withdraw committed", "asset", asset, "recipient", recipient, "amount", amount, "reserve", next, "tx_ref", receipt.Ref)
	return WithdrawResult{NewReserve: next, TxRef: receipt.Ref}, nil
}

// Relinquish writes the tracked reserve down without moving external value.
func (e *Engine) Relinquish(ctx context.Context, caller, asset common.Address, amount *big.Int) (*big.Int, error) {
	if err := e.guard(RoleOf(asset), caller); err != nil {
		return nil, err
	}
	unlock := e.lockAsset(asset)
	defer unlock()

	prev := e.ledger.Reserve(asset)
	next, err := relinquishStep(prev, amount)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.SetReserve(asset, next); err != nil {
		return nil, fmt.Errorf("commit relinquish: %w", err)
	}
	e.append(Event{Type: EventRelinquish, Asset: asset, Amount: amount, Caller: caller})
	e.log.Info("reserves relinquished", "asset", asset, "amount", amount, "reserve", next)
	return next, nil
}

// SyncAndWithdraw reconciles, then withdraws against the post-sync
// reserve, as one atomic unit: if the withdrawal cannot proceed or its
// transfer fails, the absorbed sync is not retained either.
func (e *Engine) SyncAndWithdraw(ctx context.Context, caller, asset, recipient common.Address, amount, maxToSync *big.Int) (SyncWithdrawResult, error) {
	if err := e.guard(RoleOf(asset), caller); err != nil {
		return SyncWithdrawResult{}, err
	}
	unlock := e.lockAsset(asset)
	defer unlock()

	prev := e.ledger.Reserve(asset)
	balance, err := e.chain.BalanceOf(ctx, asset)
	if err != nil {
		return SyncWithdrawResult{}, err
	}

	synced, received, deficit := syncStep(prev, balance, maxToSync)
	next, err := relinquishStep(synced, amount)
	if err != nil {
		return SyncWithdrawResult{}, err
	}
	receipt, err := e.debitAndTransfer(ctx, asset, recipient, amount, prev, next)
	if err != nil {
		return SyncWithdrawResult{}, err
	}

	events := make([]Event, 0, 3)
	switch {
	case received.Sign() > 0:
		events = append(events, Event{Type: EventDeposit, Asset: asset, Amount: received, Caller: caller})
	case deficit.Sign() > 0:
		events = append(events, Event{Type: EventLoss, Asset: asset, Amount: deficit, Caller: caller})
	}
	events = append(events,
		Event{Type: EventRelinquish, Asset: asset, Amount: amount, Caller: caller},
		Event{Type: EventWithdraw, Asset: asset, Amount: amount, Recipient: recipient, Caller: caller, TxRef: receipt.Ref},
	)
	e.append(events...)
	e.log.Info("sync-and-withdraw committed",
		"asset", asset, "recipient", recipient, "received", received, "amount", amount, "reserve", next, "tx_ref", receipt.Ref)
	return SyncWithdrawResult{NewReserve: next, Received: received, TxRef: receipt.Ref}, nil
}

// Skim sweeps the untracked surplus (actual balance beyond the tracked
// reserve) to the recipient. Reserves are never touched: skim can only
// move value the ledger has not committed to. A zero or negative surplus
// is a no-op that transfers nothing and emits nothing.
func (e *Engine) Skim(ctx context.Context, caller, asset, recipient common.Address) (SkimResult, error) {
	if err := e.guard(SkimRole(), caller); err != nil {
		return SkimResult{}, err
	}
	unlock := e.lockAsset(asset)
	defer unlock()

	balance, err := e.chain.BalanceOf(ctx, asset)
	if err != nil {
		return SkimResult{}, err
	}
	reserve := e.ledger.Reserve(asset)
	surplus := new(big.Int).Sub(balance, reserve)
	if surplus.Sign() <= 0 {
		return SkimResult{Amount: new(big.Int)}, nil
	}
	if recipient == (common.Address{}) {
		return SkimResult{}, ErrZeroRecipient
	}
	receipt, err := e.chain.Transfer(ctx, asset, recipient, surplus)
	if err != nil {
		return SkimResult{}, fmt.Errorf("transfer: %w", err)
	}
	e.append(Event{Type: EventSkim, Asset: asset, Amount: surplus, Recipient: recipient, Caller: caller, TxRef: receipt.Ref})
	e.log.Info("surplus skimmed", "asset", asset, "recipient", recipient, "amount", surplus, "tx_ref", receipt.Ref)
	return SkimResult{Amount: surplus, TxRef: receipt.Ref}, nil
}

// guard enforces the pause flag and then the role, in that order.
func (e *Engine) guard(role Role, caller common.Address) error {
	if e.gate.IsPaused() {
		return ErrPaused
	}
	if !e.gate.HasRole(role, caller) {
		return ErrUnauthorized
	}
	return nil
}

// debitAndTransfer commits the ledger debit, executes the transfer, and
// restores the prior reserve if the transfer fails. Restoring leans the
// safe way: a debit without a transfer leaves actual holdings above the
// tracked reserve, never below.
func (e *Engine) debitAndTransfer(ctx context.Context, asset, recipient common.Address, amount, prev, next *big.Int) (TransferReceipt, error) {
	if recipient == (common.Address{}) {
		return TransferReceipt{}, ErrZeroRecipient
	}
	if err := e.ledger.SetReserve(asset, next); err != nil {
		return TransferReceipt{}, fmt.Errorf("commit debit: %w", err)
	}
	receipt, err := e.chain.Transfer(ctx, asset, recipient, amount)
	if err != nil {
		if restoreErr := e.ledger.SetReserve(asset, prev); restoreErr != nil {
			// The in-memory ledger already restored; only the snapshot
			// write failed. The next committed mutation rewrites it.
			e.log.Error("failed to persist reserve restore", "asset", asset, "error", restoreErr)
		}
		return TransferReceipt{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return receipt, nil
}

func (e *Engine) append(events ...Event) {
	if e.journal == nil {
		return
	}
	if _, err := e.journal.Append(events...); err != nil {
		e.log.Error("event journal append failed", "error", err)
	}
}

func (e *Engine) lockAsset(asset common.Address) func() {
	e.mu.Lock()
	lock, ok := e.locks[asset]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[asset] = lock
	}
	e.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// relinquishStep is the pure ledger debit: it requires a positive amount
// within the current reserve and returns the reduced reserve. The guard
// makes the subtraction safe; the result can never go negative.
func relinquishStep(current, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if current.Cmp(amount) < 0 {
		return nil, ErrInsufficientReserves
	}
	return new(big.Int).Sub(current, amount), nil
}

// syncStep is the pure reconciliation transition over (prev, balance).
// It returns the post-sync reserve, the surplus absorbed, and the deficit
// observed. At most one of received/deficit is nonzero. maxToSync of
// zero (or nil) means uncapped; a capped sync leaves the remainder as
// unaccounted surplus for a future sync. A balance below prev clamps the
// reserve to the balance so the tracked figure never exceeds holdings.
func syncStep(prev, balance, maxToSync *big.Int) (next, received, deficit *big.Int) {
	zero := func() *big.Int { return new(big.Int) }
	switch balance.Cmp(prev) {
	case +1:
		delta := new(big.Int).Sub(balance, prev)
		if maxToSync != nil && maxToSync.Sign() > 0 && delta.Cmp(maxToSync) > 0 {
			capped := new(big.Int).Set(maxToSync)
			return new(big.Int).Add(prev, capped), capped, zero()
		}
		return new(big.Int).Set(balance), delta, zero()
	case -1:
		return new(big.Int).Set(balance), zero(), new(big.Int).Sub(prev, balance)
	default:
		return new(big.Int).Set(prev), zero(), zero()
	}
}
