package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KEI-finance/treasury-contracts/internal/app"
	"github.com/KEI-finance/treasury-contracts/internal/chain"
	"github.com/KEI-finance/treasury-contracts/internal/metrics"
	"github.com/KEI-finance/treasury-contracts/internal/treasury"
	"github.com/KEI-finance/treasury-contracts/pkg/models"
)

type Service struct {
	engine    *treasury.Engine
	ledger    treasury.ReserveLedger
	journal   app.EventLog
	access    app.AccessRegistry
	backend   chain.Client
	notifier  app.NotificationBus
	recorder  *metrics.Recorder
	logger    *slog.Logger
	version   string
	startedAt time.Time

	assetMeta  map[common.Address]models.AssetInfo
	assetOrder []common.Address

	autoSyncInterval time.Duration
	syncRuntime      *app.SyncRuntime

	// adminMu serializes admin mutations so journal order matches the
	// order the registry applied them in.
	adminMu sync.Mutex
}

func NewService(opts app.ServiceOptions) (*Service, error) {
	if opts.Ledger == nil {
		return nil, errors.New("reserve ledger is required")
	}
	if opts.Journal == nil {
		return nil, errors.New("event journal is required")
	}
	if opts.Access == nil {
		return nil, errors.New("access registry is required")
	}
	if opts.Chain == nil {
		return nil, errors.New("chain backend is required")
	}
	if opts.Logger == nil {
		opts.Logger = app.DefaultLogger()
	}

	s := &Service{
		ledger:           opts.Ledger,
		journal:          opts.Journal,
		access:           opts.Access,
		backend:          opts.Chain,
		notifier:         app.NewNotificationHub(app.NotificationHistoryLimit),
		recorder:         metrics.Default(),
		logger:           opts.Logger,
		version:          opts.Version,
		startedAt:        time.Now().UTC(),
		assetMeta:        make(map[common.Address]models.AssetInfo, len(opts.Assets)),
		autoSyncInterval: opts.AutoSyncInterval,
		syncRuntime:      app.NewSyncRuntime(),
	}
	for _, info := range opts.Assets {
		if !common.IsHexAddress(info.Address) {
			return nil, fmt.Errorf("asset address %q is not a hex address", info.Address)
		}
		addr := common.HexToAddress(info.Address)
		if _, dup := s.assetMeta[addr]; dup {
			return nil, fmt.Errorf("asset %s configured twice", addr.Hex())
		}
		s.assetMeta[addr] = info
		s.assetOrder = append(s.assetOrder, addr)
	}
	s.engine = treasury.NewEngine(opts.Ledger, &journalFanout{s: s}, opts.Chain, opts.Access, opts.Logger)
	s.primeReserveGauges()
	return s, nil
}

// journalFanout is the engine's event sink: append to the journal,
// then push each committed record to stream subscribers and metrics.
type journalFanout struct {
	s *Service
}

func (f *journalFanout) Append(events ...treasury.Event) ([]treasury.Record, error) {
	records, err := f.s.journal.Append(events...)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		f.s.notifier.Publish(string(rec.Type), rec)
		f.s.recorder.EventAppended(string(rec.Type))
	}
	return records, nil
}

func (s *Service) BalanceOf(ctx context.Context, asset common.Address) (string, error) {
	balance, err := s.engine.BalanceOf(ctx, asset)
	if err != nil {
		return "", err
	}
	return balance.String(), nil
}

func (s *Service) Reserves(asset common.Address) string {
	return s.engine.Reserves(asset).String()
}

func (s *Service) RoleOf(kind string, asset common.Address) (models.RoleMembers, error) {
	var role treasury.Role
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "asset":
		if asset == (common.Address{}) {
			return models.RoleMembers{}, errors.New("asset role requires an asset address")
		}
		role = treasury.RoleOf(asset)
	case "skim":
		role = treasury.SkimRole()
	case "admin":
		role = treasury.AdminRole()
	default:
		return models.RoleMembers{}, fmt.Errorf("unknown role kind %q", kind)
	}
	return s.roleMembers(role), nil
}

func (s *Service) Sync(ctx context.Context, caller, asset common.Address, maxToSync *big.Int) (receipt models.SyncReceipt, err error) {
	defer s.trackOperation(app.OpSync, &err)()
	result, err := s.engine.Sync(ctx, caller, asset, maxToSync)
	if err != nil {
		return models.SyncReceipt{}, err
	}
	s.gaugeReserve(asset, result.NewReserve)
	return models.SyncReceipt{
		Asset:      asset.Hex(),
		Received:   result.Received.String(),
		NewReserve: result.NewReserve.String(),
	}, nil
}

func (s *Service) Withdraw(ctx context.Context, caller, asset, recipient common.Address, amount *big.Int) (receipt models.WithdrawReceipt, err error) {
	defer s.trackOperation(app.OpWithdraw, &err)()
	result, err := s.engine.Withdraw(ctx, caller, asset, recipient, amount)
	if err != nil {
		return models.WithdrawReceipt{}, err
	}
	s.gaugeReserve(asset, result.NewReserve)
	return models.WithdrawReceipt{
		Asset:      asset.Hex(),
		Amount:     amount.String(),
		Recipient:  recipient.Hex(),
		NewReserve: result.NewReserve.String(),
		TxRef:      result.TxRef,
	}, nil
}

func (s *Service) Relinquish(ctx context.Context, caller, asset common.Address, amount *big.Int) (receipt models.RelinquishReceipt, err error) {
	defer s.trackOperation(app.OpRelinquish, &err)()
	newReserve, err := s.engine.Relinquish(ctx, caller, asset, amount)
	if err != nil {
		return models.RelinquishReceipt{}, err
	}
	s.gaugeReserve(asset, newReserve)
	return models.RelinquishReceipt{
		Asset:      asset.Hex(),
		Amount:     amount.String(),
		NewReserve: newReserve.String(),
	}, nil
}

func (s *Service) SyncAndWithdraw(ctx context.Context, caller, asset, recipient common.Address, amount, maxToSync *big.Int) (receipt models.SyncWithdrawReceipt, err error) {
	defer s.trackOperation(app.OpSyncAndWithdraw, &err)()
	result, err := s.engine.SyncAndWithdraw(ctx, caller, asset, recipient, amount, maxToSync)
	if err != nil {
		return models.SyncWithdrawReceipt{}, err
	}
	s.gaugeReserve(asset, result.NewReserve)
	return models.SyncWithdrawReceipt{
		Asset:      asset.Hex(),
		Received:   result.Received.String(),
		Amount:     amount.String(),
		Recipient:  recipient.Hex(),
		NewReserve: result.NewReserve.String(),
		TxRef:      result.TxRef,
	}, nil
}

func (s *Service) Skim(ctx context.Context, caller, asset, recipient common.Address) (receipt models.SkimReceipt, err error) {
	defer s.trackOperation(app.OpSkim, &err)()
	result, err := s.engine.Skim(ctx, caller, asset, recipient)
	if err != nil {
		return models.SkimReceipt{}, err
	}
	receipt = models.SkimReceipt{
		Asset:  asset.Hex(),
		Amount: result.Amount.String(),
		TxRef:  result.TxRef,
	}
	if result.Amount.Sign() > 0 {
		receipt.Recipient = recipient.Hex()
	}
	return receipt, nil
}

func (s *Service) GrantRole(caller common.Address, role treasury.Role, account common.Address) (changed bool, err error) {
	defer s.trackOperation(app.OpGrantRole, &err)()
	s.adminMu.Lock()
	defer s.adminMu.Unlock()
	if err = s.requireAdmin(caller); err != nil {
		return false, err
	}
	changed, err = s.access.Grant(role, account)
	if err != nil {
		return false, err
	}
	if changed {
		s.appendAccessEvent(treasury.Event{Type: treasury.EventRoleGranted, Role: role, Account: account, Caller: caller})
		s.logger.Info("role granted", "role", role, "account", account, "caller", caller)
	}
	return changed, nil
}

func (s *Service) RevokeRole(caller common.Address, role treasury.Role, account common.Address) (changed bool, err error) {
	defer s.trackOperation(app.OpRevokeRole, &err)()
	s.adminMu.Lock()
	defer s.adminMu.Unlock()
	if err = s.requireAdmin(caller); err != nil {
		return false, err
	}
	changed, err = s.access.Revoke(role, account)
	if err != nil {
		return false, err
	}
	if changed {
		s.appendAccessEvent(treasury.Event{Type: treasury.EventRoleRevoked, Role: role, Account: account, Caller: caller})
		s.logger.Info("role revoked", "role", role, "account", account, "caller", caller)
	}
	return changed, nil
}

func (s *Service) Pause(caller common.Address) (changed bool, err error) {
	defer s.trackOperation(app.OpPause, &err)()
	return s.setPaused(caller, true)
}

func (s *Service) Unpause(caller common.Address) (changed bool, err error) {
	defer s.trackOperation(app.OpUnpause, &err)()
	return s.setPaused(caller, false)
}

// setPaused flips the pause flag. Admin operations stay available while
// paused; the flag only fences reserve-mutating operations, otherwise an
// unpause could never be issued.
func (s *Service) setPaused(caller common.Address, paused bool) (bool, error) {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()
	if err := s.requireAdmin(caller); err != nil {
		return false, err
	}
	changed, err := s.access.SetPaused(paused)
	if err != nil {
		return false, err
	}
	if changed {
		eventType := treasury.EventPaused
		if !paused {
			eventType = treasury.EventUnpaused
		}
		s.appendAccessEvent(treasury.Event{Type: eventType, Caller: caller})
		s.logger.Warn("pause flag changed", "paused", paused, "caller", caller)
	}
	return changed, nil
}

func (s *Service) GetStatus(ctx context.Context) models.TreasuryStatus {
	backend := s.backend.Status(ctx)
	status := models.TreasuryStatus{
		Version:   s.version,
		StartedAt: s.startedAt,
		Paused:    s.access.IsPaused(),
		Custody:   backend.Custody.Hex(),
		Backend: models.BackendStatus{
			Backend:     backend.Backend,
			ChainID:     backend.ChainID,
			BlockNumber: backend.BlockNumber,
			Connected:   backend.Connected,
		},
		JournalSeq: s.journal.LastSeq(),
	}

	for _, asset := range s.statusAssets() {
		entry := models.AssetStatus{
			Address: asset.Hex(),
			Reserve: s.engine.Reserves(asset).String(),
		}
		meta, known := s.assetMeta[asset]
		if known {
			entry.Symbol = meta.Symbol
		}
		if balance, err := s.engine.BalanceOf(ctx, asset); err == nil {
			entry.Balance = balance.String()
			entry.Surplus = new(big.Int).Sub(balance, s.engine.Reserves(asset)).String()
			if known {
				entry.BalanceDisplay, _ = models.FormatBaseUnits(entry.Balance, meta.Decimals)
			}
		} else {
			s.logger.Warn("balance probe failed", "asset", asset, "error", err)
		}
		if known {
			entry.ReserveDisplay, _ = models.FormatBaseUnits(entry.Reserve, meta.Decimals)
		}
		status.Assets = append(status.Assets, entry)
	}

	for role, accounts := range s.access.Snapshot() {
		members := models.RoleMembers{Role: role.String(), Name: s.describeRole(role)}
		for _, account := range accounts {
			members.Accounts = append(members.Accounts, account.Hex())
		}
		status.Roles = append(status.Roles, members)
	}
	sort.Slice(status.Roles, func(i, j int) bool { return status.Roles[i].Role < status.Roles[j].Role })
	return status
}

func (s *Service) GetMetrics() models.MetricsSnapshot {
	stats := s.recorder.OperationStats()
	opStats := make(map[string]models.OperationMetric, len(stats))
	for name, st := range stats {
		opStats[name] = models.OperationMetric{
			Count:         st.Count,
			Errors:        st.Errors,
			AvgLatencyMs:  st.AvgLatencyMs,
			MaxLatencyMs:  st.MaxLatencyMs,
			LastLatencyMs: st.LastLatencyMs,
		}
	}
	return models.MetricsSnapshot{
		ErrorCounters:       s.recorder.ErrorCounters(),
		OperationStats:      opStats,
		JournalLen:          s.journal.Len(),
		NotificationBacklog: s.notifier.BacklogSize(),
		LastUpdatedAt:       time.Now().UTC(),
	}
}

func (s *Service) Events(afterSeq uint64, limit int) []treasury.Record {
	if limit <= 0 || limit > app.MaxEventReplay {
		limit = app.MaxEventReplay
	}
	return s.journal.Records(afterSeq, limit)
}

func (s *Service) VerifyJournal() models.JournalVerifyReport {
	report := models.JournalVerifyReport{Records: s.journal.Len(), Intact: true}
	if err := s.journal.VerifyChain(); err != nil {
		report.Intact = false
		var broken *treasury.ChainBreakError
		if errors.As(err, &broken) {
			report.BadSeq = broken.Seq
		}
	}
	if last := s.journal.LastSeq(); last > 0 {
		if records := s.journal.Records(last-1, 1); len(records) > 0 {
			report.LastHash = records[0].Hash
		}
	}
	return report
}

func (s *Service) SubscribeNotifications(cursor int64) ([]app.NotificationEvent, <-chan app.NotificationEvent, func()) {
	return s.notifier.Subscribe(cursor)
}

func (s *Service) StartAutoSync(ctx context.Context) error {
	if s.autoSyncInterval <= 0 {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	if !s.syncRuntime.TryActivate(cancel) {
		cancel()
		return nil
	}
	go s.runAutoSync(loopCtx)
	s.logger.Info("auto-sync started", "interval", s.autoSyncInterval)
	return nil
}

func (s *Service) StopAutoSync(ctx context.Context) error {
	cancel, wasRunning := s.syncRuntime.Deactivate()
	if !wasRunning {
		return nil
	}
	cancel()
	done := make(chan struct{})
	go func() {
		s.syncRuntime.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("auto-sync stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runAutoSync(ctx context.Context) {
	defer s.syncRuntime.LoopDone()
	ticker := time.NewTicker(s.autoSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, asset := range s.assetOrder {
				result, err := s.Sync(ctx, common.Address{}, asset, nil)
				if err != nil {
					if errors.Is(err, treasury.ErrPaused) {
						break
					}
					s.logger.Warn("auto-sync failed", "asset", asset, "error", err)
					continue
				}
				if result.Received != "0" {
					s.logger.Info("auto-sync absorbed surplus", "asset", asset, "received", result.Received)
				}
			}
		}
	}
}

func (s *Service) requireAdmin(caller common.Address) error {
	if !s.access.HasRole(treasury.AdminRole(), caller) {
		return treasury.ErrUnauthorized
	}
	return nil
}

func (s *Service) appendAccessEvent(event treasury.Event) {
	sink := &journalFanout{s: s}
	if _, err := sink.Append(event); err != nil {
		s.logger.Error("access event append failed", "type", event.Type, "error", err)
	}
}

// statusAssets is the configured allowlist plus any ledger entries that
// fell off it. Reserves stay visible even for assets no longer served.
func (s *Service) statusAssets() []common.Address {
	assets := make([]common.Address, len(s.assetOrder))
	copy(assets, s.assetOrder)
	seen := make(map[common.Address]bool, len(assets))
	for _, asset := range assets {
		seen[asset] = true
	}
	ledgerAssets := s.ledger.Assets()
	sort.Slice(ledgerAssets, func(i, j int) bool {
		return ledgerAssets[i].Hex() < ledgerAssets[j].Hex()
	})
	for _, asset := range ledgerAssets {
		if !seen[asset] {
			assets = append(assets, asset)
		}
	}
	return assets
}

func (s *Service) roleMembers(role treasury.Role) models.RoleMembers {
	members := models.RoleMembers{Role: role.String(), Name: s.describeRole(role)}
	for _, account := range s.access.Members(role) {
		members.Accounts = append(members.Accounts, account.Hex())
	}
	return members
}

func (s *Service) describeRole(role treasury.Role) string {
	switch role {
	case treasury.AdminRole():
		return "admin"
	case treasury.SkimRole():
		return "skim"
	}
	for _, asset := range s.assetOrder {
		if role == treasury.RoleOf(asset) {
			return "asset:" + asset.Hex()
		}
	}
	return ""
}

func (s *Service) gaugeReserve(asset common.Address, reserve *big.Int) {
	value, _ := new(big.Float).SetInt(reserve).Float64()
	s.recorder.ReserveSet(asset.Hex(), value)
}

func (s *Service) primeReserveGauges() {
	for _, asset := range s.ledger.Assets() {
		s.gaugeReserve(asset, s.ledger.Reserve(asset))
	}
}

func (s *Service) trackOperation(operation string, errRef *error) func() {
	started := time.Now()
	return func() {
		outcome := metrics.OutcomeOK
		if errRef != nil && *errRef != nil {
			outcome = outcomeForError(*errRef)
		}
		s.recorder.OperationObserved(operation, outcome, time.Since(started))
	}
}

func outcomeForError(err error) string {
	switch {
	case errors.Is(err, treasury.ErrPaused):
		return metrics.OutcomePaused
	case errors.Is(err, treasury.ErrUnauthorized):
		return metrics.OutcomeUnauthorized
	case errors.Is(err, treasury.ErrZeroAmount):
		return metrics.OutcomeZeroAmount
	case errors.Is(err, treasury.ErrInsufficientReserves):
		return metrics.OutcomeInsufficientReserves
	case errors.Is(err, treasury.ErrZeroRecipient):
		return metrics.OutcomeZeroAddress
	case errors.Is(err, treasury.ErrUnknownAsset):
		return metrics.OutcomeUnknownAsset
	case errors.Is(err, treasury.ErrTransferFailed):
		return metrics.OutcomeTransferFailed
	default:
		return metrics.OutcomeInternal
	}
}
