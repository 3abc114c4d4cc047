package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type AssetInfo struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol,omitempty"`
	Decimals int32  `json:"decimals"`
}

type AssetStatus struct {
	Address        string `json:"address"`
	Symbol         string `json:"symbol,omitempty"`
	Reserve        string `json:"reserve"`
	Balance        string `json:"balance"`
	Surplus        string `json:"surplus"`
	ReserveDisplay string `json:"reserve_display,omitempty"`
	BalanceDisplay string `json:"balance_display,omitempty"`
}

type BackendStatus struct {
	Backend     string `json:"backend"`
	ChainID     string `json:"chain_id,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	Connected   bool   `json:"connected"`
}

type RoleMembers struct {
	Role     string   `json:"role"`
	Name     string   `json:"name,omitempty"`
	Accounts []string `json:"accounts"`
}

type TreasuryStatus struct {
	Version    string        `json:"version"`
	StartedAt  time.Time     `json:"started_at"`
	Paused     bool          `json:"paused"`
	Custody    string        `json:"custody"`
	Backend    BackendStatus `json:"backend"`
	Assets     []AssetStatus `json:"assets"`
	Roles      []RoleMembers `json:"roles"`
	JournalSeq uint64        `json:"journal_seq"`
}

type SyncReceipt struct {
	Asset      string `json:"asset"`
	Received   string `json:"received"`
	NewReserve string `json:"new_reserve"`
}

type WithdrawReceipt struct {
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	Recipient  string `json:"recipient"`
	NewReserve string `json:"new_reserve"`
	TxRef      string `json:"tx_ref,omitempty"`
}

type SyncWithdrawReceipt struct {
	Asset      string `json:"asset"`
	Received   string `json:"received"`
	Amount     string `json:"amount"`
	Recipient  string `json:"recipient"`
	NewReserve string `json:"new_reserve"`
	TxRef      string `json:"tx_ref,omitempty"`
}

type SkimReceipt struct {
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient,omitempty"`
	TxRef     string `json:"tx_ref,omitempty"`
}

type RelinquishReceipt struct {
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	NewReserve string `json:"new_reserve"`
}

type MetricsSnapshot struct {
	ErrorCounters       map[string]int             `json:"error_counters"`
	OperationStats      map[string]OperationMetric `json:"operation_stats"`
	JournalLen          int                        `json:"journal_len"`
	NotificationBacklog int                        `json:"notification_backlog"`
	RateLimiterKeys     int                        `json:"rate_limiter_keys,omitempty"`
	LastUpdatedAt       time.Time                  `json:"last_updated_at"`
}

type OperationMetric struct {
	Count         int   `json:"count"`
	Errors        int   `json:"errors"`
	AvgLatencyMs  int64 `json:"avg_latency_ms"`
	MaxLatencyMs  int64 `json:"max_latency_ms"`
	LastLatencyMs int64 `json:"last_latency_ms"`
}

type JournalVerifyReport struct {
	Records  int    `json:"records"`
	Intact   bool   `json:"intact"`
	BadSeq   uint64 `json:"bad_seq,omitempty"`
	LastHash string `json:"last_hash,omitempty"`
}

// FormatBaseUnits renders a base-unit amount as a decimal string scaled
// by the asset's declared decimals, e.g. 1500000 with 6 decimals -> "1.5".
func FormatBaseUnits(raw string, decimals int32) (string, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse amount: %w", err)
	}
	return d.Shift(-decimals).String(), nil
}

// ParseBaseUnits converts a human decimal amount into base units. Amounts
// with more fractional digits than the asset carries are rejected rather
// than silently truncated.
func ParseBaseUnits(display string, decimals int32) (string, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(display))
	if err != nil {
		return "", fmt.Errorf("parse amount: %w", err)
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return "", fmt.Errorf("amount %s has more than %d decimal places", display, decimals)
	}
	return shifted.Truncate(0).String(), nil
}
