// Package chain provides the treasury's view of the external asset
// store: an authoritative balance oracle and a transfer executor. The
// eth backend talks ERC-20 over JSON-RPC; the memory backend is an
// in-process store for development and tests.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KEI-finance/treasury-contracts/internal/treasury"
)

const (
	BackendEth    = "eth"
	BackendMemory = "memory"

	defaultGasLimit    = 120000
	defaultWaitTimeout = 90 * time.Second
)

// Config selects and parameterizes a backend. Assets is the allowlist
// of token contracts the treasury custodies; operations against any
// other address fail with ErrUnknownAsset.
type Config struct {
	Backend     string
	RPCURL      string
	Assets      []common.Address
	GasLimit    uint64
	WaitTimeout time.Duration

	// InitialBalances seeds the memory backend, keyed by asset.
	InitialBalances map[common.Address]*big.Int
}

// Status describes the backend for the status endpoint.
type Status struct {
	Backend     string         `json:"backend"`
	Custody     common.Address `json:"custody"`
	ChainID     string         `json:"chain_id,omitempty"`
	BlockNumber uint64         `json:"block_number,omitempty"`
	Connected   bool           `json:"connected"`
	Assets      int            `json:"assets"`
}

// Client is a treasury chain backend with lifecycle and introspection
// on top of the core balance and transfer operations.
type Client interface {
	treasury.ChainClient
	Status(ctx context.Context) Status
	Custody() common.Address
	Close()
}

// New builds the configured backend. The signer key is required for the
// eth backend, which derives the custody account from it; the memory
// backend accepts a nil key and uses a fixed custody address.
func New(cfg Config, signer *ecdsa.PrivateKey) (Client, error) {
	if cfg.GasLimit == 0 {
		cfg.GasLimit = defaultGasLimit
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendMemory, "":
		return NewMemoryClient(cfg.Assets, cfg.InitialBalances), nil
	case BackendEth:
		if cfg.RPCURL == "" {
			return nil, fmt.Errorf("chain: eth backend requires rpc_url")
		}
		if signer == nil {
			return nil, fmt.Errorf("chain: eth backend requires a custody key")
		}
		if len(cfg.Assets) == 0 {
			return nil, fmt.Errorf("chain: eth backend requires at least one asset")
		}
		return DialEthClient(cfg, signer)
	default:
		return nil, fmt.Errorf("chain: unknown backend %q", cfg.Backend)
	}
}
