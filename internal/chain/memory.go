package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/KEI-finance/treasury-contracts/internal/treasury"
)

var ErrInsufficientBalance = errors.New("insufficient backend balance")

// MemoryClient is an in-process asset store for development and tests.
// Only allowlisted assets exist; transfers debit the custody balance
// synchronously and are referenced by generated ids.
type MemoryClient struct {
	mu          sync.Mutex
	balances    map[common.Address]*big.Int
	custody     common.Address
	transferErr error
}

func NewMemoryClient(assets []common.Address, initial map[common.Address]*big.Int) *MemoryClient {
	c := &MemoryClient{
		balances: make(map[common.Address]*big.Int, len(assets)),
		custody:  common.BytesToAddress(crypto.Keccak256([]byte("kei/treasury/memory/custody"))[12:]),
	}
	for _, asset := range assets {
		c.balances[asset] = new(big.Int)
	}
	for asset, amount := range initial {
		c.balances[asset] = new(big.Int).Set(amount)
	}
	return c
}

// Credit adds external funds to the custody balance, the memory
// equivalent of an inbound token transfer.
func (c *MemoryClient) Credit(asset common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	bal, ok := c.balances[asset]
	if !ok {
		return treasury.ErrUnknownAsset
	}
	bal.Add(bal, amount)
	return nil
}

func (c *MemoryClient) BalanceOf(_ context.Context, asset common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bal, ok := c.balances[asset]
	if !ok {
		return nil, treasury.ErrUnknownAsset
	}
	return new(big.Int).Set(bal), nil
}

// FailTransfers makes every subsequent transfer fail with err until
// cleared with nil, so callers can drive their rollback paths.
func (c *MemoryClient) FailTransfers(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transferErr = err
}

func (c *MemoryClient) Transfer(_ context.Context, asset, _ common.Address, amount *big.Int) (treasury.TransferReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bal, ok := c.balances[asset]
	if !ok {
		return treasury.TransferReceipt{}, treasury.ErrUnknownAsset
	}
	if c.transferErr != nil {
		return treasury.TransferReceipt{}, c.transferErr
	}
	if bal.Cmp(amount) < 0 {
		return treasury.TransferReceipt{}, ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	return treasury.TransferReceipt{Ref: "mem-" + uuid.NewString()}, nil
}

func (c *MemoryClient) Status(context.Context) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Backend:   BackendMemory,
		Custody:   c.custody,
		Connected: true,
		Assets:    len(c.balances),
	}
}

func (c *MemoryClient) Custody() common.Address {
	return c.custody
}

func (c *MemoryClient) Close() {}
