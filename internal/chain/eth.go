package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/KEI-finance/treasury-contracts/internal/treasury"
)

// EthClient custodies ERC-20 balances held by the account behind the
// signer key. Transfers are legacy transactions signed with EIP-155 and
// waited to inclusion, so a successful Transfer means the token moved.
type EthClient struct {
	client      *ethclient.Client
	chainID     *big.Int
	custody     common.Address
	signerKey   *ecdsa.PrivateKey
	gasLimit    uint64
	waitTimeout time.Duration
	known       map[common.Address]bool
}

func DialEthClient(cfg Config, signer *ecdsa.PrivateKey) (*EthClient, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect to rpc: %w", err)
	}
	chainID, err := client.ChainID(context.Background())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	known := make(map[common.Address]bool, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		known[asset] = true
	}
	return &EthClient{
		client:      client,
		chainID:     chainID,
		custody:     crypto.PubkeyToAddress(signer.PublicKey),
		signerKey:   signer,
		gasLimit:    cfg.GasLimit,
		waitTimeout: cfg.WaitTimeout,
		known:       known,
	}, nil
}

// BalanceOf reads balanceOf(custody) on the token contract. A result
// that is not a single uint256 word is an error, never a zero balance:
// misreading an empty result as zero would clamp tracked reserves away.
func (c *EthClient) BalanceOf(ctx context.Context, asset common.Address) (*big.Int, error) {
	if !c.known[asset] {
		return nil, treasury.ErrUnknownAsset
	}
	data := balanceOfCalldata(c.custody)
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &asset, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w", err)
	}
	if len(result) != 32 {
		return nil, fmt.Errorf("balanceOf returned %d bytes, want 32", len(result))
	}
	return new(big.Int).SetBytes(result), nil
}

// Transfer submits transfer(recipient, amount) on the token contract and
// waits for inclusion. A reverted receipt is reported as an error.
func (c *EthClient) Transfer(ctx context.Context, asset, recipient common.Address, amount *big.Int) (treasury.TransferReceipt, error) {
	if !c.known[asset] {
		return treasury.TransferReceipt{}, treasury.ErrUnknownAsset
	}
	data := transferCalldata(recipient, amount)
	nonce, err := c.client.PendingNonceAt(ctx, c.custody)
	if err != nil {
		return treasury.TransferReceipt{}, fmt.Errorf("get nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return treasury.TransferReceipt{}, fmt.Errorf("get gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, asset, big.NewInt(0), c.gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.signerKey)
	if err != nil {
		return treasury.TransferReceipt{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return treasury.TransferReceipt{}, fmt.Errorf("send transaction: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, c.client, signedTx)
	if err != nil {
		return treasury.TransferReceipt{}, fmt.Errorf("wait for tx %s: %w", signedTx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return treasury.TransferReceipt{}, fmt.Errorf("tx %s reverted", signedTx.Hash().Hex())
	}
	return treasury.TransferReceipt{Ref: signedTx.Hash().Hex()}, nil
}

func (c *EthClient) Status(ctx context.Context) Status {
	st := Status{
		Backend: BackendEth,
		Custody: c.custody,
		ChainID: c.chainID.String(),
		Assets:  len(c.known),
	}
	if bn, err := c.client.BlockNumber(ctx); err == nil {
		st.Connected = true
		st.BlockNumber = bn
	}
	return st
}

func (c *EthClient) Custody() common.Address {
	return c.custody
}

func (c *EthClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

func balanceOfCalldata(holder common.Address) []byte {
	data := make([]byte, 4+32)
	copy(data[0:4], crypto.Keccak256([]byte("balanceOf(address)"))[:4])
	copy(data[4:36], common.LeftPadBytes(holder.Bytes(), 32))
	return data
}

func transferCalldata(recipient common.Address, amount *big.Int) []byte {
	data := make([]byte, 4+32+32)
	copy(data[0:4], crypto.Keccak256([]byte("transfer(address,uint256)"))[:4])
	copy(data[4:36], common.LeftPadBytes(recipient.Bytes(), 32))
	copy(data[36:68], common.LeftPadBytes(amount.Bytes(), 32))
	return data
}
