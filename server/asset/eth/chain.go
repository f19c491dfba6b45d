// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package eth connects the escrow engine to an Ethereum node. A Chain signs
// and sends the engine's transactions, and provides the escrow Conduit, Token
// and NativeSender implementations on top of it.
package eth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/morphaNFT/marker-maker/dex"
	dexeth "github.com/morphaNFT/marker-maker/dex/networks/eth"
	"github.com/morphaNFT/marker-maker/server/escrow"
)

const (
	// receiptPollInterval is the delay between receipt requests while
	// waiting for a transaction to be mined.
	receiptPollInterval = 2 * time.Second
	// defaultMineTimeout bounds the wait for a sent transaction.
	defaultMineTimeout = 5 * time.Minute
	// gasLimitBuffer is the percent added to the node's gas estimate.
	gasLimitBuffer = 20
)

var (
	// minTipCap is the smallest priority fee offered, 1 gwei.
	minTipCap = big.NewInt(1e9)

	_ escrow.NativeSender          = (*Chain)(nil)
	_ escrow.TokenSource           = (*Chain)(nil)
	_ escrow.NativeDepositVerifier = (*Chain)(nil)
)

// ethFetcher represents a blockchain information fetcher and transaction
// sender. In practice, it is satisfied by rpcclient. For testing, it can be
// satisfied by a stub.
type ethFetcher interface {
	bind.ContractCaller
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (tx *types.Transaction, isPending bool, err error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Config is the configuration for a Chain.
type Config struct {
	// Endpoint is an http(s) or ws(s) URL, or an IPC socket path.
	Endpoint string
	Network  dex.Network
	// PrivateKey is the engine's key. Its address custodies escrowed funds.
	PrivateKey *ecdsa.PrivateKey
	// MaxFeeRate is the highest fee cap, in wei per gas, that will be
	// offered. Zero means no limit.
	MaxFeeRate *big.Int
	// MineTimeout bounds the wait for a sent transaction to be mined.
	MineTimeout time.Duration
	Logger      dex.Logger
}

// Chain sends the engine's transactions. Transactions are sent one at a
// time, and each call returns only when the transaction is mined.
type Chain struct {
	node         ethFetcher
	shutdown     func()
	log          dex.Logger
	priv         *ecdsa.PrivateKey
	addr         common.Address
	chainID      *big.Int
	signer       types.Signer
	maxFeeRate   *big.Int
	mineTimeout  time.Duration
	pollInterval time.Duration
	fees         *feeCache

	// txMtx serializes nonce assignment.
	txMtx sync.Mutex

	tokenMtx sync.Mutex
	tokens   map[common.Address]*erc20Token
}

// NewChain connects to the node and checks that it serves the configured
// network.
func NewChain(ctx context.Context, cfg *Config) (*Chain, error) {
	if cfg.PrivateKey == nil {
		return nil, errors.New("no private key")
	}
	chainID, err := dexeth.ChainID(cfg.Network)
	if err != nil {
		return nil, err
	}
	cl := new(rpcclient)
	if err := cl.connect(ctx, cfg.Endpoint); err != nil {
		return nil, err
	}
	nodeChainID, err := cl.ChainID(ctx)
	if err != nil {
		cl.shutdown()
		return nil, fmt.Errorf("error retrieving chain ID: %w", err)
	}
	if nodeChainID.Cmp(chainID) != 0 {
		cl.shutdown()
		return nil, fmt.Errorf("node is on chain %s, wanted %s for %s", nodeChainID, chainID, cfg.Network)
	}
	c := newChain(cl, cfg, chainID)
	c.shutdown = cl.shutdown
	c.log.Infof("Connected to chain %s as %s", chainID, c.addr)
	return c, nil
}

func newChain(node ethFetcher, cfg *Config, chainID *big.Int) *Chain {
	logger := cfg.Logger
	if logger == nil {
		logger = dex.Disabled
	}
	mineTimeout := cfg.MineTimeout
	if mineTimeout <= 0 {
		mineTimeout = defaultMineTimeout
	}
	return &Chain{
		node:         node,
		shutdown:     func() {},
		log:          logger,
		priv:         cfg.PrivateKey,
		addr:         crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey),
		chainID:      chainID,
		signer:       types.LatestSignerForChainID(chainID),
		maxFeeRate:   cfg.MaxFeeRate,
		mineTimeout:  mineTimeout,
		pollInterval: receiptPollInterval,
		fees:         newFeeCache(),
		tokens:       make(map[common.Address]*erc20Token),
	}
}

// Close disconnects from the node.
func (c *Chain) Close() {
	c.shutdown()
}

// Address is the engine's address.
func (c *Chain) Address() common.Address {
	return c.addr
}

// ChainID is the connected chain's ID.
func (c *Chain) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// NativeBalance is the engine address's balance of native currency.
func (c *Chain) NativeBalance(ctx context.Context) (*big.Int, error) {
	return c.node.BalanceAt(ctx, c.addr, nil)
}

// currentFees returns the base fee of the best block and a tip cap, cached if
// available.
func (c *Chain) currentFees(ctx context.Context) (baseFee, tipCap *big.Int, err error) {
	if baseFee, tipCap, found := c.fees.fees(); found {
		return baseFee, tipCap, nil
	}
	hdr, err := c.node.HeaderByNumber(ctx, nil /* latest */)
	if err != nil {
		return nil, nil, fmt.Errorf("HeaderByNumber error: %w", err)
	}
	tipCap, err = c.node.SuggestGasTipCap(ctx)
	if err != nil {
		c.log.Errorf("Error getting tip cap suggestion: %v", err)
		tipCap = new(big.Int).Set(minTipCap)
	}
	if tipCap.Cmp(minTipCap) < 0 {
		tipCap = new(big.Int).Set(minTipCap)
	}
	c.fees.add(hdr, tipCap)
	baseFee, tipCap, _ = c.fees.fees()
	return baseFee, tipCap, nil
}

// transact signs and sends a transaction from the engine's address and waits
// for it to be mined. An error is returned if the transaction reverts. If it
// was sent but not seen mined, the error is an *escrow.PendingTxError. A nil
// value is zero.
func (c *Chain) transact(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	if value == nil {
		value = new(big.Int)
	}

	c.txMtx.Lock()
	defer c.txMtx.Unlock()

	baseFee, tipCap, err := c.currentFees(ctx)
	if err != nil {
		return nil, err
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	if c.maxFeeRate != nil && c.maxFeeRate.Sign() > 0 && feeCap.Cmp(c.maxFeeRate) > 0 {
		if tipCap.Cmp(c.maxFeeRate) > 0 || baseFee.Cmp(c.maxFeeRate) > 0 {
			return nil, fmt.Errorf("network fee rate %s exceeds the maximum %s", feeCap, c.maxFeeRate)
		}
		feeCap.Set(c.maxFeeRate)
	}

	nonce, err := c.node.PendingNonceAt(ctx, c.addr)
	if err != nil {
		return nil, fmt.Errorf("error getting nonce: %w", err)
	}

	gas, err := c.node.EstimateGas(ctx, ethereum.CallMsg{
		From:      c.addr,
		To:        &to,
		Value:     value,
		Data:      data,
		GasFeeCap: feeCap,
		GasTipCap: tipCap,
	})
	if err != nil {
		return nil, fmt.Errorf("EstimateGas error: %w", err)
	}
	gas += gas * gasLimitBuffer / 100

	tx, err := types.SignTx(types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	}), c.signer, c.priv)
	if err != nil {
		return nil, fmt.Errorf("signing error: %w", err)
	}

	if err = c.node.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("error sending transaction: %w", err)
	}
	c.log.Debugf("Sent transaction %s to %s, nonce %d, value %s, gas %d", tx.Hash(), to, nonce, value, gas)

	// The transaction is out. Waiting for it is not abandoned just because
	// the caller's context is canceled.
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.mineTimeout)
	defer cancel()
	receipt, err := c.waitMined(waitCtx, tx.Hash())
	if err != nil {
		c.log.Criticalf("Outcome of transaction %s is unknown: %v", tx.Hash(), err)
		return nil, &escrow.PendingTxError{TxHash: tx.Hash(), Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("transaction %s reverted", tx.Hash())
	}
	return receipt, nil
}

// waitMined polls for the transaction's receipt.
func (c *Chain) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.node.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			c.fees.clear()
			return receipt, nil
		case !errors.Is(err, ethereum.NotFound):
			c.log.Errorf("Error retrieving receipt for %s: %v", txHash, err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("transaction %s not mined: %w", txHash, ctx.Err())
		}
	}
}

// SendNative sends native currency from the engine's address.
func (c *Chain) SendNative(ctx context.Context, to common.Address, amt *big.Int) error {
	_, err := c.transact(ctx, to, amt, nil)
	return err
}

// VerifyNativeDeposit checks that the transaction was mined successfully and
// sent exactly value from one address to another.
func (c *Chain) VerifyNativeDeposit(ctx context.Context, txHash common.Hash, from, to common.Address, value *big.Int) error {
	tx, isPending, err := c.node.TransactionByHash(ctx, txHash)
	if err != nil {
		return fmt.Errorf("error retrieving transaction %s: %w", txHash, err)
	}
	if isPending {
		return fmt.Errorf("transaction %s not mined", txHash)
	}
	if tx.To() == nil || *tx.To() != to {
		return fmt.Errorf("transaction %s is not to %s", txHash, to)
	}
	if value == nil || tx.Value().Cmp(value) != 0 {
		return fmt.Errorf("transaction %s value is %s, not %s", txHash, tx.Value(), value)
	}
	sender, err := types.Sender(c.signer, tx)
	if err != nil {
		return fmt.Errorf("error recovering sender of %s: %w", txHash, err)
	}
	if sender != from {
		return fmt.Errorf("transaction %s is from %s, not %s", txHash, sender, from)
	}
	receipt, err := c.node.TransactionReceipt(ctx, txHash)
	if err != nil {
		return fmt.Errorf("error retrieving receipt for %s: %w", txHash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("transaction %s failed", txHash)
	}
	return nil
}
