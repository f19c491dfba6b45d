// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	dexeth "github.com/morphaNFT/marker-maker/dex/networks/eth"
)

// FulfillBatch is a settlement request sent to the Conduit. Value is the
// amount of native currency forwarded with the call, and is zero for token
// settlements.
type FulfillBatch struct {
	dexeth.FulfillArgs
	Value *big.Int
}

// Conduit is the external marketplace settlement entry point. The context
// passed to FulfillBatch carries the engine's operation marker and must be
// used for any call back into the engine.
type Conduit interface {
	FulfillBatch(ctx context.Context, batch *FulfillBatch) error
}

// Token is the ledger of a single fungible token, acting on behalf of the
// engine's address. Any error means the call failed.
type Token interface {
	Transfer(ctx context.Context, to common.Address, amt *big.Int) error
	TransferFrom(ctx context.Context, from, to common.Address, amt *big.Int) error
	Approve(ctx context.Context, spender common.Address, amt *big.Int) error
}

// TokenSource provides the Token for a token address.
type TokenSource interface {
	Token(addr common.Address) (Token, error)
}

// NativeSender sends native currency from the engine's address.
type NativeSender interface {
	SendNative(ctx context.Context, to common.Address, amt *big.Int) error
}

// NativeDepositVerifier confirms that a transaction sent value of native
// currency from one address to another, and that it was mined successfully.
type NativeDepositVerifier interface {
	VerifyNativeDeposit(ctx context.Context, txHash common.Hash, from, to common.Address, value *big.Int) error
}

// PendingTxError is returned by an external collaborator when a transaction
// was sent but whether it was mined is not known. It matches ErrTxPending.
type PendingTxError struct {
	TxHash common.Hash
	Err    error
}

func (e *PendingTxError) Error() string {
	return fmt.Sprintf("transaction %s outcome unknown: %v", e.TxHash, e.Err)
}

// Unwrap returns ErrTxPending and the cause.
func (e *PendingTxError) Unwrap() []error {
	return []error{ErrTxPending, e.Err}
}

