// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/morphaNFT/marker-maker/dex"
	dexeth "github.com/morphaNFT/marker-maker/dex/networks/eth"
	"github.com/morphaNFT/marker-maker/server/db"
)

// DepositParams are the purchase intent a deposit is bound to, and the
// depositor's signature over it.
type DepositParams struct {
	Collection common.Address
	MinPrice   *big.Int
	MaxPrice   *big.Int
	Signature  []byte
	// TxHash is the transaction that sent a native deposit to the engine.
	// Unused for token deposits.
	TxHash common.Hash
}

// DepositNative credits value of native currency and binds it to the signed
// purchase intent. The depositor must have sent exactly value to the engine
// in the transaction p.TxHash, and each transaction is credited only once.
func (e *Engine) DepositNative(ctx context.Context, depositor common.Address, value *big.Int, p *DepositParams) error {
	return e.deposit(ctx, depositor, dexeth.NativeToken, value, p)
}

// DepositToken pulls amount of token from the depositor and binds it to the
// signed purchase intent. The token must be allowed. The conduit allowance is
// granted on the first deposit of a token.
func (e *Engine) DepositToken(ctx context.Context, depositor, token common.Address, amount *big.Int, p *DepositParams) error {
	if token == dexeth.NativeToken {
		return dex.NewError(ErrInvalidAddress, "token deposit with the native token address")
	}
	return e.deposit(ctx, depositor, token, amount, p)
}

func (e *Engine) deposit(ctx context.Context, depositor, token common.Address, amount *big.Int, p *DepositParams) error {
	gctx, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := e.roles.requireActive(); err != nil {
		return err
	}
	amt, err := toAmount(amount, "deposit amount")
	if err != nil {
		return err
	}
	if amt.IsZero() {
		return dex.NewError(ErrInvalidAmount, "zero deposit")
	}
	isNative := dexeth.IsNative(token)
	tx := e.newTxn()
	if !isNative && !tx.isAllowed(token) {
		return dex.NewError(ErrTokenNotAllowed, token.Hex())
	}
	if p == nil {
		return dex.NewError(ErrInvalidSignature, "no deposit parameters")
	}
	minPrice, err := toAmount(p.MinPrice, "min price")
	if err != nil {
		return err
	}
	maxPrice, err := toAmount(p.MaxPrice, "max price")
	if err != nil {
		return err
	}
	if minPrice.Gt(maxPrice) {
		return dex.NewErrorf(ErrPriceOutOfRange, "min price %s > max price %s", minPrice.Dec(), maxPrice.Dec())
	}
	terms := &dexeth.DepositTerms{
		Depositor:  depositor,
		Collection: p.Collection,
		Token:      token,
		MinPrice:   p.MinPrice,
		MaxPrice:   p.MaxPrice,
	}
	if err := dexeth.VerifyDepositSignature(terms, e.Domain(), p.Signature); err != nil {
		return dex.NewError(ErrInvalidSignature, err.Error())
	}
	if err := tx.credit(depositor, token, amt); err != nil {
		return err
	}

	var detail string
	if isNative {
		if err := e.verifyNativeDeposit(gctx, depositor, amount, p.TxHash); err != nil {
			return err
		}
		detail = p.TxHash.Hex()
	} else {
		if err := e.ensureApproved(gctx, token); err != nil {
			return err
		}
		tok, err := e.tokens.Token(token)
		if err != nil {
			return dex.NewErrorf(ErrExternalCallFailed, "no token %s: %v", token, err)
		}
		if err := tok.TransferFrom(gctx, depositor, e.addr, amount); err != nil {
			var pending *PendingTxError
			if errors.As(err, &pending) {
				// Nothing is credited until the transfer is confirmed.
				log.Criticalf("Deposit of %s (token %s) by %s not credited, transaction %s unconfirmed",
					amt.Dec(), token, depositor, pending.TxHash)
				e.latchErr(pending)
				return dex.NewErrorf(pending, "transferFrom %s", depositor)
			}
			return dex.NewErrorf(ErrExternalCallFailed, "transferFrom %s: %v", depositor, err)
		}
	}
	tx.settled = true

	tx.putBinding(depositor, &binding{
		collection: p.Collection,
		token:      token,
		min:        minPrice,
		max:        maxPrice,
	})
	tx.record(&db.Record{
		Type:       db.RecordDeposit,
		Caller:     depositor,
		Account:    depositor,
		Token:      token,
		Collection: p.Collection,
		Amount:     amt.ToBig(),
		Detail:     detail,
	})
	if err := e.commit(tx); err != nil {
		return err
	}
	log.Infof("Deposit of %s (token %s) by %s bound to collection %s, price [%s, %s]",
		amt.Dec(), token, depositor, p.Collection, minPrice.Dec(), maxPrice.Dec())
	return nil
}

// verifyNativeDeposit checks that txHash is a confirmed transfer of value from
// the depositor to the engine that was not already credited.
func (e *Engine) verifyNativeDeposit(ctx context.Context, depositor common.Address, value *big.Int, txHash common.Hash) error {
	if txHash == (common.Hash{}) {
		return dex.NewError(ErrDepositUnverified, "no deposit transaction")
	}
	recs, err := e.Records(&db.RecordFilter{
		Type:   db.RecordDeposit,
		Detail: txHash.Hex(),
		Limit:  1,
	})
	if err != nil {
		return dex.NewErrorf(ErrStorage, "deposit lookup: %v", err)
	}
	if len(recs) > 0 {
		return dex.NewErrorf(ErrDepositReused, "transaction %s credited in record %d", txHash, recs[0].Seq)
	}
	if err := e.deposits.VerifyNativeDeposit(ctx, txHash, depositor, e.addr, value); err != nil {
		return dex.NewErrorf(ErrDepositUnverified, "transaction %s: %v", txHash, err)
	}
	return nil
}
