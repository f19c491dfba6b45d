// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/morphaNFT/marker-maker/dex"
	dexeth "github.com/morphaNFT/marker-maker/dex/networks/eth"
	"github.com/morphaNFT/marker-maker/server/db"
)

// RefundNative returns the account's entire native balance to it and deletes
// its deposit binding. Deduction agent only.
func (e *Engine) RefundNative(ctx context.Context, caller, account common.Address) (*big.Int, error) {
	return e.refund(ctx, caller, account, dexeth.NativeToken)
}

// RefundToken returns the account's entire balance of token to it and deletes
// its deposit binding. Deduction agent only.
func (e *Engine) RefundToken(ctx context.Context, caller, account, token common.Address) (*big.Int, error) {
	if token == dexeth.NativeToken {
		return nil, dex.NewError(ErrInvalidAddress, "token refund with the native token address")
	}
	return e.refund(ctx, caller, account, token)
}

func (e *Engine) refund(ctx context.Context, caller, account, token common.Address) (*big.Int, error) {
	gctx, release, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := e.roles.requireDeductionAgent(caller); err != nil {
		return nil, err
	}
	if err := e.roles.requireActive(); err != nil {
		return nil, err
	}

	tx := e.newTxn()
	bal := tx.balance(account, token)
	if bal.IsZero() {
		return nil, dex.NewErrorf(ErrNoBalance, "%s has no balance of token %s", account, token)
	}
	amt := bal.ToBig()
	if err := tx.debit(account, token, bal); err != nil {
		return nil, err
	}
	tx.deleteBinding(account)

	var sendErr error
	if dexeth.IsNative(token) {
		sendErr = e.native.SendNative(gctx, account, amt)
	} else {
		tok, err := e.tokens.Token(token)
		if err != nil {
			return nil, dex.NewErrorf(ErrExternalCallFailed, "no token %s: %v", token, err)
		}
		sendErr = tok.Transfer(gctx, account, amt)
	}
	pending, err := e.settle(tx, sendErr)
	if err != nil {
		return nil, dex.NewErrorf(ErrExternalCallFailed, "transfer %s of token %s to %s: %v", amt, token, account, err)
	}

	rec := &db.Record{
		Type:    db.RecordRefund,
		Caller:  caller,
		Account: account,
		Token:   token,
		Amount:  new(big.Int).Set(amt),
	}
	if pending != nil {
		rec.Detail = pending.TxHash.Hex()
	}
	tx.record(rec)
	if err := e.commit(tx); err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, dex.NewErrorf(pending, "refund of %s (token %s) to %s", amt, token, account)
	}
	log.Infof("Refunded %s of token %s to %s", amt, token, account)
	return amt, nil
}

// DeductGasFee debits amount from the account's native balance and sends it
// to the operator. Deduction agent only.
func (e *Engine) DeductGasFee(ctx context.Context, caller, account common.Address, amount *big.Int) error {
	gctx, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := e.roles.requireDeductionAgent(caller); err != nil {
		return err
	}
	if err := e.roles.requireActive(); err != nil {
		return err
	}
	amt, err := toAmount(amount, "gas fee")
	if err != nil {
		return err
	}
	if amt.IsZero() {
		return dex.NewError(ErrInvalidAmount, "zero gas fee")
	}

	tx := e.newTxn()
	if err := tx.debit(account, dexeth.NativeToken, amt); err != nil {
		return err
	}
	operator := e.roles.Snapshot().Operator
	pending, err := e.settle(tx, e.native.SendNative(gctx, operator, amt.ToBig()))
	if err != nil {
		return dex.NewErrorf(ErrExternalCallFailed, "send gas fee to %s: %v", operator, err)
	}

	rec := &db.Record{
		Type:         db.RecordGasFee,
		Caller:       caller,
		Account:      account,
		Counterparty: operator,
		Amount:       amt.ToBig(),
	}
	if pending != nil {
		rec.Detail = pending.TxHash.Hex()
	}
	tx.record(rec)
	if err := e.commit(tx); err != nil {
		return err
	}
	if pending != nil {
		return dex.NewErrorf(pending, "gas fee %s from %s", amt.Dec(), account)
	}
	log.Infof("Deducted gas fee %s from %s", amt.Dec(), account)
	return nil
}
