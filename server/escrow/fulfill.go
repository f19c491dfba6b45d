// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/morphaNFT/marker-maker/dex"
	dexeth "github.com/morphaNFT/marker-maker/dex/networks/eth"
	"github.com/morphaNFT/marker-maker/server/db"
)

// Fulfillment is the result of a settled batch.
type Fulfillment struct {
	Recipient  common.Address
	Token      common.Address
	Collection common.Address
	// OrderTotals are the per-order consideration sums.
	OrderTotals []*big.Int
	Total       *big.Int
	SpendCap    *big.Int
	// Settled is false when the total was zero and the conduit was not
	// called.
	Settled bool
}

// batchSummary is the implied token, collection and per-order totals of a
// validated batch.
type batchSummary struct {
	token      common.Address
	collection common.Address
	totals     []*uint256.Int
	total      *uint256.Int
}

// summarizeBatch checks item types and computes the implied settlement token
// and collection of the batch. Every consideration item must share one token,
// and every offer item one collection.
func summarizeBatch(orders []dexeth.AdvancedOrder) (*batchSummary, error) {
	if len(orders) == 0 {
		return nil, dex.NewError(ErrEmptyBatch, "no orders")
	}
	for i := range orders {
		params := &orders[i].Parameters
		for j, item := range params.Offer {
			if !item.ItemType.IsNFT() {
				return nil, dex.NewErrorf(ErrInvalidOfferItem, "order %d offer item %d is %s", i, j, item.ItemType)
			}
		}
		for j, item := range params.Consideration {
			if !item.ItemType.IsFungible() {
				return nil, dex.NewErrorf(ErrInvalidConsiderationItem, "order %d consideration item %d is %s", i, j, item.ItemType)
			}
		}
	}

	s := &batchSummary{
		totals: make([]*uint256.Int, len(orders)),
		total:  new(uint256.Int),
	}
	var haveToken, haveCollection bool
	for i := range orders {
		params := &orders[i].Parameters
		orderTotal := new(uint256.Int)
		for j, item := range params.Consideration {
			if !haveToken {
				s.token, haveToken = item.Token, true
			} else if item.Token != s.token {
				return nil, dex.NewErrorf(ErrTokenMismatch, "order %d consideration item %d token %s, batch token %s", i, j, item.Token, s.token)
			}
			amt, err := toAmount(item.StartAmount, fmt.Sprintf("order %d consideration item %d start amount", i, j))
			if err != nil {
				return nil, err
			}
			if _, overflow := orderTotal.AddOverflow(orderTotal, amt); overflow {
				return nil, dex.NewErrorf(ErrInvalidAmount, "order %d total overflows", i)
			}
		}
		for j, item := range params.Offer {
			if !haveCollection {
				s.collection, haveCollection = item.Token, true
			} else if item.Token != s.collection {
				return nil, dex.NewErrorf(ErrCollectionMismatch, "order %d offer item %d collection %s, batch collection %s", i, j, item.Token, s.collection)
			}
		}
		s.totals[i] = orderTotal
		if _, overflow := s.total.AddOverflow(s.total, orderTotal); overflow {
			return nil, dex.NewError(ErrInvalidAmount, "batch total overflows")
		}
	}
	if !haveToken {
		return nil, dex.NewError(ErrEmptyBatch, "no consideration items")
	}
	if !haveCollection {
		return nil, dex.NewError(ErrEmptyBatch, "no offer items")
	}
	return s, nil
}

// Fulfill settles a batch of advanced orders on behalf of args.Recipient,
// spending from the recipient's balance within the limits of their deposit
// binding. Deduction agent only. If the conduit fails, nothing changes. If the
// conduit's transaction was sent but not confirmed, the debit is committed
// and the returned error matches ErrTxPending.
func (e *Engine) Fulfill(ctx context.Context, caller common.Address, args *dexeth.FulfillArgs) (*Fulfillment, error) {
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
	if args == nil {
		return nil, dex.NewError(ErrEmptyBatch, "no fulfillment args")
	}
	spendCap := args.MaximumFulfilled
	if spendCap == nil {
		spendCap = new(big.Int)
	}
	if _, err := toAmount(spendCap, "maximum fulfilled"); err != nil {
		return nil, err
	}

	s, err := summarizeBatch(args.Orders)
	if err != nil {
		return nil, err
	}

	tx := e.newTxn()
	recipient := args.Recipient
	b := tx.binding(recipient)
	if b == nil {
		return nil, dex.NewError(ErrNoBinding, recipient.Hex())
	}
	if b.token != s.token {
		return nil, dex.NewErrorf(ErrTokenMismatch, "batch token %s, bound token %s", s.token, b.token)
	}
	if b.collection != s.collection {
		return nil, dex.NewErrorf(ErrCollectionMismatch, "batch collection %s, bound collection %s", s.collection, b.collection)
	}
	for i, total := range s.totals {
		if total.Lt(b.min) || total.Gt(b.max) {
			return nil, dex.NewErrorf(ErrPriceOutOfRange, "order %d total %s outside [%s, %s]", i, total.Dec(), b.min.Dec(), b.max.Dec())
		}
	}

	res := &Fulfillment{
		Recipient:   recipient,
		Token:       s.token,
		Collection:  s.collection,
		OrderTotals: make([]*big.Int, len(s.totals)),
		Total:       s.total.ToBig(),
		SpendCap:    new(big.Int).Set(spendCap),
	}
	for i, total := range s.totals {
		res.OrderTotals[i] = total.ToBig()
	}
	if s.total.IsZero() {
		return res, nil
	}

	if err := tx.debit(recipient, s.token, s.total); err != nil {
		return nil, err
	}
	batch := &FulfillBatch{
		FulfillArgs: *args,
		Value:       new(big.Int),
	}
	batch.MaximumFulfilled = res.SpendCap
	if dexeth.IsNative(s.token) {
		batch.Value = s.total.ToBig()
	}
	pending, err := e.settle(tx, e.conduit.FulfillBatch(gctx, batch))
	if err != nil {
		return nil, dex.NewErrorf(ErrExternalCallFailed, "conduit: %v", err)
	}
	res.Settled = true

	rec := &db.Record{
		Type:       db.RecordFulfillment,
		Caller:     caller,
		Account:    recipient,
		Token:      s.token,
		Collection: s.collection,
		Amount:     s.total.ToBig(),
		SpendCap:   new(big.Int).Set(spendCap),
	}
	if pending != nil {
		rec.Detail = pending.TxHash.Hex()
	}
	tx.record(rec)
	if err := e.commit(tx); err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, dex.NewErrorf(pending, "fulfillment of %d orders for %s", len(args.Orders), recipient)
	}
	log.Infof("Fulfilled %d orders for %s: %s of token %s for collection %s (spend cap %s)",
		len(args.Orders), recipient, s.total.Dec(), s.token, s.collection, spendCap)
	return res, nil
}
