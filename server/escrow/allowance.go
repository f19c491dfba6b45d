// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/morphaNFT/marker-maker/dex"
	dexeth "github.com/morphaNFT/marker-maker/dex/networks/eth"
	"github.com/morphaNFT/marker-maker/server/db"
)

// ensureApproved grants the conduit an unlimited allowance for the token
// unless that was already done. The flag is committed as soon as the approval
// succeeds, whatever happens to the operation that needed it.
func (e *Engine) ensureApproved(ctx context.Context, token common.Address) error {
	if e.approved[token] {
		return nil
	}
	tok, err := e.tokens.Token(token)
	if err != nil {
		return dex.NewErrorf(ErrExternalCallFailed, "no token %s: %v", token, err)
	}
	tx := e.newTxn()
	if err := tok.Approve(ctx, e.conduitSpender, dexeth.MaxUint256); err != nil {
		return dex.NewErrorf(ErrExternalCallFailed, "approve %s for %s: %v", token, e.conduitSpender, err)
	}
	tx.settled = true
	tx.setApproved(token)
	tx.record(&db.Record{
		Type:         db.RecordApproval,
		Token:        token,
		Counterparty: e.conduitSpender,
	})
	if err := e.commit(tx); err != nil {
		return err
	}
	log.Debugf("Granted conduit %s allowance for token %s", e.conduitSpender, token)
	return nil
}

// ApproveToken grants the conduit allowance for an allowed token ahead of its
// first deposit. Operator only. Approving an already approved token does
// nothing.
func (e *Engine) ApproveToken(ctx context.Context, caller, token common.Address) error {
	gctx, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := e.roles.requireOperator(caller); err != nil {
		return err
	}
	if !e.allowed[token] {
		return dex.NewError(ErrTokenNotAllowed, token.Hex())
	}
	return e.ensureApproved(gctx, token)
}
