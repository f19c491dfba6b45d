// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/morphaNFT/marker-maker/dex"
	dexeth "github.com/morphaNFT/marker-maker/dex/networks/eth"
	"github.com/morphaNFT/marker-maker/server/db"
)

func TestDepositNative(t *testing.T) {
	h := newTHarness(t, nil)
	e := h.e
	u := newTUser(t, 1)
	other := newTUser(t, 2)

	good := u.params(t, e, tCollection, tNative, 10, 100)

	tests := []struct {
		name      string
		depositor common.Address
		amt       *big.Int
		params    func() *DepositParams
		wantErr   dex.ErrorKind
	}{{
		name:      "zero",
		depositor: u.addr,
		amt:       new(big.Int),
		params:    func() *DepositParams { return good },
		wantErr:   ErrInvalidAmount,
	}, {
		name:      "negative",
		depositor: u.addr,
		amt:       big.NewInt(-1),
		params:    func() *DepositParams { return good },
		wantErr:   ErrInvalidAmount,
	}, {
		name:      "nil amount",
		depositor: u.addr,
		params:    func() *DepositParams { return good },
		wantErr:   ErrInvalidAmount,
	}, {
		name:      "signed by someone else",
		depositor: u.addr,
		amt:       big.NewInt(100),
		params:    func() *DepositParams { return other.params(t, e, tCollection, tNative, 10, 100) },
		wantErr:   ErrInvalidSignature,
	}, {
		name:      "different max price",
		depositor: u.addr,
		amt:       big.NewInt(100),
		params: func() *DepositParams {
			p := u.params(t, e, tCollection, tNative, 10, 100)
			p.MaxPrice = big.NewInt(1000)
			return p
		},
		wantErr: ErrInvalidSignature,
	}, {
		name:      "different collection",
		depositor: u.addr,
		amt:       big.NewInt(100),
		params: func() *DepositParams {
			p := u.params(t, e, tCollection, tNative, 10, 100)
			p.Collection = tCollection2
			return p
		},
		wantErr: ErrInvalidSignature,
	}, {
		name:      "signed for a token",
		depositor: u.addr,
		amt:       big.NewInt(100),
		params:    func() *DepositParams { return u.params(t, e, tCollection, tToken, 10, 100) },
		wantErr:   ErrInvalidSignature,
	}, {
		name:      "claimed by another depositor",
		depositor: other.addr,
		amt:       big.NewInt(100),
		params:    func() *DepositParams { return good },
		wantErr:   ErrInvalidSignature,
	}, {
		name:      "no signature",
		depositor: u.addr,
		amt:       big.NewInt(100),
		params: func() *DepositParams {
			p := *good
			p.Signature = nil
			return &p
		},
		wantErr: ErrInvalidSignature,
	}, {
		name:      "min above max",
		depositor: u.addr,
		amt:       big.NewInt(100),
		params:    func() *DepositParams { return u.params(t, e, tCollection, tNative, 101, 100) },
		wantErr:   ErrPriceOutOfRange,
	}, {
		name:      "nil params",
		depositor: u.addr,
		amt:       big.NewInt(100),
		params:    func() *DepositParams { return nil },
		wantErr:   ErrInvalidSignature,
	}}
	for _, tt := range tests {
		err := e.DepositNative(tCtx, tt.depositor, tt.amt, tt.params())
		if err == nil {
			t.Fatalf("%s: no error", tt.name)
		}
		ensureErr(t, err, tt.wantErr)
		checkBalance(t, e, tt.depositor, tNative, 0)
		if e.Binding(tt.depositor) != nil {
			t.Fatalf("%s: binding stored", tt.name)
		}
	}

	if err := e.DepositNative(tCtx, u.addr, big.NewInt(100), good); err != nil {
		t.Fatalf("DepositNative error: %v", err)
	}
	checkBalance(t, e, u.addr, tNative, 100)
	b := e.Binding(u.addr)
	if b == nil || b.Collection != tCollection || b.Token != tNative || b.MinPrice.Int64() != 10 || b.MaxPrice.Int64() != 100 {
		t.Fatalf("wrong binding %+v", b)
	}

	// A second deposit adds to the balance and overwrites the binding.
	h.depositNative(t, u, 50, tCollection2, 20, 200)
	checkBalance(t, e, u.addr, tNative, 150)
	b = e.Binding(u.addr)
	if b.Collection != tCollection2 || b.MinPrice.Int64() != 20 || b.MaxPrice.Int64() != 200 {
		t.Fatalf("binding not overwritten %+v", b)
	}

	recs, _ := e.Records(&db.RecordFilter{Type: db.RecordDeposit, Account: &u.addr})
	if len(recs) != 2 || recs[0].Amount.Int64() != 100 || recs[1].Collection != tCollection2 || recs[1].Seq <= recs[0].Seq {
		t.Fatalf("wrong deposit records %+v", recs)
	}
	if !recs[0].Stamp.Equal(tStamp) {
		t.Fatalf("wrong record stamp %s", recs[0].Stamp)
	}
}

func TestDepositOverflow(t *testing.T) {
	h := newTHarness(t, nil)
	u := newTUser(t, 1)
	p := u.params(t, h.e, tCollection, tNative, 0, 1)
	if err := h.e.DepositNative(tCtx, u.addr, dexeth.MaxUint256, p); err != nil {
		t.Fatalf("DepositNative error: %v", err)
	}
	ensureErr(t, h.e.DepositNative(tCtx, u.addr, big.NewInt(1), p), ErrInvalidAmount)
	if h.e.Balance(u.addr, tNative).Cmp(dexeth.MaxUint256) != 0 {
		t.Fatalf("balance changed by overflowing deposit")
	}
	tooBig := new(big.Int).Add(dexeth.MaxUint256, big.NewInt(1))
	ensureErr(t, h.e.DepositNative(tCtx, newTUser(t, 2).addr, tooBig, p), ErrInvalidAmount)
}

func TestDepositToken(t *testing.T) {
	h := newTHarness(t, nil)
	e := h.e
	u := newTUser(t, 1)
	tk := h.tokens[tToken]

	p := u.params(t, e, tCollection, tToken, 10, 100)
	ensureErr(t, e.DepositToken(tCtx, u.addr, tToken, big.NewInt(100), p), ErrTokenNotAllowed)
	ensureErr(t, e.DepositToken(tCtx, u.addr, tNative, big.NewInt(100), p), ErrInvalidAddress)
	h.allowToken(t, tToken)

	// Failed approval.
	tk.approveErr = errTestFailed
	ensureErr(t, e.DepositToken(tCtx, u.addr, tToken, big.NewInt(100), p), ErrExternalCallFailed)
	if len(tk.transfers) != 0 {
		t.Fatalf("funds pulled despite failed approval")
	}
	if e.IsApproved(tToken) {
		t.Fatalf("approval flag set by failed approval")
	}
	tk.approveErr = nil

	// A failed pull leaves no balance or binding, but the allowance it
	// granted is kept.
	tk.transferErr = errTestFailed
	ensureErr(t, e.DepositToken(tCtx, u.addr, tToken, big.NewInt(100), p), ErrExternalCallFailed)
	checkBalance(t, e, u.addr, tToken, 0)
	if e.Binding(u.addr) != nil {
		t.Fatalf("binding stored by failed deposit")
	}
	if !e.IsApproved(tToken) || tk.numApprovals() != 1 {
		t.Fatalf("granted allowance not committed")
	}
	tk.transferErr = nil

	if err := e.DepositToken(tCtx, u.addr, tToken, big.NewInt(100), p); err != nil {
		t.Fatalf("DepositToken error: %v", err)
	}
	checkBalance(t, e, u.addr, tToken, 100)
	checkBalance(t, e, u.addr, tNative, 0)
	if len(tk.transfers) != 1 {
		t.Fatalf("expected 1 transfer, got %d", len(tk.transfers))
	}
	tr := tk.transfers[0]
	if tr.from != u.addr || tr.to != tEngineAddr || tr.amt.Int64() != 100 {
		t.Fatalf("wrong transferFrom %+v", tr)
	}
	if tk.numApprovals() != 1 || tk.approvals[0] != tSpender || !e.IsApproved(tToken) {
		t.Fatalf("conduit not approved")
	}
	if b := e.Binding(u.addr); b == nil || b.Token != tToken {
		t.Fatalf("wrong binding %+v", b)
	}

	// Second deposit does not approve again.
	if err := e.DepositToken(tCtx, u.addr, tToken, big.NewInt(5), p); err != nil {
		t.Fatalf("DepositToken error: %v", err)
	}
	if tk.numApprovals() != 1 {
		t.Fatalf("approved again")
	}
	checkBalance(t, e, u.addr, tToken, 105)
	if n := numRecords(t, e, db.RecordApproval); n != 1 {
		t.Fatalf("expected 1 approval record, got %d", n)
	}
}

func TestApproveToken(t *testing.T) {
	h := newTHarness(t, nil)
	e := h.e
	tk := h.tokens[tToken]

	ensureErr(t, e.ApproveToken(tCtx, tDeployer, tToken), ErrTokenNotAllowed)
	h.allowToken(t, tToken)
	ensureErr(t, e.ApproveToken(tCtx, common.Address{0x0d}, tToken), ErrUnauthorized)

	tk.approveErr = errTestFailed
	ensureErr(t, e.ApproveToken(tCtx, tDeployer, tToken), ErrExternalCallFailed)
	if e.IsApproved(tToken) {
		t.Fatalf("flag set by failed approval")
	}
	tk.approveErr = nil

	for i := 0; i < 2; i++ {
		if err := e.ApproveToken(tCtx, tDeployer, tToken); err != nil {
			t.Fatalf("ApproveToken error: %v", err)
		}
	}
	if n := tk.numApprovals(); n != 1 {
		t.Fatalf("expected exactly one approval, got %d", n)
	}

	// A later deposit does not approve again either.
	u := newTUser(t, 1)
	if err := e.DepositToken(tCtx, u.addr, tToken, big.NewInt(1), u.params(t, e, tCollection, tToken, 1, 1)); err != nil {
		t.Fatalf("DepositToken error: %v", err)
	}
	if n := tk.numApprovals(); n != 1 {
		t.Fatalf("expected exactly one approval after deposit, got %d", n)
	}
}

func TestApprovalKeptAfterFailedPull(t *testing.T) {
	arch := newTArchive()
	h := newTHarness(t, arch)
	e := h.e
	u := newTUser(t, 1)
	tk := h.tokens[tToken]
	h.allowToken(t, tToken)
	p := u.params(t, e, tCollection, tToken, 1, 100)

	tk.transferErr = errTestFailed
	ensureErr(t, e.DepositToken(tCtx, u.addr, tToken, big.NewInt(100), p), ErrExternalCallFailed)
	tk.transferErr = nil
	if !arch.approved[tToken] {
		t.Fatalf("approval flag not stored")
	}

	// Neither this engine nor one restored from storage approves again.
	if err := e.DepositToken(tCtx, u.addr, tToken, big.NewInt(100), p); err != nil {
		t.Fatalf("DepositToken error: %v", err)
	}
	h2 := newTHarness(t, arch)
	h2.tokens[tToken] = tk
	if err := h2.e.DepositToken(tCtx, u.addr, tToken, big.NewInt(1), p); err != nil {
		t.Fatalf("DepositToken after restore error: %v", err)
	}
	if n := tk.numApprovals(); n != 1 {
		t.Fatalf("approve called %d times for one token", n)
	}
	if n := numRecords(t, h2.e, db.RecordApproval); n != 1 {
		t.Fatalf("expected 1 approval record, got %d", n)
	}
	checkBalance(t, h2.e, u.addr, tToken, 101)
}

func TestDepositNativeVerification(t *testing.T) {
	arch := newTArchive()
	h := newTHarness(t, arch)
	e := h.e
	u := newTUser(t, 1)

	p := u.params(t, e, tCollection, tNative, 10, 100)
	noTx := *p
	noTx.TxHash = common.Hash{}
	ensureErr(t, e.DepositNative(tCtx, u.addr, big.NewInt(100), &noTx), ErrDepositUnverified)

	h.native.verifyErr = errTestFailed
	ensureErr(t, e.DepositNative(tCtx, u.addr, big.NewInt(100), p), ErrDepositUnverified)
	checkBalance(t, e, u.addr, tNative, 0)
	if e.Binding(u.addr) != nil {
		t.Fatalf("binding stored by unverified deposit")
	}
	h.native.verifyErr = nil

	if err := e.DepositNative(tCtx, u.addr, big.NewInt(100), p); err != nil {
		t.Fatalf("DepositNative error: %v", err)
	}
	if len(h.native.verified) != 1 || h.native.verified[0] != p.TxHash {
		t.Fatalf("deposit transaction not verified: %v", h.native.verified)
	}
	recs, _ := e.Records(&db.RecordFilter{Type: db.RecordDeposit})
	if len(recs) != 1 || recs[0].Detail != p.TxHash.Hex() {
		t.Fatalf("deposit transaction not recorded %+v", recs)
	}

	// The same signed deposit cannot be credited again, for any amount.
	for _, amt := range []int64{100, 1, 1e6} {
		ensureErr(t, e.DepositNative(tCtx, u.addr, big.NewInt(amt), p), ErrDepositReused)
	}
	checkBalance(t, e, u.addr, tNative, 100)

	// Nor by an engine restored from storage.
	h2 := newTHarness(t, arch)
	ensureErr(t, h2.e.DepositNative(tCtx, u.addr, big.NewInt(100), p), ErrDepositReused)
	if len(h2.native.verified) != 0 {
		t.Fatalf("reused transaction looked up on chain")
	}
	checkBalance(t, h2.e, u.addr, tNative, 100)
}

func TestDepositTokenUnconfirmed(t *testing.T) {
	h := newTHarness(t, nil)
	e := h.e
	u := newTUser(t, 1)
	tk := h.tokens[tToken]
	h.allowToken(t, tToken)

	txHash := common.Hash{0x77}
	tk.transferErr = &PendingTxError{TxHash: txHash, Err: errTestFailed}
	err := e.DepositToken(tCtx, u.addr, tToken, big.NewInt(100), u.params(t, e, tCollection, tToken, 1, 100))
	ensureErr(t, err, ErrTxPending)
	checkBalance(t, e, u.addr, tToken, 0)
	if e.Binding(u.addr) != nil {
		t.Fatalf("binding stored for unconfirmed deposit")
	}
	var pending *PendingTxError
	if !errors.As(e.LastErr(), &pending) || pending.TxHash != txHash {
		t.Fatalf("unconfirmed transfer not latched, LastErr = %v", e.LastErr())
	}
}
