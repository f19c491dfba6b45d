// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package bdb

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/morphaNFT/marker-maker/dex"
	"github.com/morphaNFT/marker-maker/server/db"
)

var (
	tAdmin      = common.Address{0x01}
	tOperator   = common.Address{0x02}
	tAgent      = common.Address{0x03}
	tAlice      = common.Address{0xa1}
	tBob        = common.Address{0xb0}
	tToken      = common.Address{0x70}
	tCollection = common.Address{0xc0}
	tNative     = common.Address{}
)

func TestMain(m *testing.M) {
	UseLogger(dex.StdOutLogger("BDB_TEST", slog.LevelTrace))
	os.Exit(m.Run())
}

func newTestArchiver(t *testing.T, dir string) *Archiver {
	t.Helper()
	a, err := NewArchiver(context.Background(), &Config{Path: dir})
	if err != nil {
		t.Fatalf("NewArchiver error: %v", err)
	}
	return a
}

func testChangeSet(stamp time.Time) *db.ChangeSet {
	return &db.ChangeSet{
		Roles: &db.Roles{
			Administrator:  tAdmin,
			Operator:       tOperator,
			DeductionAgent: tAgent,
			Active:         true,
		},
		Balances: []*db.Balance{
			{Account: tAlice, Token: tNative, Amount: big.NewInt(100)},
			{Account: tAlice, Token: tToken, Amount: big.NewInt(5)},
			{Account: tBob, Token: tToken, Amount: big.NewInt(7)},
		},
		Bindings: []*db.Binding{
			{Account: tAlice, Collection: tCollection, Token: tNative, MinPrice: big.NewInt(0), MaxPrice: big.NewInt(100)},
		},
		Approved: []common.Address{tToken},
		Allowed:  map[common.Address]bool{tToken: true},
		Records: []*db.Record{
			{Seq: 1, Type: db.RecordRoleChange, Stamp: stamp, Caller: tAdmin, Account: tOperator, Detail: "operator"},
			{Seq: 2, Type: db.RecordDeposit, Stamp: stamp, Caller: tAlice, Account: tAlice, Collection: tCollection, Amount: big.NewInt(100)},
			{Seq: 3, Type: db.RecordFulfillment, Stamp: stamp, Caller: tOperator, Account: tBob, Token: tToken, Amount: big.NewInt(3), SpendCap: big.NewInt(3)},
		},
	}
}

func TestApplyAndLoad(t *testing.T) {
	dir := t.TempDir()
	a := newTestArchiver(t, dir)

	st, err := a.LoadState()
	if err != nil {
		t.Fatalf("LoadState error: %v", err)
	}
	if st.Roles != nil || st.LastSeq != 0 || len(st.Balances) != 0 {
		t.Fatalf("fresh database not empty: %+v", st)
	}

	stamp := time.UnixMilli(1700000000000).UTC()
	if err := a.Apply(testChangeSet(stamp)); err != nil {
		t.Fatalf("Apply error: %v", err)
	}

	// Zero balance deletes, binding delete, allowed removed.
	err = a.Apply(&db.ChangeSet{
		Balances:        []*db.Balance{{Account: tBob, Token: tToken, Amount: new(big.Int)}},
		DeletedBindings: []common.Address{tAlice},
		Allowed:         map[common.Address]bool{tToken: false},
		Records:         []*db.Record{{Seq: 4, Type: db.RecordRefund, Stamp: stamp, Caller: tBob, Account: tBob, Token: tToken, Amount: big.NewInt(7)}},
	})
	if err != nil {
		t.Fatalf("second Apply error: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if _, err := a.LoadState(); !db.SameErrorTypes(err, db.ArchiveError{Code: db.ErrClosed}) {
		t.Fatalf("expected closed error, got %v", err)
	}

	// Reopen.
	a = newTestArchiver(t, dir)
	defer a.Close()
	st, err = a.LoadState()
	if err != nil {
		t.Fatalf("LoadState error: %v", err)
	}
	if st.Roles == nil || *st.Roles != *testChangeSet(stamp).Roles {
		t.Fatalf("wrong roles %+v", st.Roles)
	}
	if st.LastSeq != 4 {
		t.Fatalf("wrong last sequence %d", st.LastSeq)
	}
	if len(st.Balances) != 2 {
		t.Fatalf("wrong number of balances %d", len(st.Balances))
	}
	for _, b := range st.Balances {
		if b.Account != tAlice {
			t.Fatalf("unexpected balance for %s", b.Account)
		}
		switch b.Token {
		case tNative:
			if b.Amount.Cmp(big.NewInt(100)) != 0 {
				t.Fatalf("wrong native balance %s", b.Amount)
			}
		case tToken:
			if b.Amount.Cmp(big.NewInt(5)) != 0 {
				t.Fatalf("wrong token balance %s", b.Amount)
			}
		default:
			t.Fatalf("unexpected token %s", b.Token)
		}
	}
	if len(st.Bindings) != 0 {
		t.Fatalf("binding not deleted")
	}
	if len(st.Approved) != 1 || st.Approved[0] != tToken {
		t.Fatalf("wrong approved tokens %v", st.Approved)
	}
	if len(st.Allowed) != 0 {
		t.Fatalf("wrong allowed tokens %v", st.Allowed)
	}

	recs, err := a.Records(nil)
	if err != nil {
		t.Fatalf("Records error: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("wrong number of records %d", len(recs))
	}
	for i, r := range recs {
		if r.Seq != uint64(i+1) {
			t.Fatalf("record %d has sequence %d", i, r.Seq)
		}
		if !r.Stamp.Equal(stamp) {
			t.Fatalf("wrong stamp %s", r.Stamp)
		}
	}
	ful := recs[2]
	if ful.Type != db.RecordFulfillment || ful.Caller != tOperator || ful.Account != tBob ||
		ful.Token != tToken || ful.Amount.Cmp(big.NewInt(3)) != 0 || ful.SpendCap.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("wrong fulfillment record %+v", ful)
	}
	if recs[1].SpendCap != nil {
		t.Fatalf("nil spend cap not preserved")
	}
	if recs[0].Detail != "operator" {
		t.Fatalf("wrong detail %q", recs[0].Detail)
	}
}

func TestRecordsFilter(t *testing.T) {
	a, err := NewArchiver(context.Background(), &Config{InMemory: true})
	if err != nil {
		t.Fatalf("NewArchiver error: %v", err)
	}
	defer a.Close()

	if err := a.Apply(testChangeSet(time.Now())); err != nil {
		t.Fatalf("Apply error: %v", err)
	}

	bob := tBob
	tests := []struct {
		name   string
		filter *db.RecordFilter
		want   []uint64
	}{
		{"all", &db.RecordFilter{}, []uint64{1, 2, 3}},
		{"after", &db.RecordFilter{After: 1}, []uint64{2, 3}},
		{"limit", &db.RecordFilter{Limit: 2}, []uint64{1, 2}},
		{"type", &db.RecordFilter{Type: db.RecordDeposit}, []uint64{2}},
		{"account", &db.RecordFilter{Account: &bob}, []uint64{3}},
		{"none", &db.RecordFilter{After: 3}, nil},
	}
	for _, tt := range tests {
		recs, err := a.Records(tt.filter)
		if err != nil {
			t.Fatalf("%s: Records error: %v", tt.name, err)
		}
		if len(recs) != len(tt.want) {
			t.Fatalf("%s: wanted %d records, got %d", tt.name, len(tt.want), len(recs))
		}
		for i, r := range recs {
			if r.Seq != tt.want[i] {
				t.Fatalf("%s: wrong sequence %d at %d", tt.name, r.Seq, i)
			}
		}
	}
}

func TestApplyInvalid(t *testing.T) {
	a, err := NewArchiver(context.Background(), &Config{InMemory: true})
	if err != nil {
		t.Fatalf("NewArchiver error: %v", err)
	}
	defer a.Close()

	cs := &db.ChangeSet{Balances: []*db.Balance{{Account: tAlice}}}
	if err := a.Apply(cs); !db.SameErrorTypes(err, db.ArchiveError{Code: db.ErrInvalidChangeSet}) {
		t.Fatalf("expected invalid change set error, got %v", err)
	}
	st, err := a.LoadState()
	if err != nil {
		t.Fatalf("LoadState error: %v", err)
	}
	if len(st.Balances) != 0 {
		t.Fatalf("invalid change set was written")
	}
}

func TestDriverRegistered(t *testing.T) {
	a, err := db.Open(context.Background(), "bdb", &Config{InMemory: true})
	if err != nil {
		t.Fatalf("db.Open error: %v", err)
	}
	a.Close()
	if _, err := db.Open(context.Background(), "bdb", "nope"); err == nil {
		t.Fatalf("no error for bad config type")
	}
}
