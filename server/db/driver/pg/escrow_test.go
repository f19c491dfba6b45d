// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package pg

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/morphaNFT/marker-maker/server/db"
	"github.com/morphaNFT/marker-maker/server/db/driver/pg/internal"
)

func TestRecordsQuery(t *testing.T) {
	acct := common.Address{0xa1}
	base := internal.SelectRecords
	tests := []struct {
		name     string
		filter   *db.RecordFilter
		wantStmt string
		wantArgs int
	}{{
		name:     "nil",
		wantStmt: base + " ORDER BY seq;",
	}, {
		name:     "after and limit",
		filter:   &db.RecordFilter{After: 5, Limit: 10},
		wantStmt: base + " WHERE seq > $1 ORDER BY seq LIMIT 10;",
		wantArgs: 1,
	}, {
		name:     "all",
		filter:   &db.RecordFilter{After: 5, Type: db.RecordRefund, Account: &acct},
		wantStmt: base + " WHERE seq > $1 AND rec_type = $2 AND (account = $3 OR caller = $3) ORDER BY seq;",
		wantArgs: 3,
	}, {
		name:     "deposit tx",
		filter:   &db.RecordFilter{Type: db.RecordDeposit, Detail: "0x01", Limit: 1},
		wantStmt: base + " WHERE rec_type = $1 AND detail = $2 ORDER BY seq LIMIT 1;",
		wantArgs: 2,
	}, {
		name:     "account only",
		filter:   &db.RecordFilter{Account: &acct},
		wantStmt: base + " WHERE (account = $1 OR caller = $1) ORDER BY seq;",
		wantArgs: 1,
	}}
	for _, tt := range tests {
		stmt, args := recordsQuery(tt.filter)
		if stmt != tt.wantStmt {
			t.Fatalf("%s: wrong statement\n%s\nwanted\n%s", tt.name, stmt, tt.wantStmt)
		}
		if len(args) != tt.wantArgs {
			t.Fatalf("%s: wanted %d args, got %d", tt.name, tt.wantArgs, len(args))
		}
	}
}

func TestNumericScan(t *testing.T) {
	max256 := "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	var n numeric
	if err := n.Scan([]byte(max256)); err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if n.String() != max256 {
		t.Fatalf("wrong value %s", n.Int)
	}
	if err := n.Scan(int64(7)); err != nil || n.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("wrong int64 scan %v, %v", n.Int, err)
	}
	if err := n.Scan(nil); err != nil || n.Int != nil {
		t.Fatalf("NULL not scanned as nil")
	}
	if err := n.Scan("1.5"); !db.IsErrCorrupt(err) {
		t.Fatalf("expected corrupt record error, got %v", err)
	}
	if amountValue(nil) != nil || amountValue(big.NewInt(12)) != "12" {
		t.Fatalf("wrong amount values")
	}

	var a addressBytes
	if err := a.Scan(make([]byte, 19)); !db.IsErrCorrupt(err) {
		t.Fatalf("expected corrupt record error for short address, got %v", err)
	}
	if err := a.Scan(common.Address{0x01}.Bytes()); err != nil || common.Address(a) != (common.Address{0x01}) {
		t.Fatalf("wrong address scan %x, %v", a, err)
	}
}
