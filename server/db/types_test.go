// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package db

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestRecordFilter(t *testing.T) {
	alice, bob := common.Address{1}, common.Address{2}
	recs := []*Record{
		{Seq: 1, Type: RecordDeposit, Caller: alice, Account: alice, Detail: "0xab"},
		{Seq: 2, Type: RecordFulfillment, Caller: bob, Account: alice},
		{Seq: 3, Type: RecordGasFee, Caller: bob, Account: bob},
	}
	tests := []struct {
		name   string
		filter *RecordFilter
		want   []uint64
	}{
		{"nil", nil, []uint64{1, 2, 3}},
		{"alice", &RecordFilter{Account: &alice}, []uint64{1, 2}},
		{"bob as caller", &RecordFilter{Account: &bob}, []uint64{2, 3}},
		{"type", &RecordFilter{Type: RecordFulfillment}, []uint64{2}},
		{"after", &RecordFilter{After: 1}, []uint64{2, 3}},
		{"detail", &RecordFilter{Type: RecordDeposit, Detail: "0xab"}, []uint64{1}},
		{"other detail", &RecordFilter{Detail: "0xcd"}, nil},
		{"combined", &RecordFilter{Account: &alice, After: 1, Type: RecordDeposit}, nil},
	}
	for _, tt := range tests {
		var got []uint64
		for _, r := range recs {
			if tt.filter.Match(r) {
				got = append(got, r.Seq)
			}
		}
		if len(got) != len(tt.want) {
			t.Fatalf("%s: wanted %v, got %v", tt.name, tt.want, got)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("%s: wanted %v, got %v", tt.name, tt.want, got)
			}
		}
	}
}

func TestRecordTypeStrings(t *testing.T) {
	for rt := RecordDeposit; rt <= RecordApproval; rt++ {
		if got := RecordTypeFromString(rt.String()); got != rt {
			t.Fatalf("round trip of %s gave %d", rt, got)
		}
	}
	if RecordTypeFromString("nope") != 0 {
		t.Fatalf("unknown name parsed")
	}
}

func TestValidateChangeSet(t *testing.T) {
	if err := ValidateChangeSet(&ChangeSet{Balances: []*Balance{{Amount: big.NewInt(0)}}}); err != nil {
		t.Fatalf("zero balance rejected: %v", err)
	}
	err := ValidateChangeSet(&ChangeSet{Balances: []*Balance{{Amount: big.NewInt(-1)}}})
	if !SameErrorTypes(err, ArchiveError{Code: ErrInvalidChangeSet}) {
		t.Fatalf("wrong error for negative balance: %v", err)
	}
	err = ValidateChangeSet(&ChangeSet{Records: []*Record{{Type: RecordDeposit}}})
	var ae ArchiveError
	if !errors.As(err, &ae) || ae.Code != ErrInvalidChangeSet {
		t.Fatalf("wrong error for record without sequence: %v", err)
	}
	if !(&ChangeSet{}).Empty() || (&ChangeSet{Allowed: map[common.Address]bool{{}: true}}).Empty() {
		t.Fatalf("wrong Empty")
	}
}
