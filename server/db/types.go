// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package db

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Balance is a depositor's balance of a single token. The zero Token address
// is the native currency.
type Balance struct {
	Account common.Address
	Token   common.Address
	Amount  *big.Int
}

// Binding is a depositor's signed purchase intent.
type Binding struct {
	Account    common.Address
	Collection common.Address
	Token      common.Address
	MinPrice   *big.Int
	MaxPrice   *big.Int
}

// Roles is the role assignment and activation flag.
type Roles struct {
	Administrator  common.Address
	Operator       common.Address
	DeductionAgent common.Address
	Active         bool
}

// RecordType is the type of a Record.
type RecordType uint8

const (
	RecordDeposit RecordType = iota + 1
	RecordFulfillment
	RecordRefund
	RecordGasFee
	RecordRoleChange
	RecordActivation
	RecordTokenAllowed
	RecordApproval
)

// String returns the name of the record type.
func (rt RecordType) String() string {
	switch rt {
	case RecordDeposit:
		return "deposit"
	case RecordFulfillment:
		return "fulfillment"
	case RecordRefund:
		return "refund"
	case RecordGasFee:
		return "gasfee"
	case RecordRoleChange:
		return "rolechange"
	case RecordActivation:
		return "activation"
	case RecordTokenAllowed:
		return "tokenallowed"
	case RecordApproval:
		return "approval"
	}
	return "unknown"
}

// RecordTypeFromString parses the name of a record type. Unknown names return
// zero.
func RecordTypeFromString(s string) RecordType {
	for rt := RecordDeposit; rt <= RecordApproval; rt++ {
		if rt.String() == s {
			return rt
		}
	}
	return 0
}

// Record is an entry in the append-only record log. Which fields are set
// depends on the Type:
//
//	deposit:      Caller (depositor), Account, Token, Collection, Amount, Detail (native deposit tx hash)
//	fulfillment:  Caller, Account (recipient), Token, Collection, Amount, SpendCap
//	refund:       Caller, Account, Token, Amount, Detail (pending tx hash, if any)
//	gasfee:       Caller, Account, Amount, Counterparty (operator), Detail (pending tx hash, if any)
//	rolechange:   Caller, Account (new holder), Counterparty (old holder), Detail (role)
//	activation:   Caller, Detail ("active" or "inactive")
//	tokenallowed: Caller, Token, Detail ("true" or "false")
//	approval:     Token, Counterparty (spender)
type Record struct {
	Seq          uint64
	Type         RecordType
	Stamp        time.Time
	Caller       common.Address
	Account      common.Address
	Counterparty common.Address
	Token        common.Address
	Collection   common.Address
	Amount       *big.Int
	SpendCap     *big.Int
	Detail       string
}

// RecordFilter selects records. Zero values match everything.
type RecordFilter struct {
	// Account matches records with Account or Caller equal to it.
	Account *common.Address
	Type    RecordType
	// Detail, if set, must equal the record's Detail.
	Detail string
	// After excludes records with Seq <= After.
	After uint64
	// Limit of zero is unlimited.
	Limit int
}

// Match checks whether the record passes the filter, ignoring Limit.
func (f *RecordFilter) Match(r *Record) bool {
	if f == nil {
		return true
	}
	if r.Seq <= f.After {
		return false
	}
	if f.Type != 0 && r.Type != f.Type {
		return false
	}
	if f.Detail != "" && r.Detail != f.Detail {
		return false
	}
	if f.Account != nil && r.Account != *f.Account && r.Caller != *f.Account {
		return false
	}
	return true
}

// State is the complete committed state of the engine.
type State struct {
	Roles    *Roles
	Balances []*Balance
	Bindings []*Binding
	Approved []common.Address
	Allowed  []common.Address
	// LastSeq is the highest record sequence number stored.
	LastSeq uint64
}

// ChangeSet is the set of changes made by one committed engine operation.
type ChangeSet struct {
	// Roles is non-nil if the roles or activation flag changed.
	Roles *Roles
	// Balances are upserted. A zero Amount deletes the row.
	Balances        []*Balance
	Bindings        []*Binding
	DeletedBindings []common.Address
	// Approved tokens are only ever added.
	Approved []common.Address
	Allowed  map[common.Address]bool
	Records  []*Record
}

// Empty is true if there is nothing to persist.
func (cs *ChangeSet) Empty() bool {
	return cs.Roles == nil && len(cs.Balances) == 0 && len(cs.Bindings) == 0 &&
		len(cs.DeletedBindings) == 0 && len(cs.Approved) == 0 && len(cs.Allowed) == 0 &&
		len(cs.Records) == 0
}
