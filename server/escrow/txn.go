// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/morphaNFT/marker-maker/dex"
	"github.com/morphaNFT/marker-maker/server/db"
)

type balanceKey struct {
	account common.Address
	token   common.Address
}

type binding struct {
	collection common.Address
	token      common.Address
	min, max   *uint256.Int
}

func (b *binding) export() *Binding {
	return &Binding{
		Collection: b.collection,
		Token:      b.token,
		MinPrice:   b.min.ToBig(),
		MaxPrice:   b.max.ToBig(),
	}
}

// Binding is a depositor's signed purchase intent. The zero Token is the
// native currency.
type Binding struct {
	Collection common.Address
	Token      common.Address
	MinPrice   *big.Int
	MaxPrice   *big.Int
}

// toAmount converts an API amount to a uint256. Nil, negative and oversized
// amounts are ErrInvalidAmount.
func toAmount(amt *big.Int, what string) (*uint256.Int, error) {
	if amt == nil {
		return nil, dex.NewError(ErrInvalidAmount, what+" not specified")
	}
	if amt.Sign() < 0 {
		return nil, dex.NewError(ErrInvalidAmount, what+" is negative")
	}
	u, overflow := uint256.FromBig(amt)
	if overflow {
		return nil, dex.NewError(ErrInvalidAmount, what+" overflows uint256")
	}
	return u, nil
}

// txn is the staged state of a single operation. Nothing staged is visible
// until the engine commits it, and a discarded txn leaves no trace.
type txn struct {
	e        *Engine
	balances map[balanceKey]*uint256.Int
	bindings map[common.Address]*binding // nil value deletes
	approved map[common.Address]bool
	allowed  map[common.Address]bool
	roles    *db.Roles
	records  []*db.Record
	// settled is set once an external call may have moved value.
	// From then on the txn must be committed.
	settled bool
}

func (e *Engine) newTxn() *txn {
	return &txn{
		e:        e,
		balances: make(map[balanceKey]*uint256.Int),
		bindings: make(map[common.Address]*binding),
		approved: make(map[common.Address]bool),
		allowed:  make(map[common.Address]bool),
	}
}

// balance is the staged balance, falling back to the committed one. The
// returned value must not be modified.
func (tx *txn) balance(account, token common.Address) *uint256.Int {
	k := balanceKey{account, token}
	if bal, found := tx.balances[k]; found {
		return bal
	}
	if bal, found := tx.e.balances[k]; found {
		return bal
	}
	return new(uint256.Int)
}

func (tx *txn) credit(account, token common.Address, amt *uint256.Int) error {
	cur := tx.balance(account, token)
	sum, overflow := new(uint256.Int).AddOverflow(cur, amt)
	if overflow {
		return dex.NewError(ErrInvalidAmount, "balance overflow for "+account.Hex())
	}
	tx.balances[balanceKey{account, token}] = sum
	return nil
}

func (tx *txn) debit(account, token common.Address, amt *uint256.Int) error {
	cur := tx.balance(account, token)
	if cur.Lt(amt) {
		return dex.NewError(ErrInsufficientFunds, account.Hex()+" has "+cur.Dec()+", needs "+amt.Dec())
	}
	tx.balances[balanceKey{account, token}] = new(uint256.Int).Sub(cur, amt)
	return nil
}

func (tx *txn) binding(account common.Address) *binding {
	if b, found := tx.bindings[account]; found {
		return b
	}
	return tx.e.bindings[account]
}

func (tx *txn) putBinding(account common.Address, b *binding) {
	tx.bindings[account] = b
}

func (tx *txn) deleteBinding(account common.Address) {
	tx.bindings[account] = nil
}

func (tx *txn) setApproved(token common.Address) {
	tx.approved[token] = true
}

func (tx *txn) isAllowed(token common.Address) bool {
	if allowed, found := tx.allowed[token]; found {
		return allowed
	}
	return tx.e.allowed[token]
}

func (tx *txn) setAllowed(token common.Address, allowed bool) {
	tx.allowed[token] = allowed
}

func (tx *txn) setRoles(r db.Roles) {
	tx.roles = &r
}

func (tx *txn) record(r *db.Record) {
	tx.records = append(tx.records, r)
}

// changeSet converts the staged state to a db.ChangeSet. Records are numbered
// following lastSeq.
func (tx *txn) changeSet(lastSeq uint64) *db.ChangeSet {
	cs := &db.ChangeSet{Roles: tx.roles}
	for k, bal := range tx.balances {
		cs.Balances = append(cs.Balances, &db.Balance{
			Account: k.account,
			Token:   k.token,
			Amount:  bal.ToBig(),
		})
	}
	for acct, b := range tx.bindings {
		if b == nil {
			cs.DeletedBindings = append(cs.DeletedBindings, acct)
			continue
		}
		cs.Bindings = append(cs.Bindings, &db.Binding{
			Account:    acct,
			Collection: b.collection,
			Token:      b.token,
			MinPrice:   b.min.ToBig(),
			MaxPrice:   b.max.ToBig(),
		})
	}
	for token := range tx.approved {
		cs.Approved = append(cs.Approved, token)
	}
	if len(tx.allowed) > 0 {
		cs.Allowed = make(map[common.Address]bool, len(tx.allowed))
		for token, allowed := range tx.allowed {
			cs.Allowed[token] = allowed
		}
	}
	stamp := tx.e.now()
	for i, r := range tx.records {
		r.Seq = lastSeq + uint64(i) + 1
		r.Stamp = stamp
		cs.Records = append(cs.Records, r)
	}
	return cs
}
