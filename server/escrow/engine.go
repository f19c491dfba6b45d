// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/morphaNFT/marker-maker/dex"
	dexeth "github.com/morphaNFT/marker-maker/dex/networks/eth"
	"github.com/morphaNFT/marker-maker/server/db"
)

// Config is the configuration for an Engine.
type Config struct {
	// Address is the engine's own identity. It is the custodian of deposited
	// funds and is part of every signed deposit binding.
	Address common.Address
	// ChainID is part of every signed deposit binding.
	ChainID *big.Int
	// Deployer is assigned every role when the engine is created for the
	// first time.
	Deployer common.Address
	// ConduitSpender is the address granted token allowances for settlement.
	ConduitSpender common.Address
	Conduit        Conduit
	Tokens         TokenSource
	Native         NativeSender
	// Deposits confirms native deposits on chain before they are credited.
	Deposits NativeDepositVerifier
	// Storage is optional. Without it, state lives only in memory.
	Storage db.Archivist
	// Now is used to stamp records. Defaults to time.Now.
	Now func() time.Time
}

// Engine is the custodial escrow engine. It holds depositor balances and
// deposit bindings, and settles bound purchases through the Conduit.
type Engine struct {
	addr           common.Address
	chainID        *big.Int
	conduitSpender common.Address
	conduit        Conduit
	tokens         TokenSource
	native         NativeSender
	deposits       NativeDepositVerifier
	storage        db.Archivist
	now            func() time.Time

	roles *Roles

	// guard is held for the duration of every mutating operation.
	guard chan struct{}

	// stateMtx protects the committed state below against concurrent
	// readers. Writers also hold the guard.
	stateMtx sync.RWMutex
	balances map[balanceKey]*uint256.Int
	bindings map[common.Address]*binding
	approved map[common.Address]bool
	allowed  map[common.Address]bool
	lastSeq  uint64
	records  []*db.Record // only without Storage

	errMtx  sync.Mutex
	lastErr error
}

// NewEngine is the constructor for an Engine. If Storage is set, the
// committed state is restored from it.
func NewEngine(cfg *Config) (*Engine, error) {
	if cfg.Conduit == nil || cfg.Tokens == nil || cfg.Native == nil || cfg.Deposits == nil {
		return nil, errors.New("conduit, token source, native sender and deposit verifier are required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("invalid chain ID")
	}
	if cfg.Address == (common.Address{}) {
		return nil, errors.New("engine address not set")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		addr:           cfg.Address,
		chainID:        new(big.Int).Set(cfg.ChainID),
		conduitSpender: cfg.ConduitSpender,
		conduit:        cfg.Conduit,
		tokens:         cfg.Tokens,
		native:         cfg.Native,
		deposits:       cfg.Deposits,
		storage:        cfg.Storage,
		now:            now,
		guard:          make(chan struct{}, 1),
		balances:       make(map[balanceKey]*uint256.Int),
		bindings:       make(map[common.Address]*binding),
		approved:       make(map[common.Address]bool),
		allowed:        make(map[common.Address]bool),
	}

	var st *db.State
	if cfg.Storage != nil {
		var err error
		if st, err = cfg.Storage.LoadState(); err != nil {
			return nil, fmt.Errorf("error loading engine state: %w", err)
		}
	}
	if st != nil && st.Roles != nil {
		if err := e.restore(st); err != nil {
			return nil, err
		}
		log.Infof("Restored state: %d balances, %d bindings, %d approved tokens, %d allowed tokens, last record %d",
			len(e.balances), len(e.bindings), len(e.approved), len(e.allowed), e.lastSeq)
		return e, nil
	}

	// First run.
	if cfg.Deployer == (common.Address{}) {
		return nil, errors.New("deployer address not set")
	}
	r := db.Roles{
		Administrator:  cfg.Deployer,
		Operator:       cfg.Deployer,
		DeductionAgent: cfg.Deployer,
		Active:         true,
	}
	e.roles = NewRoles(db.Roles{})
	if st != nil {
		e.lastSeq = st.LastSeq
	}
	tx := e.newTxn()
	tx.setRoles(r)
	if err := e.commit(tx); err != nil {
		return nil, fmt.Errorf("error storing initial roles: %w", err)
	}
	log.Infof("New engine %s on chain %s, deployer %s", e.addr, e.chainID, cfg.Deployer)
	return e, nil
}

func (e *Engine) restore(st *db.State) error {
	e.roles = NewRoles(*st.Roles)
	for _, b := range st.Balances {
		amt, err := toAmount(b.Amount, "stored balance")
		if err != nil {
			return fmt.Errorf("bad balance for %s: %w", b.Account, err)
		}
		e.balances[balanceKey{b.Account, b.Token}] = amt
	}
	for _, b := range st.Bindings {
		minPrice, err := toAmount(b.MinPrice, "stored min price")
		if err != nil {
			return fmt.Errorf("bad binding for %s: %w", b.Account, err)
		}
		maxPrice, err := toAmount(b.MaxPrice, "stored max price")
		if err != nil {
			return fmt.Errorf("bad binding for %s: %w", b.Account, err)
		}
		e.bindings[b.Account] = &binding{
			collection: b.Collection,
			token:      b.Token,
			min:        minPrice,
			max:        maxPrice,
		}
	}
	for _, token := range st.Approved {
		e.approved[token] = true
	}
	for _, token := range st.Allowed {
		e.allowed[token] = true
	}
	e.lastSeq = st.LastSeq
	return nil
}

type opKey struct{ e *Engine }

// enter acquires the operation guard. The returned context carries the
// operation marker and is the one handed to external collaborators. A call
// made with a marked context is reentrant and fails immediately. Independent
// callers wait for the guard.
func (e *Engine) enter(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(opKey{e}) != nil {
		return nil, nil, ErrReentrant
	}
	select {
	case e.guard <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	return context.WithValue(ctx, opKey{e}, struct{}{}), func() { <-e.guard }, nil
}

// commit persists and then applies the staged state. If persistence fails
// before any value moved, the txn is discarded and an error returned. If value
// already moved, the in-memory state is committed regardless, and the storage
// error is logged and latched (see LastErr).
func (e *Engine) commit(tx *txn) error {
	cs := tx.changeSet(e.lastSeq)
	if cs.Empty() {
		return nil
	}
	if e.storage != nil {
		if err := e.storage.Apply(cs); err != nil {
			if !tx.settled {
				return dex.NewError(ErrStorage, err.Error())
			}
			log.Criticalf("Failed to persist settled operation (records %d-%d): %v",
				e.lastSeq+1, e.lastSeq+uint64(len(cs.Records)), err)
			e.latchErr(err)
		}
	}

	e.stateMtx.Lock()
	defer e.stateMtx.Unlock()
	for k, bal := range tx.balances {
		if bal.IsZero() {
			delete(e.balances, k)
			continue
		}
		e.balances[k] = bal
	}
	for acct, b := range tx.bindings {
		if b == nil {
			delete(e.bindings, acct)
			continue
		}
		e.bindings[acct] = b
	}
	for token := range tx.approved {
		e.approved[token] = true
	}
	for token, allowed := range tx.allowed {
		if allowed {
			e.allowed[token] = true
		} else {
			delete(e.allowed, token)
		}
	}
	if tx.roles != nil {
		e.roles.set(*tx.roles)
	}
	e.lastSeq += uint64(len(cs.Records))
	if e.storage == nil {
		e.records = append(e.records, cs.Records...)
	}
	return nil
}

// settle interprets the error from an external call that moves value. A nil
// error settles tx. So does a sent transaction of unknown outcome, which is
// returned as pending and latched for reconciliation. Any other error is
// returned as failed, and tx may still be discarded.
func (e *Engine) settle(tx *txn, err error) (pending *PendingTxError, failed error) {
	if err == nil {
		tx.settled = true
		return nil, nil
	}
	if !errors.As(err, &pending) {
		return nil, err
	}
	tx.settled = true
	log.Criticalf("Committing operation with unconfirmed transaction %s: %v", pending.TxHash, pending.Err)
	e.latchErr(pending)
	return pending, nil
}

func (e *Engine) latchErr(err error) {
	e.errMtx.Lock()
	e.lastErr = err
	e.errMtx.Unlock()
}

// LastErr is the most recent failure that needs reconciliation. It is either
// a storage failure that happened after value had already moved, leaving the
// in-memory state ahead of storage, or a *PendingTxError for a committed
// operation whose transaction was not confirmed.
func (e *Engine) LastErr() error {
	e.errMtx.Lock()
	defer e.errMtx.Unlock()
	return e.lastErr
}

// Address is the engine's identity.
func (e *Engine) Address() common.Address {
	return e.addr
}

// Domain is the engine and chain identity included in deposit signatures.
func (e *Engine) Domain() *dexeth.Domain {
	return &dexeth.Domain{
		Engine:  e.addr,
		ChainID: new(big.Int).Set(e.chainID),
	}
}

// Balance is the committed balance of the account. The zero token is the
// native currency.
func (e *Engine) Balance(account, token common.Address) *big.Int {
	e.stateMtx.RLock()
	defer e.stateMtx.RUnlock()
	if bal, found := e.balances[balanceKey{account, token}]; found {
		return bal.ToBig()
	}
	return new(big.Int)
}

// Balances is every non-zero committed balance, ordered by account then
// token.
func (e *Engine) Balances() []*db.Balance {
	e.stateMtx.RLock()
	bals := make([]*db.Balance, 0, len(e.balances))
	for k, bal := range e.balances {
		bals = append(bals, &db.Balance{
			Account: k.account,
			Token:   k.token,
			Amount:  bal.ToBig(),
		})
	}
	e.stateMtx.RUnlock()
	sort.Slice(bals, func(i, j int) bool {
		if c := bytes.Compare(bals[i].Account[:], bals[j].Account[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(bals[i].Token[:], bals[j].Token[:]) < 0
	})
	return bals
}

// Binding is the account's committed deposit binding, or nil.
func (e *Engine) Binding(account common.Address) *Binding {
	e.stateMtx.RLock()
	defer e.stateMtx.RUnlock()
	if b, found := e.bindings[account]; found {
		return b.export()
	}
	return nil
}

// IsApproved checks whether the conduit allowance was granted for the token.
func (e *Engine) IsApproved(token common.Address) bool {
	e.stateMtx.RLock()
	defer e.stateMtx.RUnlock()
	return e.approved[token]
}

// IsTokenAllowed checks whether the token is in the allowed set.
func (e *Engine) IsTokenAllowed(token common.Address) bool {
	e.stateMtx.RLock()
	defer e.stateMtx.RUnlock()
	return e.allowed[token]
}

// Records returns committed records matching the filter.
func (e *Engine) Records(filter *db.RecordFilter) ([]*db.Record, error) {
	if e.storage != nil {
		return e.storage.Records(filter)
	}
	e.stateMtx.RLock()
	defer e.stateMtx.RUnlock()
	var recs []*db.Record
	for _, r := range e.records {
		if !filter.Match(r) {
			continue
		}
		recs = append(recs, r)
		if filter != nil && filter.Limit > 0 && len(recs) == filter.Limit {
			break
		}
	}
	return recs, nil
}
