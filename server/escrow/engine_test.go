// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/morphaNFT/marker-maker/dex"
	dexeth "github.com/morphaNFT/marker-maker/dex/networks/eth"
	"github.com/morphaNFT/marker-maker/server/db"
)

var (
	tCtx          context.Context
	tEngineAddr   = common.HexToAddress("0x2b8e1C5D1A1e0C7A6fa4D5E0bF6c43a5dBFb6b3e")
	tDeployer     = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	tSpender      = common.HexToAddress("0x1E0049783F008A0085193E00003D00cd54003c71")
	tCollection   = common.HexToAddress("0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D")
	tCollection2  = common.HexToAddress("0x60E4d786628Fea6478F785A6d7e704777c86a7c6")
	tToken        = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	tToken2       = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	tNative       = dexeth.NativeToken
	tStamp        = time.Unix(1700000000, 0)
	errTestFailed = errors.New("test failure")
)

func TestMain(m *testing.M) {
	UseLogger(dex.StdOutLogger("ESCR", slog.LevelOff))
	var shutdown context.CancelFunc
	tCtx, shutdown = context.WithCancel(context.Background())
	code := m.Run()
	shutdown()
	os.Exit(code)
}

type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

// tConduit is a Conduit that records batches. hook, if set, runs inside the
// call with the context the engine passed.
type tConduit struct {
	mtx     sync.Mutex
	batches []*FulfillBatch
	err     error
	hook    func(ctx context.Context) error
}

func (c *tConduit) FulfillBatch(ctx context.Context, batch *FulfillBatch) error {
	if c.hook != nil {
		if err := c.hook(ctx); err != nil {
			return err
		}
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.err != nil {
		return c.err
	}
	c.batches = append(c.batches, batch)
	return nil
}

func (c *tConduit) calls() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(c.batches)
}

type tTransfer struct {
	from, to common.Address
	amt      *big.Int
}

type tTokenLedger struct {
	mtx          sync.Mutex
	approvals    []common.Address
	transfers    []*tTransfer
	approveErr   error
	transferErr  error
	transferHook func(ctx context.Context) error
}

func (tk *tTokenLedger) Transfer(ctx context.Context, to common.Address, amt *big.Int) error {
	return tk.TransferFrom(ctx, tEngineAddr, to, amt)
}

func (tk *tTokenLedger) TransferFrom(ctx context.Context, from, to common.Address, amt *big.Int) error {
	if tk.transferHook != nil {
		if err := tk.transferHook(ctx); err != nil {
			return err
		}
	}
	tk.mtx.Lock()
	defer tk.mtx.Unlock()
	if tk.transferErr != nil {
		return tk.transferErr
	}
	tk.transfers = append(tk.transfers, &tTransfer{from, to, new(big.Int).Set(amt)})
	return nil
}

func (tk *tTokenLedger) Approve(_ context.Context, spender common.Address, amt *big.Int) error {
	tk.mtx.Lock()
	defer tk.mtx.Unlock()
	if tk.approveErr != nil {
		return tk.approveErr
	}
	if amt.Cmp(dexeth.MaxUint256) != 0 {
		return fmt.Errorf("expected unlimited approval, got %s", amt)
	}
	tk.approvals = append(tk.approvals, spender)
	return nil
}

func (tk *tTokenLedger) numApprovals() int {
	tk.mtx.Lock()
	defer tk.mtx.Unlock()
	return len(tk.approvals)
}

type tTokenSource map[common.Address]*tTokenLedger

func (ts tTokenSource) Token(addr common.Address) (Token, error) {
	tk, found := ts[addr]
	if !found {
		return nil, fmt.Errorf("unknown token %s", addr)
	}
	return tk, nil
}

// tNativeSender sends native currency and verifies native deposits. With
// pending set, a send goes out but is reported as unconfirmed.
type tNativeSender struct {
	mtx       sync.Mutex
	sends     []*tTransfer
	err       error
	pending   bool
	hook      func(ctx context.Context) error
	verified  []common.Hash
	verifyErr error
}

func (n *tNativeSender) SendNative(ctx context.Context, to common.Address, amt *big.Int) error {
	if n.hook != nil {
		if err := n.hook(ctx); err != nil {
			return err
		}
	}
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sends = append(n.sends, &tTransfer{tEngineAddr, to, new(big.Int).Set(amt)})
	if n.pending {
		return &PendingTxError{
			TxHash: common.BigToHash(big.NewInt(int64(len(n.sends)))),
			Err:    context.DeadlineExceeded,
		}
	}
	return nil
}

func (n *tNativeSender) VerifyNativeDeposit(_ context.Context, txHash common.Hash, from, to common.Address, value *big.Int) error {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if n.verifyErr != nil {
		return n.verifyErr
	}
	if to != tEngineAddr || from == (common.Address{}) || value.Sign() <= 0 {
		return fmt.Errorf("bad deposit %s from %s to %s", value, from, to)
	}
	n.verified = append(n.verified, txHash)
	return nil
}

func (n *tNativeSender) total() *big.Int {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	sum := new(big.Int)
	for _, s := range n.sends {
		sum.Add(sum, s.amt)
	}
	return sum
}

// tArchive is an in-memory db.Archivist that really applies ChangeSets.
type tArchive struct {
	mtx      sync.Mutex
	roles    *db.Roles
	balances map[balanceKey]*big.Int
	bindings map[common.Address]*db.Binding
	approved map[common.Address]bool
	allowed  map[common.Address]bool
	records  []*db.Record
	applied  int
	applyErr error
}

func newTArchive() *tArchive {
	return &tArchive{
		balances: make(map[balanceKey]*big.Int),
		bindings: make(map[common.Address]*db.Binding),
		approved: make(map[common.Address]bool),
		allowed:  make(map[common.Address]bool),
	}
}

func (a *tArchive) Close() error { return nil }

func (a *tArchive) LoadState() (*db.State, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	st := &db.State{}
	if a.roles != nil {
		r := *a.roles
		st.Roles = &r
	}
	for k, amt := range a.balances {
		st.Balances = append(st.Balances, &db.Balance{Account: k.account, Token: k.token, Amount: new(big.Int).Set(amt)})
	}
	for _, b := range a.bindings {
		bc := *b
		st.Bindings = append(st.Bindings, &bc)
	}
	for token := range a.approved {
		st.Approved = append(st.Approved, token)
	}
	for token := range a.allowed {
		st.Allowed = append(st.Allowed, token)
	}
	if n := len(a.records); n > 0 {
		st.LastSeq = a.records[n-1].Seq
	}
	return st, nil
}

func (a *tArchive) Apply(cs *db.ChangeSet) error {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if a.applyErr != nil {
		return a.applyErr
	}
	if err := db.ValidateChangeSet(cs); err != nil {
		return err
	}
	a.applied++
	if cs.Roles != nil {
		r := *cs.Roles
		a.roles = &r
	}
	for _, b := range cs.Balances {
		k := balanceKey{b.Account, b.Token}
		if b.Amount.Sign() == 0 {
			delete(a.balances, k)
			continue
		}
		a.balances[k] = new(big.Int).Set(b.Amount)
	}
	for _, b := range cs.Bindings {
		bc := *b
		a.bindings[b.Account] = &bc
	}
	for _, acct := range cs.DeletedBindings {
		delete(a.bindings, acct)
	}
	for _, token := range cs.Approved {
		a.approved[token] = true
	}
	for token, allowed := range cs.Allowed {
		if allowed {
			a.allowed[token] = true
		} else {
			delete(a.allowed, token)
		}
	}
	a.records = append(a.records, cs.Records...)
	return nil
}

func (a *tArchive) Records(filter *db.RecordFilter) ([]*db.Record, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	var recs []*db.Record
	for _, r := range a.records {
		if filter.Match(r) {
			recs = append(recs, r)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	return recs, nil
}

type tHarness struct {
	e       *Engine
	conduit *tConduit
	tokens  tTokenSource
	native  *tNativeSender
}

func newTHarness(t fataler, storage db.Archivist) *tHarness {
	t.Helper()
	h := &tHarness{
		conduit: &tConduit{},
		tokens: tTokenSource{
			tToken:  &tTokenLedger{},
			tToken2: &tTokenLedger{},
		},
		native: &tNativeSender{},
	}
	cfg := &Config{
		Address:        tEngineAddr,
		ChainID:        big.NewInt(dexeth.MainnetChainID),
		Deployer:       tDeployer,
		ConduitSpender: tSpender,
		Conduit:        h.conduit,
		Tokens:         h.tokens,
		Native:         h.native,
		Deposits:       h.native,
		Now:            func() time.Time { return tStamp },
	}
	if storage != nil {
		cfg.Storage = storage
	}
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	h.e = e
	return h
}

var tDepositTxs atomic.Uint64

// newDepositTx is a unique native deposit transaction hash.
func newDepositTx() common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(1<<32 + tDepositTxs.Add(1)))
}

type tUser struct {
	priv *ecdsa.PrivateKey
	addr common.Address
}

func newTUser(t fataler, seed byte) *tUser {
	t.Helper()
	var k [32]byte
	k[31] = seed
	k[0] = 0x01
	priv, err := crypto.ToECDSA(k[:])
	if err != nil {
		t.Fatalf("ToECDSA error: %v", err)
	}
	return &tUser{priv: priv, addr: crypto.PubkeyToAddress(priv.PublicKey)}
}

// params signs a deposit binding for the user.
func (u *tUser) params(t fataler, e *Engine, collection, token common.Address, minPrice, maxPrice int64) *DepositParams {
	t.Helper()
	terms := &dexeth.DepositTerms{
		Depositor:  u.addr,
		Collection: collection,
		Token:      token,
		MinPrice:   big.NewInt(minPrice),
		MaxPrice:   big.NewInt(maxPrice),
	}
	sig, err := dexeth.SignDeposit(u.priv, terms, e.Domain())
	if err != nil {
		t.Fatalf("SignDeposit error: %v", err)
	}
	return &DepositParams{
		Collection: collection,
		MinPrice:   big.NewInt(minPrice),
		MaxPrice:   big.NewInt(maxPrice),
		Signature:  sig,
		TxHash:     newDepositTx(),
	}
}

func (h *tHarness) depositNative(t fataler, u *tUser, amt int64, collection common.Address, minPrice, maxPrice int64) {
	t.Helper()
	p := u.params(t, h.e, collection, tNative, minPrice, maxPrice)
	if err := h.e.DepositNative(tCtx, u.addr, big.NewInt(amt), p); err != nil {
		t.Fatalf("DepositNative error: %v", err)
	}
}

func (h *tHarness) allowToken(t fataler, token common.Address) {
	t.Helper()
	if err := h.e.SetTokenAllowed(tCtx, tDeployer, token, true); err != nil {
		t.Fatalf("SetTokenAllowed error: %v", err)
	}
}

// nftOrder is an order for one ERC721 of the collection, paid with one
// consideration item per price.
func nftOrder(collection, token common.Address, prices ...int64) dexeth.AdvancedOrder {
	itemType := dexeth.ItemERC20
	if dexeth.IsNative(token) {
		itemType = dexeth.ItemNative
	}
	o := dexeth.AdvancedOrder{
		Parameters: dexeth.OrderParameters{
			Offer: []dexeth.OfferItem{{
				ItemType:             dexeth.ItemERC721,
				Token:                collection,
				IdentifierOrCriteria: big.NewInt(1),
				StartAmount:          big.NewInt(1),
				EndAmount:            big.NewInt(1),
			}},
			TotalOriginalConsiderationItems: big.NewInt(int64(len(prices))),
		},
		Numerator:   big.NewInt(1),
		Denominator: big.NewInt(1),
	}
	for _, p := range prices {
		o.Parameters.Consideration = append(o.Parameters.Consideration, dexeth.ConsiderationItem{
			ItemType:    itemType,
			Token:       token,
			StartAmount: big.NewInt(p),
			EndAmount:   big.NewInt(p),
		})
	}
	return o
}

func fulfillArgs(recipient common.Address, orders ...dexeth.AdvancedOrder) *dexeth.FulfillArgs {
	return &dexeth.FulfillArgs{
		Orders:           orders,
		Recipient:        recipient,
		MaximumFulfilled: big.NewInt(int64(len(orders))),
	}
}

func checkBalance(t fataler, e *Engine, account, token common.Address, want int64) {
	t.Helper()
	if bal := e.Balance(account, token); bal.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("wrong balance for %s token %s. wanted %d, got %s", account, token, want, bal)
	}
}

func ensureErr(t fataler, err error, kind dex.ErrorKind) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("wanted error %q, got %v", kind, err)
	}
}

func numRecords(t fataler, e *Engine, rt db.RecordType) int {
	t.Helper()
	recs, err := e.Records(&db.RecordFilter{Type: rt})
	if err != nil {
		t.Fatalf("Records error: %v", err)
	}
	return len(recs)
}

func TestNewEngine(t *testing.T) {
	h := newTHarness(t, nil)
	r := h.e.Roles().Snapshot()
	if r.Administrator != tDeployer || r.Operator != tDeployer || r.DeductionAgent != tDeployer {
		t.Fatalf("roles not assigned to deployer: %+v", r)
	}
	if !r.Active {
		t.Fatalf("engine not active at creation")
	}
	if h.e.Address() != tEngineAddr {
		t.Fatalf("wrong address")
	}
	if dom := h.e.Domain(); dom.Engine != tEngineAddr || dom.ChainID.Int64() != dexeth.MainnetChainID {
		t.Fatalf("wrong domain %+v", dom)
	}

	good := func() *Config {
		return &Config{
			Address:  tEngineAddr,
			ChainID:  big.NewInt(1),
			Deployer: tDeployer,
			Conduit:  &tConduit{},
			Tokens:   tTokenSource{},
			Native:   &tNativeSender{},
			Deposits: &tNativeSender{},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no conduit", func(c *Config) { c.Conduit = nil }},
		{"no tokens", func(c *Config) { c.Tokens = nil }},
		{"no native", func(c *Config) { c.Native = nil }},
		{"no deposit verifier", func(c *Config) { c.Deposits = nil }},
		{"no chain", func(c *Config) { c.ChainID = nil }},
		{"zero chain", func(c *Config) { c.ChainID = new(big.Int) }},
		{"no address", func(c *Config) { c.Address = common.Address{} }},
		{"no deployer", func(c *Config) { c.Deployer = common.Address{} }},
	}
	for _, tt := range tests {
		cfg := good()
		tt.mutate(cfg)
		if _, err := NewEngine(cfg); err == nil {
			t.Fatalf("%s: no error", tt.name)
		}
	}
	if _, err := NewEngine(good()); err != nil {
		t.Fatalf("good config rejected: %v", err)
	}
}
