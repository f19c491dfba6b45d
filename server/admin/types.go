// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package admin

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	dexeth "github.com/morphaNFT/marker-maker/dex/networks/eth"
	"github.com/morphaNFT/marker-maker/server/db"
)

// Amounts in requests are decimal or 0x-prefixed hex strings. Amounts in
// responses are decimal strings.

// APITime marshals and unmarshals a time value in RFC3339Milli format.
type APITime struct {
	time.Time
}

// RFC3339Milli is the RFC3339 time formatting with millisecond precision.
const RFC3339Milli = "2006-01-02T15:04:05.999Z07:00"

// MarshalJSON marshals APITime to a JSON string in RFC3339 format except with
// millisecond precision.
func (at APITime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + at.Time.Format(RFC3339Milli) + `"`), nil
}

// UnmarshalJSON unmarshals JSON string containing a time in RFC3339 format with
// millisecond precision into an APITime.
func (at *APITime) UnmarshalJSON(b []byte) error {
	t, err := time.Parse(`"`+RFC3339Milli+`"`, string(b))
	if err != nil {
		return err
	}
	at.Time = t
	return nil
}

// amountString is the decimal form of a response amount. nil is "0".
func amountString(amt *big.Int) string {
	if amt == nil {
		return "0"
	}
	return amt.String()
}

// StateResult is the engine's role assignment and balances.
type StateResult struct {
	Engine         common.Address   `json:"engine"`
	Administrator  common.Address   `json:"administrator"`
	Operator       common.Address   `json:"operator"`
	DeductionAgent common.Address   `json:"deductionAgent"`
	Active         bool             `json:"active"`
	Balances       []*BalanceResult `json:"balances"`
	// LastError is a storage failure that left storage behind memory.
	LastError string `json:"lastError,omitempty"`
}

// BalanceResult is one account's balance of one token. The zero token is the
// native currency.
type BalanceResult struct {
	Account common.Address `json:"account"`
	Token   common.Address `json:"token"`
	Amount  string         `json:"amount"`
}

// BindingResult is a deposit binding.
type BindingResult struct {
	Account    common.Address `json:"account"`
	Collection common.Address `json:"collection"`
	Token      common.Address `json:"token"`
	MinPrice   string         `json:"minPrice"`
	MaxPrice   string         `json:"maxPrice"`
}

// RecordResult is a ledger record.
type RecordResult struct {
	Seq          uint64         `json:"seq"`
	Type         string         `json:"type"`
	Stamp        APITime        `json:"stamp"`
	Caller       common.Address `json:"caller"`
	Account      common.Address `json:"account"`
	Counterparty common.Address `json:"counterparty"`
	Token        common.Address `json:"token"`
	Collection   common.Address `json:"collection"`
	Amount       string         `json:"amount"`
	SpendCap     string         `json:"spendCap,omitempty"`
	Detail       string         `json:"detail,omitempty"`
}

func newRecordResult(r *db.Record) *RecordResult {
	res := &RecordResult{
		Seq:          r.Seq,
		Type:         r.Type.String(),
		Stamp:        APITime{r.Stamp},
		Caller:       r.Caller,
		Account:      r.Account,
		Counterparty: r.Counterparty,
		Token:        r.Token,
		Collection:   r.Collection,
		Amount:       amountString(r.Amount),
		Detail:       r.Detail,
	}
	if r.SpendCap != nil {
		res.SpendCap = r.SpendCap.String()
	}
	return res
}

// DepositRequest is the body of a deposit/native or deposit/token request.
// Token is ignored for native deposits. TxHash is required for native
// deposits, and is the transaction that sent Amount to the engine.
type DepositRequest struct {
	Depositor  common.Address        `json:"depositor"`
	Token      common.Address        `json:"token"`
	Amount     *math.HexOrDecimal256 `json:"amount"`
	Collection common.Address        `json:"collection"`
	MinPrice   *math.HexOrDecimal256 `json:"minPrice"`
	MaxPrice   *math.HexOrDecimal256 `json:"maxPrice"`
	Signature  hexutil.Bytes         `json:"signature"`
	TxHash     common.Hash           `json:"txHash"`
}

// FulfillRequest is the body of a fulfill request.
type FulfillRequest struct {
	Orders                    []dexeth.AdvancedOrder          `json:"orders"`
	CriteriaResolvers         []dexeth.CriteriaResolver       `json:"criteriaResolvers"`
	OfferFulfillments         [][]dexeth.FulfillmentComponent `json:"offerFulfillments"`
	ConsiderationFulfillments [][]dexeth.FulfillmentComponent `json:"considerationFulfillments"`
	ConduitKey                common.Hash                     `json:"conduitKey"`
	Recipient                 common.Address                  `json:"recipient"`
	MaximumFulfilled          *math.HexOrDecimal256           `json:"maximumFulfilled"`
}

func (req *FulfillRequest) args() *dexeth.FulfillArgs {
	return &dexeth.FulfillArgs{
		Orders:                    req.Orders,
		CriteriaResolvers:         req.CriteriaResolvers,
		OfferFulfillments:         req.OfferFulfillments,
		ConsiderationFulfillments: req.ConsiderationFulfillments,
		ConduitKey:                req.ConduitKey,
		Recipient:                 req.Recipient,
		MaximumFulfilled:          bigAmount(req.MaximumFulfilled),
	}
}

// FulfillResult describes a settled batch.
type FulfillResult struct {
	Recipient   common.Address `json:"recipient"`
	Token       common.Address `json:"token"`
	Collection  common.Address `json:"collection"`
	OrderTotals []string       `json:"orderTotals"`
	Total       string         `json:"total"`
	SpendCap    string         `json:"spendCap"`
	Settled     bool           `json:"settled"`
}

// RefundRequest is the body of a refund/native or refund/token request.
type RefundRequest struct {
	Account common.Address `json:"account"`
	Token   common.Address `json:"token"`
}

// RefundResult is the amount returned to the account.
type RefundResult struct {
	Account common.Address `json:"account"`
	Token   common.Address `json:"token"`
	Amount  string         `json:"amount"`
}

// GasFeeRequest is the body of a gasfee request.
type GasFeeRequest struct {
	Account common.Address        `json:"account"`
	Amount  *math.HexOrDecimal256 `json:"amount"`
}

// RoleRequest is the body of a roles/* request.
type RoleRequest struct {
	Address common.Address `json:"address"`
}

// TokenRequest is the body of a tokens/* request. Allowed is ignored for
// approvals.
type TokenRequest struct {
	Token   common.Address `json:"token"`
	Allowed bool           `json:"allowed"`
}

// TokenResult is the allowed and approved status of a token.
type TokenResult struct {
	Token    common.Address `json:"token"`
	Allowed  bool           `json:"allowed"`
	Approved bool           `json:"approved"`
}

func bigAmount(amt *math.HexOrDecimal256) *big.Int {
	if amt == nil {
		return nil
	}
	return (*big.Int)(amt)
}
