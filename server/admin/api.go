// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/morphaNFT/marker-maker/dex"
	"github.com/morphaNFT/marker-maker/server/db"
	"github.com/morphaNFT/marker-maker/server/escrow"
)

const (
	pongStr    = "pong"
	accountKey = "account"

	// maxBodySize caps request bodies. Fulfillment batches are the largest.
	maxBodySize = 1 << 20
)

// writeJSON marshals the provided interface and writes the bytes to the
// ResponseWriter. The response code is assumed to be StatusOK.
func writeJSON(w http.ResponseWriter, thing any) {
	writeJSONWithStatus(w, thing, http.StatusOK)
}

// writeJSONWithStatus marshals the provided interface and writes the bytes to
// the ResponseWriter with the specified response code.
func writeJSONWithStatus(w http.ResponseWriter, thing any, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "    ")
	if err := encoder.Encode(thing); err != nil {
		log.Errorf("JSON encode error: %v", err)
	}
}

// readJSON decodes the request body into thing, writing a 400 response on
// failure.
func readJSON(w http.ResponseWriter, r *http.Request, thing any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(thing); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

// engineErrorStatus is the response code for an error returned by the engine.
func engineErrorStatus(err error) int {
	switch dex.KindOf(err) {
	case escrow.ErrUnauthorized:
		return http.StatusForbidden
	case escrow.ErrContractInactive, escrow.ErrReentrant, escrow.ErrDepositReused:
		return http.StatusConflict
	case escrow.ErrExternalCallFailed:
		return http.StatusBadGateway
	case escrow.ErrTxPending:
		// Committed, but the transaction needs reconciliation.
		return http.StatusGatewayTimeout
	case escrow.ErrInsufficientFunds, escrow.ErrInvalidAmount,
		escrow.ErrInvalidAddress, escrow.ErrInvalidSignature,
		escrow.ErrTokenNotAllowed, escrow.ErrTokenMismatch,
		escrow.ErrCollectionMismatch, escrow.ErrNoBinding,
		escrow.ErrInvalidOfferItem, escrow.ErrInvalidConsiderationItem,
		escrow.ErrPriceOutOfRange, escrow.ErrNoBalance, escrow.ErrEmptyBatch,
		escrow.ErrDepositUnverified:
		return http.StatusBadRequest
	}
	// ErrStorage and anything unrecognized.
	return http.StatusInternalServerError
}

func writeEngineError(w http.ResponseWriter, op string, err error) {
	code := engineErrorStatus(err)
	if code >= http.StatusInternalServerError {
		log.Errorf("%s failed: %v", op, err)
	} else {
		log.Debugf("%s rejected: %v", op, err)
	}
	http.Error(w, fmt.Sprintf("%s failed: %v", op, err), code)
}

// opContext is the context for an engine operation started by r.
func opContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), opTimeout)
}

// addressParam parses the hex address in the named URL parameter.
func addressParam(r *http.Request, key string) (common.Address, error) {
	s := chi.URLParam(r, key)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// apiPing is the handler for the '/ping' API request.
func (*Server) apiPing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, pongStr)
}

// apiState is the handler for the '/state' API request.
func (s *Server) apiState(w http.ResponseWriter, _ *http.Request) {
	roles := s.core.Roles().Snapshot()
	res := &StateResult{
		Engine:         s.core.Address(),
		Administrator:  roles.Administrator,
		Operator:       roles.Operator,
		DeductionAgent: roles.DeductionAgent,
		Active:         roles.Active,
		Balances:       make([]*BalanceResult, 0),
	}
	for _, bal := range s.core.Balances() {
		res.Balances = append(res.Balances, &BalanceResult{
			Account: bal.Account,
			Token:   bal.Token,
			Amount:  amountString(bal.Amount),
		})
	}
	if err := s.core.LastErr(); err != nil {
		res.LastError = err.Error()
	}
	writeJSON(w, res)
}

// apiBalance is the handler for the '/balance/{account}' API request. The
// optional token query parameter selects a token. The default is the native
// currency.
func (s *Server) apiBalance(w http.ResponseWriter, r *http.Request) {
	acct, err := addressParam(r, accountKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var token common.Address
	if tokenStr := r.URL.Query().Get("token"); tokenStr != "" {
		if !common.IsHexAddress(tokenStr) {
			http.Error(w, fmt.Sprintf("invalid token address %q", tokenStr), http.StatusBadRequest)
			return
		}
		token = common.HexToAddress(tokenStr)
	}
	writeJSON(w, &BalanceResult{
		Account: acct,
		Token:   token,
		Amount:  amountString(s.core.Balance(acct, token)),
	})
}

// apiBinding is the handler for the '/binding/{account}' API request.
func (s *Server) apiBinding(w http.ResponseWriter, r *http.Request) {
	acct, err := addressParam(r, accountKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b := s.core.Binding(acct)
	if b == nil {
		http.Error(w, fmt.Sprintf("no binding for %s", acct), http.StatusNotFound)
		return
	}
	writeJSON(w, &BindingResult{
		Account:    acct,
		Collection: b.Collection,
		Token:      b.Token,
		MinPrice:   amountString(b.MinPrice),
		MaxPrice:   amountString(b.MaxPrice),
	})
}

// apiRecords is the handler for the '/records' API request. The optional
// query parameters are account, type, after and n.
func (s *Server) apiRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := new(db.RecordFilter)
	if acctStr := q.Get("account"); acctStr != "" {
		if !common.IsHexAddress(acctStr) {
			http.Error(w, fmt.Sprintf("invalid account %q", acctStr), http.StatusBadRequest)
			return
		}
		acct := common.HexToAddress(acctStr)
		filter.Account = &acct
	}
	if typeStr := q.Get("type"); typeStr != "" {
		filter.Type = db.RecordTypeFromString(typeStr)
		if filter.Type == 0 {
			http.Error(w, fmt.Sprintf("unknown record type %q", typeStr), http.StatusBadRequest)
			return
		}
	}
	if afterStr := q.Get("after"); afterStr != "" {
		after, err := strconv.ParseUint(afterStr, 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid after %q: %v", afterStr, err), http.StatusBadRequest)
			return
		}
		filter.After = after
	}
	if nStr := q.Get("n"); nStr != "" {
		n, err := strconv.Atoi(nStr)
		if err != nil || n < 0 {
			http.Error(w, fmt.Sprintf("invalid n %q", nStr), http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}
	recs, err := s.core.Records(filter)
	if err != nil {
		log.Errorf("error retrieving records: %v", err)
		http.Error(w, "failed to retrieve records", http.StatusInternalServerError)
		return
	}
	res := make([]*RecordResult, 0, len(recs))
	for _, rec := range recs {
		res = append(res, newRecordResult(rec))
	}
	writeJSON(w, res)
}

func (req *DepositRequest) params() *escrow.DepositParams {
	return &escrow.DepositParams{
		Collection: req.Collection,
		MinPrice:   bigAmount(req.MinPrice),
		MaxPrice:   bigAmount(req.MaxPrice),
		Signature:  req.Signature,
		TxHash:     req.TxHash,
	}
}

// apiDepositNative is the handler for the '/deposit/native' API request. It
// credits native currency the depositor already sent to the engine in the
// request's transaction.
func (s *Server) apiDepositNative(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !readJSON(w, r, &req) {
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()
	amt := bigAmount(req.Amount)
	if err := s.core.DepositNative(ctx, req.Depositor, amt, req.params()); err != nil {
		writeEngineError(w, "deposit", err)
		return
	}
	writeJSON(w, &BalanceResult{
		Account: req.Depositor,
		Amount:  amountString(s.core.Balance(req.Depositor, common.Address{})),
	})
}

// apiDepositToken is the handler for the '/deposit/token' API request. It pulls
// the amount from the depositor's approved allowance.
func (s *Server) apiDepositToken(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !readJSON(w, r, &req) {
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()
	if err := s.core.DepositToken(ctx, req.Depositor, req.Token, bigAmount(req.Amount), req.params()); err != nil {
		writeEngineError(w, "deposit", err)
		return
	}
	writeJSON(w, &BalanceResult{
		Account: req.Depositor,
		Token:   req.Token,
		Amount:  amountString(s.core.Balance(req.Depositor, req.Token)),
	})
}

// apiFulfill is the handler for the '/fulfill' API request.
func (s *Server) apiFulfill(w http.ResponseWriter, r *http.Request) {
	var req FulfillRequest
	if !readJSON(w, r, &req) {
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()
	f, err := s.core.Fulfill(ctx, s.caller, req.args())
	if err != nil {
		writeEngineError(w, "fulfill", err)
		return
	}
	res := &FulfillResult{
		Recipient:   f.Recipient,
		Token:       f.Token,
		Collection:  f.Collection,
		OrderTotals: make([]string, 0, len(f.OrderTotals)),
		Total:       amountString(f.Total),
		SpendCap:    amountString(f.SpendCap),
		Settled:     f.Settled,
	}
	for _, t := range f.OrderTotals {
		res.OrderTotals = append(res.OrderTotals, amountString(t))
	}
	writeJSON(w, res)
}

func (s *Server) refund(w http.ResponseWriter, r *http.Request, native bool) {
	var req RefundRequest
	if !readJSON(w, r, &req) {
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()
	var amt *big.Int
	var err error
	if native {
		req.Token = common.Address{}
		amt, err = s.core.RefundNative(ctx, s.caller, req.Account)
	} else {
		amt, err = s.core.RefundToken(ctx, s.caller, req.Account, req.Token)
	}
	if err != nil {
		writeEngineError(w, "refund", err)
		return
	}
	writeJSON(w, &RefundResult{
		Account: req.Account,
		Token:   req.Token,
		Amount:  amountString(amt),
	})
}

// apiRefundNative is the handler for the '/refund/native' API request.
func (s *Server) apiRefundNative(w http.ResponseWriter, r *http.Request) {
	s.refund(w, r, true)
}

// apiRefundToken is the handler for the '/refund/token' API request.
func (s *Server) apiRefundToken(w http.ResponseWriter, r *http.Request) {
	s.refund(w, r, false)
}

// apiGasFee is the handler for the '/gasfee' API request.
func (s *Server) apiGasFee(w http.ResponseWriter, r *http.Request) {
	var req GasFeeRequest
	if !readJSON(w, r, &req) {
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()
	if err := s.core.DeductGasFee(ctx, s.caller, req.Account, bigAmount(req.Amount)); err != nil {
		writeEngineError(w, "gas fee deduction", err)
		return
	}
	writeJSON(w, &BalanceResult{
		Account: req.Account,
		Amount:  amountString(s.core.Balance(req.Account, common.Address{})),
	})
}

type roleSetter func(ctx context.Context, caller, holder common.Address) error

func (s *Server) setRole(w http.ResponseWriter, r *http.Request, role string, set roleSetter) {
	var req RoleRequest
	if !readJSON(w, r, &req) {
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()
	if err := set(ctx, s.caller, req.Address); err != nil {
		writeEngineError(w, "set "+role, err)
		return
	}
	writeJSON(w, fmt.Sprintf("%s set to %s", role, req.Address))
}

// apiSetOperator is the handler for the '/roles/operator' API request.
func (s *Server) apiSetOperator(w http.ResponseWriter, r *http.Request) {
	s.setRole(w, r, escrow.RoleOperator, s.core.SetOperator)
}

// apiSetDeductionAgent is the handler for the '/roles/agent' API request.
func (s *Server) apiSetDeductionAgent(w http.ResponseWriter, r *http.Request) {
	s.setRole(w, r, escrow.RoleDeductionAgent, s.core.SetDeductionAgent)
}

// apiSetAdministrator is the handler for the '/roles/admin' API request.
func (s *Server) apiSetAdministrator(w http.ResponseWriter, r *http.Request) {
	s.setRole(w, r, escrow.RoleAdministrator, s.core.SetAdministrator)
}

func (s *Server) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	ctx, cancel := opContext(r)
	defer cancel()
	var err error
	if active {
		err = s.core.Activate(ctx, s.caller)
	} else {
		err = s.core.Deactivate(ctx, s.caller)
	}
	if err != nil {
		writeEngineError(w, "activation change", err)
		return
	}
	writeJSON(w, s.core.Roles().Active())
}

// apiActivate is the handler for the '/activate' API request.
func (s *Server) apiActivate(w http.ResponseWriter, r *http.Request) {
	s.setActive(w, r, true)
}

// apiDeactivate is the handler for the '/deactivate' API request.
func (s *Server) apiDeactivate(w http.ResponseWriter, r *http.Request) {
	s.setActive(w, r, false)
}

func (s *Server) tokenResult(token common.Address) *TokenResult {
	return &TokenResult{
		Token:    token,
		Allowed:  s.core.IsTokenAllowed(token),
		Approved: s.core.IsApproved(token),
	}
}

// apiSetTokenAllowed is the handler for the '/tokens/allowed' API request.
func (s *Server) apiSetTokenAllowed(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !readJSON(w, r, &req) {
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()
	if err := s.core.SetTokenAllowed(ctx, s.caller, req.Token, req.Allowed); err != nil {
		writeEngineError(w, "set token allowed", err)
		return
	}
	writeJSON(w, s.tokenResult(req.Token))
}

// apiApproveToken is the handler for the '/tokens/approve' API request.
func (s *Server) apiApproveToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !readJSON(w, r, &req) {
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()
	if err := s.core.ApproveToken(ctx, s.caller, req.Token); err != nil {
		writeEngineError(w, "token approval", err)
		return
	}
	writeJSON(w, s.tokenResult(req.Token))
}
