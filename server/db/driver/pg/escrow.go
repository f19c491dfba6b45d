// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/morphaNFT/marker-maker/server/db"
	"github.com/morphaNFT/marker-maker/server/db/driver/pg/internal"
)

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// addressBytes is an sql.Scanner for a 20-byte BYTEA address.
type addressBytes common.Address

func (a *addressBytes) Scan(src any) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into an address", src)
	}
	if len(b) != common.AddressLength {
		return db.ArchiveError{Code: db.ErrCorruptRecord, Detail: fmt.Sprintf("address length %d", len(b))}
	}
	copy(a[:], b)
	return nil
}

// numeric is an sql.Scanner and driver.Valuer for a NUMERIC(78) amount. A nil
// Int is NULL.
type numeric struct {
	*big.Int
}

func (n *numeric) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case nil:
		n.Int = nil
		return nil
	case []byte:
		s = string(v)
	case string:
		s = v
	case int64:
		n.Int = big.NewInt(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into an amount", src)
	}
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return db.ArchiveError{Code: db.ErrCorruptRecord, Detail: "bad amount " + s}
	}
	n.Int = i
	return nil
}

// amountValue converts an amount for NUMERIC insertion.
func amountValue(i *big.Int) any {
	if i == nil {
		return nil
	}
	return i.String()
}

func (a *Archiver) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(a.ctx, a.queryTimeout)
}

// LoadState loads the complete committed state.
func (a *Archiver) LoadState() (*db.State, error) {
	ctx, cancel := a.queryCtx()
	defer cancel()

	st := new(db.State)

	var admin, op, agent addressBytes
	var active bool
	err := a.db.QueryRowContext(ctx, internal.SelectRoles).Scan(&admin, &op, &agent, &active)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("error loading roles: %w", err)
	default:
		st.Roles = &db.Roles{
			Administrator:  common.Address(admin),
			Operator:       common.Address(op),
			DeductionAgent: common.Address(agent),
			Active:         active,
		}
	}

	err = a.queryRows(ctx, internal.SelectBalances, func(row scanner) error {
		var acct, token addressBytes
		var amt numeric
		if err := row.Scan(&acct, &token, &amt); err != nil {
			return err
		}
		st.Balances = append(st.Balances, &db.Balance{
			Account: common.Address(acct),
			Token:   common.Address(token),
			Amount:  amt.Int,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error loading balances: %w", err)
	}

	err = a.queryRows(ctx, internal.SelectBindings, func(row scanner) error {
		var acct, collection, token addressBytes
		var minPrice, maxPrice numeric
		if err := row.Scan(&acct, &collection, &token, &minPrice, &maxPrice); err != nil {
			return err
		}
		st.Bindings = append(st.Bindings, &db.Binding{
			Account:    common.Address(acct),
			Collection: common.Address(collection),
			Token:      common.Address(token),
			MinPrice:   minPrice.Int,
			MaxPrice:   maxPrice.Int,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error loading bindings: %w", err)
	}

	for _, set := range []struct {
		stmt string
		dest *[]common.Address
	}{
		{internal.SelectApprovedTokens, &st.Approved},
		{internal.SelectAllowedTokens, &st.Allowed},
	} {
		err = a.queryRows(ctx, set.stmt, func(row scanner) error {
			var token addressBytes
			if err := row.Scan(&token); err != nil {
				return err
			}
			*set.dest = append(*set.dest, common.Address(token))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("error loading token set: %w", err)
		}
	}

	var lastSeq int64
	if err = a.db.QueryRowContext(ctx, internal.SelectLastSeq).Scan(&lastSeq); err != nil {
		return nil, fmt.Errorf("error loading last sequence: %w", err)
	}
	st.LastSeq = uint64(lastSeq)

	return st, nil
}

func (a *Archiver) queryRows(ctx context.Context, stmt string, f func(scanner) error, args ...any) error {
	rows, err := a.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err = f(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Apply persists the ChangeSet in a single transaction.
func (a *Archiver) Apply(cs *db.ChangeSet) (err error) {
	if err = db.ValidateChangeSet(cs); err != nil {
		return err
	}
	if cs.Empty() {
		return nil
	}

	ctx, cancel := a.queryCtx()
	defer cancel()

	// Canceling the context automatically rolls back the transaction.
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil || errors.Is(err, sql.ErrTxDone) {
			return
		}
		if errR := tx.Rollback(); errR != nil {
			log.Errorf("Rollback failed: %v", errR)
		}
	}()

	if r := cs.Roles; r != nil {
		if _, err = sqlExec(tx, internal.UpsertRoles, r.Administrator[:], r.Operator[:],
			r.DeductionAgent[:], r.Active); err != nil {
			return fmt.Errorf("error storing roles: %w", err)
		}
	}
	for _, b := range cs.Balances {
		if b.Amount.Sign() == 0 {
			_, err = sqlExec(tx, internal.DeleteBalance, b.Account[:], b.Token[:])
		} else {
			_, err = sqlExec(tx, internal.UpsertBalance, b.Account[:], b.Token[:], amountValue(b.Amount))
		}
		if err != nil {
			return fmt.Errorf("error storing balance: %w", err)
		}
	}
	for _, acct := range cs.DeletedBindings {
		if _, err = sqlExec(tx, internal.DeleteBinding, acct[:]); err != nil {
			return fmt.Errorf("error deleting binding: %w", err)
		}
	}
	for _, b := range cs.Bindings {
		if _, err = sqlExec(tx, internal.UpsertBinding, b.Account[:], b.Collection[:], b.Token[:],
			amountValue(b.MinPrice), amountValue(b.MaxPrice)); err != nil {
			return fmt.Errorf("error storing binding: %w", err)
		}
	}
	for _, token := range cs.Approved {
		if _, err = sqlExec(tx, internal.InsertApprovedToken, token[:]); err != nil {
			return fmt.Errorf("error storing approval: %w", err)
		}
	}
	for token, allowed := range cs.Allowed {
		stmt := internal.DeleteAllowedToken
		if allowed {
			stmt = internal.InsertAllowedToken
		}
		if _, err = sqlExec(tx, stmt, token[:]); err != nil {
			return fmt.Errorf("error storing allowed token: %w", err)
		}
	}
	for _, r := range cs.Records {
		if _, err = sqlExec(tx, internal.InsertRecord, int64(r.Seq), int16(r.Type), r.Stamp.UTC(),
			r.Caller[:], r.Account[:], r.Counterparty[:], r.Token[:], r.Collection[:],
			amountValue(r.Amount), amountValue(r.SpendCap), r.Detail); err != nil {
			return fmt.Errorf("error storing record %d: %w", r.Seq, err)
		}
	}

	err = tx.Commit() // for the defer
	return err
}

// recordsQuery builds the records query for the filter.
func recordsQuery(filter *db.RecordFilter) (string, []any) {
	var conds []string
	var args []any
	addCond := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	var limit int
	if filter != nil {
		if filter.After > 0 {
			addCond("seq > $%d", int64(filter.After))
		}
		if filter.Type != 0 {
			addCond("rec_type = $%d", int16(filter.Type))
		}
		if filter.Detail != "" {
			addCond("detail = $%d", filter.Detail)
		}
		if filter.Account != nil {
			args = append(args, filter.Account[:])
			conds = append(conds, fmt.Sprintf("(account = $%[1]d OR caller = $%[1]d)", len(args)))
		}
		limit = filter.Limit
	}
	stmt := internal.SelectRecords
	if len(conds) > 0 {
		stmt += " WHERE " + strings.Join(conds, " AND ")
	}
	stmt += " ORDER BY seq"
	if limit > 0 {
		stmt += " LIMIT " + strconv.Itoa(limit)
	}
	return stmt + ";", args
}

// Records returns records matching the filter in ascending sequence order.
func (a *Archiver) Records(filter *db.RecordFilter) ([]*db.Record, error) {
	ctx, cancel := a.queryCtx()
	defer cancel()

	stmt, args := recordsQuery(filter)
	var recs []*db.Record
	err := a.queryRows(ctx, stmt, func(row scanner) error {
		r, err := scanRecord(row)
		if err != nil {
			return err
		}
		recs = append(recs, r)
		return nil
	}, args...)
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func scanRecord(row scanner) (*db.Record, error) {
	var seq int64
	var recType int16
	var caller, acct, counterparty, token, collection addressBytes
	var amt, spendCap numeric
	r := new(db.Record)
	err := row.Scan(&seq, &recType, &r.Stamp, &caller, &acct, &counterparty, &token,
		&collection, &amt, &spendCap, &r.Detail)
	if err != nil {
		return nil, err
	}
	r.Seq = uint64(seq)
	r.Type = db.RecordType(recType)
	r.Stamp = r.Stamp.UTC()
	r.Caller = common.Address(caller)
	r.Account = common.Address(acct)
	r.Counterparty = common.Address(counterparty)
	r.Token = common.Address(token)
	r.Collection = common.Address(collection)
	r.Amount = amt.Int
	r.SpendCap = spendCap.Int
	return r, nil
}
