// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

import (
	"context"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/morphaNFT/marker-maker/dex"
	"github.com/morphaNFT/marker-maker/server/db"
)

// Role names used in role change records.
const (
	RoleAdministrator  = "administrator"
	RoleOperator       = "operator"
	RoleDeductionAgent = "deductionagent"
)

// Roles is the shared role assignment and activation flag. Every engine
// operation checks the caller against it. It is only modified by committing a
// transaction.
type Roles struct {
	mtx sync.RWMutex
	r   db.Roles
}

// NewRoles wraps a role assignment. Engines create their own during
// construction.
func NewRoles(r db.Roles) *Roles {
	return &Roles{r: r}
}

// Snapshot returns a copy of the current assignment.
func (r *Roles) Snapshot() db.Roles {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.r
}

// Active is the global activation flag.
func (r *Roles) Active() bool {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.r.Active
}

func (r *Roles) set(nr db.Roles) {
	r.mtx.Lock()
	r.r = nr
	r.mtx.Unlock()
}

func (r *Roles) requireAdministrator(caller common.Address) error {
	if admin := r.Snapshot().Administrator; caller != admin {
		return dex.NewError(ErrUnauthorized, caller.Hex()+" is not the administrator")
	}
	return nil
}

func (r *Roles) requireOperator(caller common.Address) error {
	if op := r.Snapshot().Operator; caller != op {
		return dex.NewError(ErrUnauthorized, caller.Hex()+" is not the operator")
	}
	return nil
}

func (r *Roles) requireDeductionAgent(caller common.Address) error {
	if agent := r.Snapshot().DeductionAgent; caller != agent {
		return dex.NewError(ErrUnauthorized, caller.Hex()+" is not the deduction agent")
	}
	return nil
}

func (r *Roles) requireActive() error {
	if !r.Active() {
		return ErrContractInactive
	}
	return nil
}

// Roles is the engine's shared role handle.
func (e *Engine) Roles() *Roles {
	return e.roles
}

// SetOperator assigns the operator role. Administrator only.
func (e *Engine) SetOperator(ctx context.Context, caller, newOperator common.Address) error {
	return e.reassign(ctx, caller, newOperator, RoleOperator, func(r *db.Roles) *common.Address { return &r.Operator })
}

// SetDeductionAgent assigns the deduction agent role. Administrator only.
func (e *Engine) SetDeductionAgent(ctx context.Context, caller, newAgent common.Address) error {
	return e.reassign(ctx, caller, newAgent, RoleDeductionAgent, func(r *db.Roles) *common.Address { return &r.DeductionAgent })
}

// SetAdministrator hands administration to another identity. Administrator
// only.
func (e *Engine) SetAdministrator(ctx context.Context, caller, newAdmin common.Address) error {
	return e.reassign(ctx, caller, newAdmin, RoleAdministrator, func(r *db.Roles) *common.Address { return &r.Administrator })
}

func (e *Engine) reassign(ctx context.Context, caller, newHolder common.Address, role string, field func(*db.Roles) *common.Address) error {
	_, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := e.roles.requireAdministrator(caller); err != nil {
		return err
	}
	if newHolder == (common.Address{}) {
		return dex.NewError(ErrInvalidAddress, "new "+role+" is the zero address")
	}

	tx := e.newTxn()
	nr := e.roles.Snapshot()
	holder := field(&nr)
	old := *holder
	*holder = newHolder
	tx.setRoles(nr)
	tx.record(&db.Record{
		Type:         db.RecordRoleChange,
		Caller:       caller,
		Account:      newHolder,
		Counterparty: old,
		Detail:       role,
	})
	if err := e.commit(tx); err != nil {
		return err
	}
	log.Infof("%s changed from %s to %s by %s", role, old, newHolder, caller)
	return nil
}

// Activate enables fund-mutating operations. Operator only.
func (e *Engine) Activate(ctx context.Context, caller common.Address) error {
	return e.setActive(ctx, caller, true)
}

// Deactivate disables fund-mutating operations. Operator only.
func (e *Engine) Deactivate(ctx context.Context, caller common.Address) error {
	return e.setActive(ctx, caller, false)
}

func (e *Engine) setActive(ctx context.Context, caller common.Address, active bool) error {
	_, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := e.roles.requireOperator(caller); err != nil {
		return err
	}

	tx := e.newTxn()
	nr := e.roles.Snapshot()
	nr.Active = active
	tx.setRoles(nr)
	detail := "inactive"
	if active {
		detail = "active"
	}
	tx.record(&db.Record{
		Type:   db.RecordActivation,
		Caller: caller,
		Detail: detail,
	})
	if err := e.commit(tx); err != nil {
		return err
	}
	log.Infof("Engine set %s by %s", detail, caller)
	return nil
}

// SetTokenAllowed adds or removes a token from the allowed set. Operator
// only.
func (e *Engine) SetTokenAllowed(ctx context.Context, caller, token common.Address, allowed bool) error {
	_, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := e.roles.requireOperator(caller); err != nil {
		return err
	}
	if token == (common.Address{}) {
		return dex.NewError(ErrInvalidAddress, "token is the zero address")
	}

	tx := e.newTxn()
	tx.setAllowed(token, allowed)
	tx.record(&db.Record{
		Type:   db.RecordTokenAllowed,
		Caller: caller,
		Token:  token,
		Detail: strconv.FormatBool(allowed),
	})
	if err := e.commit(tx); err != nil {
		return err
	}
	log.Infof("Token %s allowed = %t", token, allowed)
	return nil
}
