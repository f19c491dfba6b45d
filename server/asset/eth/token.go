// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package eth

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/morphaNFT/marker-maker/dex/networks/erc20"
	dexeth "github.com/morphaNFT/marker-maker/dex/networks/eth"
	"github.com/morphaNFT/marker-maker/server/escrow"
)

var _ escrow.Token = (*erc20Token)(nil)

// erc20Token is a token's ERC20 contract, acting from the engine's address.
// Reads go through the bound contract. Writes are sent by the Chain.
type erc20Token struct {
	chain    *Chain
	addr     common.Address
	contract *bind.BoundContract
}

// Token returns the ERC20 token at the address.
func (c *Chain) Token(addr common.Address) (escrow.Token, error) {
	return c.erc20(addr)
}

func (c *Chain) erc20(addr common.Address) (*erc20Token, error) {
	if dexeth.IsNative(addr) {
		return nil, fmt.Errorf("%s is the native currency, not a token", addr)
	}
	c.tokenMtx.Lock()
	defer c.tokenMtx.Unlock()
	if tk, found := c.tokens[addr]; found {
		return tk, nil
	}
	tk := &erc20Token{
		chain:    c,
		addr:     addr,
		contract: bind.NewBoundContract(addr, *erc20.ERC20ABI, c.node, nil, nil),
	}
	c.tokens[addr] = tk
	return tk, nil
}

func (t *erc20Token) send(ctx context.Context, method string, data []byte, err error) error {
	if err != nil {
		return fmt.Errorf("error packing %s: %w", method, err)
	}
	if _, err = t.chain.transact(ctx, t.addr, nil, data); err != nil {
		return fmt.Errorf("%s %s: %w", t.addr, method, err)
	}
	return nil
}

// Transfer sends amt of the engine's tokens to the address.
func (t *erc20Token) Transfer(ctx context.Context, to common.Address, amt *big.Int) error {
	data, err := erc20.PackTransferData(to, amt)
	return t.send(ctx, "transfer", data, err)
}

// TransferFrom moves amt from the address to the recipient using the engine's
// allowance.
func (t *erc20Token) TransferFrom(ctx context.Context, from, to common.Address, amt *big.Int) error {
	data, err := erc20.PackTransferFromData(from, to, amt)
	return t.send(ctx, "transferFrom", data, err)
}

// Approve sets the spender's allowance of the engine's tokens.
func (t *erc20Token) Approve(ctx context.Context, spender common.Address, amt *big.Int) error {
	data, err := erc20.PackApproveData(spender, amt)
	return t.send(ctx, "approve", data, err)
}

func (t *erc20Token) callBig(ctx context.Context, method string, args ...any) (*big.Int, error) {
	var out []any
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s %s: %w", t.addr, method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s %s: %d outputs", t.addr, method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s %s: output is %T", t.addr, method, out[0])
	}
	return v, nil
}

// balanceOf is the address's token balance.
func (t *erc20Token) balanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	return t.callBig(ctx, "balanceOf", addr)
}

// allowance is the spender's allowance of the owner's tokens.
func (t *erc20Token) allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return t.callBig(ctx, "allowance", owner, spender)
}

// TokenBalance is the engine address's balance of the token.
func (c *Chain) TokenBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	tk, err := c.erc20(token)
	if err != nil {
		return nil, err
	}
	return tk.balanceOf(ctx, c.addr)
}

// TokenAllowance is the spender's allowance of the engine's tokens.
func (c *Chain) TokenAllowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	tk, err := c.erc20(token)
	if err != nil {
		return nil, err
	}
	return tk.allowance(ctx, c.addr, spender)
}
