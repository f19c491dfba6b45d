// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package erc20

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	dexeth "github.com/morphaNFT/marker-maker/dex/networks/eth"
)

// PackTransferData packs the call data for transfer(to, amount).
func PackTransferData(to common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("transfer", to, amount)
}

// PackTransferFromData packs the call data for transferFrom(from, to, amount).
func PackTransferFromData(from, to common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("transferFrom", from, to, amount)
}

// PackApproveData packs the call data for approve(spender, amount).
func PackApproveData(spender common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("approve", spender, amount)
}

// unpackMethod decodes call data that must be a call to method.
func unpackMethod(method string, data []byte) ([]any, error) {
	decoded, err := dexeth.ParseCallData(data, ERC20ABI)
	if err != nil {
		return nil, err
	}
	if decoded.Name != method {
		return nil, fmt.Errorf("call data is for %s, not %s", decoded.Name, method)
	}
	return decoded.Args, nil
}

// argAt type-asserts the i'th decoded argument.
func argAt[T any](args []any, i int) (T, error) {
	var zero T
	if i >= len(args) {
		return zero, fmt.Errorf("missing argument %d", i)
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, fmt.Errorf("argument %d is %T, not %T", i, args[i], zero)
	}
	return v, nil
}

// ParseTransferFromData parses transferFrom call data.
func ParseTransferFromData(data []byte) (sender, recipient common.Address, amount *big.Int, err error) {
	args, err := unpackMethod("transferFrom", data)
	if err != nil {
		return
	}
	if sender, err = argAt[common.Address](args, 0); err != nil {
		return
	}
	if recipient, err = argAt[common.Address](args, 1); err != nil {
		return
	}
	amount, err = argAt[*big.Int](args, 2)
	return
}

// ParseTransferData parses transfer call data.
func ParseTransferData(data []byte) (common.Address, *big.Int, error) {
	return parseAddressAmount("transfer", data)
}

// ParseApproveData parses approve call data.
func ParseApproveData(data []byte) (spender common.Address, amount *big.Int, err error) {
	return parseAddressAmount("approve", data)
}

func parseAddressAmount(method string, data []byte) (addr common.Address, amount *big.Int, err error) {
	args, err := unpackMethod(method, data)
	if err != nil {
		return
	}
	if addr, err = argAt[common.Address](args, 0); err != nil {
		return
	}
	amount, err = argAt[*big.Int](args, 1)
	return
}
