// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package eth

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// DecodedCallData is the method name and unpacked arguments of contract call
// data.
type DecodedCallData struct {
	Name string
	Args []any
}

// ParseCallData decodes the call data of a method in the provided ABI.
func ParseCallData(data []byte, parsedABI *abi.ABI) (*DecodedCallData, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("call data too short: %d bytes", len(data))
	}
	method, err := parsedABI.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("unknown method: %w", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("unable to unpack %s args: %w", method.Name, err)
	}
	return &DecodedCallData{
		Name: method.Name,
		Args: args,
	}, nil
}

// FulfillArgs are the arguments of a fulfillAvailableAdvancedOrders call.
type FulfillArgs struct {
	Orders                    []AdvancedOrder
	CriteriaResolvers         []CriteriaResolver
	OfferFulfillments         [][]FulfillmentComponent
	ConsiderationFulfillments [][]FulfillmentComponent
	ConduitKey                [32]byte
	Recipient                 common.Address
	MaximumFulfilled          *big.Int
}

// PackFulfillAvailableAdvancedOrders packs the call data for Seaport's
// fulfillAvailableAdvancedOrders. Nil slices are packed as empty arrays.
func PackFulfillAvailableAdvancedOrders(args *FulfillArgs) ([]byte, error) {
	orders := args.Orders
	if orders == nil {
		orders = []AdvancedOrder{}
	}
	resolvers := args.CriteriaResolvers
	if resolvers == nil {
		resolvers = []CriteriaResolver{}
	}
	offerFills := args.OfferFulfillments
	if offerFills == nil {
		offerFills = [][]FulfillmentComponent{}
	}
	considerationFills := args.ConsiderationFulfillments
	if considerationFills == nil {
		considerationFills = [][]FulfillmentComponent{}
	}
	maxFulfilled := args.MaximumFulfilled
	if maxFulfilled == nil {
		maxFulfilled = new(big.Int)
	}
	packOrders := make([]AdvancedOrder, len(orders))
	for i := range orders {
		o, err := withOrderDefaults(&orders[i])
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		packOrders[i] = *o
	}
	return SeaportABI.Pack(FulfillAvailableAdvancedOrders, packOrders, resolvers, offerFills,
		considerationFills, args.ConduitKey, args.Recipient, maxFulfilled)
}

// ParseFulfillAvailableAdvancedOrdersData parses the scalar arguments of
// fulfillAvailableAdvancedOrders call data, returning the number of orders,
// the conduit key, the recipient and the maximum number of orders fulfilled.
func ParseFulfillAvailableAdvancedOrdersData(calldata []byte) (numOrders int, conduitKey [32]byte, recipient common.Address, maxFulfilled *big.Int, err error) {
	decoded, err := ParseCallData(calldata, SeaportABI)
	if err != nil {
		return 0, conduitKey, recipient, nil, fmt.Errorf("unable to parse call data: %v", err)
	}
	if decoded.Name != FulfillAvailableAdvancedOrders {
		return 0, conduitKey, recipient, nil, fmt.Errorf("expected %v function but got %v", FulfillAvailableAdvancedOrders, decoded.Name)
	}
	args := decoded.Args
	const numArgs = 7
	if len(args) != numArgs {
		return 0, conduitKey, recipient, nil, fmt.Errorf("expected %d input args but got %d", numArgs, len(args))
	}
	numOrders, err = sliceLen(args[0])
	if err != nil {
		return 0, conduitKey, recipient, nil, err
	}
	conduitKey, ok := args[4].([32]byte)
	if !ok {
		return 0, conduitKey, recipient, nil, fmt.Errorf("expected fifth arg of type [32]byte but got %T", args[4])
	}
	recipient, ok = args[5].(common.Address)
	if !ok {
		return 0, conduitKey, recipient, nil, fmt.Errorf("expected sixth arg of type common.Address but got %T", args[5])
	}
	maxFulfilled, ok = args[6].(*big.Int)
	if !ok {
		return 0, conduitKey, recipient, nil, fmt.Errorf("expected seventh arg of type *big.Int but got %T", args[6])
	}
	return numOrders, conduitKey, recipient, maxFulfilled, nil
}

func sliceLen(v any) (int, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return 0, fmt.Errorf("expected slice but got %T", v)
	}
	return rv.Len(), nil
}

func bigOrZero(b *big.Int) *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return b
}

func bytesOrEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// withOrderDefaults returns a copy of the order with nil numeric fields set to
// zero and nil byte slices set to empty ones, so that partially specified
// orders still pack. The caller's order is not modified.
func withOrderDefaults(o *AdvancedOrder) (*AdvancedOrder, error) {
	p := o.Parameters
	p.Offer = make([]OfferItem, len(o.Parameters.Offer))
	for j, item := range o.Parameters.Offer {
		item.IdentifierOrCriteria = bigOrZero(item.IdentifierOrCriteria)
		item.StartAmount = bigOrZero(item.StartAmount)
		item.EndAmount = bigOrZero(item.EndAmount)
		p.Offer[j] = item
	}
	p.Consideration = make([]ConsiderationItem, len(o.Parameters.Consideration))
	for j, item := range o.Parameters.Consideration {
		item.IdentifierOrCriteria = bigOrZero(item.IdentifierOrCriteria)
		item.StartAmount = bigOrZero(item.StartAmount)
		item.EndAmount = bigOrZero(item.EndAmount)
		p.Consideration[j] = item
	}
	p.StartTime = bigOrZero(p.StartTime)
	p.EndTime = bigOrZero(p.EndTime)
	p.Salt = bigOrZero(p.Salt)
	p.TotalOriginalConsiderationItems = bigOrZero(p.TotalOriginalConsiderationItems)
	out := &AdvancedOrder{
		Parameters:  p,
		Numerator:   bigOrZero(o.Numerator),
		Denominator: bigOrZero(o.Denominator),
		Signature:   bytesOrEmpty(o.Signature),
		ExtraData:   bytesOrEmpty(o.ExtraData),
	}
	if out.Numerator.BitLen() > 120 || out.Denominator.BitLen() > 120 {
		return nil, fmt.Errorf("fill fraction exceeds uint120")
	}
	return out, nil
}
