// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package eth

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ItemType is the Seaport item type of an offer or consideration item.
type ItemType uint8

const (
	ItemNative ItemType = iota
	ItemERC20
	ItemERC721
	ItemERC1155
	ItemERC721WithCriteria
	ItemERC1155WithCriteria
)

// String returns the Seaport name of the item type.
func (t ItemType) String() string {
	switch t {
	case ItemNative:
		return "NATIVE"
	case ItemERC20:
		return "ERC20"
	case ItemERC721:
		return "ERC721"
	case ItemERC1155:
		return "ERC1155"
	case ItemERC721WithCriteria:
		return "ERC721_WITH_CRITERIA"
	case ItemERC1155WithCriteria:
		return "ERC1155_WITH_CRITERIA"
	}
	return fmt.Sprintf("ItemType(%d)", uint8(t))
}

// IsNFT is true for the non-fungible item types, including the criteria
// variants.
func (t ItemType) IsNFT() bool {
	switch t {
	case ItemERC721, ItemERC1155, ItemERC721WithCriteria, ItemERC1155WithCriteria:
		return true
	}
	return false
}

// IsFungible is true for NATIVE and ERC20 items.
func (t ItemType) IsFungible() bool {
	return t == ItemNative || t == ItemERC20
}

// OfferItem is an item offered by the order's offerer.
type OfferItem struct {
	ItemType             ItemType       `json:"itemType"`
	Token                common.Address `json:"token"`
	IdentifierOrCriteria *big.Int       `json:"identifierOrCriteria"`
	StartAmount          *big.Int       `json:"startAmount"`
	EndAmount            *big.Int       `json:"endAmount"`
}

// ConsiderationItem is an item that must be received by Recipient for the
// order to be fulfilled.
type ConsiderationItem struct {
	ItemType             ItemType       `json:"itemType"`
	Token                common.Address `json:"token"`
	IdentifierOrCriteria *big.Int       `json:"identifierOrCriteria"`
	StartAmount          *big.Int       `json:"startAmount"`
	EndAmount            *big.Int       `json:"endAmount"`
	Recipient            common.Address `json:"recipient"`
}

// OrderParameters are the signed parameters of a Seaport order.
type OrderParameters struct {
	Offerer                         common.Address      `json:"offerer"`
	Zone                            common.Address      `json:"zone"`
	Offer                           []OfferItem         `json:"offer"`
	Consideration                   []ConsiderationItem `json:"consideration"`
	OrderType                       uint8               `json:"orderType"`
	StartTime                       *big.Int            `json:"startTime"`
	EndTime                         *big.Int            `json:"endTime"`
	ZoneHash                        [32]byte            `json:"zoneHash"`
	Salt                            *big.Int            `json:"salt"`
	ConduitKey                      [32]byte            `json:"conduitKey"`
	TotalOriginalConsiderationItems *big.Int            `json:"totalOriginalConsiderationItems"`
}

// AdvancedOrder is an order with a fill fraction and extra data.
type AdvancedOrder struct {
	Parameters  OrderParameters `json:"parameters"`
	Numerator   *big.Int        `json:"numerator"`
	Denominator *big.Int        `json:"denominator"`
	Signature   []byte          `json:"signature"`
	ExtraData   []byte          `json:"extraData"`
}

// CriteriaResolver resolves a criteria-based item to a specific identifier.
type CriteriaResolver struct {
	OrderIndex    *big.Int   `json:"orderIndex"`
	Side          uint8      `json:"side"`
	Index         *big.Int   `json:"index"`
	Identifier    *big.Int   `json:"identifier"`
	CriteriaProof [][32]byte `json:"criteriaProof"`
}

// FulfillmentComponent points at one item of one order in a batch.
type FulfillmentComponent struct {
	OrderIndex *big.Int `json:"orderIndex"`
	ItemIndex  *big.Int `json:"itemIndex"`
}

const offerItemComponents = `[
	{"internalType":"enum ItemType","name":"itemType","type":"uint8"},
	{"internalType":"address","name":"token","type":"address"},
	{"internalType":"uint256","name":"identifierOrCriteria","type":"uint256"},
	{"internalType":"uint256","name":"startAmount","type":"uint256"},
	{"internalType":"uint256","name":"endAmount","type":"uint256"}]`

const considerationItemComponents = `[
	{"internalType":"enum ItemType","name":"itemType","type":"uint8"},
	{"internalType":"address","name":"token","type":"address"},
	{"internalType":"uint256","name":"identifierOrCriteria","type":"uint256"},
	{"internalType":"uint256","name":"startAmount","type":"uint256"},
	{"internalType":"uint256","name":"endAmount","type":"uint256"},
	{"internalType":"address payable","name":"recipient","type":"address"}]`

const fulfillmentComponentComponents = `[
	{"internalType":"uint256","name":"orderIndex","type":"uint256"},
	{"internalType":"uint256","name":"itemIndex","type":"uint256"}]`

// SeaportABIJSON is the subset of the Seaport ABI used for settlement.
var SeaportABIJSON = `[{
	"inputs":[
		{"components":[
			{"components":[
				{"internalType":"address","name":"offerer","type":"address"},
				{"internalType":"address","name":"zone","type":"address"},
				{"components":` + offerItemComponents + `,"internalType":"struct OfferItem[]","name":"offer","type":"tuple[]"},
				{"components":` + considerationItemComponents + `,"internalType":"struct ConsiderationItem[]","name":"consideration","type":"tuple[]"},
				{"internalType":"enum OrderType","name":"orderType","type":"uint8"},
				{"internalType":"uint256","name":"startTime","type":"uint256"},
				{"internalType":"uint256","name":"endTime","type":"uint256"},
				{"internalType":"bytes32","name":"zoneHash","type":"bytes32"},
				{"internalType":"uint256","name":"salt","type":"uint256"},
				{"internalType":"bytes32","name":"conduitKey","type":"bytes32"},
				{"internalType":"uint256","name":"totalOriginalConsiderationItems","type":"uint256"}
			],"internalType":"struct OrderParameters","name":"parameters","type":"tuple"},
			{"internalType":"uint120","name":"numerator","type":"uint120"},
			{"internalType":"uint120","name":"denominator","type":"uint120"},
			{"internalType":"bytes","name":"signature","type":"bytes"},
			{"internalType":"bytes","name":"extraData","type":"bytes"}
		],"internalType":"struct AdvancedOrder[]","name":"advancedOrders","type":"tuple[]"},
		{"components":[
			{"internalType":"uint256","name":"orderIndex","type":"uint256"},
			{"internalType":"enum Side","name":"side","type":"uint8"},
			{"internalType":"uint256","name":"index","type":"uint256"},
			{"internalType":"uint256","name":"identifier","type":"uint256"},
			{"internalType":"bytes32[]","name":"criteriaProof","type":"bytes32[]"}
		],"internalType":"struct CriteriaResolver[]","name":"criteriaResolvers","type":"tuple[]"},
		{"components":` + fulfillmentComponentComponents + `,"internalType":"struct FulfillmentComponent[][]","name":"offerFulfillments","type":"tuple[][]"},
		{"components":` + fulfillmentComponentComponents + `,"internalType":"struct FulfillmentComponent[][]","name":"considerationFulfillments","type":"tuple[][]"},
		{"internalType":"bytes32","name":"fulfillerConduitKey","type":"bytes32"},
		{"internalType":"address","name":"recipient","type":"address"},
		{"internalType":"uint256","name":"maximumFulfilled","type":"uint256"}
	],
	"name":"fulfillAvailableAdvancedOrders",
	"outputs":[
		{"internalType":"bool[]","name":"availableOrders","type":"bool[]"}
	],
	"stateMutability":"payable",
	"type":"function"
}]`

// FulfillAvailableAdvancedOrders is the name of the Seaport batch settlement
// method.
const FulfillAvailableAdvancedOrders = "fulfillAvailableAdvancedOrders"

// SeaportABI is the parsed SeaportABIJSON.
var SeaportABI = parseABI(SeaportABIJSON)

func parseABI(abiStr string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(abiStr))
	if err != nil {
		panic(fmt.Sprintf("failed to parse abi: %v", err))
	}
	return &parsed
}
