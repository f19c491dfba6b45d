// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package eth

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/morphaNFT/marker-maker/dex"
)

// These are the chain IDs of the various Ethereum network supported.
const (
	MainnetChainID = 1
	TestnetChainID = 11155111 // Sepolia
	SimnetChainID  = 1337
)

var (
	// ChainIDs is a map of the network name to it's chain ID.
	ChainIDs = map[dex.Network]int64{
		dex.Mainnet: MainnetChainID,
		dex.Testnet: TestnetChainID,
		dex.Simnet:  SimnetChainID,
	}

	// NativeToken is the settlement token sentinel for the chain's native
	// currency. Seaport uses the zero address for NATIVE items as well.
	NativeToken = common.Address{}

	// MaxUint256 is the allowance granted to the settlement conduit.
	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	// SeaportAddresses are the canonical Seaport 1.6 deployments. The simnet
	// harness deploys its own and must be configured explicitly.
	SeaportAddresses = map[dex.Network]common.Address{
		dex.Mainnet: common.HexToAddress("0x0000000000000068F116a894984e2DB1123eB395"),
		dex.Testnet: common.HexToAddress("0x0000000000000068F116a894984e2DB1123eB395"),
	}

	// ConduitAddresses are the token spenders for the default OpenSea
	// conduit key. Token allowances are granted to these addresses.
	ConduitAddresses = map[dex.Network]common.Address{
		dex.Mainnet: common.HexToAddress("0x1E0049783F008A0085193E00003D00cd54003c71"),
		dex.Testnet: common.HexToAddress("0x1E0049783F008A0085193E00003D00cd54003c71"),
	}
)

// ChainID returns the chain ID for the network as a *big.Int.
func ChainID(net dex.Network) (*big.Int, error) {
	id, ok := ChainIDs[net]
	if !ok {
		return nil, fmt.Errorf("no chain ID for network %s", net)
	}
	return big.NewInt(id), nil
}

// IsNative checks whether the token address is the native currency sentinel.
func IsNative(token common.Address) bool {
	return token == NativeToken
}
