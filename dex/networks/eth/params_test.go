// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package eth

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/morphaNFT/marker-maker/dex"
)

func TestChainID(t *testing.T) {
	tests := []struct {
		net     dex.Network
		want    int64
		wantErr bool
	}{
		{dex.Mainnet, 1, false},
		{dex.Testnet, 11155111, false},
		{dex.Simnet, 1337, false},
		{dex.Network(9), 0, true},
	}
	for _, tt := range tests {
		id, err := ChainID(tt.net)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("expected error for network %d", tt.net)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", tt.net, err)
		}
		if id.Cmp(big.NewInt(tt.want)) != 0 {
			t.Fatalf("wrong chain ID for %s: %s", tt.net, id)
		}
	}
}

func TestMaxUint256(t *testing.T) {
	if MaxUint256.BitLen() != 256 {
		t.Fatalf("wrong bit length %d", MaxUint256.BitLen())
	}
	if new(big.Int).Add(MaxUint256, big.NewInt(1)).BitLen() != 257 {
		t.Fatalf("MaxUint256 is not all ones")
	}
	if !IsNative(common.Address{}) || IsNative(common.Address{1}) {
		t.Fatalf("wrong native sentinel")
	}
}
