// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package eth

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// feeCacheExpiration is how long a cached tip and tip cap suggestion are used
// before refreshing from the node.
const feeCacheExpiration = 12 * time.Second

// tipState is the minimal information about the best block needed to price
// a transaction.
type tipState struct {
	hash    common.Hash
	height  uint64
	baseFee *big.Int
	tipCap  *big.Int
	stamp   time.Time
}

// feeCache caches the best header's base fee and the node's tip cap
// suggestion so that a batch of transactions does not repeat the same RPC
// calls.
type feeCache struct {
	mtx  sync.RWMutex
	best *tipState
	now  func() time.Time
}

func newFeeCache() *feeCache {
	return &feeCache{now: time.Now}
}

// fees returns the cached base fee and tip cap if they have not expired.
func (cache *feeCache) fees() (baseFee, tipCap *big.Int, found bool) {
	cache.mtx.RLock()
	defer cache.mtx.RUnlock()
	if cache.best == nil || cache.now().Sub(cache.best.stamp) > feeCacheExpiration {
		return nil, nil, false
	}
	return new(big.Int).Set(cache.best.baseFee), new(big.Int).Set(cache.best.tipCap), true
}

// add stores the header's fee data. A header older than the cached best is
// ignored.
func (cache *feeCache) add(hdr *types.Header, tipCap *big.Int) {
	cache.mtx.Lock()
	defer cache.mtx.Unlock()
	height := hdr.Number.Uint64()
	if cache.best != nil && height < cache.best.height {
		return
	}
	baseFee := hdr.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	cache.best = &tipState{
		hash:    hdr.Hash(),
		height:  height,
		baseFee: new(big.Int).Set(baseFee),
		tipCap:  new(big.Int).Set(tipCap),
		stamp:   cache.now(),
	}
}

// tipHeight is the height of the cached best header.
func (cache *feeCache) tipHeight() uint64 {
	cache.mtx.RLock()
	defer cache.mtx.RUnlock()
	if cache.best == nil {
		return 0
	}
	return cache.best.height
}

// clear forces a refresh on the next call to fees.
func (cache *feeCache) clear() {
	cache.mtx.Lock()
	cache.best = nil
	cache.mtx.Unlock()
}
