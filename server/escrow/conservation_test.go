// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

import (
	"math/big"
	"testing"

	"pgregory.net/rapid"
)

// TestConservation checks that for any sequence of operations, including
// failing ones, the sum of all balances plus everything paid out equals
// everything deposited.
func TestConservation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newTHarness(rt, nil)
		e := h.e
		users := []*tUser{newTUser(rt, 1), newTUser(rt, 2), newTUser(rt, 3)}
		deposited := new(big.Int)
		settled := new(big.Int)

		numOps := rapid.IntRange(1, 30).Draw(rt, "numOps")
		for i := 0; i < numOps; i++ {
			u := users[rapid.IntRange(0, len(users)-1).Draw(rt, "user")]
			fail := rapid.IntRange(0, 4).Draw(rt, "fail") == 0
			h.conduit.err, h.native.err = nil, nil
			if fail {
				h.conduit.err, h.native.err = errTestFailed, errTestFailed
			}
			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0:
				amt := rapid.Int64Range(1, 1000).Draw(rt, "deposit")
				p := u.params(rt, e, tCollection, tNative, 1, 500)
				if err := e.DepositNative(tCtx, u.addr, big.NewInt(amt), p); err == nil {
					deposited.Add(deposited, big.NewInt(amt))
				}
			case 1:
				price := rapid.Int64Range(0, 600).Draw(rt, "price")
				res, err := e.Fulfill(tCtx, tDeployer, fulfillArgs(u.addr, nftOrder(tCollection, tNative, price)))
				if err == nil && res.Settled {
					settled.Add(settled, res.Total)
				}
			case 2:
				_, _ = e.RefundNative(tCtx, tDeployer, u.addr)
			case 3:
				fee := rapid.Int64Range(0, 200).Draw(rt, "fee")
				_ = e.DeductGasFee(tCtx, tDeployer, u.addr, big.NewInt(fee))
			}

			held := new(big.Int)
			for _, b := range e.Balances() {
				held.Add(held, b.Amount)
			}
			paid := new(big.Int).Add(settled, h.native.total())
			if sum := new(big.Int).Add(held, paid); sum.Cmp(deposited) != 0 {
				rt.Fatalf("held %s + paid out %s != deposited %s", held, paid, deposited)
			}
		}

		// Conduit value matches what the engine reports as settled.
		forwarded := new(big.Int)
		for _, b := range h.conduit.batches {
			forwarded.Add(forwarded, b.Value)
		}
		if forwarded.Cmp(settled) != 0 {
			rt.Fatalf("forwarded %s != settled %s", forwarded, settled)
		}
	})
}
