// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package eth

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	dexeth "github.com/morphaNFT/marker-maker/dex/networks/eth"
	"github.com/morphaNFT/marker-maker/server/escrow"
)

var _ escrow.Conduit = (*Conduit)(nil)

// Conduit settles fulfillment batches with the Seaport contract.
type Conduit struct {
	chain   *Chain
	seaport common.Address
}

// NewConduit creates a Conduit for the Seaport deployment at the address.
func NewConduit(c *Chain, seaport common.Address) *Conduit {
	return &Conduit{chain: c, seaport: seaport}
}

// FulfillBatch calls fulfillAvailableAdvancedOrders, forwarding the batch's
// value.
func (cd *Conduit) FulfillBatch(ctx context.Context, batch *escrow.FulfillBatch) error {
	data, err := dexeth.PackFulfillAvailableAdvancedOrders(&batch.FulfillArgs)
	if err != nil {
		return fmt.Errorf("error packing fulfillment: %w", err)
	}
	receipt, err := cd.chain.transact(ctx, cd.seaport, batch.Value, data)
	if err != nil {
		return err
	}
	cd.chain.log.Infof("Settled %d orders for %s in block %s", len(batch.Orders), batch.Recipient, receipt.BlockNumber)
	return nil
}
