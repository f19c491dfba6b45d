// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package eth

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Check that rpcclient satisfies the ethFetcher interface.
var _ ethFetcher = (*rpcclient)(nil)

type rpcclient struct {
	// Client wraps a *rpc.Client with the calls needed by ethFetcher.
	*ethclient.Client
	// c is a direct client for raw calls.
	c *rpc.Client
}

// connect dials the endpoint, which may be an http(s) or ws(s) URL or an IPC
// socket path.
func (c *rpcclient) connect(ctx context.Context, endpoint string) error {
	client, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("unable to dial rpc: %v", err)
	}
	c.Client = ethclient.NewClient(client)
	c.c = client
	return nil
}

// shutdown shuts down the client.
func (c *rpcclient) shutdown() {
	if c.Client != nil {
		c.Client.Close()
	}
}
