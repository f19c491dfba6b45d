// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package db

import (
	"io"
)

// Archivist is the persistent storage of the escrow engine. The engine
// produces exactly one ChangeSet per committed operation, and a driver must
// apply each ChangeSet atomically.
type Archivist interface {
	// Close should gracefully shutdown the backend, returning when complete.
	io.Closer

	// LoadState loads the complete committed state. A fresh database returns
	// a State with nil Roles.
	LoadState() (*State, error)

	// Apply persists the ChangeSet in a single transaction.
	Apply(cs *ChangeSet) error

	// Records returns records matching the filter in ascending sequence
	// order.
	Records(filter *RecordFilter) ([]*Record, error)
}
