// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package escrow

import "github.com/morphaNFT/marker-maker/dex"

// Every failed operation returns one of these kinds, usually wrapped with
// detail by dex.NewError. Match them with errors.Is.
const (
	ErrUnauthorized             = dex.ErrorKind("unauthorized")
	ErrContractInactive         = dex.ErrorKind("engine inactive")
	ErrInsufficientFunds        = dex.ErrorKind("insufficient funds")
	ErrInvalidAmount            = dex.ErrorKind("invalid amount")
	ErrInvalidAddress           = dex.ErrorKind("invalid address")
	ErrInvalidSignature         = dex.ErrorKind("invalid signature")
	ErrTokenNotAllowed          = dex.ErrorKind("token not allowed")
	ErrTokenMismatch            = dex.ErrorKind("token mismatch")
	ErrCollectionMismatch       = dex.ErrorKind("collection mismatch")
	ErrNoBinding                = dex.ErrorKind("no deposit binding")
	ErrInvalidOfferItem         = dex.ErrorKind("invalid offer item")
	ErrInvalidConsiderationItem = dex.ErrorKind("invalid consideration item")
	ErrPriceOutOfRange          = dex.ErrorKind("price out of range")
	ErrNoBalance                = dex.ErrorKind("no balance")
	ErrReentrant                = dex.ErrorKind("reentrant call")
	ErrExternalCallFailed       = dex.ErrorKind("external call failed")
	ErrEmptyBatch               = dex.ErrorKind("empty batch")
	ErrStorage                  = dex.ErrorKind("storage failure")
	ErrDepositUnverified        = dex.ErrorKind("deposit not verified")
	ErrDepositReused            = dex.ErrorKind("deposit already credited")
	// ErrTxPending means value may have moved. The operation was committed
	// and needs reconciliation against the chain.
	ErrTxPending = dex.ErrorKind("transaction outcome unknown")
)
