// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package db

import "errors"

// ArchiveError is the error type used by archivist for certain recognized
// errors. Not all returned errors will be of this type.
type ArchiveError struct {
	Code   uint16
	Detail string
}

// The possible Code values in an ArchiveError.
const (
	ErrGeneralFailure uint16 = iota
	ErrCorruptRecord
	ErrInvalidChangeSet
	ErrClosed
)

func (ae ArchiveError) Error() string {
	desc := "unrecognized error"
	switch ae.Code {
	case ErrGeneralFailure:
		desc = "general failure"
	case ErrCorruptRecord:
		desc = "corrupt record"
	case ErrInvalidChangeSet:
		desc = "invalid change set"
	case ErrClosed:
		desc = "archive closed"
	}

	if ae.Detail == "" {
		return desc
	}
	return desc + ": " + ae.Detail
}

// SameErrorTypes checks for error equality or ArchiveError.Code equality if
// both errors are of type ArchiveError.
func SameErrorTypes(errA, errB error) bool {
	if errors.Is(errA, errB) {
		return true
	}
	var arA ArchiveError
	if errors.As(errA, &arA) {
		var arB ArchiveError
		if errors.As(errB, &arB) && arA.Code == arB.Code {
			return true
		}
	}
	return false
}

// IsErrCorrupt returns true if the error is an ArchiveError with code
// ErrCorruptRecord.
func IsErrCorrupt(err error) bool {
	var errA ArchiveError
	if errors.As(err, &errA) {
		return errA.Code == ErrCorruptRecord
	}
	return false
}

// ValidateChangeSet checks the ChangeSet for missing amounts.
func ValidateChangeSet(cs *ChangeSet) error {
	for _, b := range cs.Balances {
		if b.Amount == nil || b.Amount.Sign() < 0 {
			return ArchiveError{Code: ErrInvalidChangeSet, Detail: "bad balance amount for " + b.Account.Hex()}
		}
	}
	for _, b := range cs.Bindings {
		if b.MinPrice == nil || b.MaxPrice == nil {
			return ArchiveError{Code: ErrInvalidChangeSet, Detail: "missing binding price for " + b.Account.Hex()}
		}
	}
	for _, r := range cs.Records {
		if r.Seq == 0 || r.Type == 0 {
			return ArchiveError{Code: ErrInvalidChangeSet, Detail: "record missing sequence or type"}
		}
	}
	return nil
}
