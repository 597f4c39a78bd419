package domain

import (
	"errors"
	"fmt"

	"github.com/smallbiznis/yardcraft/internal/funding"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient_funds")
	ErrAlreadyRefunded    = errors.New("already_refunded")
	ErrRefundExceedsDebit = errors.New("refund_exceeds_debit")
	ErrDuplicateReference = errors.New("duplicate_reference")
	ErrInvalidUnits       = errors.New("invalid_units")
	ErrInvalidSource      = errors.New("invalid_source")
	ErrInvalidReference   = errors.New("invalid_reference")
	ErrInvalidAccount     = errors.New("invalid_account")
	ErrAccountNotFound    = errors.New("account_not_found")
)

// ShortfallError is returned when the source picked by the resolver holds
// fewer units than the request needs. Sources are never combined, so the
// caller can ask for at most Available units from it.
type ShortfallError struct {
	Source    funding.Source
	Available int64
	Requested int
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("insufficient funds: %s has %d of %d units", e.Source, e.Available, e.Requested)
}

func (e *ShortfallError) Unwrap() error { return ErrInsufficientFunds }
