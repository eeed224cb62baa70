// Package errs holds the error taxonomy shared by the ledger and the
// position lifecycle.
package errs

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidPrice       = errors.New("invalid price")
	ErrAlreadyClosed      = errors.New("position already closed")
	ErrPositionNotFound   = errors.New("position not found")
	ErrAccountNotFound    = errors.New("account not found")
	ErrStorageFailure     = errors.New("storage failure")
	ErrInvalidRequest     = errors.New("invalid request")
)

// ShortfallError reports how far a margin or funds check missed.
type ShortfallError struct {
	Kind      error
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("%v: required %s, available %s", e.Kind, e.Required.String(), e.Available.String())
}

func (e *ShortfallError) Unwrap() error {
	return e.Kind
}

func (e *ShortfallError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

func InsufficientMargin(required, available decimal.Decimal) error {
	return &ShortfallError{Kind: ErrInsufficientMargin, Required: required, Available: available}
}

func InsufficientFunds(required, available decimal.Decimal) error {
	return &ShortfallError{Kind: ErrInsufficientFunds, Required: required, Available: available}
}

// StorageError keeps the driver error for logs while matching ErrStorageFailure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageFailure, e.Err}
}

// Storage wraps err unless it already belongs to the taxonomy.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if Known(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func Invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}

// Known reports whether err is one of the taxonomy errors.
func Known(err error) bool {
	return Code(err) != CodeInternal
}

const (
	CodeInsufficientMargin = "INSUFFICIENT_MARGIN"
	CodeInsufficientFunds  = "INSUFFICIENT_FUNDS"
	CodeInvalidPrice       = "INVALID_PRICE"
	CodeAlreadyClosed      = "ALREADY_CLOSED"
	CodePositionNotFound   = "POSITION_NOT_FOUND"
	CodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	CodeStorageFailure     = "STORAGE_FAILURE"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeInternal           = "INTERNAL"
)

func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientMargin):
		return CodeInsufficientMargin
	case errors.Is(err, ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, ErrInvalidPrice):
		return CodeInvalidPrice
	case errors.Is(err, ErrAlreadyClosed):
		return CodeAlreadyClosed
	case errors.Is(err, ErrPositionNotFound):
		return CodePositionNotFound
	case errors.Is(err, ErrAccountNotFound):
		return CodeAccountNotFound
	case errors.Is(err, ErrStorageFailure):
		return CodeStorageFailure
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	}
	return CodeInternal
}
