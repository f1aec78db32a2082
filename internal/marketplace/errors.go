package marketplace

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrCurrencyNotAllowed    = errors.New("currency not allowed")
	ErrAlreadyListed         = errors.New("already listed")
	ErrNotListed             = errors.New("not listed")
	ErrNotSeller             = errors.New("caller is not the seller")
	ErrNotAuthorized         = errors.New("not authorized")
	ErrInsufficientPayment   = errors.New("insufficient payment")
	ErrPaymentTransferFailed = errors.New("payment transfer failed")
	ErrAssetTransferFailed   = errors.New("asset transfer failed")
)

// Error codes returned by Kind.
const (
	CodeInvalidArgument       = "INVALID_ARGUMENT"
	CodeCurrencyNotAllowed    = "CURRENCY_NOT_ALLOWED"
	CodeAlreadyListed         = "ALREADY_LISTED"
	CodeNotListed             = "NOT_LISTED"
	CodeNotSeller             = "NOT_SELLER"
	CodeNotAuthorized         = "NOT_AUTHORIZED"
	CodeInsufficientPayment   = "INSUFFICIENT_PAYMENT"
	CodePaymentTransferFailed = "PAYMENT_TRANSFER_FAILED"
	CodeAssetTransferFailed   = "ASSET_TRANSFER_FAILED"
	CodeInternal              = "INTERNAL"
)

var kinds = []struct {
	err  error
	code string
}{
	{ErrInvalidArgument, CodeInvalidArgument},
	{ErrCurrencyNotAllowed, CodeCurrencyNotAllowed},
	{ErrAlreadyListed, CodeAlreadyListed},
	{ErrNotListed, CodeNotListed},
	{ErrNotSeller, CodeNotSeller},
	{ErrNotAuthorized, CodeNotAuthorized},
	{ErrInsufficientPayment, CodeInsufficientPayment},
	{ErrPaymentTransferFailed, CodePaymentTransferFailed},
	{ErrAssetTransferFailed, CodeAssetTransferFailed},
}

// OpError records the operation and ledger key that failed.
type OpError struct {
	Op  string
	Key string
	Err error
}

func (e *OpError) Error() string {
	if e.Key == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Key + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// opErr builds an OpError whose chain contains kind and, when present, cause.
func opErr(op, key string, kind error, detail string, cause error) error {
	var err error
	switch {
	case cause != nil && detail != "":
		err = fmt.Errorf("%w: %s: %w", kind, detail, cause)
	case cause != nil:
		err = fmt.Errorf("%w: %w", kind, cause)
	case detail != "":
		err = fmt.Errorf("%w: %s", kind, detail)
	default:
		err = kind
	}
	return &OpError{Op: op, Key: key, Err: err}
}

// Kind maps an error to its stable code.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return CodeInternal
}
