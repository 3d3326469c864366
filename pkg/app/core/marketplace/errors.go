package marketplace

import "errors"

var (
	ErrInvalidPrice          = errors.New("invalid price: must be greater than zero")
	ErrFeeMismatch           = errors.New("fee payment does not equal listing fee")
	ErrPaymentMismatch       = errors.New("payment does not equal listing price")
	ErrUnknownOrAlreadySold  = errors.New("listing unknown or already sold")
	ErrReentrantCall         = errors.New("reentrant call")
	ErrCustodyTransferFailed = errors.New("custody transfer failed")
	ErrDisbursementFailed    = errors.New("disbursement failed")
	ErrInsufficientFunds     = errors.New("attached value could not be collected")
	ErrNotFound              = errors.New("listing not found")
	ErrConfigMismatch        = errors.New("ledger already initialized with different config")
)

// Error codes reported in receipts and API responses
const (
	CodeOK                    = "ok"
	CodeInvalidPrice          = "invalid_price"
	CodeFeeMismatch           = "fee_mismatch"
	CodePaymentMismatch       = "payment_mismatch"
	CodeUnknownOrAlreadySold  = "unknown_or_already_sold"
	CodeReentrantCall         = "reentrant_call"
	CodeCustodyTransferFailed = "custody_transfer_failed"
	CodeDisbursementFailed    = "disbursement_failed"
	CodeInsufficientFunds     = "insufficient_funds"
	CodeNotFound              = "not_found"
	CodeInternal              = "internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidPrice, CodeInvalidPrice},
	{ErrFeeMismatch, CodeFeeMismatch},
	{ErrPaymentMismatch, CodePaymentMismatch},
	{ErrUnknownOrAlreadySold, CodeUnknownOrAlreadySold},
	{ErrReentrantCall, CodeReentrantCall},
	{ErrCustodyTransferFailed, CodeCustodyTransferFailed},
	{ErrDisbursementFailed, CodeDisbursementFailed},
	{ErrInsufficientFunds, CodeInsufficientFunds},
	{ErrNotFound, CodeNotFound},
}

// Code maps a ledger error to its stable code.
// The outermost ledger error wins, so a sale whose disbursement failed
// because a hook hit ErrReentrantCall reports disbursement_failed.
func Code(err error) string {
	if err == nil {
		return CodeOK
	}
	best, bestDepth := CodeInternal, -1
	for _, c := range codes {
		if d := depth(err, c.err, 0); d >= 0 && (bestDepth < 0 || d < bestDepth) {
			best, bestDepth = c.code, d
		}
	}
	return best
}

// depth returns how many wrap levels separate err from target, or -1
func depth(err, target error, level int) int {
	if err == nil {
		return -1
	}
	if err == target {
		return level
	}
	switch e := err.(type) {
	case interface{ Unwrap() error }:
		return depth(e.Unwrap(), target, level+1)
	case interface{ Unwrap() []error }:
		best := -1
		for _, inner := range e.Unwrap() {
			if d := depth(inner, target, level+1); d >= 0 && (best < 0 || d < best) {
				best = d
			}
		}
		return best
	}
	return -1
}
