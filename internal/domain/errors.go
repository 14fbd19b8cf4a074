package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrSlippageExceeded    = errors.New("slippage exceeded")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrLockHeld            = errors.New("lock already held")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
)

// Rejection reasons carried on result events. These are wire values, not
// error strings, so the gateway can map them back to HTTP responses.
const (
	ReasonPriceUnavailable    = "price_unavailable"
	ReasonSlippageExceeded    = "slippage_exceeded"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonNotFound            = "not_found"
	ReasonInvalidCommand      = "invalid_command"
)

// ReasonFor maps an engine error to its wire rejection reason. Unknown errors
// map to the empty string.
func ReasonFor(err error) string {
	switch {
	case errors.Is(err, ErrPriceUnavailable):
		return ReasonPriceUnavailable
	case errors.Is(err, ErrSlippageExceeded):
		return ReasonSlippageExceeded
	case errors.Is(err, ErrInsufficientBalance):
		return ReasonInsufficientBalance
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	default:
		return ""
	}
}
