// Package errors defines the error taxonomy shared by the order intake and
// lifecycle components. Validation failures carry a machine-readable kind so
// API layers can map them to distinct client error codes.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the non-validation failure classes.
var (
	// ErrOrderNotFound covers lookups by durable id or client order id that
	// match no live order for the requesting user.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInsufficientBalance is returned when the computed margin cost
	// exceeds the account's available balance.
	ErrInsufficientBalance = errors.New("insufficient available balance")

	// ErrInstrumentNotFound covers missing reference data for a symbol.
	ErrInstrumentNotFound = errors.New("instrument not found")

	// ErrBotTradingHalted short-circuits bot-owned order operations while
	// the global halt flag is raised.
	ErrBotTradingHalted = errors.New("bot trading is halted")
)

// ValidationKind enumerates the distinct order validation failures.
type ValidationKind int

const (
	KindUnknownOrderShape ValidationKind = iota
	KindQuantityTooSmall
	KindQuantityTooLarge
	KindPricePrecision
	KindQuantityPrecision
	KindPriceOutOfBounds
	KindMissingPrice
	KindMissingTriggerPrice
	KindMissingStopCondition
	KindInvalidTriggerPrice
	KindInvalidCallbackRate
	KindInvalidPercent
)

func (k ValidationKind) String() string {
	switch k {
	case KindQuantityTooSmall:
		return "quantity_too_small"
	case KindQuantityTooLarge:
		return "quantity_too_large"
	case KindPricePrecision:
		return "price_precision"
	case KindQuantityPrecision:
		return "quantity_precision"
	case KindPriceOutOfBounds:
		return "price_out_of_bounds"
	case KindMissingPrice:
		return "missing_price"
	case KindMissingTriggerPrice:
		return "missing_trigger_price"
	case KindMissingStopCondition:
		return "missing_stop_condition"
	case KindInvalidTriggerPrice:
		return "invalid_trigger_price"
	case KindInvalidCallbackRate:
		return "invalid_callback_rate"
	case KindInvalidPercent:
		return "invalid_percent"
	default:
		return "unknown_order_shape"
	}
}

// ValidationError is a synchronous rejection of an order request. It is never
// retried.
type ValidationError struct {
	Kind   ValidationKind
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("order validation failed: %s", e.Kind)
	}
	return fmt.Sprintf("order validation failed: %s: %s", e.Kind, e.Detail)
}

// NewValidation builds a ValidationError with a formatted detail message.
func NewValidation(kind ValidationKind, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a validation failure and returns it.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
