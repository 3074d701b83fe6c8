package types

import "errors"

// Sentinel errors for the execution engine.
var (
	// Order errors
	ErrOrderTimeout     = errors.New("order timeout")
	ErrOrderRejected    = errors.New("order rejected by broker")
	ErrInvalidOrderSize = errors.New("invalid order size")

	// Record lifecycle errors
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrSlotOccupied      = errors.New("slot already occupied")
	ErrNoFreeSlot        = errors.New("no free slot")
	ErrStateNotFound     = errors.New("state not found")

	// Data errors
	ErrInvalidPrice    = errors.New("invalid price value")
	ErrInvalidData     = errors.New("invalid data")
	ErrStaleData       = errors.New("market data is stale")
	ErrDataUnavailable = errors.New("market data unavailable")

	// Connection errors
	ErrConnectionLost    = errors.New("connection lost")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Validation errors
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrInvalidSymbol   = errors.New("invalid symbol")
	ErrInvalidContract = errors.New("invalid contract")
)
