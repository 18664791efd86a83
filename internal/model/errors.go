package model

import "errors"

// Per-asset cycle errors. All of them degrade the affected asset to a
// no-op for the current cycle and never abort the scheduler.
var (
	ErrOracleUnavailable       = errors.New("advisory oracle unavailable")
	ErrMalformedRecommendation = errors.New("malformed recommendation")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrInsufficientHoldings    = errors.New("insufficient holdings")
	ErrStorageUnavailable      = errors.New("storage unavailable")
	ErrPriceUnavailable        = errors.New("price unavailable")
)
