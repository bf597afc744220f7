package core

import "errors"

// Rejection kinds surfaced by the matching engine. Every one of them aborts the
// whole unit of work; callers test with errors.Is.
var (
	ErrInvalidPrice         = errors.New("invalid price")
	ErrInsufficientReserves = errors.New("insufficient reserves")
	ErrBelowMinimumAmount   = errors.New("amount below minimum")
	ErrInsufficientAmount   = errors.New("insufficient amount")
	ErrOverflow             = errors.New("arithmetic overflow")
	ErrInvalidSide          = errors.New("invalid side")
	ErrMarketPaused         = errors.New("market paused")
)
