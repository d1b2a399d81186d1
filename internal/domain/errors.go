package domain

import "errors"

var (
	// ErrInvariant marks a fatal internal error: a corrupted position,
	// a second open on the same symbol, a stop on the wrong side. The
	// engine must stop rather than trade through it.
	ErrInvariant = errors.New("invariant violation")

	// ErrConfig marks a configuration rejected at load time.
	ErrConfig = errors.New("invalid configuration")

	// ErrBadCandle marks a candle dropped by data validation.
	ErrBadCandle = errors.New("bad candle")
)
