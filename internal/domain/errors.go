package domain

import "errors"

var (
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrQuoteUnavailable = errors.New("quote unavailable")
	ErrInvalidStrategy  = errors.New("invalid strategy")
	ErrStepExecution    = errors.New("step execution failed")
)
