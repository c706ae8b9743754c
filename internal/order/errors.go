package order

import "errors"

var (
	ErrValidation           = errors.New("order validation failed")
	ErrNotFound             = errors.New("order not found")
	ErrTerminal             = errors.New("order is in a terminal state")
	ErrInvalidTransition    = errors.New("invalid order transition")
	ErrInvalidFill          = errors.New("invalid fill")
	ErrOverfill             = errors.New("fill exceeds order quantity")
	ErrExecutionUnavailable = errors.New("execution unavailable")
	ErrEngineClosed         = errors.New("execution engine is shut down")
)
