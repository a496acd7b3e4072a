package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOverAllocation    = errors.New("quotes exceed available holdings")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidOrder      = errors.New("invalid order parameters")
	ErrInvalidInput      = errors.New("invalid input")
	ErrAlreadyExecuted   = errors.New("order already executed")
	ErrNotDue            = errors.New("order not due yet")
	ErrStorage           = errors.New("storage failure")
	ErrConflict          = errors.New("concurrent update conflict")
	ErrLockHeld          = errors.New("lock already held")
)
