package credits

import "errors"

// Module errors.
var (
	ErrAccountNotFound     = errors.New("credit account not found")
	ErrTransactionNotFound = errors.New("payment transaction not found")
	ErrInvalidCreditAmount = errors.New("credit amount must be positive")
	ErrMissingSessionID    = errors.New("payment session id is required")
	ErrLockTimeout         = errors.New("ledger lock timeout")
)
