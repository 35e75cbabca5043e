package payment

import "errors"

// Module errors.
var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrEventExists      = errors.New("webhook event already recorded")
	ErrEventNotFound    = errors.New("webhook event not found")
)
