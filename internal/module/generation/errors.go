package generation

import "errors"

// Module errors.
var (
	ErrUnknownModelVersion = errors.New("unknown model version")
	ErrProviderUnavailable = errors.New("generation provider unavailable")
	ErrEmptyPrompt         = errors.New("prompt must not be empty")
)
