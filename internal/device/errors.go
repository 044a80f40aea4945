package device

import "errors"

// Domain errors for the device package.
var (
	// ErrInvalidHistory is returned when a history request or record fails validation.
	ErrInvalidHistory = errors.New("device: invalid history request")
)
