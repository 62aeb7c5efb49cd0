package types

import "errors"

// ErrInvalidInput is returned when input is rejected by validation before any
// side effect takes place (e.g. a blank query text, a missing id).
var ErrInvalidInput = errors.New("invalid input")
