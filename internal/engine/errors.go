package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned when the input token is not one of the
	// pool's two tokens.
	ErrInvalidToken = errors.New("engine: token not in pool")
	// ErrInsufficientLiquidity is returned when a swap is requested against an
	// empty or one-sided pool.
	ErrInsufficientLiquidity = errors.New("engine: insufficient liquidity")
	// ErrInsufficientShares is returned when a withdrawal exceeds the
	// caller's position.
	ErrInsufficientShares = errors.New("engine: insufficient shares")
)

// ValidationError rejects a malformed request before any state is read.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("engine: invalid %s: %s", e.Field, e.Reason)
}

func errValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
