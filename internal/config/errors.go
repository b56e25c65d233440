package config

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig matches every *ValidationError.
	ErrInvalidConfig = errors.New("invalid configuration")

	errWrongType      = errors.New("wrong type")
	errUnknownValue   = errors.New("unknown value")
	errMustBePositive = errors.New("must be positive")
	errNegative       = errors.New("must not be negative")
)

// ValidationError reports a bad setting.
type ValidationError struct {
	Key   string
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s = %v: %v", e.Key, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrInvalidConfig) true for any ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidConfig }
