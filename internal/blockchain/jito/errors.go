// internal/blockchain/jito/errors.go
package jito

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingSigner is returned when a transaction needs a signature the relay's wallet cannot provide.
	ErrMissingSigner = errors.New("transaction requires a signer that is not available")

	ErrNoTipAccounts = errors.New("no tip accounts available")

	// ErrCannotRecompile: the last transaction cannot be rebuilt with a tip instruction
	// (unresolved lookup tables, foreign signers).
	ErrCannotRecompile = errors.New("transaction cannot be recompiled with a tip instruction")

	ErrEmptyBundle = errors.New("bundle has no transactions")
)

// Error is a block engine failure with its request context.
type Error struct {
	Err    error
	URL    string
	Method string
}

func (e *Error) Error() string {
	return fmt.Sprintf("block engine error [%s] at %s: %v", e.Method, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
