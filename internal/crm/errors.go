package crm

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the media endpoint no longer holds the
// requested identifier, e.g. after a delete.
var ErrNotFound = errors.New("media object not found")

// AuthError means the credential exchange failed. It is fatal for a sync
// run: the run aborts immediately and the ledger cursor is left untouched.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authenticate: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// TransportError means a data call failed at the network or HTTP level after
// retries. It is fatal for the current run but retry-safe: the last good
// cursor is preserved.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// apiError is a non-zero errcode in an otherwise successful HTTP exchange.
type apiError struct {
	Code    int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}
