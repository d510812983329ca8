// Package faults classifies failures seen by the tracking core.
//
// Provider failures (RPC, enrichment, price) are transient and retried by the
// poller after a backoff. Store failures abort the current batch before the
// cursor moves. Missing market data or missing swap data is not an error at
// all and is represented by zero values.
package faults

import (
	"fmt"

	"github.com/pkg/errors"
)

// TransientProviderError is a failed or timed out call to an upstream provider.
type TransientProviderError struct {
	Provider string // "rpc", "helius", "dexscreener"
	Op       string
	Err      error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// PersistenceError is a failed store read or write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientProviderError. Nil stays nil.
func Transient(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientProviderError{Provider: provider, Op: op, Err: err}
}

// Persistence wraps err as a PersistenceError. Nil stays nil.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsTransient reports whether err is, or wraps, a TransientProviderError.
func IsTransient(err error) bool {
	var target *TransientProviderError
	return errors.As(err, &target)
}

// IsPersistence reports whether err is, or wraps, a PersistenceError.
func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

// Kind returns a short label for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsPersistence(err):
		return "persistence"
	case IsTransient(err):
		return "transient"
	default:
		return "unknown"
	}
}
