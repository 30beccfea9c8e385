// Package common defines shared constants and sentinel errors used across
// client and server layers of hako. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound  = errors.New("not found")
	ErrorDuplicate = errors.New("already exists")

	// Validation errors: malformed field sizes, out-of-order or duplicate
	// sequence numbers. Never retried.
	ErrorValidation = errors.New("validation error")

	// ErrorNotReady rejects reads of a file whose upload has not finalized.
	ErrorNotReady = errors.New("upload not complete")

	// ErrorConflict signals a concurrent writer on the same file.
	ErrorConflict = errors.New("conflicting upload in progress")

	// ErrorIntegrity signals AEAD authentication failure or a misplaced
	// last-chunk flag. No partial plaintext is ever released alongside it.
	ErrorIntegrity = errors.New("integrity error")

	// ErrorStorage wraps persistence failures that abort the session.
	ErrorStorage = errors.New("storage error")
)
