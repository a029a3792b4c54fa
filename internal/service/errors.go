package service

import "errors"

var (
	// ErrNotFound: the referenced contract, liquidation or document
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation: bad input rejected before any side effect.
	ErrValidation = errors.New("validation failed")

	// ErrConfiguration: a required account/journal/tax mapping is
	// missing. Not retryable.
	ErrConfiguration = errors.New("missing configuration")

	// ErrConflict: a concurrent writer consumed the availability this
	// operation was validated against. Retryable after a re-fetch.
	ErrConflict = errors.New("conflicting concurrent update")

	// ErrPostingFailed: the accounting collaborator rejected the entry;
	// the whole operation was rolled back.
	ErrPostingFailed = errors.New("posting failed")

	ErrPermissionDenied = errors.New("permission denied")
)
