package accounting

import "errors"

var (
	ErrNotFound         = errors.New("document not found")
	ErrUnbalanced       = errors.New("entry is not balanced")
	ErrNotPosted        = errors.New("document is not posted")
	ErrAlreadyPosted    = errors.New("document is already posted")
	ErrNothingToSettle  = errors.New("no opposite-sign residual to settle")
	ErrMixedLines       = errors.New("reconcile lines must share account and partner")
	ErrNoOutboundMethod = errors.New("journal has no outbound payment method")
	ErrUnknownJournal   = errors.New("unknown journal")
	ErrUnknownAccount   = errors.New("unknown account")
	ErrUnknownTax       = errors.New("unknown tax")
	ErrUnknownCurrency  = errors.New("unknown currency")
	ErrUnknownPartner   = errors.New("unknown partner")
)
