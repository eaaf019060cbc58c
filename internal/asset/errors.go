package asset

import (
	"context"
	"errors"
)

// Error taxonomy shared by every pipeline stage.
var (
	ErrNotFound            = errors.New("not found")
	ErrUnavailable         = errors.New("unavailable")
	ErrTimeout             = errors.New("timeout")
	ErrStaleProof          = errors.New("stale proof")
	ErrInvalidProof        = errors.New("invalid proof")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUserCancelled       = errors.New("user cancelled")
	ErrSubmissionRejected  = errors.New("submission rejected")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidSignature    = errors.New("invalid signature")
)

// codes maps each taxonomy error to its stable result code.
// Order matters: the first match wins.
var codes = []struct {
	err  error
	code string
}{
	{ErrUserCancelled, "UserCancelled"},
	{ErrConfirmationTimeout, "ConfirmationTimeout"},
	{ErrSubmissionRejected, "SubmissionRejected"},
	{ErrStaleProof, "StaleProof"},
	{ErrInvalidProof, "InvalidProof"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrInvalidSignature, "InvalidSignature"},
	{ErrNotFound, "NotFound"},
	{ErrTimeout, "Timeout"},
	{ErrUnavailable, "Unavailable"},
}

// Code returns the taxonomy code for err, or "Internal" when unclassified.
// A bare context deadline is reported as Timeout.
func Code(err error) string {
	if err == nil {
		return ""
	}

	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "Timeout"
	}

	return "Internal"
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsStaleProof reports whether err is a StaleProof error.
func IsStaleProof(err error) bool { return errors.Is(err, ErrStaleProof) }
