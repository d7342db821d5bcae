package service

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure. Transports map kinds to their own status codes.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindAuth:
		return "auth"
	default:
		return "internal"
	}
}

// Error is returned by services for every expected failure. Message is safe to
// show to clients; Err keeps the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, KindInternal for anything that is not an *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Client-facing messages.
const (
	MsgEmailTaken         = "Email already registered"
	MsgInvalidCredentials = "Invalid email or password"
	MsgUnauthorized       = "Could not validate credentials"
	MsgActiveCodeExists   = "User already has an active referral code"
	MsgCodeTaken          = "Referral code already taken"
	MsgNoActiveCode       = "No active referral code"
	MsgCodeNotFound       = "Referral code not found"
	MsgInvalidCode        = "Invalid or expired referral code"
	MsgNoReferrals        = "No referrals found"
)
