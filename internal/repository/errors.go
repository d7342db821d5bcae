package repository

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

var (
	// ErrEmailTaken is returned when a user with the same email already exists.
	ErrEmailTaken = errors.New("email already registered")

	// ErrUserNotFound is returned when an operation needs a user that does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrCodeTaken is returned when the referral code string is already in use.
	ErrCodeTaken = errors.New("referral code already taken")

	// ErrActiveCodeExists is returned when the user already owns an active referral code.
	ErrActiveCodeExists = errors.New("user already has an active referral code")

	// ErrNoActiveCode is returned when the user has no active referral code to delete.
	ErrNoActiveCode = errors.New("no active referral code")
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
