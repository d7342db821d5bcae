package model

import "time"

// ReferralCode is a code a user hands out to attribute new registrations to themselves.
// It is active while ExpirationDate is after now and can be redeemed up to and
// including ExpirationDate; the repository applies both checks in SQL.
type ReferralCode struct {
	ID             int64     `db:"id"`
	Code           string    `db:"code"`
	ExpirationDate time.Time `db:"expiration_date"`
	UserID         int64     `db:"user_id"`
}
