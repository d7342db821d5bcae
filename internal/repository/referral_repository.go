package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/SinaHo/referral-backend/internal/model"
	"github.com/jmoiron/sqlx"
)

// ReferralRepository stores referral codes and enforces the
// one-active-code-per-user rule.
//
// "Active" (GetActiveByUser, Create, Delete) means expiration_date > now.
// "Valid" (GetValidByCode, used when a code is redeemed) means expiration_date >= now.
type ReferralRepository interface {
	// Create stores a code for userID. Returns ErrActiveCodeExists if the user
	// still has an active code and ErrCodeTaken if the code string is in use.
	Create(ctx context.Context, userID int64, code string, expirationDate time.Time) (*model.ReferralCode, error)

	// Delete removes the user's active code. Returns ErrNoActiveCode if there is none.
	Delete(ctx context.Context, userID int64) error

	// GetActiveByUser returns the user's active code, or (nil, nil).
	GetActiveByUser(ctx context.Context, userID int64) (*model.ReferralCode, error)

	// GetValidByCode returns the code if it can still be redeemed, or (nil, nil).
	GetValidByCode(ctx context.Context, code string) (*model.ReferralCode, error)

	// GetByOwnerEmail returns the first code owned by the user with this email,
	// expired or not, or (nil, nil) when either the user or the code is missing.
	GetByOwnerEmail(ctx context.Context, email string) (*model.ReferralCode, error)
}

type referralRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewReferralRepository constructs a ReferralRepository. now defaults to time.Now.
func NewReferralRepository(db *sqlx.DB, now func() time.Time) ReferralRepository {
	if now == nil {
		now = time.Now
	}
	return &referralRepository{db: db, now: now}
}

const referralColumns = `id, code, expiration_date, user_id`

func (r *referralRepository) Create(
	ctx context.Context,
	userID int64,
	code string,
	expirationDate time.Time,
) (*model.ReferralCode, error) {
	rc := model.ReferralCode{
		Code:           code,
		ExpirationDate: dbTime(expirationDate),
		UserID:         userID,
	}

	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := r.lockOwner(ctx, tx, userID); err != nil {
			return err
		}
		active, err := r.activeByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if active != nil {
			return ErrActiveCodeExists
		}

		query := tx.Rebind(`
			INSERT INTO referral_codes (code, expiration_date, user_id)
			VALUES (?, ?, ?)
			RETURNING id
		`)
		if err := tx.GetContext(ctx, &rc.ID, query, rc.Code, rc.ExpirationDate, rc.UserID); err != nil {
			if isUniqueViolation(err) {
				return ErrCodeTaken
			}
			return fmt.Errorf("error inserting referral code: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

func (r *referralRepository) Delete(ctx context.Context, userID int64) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := r.lockOwner(ctx, tx, userID); err != nil {
			return err
		}
		active, err := r.activeByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if active == nil {
			return ErrNoActiveCode
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM referral_codes WHERE id = ?`), active.ID); err != nil {
			return fmt.Errorf("error deleting referral code: %w", err)
		}
		return nil
	})
}

func (r *referralRepository) GetActiveByUser(ctx context.Context, userID int64) (*model.ReferralCode, error) {
	return r.activeByUser(ctx, r.db, userID)
}

func (r *referralRepository) GetValidByCode(ctx context.Context, code string) (*model.ReferralCode, error) {
	query := `SELECT ` + referralColumns + ` FROM referral_codes WHERE code = ? AND expiration_date >= ?`
	rc, err := getReferralCode(ctx, r.db, query, code, dbTime(r.now()))
	if err != nil {
		return nil, fmt.Errorf("error selecting referral code by code: %w", err)
	}
	return rc, nil
}

func (r *referralRepository) GetByOwnerEmail(ctx context.Context, email string) (*model.ReferralCode, error) {
	query := `
		SELECT rc.id, rc.code, rc.expiration_date, rc.user_id
		FROM referral_codes rc
		JOIN users u ON u.id = rc.user_id
		WHERE u.email = ?
		ORDER BY rc.id
		LIMIT 1
	`
	rc, err := getReferralCode(ctx, r.db, query, email)
	if err != nil {
		return nil, fmt.Errorf("error selecting referral code by owner email: %w", err)
	}
	return rc, nil
}

func (r *referralRepository) activeByUser(ctx context.Context, q sqlx.ExtContext, userID int64) (*model.ReferralCode, error) {
	query := `
		SELECT ` + referralColumns + `
		FROM referral_codes
		WHERE user_id = ? AND expiration_date > ?
		ORDER BY id
		LIMIT 1
	`
	rc, err := getReferralCode(ctx, q, query, userID, dbTime(r.now()))
	if err != nil {
		return nil, fmt.Errorf("error selecting active referral code: %w", err)
	}
	return rc, nil
}

// lockOwner takes a row lock on the owning user so concurrent create/delete
// calls for the same user run one after another. SQLite has a single writer
// connection, so the plain select there only checks the user exists.
func (r *referralRepository) lockOwner(ctx context.Context, tx *sqlx.Tx, userID int64) error {
	query := `SELECT id FROM users WHERE id = ?`
	if tx.DriverName() == "postgres" {
		query += ` FOR UPDATE`
	}
	var id int64
	if err := tx.GetContext(ctx, &id, tx.Rebind(query), userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("error locking user: %w", err)
	}
	return nil
}

func getReferralCode(ctx context.Context, q sqlx.ExtContext, query string, args ...interface{}) (*model.ReferralCode, error) {
	var rc model.ReferralCode
	if err := sqlx.GetContext(ctx, q, &rc, q.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rc.ExpirationDate = rc.ExpirationDate.UTC()
	return &rc, nil
}
