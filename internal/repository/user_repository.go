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

// UserRepository defines the methods we need for storing and retrieving users.
type UserRepository interface {
	Create(ctx context.Context, email, passwordHash string, referrerID *int64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	ListReferrals(ctx context.Context, referrerID int64) ([]model.User, error)
}

type userRepository struct {
	db *sqlx.DB
}

// NewUserRepository constructs a new UserRepository backed by a sqlx.DB.
func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, email, password_hash, created_at, referrer_id`

// Create inserts a new user. The unique index on email backs up the
// caller's own existence check; a violation comes back as ErrEmailTaken.
func (r *userRepository) Create(
	ctx context.Context,
	email, passwordHash string,
	referrerID *int64,
) (*model.User, error) {
	u := model.User{
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    dbTime(time.Now()),
		ReferrerID:   referrerID,
	}

	query := r.db.Rebind(`
		INSERT INTO users (email, password_hash, created_at, referrer_id)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`)
	err := r.db.GetContext(ctx, &u.ID, query, u.Email, u.PasswordHash, u.CreatedAt, u.ReferrerID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("error inserting user: %w", err)
	}
	return &u, nil
}

// GetByEmail fetches a user row by its email. Returns (nil, nil) if not found.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`
	u, err := r.getOne(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("error selecting user by email: %w", err)
	}
	return u, nil
}

// GetByID fetches a user row by id. Returns (nil, nil) if not found.
func (r *userRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	u, err := r.getOne(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("error selecting user by id: %w", err)
	}
	return u, nil
}

// ListReferrals returns the users referred by referrerID in registration order.
func (r *userRepository) ListReferrals(ctx context.Context, referrerID int64) ([]model.User, error) {
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE referrer_id = ? ORDER BY id`)
	users := []model.User{}
	if err := r.db.SelectContext(ctx, &users, query, referrerID); err != nil {
		return nil, fmt.Errorf("error selecting referrals: %w", err)
	}
	for i := range users {
		users[i].CreatedAt = users[i].CreatedAt.UTC()
	}
	return users, nil
}

func (r *userRepository) getOne(ctx context.Context, query string, args ...interface{}) (*model.User, error) {
	var u model.User
	if err := r.db.GetContext(ctx, &u, r.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}
