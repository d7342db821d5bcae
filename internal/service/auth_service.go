package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/SinaHo/referral-backend/internal/model"
	"github.com/SinaHo/referral-backend/internal/repository"
)

// AuthService defines business logic for authentication.
type AuthService interface {
	// Register creates a user and returns an access token for it.
	Register(ctx context.Context, email, password string) (string, error)
	// Login checks credentials and returns a fresh access token.
	Login(ctx context.Context, email, password string) (string, error)
	// Authenticate resolves a bearer token to the user it was issued for.
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

type authService struct {
	repo   repository.UserRepository
	hasher PasswordHasher
	tokens TokenService
}

// NewAuthService constructs a new AuthService.
func NewAuthService(repo repository.UserRepository, hasher PasswordHasher, tokens TokenService) AuthService {
	return &authService{
		repo:   repo,
		hasher: hasher,
		tokens: tokens,
	}
}

func (s *authService) Register(ctx context.Context, email, password string) (string, error) {
	if err := validateCredentials(email, password); err != nil {
		return "", err
	}

	existing, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", newError(KindConflict, MsgEmailTaken, nil)
	}

	u, err := createUser(ctx, s.repo, s.hasher, email, password, nil)
	if err != nil {
		return "", err
	}
	return s.tokens.Issue(u.ID, u.Email)
}

func (s *authService) Login(ctx context.Context, email, password string) (string, error) {
	if email == "" || password == "" {
		return "", newError(KindAuth, MsgInvalidCredentials, nil)
	}

	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	// Unknown email and wrong password look the same to the caller.
	if u == nil {
		return "", newError(KindAuth, MsgInvalidCredentials, repository.ErrUserNotFound)
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		return "", newError(KindAuth, MsgInvalidCredentials, errors.New("password mismatch"))
	}

	return s.tokens.Issue(u.ID, u.Email)
}

func (s *authService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, newError(KindAuth, MsgUnauthorized, ErrTokenMalformed)
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, newError(KindAuth, MsgUnauthorized, err)
	}

	u, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, newError(KindAuth, MsgUnauthorized, repository.ErrUserNotFound)
	}
	return u, nil
}

func validateCredentials(email, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return newError(KindValidation, "Email and password are required", nil)
	}
	if len(password) > MaxPasswordBytes {
		return newError(KindValidation, fmt.Sprintf("Password must be at most %d bytes", MaxPasswordBytes), nil)
	}
	return nil
}

// createUser hashes the password and stores the user, mapping a lost race on
// the email unique index to the same conflict the up-front check reports.
func createUser(
	ctx context.Context,
	repo repository.UserRepository,
	hasher PasswordHasher,
	email, password string,
	referrerID *int64,
) (*model.User, error) {
	hashed, err := hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u, err := repo.Create(ctx, email, hashed, referrerID)
	if err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, newError(KindConflict, MsgEmailTaken, err)
		}
		return nil, err
	}
	return u, nil
}
