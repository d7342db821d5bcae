package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SinaHo/referral-backend/internal/model"
	"github.com/SinaHo/referral-backend/internal/repository"
)

// MaxCodeLength bounds user-supplied referral codes.
const MaxCodeLength = 64

// CodeCache caches referral-code lookups by owner email. Implementations
// handle their own errors; a failed Get is a miss.
//
// Every entry is guarded by a per-owner version. Get reports the version seen
// alongside a miss, Invalidate bumps it, and Set only stores when the version
// is still the one passed in, so a lookup that raced a create or delete
// cannot put the old result back.
type CodeCache interface {
	Get(ctx context.Context, email string) (code *model.ReferralCode, version int64, hit bool)
	Set(ctx context.Context, email string, version int64, code *model.ReferralCode)
	Invalidate(ctx context.Context, email string)
}

// ReferralService defines the referral-code use cases.
type ReferralService interface {
	CreateCode(ctx context.Context, owner *model.User, code string, expirationDate time.Time) (*model.ReferralCode, error)
	DeleteCode(ctx context.Context, owner *model.User) error
	GetCodeByEmail(ctx context.Context, email string) (*model.ReferralCode, error)
	RegisterWithReferral(ctx context.Context, email, password, referralCode string) (*model.User, error)
	ListReferrals(ctx context.Context, referrerID int64) ([]model.User, error)
}

type referralService struct {
	users     repository.UserRepository
	referrals repository.ReferralRepository
	hasher    PasswordHasher
	cache     CodeCache
	now       func() time.Time
}

// NewReferralService constructs a ReferralService. cache may be nil; now defaults to time.Now.
func NewReferralService(
	users repository.UserRepository,
	referrals repository.ReferralRepository,
	hasher PasswordHasher,
	cache CodeCache,
	now func() time.Time,
) ReferralService {
	if cache == nil {
		cache = noopCache{}
	}
	if now == nil {
		now = time.Now
	}
	return &referralService{
		users:     users,
		referrals: referrals,
		hasher:    hasher,
		cache:     cache,
		now:       now,
	}
}

func (s *referralService) CreateCode(
	ctx context.Context,
	owner *model.User,
	code string,
	expirationDate time.Time,
) (*model.ReferralCode, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, newError(KindValidation, "Referral code is required", nil)
	}
	if len(code) > MaxCodeLength {
		return nil, newError(KindValidation, fmt.Sprintf("Referral code must be at most %d characters", MaxCodeLength), nil)
	}
	if !expirationDate.After(s.now()) {
		return nil, newError(KindValidation, "Expiration date must be in the future", nil)
	}

	rc, err := s.referrals.Create(ctx, owner.ID, code, expirationDate)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrActiveCodeExists):
			return nil, newError(KindConflict, MsgActiveCodeExists, err)
		case errors.Is(err, repository.ErrCodeTaken):
			return nil, newError(KindConflict, MsgCodeTaken, err)
		case errors.Is(err, repository.ErrUserNotFound):
			return nil, newError(KindAuth, MsgUnauthorized, err)
		}
		return nil, err
	}

	s.cache.Invalidate(ctx, owner.Email)
	return rc, nil
}

func (s *referralService) DeleteCode(ctx context.Context, owner *model.User) error {
	if err := s.referrals.Delete(ctx, owner.ID); err != nil {
		switch {
		case errors.Is(err, repository.ErrNoActiveCode):
			return newError(KindNotFound, MsgNoActiveCode, err)
		case errors.Is(err, repository.ErrUserNotFound):
			return newError(KindAuth, MsgUnauthorized, err)
		}
		return err
	}

	s.cache.Invalidate(ctx, owner.Email)
	return nil
}

// GetCodeByEmail returns the first code owned by email, without regard to expiry.
func (s *referralService) GetCodeByEmail(ctx context.Context, email string) (*model.ReferralCode, error) {
	rc, version, hit := s.cache.Get(ctx, email)
	if hit {
		return rc, nil
	}

	rc, err := s.referrals.GetByOwnerEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, newError(KindNotFound, MsgCodeNotFound, nil)
	}

	s.cache.Set(ctx, email, version, rc)
	return rc, nil
}

func (s *referralService) RegisterWithReferral(ctx context.Context, email, password, referralCode string) (*model.User, error) {
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, newError(KindConflict, MsgEmailTaken, nil)
	}

	var referrerID *int64
	if code := strings.TrimSpace(referralCode); code != "" {
		rc, err := s.referrals.GetValidByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if rc == nil {
			return nil, newError(KindValidation, MsgInvalidCode, nil)
		}

		referrer, err := s.users.GetByID(ctx, rc.UserID)
		if err != nil {
			return nil, err
		}
		if referrer == nil {
			return nil, newError(KindValidation, MsgInvalidCode, repository.ErrUserNotFound)
		}
		referrerID = &referrer.ID
	}

	return createUser(ctx, s.users, s.hasher, email, password, referrerID)
}

func (s *referralService) ListReferrals(ctx context.Context, referrerID int64) ([]model.User, error) {
	if referrerID <= 0 {
		return nil, newError(KindValidation, "Referrer id must be a positive integer", nil)
	}

	users, err := s.users.ListReferrals(ctx, referrerID)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, newError(KindNotFound, MsgNoReferrals, nil)
	}
	return users, nil
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (*model.ReferralCode, int64, bool) { return nil, 0, false }
func (noopCache) Set(context.Context, string, int64, *model.ReferralCode) {}
func (noopCache) Invalidate(context.Context, string) {}
