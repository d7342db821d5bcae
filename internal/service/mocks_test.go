package service_test

import (
	"context"
	"time"

	"github.com/SinaHo/referral-backend/internal/model"
)

// mockUserRepo implements repository.UserRepository for unit testing
type mockUserRepo struct {
	// capture inputs
	createdEmail        string
	createdPasswordHash string
	createdReferrerID   *int64
	createCalls         int
	getByEmailInput     string
	getByIDInput        int64
	listInput           int64
	// control outputs
	createResult    *model.User
	createError     error
	getByEmailUser  *model.User
	getByEmailError error
	getByIDUser     *model.User
	getByIDError    error
	listResult      []model.User
	listError       error
}

func (m *mockUserRepo) Create(ctx context.Context, email, passwordHash string, referrerID *int64) (*model.User, error) {
	m.createCalls++
	m.createdEmail = email
	m.createdPasswordHash = passwordHash
	m.createdReferrerID = referrerID
	if m.createError != nil {
		return nil, m.createError
	}
	if m.createResult != nil {
		return m.createResult, nil
	}
	return &model.User{ID: 1, Email: email, PasswordHash: passwordHash, ReferrerID: referrerID}, nil
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	m.getByEmailInput = email
	if m.getByEmailError != nil {
		return nil, m.getByEmailError
	}
	return m.getByEmailUser, nil
}

func (m *mockUserRepo) GetByID(ctx context.Context, id int64) (*model.User, error) {
	m.getByIDInput = id
	if m.getByIDError != nil {
		return nil, m.getByIDError
	}
	return m.getByIDUser, nil
}

func (m *mockUserRepo) ListReferrals(ctx context.Context, referrerID int64) ([]model.User, error) {
	m.listInput = referrerID
	if m.listError != nil {
		return nil, m.listError
	}
	return m.listResult, nil
}

// mockReferralRepo implements repository.ReferralRepository for unit testing
type mockReferralRepo struct {
	createdUserID     int64
	createdCode       string
	createdExpiration time.Time
	deletedUserID     int64
	validCodeInput    string
	ownerEmailInput   string
	ownerEmailCalls   int

	createResult  *model.ReferralCode
	createError   error
	deleteError   error
	activeResult  *model.ReferralCode
	validResult   *model.ReferralCode
	validError    error
	byOwnerResult *model.ReferralCode
	byOwnerError  error

	// afterOwnerLookup runs once GetByOwnerEmail has read its result, standing
	// in for work another request commits before the lookup returns.
	afterOwnerLookup func()
}

func (m *mockReferralRepo) Create(ctx context.Context, userID int64, code string, expirationDate time.Time) (*model.ReferralCode, error) {
	m.createdUserID = userID
	m.createdCode = code
	m.createdExpiration = expirationDate
	if m.createError != nil {
		return nil, m.createError
	}
	if m.createResult != nil {
		return m.createResult, nil
	}
	return &model.ReferralCode{ID: 1, Code: code, ExpirationDate: expirationDate, UserID: userID}, nil
}

func (m *mockReferralRepo) Delete(ctx context.Context, userID int64) error {
	m.deletedUserID = userID
	return m.deleteError
}

func (m *mockReferralRepo) GetActiveByUser(ctx context.Context, userID int64) (*model.ReferralCode, error) {
	return m.activeResult, nil
}

func (m *mockReferralRepo) GetValidByCode(ctx context.Context, code string) (*model.ReferralCode, error) {
	m.validCodeInput = code
	if m.validError != nil {
		return nil, m.validError
	}
	return m.validResult, nil
}

func (m *mockReferralRepo) GetByOwnerEmail(ctx context.Context, email string) (*model.ReferralCode, error) {
	m.ownerEmailCalls++
	m.ownerEmailInput = email
	if m.byOwnerError != nil {
		return nil, m.byOwnerError
	}
	rc := m.byOwnerResult
	if m.afterOwnerLookup != nil {
		m.afterOwnerLookup()
	}
	return rc, nil
}

// fakeCache is an in-memory service.CodeCache
type fakeCache struct {
	entries     map[string]*model.ReferralCode
	versions    map[string]int64
	invalidated []string
	staleSets   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]*model.ReferralCode{}, versions: map[string]int64{}}
}

func (c *fakeCache) Get(ctx context.Context, email string) (*model.ReferralCode, int64, bool) {
	rc, ok := c.entries[email]
	return rc, c.versions[email], ok
}

func (c *fakeCache) Set(ctx context.Context, email string, version int64, code *model.ReferralCode) {
	if c.versions[email] != version {
		c.staleSets++
		return
	}
	c.entries[email] = code
}

func (c *fakeCache) Invalidate(ctx context.Context, email string) {
	c.invalidated = append(c.invalidated, email)
	c.versions[email]++
	delete(c.entries, email)
}
