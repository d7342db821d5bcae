package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SinaHo/referral-backend/internal/handler"
	"github.com/SinaHo/referral-backend/internal/middleware"
	"github.com/SinaHo/referral-backend/internal/model"
	"github.com/SinaHo/referral-backend/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockAuthService implements the AuthService interface for handler tests.
type mockAuthService struct {
	// captured inputs
	gotEmail    string
	gotPassword string
	// control fields
	registerToken string
	registerError error
	loginToken    string
	loginError    error
	user          *model.User
}

func (m *mockAuthService) Register(ctx context.Context, email, password string) (string, error) {
	m.gotEmail, m.gotPassword = email, password
	return m.registerToken, m.registerError
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (string, error) {
	m.gotEmail, m.gotPassword = email, password
	return m.loginToken, m.loginError
}

func (m *mockAuthService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if m.user == nil || token != "valid" {
		return nil, &service.Error{Kind: service.KindAuth, Message: service.MsgUnauthorized, Err: service.ErrTokenMalformed}
	}
	return m.user, nil
}

// mockReferralService implements the ReferralService interface for handler tests.
type mockReferralService struct {
	gotOwner      *model.User
	gotCode       string
	gotExpiration time.Time
	gotEmail      string
	gotPassword   string
	gotReferrerID int64

	createResult   *model.ReferralCode
	createError    error
	deleteError    error
	byEmailResult  *model.ReferralCode
	byEmailError   error
	registerResult *model.User
	registerError  error
	listResult     []model.User
	listError      error
}

func (m *mockReferralService) CreateCode(ctx context.Context, owner *model.User, code string, exp time.Time) (*model.ReferralCode, error) {
	m.gotOwner, m.gotCode, m.gotExpiration = owner, code, exp
	if m.createError != nil {
		return nil, m.createError
	}
	if m.createResult != nil {
		return m.createResult, nil
	}
	return &model.ReferralCode{ID: 1, Code: code, ExpirationDate: exp, UserID: owner.ID}, nil
}

func (m *mockReferralService) DeleteCode(ctx context.Context, owner *model.User) error {
	m.gotOwner = owner
	return m.deleteError
}

func (m *mockReferralService) GetCodeByEmail(ctx context.Context, email string) (*model.ReferralCode, error) {
	m.gotEmail = email
	return m.byEmailResult, m.byEmailError
}

func (m *mockReferralService) RegisterWithReferral(ctx context.Context, email, password, code string) (*model.User, error) {
	m.gotEmail, m.gotPassword, m.gotCode = email, password, code
	if m.registerError != nil {
		return nil, m.registerError
	}
	return m.registerResult, nil
}

func (m *mockReferralService) ListReferrals(ctx context.Context, referrerID int64) ([]model.User, error) {
	m.gotReferrerID = referrerID
	return m.listResult, m.listError
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(ctx context.Context) error { return p.err }

func newRouter(auth *mockAuthService, referrals *mockReferralService, db handler.Pinger) *gin.Engine {
	if auth == nil {
		auth = &mockAuthService{}
	}
	if referrals == nil {
		referrals = &mockReferralService{}
	}
	if db == nil {
		db = fakePinger{}
	}
	r := gin.New()
	handler.RegisterRoutes(r,
		handler.NewAuthHandler(auth),
		handler.NewReferralHandler(referrals),
		handler.NewHealthHandler(db),
		middleware.RequireAuth(nopLogger, auth),
	)
	return r
}

func do(r http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var (
	errDB     = errors.New("connection reset by peer")
	nopLogger = zap.NewNop().Sugar()
)
