package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/SinaHo/referral-backend/internal/config"
	"github.com/SinaHo/referral-backend/internal/server"
	"github.com/SinaHo/referral-backend/internal/service"
)

const testSigningKey = "integration-secret"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Mode:            "test",
			ShutdownTimeout: 5 * time.Second,
		},
		Database: config.DatabaseConfig{
			Driver: config.DriverSQLite,
			Path:   filepath.Join(t.TempDir(), "referrals.db"),
		},
		JWT:      config.JWTConfig{SigningKey: testSigningKey, TokenTTL: 24 * time.Hour},
		Security: config.SecurityConfig{BcryptCost: bcrypt.MinCost},
	}
}

func newTestServer(t *testing.T) *server.AppServer {
	t.Helper()
	app, err := server.NewAppServer(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(app.GracefulStop)
	return app
}

type client struct {
	t    *testing.T
	base string
}

func (c client) call(method, path string, body interface{}, token string) (int, []byte) {
	c.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, out
}

func (c client) token(path, email, password string) string {
	c.t.Helper()
	code, body := c.call(http.MethodPost, path, map[string]string{"email": email, "password": password}, "")
	require.Equal(c.t, http.StatusOK, code, string(body))
	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(c.t, json.Unmarshal(body, &resp))
	assert.Equal(c.t, "bearer", resp.TokenType)
	return resp.AccessToken
}

func userIDFromToken(t *testing.T, token string) int64 {
	t.Helper()
	tokens, err := service.NewTokenService(testSigningKey, time.Hour, nil)
	require.NoError(t, err)
	claims, err := tokens.Verify(token)
	require.NoError(t, err)
	return claims.UserID
}

// TestReferralFlow registers alice, lets her create ALICE10, registers bob
// with it and checks bob shows up as alice's referral.
func TestReferralFlow(t *testing.T) {
	app := newTestServer(t)
	ts := httptest.NewServer(app.Handler())
	defer ts.Close()
	c := client{t: t, base: ts.URL}

	aliceToken := c.token("/auth/register", "alice@example.com", "pw1")
	aliceID := userIDFromToken(t, aliceToken)

	code, body := c.call(http.MethodPost, "/auth/register", map[string]string{"email": "alice@example.com", "password": "pw1"}, "")
	assert.Equal(t, http.StatusBadRequest, code, string(body))

	loginToken := c.token("/auth/login", "alice@example.com", "pw1")
	assert.Equal(t, aliceID, userIDFromToken(t, loginToken))

	code, body = c.call(http.MethodPost, "/auth/login", map[string]string{"email": "alice@example.com", "password": "nope"}, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.JSONEq(t, `{"detail":"Invalid email or password"}`, string(body))

	expiration := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Second)
	create := map[string]string{"code": "ALICE10", "expiration_date": expiration.Format(time.RFC3339)}

	code, _ = c.call(http.MethodPost, "/referral-code/create", create, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = c.call(http.MethodPost, "/referral-code/create", create, aliceToken)
	require.Equal(t, http.StatusOK, code, string(body))
	assert.JSONEq(t, fmt.Sprintf(`{"message":"Referral code created","code":"ALICE10","expiration_date":%q}`,
		expiration.Format(time.RFC3339)), string(body))

	code, body = c.call(http.MethodPost, "/referral-code/create",
		map[string]string{"code": "ALICE11", "expiration_date": expiration.Format(time.RFC3339)}, aliceToken)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.JSONEq(t, `{"detail":"User already has an active referral code"}`, string(body))

	code, body = c.call(http.MethodGet, "/referral-code/alice@example.com", nil, "")
	require.Equal(t, http.StatusOK, code, string(body))
	assert.JSONEq(t, fmt.Sprintf(`{"code":"ALICE10","expiration_date":%q}`, expiration.Format("2006-01-02")), string(body))

	code, body = c.call(http.MethodPost, "/register-with-referral", map[string]string{
		"email": "bob@example.com", "password": "pw2", "referral_code": "ALICE10",
	}, "")
	require.Equal(t, http.StatusOK, code, string(body))
	var registered struct {
		Message string `json:"message"`
		UserID  int64  `json:"user_id"`
	}
	require.NoError(t, json.Unmarshal(body, &registered))
	assert.NotZero(t, registered.UserID)

	code, body = c.call(http.MethodPost, "/register-with-referral", map[string]string{
		"email": "carol@example.com", "password": "pw3", "referral_code": "BOGUS",
	}, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.JSONEq(t, `{"detail":"Invalid or expired referral code"}`, string(body))

	code, body = c.call(http.MethodGet, fmt.Sprintf("/referrals/%d", aliceID), nil, "")
	require.Equal(t, http.StatusOK, code, string(body))
	assert.JSONEq(t, fmt.Sprintf(`[{"id":%d,"email":"bob@example.com","referrer_id":%d}]`, registered.UserID, aliceID), string(body))

	code, _ = c.call(http.MethodGet, fmt.Sprintf("/referrals/%d", registered.UserID), nil, "")
	assert.Equal(t, http.StatusNotFound, code)

	// bob can log in with the password he registered with
	c.token("/auth/login", "bob@example.com", "pw2")

	code, body = c.call(http.MethodDelete, "/referral-code/delete", nil, aliceToken)
	assert.Equal(t, http.StatusOK, code, string(body))
	code, _ = c.call(http.MethodDelete, "/referral-code/delete", nil, aliceToken)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = c.call(http.MethodGet, "/referral-code/alice@example.com", nil, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = c.call(http.MethodPost, "/referral-code/create",
		map[string]string{"code": "ALICE11", "expiration_date": expiration.Format(time.RFC3339)}, aliceToken)
	assert.Equal(t, http.StatusOK, code, string(body))
}

func TestCachedLookupFollowsDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.CacheTTL = time.Hour

	app, err := server.NewAppServer(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(app.GracefulStop)
	ts := httptest.NewServer(app.Handler())
	defer ts.Close()
	c := client{t: t, base: ts.URL}

	token := c.token("/auth/register", "alice@example.com", "pw1")
	expiration := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	code, body := c.call(http.MethodPost, "/referral-code/create",
		map[string]string{"code": "ALICE10", "expiration_date": expiration.Format(time.RFC3339)}, token)
	require.Equal(t, http.StatusOK, code, string(body))

	code, _ = c.call(http.MethodGet, "/referral-code/alice@example.com", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, mr.Exists("referral_code:owner:alice@example.com"))

	code, _ = c.call(http.MethodDelete, "/referral-code/delete", nil, token)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, mr.Exists("referral_code:owner:alice@example.com"))

	code, _ = c.call(http.MethodGet, "/referral-code/alice@example.com", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestTokenForDeletedOrForeignKey(t *testing.T) {
	app := newTestServer(t)
	ts := httptest.NewServer(app.Handler())
	defer ts.Close()
	c := client{t: t, base: ts.URL}

	other, err := service.NewTokenService("some-other-key", time.Hour, nil)
	require.NoError(t, err)
	forged, err := other.Issue(1, "alice@example.com")
	require.NoError(t, err)

	code, _ := c.call(http.MethodDelete, "/referral-code/delete", nil, forged)
	assert.Equal(t, http.StatusUnauthorized, code)

	// correctly signed, but for a user that does not exist
	tokens, err := service.NewTokenService(testSigningKey, time.Hour, nil)
	require.NoError(t, err)
	ghost, err := tokens.Issue(999, "ghost@example.com")
	require.NoError(t, err)

	code, body := c.call(http.MethodDelete, "/referral-code/delete", nil, ghost)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.JSONEq(t, `{"detail":"Could not validate credentials"}`, string(body))
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestServer(t)
	ts := httptest.NewServer(app.Handler())
	defer ts.Close()
	c := client{t: t, base: ts.URL}

	code, body := c.call(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"healthy"}`, string(body))

	code, body = c.call(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(string(body), `referral_api_http_requests_total{method="GET",route="/health",status="200"} 1`), string(body))
}

func TestGRPCHealth(t *testing.T) {
	app := newTestServer(t)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.ServeGRPC(lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hc := healthpb.NewHealthClient(conn)

	for _, name := range []string{"", server.ServiceName} {
		resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: name})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
	}

	_, err = hc.Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestNewAppServer_BadDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "oracle"

	_, err := server.NewAppServer(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNewAppServer_RedisUnavailable(t *testing.T) {
	cfg := testConfig(t)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Redis.Addr = lis.Addr().String()
	lis.Close()

	app, err := server.NewAppServer(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err, "redis is optional")
	app.GracefulStop()
}
