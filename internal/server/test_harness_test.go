package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"keyi/apps/backend/internal/config"
	"keyi/apps/backend/internal/db"
)

var (
	testPool              *pgxpool.Pool
	baseTestConfig        config.Config
	integrationDBReady    bool
	integrationSkipReason string
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	baseTestConfig = newTestConfig()

	testDatabaseURL := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if testDatabaseURL == "" {
		integrationSkipReason = "integration tests skipped: TEST_DATABASE_URL is not set"
		fmt.Fprintln(os.Stderr, integrationSkipReason)
		os.Exit(m.Run())
	}
	testDatabaseURL = withSimpleProtocol(testDatabaseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.Connect(ctx, testDatabaseURL)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "integration test setup failed: cannot connect TEST_DATABASE_URL: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	err = db.Migrate(ctx, pool)
	cancel()
	if err != nil {
		pool.Close()
		fmt.Fprintf(os.Stderr, "integration test setup failed: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	err = ValidateRuntimeSchema(ctx, pool)
	cancel()
	if err != nil {
		pool.Close()
		fmt.Fprintf(os.Stderr, "integration test setup failed: %v\n", err)
		os.Exit(1)
	}

	testPool = pool
	integrationDBReady = true

	exitCode := m.Run()
	testPool.Close()
	os.Exit(exitCode)
}

func withSimpleProtocol(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	queries := parsed.Query()
	queries.Set("default_query_exec_mode", "simple_protocol")
	parsed.RawQuery = queries.Encode()
	return parsed.String()
}

func newTestConfig() config.Config {
	cfg := config.Config{
		AppEnv:               "test",
		AppName:              "Keyi API Test",
		APIPrefix:            "/api/v1",
		AppPort:              "0",
		DatabaseURL:          "test",
		JWTSecret:            "test-secret-1234567890",
		JWTAlgorithm:         "HS256",
		JWTAudience:          "authenticated",
		AuthAutoCreateUser:   true,
		AllowAnonymous:       true,
		LLMModel:             "mock-model",
		ChatHistoryTurns:     10,
		AlertCooldownMinutes: 30,
		CORSAllowOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
			"http://localhost:3000",
		},
	}

	if v := strings.TrimSpace(os.Getenv("TEST_JWT_SECRET")); v != "" {
		cfg.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("TEST_JWT_AUDIENCE")); v != "" {
		cfg.JWTAudience = v
	}
	if v := strings.TrimSpace(os.Getenv("TEST_JWT_ISSUER")); v != "" {
		cfg.JWTIssuer = v
	}
	return cfg
}

func requireIntegration(t *testing.T) {
	t.Helper()
	if !integrationDBReady {
		if integrationSkipReason == "" {
			integrationSkipReason = "integration tests skipped: TEST_DATABASE_URL is not configured"
		}
		t.Skip(integrationSkipReason)
	}
}

// newUnitRouter builds a router without a database. Only routes that never
// touch storage for the caller in question may be exercised with it.
func newUnitRouter(t *testing.T, cfg config.Config, opts ...Option) *gin.Engine {
	t.Helper()
	defaults := []Option{
		WithAIClient(MockAIClient{}),
		WithIdentityProvider(&fakeIdentityProvider{}),
	}
	return New(cfg, nil, append(defaults, opts...)...).Router()
}

func newTestRouter(t *testing.T, opts ...Option) *gin.Engine {
	t.Helper()
	return newTestRouterWithConfig(t, baseTestConfig, opts...)
}

func newTestRouterWithConfig(t *testing.T, cfg config.Config, opts ...Option) *gin.Engine {
	t.Helper()
	requireIntegration(t)
	defaults := []Option{WithAIClient(MockAIClient{})}
	return New(cfg, testPool, append(defaults, opts...)...).Router()
}

func resetDatabase(t *testing.T) {
	t.Helper()
	requireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := testPool.Exec(
		ctx,
		`TRUNCATE TABLE alerts, assessments, messages, chat_sessions, users RESTART IDENTITY CASCADE`,
	)
	if err != nil {
		t.Fatalf("reset database: %v", err)
	}
}

func seedUser(t *testing.T, userID string) string {
	t.Helper()
	requireIntegration(t)
	if strings.TrimSpace(userID) == "" {
		userID = testID()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := testPool.Exec(
		ctx,
		`INSERT INTO users (id, email, created_at, last_active_at)
		 VALUES ($1, $2, NOW(), NOW())`,
		userID,
		"user-"+userID[:8]+"@example.com",
	)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return userID
}

func seedChatSession(t *testing.T, userID string) string {
	t.Helper()
	requireIntegration(t)
	sessionID := testID()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := testPool.Exec(
		ctx,
		`INSERT INTO chat_sessions (id, user_id, title, started_at, updated_at, message_count)
		 VALUES ($1, $2, $3, NOW(), NOW(), 0)`,
		sessionID,
		userID,
		defaultSessionTitle,
	)
	if err != nil {
		t.Fatalf("seed chat session: %v", err)
	}
	return sessionID
}

func countRows(t *testing.T, query string, args ...any) int {
	t.Helper()
	requireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	if err := testPool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return count
}

func signToken(t *testing.T, sub string, overrides map[string]any) string {
	t.Helper()
	return signTokenWithConfig(t, baseTestConfig, sub, overrides)
}

func signTokenWithConfig(t *testing.T, cfg config.Config, sub string, overrides map[string]any) string {
	t.Helper()

	claims := jwt.MapClaims{
		"exp": time.Now().UTC().Add(1 * time.Hour).Unix(),
		"iat": time.Now().UTC().Add(-1 * time.Minute).Unix(),
	}
	if strings.TrimSpace(sub) != "" {
		claims["sub"] = sub
	}
	if strings.TrimSpace(cfg.JWTAudience) != "" {
		claims["aud"] = cfg.JWTAudience
	}
	if strings.TrimSpace(cfg.JWTIssuer) != "" {
		claims["iss"] = cfg.JWTIssuer
	}
	for key, value := range overrides {
		if value == nil {
			delete(claims, key)
			continue
		}
		claims[key] = value
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func performRequest(
	t *testing.T,
	router http.Handler,
	method, targetPath, token string,
	body any,
	headers map[string]string,
) *httptest.ResponseRecorder {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, targetPath, bytes.NewReader(payload))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSONMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response JSON: %v; body=%s", err, rec.Body.String())
	}
	return payload
}

func decodeList(t *testing.T, raw any) []map[string]any {
	t.Helper()
	values, ok := raw.([]any)
	if !ok {
		t.Fatalf("expected []any, got %T", raw)
	}
	result := make([]map[string]any, 0, len(values))
	for _, item := range values {
		entry, ok := item.(map[string]any)
		if !ok {
			t.Fatalf("expected object list item, got %T", item)
		}
		result = append(result, entry)
	}
	return result
}

func responseDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeJSONMap(t, rec)
	detail, _ := body["detail"].(string)
	return detail
}

func testID() string {
	return uuid.NewString()
}

// fakeIdentityProvider is an in-memory IdentityProvider.
type fakeIdentityProvider struct {
	err        error
	signedOut  []string
	lastEmail  string
	lastSecret string
}

func (f *fakeIdentityProvider) session(email string) AuthSession {
	return AuthSession{
		AccessToken:  "access-" + email,
		RefreshToken: "refresh-" + email,
		TokenType:    "bearer",
		ExpiresIn:    3600,
		User:         &IdentityUser{ID: "user-" + email, Email: email},
	}
}

func (f *fakeIdentityProvider) SignUp(_ context.Context, email, password string) (AuthSession, error) {
	f.lastEmail, f.lastSecret = email, password
	if f.err != nil {
		return AuthSession{}, f.err
	}
	return f.session(email), nil
}

func (f *fakeIdentityProvider) SignIn(_ context.Context, email, password string) (AuthSession, error) {
	f.lastEmail, f.lastSecret = email, password
	if f.err != nil {
		return AuthSession{}, f.err
	}
	return f.session(email), nil
}

func (f *fakeIdentityProvider) Refresh(_ context.Context, refreshToken string) (AuthSession, error) {
	f.lastSecret = refreshToken
	if f.err != nil {
		return AuthSession{}, f.err
	}
	return f.session("refreshed@example.com"), nil
}

func (f *fakeIdentityProvider) SignOut(_ context.Context, accessToken string) error {
	f.signedOut = append(f.signedOut, accessToken)
	return f.err
}

func (f *fakeIdentityProvider) GetUser(_ context.Context, accessToken string) (IdentityUser, error) {
	if f.err != nil {
		return IdentityUser{}, f.err
	}
	return IdentityUser{ID: "user-" + accessToken}, nil
}
