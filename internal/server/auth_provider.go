package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"keyi/apps/backend/internal/config"
)

var ErrIdentityNotConfigured = errors.New("identity provider is not configured: set SUPABASE_URL and SUPABASE_KEY")

type IdentityUser struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type AuthSession struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int           `json:"expires_in"`
	User         *IdentityUser `json:"user"`
}

// IdentityError is a rejection reported by the identity provider.
type IdentityError struct {
	Status  int
	Message string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("identity provider error (%d): %s", e.Status, e.Message)
}

// IdentityProvider issues and revokes the bearer tokens the API verifies.
type IdentityProvider interface {
	SignUp(ctx context.Context, email, password string) (AuthSession, error)
	SignIn(ctx context.Context, email, password string) (AuthSession, error)
	Refresh(ctx context.Context, refreshToken string) (AuthSession, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (IdentityUser, error)
}

// SupabaseIdentityProvider talks to the Supabase Auth (GoTrue) REST API.
type SupabaseIdentityProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewSupabaseIdentityProvider(cfg config.Config) *SupabaseIdentityProvider {
	return &SupabaseIdentityProvider{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.SupabaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.SupabaseAnonKey),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *SupabaseIdentityProvider) configured() bool {
	return p.baseURL != "" && p.apiKey != ""
}

func (p *SupabaseIdentityProvider) SignUp(ctx context.Context, email, password string) (AuthSession, error) {
	var body struct {
		AuthSession
		ID        string     `json:"id"`
		Email     string     `json:"email"`
		CreatedAt *time.Time `json:"created_at"`
	}
	if err := p.do(ctx, http.MethodPost, "/auth/v1/signup", "", map[string]string{
		"email":    email,
		"password": password,
	}, &body); err != nil {
		return AuthSession{}, err
	}
	session := body.AuthSession
	// Without auto-confirm the provider returns the bare user and no session.
	if session.User == nil && body.ID != "" {
		session.User = &IdentityUser{ID: body.ID, Email: body.Email, CreatedAt: body.CreatedAt}
	}
	return session, nil
}

func (p *SupabaseIdentityProvider) SignIn(ctx context.Context, email, password string) (AuthSession, error) {
	var session AuthSession
	err := p.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", map[string]string{
		"email":    email,
		"password": password,
	}, &session)
	return session, err
}

func (p *SupabaseIdentityProvider) Refresh(ctx context.Context, refreshToken string) (AuthSession, error) {
	var session AuthSession
	err := p.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "", map[string]string{
		"refresh_token": refreshToken,
	}, &session)
	return session, err
}

func (p *SupabaseIdentityProvider) SignOut(ctx context.Context, accessToken string) error {
	if !p.configured() {
		return nil
	}
	return p.do(ctx, http.MethodPost, "/auth/v1/logout", accessToken, nil, nil)
}

func (p *SupabaseIdentityProvider) GetUser(ctx context.Context, accessToken string) (IdentityUser, error) {
	var user IdentityUser
	err := p.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil, &user)
	return user, err
}

func (p *SupabaseIdentityProvider) do(ctx context.Context, method, path, accessToken string, payload any, out any) error {
	if !p.configured() {
		return ErrIdentityNotConfigured
	}

	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	request, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	request.Header.Set("apikey", p.apiKey)
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	bearer := accessToken
	if bearer == "" {
		bearer = p.apiKey
	}
	request.Header.Set("Authorization", "Bearer "+bearer)

	response, err := p.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return err
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &IdentityError{Status: response.StatusCode, Message: identityErrorMessage(body)}
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode identity response: %w", err)
	}
	return nil
}

func identityErrorMessage(body []byte) string {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, key := range []string{"error_description", "msg", "message", "error"} {
			if value := strings.TrimSpace(toString(parsed[key])); value != "" {
				return value
			}
		}
	}
	if trimmed := truncateRunes(string(body), 200); trimmed != "" {
		return trimmed
	}
	return "request rejected"
}

func isValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email[strings.LastIndex(email, "@"):], ".")
}
