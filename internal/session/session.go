// Package session obtains and exposes the current authenticated
// identity. It talks to the hosted auth service and persists the
// session token in the OS keyring so a signed-in user stays signed in
// across invocations.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"taskflow/gateway"
)

// KeyringService is the service name used for persisted sessions.
const KeyringService = "taskflow"

// keyringAccount is the account key under which the session is stored.
const keyringAccount = "session"

// UserIdentity is the authenticated user.
type UserIdentity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Config holds auth service connection settings.
type Config struct {
	BaseURL string
	AnonKey string

	// Keyring overrides the session store; nil uses the OS keyring.
	Keyring Keyring

	// Timeout for auth requests. Default: 15 seconds.
	Timeout time.Duration
}

// Provider implements the session lifecycle: sign-in/up/out, current
// identity, and change notification.
type Provider struct {
	baseURL string
	anonKey string
	client  *http.Client
	keyring Keyring

	mu       sync.Mutex
	current  *UserIdentity
	token    string
	handlers []func(*UserIdentity)
}

// persistedSession is the keyring payload.
type persistedSession struct {
	User  UserIdentity `json:"user"`
	Token string       `json:"access_token"`
}

// New creates a Provider and restores any persisted session. A
// missing or unreadable keyring entry simply means signed-out.
func New(cfg Config) *Provider {
	kr := cfg.Keyring
	if kr == nil {
		kr = NewSystemKeyring()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	p := &Provider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		anonKey: cfg.AnonKey,
		client:  &http.Client{Timeout: timeout},
		keyring: kr,
	}
	p.restore()
	return p
}

// restore loads a persisted session, if any.
func (p *Provider) restore() {
	raw, err := p.keyring.Get(KeyringService, keyringAccount)
	if err != nil {
		return
	}

	var s persistedSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil || s.User.ID == "" {
		return
	}

	p.mu.Lock()
	p.current = &s.User
	p.token = s.Token
	p.mu.Unlock()
}

// CurrentUser returns the authenticated identity, or nil when signed out.
func (p *Provider) CurrentUser() *UserIdentity {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	u := *p.current
	return &u
}

// AccessToken returns the current access token, or empty when signed out.
func (p *Provider) AccessToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// OnChange registers a handler fired on sign-in and sign-out. The
// handler receives the new identity, or nil on sign-out.
func (p *Provider) OnChange(fn func(*UserIdentity)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, fn)
}

// authResponse is the wire shape of a successful token grant.
type authResponse struct {
	AccessToken string `json:"access_token"`
	User        struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// authErrorResponse is the wire shape of an auth failure.
type authErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

// text returns whichever error field the service populated.
func (r authErrorResponse) text() string {
	for _, s := range []string{r.ErrorDescription, r.Msg, r.Message, r.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// SignIn authenticates with email and password.
func (p *Provider) SignIn(ctx context.Context, email, password string) error {
	email, password, err := validateCredentials(email, password)
	if err != nil {
		return err
	}

	resp, err := p.doAuth(ctx, "/auth/v1/token?grant_type=password", email, password)
	if err != nil {
		return err
	}

	p.setSession(resp)
	return nil
}

// SignUp registers a new account. Depending on the remote's email
// confirmation policy the response may or may not carry a usable
// session; when it does, the user is signed in immediately.
func (p *Provider) SignUp(ctx context.Context, email, password string) error {
	email, password, err := validateCredentials(email, password)
	if err != nil {
		return err
	}

	resp, err := p.doAuth(ctx, "/auth/v1/signup", email, password)
	if err != nil {
		return err
	}

	if resp.AccessToken != "" {
		p.setSession(resp)
	}
	return nil
}

// SignOut revokes the session remotely (best effort) and clears the
// local identity. It never fails on remote errors: the local session
// is always cleared.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	token := p.token
	p.mu.Unlock()

	if token != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/auth/v1/logout", nil)
		if err == nil {
			req.Header.Set("apikey", p.anonKey)
			req.Header.Set("Authorization", "Bearer "+token)
			if resp, err := p.client.Do(req); err == nil {
				_ = resp.Body.Close()
			}
		}
	}

	p.mu.Lock()
	p.current = nil
	p.token = ""
	p.mu.Unlock()

	// A keyring failure here leaves a stale entry behind, but the
	// in-memory session is gone either way.
	_ = p.keyring.Delete(KeyringService, keyringAccount)

	p.fireChange(nil)
	return nil
}

// doAuth performs one auth request and maps known failures.
func (p *Provider) doAuth(ctx context.Context, path, email, password string) (*authResponse, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, &gateway.AuthError{Code: gateway.AuthUnknown, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &gateway.AuthError{Code: gateway.AuthUnknown, Message: err.Error()}
	}
	req.Header.Set("apikey", p.anonKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &gateway.AuthError{Code: gateway.AuthUnknown, Message: fmt.Sprintf("auth request failed: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var errResp authErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, mapAuthError(errResp.text())
	}

	var out authResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &gateway.AuthError{Code: gateway.AuthUnknown, Message: "malformed auth response"}
	}
	return &out, nil
}

// setSession installs and persists a fresh session.
func (p *Provider) setSession(resp *authResponse) {
	user := UserIdentity{ID: resp.User.ID, Email: resp.User.Email}

	p.mu.Lock()
	p.current = &user
	p.token = resp.AccessToken
	p.mu.Unlock()

	if raw, err := json.Marshal(persistedSession{User: user, Token: resp.AccessToken}); err == nil {
		// Best effort: a keyring failure means the session just won't
		// survive this process.
		_ = p.keyring.Set(KeyringService, keyringAccount, string(raw))
	}

	p.fireChange(&user)
}

// fireChange invokes change handlers outside the lock.
func (p *Provider) fireChange(user *UserIdentity) {
	p.mu.Lock()
	handlers := make([]func(*UserIdentity), len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.Unlock()

	for _, fn := range handlers {
		fn(user)
	}
}

// mapAuthError classifies known remote failure messages so the UI can
// show stable, friendly text.
func mapAuthError(message string) *gateway.AuthError {
	switch {
	case strings.Contains(message, "Email not confirmed"):
		return &gateway.AuthError{Code: gateway.AuthEmailNotConfirmed, Message: message}
	case strings.Contains(message, "Invalid login credentials"):
		return &gateway.AuthError{Code: gateway.AuthBadCredentials, Message: message}
	case strings.Contains(message, "User already registered"),
		strings.Contains(message, "already been registered"):
		return &gateway.AuthError{Code: gateway.AuthAlreadyRegistered, Message: message}
	default:
		return &gateway.AuthError{Code: gateway.AuthUnknown, Message: message}
	}
}

// validateCredentials normalizes and checks email/password before any
// network call.
func validateCredentials(email, password string) (string, string, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return "", "", &gateway.ValidationError{Field: "email", Reason: "a valid email address is required"}
	}
	if len(password) < 6 {
		return "", "", &gateway.ValidationError{Field: "password", Reason: "password must be at least 6 characters"}
	}
	return email, password, nil
}
