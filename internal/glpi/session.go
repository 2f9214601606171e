package glpi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/breeze-rmm/glpi-register/internal/secmem"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	codeWrongAppToken   = "ERROR_WRONG_APP_TOKEN_PARAMETER"
	codeAppTokenMissing = "ERROR_APP_TOKEN_PARAMETERS_MISSING"
)

// Credentials are an operator's GLPI login.
type Credentials struct {
	Username string
	Password *secmem.SecureString
}

// Session is an authenticated GLPI session. It is never modified after
// creation; a refresh replaces it with a new Session.
type Session struct {
	token    *secmem.SecureString
	username string
	issuedAt time.Time
	timeout  time.Duration
}

// Token returns the Session-Token value.
func (s *Session) Token() string { return s.token.Reveal() }

// Username returns the login the session belongs to, if known.
func (s *Session) Username() string { return s.username }

// IssuedAt returns when the server confirmed the session.
func (s *Session) IssuedAt() time.Time { return s.issuedAt }

// ExpiresAt returns when the session stops being trusted locally.
func (s *Session) ExpiresAt() time.Time { return s.issuedAt.Add(s.timeout) }

func (s *Session) expiredAt(now time.Time) bool {
	return s.token.Empty() || !now.Before(s.ExpiresAt())
}

// SessionManager owns the one current Session and every change to it.
type SessionManager struct {
	tr      *transport
	timeout time.Duration
	reauth  bool
	now     func() time.Time

	mu      sync.Mutex
	current *Session
	creds   *Credentials
	// generation increases on Logout so a login already in flight cannot
	// reinstall a session the operator just ended.
	generation uint64

	flight singleflight.Group
}

// NewSessionManager validates cfg and returns a logged-out manager.
func NewSessionManager(cfg Config) (*SessionManager, error) {
	tr, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &SessionManager{
		tr:      tr,
		timeout: cfg.SessionTimeout,
		reauth:  cfg.Reauthenticate,
		now:     time.Now,
	}, nil
}

// BaseURL returns the normalized server root.
func (m *SessionManager) BaseURL() string { return m.tr.root }

// Metrics returns request counters for every call made so far.
func (m *SessionManager) Metrics() Metrics { return m.tr.metrics() }

// Login authenticates against initSession and installs the new session.
// With re-authentication enabled the credentials are remembered for
// EnsureValid.
func (m *SessionManager) Login(ctx context.Context, creds Credentials) (*Session, error) {
	if m.tr.appToken == "" {
		return nil, &AuthError{Kind: AuthMissingAppToken, Message: "no application token configured"}
	}
	creds.Username = strings.TrimSpace(creds.Username)
	if creds.Username == "" {
		return nil, &AuthError{Kind: AuthInvalidCredentials, Message: "username is required"}
	}

	s, err := m.login(ctx, creds, nil, false)
	if err != nil {
		return nil, err
	}
	if m.reauth {
		m.Remember(creds)
	}
	return s, nil
}

// EnsureValid returns the current session, logging in again with
// remembered credentials when it has expired and re-authentication is on.
// Concurrent callers share a single login.
func (m *SessionManager) EnsureValid(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	s, creds := m.current, m.creds
	m.mu.Unlock()

	if s != nil && !s.expiredAt(m.now()) {
		return s, nil
	}
	if !m.reauth || creds == nil {
		return nil, &AuthError{Kind: AuthSessionExpired, Message: "no valid session, log in again"}
	}
	if m.tr.appToken == "" {
		return nil, &AuthError{Kind: AuthMissingAppToken, Message: "no application token configured"}
	}

	log.Info("session expired, re-authenticating", zap.String("username", creds.Username))
	return m.login(ctx, *creds, s, true)
}

// login coalesces concurrent logins for one user. The shared call runs
// detached from the first caller's cancellation, bounded by the request
// timeout; a caller that gives up simply stops waiting. With reuse set, a
// valid session installed since the caller saw stale is returned instead
// of logging in again.
func (m *SessionManager) login(ctx context.Context, creds Credentials, stale *Session, reuse bool) (*Session, error) {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := m.flight.DoChan("login:"+creds.Username, func() (any, error) {
		if reuse {
			m.mu.Lock()
			cur := m.current
			m.mu.Unlock()
			if cur != nil && cur != stale && !cur.expiredAt(m.now()) {
				return cur, nil
			}
		}

		s, err := m.initSession(detached, creds)
		if err != nil {
			if errors.Is(err, ErrInvalidCredentials) {
				m.forget(creds.Username)
			}
			return nil, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.generation != gen {
			s.token.Zero()
			return nil, &AuthError{Kind: AuthSessionExpired, Message: "logged out while logging in"}
		}
		m.current = s
		return s, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	case <-ctx.Done():
		return nil, &AuthError{Kind: AuthTransport, Message: "login abandoned", cause: ctx.Err()}
	}
}

func (m *SessionManager) initSession(ctx context.Context, creds Credentials) (*Session, error) {
	resp, err := m.tr.do(ctx, call{method: http.MethodGet, path: "initSession", basicAuth: &creds})
	if err != nil {
		return nil, &AuthError{Kind: AuthTransport, Message: "login request failed", cause: err}
	}

	if resp.status != http.StatusOK {
		f := parseFailure(resp.body)
		log.Warn("login rejected",
			zap.String("username", creds.Username),
			zap.Int("status", resp.status),
			zap.String("code", f.Code))
		return nil, classifyLogin(resp.status, f)
	}

	var body struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return nil, &AuthError{Kind: AuthTransport, Message: "undecodable login response", cause: err}
	}
	if body.SessionToken == "" {
		return nil, &AuthError{Kind: AuthTransport, Message: "login response carried no session token"}
	}

	log.Info("logged in", zap.String("username", creds.Username))
	return &Session{
		token:    secmem.NewSecureString(body.SessionToken),
		username: creds.Username,
		issuedAt: m.now(),
		timeout:  m.timeout,
	}, nil
}

func classifyLogin(status int, f failure) *AuthError {
	msg := f.text(status)
	switch {
	case f.Code == codeWrongAppToken || f.Code == codeAppTokenMissing:
		return &AuthError{Kind: AuthMissingAppToken, Code: f.Code, Message: msg}
	case status >= 500:
		return &AuthError{Kind: AuthTransport, Code: f.Code, Message: fmt.Sprintf("server error %d: %s", status, msg)}
	default:
		return &AuthError{Kind: AuthInvalidCredentials, Code: f.Code, Message: msg}
	}
}

// Restore installs a remembered session token after getFullSession
// confirms the server still knows it. The session keeps its original
// issued-at, so a restored session never outlives the configured timeout.
func (m *SessionManager) Restore(ctx context.Context, token, username string, issuedAt time.Time) (*Session, error) {
	if m.tr.appToken == "" {
		return nil, &AuthError{Kind: AuthMissingAppToken, Message: "no application token configured"}
	}
	s := &Session{
		token:    secmem.NewSecureString(token),
		username: username,
		issuedAt: issuedAt,
		timeout:  m.timeout,
	}
	if issuedAt.IsZero() || s.expiredAt(m.now()) {
		return nil, &AuthError{Kind: AuthSessionExpired, Message: "remembered session has expired"}
	}

	resp, err := m.tr.do(ctx, call{method: http.MethodGet, path: "getFullSession", sessionToken: s.token})
	if err != nil {
		return nil, &AuthError{Kind: AuthTransport, Message: "session check failed", cause: err}
	}
	if resp.status != http.StatusOK {
		f := parseFailure(resp.body)
		if sessionRejected(resp.status, f) || resp.status < 500 {
			return nil, &AuthError{Kind: AuthSessionExpired, Code: f.Code, Message: "server no longer accepts the remembered session"}
		}
		return nil, &AuthError{Kind: AuthTransport, Code: f.Code, Message: f.text(resp.status)}
	}

	if s.username == "" {
		var full struct {
			Session struct {
				Name string `json:"glpiname"`
			} `json:"session"`
		}
		if json.Unmarshal(resp.body, &full) == nil {
			s.username = full.Session.Name
		}
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	log.Debug("restored remembered session", zap.String("username", s.username))
	return s, nil
}

// Remember stores credentials for re-authentication.
func (m *SessionManager) Remember(creds Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = &creds
}

func (m *SessionManager) forget(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds != nil && m.creds.Username == username {
		m.creds = nil
	}
}

// Logout ends the session on the server, best effort. Local state is
// cleared even when the server cannot be reached.
func (m *SessionManager) Logout(ctx context.Context) error {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.creds = nil
	m.generation++
	m.mu.Unlock()

	if s == nil {
		return nil
	}

	resp, err := m.tr.do(ctx, call{method: http.MethodGet, path: "killSession", sessionToken: s.token})
	if err != nil {
		log.Warn("killSession failed, session dropped locally", zap.Error(err))
		return &AuthError{Kind: AuthTransport, Message: "could not end the session on the server", cause: err}
	}
	if !resp.ok() {
		f := parseFailure(resp.body)
		log.Debug("killSession rejected", zap.Int("status", resp.status), zap.String("code", f.Code))
	}
	return nil
}

// IsExpired reports whether there is no usable session right now.
func (m *SessionManager) IsExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == nil || m.current.expiredAt(m.now())
}

// Invalidate drops s if it is still the current session. A newer session
// installed in the meantime is kept.
func (m *SessionManager) Invalidate(s *Session) {
	if s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == s {
		m.current = nil
		log.Debug("session invalidated", zap.String("username", s.username))
	}
}

// Current returns the installed session, or nil.
func (m *SessionManager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
