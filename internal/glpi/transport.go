// Package glpi talks to the GLPI REST API v1 (apirest.php): session
// lifecycle, computer search and creation, and dropdown resolution.
package glpi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/glpi-register/internal/httputil"
	"github.com/breeze-rmm/glpi-register/internal/logging"
	"github.com/breeze-rmm/glpi-register/internal/secmem"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var log = logging.L("glpi")

const (
	apiPath            = "/apirest.php"
	defaultTimeout     = 10 * time.Second
	defaultUserAgent   = "glpi-register"
	maxResponseBody    = 8 << 20
	headerAppToken     = "App-Token"
	headerSessionToken = "Session-Token"
	headerRequestID    = "X-Request-Id"
)

// Config holds the connection and session settings.
type Config struct {
	BaseURL        string // server root; a trailing /apirest.php is accepted
	AppToken       string
	VerifySSL      bool
	RequestTimeout time.Duration
	UserAgent      string
	Retry          httputil.RetryConfig

	// SessionTimeout is how long a session is trusted after the server
	// confirmed it.
	SessionTimeout time.Duration
	// Reauthenticate lets EnsureValid log in again with remembered
	// credentials (remember-session or auto-login).
	Reauthenticate bool
}

// Metrics counts API calls made through one SessionManager.
type Metrics struct {
	Requests     uint64 `json:"requests" yaml:"requests"`
	Errors       uint64 `json:"errors" yaml:"errors"`
	Errors4xx    uint64 `json:"errors4xx" yaml:"errors_4xx"`
	Errors5xx    uint64 `json:"errors5xx" yaml:"errors_5xx"`
	Unauthorized uint64 `json:"unauthorized" yaml:"unauthorized"`
}

type transport struct {
	root      string // https://glpi.example.com
	api       string // https://glpi.example.com/apirest.php
	appToken  string
	userAgent string
	timeout   time.Duration
	retry     httputil.RetryConfig
	client    *http.Client

	requests     atomic.Uint64
	errors       atomic.Uint64
	errors4xx    atomic.Uint64
	errors5xx    atomic.Uint64
	unauthorized atomic.Uint64
}

func newTransport(cfg Config) (*transport, error) {
	root, err := normalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	httpTransport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifySSL {
		httpTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opted out via verify_ssl
	}

	return &transport{
		root:      root,
		api:       root + apiPath,
		appToken:  strings.TrimSpace(cfg.AppToken),
		userAgent: userAgent,
		timeout:   timeout,
		retry:     cfg.Retry,
		client:    &http.Client{Transport: httpTransport},
	}, nil
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("glpi base URL is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid glpi base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("glpi base URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("glpi base URL %q has no host", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(strings.TrimRight(u.Path, "/"), apiPath)
	u.RawPath = ""
	return strings.TrimRight(u.String(), "/"), nil
}

// call describes one apirest.php request.
type call struct {
	method       string
	path         string // relative to apirest.php, e.g. "search/Computer"
	query        url.Values
	body         any
	sessionToken *secmem.SecureString
	basicAuth    *Credentials
}

type response struct {
	status    int
	body      []byte
	requestID string
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// do sends c with the request timeout applied. The returned error is
// non-nil only when no complete response arrived; HTTP failures come back
// as a response for the caller to classify.
func (t *transport) do(ctx context.Context, c call) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var payload []byte
	if c.body != nil {
		var err error
		if payload, err = json.Marshal(c.body); err != nil {
			return nil, fmt.Errorf("failed to marshal %s request: %w", c.path, err)
		}
	}

	endpoint := t.api + "/" + strings.TrimLeft(c.path, "/")
	if len(c.query) > 0 {
		endpoint += "?" + c.query.Encode()
	}

	requestID := uuid.NewString()
	reqLog := logging.WithRequest(log, requestID).With(
		zap.String(logging.KeyOperation, c.method+" "+c.path))

	newRequest := func(ctx context.Context) (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, c.method, endpoint, body)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", t.userAgent)
		req.Header.Set(headerRequestID, requestID)
		if t.appToken != "" {
			req.Header.Set(headerAppToken, t.appToken)
		}
		if !c.sessionToken.Empty() {
			req.Header.Set(headerSessionToken, c.sessionToken.Reveal())
		}
		if c.basicAuth != nil {
			req.SetBasicAuth(c.basicAuth.Username, c.basicAuth.Password.Reveal())
		}
		return req, nil
	}

	retry := httputil.NoRetry()
	if c.method == http.MethodGet {
		retry = t.retry
	}

	start := time.Now()
	t.requests.Add(1)
	resp, err := httputil.Do(ctx, t.client, newRequest, retry)
	if err != nil {
		t.errors.Add(1)
		reqLog.Warn("glpi request failed", zap.Error(err))
		return nil, fmt.Errorf("%s %s: %w", c.method, c.path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		t.errors.Add(1)
		return nil, fmt.Errorf("%s %s: failed to read response: %w", c.method, c.path, err)
	}

	t.count(resp.StatusCode)
	reqLog.Debug("glpi request",
		zap.Int(logging.KeyStatus, resp.StatusCode),
		zap.Int64(logging.KeyDurationMs, time.Since(start).Milliseconds()))

	return &response{status: resp.StatusCode, body: body, requestID: requestID}, nil
}

func (t *transport) count(status int) {
	switch {
	case status == http.StatusUnauthorized:
		t.unauthorized.Add(1)
		t.errors4xx.Add(1)
		t.errors.Add(1)
	case status >= 500:
		t.errors5xx.Add(1)
		t.errors.Add(1)
	case status >= 400:
		t.errors4xx.Add(1)
		t.errors.Add(1)
	}
}

func (t *transport) metrics() Metrics {
	return Metrics{
		Requests:     t.requests.Load(),
		Errors:       t.errors.Load(),
		Errors4xx:    t.errors4xx.Load(),
		Errors5xx:    t.errors5xx.Load(),
		Unauthorized: t.unauthorized.Load(),
	}
}

// failure is GLPI's error body, usually ["ERROR_CODE", "message"].
type failure struct {
	Code    string
	Message string
}

const codeSessionTokenInvalid = "ERROR_SESSION_TOKEN_INVALID"

func parseFailure(body []byte) failure {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return failure{}
	}

	var parts []any
	if err := json.Unmarshal(trimmed, &parts); err == nil {
		var f failure
		if len(parts) > 0 {
			f.Code, _ = parts[0].(string)
		}
		if len(parts) > 1 {
			f.Message = fmt.Sprint(parts[1])
		}
		return f
	}

	var obj struct {
		Code    string `json:"code"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		code := obj.Code
		if code == "" {
			code = obj.Error
		}
		return failure{Code: code, Message: obj.Message}
	}

	msg := string(trimmed)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return failure{Message: msg}
}

func (f failure) text(status int) string {
	switch {
	case f.Message != "":
		return f.Message
	case f.Code != "":
		return f.Code
	}
	return http.StatusText(status)
}

// sessionRejected reports whether the server refused the session token.
func sessionRejected(status int, f failure) bool {
	return status == http.StatusUnauthorized || f.Code == codeSessionTokenInvalid
}
