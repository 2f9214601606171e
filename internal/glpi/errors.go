package glpi

import (
	"errors"
	"fmt"
)

// AuthKind classifies session failures.
type AuthKind string

const (
	AuthInvalidCredentials AuthKind = "invalid_credentials"
	AuthMissingAppToken    AuthKind = "missing_app_token"
	AuthSessionExpired     AuthKind = "session_expired"
	AuthTransport          AuthKind = "transport"
)

// APIKind classifies asset call failures.
type APIKind string

const (
	APIDuplicate    APIKind = "duplicate"
	APIValidation   APIKind = "validation"
	APIUnauthorized APIKind = "unauthorized"
	APITransport    APIKind = "transport"
)

// Sentinels for errors.Is. Every AuthError and APIError matches the
// sentinel of its kind.
var (
	ErrInvalidCredentials = errors.New("glpi: invalid credentials")
	ErrMissingAppToken    = errors.New("glpi: missing or rejected app token")
	ErrSessionExpired     = errors.New("glpi: session expired")
	ErrAuthTransport      = errors.New("glpi: cannot reach server to authenticate")

	ErrDuplicate    = errors.New("glpi: asset already exists")
	ErrValidation   = errors.New("glpi: request rejected")
	ErrUnauthorized = errors.New("glpi: session rejected by server")
	ErrTransport    = errors.New("glpi: transport failure")

	// ErrNotFound is returned by LookupID when no item matches.
	ErrNotFound = errors.New("glpi: no matching item")
)

var authSentinels = map[AuthKind]error{
	AuthInvalidCredentials: ErrInvalidCredentials,
	AuthMissingAppToken:    ErrMissingAppToken,
	AuthSessionExpired:     ErrSessionExpired,
	AuthTransport:          ErrAuthTransport,
}

var apiSentinels = map[APIKind]error{
	APIDuplicate:    ErrDuplicate,
	APIValidation:   ErrValidation,
	APIUnauthorized: ErrUnauthorized,
	APITransport:    ErrTransport,
}

// AuthError is returned by SessionManager operations.
type AuthError struct {
	Kind    AuthKind
	Code    string // GLPI error code, e.g. ERROR_GLPI_LOGIN
	Message string
	cause   error
}

func (e *AuthError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AuthError) Unwrap() error { return e.cause }

func (e *AuthError) Is(target error) bool {
	return target == authSentinels[e.Kind]
}

// Hint tells the operator what to do about the failure.
func (e *AuthError) Hint() string {
	switch e.Kind {
	case AuthInvalidCredentials:
		return "Check the username and password, and that the account may use the REST API."
	case AuthMissingAppToken:
		return "Set app_token to the application token shown under Setup > General > API in GLPI."
	case AuthSessionExpired:
		return "Run `glpi-register login` to start a new session."
	case AuthTransport:
		return "Check glpi_url, network connectivity and, for self-signed servers, verify_ssl."
	}
	return ""
}

// APIError is returned by AssetClient operations.
type APIError struct {
	Kind    APIKind
	Status  int    // HTTP status, zero when no response arrived
	Code    string // GLPI error code, e.g. ERROR_GLPI_ADD
	Message string
	cause   error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.cause }

func (e *APIError) Is(target error) bool {
	return target == apiSentinels[e.Kind]
}

// Hint tells the operator what to do about the failure.
func (e *APIError) Hint() string {
	switch e.Kind {
	case APIDuplicate:
		return "An asset with this serial already exists; search for it instead of creating another."
	case APIValidation:
		return "Review the asset fields and the account's rights on Computer items."
	case APIUnauthorized:
		return "The server dropped the session. Run `glpi-register login` again."
	case APITransport:
		return "The GLPI server could not be reached or failed; retry later or check glpi_url."
	}
	return ""
}

// IsUnauthorized reports whether err is an APIError of kind Unauthorized.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
