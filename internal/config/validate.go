package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/breeze-rmm/glpi-register/internal/logging"
	"go.uber.org/zap"
)

var log = logging.L("config")

// placeholderAppToken is what older deployments shipped in their template
// config. Treat it the same as an empty token.
const placeholderAppToken = "PLEASE_REPLACE_IN_CONFIG_FILE"

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates problems that must stop the command from
// values that were clamped or ignored.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal problem was found.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// ValidateTiered checks the config. Out-of-range durations are clamped in
// place and reported as warnings; malformed connection settings are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var res ValidationResult

	c.GLPIURL = strings.TrimSpace(c.GLPIURL)
	if c.GLPIURL != "" {
		u, err := url.Parse(c.GLPIURL)
		if err != nil {
			res.Fatals = append(res.Fatals, fmt.Errorf("glpi_url %q is not a valid URL: %w", c.GLPIURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			res.Fatals = append(res.Fatals, fmt.Errorf("glpi_url scheme must be http or https, got %q", u.Scheme))
		} else if u.Host == "" {
			res.Fatals = append(res.Fatals, fmt.Errorf("glpi_url %q has no host", c.GLPIURL))
		}
	}

	c.APIVersion = strings.ToLower(strings.TrimSpace(c.APIVersion))
	switch c.APIVersion {
	case "":
		c.APIVersion = APIVersionV1
	case APIVersionV1:
	default:
		res.Fatals = append(res.Fatals, fmt.Errorf("api_version %q is not supported; only %s (/apirest.php) is", c.APIVersion, APIVersionV1))
	}

	if c.AppToken == placeholderAppToken {
		res.Warnings = append(res.Warnings, fmt.Errorf("app_token still holds the template placeholder, ignoring it"))
		c.AppToken = ""
	}
	if hasControlChars(c.AppToken) {
		res.Fatals = append(res.Fatals, fmt.Errorf("app_token contains control characters"))
	}
	if hasControlChars(c.Session.Token) {
		res.Warnings = append(res.Warnings, fmt.Errorf("remembered session token is malformed, discarding it"))
		c.ClearSession()
	}

	if !c.VerifySSL {
		res.Warnings = append(res.Warnings, fmt.Errorf("verify_ssl is disabled, server certificates will not be checked"))
	}

	res.Warnings = append(res.Warnings, clamp("request_timeout", &c.RequestTimeout, time.Second, 5*time.Minute)...)
	res.Warnings = append(res.Warnings, clamp("session_timeout", &c.SessionTimeout, time.Minute, 30*24*time.Hour)...)
	res.Warnings = append(res.Warnings, clamp("probe_timeout", &c.ProbeTimeout, time.Second, 2*time.Minute)...)

	if c.AutoLogin && (c.Username == "" || c.Password == "") {
		res.Warnings = append(res.Warnings, fmt.Errorf("auto_login is enabled but username or password is empty"))
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		res.Warnings = append(res.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		res.Warnings = append(res.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	for _, err := range res.Warnings {
		log.Warn("config validation", zap.Error(err))
	}
	for _, err := range res.Fatals {
		log.Error("config validation", zap.Error(err))
	}
	return res
}

func clamp(name string, d *time.Duration, lo, hi time.Duration) []error {
	switch {
	case *d < lo:
		err := fmt.Errorf("%s %s is below minimum %s, clamping", name, *d, lo)
		*d = lo
		return []error{err}
	case *d > hi:
		err := fmt.Errorf("%s %s exceeds maximum %s, clamping", name, *d, hi)
		*d = hi
		return []error{err}
	}
	return nil
}

func hasControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}
