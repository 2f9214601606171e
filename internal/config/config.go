package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	fileName  = "config"
	envPrefix = "GLPI_REGISTER"
)

// APIVersionV1 is the session-token REST API under /apirest.php, the only
// GLPI API the client speaks.
const APIVersionV1 = "v1"

// Config holds the settings the core consumes from the outside world.
type Config struct {
	// GLPI connection
	GLPIURL        string        `mapstructure:"glpi_url"`
	AppToken       string        `mapstructure:"app_token"`
	VerifySSL      bool          `mapstructure:"verify_ssl"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	APIVersion     string        `mapstructure:"api_version"`

	// Authentication
	SessionTimeout  time.Duration `mapstructure:"session_timeout"`
	RememberSession bool          `mapstructure:"remember_session"`
	AutoLogin       bool          `mapstructure:"auto_login"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`

	// Submission
	DefaultLocation string `mapstructure:"default_location"`
	LinkComponents  bool   `mapstructure:"link_components"`

	// Hardware probe
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	// Session remembered between invocations when RememberSession is set.
	Session SessionState `mapstructure:"session"`

	path string
}

// SessionState is the persisted form of an authenticated GLPI session.
type SessionState struct {
	Token    string `mapstructure:"token"`
	IssuedAt string `mapstructure:"issued_at"`
	Username string `mapstructure:"username"`
}

// Issued parses IssuedAt. The zero time is returned when unset or malformed.
func (s SessionState) Issued() time.Time {
	t, err := time.Parse(time.RFC3339, s.IssuedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Default returns configuration with sensible defaults.
func Default() *Config {
	return &Config{
		VerifySSL:       true,
		RequestTimeout:  10 * time.Second,
		APIVersion:      APIVersionV1,
		SessionTimeout:  8 * time.Hour,
		RememberSession: true,
		LinkComponents:  true,
		ProbeTimeout:    15 * time.Second,
		LogLevel:        "warn",
		LogFormat:       "text",
	}
}

// Load reads configuration from cfgFile (or the platform default locations)
// and the GLPI_REGISTER_* environment. A missing file is not an error.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := newViper(cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(fileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.path = v.ConfigFileUsed()
	if cfg.path == "" {
		cfg.path = cfgFile
	}
	return cfg, nil
}

// Path returns the file the config was loaded from, or where Save will write.
func (c *Config) Path() string {
	if c.path != "" {
		return c.path
	}
	return filepath.Join(configDir(), fileName+".yaml")
}

// Save writes the session state to Path(). Other keys are kept as they
// are in the file; values that came from the environment or were changed
// in memory are never written.
func (c *Config) Save() error {
	cfgPath := c.Path()
	if dir := filepath.Dir(cfgPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	if filepath.Ext(cfgPath) == "" {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read config before saving: %w", err)
	}
	v.Set("session.token", c.Session.Token)
	v.Set("session.issued_at", c.Session.IssuedAt)
	v.Set("session.username", c.Session.Username)

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	c.path = cfgPath

	// Owner-only: the file may carry the app token, a password and a session token.
	return os.Chmod(cfgPath, 0600)
}

// StoreSession records token details for the next invocation.
func (c *Config) StoreSession(token, username string, issuedAt time.Time) {
	c.Session = SessionState{
		Token:    token,
		IssuedAt: issuedAt.UTC().Format(time.RFC3339),
		Username: username,
	}
}

// ClearSession forgets any remembered session token.
func (c *Config) ClearSession() {
	c.Session = SessionState{}
}

func newViper(cfg *Config) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults register every key so AutomaticEnv applies during Unmarshal.
	v.SetDefault("glpi_url", cfg.GLPIURL)
	v.SetDefault("app_token", cfg.AppToken)
	v.SetDefault("verify_ssl", cfg.VerifySSL)
	v.SetDefault("request_timeout", cfg.RequestTimeout)
	v.SetDefault("api_version", cfg.APIVersion)
	v.SetDefault("session_timeout", cfg.SessionTimeout)
	v.SetDefault("remember_session", cfg.RememberSession)
	v.SetDefault("auto_login", cfg.AutoLogin)
	v.SetDefault("username", cfg.Username)
	v.SetDefault("password", cfg.Password)
	v.SetDefault("default_location", cfg.DefaultLocation)
	v.SetDefault("link_components", cfg.LinkComponents)
	v.SetDefault("probe_timeout", cfg.ProbeTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("session.token", "")
	v.SetDefault("session.issued_at", "")
	v.SetDefault("session.username", "")
	return v
}

// configDir returns the platform-specific config directory.
func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "GLPIRegister")
	case "darwin":
		return "/Library/Application Support/GLPIRegister"
	default:
		return "/etc/glpi-register"
	}
}
