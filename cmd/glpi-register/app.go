package main

import (
	"context"
	"errors"

	"github.com/breeze-rmm/glpi-register/internal/config"
	"github.com/breeze-rmm/glpi-register/internal/glpi"
	"github.com/breeze-rmm/glpi-register/internal/httputil"
	"github.com/breeze-rmm/glpi-register/internal/secmem"
	"go.uber.org/zap"
)

// app wires the GLPI clients from the loaded config for one command.
type app struct {
	cfg      *config.Config
	sessions *glpi.SessionManager
	assets   *glpi.AssetClient
}

func newApp(c *config.Config) (*app, error) {
	if c.GLPIURL == "" {
		return nil, errors.New("glpi_url is not configured; set it in " + c.Path() + " or GLPI_REGISTER_GLPI_URL")
	}

	sessions, err := glpi.NewSessionManager(glpi.Config{
		BaseURL:        c.GLPIURL,
		AppToken:       c.AppToken,
		VerifySSL:      c.VerifySSL,
		RequestTimeout: c.RequestTimeout,
		UserAgent:      "glpi-register/" + version,
		Retry:          httputil.DefaultRetryConfig(),
		SessionTimeout: c.SessionTimeout,
		Reauthenticate: c.RememberSession || c.AutoLogin,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      c,
		sessions: sessions,
		assets:   glpi.NewAssetClient(sessions, glpi.WithComponentLinking(c.LinkComponents)),
	}, nil
}

// resume restores the remembered session and, with auto_login, the
// configured credentials so an expired session can be renewed.
func (a *app) resume(ctx context.Context) {
	if a.cfg.AutoLogin && a.cfg.Username != "" && a.cfg.Password != "" {
		a.sessions.Remember(glpi.Credentials{
			Username: a.cfg.Username,
			Password: secmem.NewSecureString(a.cfg.Password),
		})
	}

	st := a.cfg.Session
	if !a.cfg.RememberSession || st.Token == "" {
		return
	}
	if _, err := a.sessions.Restore(ctx, st.Token, st.Username, st.Issued()); err != nil {
		log.Info("remembered session not usable", zap.Error(err))
		if errors.Is(err, glpi.ErrSessionExpired) {
			a.cfg.ClearSession()
			a.save()
		}
	}
}

// persist records the current session for the next invocation when
// remember_session is on.
func (a *app) persist() {
	defer a.logMetrics()
	if !a.cfg.RememberSession {
		return
	}

	s := a.sessions.Current()
	switch {
	case s == nil && a.cfg.Session.Token == "":
		return
	case s == nil:
		a.cfg.ClearSession()
	case s.Token() == a.cfg.Session.Token:
		return
	default:
		a.cfg.StoreSession(s.Token(), s.Username(), s.IssuedAt())
	}
	a.save()
}

func (a *app) save() {
	if err := a.cfg.Save(); err != nil {
		log.Warn("failed to save config", zap.String("path", a.cfg.Path()), zap.Error(err))
	}
}

func (a *app) logMetrics() {
	m := a.sessions.Metrics()
	log.Debug("glpi requests",
		zap.Uint64("requests", m.Requests),
		zap.Uint64("errors", m.Errors),
		zap.Uint64("4xx", m.Errors4xx),
		zap.Uint64("5xx", m.Errors5xx),
		zap.Uint64("unauthorized", m.Unauthorized))
}
