// Package submission turns gathered hardware facts into a GLPI Computer,
// checking for an existing asset with the same serial before creating one.
package submission

import (
	"context"
	"strings"

	"github.com/breeze-rmm/glpi-register/internal/glpi"
	"github.com/breeze-rmm/glpi-register/internal/hardware"
	"github.com/breeze-rmm/glpi-register/internal/logging"
	"go.uber.org/zap"
)

var log = logging.L("submission")

// Status is the outcome of a submission.
type Status string

const (
	StatusCreated       Status = "created"
	StatusAlreadyExists Status = "already_exists"
)

// Result is what Submit hands back to the caller. Asset is the merged
// asset; it carries an ID only when Status is StatusCreated. Unresolved
// lists the names GLPI did not know and that were left out of the record.
type Result struct {
	Status     Status                `json:"status" yaml:"status"`
	Asset      glpi.ComputerAsset    `json:"asset" yaml:"asset"`
	Locator    string                `json:"locator,omitempty" yaml:"locator,omitempty"`
	Matches    []glpi.ComputerAsset  `json:"matches,omitempty" yaml:"matches,omitempty"`
	Unresolved []glpi.UnresolvedName `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
}

// AssetService is the subset of glpi.AssetClient the pipeline drives.
type AssetService interface {
	FindBySerial(ctx context.Context, serial string) ([]glpi.ComputerAsset, error)
	Create(ctx context.Context, asset glpi.ComputerAsset) (glpi.ComputerAsset, error)
	ResourceLocator(asset glpi.ComputerAsset) (string, error)
}

// SessionRefresher re-establishes a session after the server rejected one.
type SessionRefresher interface {
	EnsureValid(ctx context.Context) (*glpi.Session, error)
}

// Options tune a single submission.
type Options struct {
	// Force creates the asset even when the serial is already registered.
	Force bool
}

// Pipeline runs find-or-create submissions.
type Pipeline struct {
	assets          AssetService
	sessions        SessionRefresher
	defaultLocation string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDefaultLocation sets the location used when neither the overrides
// nor the facts provide one.
func WithDefaultLocation(location string) Option {
	return func(p *Pipeline) { p.defaultLocation = strings.TrimSpace(location) }
}

// New returns a Pipeline backed by assets, refreshing through sessions.
func New(assets AssetService, sessions SessionRefresher, opts ...Option) *Pipeline {
	p := &Pipeline{assets: assets, sessions: sessions}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Asset returns the asset Submit would send for facts and overrides.
func (p *Pipeline) Asset(facts hardware.Facts, overrides Overrides) glpi.ComputerAsset {
	asset := Merge(facts, overrides)
	if asset.Location == "" {
		asset.Location = p.defaultLocation
	}
	return asset
}

// Submit registers the machine described by facts and overrides. A serial
// already known to GLPI yields StatusAlreadyExists with every match unless
// opts.Force is set; nothing is created or updated in that case.
func (p *Pipeline) Submit(ctx context.Context, facts hardware.Facts, overrides Overrides, opts Options) (Result, error) {
	asset := p.Asset(facts, overrides)
	if asset.Name == "" {
		return Result{Asset: asset}, &glpi.APIError{Kind: glpi.APIValidation, Message: "no name given and no hostname gathered"}
	}
	l := log.With(zap.String("name", asset.Name), zap.String("serial", asset.Serial))

	if asset.Serial != "" {
		var matches []glpi.ComputerAsset
		err := p.withReauth(ctx, "search", func() error {
			var err error
			matches, err = p.assets.FindBySerial(ctx, asset.Serial)
			return err
		})
		if err != nil {
			return Result{Asset: asset}, err
		}
		if len(matches) > 0 {
			if !opts.Force {
				l.Info("serial already registered", zap.Int("matches", len(matches)))
				return Result{Status: StatusAlreadyExists, Asset: asset, Matches: matches}, nil
			}
			l.Warn("serial already registered, creating anyway", zap.Int("matches", len(matches)))
		}
	} else {
		l.Warn("no serial number, skipping duplicate check")
	}

	var created glpi.ComputerAsset
	err := p.withReauth(ctx, "create", func() error {
		var err error
		created, err = p.assets.Create(ctx, asset)
		return err
	})
	if err != nil {
		return Result{Asset: asset}, err
	}

	locator, err := p.assets.ResourceLocator(created)
	if err != nil {
		return Result{Asset: created}, err
	}
	l.Info("asset registered", zap.Int("id", created.ID), zap.Int("unresolved", len(created.Unresolved)))
	return Result{Status: StatusCreated, Asset: created, Locator: locator, Unresolved: created.Unresolved}, nil
}

// withReauth runs fn and, when the server rejected the session, refreshes
// it once and runs fn once more. A second rejection is returned as is.
func (p *Pipeline) withReauth(ctx context.Context, step string, fn func() error) error {
	err := fn()
	if !glpi.IsUnauthorized(err) {
		return err
	}
	log.Info("session rejected, refreshing", zap.String(logging.KeyOperation, step))
	if _, rerr := p.sessions.EnsureValid(ctx); rerr != nil {
		return rerr
	}
	return fn()
}
