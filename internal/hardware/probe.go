package hardware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/breeze-rmm/glpi-register/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var log = logging.L("hardware")

const (
	// DefaultFieldTimeout bounds every individual field probe.
	DefaultFieldTimeout = 15 * time.Second
	defaultConcurrency  = 4
)

// Source reads raw facts from one platform. Each method answers exactly one
// field; an empty value with a nil error means the platform has no answer.
type Source interface {
	OS() OSFamily
	Hostname(ctx context.Context) (string, error)
	OSVersion(ctx context.Context) (string, error)
	Manufacturer(ctx context.Context) (string, error)
	Model(ctx context.Context) (string, error)
	Serial(ctx context.Context) (string, error)
	CPU(ctx context.Context) (string, error)
	GPUs(ctx context.Context) ([]string, error)
	RAM(ctx context.Context) (uint64, error)
	Storage(ctx context.Context) ([]StorageDevice, error)
}

// NewSource returns the Source for the platform this binary was built for.
func NewSource() Source {
	return newPlatformSource()
}

// Probe fans field probes out over a Source and merges the answers.
type Probe struct {
	src         Source
	timeout     time.Duration
	concurrency int
}

// Option configures a Probe.
type Option func(*Probe)

// WithFieldTimeout sets the per-field deadline. Non-positive values are ignored.
func WithFieldTimeout(d time.Duration) Option {
	return func(p *Probe) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithConcurrency caps how many field probes run at once.
func WithConcurrency(n int) Option {
	return func(p *Probe) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// NewProbe creates a Probe over src. A nil src selects the platform source.
func NewProbe(src Source, opts ...Option) *Probe {
	if src == nil {
		src = NewSource()
	}
	p := &Probe{src: src, timeout: DefaultFieldTimeout, concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Gather probes every field and returns whatever could be read.
func (p *Probe) Gather(ctx context.Context) Facts {
	start := time.Now()
	facts := Facts{OS: p.src.OS()}

	// Each goroutine writes only its own field of facts.
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	g.Go(func() error {
		if v, ok := probeField(ctx, p.timeout, FieldHostname, p.src.Hostname); ok {
			facts.Hostname = strings.TrimSpace(v)
		}
		return nil
	})
	g.Go(func() error {
		if v, ok := probeField(ctx, p.timeout, FieldOSVersion, p.src.OSVersion); ok {
			facts.OSVersion = strings.TrimSpace(v)
		}
		return nil
	})
	g.Go(func() error {
		if v, ok := probeField(ctx, p.timeout, FieldManufacturer, p.src.Manufacturer); ok {
			facts.Manufacturer = cleanIdentity(v)
		}
		return nil
	})
	g.Go(func() error {
		if v, ok := probeField(ctx, p.timeout, FieldModel, p.src.Model); ok {
			facts.Model = cleanIdentity(v)
		}
		return nil
	})
	g.Go(func() error {
		if v, ok := probeField(ctx, p.timeout, FieldSerial, p.src.Serial); ok {
			facts.Serial = cleanIdentity(v)
		}
		return nil
	})
	g.Go(func() error {
		if v, ok := probeField(ctx, p.timeout, FieldCPU, p.src.CPU); ok {
			facts.CPU = strings.Join(strings.Fields(v), " ")
		}
		return nil
	})
	g.Go(func() error {
		if v, ok := probeField(ctx, p.timeout, FieldGPU, p.src.GPUs); ok {
			facts.GPUs = filterGPUs(v)
		}
		return nil
	})
	g.Go(func() error {
		if v, ok := probeField(ctx, p.timeout, FieldRAM, p.src.RAM); ok && v > 0 {
			facts.RAMBytes = &v
		}
		return nil
	})
	g.Go(func() error {
		if v, ok := probeField(ctx, p.timeout, FieldStorage, p.src.Storage); ok {
			facts.Storage = filterStorage(v)
		}
		return nil
	})

	_ = g.Wait()

	log.Debug("hardware gather complete",
		zap.String("os", string(facts.OS)),
		zap.Int64(logging.KeyDurationMs, time.Since(start).Milliseconds()),
		zap.Any("absent", facts.Absent()))
	return facts
}

type fieldResult[T any] struct {
	value T
	err   error
}

// probeField runs fn under its own deadline. A probe that overruns is
// abandoned; its late answer lands in a buffered channel nobody reads.
func probeField[T any](ctx context.Context, timeout time.Duration, field Field, fn func(context.Context) (T, error)) (T, bool) {
	var zero T
	fieldCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan fieldResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fieldResult[T]{err: fmt.Errorf("probe panicked: %v", r)}
			}
		}()
		v, err := fn(fieldCtx)
		done <- fieldResult[T]{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			log.Warn("hardware probe failed", zap.String(logging.KeyField, string(field)), zap.Error(res.err))
			return zero, false
		}
		return res.value, true
	case <-fieldCtx.Done():
		log.Warn("hardware probe abandoned", zap.String(logging.KeyField, string(field)), zap.Error(fieldCtx.Err()))
		return zero, false
	}
}

// Firmware placeholders that mean "not set".
var placeholderValues = map[string]bool{
	"to be filled by o.e.m.": true,
	"default string":         true,
	"system serial number":   true,
	"system manufacturer":    true,
	"system product name":    true,
	"not specified":          true,
	"not applicable":         true,
	"none":                   true,
	"unknown":                true,
	"n/a":                    true,
	"0":                      true,
}

func cleanIdentity(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if placeholderValues[strings.ToLower(s)] {
		return ""
	}
	return s
}

const basicDisplayAdapter = "Microsoft Basic Display Adapter"

// filterGPUs trims names, drops blanks and duplicates, and hides the
// Windows fallback adapter when a real one is present.
func filterGPUs(in []string) []string {
	var all, real []string
	seen := make(map[string]bool, len(in))
	for _, name := range in {
		name = strings.Join(strings.Fields(name), " ")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		all = append(all, name)
		if !strings.Contains(name, basicDisplayAdapter) {
			real = append(real, name)
		}
	}
	if len(real) > 0 {
		return real
	}
	return all
}

func filterStorage(in []StorageDevice) []StorageDevice {
	var out []StorageDevice
	for _, d := range in {
		if d.CapacityBytes == 0 {
			continue
		}
		d.Label = strings.TrimSpace(d.Label)
		out = append(out, d)
	}
	return out
}
