//go:build !linux && !windows && !darwin

package hardware

import (
	"context"
	"runtime"
)

// otherSource knows only which OS it is running on.
type otherSource struct{}

func newPlatformSource() Source {
	return otherSource{}
}

func (otherSource) OS() OSFamily { return OSFamily(runtime.GOOS) }

func (otherSource) Hostname(context.Context) (string, error)     { return "", errUnsupported }
func (otherSource) OSVersion(context.Context) (string, error)    { return "", errUnsupported }
func (otherSource) Manufacturer(context.Context) (string, error) { return "", errUnsupported }
func (otherSource) Model(context.Context) (string, error)        { return "", errUnsupported }
func (otherSource) Serial(context.Context) (string, error)       { return "", errUnsupported }
func (otherSource) CPU(context.Context) (string, error)          { return "", errUnsupported }
func (otherSource) GPUs(context.Context) ([]string, error)       { return nil, errUnsupported }
func (otherSource) RAM(context.Context) (uint64, error)          { return 0, errUnsupported }

func (otherSource) Storage(context.Context) ([]StorageDevice, error) {
	return nil, errUnsupported
}
