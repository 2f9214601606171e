//go:build darwin

package hardware

import (
	"context"
	"os/exec"
	"sync"
)

type darwinSource struct {
	commonSource

	mu       sync.Mutex
	hardware *spHardwareEntry
}

func newPlatformSource() Source {
	return &darwinSource{}
}

func (s *darwinSource) OS() OSFamily { return OSMacOS }

// Manufacturer is always Apple on macOS.
func (s *darwinSource) Manufacturer(ctx context.Context) (string, error) {
	return "Apple", nil
}

func (s *darwinSource) Model(ctx context.Context) (string, error) {
	hw, err := s.hardwareReport(ctx)
	if err != nil {
		return "", err
	}
	if hw.ModelName != "" {
		return hw.ModelName, nil
	}
	if hw.MachineName != "" {
		return hw.MachineName, nil
	}
	return runCommand(ctx, "sysctl", "-n", "hw.model")
}

func (s *darwinSource) Serial(ctx context.Context) (string, error) {
	hw, err := s.hardwareReport(ctx)
	if err != nil {
		return "", err
	}
	return hw.SerialNumber, nil
}

// CPU reports the Apple Silicon chip, or the Intel brand string via gopsutil.
func (s *darwinSource) CPU(ctx context.Context) (string, error) {
	if hw, err := s.hardwareReport(ctx); err == nil && hw.ChipType != "" {
		return hw.ChipType, nil
	}
	return s.commonSource.CPU(ctx)
}

func (s *darwinSource) GPUs(ctx context.Context) ([]string, error) {
	out, err := exec.CommandContext(ctx, "system_profiler", "SPDisplaysDataType", "-json").Output()
	if err != nil {
		return nil, err
	}
	return parseSystemProfilerDisplays(out)
}

func (s *darwinSource) RAM(ctx context.Context) (uint64, error) {
	if hw, err := s.hardwareReport(ctx); err == nil {
		if total := parseSize(hw.PhysicalMemory); total > 0 {
			return total, nil
		}
	}
	return s.commonSource.RAM(ctx)
}

// hardwareReport runs SPHardwareDataType once; only a successful run is cached.
func (s *darwinSource) hardwareReport(ctx context.Context) (spHardwareEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hardware != nil {
		return *s.hardware, nil
	}

	out, err := exec.CommandContext(ctx, "system_profiler", "SPHardwareDataType", "-json").Output()
	if err != nil {
		return spHardwareEntry{}, err
	}
	entry, err := parseSystemProfilerHardware(out)
	if err != nil {
		return spHardwareEntry{}, err
	}
	s.hardware = &entry
	return entry, nil
}
