//go:build windows

package hardware

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/go-ole/go-ole"
	"github.com/yusufpapurcu/wmi"
)

const sFalse = 0x00000001

type win32BIOS struct {
	SerialNumber string
}

type win32ComputerSystem struct {
	Manufacturer string
	Model        string
}

type win32Processor struct {
	Name string
}

type win32VideoController struct {
	Name string
}

type win32PhysicalMemory struct {
	Capacity uint64
}

type win32DiskDrive struct {
	Index uint32
	Model string
	Size  uint64
}

type windowsSource struct {
	commonSource
}

func newPlatformSource() Source {
	return &windowsSource{}
}

func (s *windowsSource) OS() OSFamily { return OSWindows }

func (s *windowsSource) Manufacturer(ctx context.Context) (string, error) {
	var cs []win32ComputerSystem
	if err := query("SELECT Manufacturer, Model FROM Win32_ComputerSystem", &cs); err != nil {
		return "", err
	}
	if len(cs) == 0 {
		return "", nil
	}
	return cs[0].Manufacturer, nil
}

func (s *windowsSource) Model(ctx context.Context) (string, error) {
	var cs []win32ComputerSystem
	if err := query("SELECT Manufacturer, Model FROM Win32_ComputerSystem", &cs); err != nil {
		return "", err
	}
	if len(cs) == 0 {
		return "", nil
	}
	return cs[0].Model, nil
}

func (s *windowsSource) Serial(ctx context.Context) (string, error) {
	var bios []win32BIOS
	if err := query("SELECT SerialNumber FROM Win32_BIOS", &bios); err != nil {
		return "", err
	}
	if len(bios) == 0 {
		return "", nil
	}
	return bios[0].SerialNumber, nil
}

func (s *windowsSource) CPU(ctx context.Context) (string, error) {
	var procs []win32Processor
	if err := query("SELECT Name FROM Win32_Processor", &procs); err != nil {
		return s.commonSource.CPU(ctx)
	}
	if len(procs) == 0 {
		return "", nil
	}
	return procs[0].Name, nil
}

func (s *windowsSource) GPUs(ctx context.Context) ([]string, error) {
	var controllers []win32VideoController
	if err := query("SELECT Name FROM Win32_VideoController", &controllers); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(controllers))
	for _, c := range controllers {
		names = append(names, c.Name)
	}
	return names, nil
}

// RAM sums installed modules; it falls back to the usable total if WMI
// reports none (common on some hypervisors).
func (s *windowsSource) RAM(ctx context.Context) (uint64, error) {
	var modules []win32PhysicalMemory
	if err := query("SELECT Capacity FROM Win32_PhysicalMemory", &modules); err == nil {
		var total uint64
		for _, m := range modules {
			total += m.Capacity
		}
		if total > 0 {
			return total, nil
		}
	}
	return s.commonSource.RAM(ctx)
}

func (s *windowsSource) Storage(ctx context.Context) ([]StorageDevice, error) {
	var drives []win32DiskDrive
	if err := query("SELECT Index, Model, Size FROM Win32_DiskDrive", &drives); err != nil {
		return s.commonSource.Storage(ctx)
	}
	devices := make([]StorageDevice, 0, len(drives))
	for _, d := range drives {
		label := strings.TrimSpace(d.Model)
		if label == "" {
			label = fmt.Sprintf("Disk %d", d.Index)
		}
		devices = append(devices, StorageDevice{Label: label, CapacityBytes: d.Size})
	}
	return devices, nil
}

// query runs one WMI query inside its own COM scope on a locked thread.
func query(q string, dst any) error {
	return withCOM(func() error {
		return wmi.Query(q, dst)
	})
}

func withCOM(fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		var oleErr *ole.OleError
		// S_FALSE: COM was already initialised on this thread; still balance it.
		if !errors.As(err, &oleErr) || oleErr.Code() != sFalse {
			return fmt.Errorf("failed to initialize COM: %w", err)
		}
	}
	defer ole.CoUninitialize()

	return fn()
}
