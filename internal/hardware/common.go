package hardware

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

var errUnsupported = errors.New("not supported on this platform")

// commonSource answers the fields gopsutil covers on every platform.
// Platform sources embed it and override what they can do better.
type commonSource struct{}

func (commonSource) Hostname(ctx context.Context) (string, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get host info: %w", err)
	}
	return info.Hostname, nil
}

func (commonSource) OSVersion(ctx context.Context) (string, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get host info: %w", err)
	}
	return strings.TrimSpace(info.Platform + " " + info.PlatformVersion), nil
}

func (commonSource) CPU(ctx context.Context) (string, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get CPU info: %w", err)
	}
	if len(infos) == 0 {
		return "", nil
	}
	return infos[0].ModelName, nil
}

func (commonSource) RAM(ctx context.Context) (uint64, error) {
	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get memory info: %w", err)
	}
	return vmem.Total, nil
}

// Storage reports one entry per physical device backing a real filesystem.
func (commonSource) Storage(ctx context.Context) ([]StorageDevice, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk partitions: %w", err)
	}

	byDevice := make(map[string]StorageDevice)
	for _, partition := range partitions {
		if shouldSkipPartition(partition) {
			continue
		}
		if _, seen := byDevice[partition.Device]; seen {
			continue
		}
		usage, err := disk.UsageWithContext(ctx, partition.Mountpoint)
		if err != nil {
			log.Debug("failed to get disk usage",
				zap.String("device", partition.Device),
				zap.String("mountpoint", partition.Mountpoint),
				zap.Error(err))
			continue
		}
		byDevice[partition.Device] = StorageDevice{Label: partition.Mountpoint, CapacityBytes: usage.Total}
	}

	devices := make([]StorageDevice, 0, len(byDevice))
	for _, d := range byDevice {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Label < devices[j].Label })
	return devices, nil
}

var skipFSTypes = map[string]bool{
	"devfs":       true,
	"devtmpfs":    true,
	"tmpfs":       true,
	"squashfs":    true,
	"overlay":     true,
	"aufs":        true,
	"proc":        true,
	"sysfs":       true,
	"cgroup":      true,
	"cgroup2":     true,
	"debugfs":     true,
	"securityfs":  true,
	"pstore":      true,
	"configfs":    true,
	"fusectl":     true,
	"mqueue":      true,
	"hugetlbfs":   true,
	"binfmt_misc": true,
	"autofs":      true,
	"nullfs":      true,
}

func shouldSkipPartition(p disk.PartitionStat) bool {
	if skipFSTypes[p.Fstype] {
		return true
	}
	// Snap and loop images are read-only packages, not disks.
	return strings.HasPrefix(p.Device, "/dev/loop")
}

// runCommand runs an external tool and returns its trimmed stdout.
func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}
