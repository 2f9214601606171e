//go:build linux

package hardware

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const sysDMIDir = "/sys/class/dmi/id"

// linuxSource reads identity from the kernel DMI tables and falls back to
// dmidecode, which needs root, for values sysfs hides from other users.
type linuxSource struct {
	commonSource
	dmiDir string
	isRoot func() bool
}

func newPlatformSource() Source {
	return &linuxSource{
		dmiDir: sysDMIDir,
		isRoot: func() bool { return unix.Geteuid() == 0 },
	}
}

func (s *linuxSource) OS() OSFamily { return OSLinux }

func (s *linuxSource) Manufacturer(ctx context.Context) (string, error) {
	return s.identity(ctx, "sys_vendor", "system-manufacturer")
}

func (s *linuxSource) Model(ctx context.Context) (string, error) {
	return s.identity(ctx, "product_name", "system-product-name")
}

func (s *linuxSource) Serial(ctx context.Context) (string, error) {
	return s.identity(ctx, "product_serial", "system-serial-number")
}

func (s *linuxSource) identity(ctx context.Context, file, keyword string) (string, error) {
	if v := readDMI(s.dmiDir, file); v != "" {
		return v, nil
	}
	if !s.isRoot() {
		log.Debug("dmi value unreadable and not running as root", zap.String("file", file))
		return "", nil
	}
	out, err := runCommand(ctx, "dmidecode", "-s", keyword)
	if err != nil {
		return "", err
	}
	return lastDataLine(out), nil
}

func (s *linuxSource) GPUs(ctx context.Context) ([]string, error) {
	out, err := runCommand(ctx, "lspci")
	if err != nil {
		return nil, err
	}
	return parseLspciGPUs(out), nil
}

// RAM prefers installed module sizes over the kernel's usable total,
// which excludes firmware reservations.
func (s *linuxSource) RAM(ctx context.Context) (uint64, error) {
	if s.isRoot() {
		out, err := runCommand(ctx, "dmidecode", "--type", "memory")
		if err == nil {
			if total := parseDmidecodeMemory(out); total > 0 {
				return total, nil
			}
		} else {
			log.Debug("dmidecode memory query failed", zap.Error(err))
		}
	}
	return s.commonSource.RAM(ctx)
}

// readDMI reads a value from the DMI sysfs directory.
func readDMI(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// lastDataLine skips the "# SMBIOS ..." notices dmidecode prints first.
func lastDataLine(out string) string {
	var last string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		last = line
	}
	return last
}
