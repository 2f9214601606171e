//go:build linux

package hardware

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinuxSourceReadsDMI(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sys_vendor"), []byte("LENOVO\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "product_name"), []byte("20L8S02D00\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "product_serial"), []byte("PF1ABCDE\n"), 0644))

	src := &linuxSource{dmiDir: dir, isRoot: func() bool { return false }}
	ctx := context.Background()

	manufacturer, err := src.Manufacturer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "LENOVO", manufacturer)

	model, err := src.Model(ctx)
	require.NoError(t, err)
	assert.Equal(t, "20L8S02D00", model)

	serial, err := src.Serial(ctx)
	require.NoError(t, err)
	assert.Equal(t, "PF1ABCDE", serial)
}

func TestLinuxSourceUnreadableSerialWithoutRoot(t *testing.T) {
	src := &linuxSource{dmiDir: t.TempDir(), isRoot: func() bool { return false }}

	serial, err := src.Serial(context.Background())
	require.NoError(t, err)
	assert.Empty(t, serial, "without root there is no dmidecode fallback")
}

func TestLastDataLine(t *testing.T) {
	out := "# SMBIOS implementations newer than version 3.2.0 are not\n# fully supported by this version of dmidecode.\nPF1ABCDE\n"
	assert.Equal(t, "PF1ABCDE", lastDataLine(out))
	assert.Empty(t, lastDataLine("# only a notice\n"))
}

func TestPlatformSourceIsLinux(t *testing.T) {
	assert.Equal(t, OSLinux, NewSource().OS())
}
