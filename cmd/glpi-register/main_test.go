package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/breeze-rmm/glpi-register/internal/glpi"
	"github.com/breeze-rmm/glpi-register/internal/hardware"
	"github.com/breeze-rmm/glpi-register/internal/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func withOutput(t *testing.T, format string) {
	t.Helper()
	prev := outputFmt
	outputFmt = format
	t.Cleanup(func() { outputFmt = prev })
}

func TestReportPrintsHint(t *testing.T) {
	var buf bytes.Buffer
	err := fmt.Errorf("submit: %w", &glpi.APIError{Kind: glpi.APIDuplicate, Status: 409, Message: "exists"})

	code := report(&buf, err)
	assert.Equal(t, exitError, code)
	assert.Contains(t, buf.String(), "Error: submit:")
	assert.Contains(t, buf.String(), "Hint: An asset with this serial already exists")
}

func TestReportAlreadyRegisteredIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, exitAlreadyExists, report(&buf, errAlreadyRegistered))
	assert.Empty(t, buf.String())
}

func TestRenderFactsFormats(t *testing.T) {
	facts := hardware.Facts{OS: hardware.OSLinux, Hostname: "ws-042", Serial: "SN-12345"}

	withOutput(t, "json")
	var buf bytes.Buffer
	require.NoError(t, renderFacts(&buf, facts))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "ws-042", decoded["hostname"])
	assert.Contains(t, decoded["absent"], "cpu")

	outputFmt = "yaml"
	buf.Reset()
	require.NoError(t, renderFacts(&buf, facts))
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "SN-12345", decoded["serial"])

	outputFmt = "text"
	buf.Reset()
	require.NoError(t, renderFacts(&buf, facts))
	assert.Contains(t, buf.String(), "hostname      ws-042")
	assert.Contains(t, buf.String(), "cpu           -")
}

func TestRenderSubmissionCreated(t *testing.T) {
	withOutput(t, "text")
	res := submission.Result{
		Status:  submission.StatusCreated,
		Asset:   glpi.ComputerAsset{ID: 42, Name: "ws-042", Serial: "SN-12345"},
		Locator: "https://glpi.example.com/front/computer.form.php?id=42",
	}

	var buf bytes.Buffer
	require.NoError(t, renderSubmission(&buf, nil, res))
	assert.Contains(t, buf.String(), `Created computer "ws-042" with id 42.`)
	assert.Contains(t, buf.String(), "Open in GLPI: https://glpi.example.com/front/computer.form.php?id=42")
}

func TestRenderSubmissionListsUnresolvedNames(t *testing.T) {
	res := submission.Result{
		Status:  submission.StatusCreated,
		Asset:   glpi.ComputerAsset{ID: 42, Name: "ws-042"},
		Locator: "https://glpi.example.com/front/computer.form.php?id=42",
		Unresolved: []glpi.UnresolvedName{
			{ItemType: "Manufacturer", Name: "Unknown Vendor"},
			{ItemType: "DeviceGraphicCard", Name: "UHD Graphics 620"},
		},
	}

	withOutput(t, "text")
	var buf bytes.Buffer
	require.NoError(t, renderSubmission(&buf, nil, res))
	assert.Contains(t, buf.String(), "Not known to GLPI, left out of the record:")
	assert.Contains(t, buf.String(), "Manufacturer       Unknown Vendor")
	assert.Contains(t, buf.String(), "DeviceGraphicCard  UHD Graphics 620")

	outputFmt = "json"
	buf.Reset()
	require.NoError(t, renderSubmission(&buf, nil, res))
	var decoded struct {
		Unresolved []glpi.UnresolvedName `json:"unresolved"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, res.Unresolved, decoded.Unresolved)
}

func TestSetupRejectsUnknownOutput(t *testing.T) {
	withOutput(t, "xml")
	err := setup(gatherCmd, nil)
	assert.ErrorContains(t, err, `unknown output format "xml"`)
}

func TestSetupStopsOnFatalConfig(t *testing.T) {
	withOutput(t, "text")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("glpi_url: ftp://glpi.example.com\n"), 0600))

	prev := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = prev })

	err := setup(gatherCmd, nil)
	assert.ErrorContains(t, err, "glpi_url scheme must be http or https")
}

func TestNewAppRequiresServer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app_token: abc\n"), 0600))

	prev := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = prev })
	withOutput(t, "text")
	require.NoError(t, setup(searchCmd, nil))

	_, err := newApp(cfg)
	assert.ErrorContains(t, err, "glpi_url is not configured")
}

func TestReadPasswordTrimsNewline(t *testing.T) {
	pw, err := readPassword(bytes.NewBufferString("s3cret\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)

	pw, err = readPassword(bytes.NewBufferString("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", pw)
}
