package hardware

import (
	"bufio"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var (
	lspciDisplayClasses = []string{"VGA compatible controller", "3D controller", "Display controller"}
	lspciRevision       = regexp.MustCompile(`\s*\(rev [0-9a-fA-F]+\)$`)
)

// parseLspciGPUs extracts display adapters from plain `lspci` output:
//
//	00:02.0 VGA compatible controller: Intel Corporation UHD Graphics 620 (rev 07)
func parseLspciGPUs(out string) []string {
	var gpus []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if !isDisplayClass(line) {
			continue
		}
		parts := strings.SplitN(line, ": ", 2)
		if len(parts) != 2 {
			continue
		}
		name := lspciRevision.ReplaceAllString(strings.TrimSpace(parts[1]), "")
		if name != "" {
			gpus = append(gpus, name)
		}
	}
	return gpus
}

func isDisplayClass(line string) bool {
	for _, class := range lspciDisplayClasses {
		if strings.Contains(line, class) {
			return true
		}
	}
	return false
}

var sizeUnits = map[string]uint64{
	"kB": 1 << 10,
	"KB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
	"TB": 1 << 40,
}

// parseDmidecodeMemory sums the "Size:" lines of `dmidecode --type memory`.
// Empty slots ("No Module Installed") and other size lines are ignored.
func parseDmidecodeMemory(out string) uint64 {
	var total uint64
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		value, ok := strings.CutPrefix(line, "Size:")
		if !ok {
			continue
		}
		total += parseSize(value)
	}
	return total
}

// parseSize reads "8192 MB" or "16 GB". Anything else is zero.
func parseSize(s string) uint64 {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0
	}
	n, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0
	}
	return n * sizeUnits[fields[1]]
}

// system_profiler -json structures
type spHardwareReport struct {
	SPHardwareDataType []spHardwareEntry `json:"SPHardwareDataType"`
}

type spHardwareEntry struct {
	SerialNumber   string `json:"serial_number"`
	MachineName    string `json:"machine_name"`
	MachineModel   string `json:"machine_model"`
	ModelName      string `json:"model_name"`
	ChipType       string `json:"chip_type"`
	CPUType        string `json:"cpu_type"`
	PhysicalMemory string `json:"physical_memory"`
}

type spDisplaysReport struct {
	SPDisplaysDataType []spDisplayEntry `json:"SPDisplaysDataType"`
}

type spDisplayEntry struct {
	ChipsetModel string `json:"sppci_model"`
}

func parseSystemProfilerHardware(data []byte) (spHardwareEntry, error) {
	var report spHardwareReport
	if err := json.Unmarshal(data, &report); err != nil {
		return spHardwareEntry{}, err
	}
	if len(report.SPHardwareDataType) == 0 {
		return spHardwareEntry{}, nil
	}
	return report.SPHardwareDataType[0], nil
}

func parseSystemProfilerDisplays(data []byte) ([]string, error) {
	var report spDisplaysReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}
	var gpus []string
	for _, d := range report.SPDisplaysDataType {
		if d.ChipsetModel != "" {
			gpus = append(gpus, d.ChipsetModel)
		}
	}
	return gpus, nil
}
