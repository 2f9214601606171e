package hardware

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

var (
	cpuModelPattern = regexp.MustCompile(`(?i)(i[3579]-\w+|Ryzen\s\d\s\w+|Xeon\s\w-\w+|Pentium\s(?:Gold\s|Silver\s)?\w+|Celeron\s\w+)`)
	intelCorePrefix = regexp.MustCompile(`^(?:\d+th Gen\s)?Intel\sCore\s`)
	cpuClockSuffix  = regexp.MustCompile(`\s(?:CPU\s)?@\s.*`)
	trademarkMarks  = regexp.MustCompile(`\((?:R|TM)\)|®|™`)
)

// CPUModel reduces a brand string such as
// "Intel(R) Core(TM) i7-8650U CPU @ 1.90GHz" to "i7-8650U".
func CPUModel(brand string) string {
	brand = strings.Join(strings.Fields(trademarkMarks.ReplaceAllString(brand, "")), " ")
	if brand == "" {
		return ""
	}
	if m := cpuModelPattern.FindStringSubmatch(brand); m != nil {
		return strings.TrimSpace(m[1])
	}
	name := intelCorePrefix.ReplaceAllString(brand, "")
	name = cpuClockSuffix.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

var gpuVendorPrefixes = []string{"Intel", "NVIDIA", "AMD"}

// GPUModel strips trademark marks and the leading vendor name:
// "NVIDIA GeForce RTX 3060" becomes "GeForce RTX 3060".
func GPUModel(name string) string {
	cleaned := strings.Join(strings.Fields(trademarkMarks.ReplaceAllString(name, "")), " ")
	for _, prefix := range gpuVendorPrefixes {
		if len(cleaned) >= len(prefix) && strings.EqualFold(cleaned[:len(prefix)], prefix) {
			cleaned = strings.TrimSpace(cleaned[len(prefix):])
			break
		}
	}
	if cleaned == "" {
		return strings.TrimSpace(name)
	}
	return cleaned
}

var marketingSizesGB = []uint64{120, 128, 240, 250, 256, 480, 500, 512, 960, 1000, 1024, 2048, 4096}

const (
	gib = 1 << 30
	gb  = 1000 * 1000 * 1000
)

// MarketingSizeGB maps an OS-reported capacity to the size printed on the
// box: the closest common size to the decimal capacity. Capacities well
// outside the table are reported in whole decimal GB.
func MarketingSizeGB(capacityBytes uint64) uint64 {
	if capacityBytes == 0 {
		return 0
	}
	estimated := float64(capacityBytes) / gb
	first, last := marketingSizesGB[0], marketingSizesGB[len(marketingSizesGB)-1]
	if estimated < 0.9*float64(first) || estimated > 1.1*float64(last) {
		return uint64(math.Round(estimated))
	}

	best := first
	for _, size := range marketingSizesGB {
		if math.Abs(float64(size)-estimated) < math.Abs(float64(best)-estimated) {
			best = size
		}
	}
	return best
}

// RAMDescription renders total memory as whole GiB, e.g. "16 GB".
func RAMDescription(totalBytes uint64) string {
	if totalBytes == 0 {
		return ""
	}
	return fmt.Sprintf("%d GB", uint64(math.Round(float64(totalBytes)/gib)))
}

// StorageDescription renders a device as its marketing size, e.g. "256 GB".
func StorageDescription(d StorageDevice) string {
	size := MarketingSizeGB(d.CapacityBytes)
	if size == 0 {
		return ""
	}
	if d.Label == "" {
		return fmt.Sprintf("%d GB", size)
	}
	return fmt.Sprintf("%s %d GB", d.Label, size)
}
