package submission

import (
	"strings"

	"github.com/breeze-rmm/glpi-register/internal/glpi"
	"github.com/breeze-rmm/glpi-register/internal/hardware"
)

// Overrides are operator-supplied values. A field wins over the gathered
// fact when it is non-empty after trimming.
type Overrides struct {
	Name            string
	Serial          string
	Manufacturer    string
	Model           string
	Location        string
	Comment         string
	Processor       string
	GraphicCards    []string
	Memory          string
	HardDrives      []string
	OperatingSystem string
	OSVersion       string
}

var osNames = map[hardware.OSFamily]string{
	hardware.OSWindows: "Windows",
	hardware.OSLinux:   "Linux",
	hardware.OSMacOS:   "macOS",
}

// FromFacts describes the gathered facts as a Computer asset. Absent facts
// stay empty.
func FromFacts(f hardware.Facts) glpi.ComputerAsset {
	asset := glpi.ComputerAsset{
		Name:         f.Hostname,
		Serial:       f.Serial,
		Manufacturer: f.Manufacturer,
		Model:        f.Model,
		OSVersion:    f.OSVersion,
	}
	if f.CPU != "" {
		asset.Processor = hardware.CPUModel(f.CPU)
	}
	for _, gpu := range f.GPUs {
		if name := hardware.GPUModel(gpu); name != "" {
			asset.GraphicCards = append(asset.GraphicCards, name)
		}
	}
	if f.RAMBytes != nil {
		asset.Memory = hardware.RAMDescription(*f.RAMBytes)
	}
	for _, d := range f.Storage {
		if desc := hardware.StorageDescription(d); desc != "" {
			asset.HardDrives = append(asset.HardDrives, desc)
		}
	}
	if f.OSVersion != "" {
		asset.OperatingSystem = osNames[f.OS]
	}
	asset.Comment = summary(asset)
	return asset
}

// summary is the one-line hardware description stored as the comment.
func summary(a glpi.ComputerAsset) string {
	var parts []string
	if a.Processor != "" {
		parts = append(parts, a.Processor)
	}
	if a.Memory != "" {
		parts = append(parts, a.Memory+" RAM")
	}
	parts = append(parts, a.HardDrives...)
	parts = append(parts, a.GraphicCards...)
	return strings.Join(parts, ", ")
}

// Merge applies o over the asset described by facts. Without a comment
// override the summary describes the merged hardware.
func Merge(facts hardware.Facts, o Overrides) glpi.ComputerAsset {
	out := o.Apply(FromFacts(facts))
	if strings.TrimSpace(o.Comment) == "" {
		out.Comment = summary(out)
	}
	return out
}

// Apply returns base with every non-empty override in place. Empty
// overrides return base unchanged.
func (o Overrides) Apply(base glpi.ComputerAsset) glpi.ComputerAsset {
	out := base
	out.Name = pick(o.Name, base.Name)
	out.Serial = pick(o.Serial, base.Serial)
	out.Manufacturer = pick(o.Manufacturer, base.Manufacturer)
	out.Model = pick(o.Model, base.Model)
	out.Location = pick(o.Location, base.Location)
	out.Comment = pick(o.Comment, base.Comment)
	out.Processor = pick(o.Processor, base.Processor)
	out.GraphicCards = pickList(o.GraphicCards, base.GraphicCards)
	out.Memory = pick(o.Memory, base.Memory)
	out.HardDrives = pickList(o.HardDrives, base.HardDrives)
	out.OperatingSystem = pick(o.OperatingSystem, base.OperatingSystem)
	out.OSVersion = pick(o.OSVersion, base.OSVersion)
	return out
}

func pick(override, fact string) string {
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	return fact
}

func pickList(override, fact []string) []string {
	var out []string
	for _, v := range override {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return fact
	}
	return out
}
