// Package hardware gathers the inventory facts registered with GLPI:
// identity (manufacturer, model, serial), CPU, GPUs, RAM and storage.
//
// Collection never fails as a whole. A field whose probe errors, panics or
// runs past its timeout is simply absent from the returned Facts.
package hardware

// OSFamily tags the platform the facts were gathered on.
type OSFamily string

const (
	OSWindows OSFamily = "windows"
	OSLinux   OSFamily = "linux"
	OSMacOS   OSFamily = "macos"
)

// Field names one probed attribute of Facts.
type Field string

const (
	FieldHostname     Field = "hostname"
	FieldOSVersion    Field = "os_version"
	FieldManufacturer Field = "manufacturer"
	FieldModel        Field = "model"
	FieldSerial       Field = "serial"
	FieldCPU          Field = "cpu"
	FieldGPU          Field = "gpu"
	FieldRAM          Field = "ram"
	FieldStorage      Field = "storage"
)

// Fields lists every probed field in display order.
var Fields = []Field{
	FieldHostname,
	FieldOSVersion,
	FieldManufacturer,
	FieldModel,
	FieldSerial,
	FieldCPU,
	FieldGPU,
	FieldRAM,
	FieldStorage,
}

// StorageDevice is one disk as reported by the platform.
type StorageDevice struct {
	Label         string `json:"label" yaml:"label"`
	CapacityBytes uint64 `json:"capacityBytes" yaml:"capacity_bytes"`
}

// Facts is a snapshot of the local machine. Absent values are the zero
// value: empty string, nil slice or nil RAMBytes.
type Facts struct {
	OS           OSFamily        `json:"os" yaml:"os"`
	Hostname     string          `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	OSVersion    string          `json:"osVersion,omitempty" yaml:"os_version,omitempty"`
	Manufacturer string          `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	Model        string          `json:"model,omitempty" yaml:"model,omitempty"`
	Serial       string          `json:"serial,omitempty" yaml:"serial,omitempty"`
	CPU          string          `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	GPUs         []string        `json:"gpus,omitempty" yaml:"gpus,omitempty"`
	RAMBytes     *uint64         `json:"ramBytes,omitempty" yaml:"ram_bytes,omitempty"`
	Storage      []StorageDevice `json:"storage,omitempty" yaml:"storage,omitempty"`
}

// Has reports whether field carries a value.
func (f Facts) Has(field Field) bool {
	switch field {
	case FieldHostname:
		return f.Hostname != ""
	case FieldOSVersion:
		return f.OSVersion != ""
	case FieldManufacturer:
		return f.Manufacturer != ""
	case FieldModel:
		return f.Model != ""
	case FieldSerial:
		return f.Serial != ""
	case FieldCPU:
		return f.CPU != ""
	case FieldGPU:
		return len(f.GPUs) > 0
	case FieldRAM:
		return f.RAMBytes != nil
	case FieldStorage:
		return len(f.Storage) > 0
	}
	return false
}

// Absent lists the fields without a value, in Fields order.
func (f Facts) Absent() []Field {
	var absent []Field
	for _, field := range Fields {
		if !f.Has(field) {
			absent = append(absent, field)
		}
	}
	return absent
}
