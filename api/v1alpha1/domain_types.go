package v1alpha1

import (
	"encoding/json"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DomainState is the lifecycle lozenge shown for a domain.
type DomainState string

const (
	DomainStateNoState     DomainState = "no state"
	DomainStateRunning     DomainState = "running"
	DomainStateBlocked     DomainState = "idle"
	DomainStatePaused      DomainState = "paused"
	DomainStateShutdown    DomainState = "shutdown"
	DomainStateShutoff     DomainState = "shut off"
	DomainStateCrashed     DomainState = "crashed"
	DomainStatePMSuspended DomainState = "pmsuspended"
)

// DomainStateFromCode maps a virDomainState value to a DomainState.
// Unknown values map to DomainStateNoState.
func DomainStateFromCode(code int32) DomainState {
	switch code {
	case 1:
		return DomainStateRunning
	case 2:
		return DomainStateBlocked
	case 3:
		return DomainStatePaused
	case 4:
		return DomainStateShutdown
	case 5:
		return DomainStateShutoff
	case 6:
		return DomainStateCrashed
	case 7:
		return DomainStatePMSuspended
	default:
		return DomainStateNoState
	}
}

// Domain is the mirrored state of one libvirt domain.
type Domain struct {
	TypeMeta   `json:",inline" yaml:",inline"`
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Scope is the connection the domain lives on.
	Scope Scope `json:"scope" yaml:"scope"`

	// Path is the object path of the domain on that connection.
	Path string `json:"path" yaml:"path"`

	// ID is the hypervisor id while running, -1 otherwise.
	ID int32 `json:"id" yaml:"id"`

	State      DomainState `json:"state,omitempty" yaml:"state,omitempty"`
	Persistent bool        `json:"persistent" yaml:"persistent"`
	Autostart  bool        `json:"autostart" yaml:"autostart"`

	// Live is the running configuration. It may be stale when the domain
	// is not running.
	// +optional
	Live *DomainConfig `json:"live,omitempty" yaml:"live,omitempty"`

	// Inactive is the persisted configuration. Always nil for transient
	// domains.
	// +optional
	Inactive *DomainConfig `json:"inactive,omitempty" yaml:"inactive,omitempty"`

	// +optional
	Snapshots []Snapshot `json:"snapshots,omitempty" yaml:"snapshots,omitempty"`

	// Usage holds the last statistics sample. Reset when the domain stops.
	Usage UsageSample `json:"usage" yaml:"usage"`

	// UsagePolling is true while a usage poller should keep running for
	// this domain.
	UsagePolling bool `json:"usagePolling" yaml:"usagePolling"`
}

// Key returns the store key of the domain.
func (d *Domain) Key() Key {
	return Key{Scope: d.Scope, Path: d.Path}
}

// IsTransient reports whether the domain has no persisted configuration.
func (d *Domain) IsTransient() bool {
	return !d.Persistent
}

// DomainConfig is the normalized form of a domain XML descriptor.
type DomainConfig struct {
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// MemoryKiB is the maximum memory allocation in KiB.
	MemoryKiB uint64 `json:"memoryKiB,omitempty" yaml:"memoryKiB,omitempty"`

	// CurrentMemoryKiB is the balloon target in KiB.
	CurrentMemoryKiB uint64 `json:"currentMemoryKiB,omitempty" yaml:"currentMemoryKiB,omitempty"`

	VCPUs       uint   `json:"vcpus,omitempty" yaml:"vcpus,omitempty"`
	VCPUCurrent uint   `json:"vcpuCurrent,omitempty" yaml:"vcpuCurrent,omitempty"`
	CPUMode     string `json:"cpuMode,omitempty" yaml:"cpuMode,omitempty"`

	OS DomainOS `json:"os" yaml:"os"`

	// OSID is the libosinfo id recorded in the domain metadata, if any.
	OSID string `json:"osId,omitempty" yaml:"osId,omitempty"`

	Disks      []DomainDisk      `json:"disks,omitempty" yaml:"disks,omitempty"`
	Interfaces []DomainInterface `json:"interfaces,omitempty" yaml:"interfaces,omitempty"`
	Graphics   []DomainGraphics  `json:"graphics,omitempty" yaml:"graphics,omitempty"`
}

// DomainOS describes the guest firmware and boot setup.
type DomainOS struct {
	Arch      string   `json:"arch,omitempty" yaml:"arch,omitempty"`
	Machine   string   `json:"machine,omitempty" yaml:"machine,omitempty"`
	Type      string   `json:"type,omitempty" yaml:"type,omitempty"`
	Firmware  string   `json:"firmware,omitempty" yaml:"firmware,omitempty"`
	BootOrder []string `json:"bootOrder,omitempty" yaml:"bootOrder,omitempty"`
}

// DomainDisk is one <disk> device.
type DomainDisk struct {
	Target     string `json:"target" yaml:"target"`
	Device     string `json:"device,omitempty" yaml:"device,omitempty"`
	Bus        string `json:"bus,omitempty" yaml:"bus,omitempty"`
	DriverType string `json:"driverType,omitempty" yaml:"driverType,omitempty"`

	// Source fields; at most one group is set depending on the disk type.
	SourceFile     string `json:"sourceFile,omitempty" yaml:"sourceFile,omitempty"`
	SourceDev      string `json:"sourceDev,omitempty" yaml:"sourceDev,omitempty"`
	SourcePool     string `json:"sourcePool,omitempty" yaml:"sourcePool,omitempty"`
	SourceVolume   string `json:"sourceVolume,omitempty" yaml:"sourceVolume,omitempty"`
	SourceProtocol string `json:"sourceProtocol,omitempty" yaml:"sourceProtocol,omitempty"`
	SourceName     string `json:"sourceName,omitempty" yaml:"sourceName,omitempty"`

	ReadOnly  bool   `json:"readonly,omitempty" yaml:"readonly,omitempty"`
	Shareable bool   `json:"shareable,omitempty" yaml:"shareable,omitempty"`
	Serial    string `json:"serial,omitempty" yaml:"serial,omitempty"`
	Alias     string `json:"alias,omitempty" yaml:"alias,omitempty"`
	BootOrder uint   `json:"bootOrder,omitempty" yaml:"bootOrder,omitempty"`
}

// DomainInterface is one <interface> device.
type DomainInterface struct {
	Type          string `json:"type,omitempty" yaml:"type,omitempty"`
	MAC           string `json:"mac,omitempty" yaml:"mac,omitempty"`
	Model         string `json:"model,omitempty" yaml:"model,omitempty"`
	SourceNetwork string `json:"sourceNetwork,omitempty" yaml:"sourceNetwork,omitempty"`
	SourceBridge  string `json:"sourceBridge,omitempty" yaml:"sourceBridge,omitempty"`
	SourceDev     string `json:"sourceDev,omitempty" yaml:"sourceDev,omitempty"`
	Target        string `json:"target,omitempty" yaml:"target,omitempty"`
	LinkState     string `json:"linkState,omitempty" yaml:"linkState,omitempty"`
	Alias         string `json:"alias,omitempty" yaml:"alias,omitempty"`
}

// DomainGraphics is one <graphics> device.
type DomainGraphics struct {
	Type     string `json:"type" yaml:"type"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	TLSPort  int    `json:"tlsPort,omitempty" yaml:"tlsPort,omitempty"`
	Listen   string `json:"listen,omitempty" yaml:"listen,omitempty"`
	AutoPort bool   `json:"autoport,omitempty" yaml:"autoport,omitempty"`
}

// Snapshot is a domain snapshot as listed by libvirt.
type Snapshot struct {
	Name         string `json:"name" yaml:"name"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
	State        string `json:"state,omitempty" yaml:"state,omitempty"`
	Parent       string `json:"parent,omitempty" yaml:"parent,omitempty"`
	CreationTime int64  `json:"creationTime,omitempty" yaml:"creationTime,omitempty"`
}

// UsageSample carries the live statistics of a running domain.
type UsageSample struct {
	// RSSMemory is the resident set size in KiB.
	RSSMemory float64 `json:"rssMemory" yaml:"rssMemory"`

	// CPUTime is the average cumulative time per vCPU in nanoseconds.
	// Nil when the current vCPU count was not reported or was zero.
	// +optional
	CPUTime *float64 `json:"cpuTime,omitempty" yaml:"cpuTime,omitempty"`

	// ActualTimeInMs is the wall clock of the sample in milliseconds,
	// set together with CPUTime.
	// +optional
	ActualTimeInMs *int64 `json:"actualTimeInMs,omitempty" yaml:"actualTimeInMs,omitempty"`

	// Disks holds per-disk statistics keyed by target name.
	// +optional
	Disks map[string]DiskStats `json:"disks,omitempty" yaml:"disks,omitempty"`

	SampledAt Time `json:"sampledAt" yaml:"sampledAt"`
}

// IsZero reports whether the sample holds no data.
func (u *UsageSample) IsZero() bool {
	return u.RSSMemory == 0 && u.CPUTime == nil && u.ActualTimeInMs == nil &&
		len(u.Disks) == 0 && u.SampledAt.IsZero()
}

// DiskStats are the block statistics of one disk. Each value is NaN when
// the hypervisor did not report it.
type DiskStats struct {
	Physical   Gauge `json:"physical" yaml:"physical"`
	Capacity   Gauge `json:"capacity" yaml:"capacity"`
	Allocation Gauge `json:"allocation" yaml:"allocation"`
}

// Gauge is a float that may be NaN. NaN serializes as null.
type Gauge float64

// NaN returns the "not reported" gauge value.
func NaN() Gauge {
	return Gauge(math.NaN())
}

// Valid reports whether the gauge holds a reported value.
func (g Gauge) Valid() bool {
	return !math.IsNaN(float64(g))
}

// MarshalJSON implements the json.Marshaler interface.
func (g Gauge) MarshalJSON() ([]byte, error) {
	if !g.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(g))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (g *Gauge) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*g = NaN()
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*g = Gauge(f)
	return nil
}

// MarshalYAML implements the yaml.Marshaler interface.
func (g Gauge) MarshalYAML() (interface{}, error) {
	if !g.Valid() {
		return nil, nil
	}
	return float64(g), nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (g *Gauge) UnmarshalYAML(node *yaml.Node) error {
	if node.Value == "" || node.Value == "null" || node.Value == "~" {
		*g = NaN()
		return nil
	}
	f, err := strconv.ParseFloat(node.Value, 64)
	if err != nil {
		return err
	}
	*g = Gauge(f)
	return nil
}
