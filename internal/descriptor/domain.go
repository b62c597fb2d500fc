// Package descriptor turns libvirt XML descriptors into the normalized
// records of api/v1alpha1. Every parser is a pure function; malformed XML
// returns an error and never a partial result.
package descriptor

import (
	"strings"

	"gitlab.com/tozd/go/errors"
	"gopkg.in/xmlpath.v1"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/virtmirror/api/v1alpha1"
)

// Identity is the name and UUID found in a descriptor.
type Identity struct {
	Name string
	UUID string
}

// osIDPath selects the libosinfo id recorded by virt-install and friends.
var osIDPath = xmlpath.MustCompile("/domain/metadata/libosinfo/os/@id")

// ParseDomain parses a domain descriptor.
func ParseDomain(xml string) (Identity, *v1alpha1.DomainConfig, error) {
	var dom libvirtxml.Domain
	if err := dom.Unmarshal(xml); err != nil {
		return Identity{}, nil, errors.Errorf("failed to parse domain XML: %w", err)
	}

	cfg := &v1alpha1.DomainConfig{
		Type:        dom.Type,
		Title:       dom.Title,
		Description: dom.Description,
	}
	if dom.Memory != nil {
		cfg.MemoryKiB = toKiB(uint64(dom.Memory.Value), dom.Memory.Unit)
	}
	if dom.CurrentMemory != nil {
		cfg.CurrentMemoryKiB = toKiB(uint64(dom.CurrentMemory.Value), dom.CurrentMemory.Unit)
	}
	if dom.VCPU != nil {
		cfg.VCPUs = dom.VCPU.Value
		cfg.VCPUCurrent = dom.VCPU.Current
		if cfg.VCPUCurrent == 0 {
			cfg.VCPUCurrent = cfg.VCPUs
		}
	}
	if dom.CPU != nil {
		cfg.CPUMode = dom.CPU.Mode
	}
	if dom.OS != nil {
		if dom.OS.Type != nil {
			cfg.OS.Arch = dom.OS.Type.Arch
			cfg.OS.Machine = dom.OS.Type.Machine
			cfg.OS.Type = dom.OS.Type.Type
		}
		cfg.OS.Firmware = dom.OS.Firmware
		for _, b := range dom.OS.BootDevices {
			cfg.OS.BootOrder = append(cfg.OS.BootOrder, b.Dev)
		}
	}
	cfg.OSID = domainOSID(xml)

	if dom.Devices != nil {
		for _, d := range dom.Devices.Disks {
			cfg.Disks = append(cfg.Disks, convertDisk(d))
		}
		for _, i := range dom.Devices.Interfaces {
			cfg.Interfaces = append(cfg.Interfaces, convertInterface(i))
		}
		for _, g := range dom.Devices.Graphics {
			if gfx, ok := convertGraphics(g); ok {
				cfg.Graphics = append(cfg.Graphics, gfx)
			}
		}
	}

	return Identity{Name: dom.Name, UUID: dom.UUID}, cfg, nil
}

func domainOSID(xml string) string {
	root, err := xmlpath.Parse(strings.NewReader(xml))
	if err != nil {
		return ""
	}
	id, _ := osIDPath.String(root)
	return id
}

func convertDisk(d libvirtxml.DomainDisk) v1alpha1.DomainDisk {
	out := v1alpha1.DomainDisk{
		Device:    d.Device,
		ReadOnly:  d.ReadOnly != nil,
		Shareable: d.Shareable != nil,
		Serial:    d.Serial,
	}
	if d.Target != nil {
		out.Target = d.Target.Dev
		out.Bus = d.Target.Bus
	}
	if d.Driver != nil {
		out.DriverType = d.Driver.Type
	}
	if src := d.Source; src != nil {
		switch {
		case src.File != nil:
			out.SourceFile = src.File.File
		case src.Block != nil:
			out.SourceDev = src.Block.Dev
		case src.Volume != nil:
			out.SourcePool = src.Volume.Pool
			out.SourceVolume = src.Volume.Volume
		case src.Network != nil:
			out.SourceProtocol = src.Network.Protocol
			out.SourceName = src.Network.Name
		}
	}
	if d.Alias != nil {
		out.Alias = d.Alias.Name
	}
	if d.Boot != nil {
		out.BootOrder = d.Boot.Order
	}
	return out
}

func convertInterface(i libvirtxml.DomainInterface) v1alpha1.DomainInterface {
	var out v1alpha1.DomainInterface
	if src := i.Source; src != nil {
		switch {
		case src.Network != nil:
			out.Type = "network"
			out.SourceNetwork = src.Network.Network
			out.SourceBridge = src.Network.Bridge
		case src.Bridge != nil:
			out.Type = "bridge"
			out.SourceBridge = src.Bridge.Bridge
		case src.Direct != nil:
			out.Type = "direct"
			out.SourceDev = src.Direct.Dev
		case src.User != nil:
			out.Type = "user"
		case src.Ethernet != nil:
			out.Type = "ethernet"
		}
	}
	if i.MAC != nil {
		out.MAC = i.MAC.Address
	}
	if i.Model != nil {
		out.Model = i.Model.Type
	}
	if i.Target != nil {
		out.Target = i.Target.Dev
	}
	if i.Link != nil {
		out.LinkState = i.Link.State
	}
	if i.Alias != nil {
		out.Alias = i.Alias.Name
	}
	return out
}

func convertGraphics(g libvirtxml.DomainGraphic) (v1alpha1.DomainGraphics, bool) {
	switch {
	case g.VNC != nil:
		return v1alpha1.DomainGraphics{
			Type:     "vnc",
			Port:     g.VNC.Port,
			Listen:   g.VNC.Listen,
			AutoPort: g.VNC.AutoPort == "yes",
		}, true
	case g.Spice != nil:
		return v1alpha1.DomainGraphics{
			Type:     "spice",
			Port:     g.Spice.Port,
			TLSPort:  g.Spice.TLSPort,
			Listen:   g.Spice.Listen,
			AutoPort: g.Spice.AutoPort == "yes",
		}, true
	default:
		return v1alpha1.DomainGraphics{}, false
	}
}

// toKiB converts a libvirt scaled integer to KiB.
func toKiB(value uint64, unit string) uint64 {
	return toBytes(value, unit) / 1024
}

// toBytes converts a libvirt scaled integer to bytes. libvirt defaults to
// KiB for memory; callers with a different default pass it explicitly.
func toBytes(value uint64, unit string) uint64 {
	switch unit {
	case "b", "bytes":
		return value
	case "KB":
		return value * 1000
	case "", "k", "KiB":
		return value << 10
	case "MB":
		return value * 1000 * 1000
	case "M", "MiB":
		return value << 20
	case "GB":
		return value * 1000 * 1000 * 1000
	case "G", "GiB":
		return value << 30
	case "TB":
		return value * 1000 * 1000 * 1000 * 1000
	case "T", "TiB":
		return value << 40
	default:
		return value << 10
	}
}
