package v1alpha1

import (
	"fmt"
)

const (
	// GroupName is the API group for virtmirror records.
	GroupName = "virtmirror.cofront.xyz"

	// Version is the API version.
	Version = "v1alpha1"

	DomainKind      = "Domain"
	NetworkKind     = "Network"
	StoragePoolKind = "StoragePool"
	NodeDeviceKind  = "NodeDevice"
	InterfaceKind   = "Interface"
)

// RecordKind returns the CamelCase record kind stored under k, e.g.
// "Domain" for KindDomain.
func (k Kind) RecordKind() string {
	switch k {
	case KindDomain:
		return DomainKind
	case KindNetwork:
		return NetworkKind
	case KindStoragePool:
		return StoragePoolKind
	case KindNodeDevice:
		return NodeDeviceKind
	case KindInterface:
		return InterfaceKind
	}
	return ""
}

func typeMeta(kind string) TypeMeta {
	return TypeMeta{APIVersion: GroupName + "/" + Version, Kind: kind}
}

// NewDomain returns an empty domain record for key.
func NewDomain(key Key) *Domain {
	return &Domain{TypeMeta: typeMeta(DomainKind), Scope: key.Scope, Path: key.Path, ID: -1}
}

// NewNetwork returns an empty network record for key.
func NewNetwork(key Key) *Network {
	return &Network{TypeMeta: typeMeta(NetworkKind), Scope: key.Scope, Path: key.Path}
}

// NewStoragePool returns an empty storage pool record for key.
func NewStoragePool(key Key) *StoragePool {
	return &StoragePool{TypeMeta: typeMeta(StoragePoolKind), Scope: key.Scope, Path: key.Path}
}

// NewNodeDevice returns an empty node device record for key.
func NewNodeDevice(key Key) *NodeDevice {
	return &NodeDevice{TypeMeta: typeMeta(NodeDeviceKind), Scope: key.Scope, Path: key.Path}
}

// NewInterface returns an empty interface record for key.
func NewInterface(key Key) *Interface {
	return &Interface{TypeMeta: typeMeta(InterfaceKind), Scope: key.Scope, Path: key.Path}
}

func formatPCIAddress(domain, bus, slot, function uint) string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", domain, bus, slot, function)
}

// DeepCopy creates a deep copy of Domain.
func (in *Domain) DeepCopy() *Domain {
	if in == nil {
		return nil
	}
	out := new(Domain)
	*out = *in
	out.Live = in.Live.DeepCopy()
	out.Inactive = in.Inactive.DeepCopy()
	if in.Snapshots != nil {
		out.Snapshots = make([]Snapshot, len(in.Snapshots))
		copy(out.Snapshots, in.Snapshots)
	}
	out.Usage = *in.Usage.DeepCopy()
	return out
}

// DeepCopy creates a deep copy of DomainConfig.
func (in *DomainConfig) DeepCopy() *DomainConfig {
	if in == nil {
		return nil
	}
	out := new(DomainConfig)
	*out = *in
	if in.OS.BootOrder != nil {
		out.OS.BootOrder = make([]string, len(in.OS.BootOrder))
		copy(out.OS.BootOrder, in.OS.BootOrder)
	}
	if in.Disks != nil {
		out.Disks = make([]DomainDisk, len(in.Disks))
		copy(out.Disks, in.Disks)
	}
	if in.Interfaces != nil {
		out.Interfaces = make([]DomainInterface, len(in.Interfaces))
		copy(out.Interfaces, in.Interfaces)
	}
	if in.Graphics != nil {
		out.Graphics = make([]DomainGraphics, len(in.Graphics))
		copy(out.Graphics, in.Graphics)
	}
	return out
}

// DeepCopy creates a deep copy of UsageSample.
func (in *UsageSample) DeepCopy() *UsageSample {
	if in == nil {
		return nil
	}
	out := new(UsageSample)
	*out = *in
	if in.CPUTime != nil {
		v := *in.CPUTime
		out.CPUTime = &v
	}
	if in.ActualTimeInMs != nil {
		v := *in.ActualTimeInMs
		out.ActualTimeInMs = &v
	}
	if in.Disks != nil {
		out.Disks = make(map[string]DiskStats, len(in.Disks))
		for k, v := range in.Disks {
			out.Disks[k] = v
		}
	}
	return out
}

// DeepCopy creates a deep copy of Network.
func (in *Network) DeepCopy() *Network {
	if in == nil {
		return nil
	}
	out := new(Network)
	*out = *in
	if in.Config != nil {
		cfg := *in.Config
		if in.Config.IPs != nil {
			cfg.IPs = make([]NetworkIP, len(in.Config.IPs))
			copy(cfg.IPs, in.Config.IPs)
		}
		out.Config = &cfg
	}
	return out
}

// DeepCopy creates a deep copy of StoragePool.
func (in *StoragePool) DeepCopy() *StoragePool {
	if in == nil {
		return nil
	}
	out := new(StoragePool)
	*out = *in
	if in.Config != nil {
		cfg := *in.Config
		out.Config = &cfg
	}
	if in.Volumes != nil {
		out.Volumes = make([]StorageVolume, len(in.Volumes))
		copy(out.Volumes, in.Volumes)
	}
	return out
}

// DeepCopy creates a deep copy of NodeDevice.
func (in *NodeDevice) DeepCopy() *NodeDevice {
	if in == nil {
		return nil
	}
	out := new(NodeDevice)
	*out = *in
	if in.PCI != nil {
		c := *in.PCI
		out.PCI = &c
	}
	if in.USB != nil {
		c := *in.USB
		out.USB = &c
	}
	if in.Net != nil {
		c := *in.Net
		out.Net = &c
	}
	if in.Storage != nil {
		c := *in.Storage
		out.Storage = &c
	}
	if in.HostBus != nil {
		c := *in.HostBus
		out.HostBus = &c
	}
	return out
}

// DeepCopy creates a deep copy of Interface.
func (in *Interface) DeepCopy() *Interface {
	if in == nil {
		return nil
	}
	out := new(Interface)
	*out = *in
	if in.Config != nil {
		cfg := *in.Config
		if in.Config.Addresses != nil {
			cfg.Addresses = make([]InterfaceAddress, len(in.Config.Addresses))
			copy(cfg.Addresses, in.Config.Addresses)
		}
		out.Config = &cfg
	}
	return out
}
