package descriptor

import (
	"strconv"
	"strings"

	"gitlab.com/tozd/go/errors"
	"gopkg.in/xmlpath.v1"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/virtmirror/api/v1alpha1"
)

// ParseNetwork parses a virtual network descriptor.
func ParseNetwork(xml string) (Identity, *v1alpha1.NetworkConfig, error) {
	var net libvirtxml.Network
	if err := net.Unmarshal(xml); err != nil {
		return Identity{}, nil, errors.Errorf("failed to parse network XML: %w", err)
	}

	cfg := &v1alpha1.NetworkConfig{}
	if net.Bridge != nil {
		cfg.Bridge = net.Bridge.Name
	}
	if net.Forward != nil {
		cfg.ForwardMode = net.Forward.Mode
		cfg.ForwardDev = net.Forward.Dev
	}
	if net.Domain != nil {
		cfg.Domain = net.Domain.Name
	}
	if net.MTU != nil {
		cfg.MTU = net.MTU.Size
	}
	for _, ip := range net.IPs {
		out := v1alpha1.NetworkIP{
			Family:  ip.Family,
			Address: ip.Address,
			Netmask: ip.Netmask,
			Prefix:  ip.Prefix,
		}
		if ip.DHCP != nil && len(ip.DHCP.Ranges) > 0 {
			out.DHCPStart = ip.DHCP.Ranges[0].Start
			out.DHCPEnd = ip.DHCP.Ranges[0].End
		}
		cfg.IPs = append(cfg.IPs, out)
	}

	return Identity{Name: net.Name, UUID: net.UUID}, cfg, nil
}

// ParseStoragePool parses a storage pool descriptor.
func ParseStoragePool(xml string) (Identity, *v1alpha1.StoragePoolConfig, error) {
	var pool libvirtxml.StoragePool
	if err := pool.Unmarshal(xml); err != nil {
		return Identity{}, nil, errors.Errorf("failed to parse storage pool XML: %w", err)
	}

	cfg := &v1alpha1.StoragePoolConfig{Type: pool.Type}
	if pool.Target != nil {
		cfg.TargetPath = pool.Target.Path
	}
	if src := pool.Source; src != nil {
		cfg.SourceName = src.Name
		if len(src.Host) > 0 {
			cfg.SourceHost = src.Host[0].Name
		}
		if src.Dir != nil {
			cfg.SourceDir = src.Dir.Path
		}
		if len(src.Device) > 0 {
			cfg.SourceDevice = src.Device[0].Path
		}
		if src.Format != nil {
			cfg.SourceFormat = src.Format.Type
		}
	}

	return Identity{Name: pool.Name, UUID: pool.UUID}, cfg, nil
}

// ParseStorageVolume parses a storage volume descriptor.
func ParseStorageVolume(xml string) (v1alpha1.StorageVolume, error) {
	var vol libvirtxml.StorageVolume
	if err := vol.Unmarshal(xml); err != nil {
		return v1alpha1.StorageVolume{}, errors.Errorf("failed to parse storage volume XML: %w", err)
	}

	out := v1alpha1.StorageVolume{
		Name: vol.Name,
		Key:  vol.Key,
		Type: vol.Type,
	}
	if vol.Capacity != nil {
		out.Capacity = volumeBytes(vol.Capacity)
	}
	if vol.Allocation != nil {
		out.Allocation = volumeBytes(vol.Allocation)
	}
	if vol.Target != nil {
		out.Path = vol.Target.Path
		if vol.Target.Format != nil {
			out.Format = vol.Target.Format.Type
		}
	}
	return out, nil
}

// volumeBytes converts a volume size; volumes default to bytes.
func volumeBytes(s *libvirtxml.StorageVolumeSize) uint64 {
	if s.Unit == "" {
		return s.Value
	}
	return toBytes(s.Value, s.Unit)
}

var interfaceTypePath = xmlpath.MustCompile("/interface/@type")

// ParseInterface parses a host interface descriptor.
func ParseInterface(xml string) (Identity, *v1alpha1.InterfaceConfig, error) {
	var iface libvirtxml.Interface
	if err := iface.Unmarshal(xml); err != nil {
		return Identity{}, nil, errors.Errorf("failed to parse interface XML: %w", err)
	}

	cfg := &v1alpha1.InterfaceConfig{}
	if root, err := xmlpath.Parse(strings.NewReader(xml)); err == nil {
		cfg.Type, _ = interfaceTypePath.String(root)
	}
	if iface.Start != nil {
		cfg.StartMode = iface.Start.Mode
	}
	if iface.MTU != nil {
		cfg.MTU = iface.MTU.Size
	}
	for _, proto := range iface.Protocol {
		for _, ip := range proto.IPs {
			cfg.Addresses = append(cfg.Addresses, v1alpha1.InterfaceAddress{
				Family:  proto.Family,
				Address: ip.Address,
				Prefix:  ip.Prefix,
			})
		}
	}

	return Identity{Name: iface.Name}, cfg, nil
}

// ParseSnapshot parses a domain snapshot descriptor.
func ParseSnapshot(xml string) (v1alpha1.Snapshot, error) {
	var snap libvirtxml.DomainSnapshot
	if err := snap.Unmarshal(xml); err != nil {
		return v1alpha1.Snapshot{}, errors.Errorf("failed to parse snapshot XML: %w", err)
	}

	out := v1alpha1.Snapshot{
		Name:        snap.Name,
		Description: snap.Description,
		State:       snap.State,
	}
	if snap.Parent != nil {
		out.Parent = snap.Parent.Name
	}
	if snap.CreationTime != "" {
		ts, err := strconv.ParseInt(snap.CreationTime, 10, 64)
		if err != nil {
			return v1alpha1.Snapshot{}, errors.Errorf("invalid snapshot creation time %q: %w", snap.CreationTime, err)
		}
		out.CreationTime = ts
	}
	return out, nil
}
