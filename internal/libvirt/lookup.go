package libvirt

import (
	golibvirt "github.com/digitalocean/go-libvirt"
	"gitlab.com/tozd/go/errors"

	"github.com/jbweber/virtmirror/internal/naming"
)

// LookupDomain resolves a domain object path.
func LookupDomain(h Hypervisor, path string) (golibvirt.Domain, error) {
	id, err := naming.ParseUUIDPath(naming.KindDomain, path)
	if err != nil {
		return golibvirt.Domain{}, errors.Errorf("%w: %w", ErrNotFound, err)
	}
	return h.DomainLookupByUUID(golibvirt.UUID(id))
}

// LookupNetwork resolves a network object path.
func LookupNetwork(h Hypervisor, path string) (golibvirt.Network, error) {
	id, err := naming.ParseUUIDPath(naming.KindNetwork, path)
	if err != nil {
		return golibvirt.Network{}, errors.Errorf("%w: %w", ErrNotFound, err)
	}
	return h.NetworkLookupByUUID(golibvirt.UUID(id))
}

// LookupStoragePool resolves a storage pool object path.
func LookupStoragePool(h Hypervisor, path string) (golibvirt.StoragePool, error) {
	id, err := naming.ParseUUIDPath(naming.KindStoragePool, path)
	if err != nil {
		return golibvirt.StoragePool{}, errors.Errorf("%w: %w", ErrNotFound, err)
	}
	return h.StoragePoolLookupByUUID(golibvirt.UUID(id))
}

// LookupInterface resolves a host interface object path.
func LookupInterface(h Hypervisor, path string) (golibvirt.Interface, error) {
	name, err := naming.ParseNamePath(naming.KindInterface, path)
	if err != nil {
		return golibvirt.Interface{}, errors.Errorf("%w: %w", ErrNotFound, err)
	}
	return h.InterfaceLookupByName(name)
}

// NodeDeviceName returns the device name encoded in a node device path.
func NodeDeviceName(path string) (string, error) {
	name, err := naming.ParseNamePath(naming.KindNodeDevice, path)
	if err != nil {
		return "", errors.Errorf("%w: %w", ErrNotFound, err)
	}
	return name, nil
}
