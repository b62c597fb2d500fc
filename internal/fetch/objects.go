package fetch

import (
	"context"

	golibvirt "github.com/digitalocean/go-libvirt"
	"gitlab.com/tozd/go/errors"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/descriptor"
	"github.com/jbweber/virtmirror/internal/libvirt"
)

func errorIsNotFound(err error) bool {
	return errors.Is(err, libvirt.ErrNotFound) || golibvirt.IsNotFound(err)
}

// Network fetches one virtual network and merges it into the store.
func (f *Fetcher) Network(ctx context.Context, scope v1alpha1.Scope, path string, mode Mode) {
	var patch v1alpha1.NetworkPatch
	err := f.call(ctx, scope, path, "NetworkGetXMLDesc", func(h libvirt.Hypervisor) error {
		net, err := libvirt.LookupNetwork(h, path)
		if err != nil {
			return err
		}
		xml, err := h.NetworkGetXMLDesc(net)
		if err != nil {
			return err
		}
		ident, cfg, err := descriptor.ParseNetwork(xml)
		if err != nil {
			return err
		}
		patch = v1alpha1.NetworkPatch{Name: v1alpha1.Ptr(ident.Name), UID: v1alpha1.Ptr(ident.UUID), Config: cfg}

		if active, err := h.NetworkIsActive(net); err == nil {
			patch.Active = v1alpha1.Ptr(active)
		}
		if persistent, err := h.NetworkIsPersistent(net); err == nil {
			patch.Persistent = v1alpha1.Ptr(persistent)
		}
		if autostart, err := h.NetworkGetAutostart(net); err == nil {
			patch.Autostart = v1alpha1.Ptr(autostart)
		}
		return nil
	})
	if err != nil {
		logFailure(ctx, err, scope, path, "network")
		return
	}

	key := v1alpha1.Key{Scope: scope, Path: path}
	if mode == UpdateOnly {
		f.store.UpdateNetwork(key, patch)
	} else {
		f.store.UpsertNetwork(key, patch)
	}
}

// StoragePool fetches one storage pool with its volumes and merges it into
// the store. Volumes are only replaced when the whole listing succeeded.
func (f *Fetcher) StoragePool(ctx context.Context, scope v1alpha1.Scope, path string, mode Mode) {
	var (
		pool  golibvirt.StoragePool
		patch v1alpha1.StoragePoolPatch
	)
	err := f.call(ctx, scope, path, "StoragePoolGetXMLDesc", func(h libvirt.Hypervisor) error {
		var err error
		if pool, err = libvirt.LookupStoragePool(h, path); err != nil {
			return err
		}
		xml, err := h.StoragePoolGetXMLDesc(pool)
		if err != nil {
			return err
		}
		ident, cfg, err := descriptor.ParseStoragePool(xml)
		if err != nil {
			return err
		}
		patch = v1alpha1.StoragePoolPatch{Name: v1alpha1.Ptr(ident.Name), UID: v1alpha1.Ptr(ident.UUID), Config: cfg}

		if info, err := h.StoragePoolGetInfo(pool); err == nil {
			patch.Active = v1alpha1.Ptr(info.State == libvirt.PoolStateRunning)
			patch.Capacity = v1alpha1.Ptr(info.Capacity)
			patch.Allocation = v1alpha1.Ptr(info.Allocation)
			patch.Available = v1alpha1.Ptr(info.Available)
		}
		if persistent, err := h.StoragePoolIsPersistent(pool); err == nil {
			patch.Persistent = v1alpha1.Ptr(persistent)
		}
		if autostart, err := h.StoragePoolGetAutostart(pool); err == nil {
			patch.Autostart = v1alpha1.Ptr(autostart)
		}
		return nil
	})
	if err != nil {
		logFailure(ctx, err, scope, path, "storage pool")
		return
	}

	// Inactive pools cannot list volumes; keep whatever was stored.
	if patch.Active == nil || *patch.Active {
		var vols []v1alpha1.StorageVolume
		err := f.call(ctx, scope, path, "StoragePoolListAllVolumes", func(h libvirt.Hypervisor) error {
			list, err := h.StoragePoolListAllVolumes(pool)
			if err != nil {
				return err
			}
			vols = make([]v1alpha1.StorageVolume, 0, len(list))
			for _, v := range list {
				xml, err := h.StorageVolGetXMLDesc(v)
				if err != nil {
					return err
				}
				vol, err := descriptor.ParseStorageVolume(xml)
				if err != nil {
					return err
				}
				vols = append(vols, vol)
			}
			return nil
		})
		if err != nil {
			logFailure(ctx, err, scope, path, "storage volumes")
		} else {
			patch.Volumes = &vols
		}
	}

	key := v1alpha1.Key{Scope: scope, Path: path}
	if mode == UpdateOnly {
		f.store.UpdateStoragePool(key, patch)
	} else {
		f.store.UpsertStoragePool(key, patch)
	}
}

// NodeDevice fetches one node device. PCI and USB devices are enriched
// with the host bus classification when a HostBus is configured.
func (f *Fetcher) NodeDevice(ctx context.Context, scope v1alpha1.Scope, path string, mode Mode) {
	name, err := libvirt.NodeDeviceName(path)
	if err != nil {
		logFailure(ctx, err, scope, path, "node device")
		return
	}

	var dev *v1alpha1.NodeDevice
	err = f.call(ctx, scope, path, "NodeDeviceGetXMLDesc", func(h libvirt.Hypervisor) error {
		xml, err := h.NodeDeviceGetXMLDesc(name)
		if err != nil {
			return err
		}
		dev, err = descriptor.ParseNodeDevice(xml)
		return err
	})
	if err != nil {
		logFailure(ctx, err, scope, path, "node device")
		return
	}

	patch := v1alpha1.NodeDevicePatch{Name: v1alpha1.Ptr(name), Descriptor: dev}
	if f.hostBus != nil {
		switch {
		case dev.Capability == v1alpha1.CapabilityPCI && dev.PCI != nil:
			if info, ok := f.hostBus.PCI(ctx, dev.PCI.Address()); ok {
				patch.HostBus = info
			}
		case dev.Capability == v1alpha1.CapabilityUSBDevice && dev.USB != nil:
			if info, ok := f.hostBus.USB(ctx, dev.USB.Bus, dev.USB.Device); ok {
				patch.HostBus = info
			}
		}
	}

	key := v1alpha1.Key{Scope: scope, Path: path}
	if mode == UpdateOnly {
		f.store.UpdateNodeDevice(key, patch)
	} else {
		f.store.UpsertNodeDevice(key, patch)
	}
}

// Interface fetches one host interface.
func (f *Fetcher) Interface(ctx context.Context, scope v1alpha1.Scope, path string, mode Mode) {
	var patch v1alpha1.InterfacePatch
	err := f.call(ctx, scope, path, "InterfaceGetXMLDesc", func(h libvirt.Hypervisor) error {
		iface, err := libvirt.LookupInterface(h, path)
		if err != nil {
			return err
		}
		xml, err := h.InterfaceGetXMLDesc(iface)
		if err != nil {
			return err
		}
		ident, cfg, err := descriptor.ParseInterface(xml)
		if err != nil {
			return err
		}
		patch = v1alpha1.InterfacePatch{Name: v1alpha1.Ptr(ident.Name), MAC: v1alpha1.Ptr(iface.Mac), Config: cfg}

		if active, err := h.InterfaceIsActive(iface); err == nil {
			patch.Active = v1alpha1.Ptr(active)
		}
		return nil
	})
	if err != nil {
		logFailure(ctx, err, scope, path, "interface")
		return
	}

	key := v1alpha1.Key{Scope: scope, Path: path}
	if mode == UpdateOnly {
		f.store.UpdateInterface(key, patch)
	} else {
		f.store.UpsertInterface(key, patch)
	}
}
