package libvirttest

import (
	"fmt"
	"slices"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"

	"github.com/jbweber/virtmirror/internal/libvirt"
)

func matchObject(flags uint32, active, persistent, autostart bool) bool {
	return matchFlags(flags, libvirt.ListActive, libvirt.ListInactive, active) &&
		matchFlags(flags, libvirt.ListPersistent, libvirt.ListTransient, persistent) &&
		(flags&libvirt.ListAutostart == 0 || autostart)
}

func (h *Hypervisor) findNetwork(net golibvirt.Network) (*Network, error) {
	for _, n := range h.networks {
		if n.Net.UUID == net.UUID {
			return n, nil
		}
	}
	return nil, notFound("network", net.Name)
}

func (h *Hypervisor) ConnectListAllNetworks(flags uint32) ([]golibvirt.Network, error) {
	err := h.enter("ConnectListAllNetworks")
	defer h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var out []golibvirt.Network
	for _, n := range h.networks {
		if matchObject(flags, n.Active, n.Persistent, n.Autostart) {
			out = append(out, n.Net)
		}
	}
	return out, nil
}

func (h *Hypervisor) NetworkLookupByUUID(id golibvirt.UUID) (golibvirt.Network, error) {
	err := h.enter("NetworkLookupByUUID")
	defer h.mu.Unlock()
	if err != nil {
		return golibvirt.Network{}, err
	}
	for _, n := range h.networks {
		if n.Net.UUID == id {
			return n.Net, nil
		}
	}
	return golibvirt.Network{}, notFound("network", uuid.UUID(id).String())
}

// network runs fn on the network behind net.
func (h *Hypervisor) network(method string, net golibvirt.Network, fn func(n *Network) error) error {
	err := h.enter(method)
	defer h.mu.Unlock()
	if err != nil {
		return err
	}
	n, err := h.findNetwork(net)
	if err != nil {
		return err
	}
	return fn(n)
}

func (h *Hypervisor) NetworkGetXMLDesc(net golibvirt.Network) (xml string, err error) {
	err = h.network("NetworkGetXMLDesc", net, func(n *Network) error {
		xml = n.XML
		return nil
	})
	return xml, err
}

func (h *Hypervisor) NetworkIsActive(net golibvirt.Network) (v bool, err error) {
	err = h.network("NetworkIsActive", net, func(n *Network) error {
		v = n.Active
		return nil
	})
	return v, err
}

func (h *Hypervisor) NetworkIsPersistent(net golibvirt.Network) (v bool, err error) {
	err = h.network("NetworkIsPersistent", net, func(n *Network) error {
		v = n.Persistent
		return nil
	})
	return v, err
}

func (h *Hypervisor) NetworkGetAutostart(net golibvirt.Network) (v bool, err error) {
	err = h.network("NetworkGetAutostart", net, func(n *Network) error {
		v = n.Autostart
		return nil
	})
	return v, err
}

func (h *Hypervisor) NetworkCreate(net golibvirt.Network) error {
	return h.network("NetworkCreate", net, func(n *Network) error {
		if n.Active {
			return fmt.Errorf("network %s is already active", n.Net.Name)
		}
		n.Active = true
		return nil
	})
}

func (h *Hypervisor) NetworkDestroy(net golibvirt.Network) error {
	return h.network("NetworkDestroy", net, func(n *Network) error {
		if !n.Active {
			return fmt.Errorf("network %s is not active", n.Net.Name)
		}
		n.Active = false
		if !n.Persistent {
			h.networks = slices.DeleteFunc(h.networks, func(x *Network) bool { return x == n })
		}
		return nil
	})
}

func (h *Hypervisor) ConnectListAllStoragePools(flags uint32) ([]golibvirt.StoragePool, error) {
	err := h.enter("ConnectListAllStoragePools")
	defer h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var out []golibvirt.StoragePool
	for _, p := range h.pools {
		if matchObject(flags, p.Info.State == libvirt.PoolStateRunning, p.Persistent, p.Autostart) {
			out = append(out, p.Pool)
		}
	}
	return out, nil
}

func (h *Hypervisor) StoragePoolLookupByUUID(id golibvirt.UUID) (golibvirt.StoragePool, error) {
	err := h.enter("StoragePoolLookupByUUID")
	defer h.mu.Unlock()
	if err != nil {
		return golibvirt.StoragePool{}, err
	}
	for _, p := range h.pools {
		if p.Pool.UUID == id {
			return p.Pool, nil
		}
	}
	return golibvirt.StoragePool{}, notFound("storage pool", uuid.UUID(id).String())
}

// pool runs fn on the pool behind sp.
func (h *Hypervisor) pool(method string, sp golibvirt.StoragePool, fn func(p *Pool) error) error {
	err := h.enter(method)
	defer h.mu.Unlock()
	if err != nil {
		return err
	}
	for _, p := range h.pools {
		if p.Pool.UUID == sp.UUID {
			return fn(p)
		}
	}
	return notFound("storage pool", sp.Name)
}

func (h *Hypervisor) StoragePoolGetXMLDesc(sp golibvirt.StoragePool) (xml string, err error) {
	err = h.pool("StoragePoolGetXMLDesc", sp, func(p *Pool) error {
		xml = p.XML
		return nil
	})
	return xml, err
}

func (h *Hypervisor) StoragePoolGetInfo(sp golibvirt.StoragePool) (info libvirt.PoolInfo, err error) {
	err = h.pool("StoragePoolGetInfo", sp, func(p *Pool) error {
		info = p.Info
		return nil
	})
	return info, err
}

func (h *Hypervisor) StoragePoolIsPersistent(sp golibvirt.StoragePool) (v bool, err error) {
	err = h.pool("StoragePoolIsPersistent", sp, func(p *Pool) error {
		v = p.Persistent
		return nil
	})
	return v, err
}

func (h *Hypervisor) StoragePoolGetAutostart(sp golibvirt.StoragePool) (v bool, err error) {
	err = h.pool("StoragePoolGetAutostart", sp, func(p *Pool) error {
		v = p.Autostart
		return nil
	})
	return v, err
}

func (h *Hypervisor) StoragePoolListAllVolumes(sp golibvirt.StoragePool) (vols []golibvirt.StorageVol, err error) {
	err = h.pool("StoragePoolListAllVolumes", sp, func(p *Pool) error {
		for _, v := range p.Volumes {
			vols = append(vols, golibvirt.StorageVol{Pool: p.Pool.Name, Name: v.Name})
		}
		return nil
	})
	return vols, err
}

func (h *Hypervisor) StorageVolGetXMLDesc(vol golibvirt.StorageVol) (string, error) {
	err := h.enter("StorageVolGetXMLDesc")
	defer h.mu.Unlock()
	if err != nil {
		return "", err
	}
	for _, p := range h.pools {
		if p.Pool.Name != vol.Pool {
			continue
		}
		for _, v := range p.Volumes {
			if v.Name == vol.Name {
				return v.XML, nil
			}
		}
	}
	return "", notFound("volume", vol.Name)
}

func (h *Hypervisor) StoragePoolCreate(sp golibvirt.StoragePool) error {
	return h.pool("StoragePoolCreate", sp, func(p *Pool) error {
		if p.Info.State == libvirt.PoolStateRunning {
			return fmt.Errorf("storage pool %s is already active", p.Pool.Name)
		}
		p.Info.State = libvirt.PoolStateRunning
		return nil
	})
}

func (h *Hypervisor) StoragePoolDestroy(sp golibvirt.StoragePool) error {
	return h.pool("StoragePoolDestroy", sp, func(p *Pool) error {
		if p.Info.State != libvirt.PoolStateRunning {
			return fmt.Errorf("storage pool %s is not active", p.Pool.Name)
		}
		p.Info.State = 0
		if !p.Persistent {
			h.pools = slices.DeleteFunc(h.pools, func(x *Pool) bool { return x == p })
		}
		return nil
	})
}

func (h *Hypervisor) StoragePoolRefresh(sp golibvirt.StoragePool) error {
	return h.pool("StoragePoolRefresh", sp, func(p *Pool) error {
		if p.Info.State != libvirt.PoolStateRunning {
			return fmt.Errorf("storage pool %s is not active", p.Pool.Name)
		}
		p.Refreshes++
		return nil
	})
}

func (h *Hypervisor) ConnectListAllNodeDevices() ([]golibvirt.NodeDevice, error) {
	err := h.enter("ConnectListAllNodeDevices")
	defer h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]golibvirt.NodeDevice, 0, len(h.nodeDevices))
	for _, d := range h.nodeDevices {
		out = append(out, golibvirt.NodeDevice{Name: d.Name})
	}
	return out, nil
}

func (h *Hypervisor) NodeDeviceGetXMLDesc(name string) (string, error) {
	err := h.enter("NodeDeviceGetXMLDesc")
	defer h.mu.Unlock()
	if err != nil {
		return "", err
	}
	for _, d := range h.nodeDevices {
		if d.Name == name {
			return d.XML, nil
		}
	}
	return "", notFound("node device", name)
}

func (h *Hypervisor) ConnectListAllInterfaces() ([]golibvirt.Interface, error) {
	err := h.enter("ConnectListAllInterfaces")
	defer h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]golibvirt.Interface, 0, len(h.interfaces))
	for _, i := range h.interfaces {
		out = append(out, i.Iface)
	}
	return out, nil
}

func (h *Hypervisor) findInterface(name string) (*Interface, error) {
	for _, i := range h.interfaces {
		if i.Iface.Name == name {
			return i, nil
		}
	}
	return nil, notFound("interface", name)
}

func (h *Hypervisor) InterfaceLookupByName(name string) (golibvirt.Interface, error) {
	err := h.enter("InterfaceLookupByName")
	defer h.mu.Unlock()
	if err != nil {
		return golibvirt.Interface{}, err
	}
	i, err := h.findInterface(name)
	if err != nil {
		return golibvirt.Interface{}, err
	}
	return i.Iface, nil
}

func (h *Hypervisor) InterfaceGetXMLDesc(iface golibvirt.Interface) (string, error) {
	err := h.enter("InterfaceGetXMLDesc")
	defer h.mu.Unlock()
	if err != nil {
		return "", err
	}
	i, err := h.findInterface(iface.Name)
	if err != nil {
		return "", err
	}
	return i.XML, nil
}

func (h *Hypervisor) InterfaceIsActive(iface golibvirt.Interface) (bool, error) {
	err := h.enter("InterfaceIsActive")
	defer h.mu.Unlock()
	if err != nil {
		return false, err
	}
	i, err := h.findInterface(iface.Name)
	if err != nil {
		return false, err
	}
	return i.Active, nil
}
