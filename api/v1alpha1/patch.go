package v1alpha1

// Patches carry a partial update for one record. A nil field was not
// present in the update and leaves the stored value untouched.

// DomainPatch is a partial update of a Domain.
type DomainPatch struct {
	Name       *string
	UID        *string
	ID         *int32
	State      *DomainState
	Persistent *bool
	Autostart  *bool
	Live       *DomainConfig
	Inactive   *DomainConfig
	Snapshots  *[]Snapshot
}

// Apply merges the present fields of p into d.
func (p *DomainPatch) Apply(d *Domain) {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.UID != nil {
		d.UID = *p.UID
	}
	if p.ID != nil {
		d.ID = *p.ID
	}
	if p.State != nil {
		d.State = *p.State
	}
	if p.Persistent != nil {
		d.Persistent = *p.Persistent
	}
	if p.Autostart != nil {
		d.Autostart = *p.Autostart
	}
	if p.Live != nil {
		d.Live = p.Live.DeepCopy()
	}
	if p.Inactive != nil {
		d.Inactive = p.Inactive.DeepCopy()
	}
	if p.Snapshots != nil {
		d.Snapshots = append([]Snapshot(nil), (*p.Snapshots)...)
	}
}

// NetworkPatch is a partial update of a Network.
type NetworkPatch struct {
	Name       *string
	UID        *string
	Active     *bool
	Persistent *bool
	Autostart  *bool
	Config     *NetworkConfig
}

// Apply merges the present fields of p into n.
func (p *NetworkPatch) Apply(n *Network) {
	if p.Name != nil {
		n.Name = *p.Name
	}
	if p.UID != nil {
		n.UID = *p.UID
	}
	if p.Active != nil {
		n.Active = *p.Active
	}
	if p.Persistent != nil {
		n.Persistent = *p.Persistent
	}
	if p.Autostart != nil {
		n.Autostart = *p.Autostart
	}
	if p.Config != nil {
		n.Config = (&Network{Config: p.Config}).DeepCopy().Config
	}
}

// StoragePoolPatch is a partial update of a StoragePool.
type StoragePoolPatch struct {
	Name       *string
	UID        *string
	Active     *bool
	Persistent *bool
	Autostart  *bool
	Capacity   *uint64
	Allocation *uint64
	Available  *uint64
	Config     *StoragePoolConfig
	Volumes    *[]StorageVolume
}

// Apply merges the present fields of p into sp.
func (p *StoragePoolPatch) Apply(sp *StoragePool) {
	if p.Name != nil {
		sp.Name = *p.Name
	}
	if p.UID != nil {
		sp.UID = *p.UID
	}
	if p.Active != nil {
		sp.Active = *p.Active
	}
	if p.Persistent != nil {
		sp.Persistent = *p.Persistent
	}
	if p.Autostart != nil {
		sp.Autostart = *p.Autostart
	}
	if p.Capacity != nil {
		sp.Capacity = *p.Capacity
	}
	if p.Allocation != nil {
		sp.Allocation = *p.Allocation
	}
	if p.Available != nil {
		sp.Available = *p.Available
	}
	if p.Config != nil {
		cfg := *p.Config
		sp.Config = &cfg
	}
	if p.Volumes != nil {
		sp.Volumes = append([]StorageVolume(nil), (*p.Volumes)...)
	}
}

// NodeDevicePatch is a partial update of a NodeDevice. Descriptor fields
// travel together because they come from one XML document.
type NodeDevicePatch struct {
	Name       *string
	Descriptor *NodeDevice
	HostBus    *HostBusInfo
}

// Apply merges the present fields of p into nd.
func (p *NodeDevicePatch) Apply(nd *NodeDevice) {
	if p.Name != nil {
		nd.Name = *p.Name
	}
	if p.Descriptor != nil {
		src := p.Descriptor.DeepCopy()
		nd.Parent = src.Parent
		nd.Driver = src.Driver
		nd.Capability = src.Capability
		nd.PCI = src.PCI
		nd.USB = src.USB
		nd.Net = src.Net
		nd.Storage = src.Storage
	}
	if p.HostBus != nil {
		hb := *p.HostBus
		nd.HostBus = &hb
	}
}

// InterfacePatch is a partial update of an Interface.
type InterfacePatch struct {
	Name   *string
	Active *bool
	MAC    *string
	Config *InterfaceConfig
}

// Apply merges the present fields of p into i.
func (p *InterfacePatch) Apply(i *Interface) {
	if p.Name != nil {
		i.Name = *p.Name
	}
	if p.Active != nil {
		i.Active = *p.Active
	}
	if p.MAC != nil {
		i.MAC = *p.MAC
	}
	if p.Config != nil {
		i.Config = (&Interface{Config: p.Config}).DeepCopy().Config
	}
}

// Ptr returns a pointer to v. Used to build patches.
func Ptr[T any](v T) *T {
	return &v
}
