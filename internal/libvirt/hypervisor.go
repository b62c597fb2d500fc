package libvirt

import (
	"context"

	golibvirt "github.com/digitalocean/go-libvirt"
)

// List flags for ConnectListAllDomains (virConnectListAllDomainsFlags).
const (
	ListDomainsActive     uint32 = 1 << 0
	ListDomainsInactive   uint32 = 1 << 1
	ListDomainsPersistent uint32 = 1 << 2
	ListDomainsTransient  uint32 = 1 << 3
)

// List flags for ConnectListAllNetworks and ConnectListAllStoragePools.
// Both enums share the same layout.
const (
	ListInactive   uint32 = 1 << 0
	ListActive     uint32 = 1 << 1
	ListPersistent uint32 = 1 << 2
	ListTransient  uint32 = 1 << 3
	ListAutostart  uint32 = 1 << 4
)

// Stats groups for ConnectGetAllDomainStats (virDomainStatsTypes).
const (
	StatsState    uint32 = 1 << 0
	StatsCPUTotal uint32 = 1 << 1
	StatsBalloon  uint32 = 1 << 2
	StatsVCPU     uint32 = 1 << 3
	StatsBlock    uint32 = 1 << 5
)

// Device modification impact for attach/detach (virDomainDeviceModifyFlags).
const (
	AffectLive   uint32 = 1 << 0
	AffectConfig uint32 = 1 << 1
)

// PoolInfo is the result of StoragePoolGetInfo.
type PoolInfo struct {
	State      uint8
	Capacity   uint64
	Allocation uint64
	Available  uint64
}

// PoolStateRunning is virStoragePoolState VIR_STORAGE_POOL_RUNNING.
const PoolStateRunning uint8 = 2

// DomainEvent is one event from the domain event streams of a connection.
type DomainEvent struct {
	Domain golibvirt.Domain

	// Member is MemberDomainEvent for lifecycle events, otherwise the
	// property signal name (MemberDeviceAdded, ...).
	Member string

	// Event and Detail are the raw lifecycle codes. Zero for property
	// signals.
	Event  int32
	Detail int32
}

// Hypervisor is the subset of the libvirt API used by virtmirror, with
// flags reduced to what the callers need.
//
// In production, this is satisfied by the connection returned from Dial,
// which forwards to *libvirt.Libvirt. In tests, it is satisfied by
// libvirttest.Hypervisor.
type Hypervisor interface {
	// ConnectGetLibVersion is used as a liveness check
	ConnectGetLibVersion() (uint64, error)

	// Disconnect closes the connection
	Disconnect() error

	// IsConnected reports whether the connection is still up
	IsConnected() bool

	// ConnectListAllDomains lists domains matching flags (ListDomains*)
	ConnectListAllDomains(flags uint32) ([]golibvirt.Domain, error)

	// DomainLookupByUUID looks up a domain by UUID
	DomainLookupByUUID(id golibvirt.UUID) (golibvirt.Domain, error)

	// DomainGetXMLDesc returns the live or the inactive domain XML
	DomainGetXMLDesc(dom golibvirt.Domain, inactive bool) (string, error)

	// DomainGetState returns the virDomainState of a domain
	DomainGetState(dom golibvirt.Domain) (int32, error)

	// DomainIsPersistent reports whether the domain has a persisted config
	DomainIsPersistent(dom golibvirt.Domain) (bool, error)

	// DomainGetAutostart reports the autostart flag
	DomainGetAutostart(dom golibvirt.Domain) (bool, error)

	// DomainListAllSnapshots lists the snapshots of a domain
	DomainListAllSnapshots(dom golibvirt.Domain) ([]golibvirt.DomainSnapshot, error)

	// DomainSnapshotGetXMLDesc returns the XML of a snapshot
	DomainSnapshotGetXMLDesc(snap golibvirt.DomainSnapshot) (string, error)

	// ConnectGetAllDomainStats returns stats records for doms (Stats* groups)
	ConnectGetAllDomainStats(doms []golibvirt.Domain, stats uint32) ([]golibvirt.DomainStatsRecord, error)

	DomainCreate(dom golibvirt.Domain) error
	DomainShutdown(dom golibvirt.Domain) error
	DomainDestroy(dom golibvirt.Domain) error
	DomainReboot(dom golibvirt.Domain) error
	DomainReset(dom golibvirt.Domain) error
	DomainSuspend(dom golibvirt.Domain) error
	DomainResume(dom golibvirt.Domain) error
	DomainInjectNMI(dom golibvirt.Domain) error
	DomainUndefine(dom golibvirt.Domain) error
	DomainSetAutostart(dom golibvirt.Domain, autostart bool) error

	// DomainAttachDevice attaches a device; flags is AffectConfig with
	// AffectLive added for running domains
	DomainAttachDevice(dom golibvirt.Domain, xml string, flags uint32) error

	// DomainDetachDevice detaches a device; flags as for DomainAttachDevice
	DomainDetachDevice(dom golibvirt.Domain, xml string, flags uint32) error

	ConnectListAllNetworks(flags uint32) ([]golibvirt.Network, error)
	NetworkLookupByUUID(id golibvirt.UUID) (golibvirt.Network, error)
	NetworkGetXMLDesc(net golibvirt.Network) (string, error)
	NetworkIsActive(net golibvirt.Network) (bool, error)
	NetworkIsPersistent(net golibvirt.Network) (bool, error)
	NetworkGetAutostart(net golibvirt.Network) (bool, error)
	NetworkCreate(net golibvirt.Network) error
	NetworkDestroy(net golibvirt.Network) error

	ConnectListAllStoragePools(flags uint32) ([]golibvirt.StoragePool, error)
	StoragePoolLookupByUUID(id golibvirt.UUID) (golibvirt.StoragePool, error)
	StoragePoolGetXMLDesc(pool golibvirt.StoragePool) (string, error)
	StoragePoolGetInfo(pool golibvirt.StoragePool) (PoolInfo, error)
	StoragePoolIsPersistent(pool golibvirt.StoragePool) (bool, error)
	StoragePoolGetAutostart(pool golibvirt.StoragePool) (bool, error)
	StoragePoolListAllVolumes(pool golibvirt.StoragePool) ([]golibvirt.StorageVol, error)
	StorageVolGetXMLDesc(vol golibvirt.StorageVol) (string, error)
	StoragePoolCreate(pool golibvirt.StoragePool) error
	StoragePoolDestroy(pool golibvirt.StoragePool) error
	StoragePoolRefresh(pool golibvirt.StoragePool) error

	ConnectListAllNodeDevices() ([]golibvirt.NodeDevice, error)
	NodeDeviceGetXMLDesc(name string) (string, error)

	ConnectListAllInterfaces() ([]golibvirt.Interface, error)
	InterfaceLookupByName(name string) (golibvirt.Interface, error)
	InterfaceGetXMLDesc(iface golibvirt.Interface) (string, error)
	InterfaceIsActive(iface golibvirt.Interface) (bool, error)

	// DomainEvents streams lifecycle and property events until ctx is done
	DomainEvents(ctx context.Context) (<-chan DomainEvent, error)
}
