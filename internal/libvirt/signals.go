package libvirt

import (
	"context"

	"github.com/jbweber/virtmirror/api/v1alpha1"
)

// Signal interfaces.
const (
	InterfaceConnect     = "org.libvirt.Connect"
	InterfaceDomain      = "org.libvirt.Domain"
	InterfaceNetwork     = "org.libvirt.Network"
	InterfaceStoragePool = "org.libvirt.StoragePool"
)

// Signal members.
const (
	MemberDomainEvent      = "DomainEvent"
	MemberNetworkEvent     = "NetworkEvent"
	MemberStoragePoolEvent = "StoragePoolEvent"

	// MemberReconnected is published on InterfaceConnect once the
	// connection of a scope was reestablished after a loss. It carries no
	// path.
	MemberReconnected = "Reconnected"

	MemberDeviceAdded       = "DeviceAdded"
	MemberDeviceRemoved     = "DeviceRemoved"
	MemberMetadataChanged   = "MetadataChanged"
	MemberPropertiesChanged = "PropertiesChanged"
)

// Signal is one unsolicited event from a connection.
type Signal struct {
	Scope     v1alpha1.Scope
	Path      string
	Interface string
	Member    string

	// Code and Detail are set for lifecycle signals only.
	Code   v1alpha1.EventCode
	Detail int32
}

// Filter selects signals by interface and member. An empty Member matches
// every member of the interface.
type Filter struct {
	Interface string
	Member    string
}

// Matches reports whether sig passes the filter.
func (f Filter) Matches(sig Signal) bool {
	if f.Interface != sig.Interface {
		return false
	}
	return f.Member == "" || f.Member == sig.Member
}

// Handler receives matching signals. Handlers are called from the event
// pump of the scope and must not block for long.
type Handler func(ctx context.Context, sig Signal)

type subscription struct {
	filter  Filter
	handler Handler
}

// Lifecycle filters, one per entity category.
var (
	DomainLifecycle      = Filter{Interface: InterfaceConnect, Member: MemberDomainEvent}
	NetworkLifecycle     = Filter{Interface: InterfaceConnect, Member: MemberNetworkEvent}
	StoragePoolLifecycle = Filter{Interface: InterfaceConnect, Member: MemberStoragePoolEvent}

	// Reconnected matches the signal published after a lost connection
	// came back.
	Reconnected = Filter{Interface: InterfaceConnect, Member: MemberReconnected}

	DomainProperties      = Filter{Interface: InterfaceDomain}
	NetworkProperties     = Filter{Interface: InterfaceNetwork}
	StoragePoolProperties = Filter{Interface: InterfaceStoragePool}
)
