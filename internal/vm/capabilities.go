package vm

import (
	"github.com/jbweber/virtmirror/api/v1alpha1"
)

// DomainCapabilities lists the operations a domain allows in its current
// state.
type DomainCapabilities struct {
	CanRun      bool
	CanShutdown bool
	CanForceOff bool
	CanReboot   bool
	CanReset    bool
	CanPause    bool
	CanResume   bool
	CanSendNMI  bool
	CanDelete   bool
	IsRunning   bool
}

// IsRunning reports whether a domain in state has a live guest.
func IsRunning(state v1alpha1.DomainState) bool {
	switch state {
	case v1alpha1.DomainStateRunning, v1alpha1.DomainStateBlocked, v1alpha1.DomainStatePaused:
		return true
	}
	return false
}

// IsActive reports whether a domain in state has a hypervisor process.
func IsActive(state v1alpha1.DomainState) bool {
	return state != v1alpha1.DomainStateShutoff && state != v1alpha1.DomainStateNoState
}

// IsTransitioning reports whether the domain is between two stable states.
func IsTransitioning(state v1alpha1.DomainState) bool {
	return state == v1alpha1.DomainStateShutdown
}

// CapabilitiesOf computes the capabilities of d from its stored state.
func CapabilitiesOf(d *v1alpha1.Domain) DomainCapabilities {
	running := IsRunning(d.State)
	return DomainCapabilities{
		CanRun:      d.State == v1alpha1.DomainStateShutoff,
		CanShutdown: running,
		CanForceOff: IsActive(d.State),
		CanReboot:   running,
		CanReset:    running,
		CanPause:    d.State == v1alpha1.DomainStateRunning || d.State == v1alpha1.DomainStateBlocked,
		CanResume:   d.State == v1alpha1.DomainStatePaused,
		CanSendNMI:  running,
		CanDelete:   d.Persistent,
		IsRunning:   running,
	}
}

// ObjectCapabilities lists the operations a network or storage pool
// allows.
type ObjectCapabilities struct {
	CanActivate   bool
	CanDeactivate bool
	CanDelete     bool
}

func objectCapabilities(active, persistent bool) ObjectCapabilities {
	return ObjectCapabilities{
		CanActivate:   !active,
		CanDeactivate: active,
		CanDelete:     persistent && !active,
	}
}

// NetworkCapabilities computes the capabilities of n.
func NetworkCapabilities(n *v1alpha1.Network) ObjectCapabilities {
	return objectCapabilities(n.Active, n.Persistent)
}

// PoolCapabilities computes the capabilities of p.
func PoolCapabilities(p *v1alpha1.StoragePool) ObjectCapabilities {
	return objectCapabilities(p.Active, p.Persistent)
}
