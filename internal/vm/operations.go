package vm

import (
	"context"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/descriptor"
	"github.com/jbweber/virtmirror/internal/fetch"
	"github.com/jbweber/virtmirror/internal/libvirt"
)

var (
	// ErrNotPermitted is returned when an operation is not allowed in the
	// record's current state.
	ErrNotPermitted = errors.New("operation not permitted")

	// ErrUnknown is returned for keys the store holds no record for.
	ErrUnknown = errors.New("unknown object")
)

// Operations runs lifecycle operations and keeps the store current.
type Operations struct {
	calls   Caller
	fetcher Fetcher
	records Records

	// shutdownTimeout bounds the graceful phase of Delete.
	shutdownTimeout time.Duration
	pollInterval    time.Duration
}

// NewOperations creates Operations.
func NewOperations(calls Caller, fetcher Fetcher, records Records) *Operations {
	return &Operations{
		calls:           calls,
		fetcher:         fetcher,
		records:         records,
		shutdownTimeout: 5 * time.Second,
		pollInterval:    500 * time.Millisecond,
	}
}

type domainCall func(h libvirt.Hypervisor, dom golibvirt.Domain) error

// domainOp checks allowed against the stored record, runs call and refetches
// the domain whatever the outcome.
func (o *Operations) domainOp(ctx context.Context, key v1alpha1.Key, method string, allowed func(DomainCapabilities) bool, call domainCall) error {
	d, ok := o.records.Domain(key)
	if !ok {
		return errors.Errorf("%w: domain %s", ErrUnknown, key.Path)
	}
	if !allowed(CapabilitiesOf(d)) {
		return errors.Errorf("%w: %s on domain %s in state %s", ErrNotPermitted, method, d.Name, d.State)
	}
	return o.callDomain(ctx, key, method, call)
}

func (o *Operations) callDomain(ctx context.Context, key v1alpha1.Key, method string, call domainCall) error {
	zerolog.Ctx(ctx).Debug().Str("scope", string(key.Scope)).Str("path", key.Path).Str("method", method).Msg("domain operation")
	err := o.call(ctx, key, method, call)
	o.fetcher.Domain(ctx, key.Scope, key.Path, fetch.UpdateOnly)
	return err
}

// Start boots a shut off domain.
func (o *Operations) Start(ctx context.Context, key v1alpha1.Key) error {
	return o.domainOp(ctx, key, "DomainCreate",
		func(c DomainCapabilities) bool { return c.CanRun },
		func(h libvirt.Hypervisor, dom golibvirt.Domain) error { return h.DomainCreate(dom) })
}

// Shutdown asks the guest to power off.
func (o *Operations) Shutdown(ctx context.Context, key v1alpha1.Key) error {
	return o.domainOp(ctx, key, "DomainShutdown",
		func(c DomainCapabilities) bool { return c.CanShutdown },
		func(h libvirt.Hypervisor, dom golibvirt.Domain) error { return h.DomainShutdown(dom) })
}

// ForceOff stops the domain immediately.
func (o *Operations) ForceOff(ctx context.Context, key v1alpha1.Key) error {
	return o.domainOp(ctx, key, "DomainDestroy",
		func(c DomainCapabilities) bool { return c.CanForceOff },
		func(h libvirt.Hypervisor, dom golibvirt.Domain) error { return h.DomainDestroy(dom) })
}

// Reboot asks the guest to reboot.
func (o *Operations) Reboot(ctx context.Context, key v1alpha1.Key) error {
	return o.domainOp(ctx, key, "DomainReboot",
		func(c DomainCapabilities) bool { return c.CanReboot },
		func(h libvirt.Hypervisor, dom golibvirt.Domain) error { return h.DomainReboot(dom) })
}

// Reset power-cycles the domain without guest cooperation.
func (o *Operations) Reset(ctx context.Context, key v1alpha1.Key) error {
	return o.domainOp(ctx, key, "DomainReset",
		func(c DomainCapabilities) bool { return c.CanReset },
		func(h libvirt.Hypervisor, dom golibvirt.Domain) error { return h.DomainReset(dom) })
}

// Pause suspends a running domain.
func (o *Operations) Pause(ctx context.Context, key v1alpha1.Key) error {
	return o.domainOp(ctx, key, "DomainSuspend",
		func(c DomainCapabilities) bool { return c.CanPause },
		func(h libvirt.Hypervisor, dom golibvirt.Domain) error { return h.DomainSuspend(dom) })
}

// Resume continues a paused domain.
func (o *Operations) Resume(ctx context.Context, key v1alpha1.Key) error {
	return o.domainOp(ctx, key, "DomainResume",
		func(c DomainCapabilities) bool { return c.CanResume },
		func(h libvirt.Hypervisor, dom golibvirt.Domain) error { return h.DomainResume(dom) })
}

// SendNMI injects a non-maskable interrupt.
func (o *Operations) SendNMI(ctx context.Context, key v1alpha1.Key) error {
	return o.domainOp(ctx, key, "DomainInjectNMI",
		func(c DomainCapabilities) bool { return c.CanSendNMI },
		func(h libvirt.Hypervisor, dom golibvirt.Domain) error { return h.DomainInjectNMI(dom) })
}

// Undefine removes the persistent configuration. A running domain stays
// up as a transient one.
func (o *Operations) Undefine(ctx context.Context, key v1alpha1.Key) error {
	return o.domainOp(ctx, key, "DomainUndefine",
		func(c DomainCapabilities) bool { return c.CanDelete },
		func(h libvirt.Hypervisor, dom golibvirt.Domain) error { return h.DomainUndefine(dom) })
}

// SetAutostart toggles autostart. Only persistent domains carry the flag.
func (o *Operations) SetAutostart(ctx context.Context, key v1alpha1.Key, autostart bool) error {
	return o.domainOp(ctx, key, "DomainSetAutostart",
		func(c DomainCapabilities) bool { return c.CanDelete },
		func(h libvirt.Hypervisor, dom golibvirt.Domain) error { return h.DomainSetAutostart(dom, autostart) })
}

// deviceFlags picks where a device change applies: the persistent
// configuration when there is one, the live domain when it runs.
func deviceFlags(d *v1alpha1.Domain) uint32 {
	var flags uint32
	if d.Persistent {
		flags |= libvirt.AffectConfig
	}
	if IsActive(d.State) {
		flags |= libvirt.AffectLive
	}
	return flags
}

func (o *Operations) deviceOp(ctx context.Context, key v1alpha1.Key, method, xml string, call func(h libvirt.Hypervisor, dom golibvirt.Domain, xml string, flags uint32) error) error {
	dev, err := descriptor.ParseDeviceXML(xml)
	if err != nil {
		return err
	}
	d, ok := o.records.Domain(key)
	if !ok {
		return errors.Errorf("%w: domain %s", ErrUnknown, key.Path)
	}
	flags := deviceFlags(d)
	if flags == 0 {
		return errors.Errorf("%w: %s on domain %s in state %s", ErrNotPermitted, method, d.Name, d.State)
	}
	return o.callDomain(ctx, key, method, func(h libvirt.Hypervisor, dom golibvirt.Domain) error {
		return call(h, dom, dev.XML, flags)
	})
}

// AttachDevice adds the device described by xml.
func (o *Operations) AttachDevice(ctx context.Context, key v1alpha1.Key, xml string) error {
	return o.deviceOp(ctx, key, "DomainAttachDevice", xml, func(h libvirt.Hypervisor, dom golibvirt.Domain, xml string, flags uint32) error {
		return h.DomainAttachDevice(dom, xml, flags)
	})
}

// DetachDevice removes the device described by xml.
func (o *Operations) DetachDevice(ctx context.Context, key v1alpha1.Key, xml string) error {
	return o.deviceOp(ctx, key, "DomainDetachDevice", xml, func(h libvirt.Hypervisor, dom golibvirt.Domain, xml string, flags uint32) error {
		return h.DomainDetachDevice(dom, xml, flags)
	})
}

func (o *Operations) networkOp(ctx context.Context, key v1alpha1.Key, method string, allowed func(ObjectCapabilities) bool, call func(h libvirt.Hypervisor, net golibvirt.Network) error) error {
	n, ok := o.records.Network(key)
	if !ok {
		return errors.Errorf("%w: network %s", ErrUnknown, key.Path)
	}
	if !allowed(NetworkCapabilities(n)) {
		return errors.Errorf("%w: %s on network %s", ErrNotPermitted, method, n.Name)
	}
	err := o.calls.Call(ctx, key.Scope, key.Path, method, 0, func(h libvirt.Hypervisor) error {
		net, err := libvirt.LookupNetwork(h, key.Path)
		if err != nil {
			return err
		}
		return call(h, net)
	})
	o.fetcher.Network(ctx, key.Scope, key.Path, fetch.UpdateOnly)
	return err
}

// NetworkActivate starts an inactive network.
func (o *Operations) NetworkActivate(ctx context.Context, key v1alpha1.Key) error {
	return o.networkOp(ctx, key, "NetworkCreate",
		func(c ObjectCapabilities) bool { return c.CanActivate },
		func(h libvirt.Hypervisor, net golibvirt.Network) error { return h.NetworkCreate(net) })
}

// NetworkDeactivate stops an active network.
func (o *Operations) NetworkDeactivate(ctx context.Context, key v1alpha1.Key) error {
	return o.networkOp(ctx, key, "NetworkDestroy",
		func(c ObjectCapabilities) bool { return c.CanDeactivate },
		func(h libvirt.Hypervisor, net golibvirt.Network) error { return h.NetworkDestroy(net) })
}

func (o *Operations) poolOp(ctx context.Context, key v1alpha1.Key, method string, allowed func(ObjectCapabilities) bool, call func(h libvirt.Hypervisor, pool golibvirt.StoragePool) error) error {
	p, ok := o.records.StoragePool(key)
	if !ok {
		return errors.Errorf("%w: storage pool %s", ErrUnknown, key.Path)
	}
	if !allowed(PoolCapabilities(p)) {
		return errors.Errorf("%w: %s on storage pool %s", ErrNotPermitted, method, p.Name)
	}
	err := o.calls.Call(ctx, key.Scope, key.Path, method, 0, func(h libvirt.Hypervisor) error {
		pool, err := libvirt.LookupStoragePool(h, key.Path)
		if err != nil {
			return err
		}
		return call(h, pool)
	})
	o.fetcher.StoragePool(ctx, key.Scope, key.Path, fetch.UpdateOnly)
	return err
}

// PoolActivate starts an inactive storage pool.
func (o *Operations) PoolActivate(ctx context.Context, key v1alpha1.Key) error {
	return o.poolOp(ctx, key, "StoragePoolCreate",
		func(c ObjectCapabilities) bool { return c.CanActivate },
		func(h libvirt.Hypervisor, pool golibvirt.StoragePool) error { return h.StoragePoolCreate(pool) })
}

// PoolDeactivate stops an active storage pool.
func (o *Operations) PoolDeactivate(ctx context.Context, key v1alpha1.Key) error {
	return o.poolOp(ctx, key, "StoragePoolDestroy",
		func(c ObjectCapabilities) bool { return c.CanDeactivate },
		func(h libvirt.Hypervisor, pool golibvirt.StoragePool) error { return h.StoragePoolDestroy(pool) })
}

// PoolRefresh rescans the volumes of an active storage pool.
func (o *Operations) PoolRefresh(ctx context.Context, key v1alpha1.Key) error {
	return o.poolOp(ctx, key, "StoragePoolRefresh",
		func(c ObjectCapabilities) bool { return c.CanDeactivate },
		func(h libvirt.Hypervisor, pool golibvirt.StoragePool) error { return h.StoragePoolRefresh(pool) })
}

// Action is an operation that needs nothing but the object key.
type Action func(ctx context.Context, key v1alpha1.Key) error

// Actions returns the key-only operations of kind by name. Kinds without
// operations return nil.
func (o *Operations) Actions(kind v1alpha1.Kind) map[string]Action {
	switch kind {
	case v1alpha1.KindDomain:
		return map[string]Action{
			"start":    o.Start,
			"shutdown": o.Shutdown,
			"forceoff": o.ForceOff,
			"reboot":   o.Reboot,
			"reset":    o.Reset,
			"pause":    o.Pause,
			"resume":   o.Resume,
			"nmi":      o.SendNMI,
			"undefine": o.Undefine,
		}
	case v1alpha1.KindNetwork:
		return map[string]Action{
			"activate":   o.NetworkActivate,
			"deactivate": o.NetworkDeactivate,
		}
	case v1alpha1.KindStoragePool:
		return map[string]Action{
			"activate":   o.PoolActivate,
			"deactivate": o.PoolDeactivate,
			"refresh":    o.PoolRefresh,
		}
	}
	return nil
}
