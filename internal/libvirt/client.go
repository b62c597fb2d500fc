package libvirt

import (
	"context"
	"net/url"
	"reflect"
	"sync"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// Dial connects to the libvirt daemon behind uri.
//
// If socket is empty, the socket is derived from the URI by go-libvirt
// (qemu:///system uses the system daemon, qemu:///session the per-user
// one). If timeout is zero, defaults to 5 seconds.
func Dial(ctx context.Context, uri, socket string, timeout time.Duration) (Hypervisor, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	type result struct {
		l   *golibvirt.Libvirt
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		l, err := dial(uri, socket, timeout)
		resultCh <- result{l: l, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, errors.Errorf("connection to %s cancelled: %w", uri, ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return &conn{l: res.l}, nil
	}
}

func dial(uri, socket string, timeout time.Duration) (*golibvirt.Libvirt, error) {
	if socket != "" {
		l := golibvirt.NewWithDialer(dialers.NewLocal(
			dialers.WithSocket(socket),
			dialers.WithLocalTimeout(timeout),
		))
		if err := l.ConnectToURI(golibvirt.ConnectURI(uri)); err != nil {
			return nil, errors.Errorf("failed to connect to libvirt at %s (%s): %w", uri, socket, err)
		}
		return l, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Errorf("parse libvirt uri %q: %w", uri, err)
	}
	l, err := golibvirt.ConnectToURI(u)
	if err != nil {
		return nil, errors.Errorf("failed to connect to libvirt at %s: %w", uri, err)
	}
	return l, nil
}

// conn adapts *golibvirt.Libvirt to Hypervisor.
type conn struct {
	l *golibvirt.Libvirt
}

var _ Hypervisor = (*conn)(nil)

func (c *conn) ConnectGetLibVersion() (uint64, error) {
	return c.l.ConnectGetLibVersion()
}

func (c *conn) Disconnect() error {
	return c.l.Disconnect()
}

func (c *conn) IsConnected() bool {
	return c.l.IsConnected()
}

func (c *conn) ConnectListAllDomains(flags uint32) ([]golibvirt.Domain, error) {
	doms, _, err := c.l.ConnectListAllDomains(1, golibvirt.ConnectListAllDomainsFlags(flags))
	return doms, err
}

func (c *conn) DomainLookupByUUID(id golibvirt.UUID) (golibvirt.Domain, error) {
	return c.l.DomainLookupByUUID(id)
}

func (c *conn) DomainGetXMLDesc(dom golibvirt.Domain, inactive bool) (string, error) {
	if inactive {
		return c.l.DomainGetXMLDesc(dom, golibvirt.DomainXMLInactive)
	}
	return c.l.DomainGetXMLDesc(dom, 0)
}

func (c *conn) DomainGetState(dom golibvirt.Domain) (int32, error) {
	state, _, err := c.l.DomainGetState(dom, 0)
	return state, err
}

func (c *conn) DomainIsPersistent(dom golibvirt.Domain) (bool, error) {
	v, err := c.l.DomainIsPersistent(dom)
	return v != 0, err
}

func (c *conn) DomainGetAutostart(dom golibvirt.Domain) (bool, error) {
	v, err := c.l.DomainGetAutostart(dom)
	return v != 0, err
}

func (c *conn) DomainListAllSnapshots(dom golibvirt.Domain) ([]golibvirt.DomainSnapshot, error) {
	snaps, _, err := c.l.DomainListAllSnapshots(dom, 1, 0)
	return snaps, err
}

func (c *conn) DomainSnapshotGetXMLDesc(snap golibvirt.DomainSnapshot) (string, error) {
	return c.l.DomainSnapshotGetXMLDesc(snap, 0)
}

func (c *conn) ConnectGetAllDomainStats(doms []golibvirt.Domain, stats uint32) ([]golibvirt.DomainStatsRecord, error) {
	return c.l.ConnectGetAllDomainStats(doms, stats, 0)
}

func (c *conn) DomainCreate(dom golibvirt.Domain) error {
	return c.l.DomainCreate(dom)
}

func (c *conn) DomainShutdown(dom golibvirt.Domain) error {
	return c.l.DomainShutdown(dom)
}

func (c *conn) DomainDestroy(dom golibvirt.Domain) error {
	return c.l.DomainDestroy(dom)
}

func (c *conn) DomainReboot(dom golibvirt.Domain) error {
	return c.l.DomainReboot(dom, 0)
}

func (c *conn) DomainReset(dom golibvirt.Domain) error {
	return c.l.DomainReset(dom, 0)
}

func (c *conn) DomainSuspend(dom golibvirt.Domain) error {
	return c.l.DomainSuspend(dom)
}

func (c *conn) DomainResume(dom golibvirt.Domain) error {
	return c.l.DomainResume(dom)
}

func (c *conn) DomainInjectNMI(dom golibvirt.Domain) error {
	return c.l.DomainInjectNmi(dom, 0)
}

func (c *conn) DomainUndefine(dom golibvirt.Domain) error {
	// NVRAM must go too or the undefine fails on UEFI guests.
	return c.l.DomainUndefineFlags(dom, golibvirt.DomainUndefineManagedSave|golibvirt.DomainUndefineNvram)
}

func (c *conn) DomainSetAutostart(dom golibvirt.Domain, autostart bool) error {
	return c.l.DomainSetAutostart(dom, boolToInt32(autostart))
}

func (c *conn) DomainAttachDevice(dom golibvirt.Domain, xml string, flags uint32) error {
	if flags&AffectLive != 0 {
		return c.l.DomainAttachDeviceFlags(dom, xml, 3)
	}
	return c.l.DomainAttachDeviceFlags(dom, xml, 2)
}

func (c *conn) DomainDetachDevice(dom golibvirt.Domain, xml string, flags uint32) error {
	if flags&AffectLive != 0 {
		return c.l.DomainDetachDeviceFlags(dom, xml, 3)
	}
	return c.l.DomainDetachDeviceFlags(dom, xml, 2)
}

func (c *conn) ConnectListAllNetworks(flags uint32) ([]golibvirt.Network, error) {
	nets, _, err := c.l.ConnectListAllNetworks(1, golibvirt.ConnectListAllNetworksFlags(flags))
	return nets, err
}

func (c *conn) NetworkLookupByUUID(id golibvirt.UUID) (golibvirt.Network, error) {
	return c.l.NetworkLookupByUUID(id)
}

func (c *conn) NetworkGetXMLDesc(net golibvirt.Network) (string, error) {
	return c.l.NetworkGetXMLDesc(net, 0)
}

func (c *conn) NetworkIsActive(net golibvirt.Network) (bool, error) {
	v, err := c.l.NetworkIsActive(net)
	return v != 0, err
}

func (c *conn) NetworkIsPersistent(net golibvirt.Network) (bool, error) {
	v, err := c.l.NetworkIsPersistent(net)
	return v != 0, err
}

func (c *conn) NetworkGetAutostart(net golibvirt.Network) (bool, error) {
	v, err := c.l.NetworkGetAutostart(net)
	return v != 0, err
}

func (c *conn) NetworkCreate(net golibvirt.Network) error {
	return c.l.NetworkCreate(net)
}

func (c *conn) NetworkDestroy(net golibvirt.Network) error {
	return c.l.NetworkDestroy(net)
}

func (c *conn) ConnectListAllStoragePools(flags uint32) ([]golibvirt.StoragePool, error) {
	pools, _, err := c.l.ConnectListAllStoragePools(1, golibvirt.ConnectListAllStoragePoolsFlags(flags))
	return pools, err
}

func (c *conn) StoragePoolLookupByUUID(id golibvirt.UUID) (golibvirt.StoragePool, error) {
	return c.l.StoragePoolLookupByUUID(id)
}

func (c *conn) StoragePoolGetXMLDesc(pool golibvirt.StoragePool) (string, error) {
	return c.l.StoragePoolGetXMLDesc(pool, 0)
}

func (c *conn) StoragePoolGetInfo(pool golibvirt.StoragePool) (PoolInfo, error) {
	state, capacity, allocation, available, err := c.l.StoragePoolGetInfo(pool)
	if err != nil {
		return PoolInfo{}, err
	}
	return PoolInfo{State: state, Capacity: capacity, Allocation: allocation, Available: available}, nil
}

func (c *conn) StoragePoolIsPersistent(pool golibvirt.StoragePool) (bool, error) {
	v, err := c.l.StoragePoolIsPersistent(pool)
	return v != 0, err
}

func (c *conn) StoragePoolGetAutostart(pool golibvirt.StoragePool) (bool, error) {
	v, err := c.l.StoragePoolGetAutostart(pool)
	return v != 0, err
}

func (c *conn) StoragePoolListAllVolumes(pool golibvirt.StoragePool) ([]golibvirt.StorageVol, error) {
	vols, _, err := c.l.StoragePoolListAllVolumes(pool, 1, 0)
	return vols, err
}

func (c *conn) StorageVolGetXMLDesc(vol golibvirt.StorageVol) (string, error) {
	return c.l.StorageVolGetXMLDesc(vol, 0)
}

func (c *conn) StoragePoolCreate(pool golibvirt.StoragePool) error {
	return c.l.StoragePoolCreate(pool, 0)
}

func (c *conn) StoragePoolDestroy(pool golibvirt.StoragePool) error {
	return c.l.StoragePoolDestroy(pool)
}

func (c *conn) StoragePoolRefresh(pool golibvirt.StoragePool) error {
	return c.l.StoragePoolRefresh(pool, 0)
}

func (c *conn) ConnectListAllNodeDevices() ([]golibvirt.NodeDevice, error) {
	devs, _, err := c.l.ConnectListAllNodeDevices(1, 0)
	return devs, err
}

func (c *conn) NodeDeviceGetXMLDesc(name string) (string, error) {
	return c.l.NodeDeviceGetXMLDesc(name, 0)
}

func (c *conn) ConnectListAllInterfaces() ([]golibvirt.Interface, error) {
	ifaces, _, err := c.l.ConnectListAllInterfaces(1, 0)
	return ifaces, err
}

func (c *conn) InterfaceLookupByName(name string) (golibvirt.Interface, error) {
	return c.l.InterfaceLookupByName(name)
}

func (c *conn) InterfaceGetXMLDesc(iface golibvirt.Interface) (string, error) {
	return c.l.InterfaceGetXMLDesc(iface, 0)
}

func (c *conn) InterfaceIsActive(iface golibvirt.Interface) (bool, error) {
	v, err := c.l.InterfaceIsActive(iface)
	return v != 0, err
}

// propertyEvents are the domain event ids forwarded as property signals.
var propertyEvents = map[string]golibvirt.DomainEventID{
	MemberDeviceAdded:     golibvirt.DomainEventIDDeviceAdded,
	MemberDeviceRemoved:   golibvirt.DomainEventIDDeviceRemoved,
	MemberMetadataChanged: golibvirt.DomainEventIDMetadataChange,
}

func (c *conn) DomainEvents(ctx context.Context) (<-chan DomainEvent, error) {
	lifecycle, err := c.l.LifecycleEvents(ctx)
	if err != nil {
		return nil, errors.Errorf("failed to subscribe to lifecycle events: %w", err)
	}

	out := make(chan DomainEvent, 64)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range lifecycle {
			select {
			case out <- DomainEvent{Domain: msg.Dom, Member: MemberDomainEvent, Event: msg.Event, Detail: msg.Detail}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for member, id := range propertyEvents {
		ch, err := c.l.SubscribeEvents(ctx, id, golibvirt.OptDomain{})
		if err != nil {
			// Older daemons lack some event ids; lifecycle events still work.
			zerolog.Ctx(ctx).Debug().Err(err).Str("member", member).Msg("domain event subscription unavailable")
			continue
		}
		wg.Add(1)
		go func(member string, ch <-chan interface{}) {
			defer wg.Done()
			for msg := range ch {
				dom, ok := eventDomain(msg)
				if !ok {
					continue
				}
				select {
				case out <- DomainEvent{Domain: dom, Member: member}:
				case <-ctx.Done():
					return
				}
			}
		}(member, ch)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

// eventDomain digs the Dom field out of a go-libvirt event message. The
// callback messages nest the payload under Msg.
func eventDomain(msg interface{}) (golibvirt.Domain, bool) {
	v := reflect.ValueOf(msg)
	for depth := 0; depth < 3 && v.IsValid(); depth++ {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return golibvirt.Domain{}, false
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return golibvirt.Domain{}, false
		}
		if f := v.FieldByName("Dom"); f.IsValid() {
			dom, ok := f.Interface().(golibvirt.Domain)
			return dom, ok
		}
		v = v.FieldByName("Msg")
	}
	return golibvirt.Domain{}, false
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
