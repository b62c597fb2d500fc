// Package libvirttest provides an in-memory libvirt.Hypervisor for tests.
//
// Objects are added with the Add* helpers and then mutated either through
// the Hypervisor methods (as the code under test does) or directly through
// the returned records. Any method can be made to fail with FailOn, and
// every call is recorded for assertions.
package libvirttest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"gitlab.com/tozd/go/errors"

	"github.com/jbweber/virtmirror/internal/libvirt"
	"github.com/jbweber/virtmirror/internal/naming"
)

// ErrConnectionLost is returned by every call between Crash and Restart.
var ErrConnectionLost = errors.New("connection to the daemon lost")

// virDomainState values used by the fake.
const (
	StateRunning     int32 = 1
	StatePaused      int32 = 3
	StateShutdown    int32 = 4
	StateShutoff     int32 = 5
	StateCrashed     int32 = 6
	StatePMSuspended int32 = 7
)

// Domain is one fake domain.
type Domain struct {
	Dom         golibvirt.Domain
	XML         string
	InactiveXML string
	State       int32
	Persistent  bool
	Autostart   bool
	Snapshots   []Snapshot
	Stats       []golibvirt.TypedParam
	Devices     []string
}

// Path returns the object path of the domain.
func (d *Domain) Path() string {
	return naming.DomainPath(uuid.UUID(d.Dom.UUID))
}

// Snapshot is one fake domain snapshot.
type Snapshot struct {
	Name string
	XML  string
}

// Network is one fake virtual network.
type Network struct {
	Net        golibvirt.Network
	XML        string
	Active     bool
	Persistent bool
	Autostart  bool
}

// Path returns the object path of the network.
func (n *Network) Path() string {
	return naming.NetworkPath(uuid.UUID(n.Net.UUID))
}

// Pool is one fake storage pool.
type Pool struct {
	Pool       golibvirt.StoragePool
	XML        string
	Info       libvirt.PoolInfo
	Persistent bool
	Autostart  bool
	Volumes    []Volume
	Refreshes  int
}

// Path returns the object path of the pool.
func (p *Pool) Path() string {
	return naming.StoragePoolPath(uuid.UUID(p.Pool.UUID))
}

// Volume is one fake storage volume.
type Volume struct {
	Name string
	XML  string
}

// NodeDevice is one fake node device.
type NodeDevice struct {
	Name string
	XML  string
}

// Path returns the object path of the node device.
func (d *NodeDevice) Path() string {
	return naming.NodeDevicePath(d.Name)
}

// Interface is one fake host interface.
type Interface struct {
	Iface  golibvirt.Interface
	XML    string
	Active bool
}

// Path returns the object path of the interface.
func (i *Interface) Path() string {
	return naming.InterfacePath(i.Iface.Name)
}

// Hypervisor is an in-memory libvirt.Hypervisor.
type Hypervisor struct {
	Version uint64

	mu           sync.Mutex
	domains      []*Domain
	networks     []*Network
	pools        []*Pool
	nodeDevices  []*NodeDevice
	interfaces   []*Interface
	failures     map[string]error
	hooks        map[string]func()
	calls        []string
	events       chan libvirt.DomainEvent
	disconnected bool
	lost         bool
	nextID       int32
}

var _ libvirt.Hypervisor = (*Hypervisor)(nil)

// New returns an empty fake hypervisor.
func New() *Hypervisor {
	return &Hypervisor{
		Version:  10000000,
		failures: make(map[string]error),
		hooks:    make(map[string]func()),
		events:   make(chan libvirt.DomainEvent, 64),
		nextID:   1,
	}
}

// FailOn makes every later call of method return err. A nil err clears it.
func (h *Hypervisor) FailOn(method string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.failures, method)
		return
	}
	h.failures[method] = err
}

// OnCall runs fn at the start of every call of method, outside the lock.
// Useful to block a call or to mutate state mid-fetch.
func (h *Hypervisor) OnCall(method string, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks[method] = fn
}

// Calls returns the names of the methods called so far.
func (h *Hypervisor) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.calls)
}

// CallCount returns how often method was called.
func (h *Hypervisor) CallCount(method string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if c == method {
			n++
		}
	}
	return n
}

// ResetCalls forgets the recorded calls.
func (h *Hypervisor) ResetCalls() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = nil
}

// Disconnected reports whether Disconnect was called.
func (h *Hypervisor) Disconnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnected
}

// Emit queues an event on the domain event stream.
func (h *Hypervisor) Emit(ev libvirt.DomainEvent) {
	h.mu.Lock()
	events := h.events
	h.mu.Unlock()
	events <- ev
}

// Crash simulates the daemon going away: the domain event stream closes
// and every call fails with ErrConnectionLost until Restart.
func (h *Hypervisor) Crash() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lost {
		return
	}
	h.lost = true
	close(h.events)
	h.events = make(chan libvirt.DomainEvent, 64)
}

// Restart brings a crashed daemon back. Objects survive the restart.
func (h *Hypervisor) Restart() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lost = false
}

// IsConnected reports false between Crash and Restart.
func (h *Hypervisor) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.lost
}

// enter records the call, runs its hook and returns the injected failure.
// It returns with the lock held; callers defer the unlock.
func (h *Hypervisor) enter(method string) error {
	h.mu.Lock()
	h.calls = append(h.calls, method)
	hook := h.hooks[method]
	h.mu.Unlock()

	if hook != nil {
		hook()
	}

	h.mu.Lock()
	if h.lost {
		return ErrConnectionLost
	}
	return h.failures[method]
}

func notFound(kind, name string) error {
	return fmt.Errorf("no %s %s: %w", kind, name, libvirt.ErrNotFound)
}

// AddDomain adds a persistent, shut off domain with a minimal descriptor.
func (h *Hypervisor) AddDomain(name string) *Domain {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.New()
	d := &Domain{
		Dom:        golibvirt.Domain{Name: name, UUID: golibvirt.UUID(id), ID: -1},
		XML:        DomainXML(name, id),
		State:      StateShutoff,
		Persistent: true,
	}
	h.domains = append(h.domains, d)
	return d
}

// AddRunningDomain adds a running domain. Transient domains have no
// inactive descriptor.
func (h *Hypervisor) AddRunningDomain(name string, persistent bool) *Domain {
	d := h.AddDomain(name)

	h.mu.Lock()
	defer h.mu.Unlock()
	d.State = StateRunning
	d.Persistent = persistent
	d.Dom.ID = h.nextID
	h.nextID++
	return d
}

// RemoveDomain drops a domain as if it vanished remotely.
func (h *Hypervisor) RemoveDomain(d *Domain) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.domains = slices.DeleteFunc(h.domains, func(x *Domain) bool { return x == d })
}

// Domain returns the fake domain with the given name.
func (h *Hypervisor) Domain(name string) *Domain {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range h.domains {
		if d.Dom.Name == name {
			return d
		}
	}
	return nil
}

// Do runs fn under the fake's lock, for direct edits of records.
func (h *Hypervisor) Do(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn()
}

// SetDomainState changes the run state of d under the lock.
func (h *Hypervisor) SetDomainState(d *Domain, state int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d.State = state
}

// AddNetwork adds an active persistent network.
func (h *Hypervisor) AddNetwork(name, bridge string) *Network {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.New()
	n := &Network{
		Net:        golibvirt.Network{Name: name, UUID: golibvirt.UUID(id)},
		XML:        NetworkXML(name, id, bridge),
		Active:     true,
		Persistent: true,
	}
	h.networks = append(h.networks, n)
	return n
}

// RemoveNetwork drops a network.
func (h *Hypervisor) RemoveNetwork(n *Network) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.networks = slices.DeleteFunc(h.networks, func(x *Network) bool { return x == n })
}

// SetNetwork updates the flags of n under the lock.
func (h *Hypervisor) SetNetwork(n *Network, active, persistent, autostart bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n.Active, n.Persistent, n.Autostart = active, persistent, autostart
}

// AddPool adds a running persistent dir pool.
func (h *Hypervisor) AddPool(name, target string) *Pool {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.New()
	p := &Pool{
		Pool: golibvirt.StoragePool{Name: name, UUID: golibvirt.UUID(id)},
		XML:  PoolXML(name, id, target),
		Info: libvirt.PoolInfo{
			State:      libvirt.PoolStateRunning,
			Capacity:   100 << 30,
			Allocation: 40 << 30,
			Available:  60 << 30,
		},
		Persistent: true,
	}
	h.pools = append(h.pools, p)
	return p
}

// AddVolume adds a volume to p.
func (h *Hypervisor) AddVolume(p *Pool, name, path, format string, capacity uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p.Volumes = append(p.Volumes, Volume{Name: name, XML: VolumeXML(name, path, format, capacity)})
}

// RemovePool drops a pool.
func (h *Hypervisor) RemovePool(p *Pool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pools = slices.DeleteFunc(h.pools, func(x *Pool) bool { return x == p })
}

// AddNodeDevice adds a node device with the given descriptor.
func (h *Hypervisor) AddNodeDevice(name, xml string) *NodeDevice {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := &NodeDevice{Name: name, XML: xml}
	h.nodeDevices = append(h.nodeDevices, d)
	return d
}

// RemoveNodeDevice drops a node device.
func (h *Hypervisor) RemoveNodeDevice(d *NodeDevice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodeDevices = slices.DeleteFunc(h.nodeDevices, func(x *NodeDevice) bool { return x == d })
}

// AddInterface adds an active host interface.
func (h *Hypervisor) AddInterface(name, mac string) *Interface {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := &Interface{
		Iface:  golibvirt.Interface{Name: name, Mac: mac},
		XML:    InterfaceXML(name, mac),
		Active: true,
	}
	h.interfaces = append(h.interfaces, i)
	return i
}

// RemoveInterface drops a host interface.
func (h *Hypervisor) RemoveInterface(i *Interface) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.interfaces = slices.DeleteFunc(h.interfaces, func(x *Interface) bool { return x == i })
}

func (h *Hypervisor) ConnectGetLibVersion() (uint64, error) {
	err := h.enter("ConnectGetLibVersion")
	defer h.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return h.Version, nil
}

func (h *Hypervisor) Disconnect() error {
	err := h.enter("Disconnect")
	defer h.mu.Unlock()
	if err != nil {
		return err
	}
	h.disconnected = true
	return nil
}

func (h *Hypervisor) DomainEvents(ctx context.Context) (<-chan libvirt.DomainEvent, error) {
	err := h.enter("DomainEvents")
	defer h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return h.events, nil
}
