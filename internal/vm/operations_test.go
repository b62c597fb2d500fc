package vm

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/descriptor"
	"github.com/jbweber/virtmirror/internal/fetch"
	"github.com/jbweber/virtmirror/internal/libvirt"
	"github.com/jbweber/virtmirror/internal/libvirt/libvirttest"
)

func TestCapabilitiesOf(t *testing.T) {
	tests := []struct {
		state      v1alpha1.DomainState
		persistent bool
		want       DomainCapabilities
	}{
		{
			state:      v1alpha1.DomainStateShutoff,
			persistent: true,
			want:       DomainCapabilities{CanRun: true, CanDelete: true},
		},
		{
			state:      v1alpha1.DomainStateRunning,
			persistent: true,
			want: DomainCapabilities{
				CanShutdown: true, CanForceOff: true, CanReboot: true, CanReset: true,
				CanPause: true, CanSendNMI: true, CanDelete: true, IsRunning: true,
			},
		},
		{
			state: v1alpha1.DomainStateRunning,
			want: DomainCapabilities{
				CanShutdown: true, CanForceOff: true, CanReboot: true, CanReset: true,
				CanPause: true, CanSendNMI: true, IsRunning: true,
			},
		},
		{
			state:      v1alpha1.DomainStatePaused,
			persistent: true,
			want: DomainCapabilities{
				CanShutdown: true, CanForceOff: true, CanReboot: true, CanReset: true,
				CanResume: true, CanSendNMI: true, CanDelete: true, IsRunning: true,
			},
		},
		{
			state:      v1alpha1.DomainStateShutdown,
			persistent: true,
			want:       DomainCapabilities{CanForceOff: true, CanDelete: true},
		},
		{
			state:      v1alpha1.DomainStateCrashed,
			persistent: true,
			want:       DomainCapabilities{CanForceOff: true, CanDelete: true},
		},
		{
			state: v1alpha1.DomainStateNoState,
			want:  DomainCapabilities{},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			d := &v1alpha1.Domain{State: tt.state, Persistent: tt.persistent}
			assert.Equal(t, tt.want, CapabilitiesOf(d))
		})
	}
}

func TestObjectCapabilities(t *testing.T) {
	assert.Equal(t, ObjectCapabilities{CanDeactivate: true},
		NetworkCapabilities(&v1alpha1.Network{Active: true, Persistent: true}))
	assert.Equal(t, ObjectCapabilities{CanActivate: true, CanDelete: true},
		NetworkCapabilities(&v1alpha1.Network{Persistent: true}))
	assert.Equal(t, ObjectCapabilities{CanActivate: true},
		PoolCapabilities(&v1alpha1.StoragePool{}))
}

func TestDomainOperations(t *testing.T) {
	tests := []struct {
		name    string
		running bool
		paused  bool
		op      func(e *testEnv, key v1alpha1.Key) error
		method  string
		want    v1alpha1.DomainState
	}{
		{
			name:   "start",
			op:     func(e *testEnv, key v1alpha1.Key) error { return e.ops.Start(e.ctx, key) },
			method: "DomainCreate",
			want:   v1alpha1.DomainStateRunning,
		},
		{
			name:    "shutdown",
			running: true,
			op:      func(e *testEnv, key v1alpha1.Key) error { return e.ops.Shutdown(e.ctx, key) },
			method:  "DomainShutdown",
			want:    v1alpha1.DomainStateShutoff,
		},
		{
			name:    "force off",
			running: true,
			op:      func(e *testEnv, key v1alpha1.Key) error { return e.ops.ForceOff(e.ctx, key) },
			method:  "DomainDestroy",
			want:    v1alpha1.DomainStateShutoff,
		},
		{
			name:    "reboot",
			running: true,
			op:      func(e *testEnv, key v1alpha1.Key) error { return e.ops.Reboot(e.ctx, key) },
			method:  "DomainReboot",
			want:    v1alpha1.DomainStateRunning,
		},
		{
			name:    "reset",
			running: true,
			op:      func(e *testEnv, key v1alpha1.Key) error { return e.ops.Reset(e.ctx, key) },
			method:  "DomainReset",
			want:    v1alpha1.DomainStateRunning,
		},
		{
			name:    "pause",
			running: true,
			op:      func(e *testEnv, key v1alpha1.Key) error { return e.ops.Pause(e.ctx, key) },
			method:  "DomainSuspend",
			want:    v1alpha1.DomainStatePaused,
		},
		{
			name:    "resume",
			running: true,
			paused:  true,
			op:      func(e *testEnv, key v1alpha1.Key) error { return e.ops.Resume(e.ctx, key) },
			method:  "DomainResume",
			want:    v1alpha1.DomainStateRunning,
		},
		{
			name:    "send nmi",
			running: true,
			op:      func(e *testEnv, key v1alpha1.Key) error { return e.ops.SendNMI(e.ctx, key) },
			method:  "DomainInjectNMI",
			want:    v1alpha1.DomainStateRunning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			var dom *libvirttest.Domain
			if tt.running {
				dom = e.fake.AddRunningDomain("vm", true)
			} else {
				dom = e.fake.AddDomain("vm")
			}
			if tt.paused {
				e.fake.SetDomainState(dom, libvirttest.StatePaused)
			}
			key := e.domain(dom)

			require.NoError(t, tt.op(e, key))

			assert.Equal(t, 1, e.fake.CallCount(tt.method))
			assert.Equal(t, []fetchCall{{kind: v1alpha1.KindDomain, path: key.Path, mode: fetch.UpdateOnly}}, e.fetcher.Calls())
			d, ok := e.store.Domain(key)
			require.True(t, ok)
			assert.Equal(t, tt.want, d.State)
		})
	}
}

func TestOperationNotPermitted(t *testing.T) {
	e := newTestEnv(t)
	key := e.domain(e.fake.AddRunningDomain("vm", true))

	err := e.ops.Start(e.ctx, key)
	assert.True(t, errors.Is(err, ErrNotPermitted), "got %v", err)
	assert.Zero(t, e.fake.CallCount("DomainCreate"))
	assert.Empty(t, e.fetcher.Calls(), "refused operations do not refetch")

	err = e.ops.Resume(e.ctx, key)
	assert.True(t, errors.Is(err, ErrNotPermitted))
}

func TestOperationUnknownKey(t *testing.T) {
	e := newTestEnv(t)
	key := v1alpha1.Key{Scope: v1alpha1.ScopeSystem, Path: "/org/libvirt/QEMU/domain/_missing"}

	assert.True(t, errors.Is(e.ops.Start(e.ctx, key), ErrUnknown))
	assert.True(t, errors.Is(e.ops.NetworkActivate(e.ctx, key), ErrUnknown))
	assert.True(t, errors.Is(e.ops.PoolRefresh(e.ctx, key), ErrUnknown))
	assert.Empty(t, e.fake.Calls())
}

func TestRemoteFailureIsSurfacedAndRefetched(t *testing.T) {
	e := newTestEnv(t)
	key := e.domain(e.fake.AddRunningDomain("vm", true))
	e.fake.FailOn("DomainShutdown", errors.New("guest agent not responding"))

	err := e.ops.Shutdown(e.ctx, key)
	require.Error(t, err)
	var rce *libvirt.RemoteCallError
	require.True(t, errors.As(err, &rce))
	assert.Equal(t, "DomainShutdown", rce.Method)
	assert.Len(t, e.fetcher.Calls(), 1)
}

func TestUndefineRunningDomainBecomesTransient(t *testing.T) {
	e := newTestEnv(t)
	key := e.domain(e.fake.AddRunningDomain("vm", true))

	require.NoError(t, e.ops.Undefine(e.ctx, key))

	d, ok := e.store.Domain(key)
	require.True(t, ok)
	assert.False(t, d.Persistent)
	assert.Nil(t, d.Inactive)

	err := e.ops.Undefine(e.ctx, key)
	assert.True(t, errors.Is(err, ErrNotPermitted), "transient domains cannot be undefined")
}

func TestSetAutostart(t *testing.T) {
	e := newTestEnv(t)
	key := e.domain(e.fake.AddDomain("vm"))

	require.NoError(t, e.ops.SetAutostart(e.ctx, key, true))
	d, _ := e.store.Domain(key)
	assert.True(t, d.Autostart)

	transient := e.domain(e.fake.AddRunningDomain("scratch", false))
	assert.True(t, errors.Is(e.ops.SetAutostart(e.ctx, transient, true), ErrNotPermitted))
}

func TestDeviceFlags(t *testing.T) {
	tests := []struct {
		name       string
		state      v1alpha1.DomainState
		persistent bool
		want       uint32
	}{
		{"persistent running", v1alpha1.DomainStateRunning, true, libvirt.AffectConfig | libvirt.AffectLive},
		{"persistent shut off", v1alpha1.DomainStateShutoff, true, libvirt.AffectConfig},
		{"transient running", v1alpha1.DomainStateRunning, false, libvirt.AffectLive},
		{"transient paused", v1alpha1.DomainStatePaused, false, libvirt.AffectLive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deviceFlags(&v1alpha1.Domain{State: tt.state, Persistent: tt.persistent}))
		})
	}
}

const diskXML = `<disk type="file" device="disk">
  <source file="/var/lib/libvirt/images/data.qcow2"/>
  <target dev="vdb" bus="virtio"/>
</disk>`

func TestAttachAndDetachDevice(t *testing.T) {
	e := newTestEnv(t)
	dom := e.fake.AddDomain("vm")
	key := e.domain(dom)

	require.NoError(t, e.ops.AttachDevice(e.ctx, key, diskXML))
	e.fake.Do(func() { assert.Len(t, dom.Devices, 1) })

	require.NoError(t, e.ops.DetachDevice(e.ctx, key, diskXML))
	e.fake.Do(func() { assert.Empty(t, dom.Devices) })
	assert.Len(t, e.fetcher.Calls(), 2)
}

func TestAttachInvalidDevice(t *testing.T) {
	e := newTestEnv(t)
	key := e.domain(e.fake.AddDomain("vm"))
	e.fake.ResetCalls()

	err := e.ops.AttachDevice(e.ctx, key, "<domain/>")
	assert.True(t, errors.Is(err, descriptor.ErrInvalidDevice), "got %v", err)
	assert.Empty(t, e.fake.Calls())
}

func TestNetworkOperations(t *testing.T) {
	e := newTestEnv(t)
	net := e.fake.AddNetwork("default", "virbr0")
	key := v1alpha1.Key{Scope: v1alpha1.ScopeSystem, Path: net.Path()}
	e.fetcher.next.Network(e.ctx, key.Scope, key.Path, fetch.Upsert)

	assert.True(t, errors.Is(e.ops.NetworkActivate(e.ctx, key), ErrNotPermitted))

	require.NoError(t, e.ops.NetworkDeactivate(e.ctx, key))
	n, _ := e.store.Network(key)
	assert.False(t, n.Active)

	require.NoError(t, e.ops.NetworkActivate(e.ctx, key))
	n, _ = e.store.Network(key)
	assert.True(t, n.Active)
}

func TestPoolOperations(t *testing.T) {
	e := newTestEnv(t)
	pool := e.fake.AddPool("images", "/var/lib/libvirt/images")
	key := v1alpha1.Key{Scope: v1alpha1.ScopeSystem, Path: pool.Path()}
	e.fetcher.next.StoragePool(e.ctx, key.Scope, key.Path, fetch.Upsert)

	require.NoError(t, e.ops.PoolRefresh(e.ctx, key))
	e.fake.Do(func() { assert.Equal(t, 1, pool.Refreshes) })

	require.NoError(t, e.ops.PoolDeactivate(e.ctx, key))
	p, _ := e.store.StoragePool(key)
	assert.False(t, p.Active)
	assert.True(t, errors.Is(e.ops.PoolRefresh(e.ctx, key), ErrNotPermitted))

	require.NoError(t, e.ops.PoolActivate(e.ctx, key))
	p, _ = e.store.StoragePool(key)
	assert.True(t, p.Active)
}

func TestActions(t *testing.T) {
	e := newTestEnv(t)

	names := func(kind v1alpha1.Kind) []string {
		var out []string
		for name := range e.ops.Actions(kind) {
			out = append(out, name)
		}
		slices.Sort(out)
		return out
	}
	assert.Equal(t, []string{"forceoff", "nmi", "pause", "reboot", "reset", "resume", "shutdown", "start", "undefine"}, names(v1alpha1.KindDomain))
	assert.Equal(t, []string{"activate", "deactivate"}, names(v1alpha1.KindNetwork))
	assert.Equal(t, []string{"activate", "deactivate", "refresh"}, names(v1alpha1.KindStoragePool))
	assert.Nil(t, e.ops.Actions(v1alpha1.KindInterface))
}
