package libvirt_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/libvirt"
	"github.com/jbweber/virtmirror/internal/libvirt/libvirttest"
)

func newTransport(t *testing.T, fakes map[v1alpha1.Scope]*libvirttest.Hypervisor) (*libvirt.Transport, *int) {
	t.Helper()
	var mu sync.Mutex
	dials := 0
	tr := libvirt.NewTransport(libvirt.Options{
		CallTimeout:       time.Second,
		WatchInterval:     10 * time.Millisecond,
		ReconnectInterval: 10 * time.Millisecond,
		Dial: func(ctx context.Context, scope v1alpha1.Scope, uri string) (libvirt.Hypervisor, error) {
			mu.Lock()
			defer mu.Unlock()
			dials++
			f, ok := fakes[scope]
			if !ok {
				return nil, fmt.Errorf("no daemon for %s", uri)
			}
			return f, nil
		},
	})
	t.Cleanup(func() { _ = tr.Close() })
	return tr, &dials
}

func TestTransportConnIsCachedPerScope(t *testing.T) {
	fake := libvirttest.New()
	tr, dials := newTransport(t, map[v1alpha1.Scope]*libvirttest.Hypervisor{v1alpha1.ScopeSystem: fake})
	ctx := context.Background()

	c1, err := tr.Conn(ctx, v1alpha1.ScopeSystem)
	require.NoError(t, err)
	c2, err := tr.Conn(ctx, v1alpha1.ScopeSystem)
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, 1, *dials)

	_, err = tr.Conn(ctx, v1alpha1.Scope("bogus"))
	assert.ErrorIs(t, err, libvirt.ErrUnknownScope)
}

func TestTransportURI(t *testing.T) {
	tr := libvirt.NewTransport(libvirt.Options{
		URIs: map[v1alpha1.Scope]string{v1alpha1.ScopeSystem: "qemu+tcp://host/system"},
	})
	assert.Equal(t, "qemu+tcp://host/system", tr.URI(v1alpha1.ScopeSystem))
	assert.Equal(t, libvirt.DefaultSessionURI, tr.URI(v1alpha1.ScopeSession))
}

func TestTransportCall(t *testing.T) {
	fake := libvirttest.New()
	dom := fake.AddDomain("vm1")
	tr, _ := newTransport(t, map[v1alpha1.Scope]*libvirttest.Hypervisor{v1alpha1.ScopeSystem: fake})
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		var state int32
		err := tr.Call(ctx, v1alpha1.ScopeSystem, dom.Path(), "GetState", 0, func(h libvirt.Hypervisor) error {
			d, err := libvirt.LookupDomain(h, dom.Path())
			if err != nil {
				return err
			}
			state, err = h.DomainGetState(d)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, libvirttest.StateShutoff, state)
	})

	t.Run("not found", func(t *testing.T) {
		missing := "/org/libvirt/QEMU/domain/_00000000_0000_0000_0000_000000000001"
		err := tr.Call(ctx, v1alpha1.ScopeSystem, missing, "Lookup", 0, func(h libvirt.Hypervisor) error {
			_, err := libvirt.LookupDomain(h, missing)
			return err
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, libvirt.ErrNotFound)

		var rce *libvirt.RemoteCallError
		require.True(t, errors.As(err, &rce))
		assert.Equal(t, "Lookup", rce.Method)
		assert.Equal(t, missing, rce.Path)
		assert.Equal(t, v1alpha1.ScopeSystem, rce.Scope)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		err := tr.Call(ctx, v1alpha1.ScopeSystem, "", "Slow", 20*time.Millisecond, func(h libvirt.Hypervisor) error {
			<-release
			return nil
		})
		assert.ErrorIs(t, err, libvirt.ErrTimeout)
	})

	t.Run("unreachable scope", func(t *testing.T) {
		err := tr.Call(ctx, v1alpha1.ScopeSession, "", "GetLibVersion", 0, func(h libvirt.Hypervisor) error {
			return nil
		})
		var rce *libvirt.RemoteCallError
		require.True(t, errors.As(err, &rce))
		assert.Equal(t, v1alpha1.ScopeSession, rce.Scope)
	})
}

func TestTransportPing(t *testing.T) {
	fake := libvirttest.New()
	fake.Version = 10005000
	tr, _ := newTransport(t, map[v1alpha1.Scope]*libvirttest.Hypervisor{v1alpha1.ScopeSystem: fake})

	version, err := tr.Ping(context.Background(), v1alpha1.ScopeSystem)
	require.NoError(t, err)
	assert.Equal(t, uint64(10005000), version)
}

func TestTransportClose(t *testing.T) {
	fake := libvirttest.New()
	tr, _ := newTransport(t, map[v1alpha1.Scope]*libvirttest.Hypervisor{v1alpha1.ScopeSystem: fake})
	ctx := context.Background()

	_, err := tr.Conn(ctx, v1alpha1.ScopeSystem)
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	assert.True(t, fake.Disconnected())

	_, err = tr.Conn(ctx, v1alpha1.ScopeSystem)
	assert.ErrorIs(t, err, libvirt.ErrClosed)
	assert.NoError(t, tr.Close())
}

func TestTransportRedialsLostConnection(t *testing.T) {
	fake := libvirttest.New()
	tr, dials := newTransport(t, map[v1alpha1.Scope]*libvirttest.Hypervisor{v1alpha1.ScopeSystem: fake})
	ctx := context.Background()

	_, err := tr.Ping(ctx, v1alpha1.ScopeSystem)
	require.NoError(t, err)
	require.Equal(t, 1, *dials)

	fake.Crash()
	_, err = tr.Ping(ctx, v1alpha1.ScopeSystem)
	assert.ErrorIs(t, err, libvirttest.ErrConnectionLost)
	assert.Equal(t, 2, *dials, "a lost connection is not reused")

	fake.Restart()
	version, err := tr.Ping(ctx, v1alpha1.ScopeSystem)
	require.NoError(t, err)
	assert.Equal(t, fake.Version, version)
	assert.Equal(t, 2, *dials, "the restored connection is cached again")
}

type recorder struct {
	mu   sync.Mutex
	sigs []libvirt.Signal
}

func (r *recorder) handle(_ context.Context, sig libvirt.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sigs = append(r.sigs, sig)
}

func (r *recorder) signals() []libvirt.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]libvirt.Signal(nil), r.sigs...)
}

func TestTransportSubscribeDomainEvents(t *testing.T) {
	fake := libvirttest.New()
	dom := fake.AddRunningDomain("vm1", true)
	tr, _ := newTransport(t, map[v1alpha1.Scope]*libvirttest.Hypervisor{v1alpha1.ScopeSystem: fake})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var lifecycle, props recorder
	tr.Subscribe(ctx, v1alpha1.ScopeSystem, libvirt.DomainLifecycle, lifecycle.handle)
	tr.Subscribe(ctx, v1alpha1.ScopeSystem, libvirt.DomainProperties, props.handle)

	fake.Emit(libvirt.DomainEvent{Domain: dom.Dom, Member: libvirt.MemberDomainEvent, Event: 3, Detail: 0})
	fake.Emit(libvirt.DomainEvent{Domain: dom.Dom, Member: libvirt.MemberDeviceAdded})

	require.Eventually(t, func() bool {
		return len(lifecycle.signals()) == 1 && len(props.signals()) == 1
	}, time.Second, 5*time.Millisecond)

	got := lifecycle.signals()[0]
	assert.Equal(t, dom.Path(), got.Path)
	assert.Equal(t, v1alpha1.EventSuspended, got.Code)

	assert.Equal(t, libvirt.MemberDeviceAdded, props.signals()[0].Member)
	assert.Equal(t, 1, fake.CallCount("DomainEvents"))
}

func TestTransportSubscribeUnknownScope(t *testing.T) {
	tr, dials := newTransport(t, nil)
	var rec recorder

	tr.Subscribe(context.Background(), v1alpha1.Scope("bogus"), libvirt.DomainLifecycle, rec.handle)

	assert.Equal(t, 0, *dials)
	assert.Empty(t, rec.signals())
}

func TestTransportWatcherSignals(t *testing.T) {
	fake := libvirttest.New()
	net := fake.AddNetwork("default", "virbr0")
	tr, _ := newTransport(t, map[v1alpha1.Scope]*libvirttest.Hypervisor{v1alpha1.ScopeSystem: fake})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rec recorder
	tr.Subscribe(ctx, v1alpha1.ScopeSystem, libvirt.NetworkLifecycle, rec.handle)

	// Wait for the priming listing before changing state.
	require.Eventually(t, func() bool {
		return fake.CallCount("ConnectListAllNetworks") >= 4
	}, time.Second, 5*time.Millisecond)

	fake.SetNetwork(net, false, true, false)

	require.Eventually(t, func() bool {
		for _, sig := range rec.signals() {
			if sig.Path == net.Path() && sig.Code == v1alpha1.EventStopped {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestTransportResubscribesAfterConnectionLoss(t *testing.T) {
	fake := libvirttest.New()
	dom := fake.AddRunningDomain("vm1", true)
	tr, _ := newTransport(t, map[v1alpha1.Scope]*libvirttest.Hypervisor{v1alpha1.ScopeSystem: fake})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var lifecycle, reconnected recorder
	tr.Subscribe(ctx, v1alpha1.ScopeSystem, libvirt.DomainLifecycle, lifecycle.handle)
	tr.Subscribe(ctx, v1alpha1.ScopeSystem, libvirt.Reconnected, reconnected.handle)

	fake.Crash()
	require.Eventually(t, func() bool {
		return fake.CallCount("DomainEvents") >= 2
	}, time.Second, 5*time.Millisecond, "resubscribe is retried while the daemon is down")
	assert.Empty(t, reconnected.signals())

	fake.Restart()
	require.Eventually(t, func() bool {
		return len(reconnected.signals()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, v1alpha1.ScopeSystem, reconnected.signals()[0].Scope)

	fake.Emit(libvirt.DomainEvent{Domain: dom.Dom, Member: libvirt.MemberDomainEvent, Event: 5})
	require.Eventually(t, func() bool {
		return len(lifecycle.signals()) == 1
	}, time.Second, 5*time.Millisecond, "events flow over the new stream")
	assert.Equal(t, v1alpha1.EventStopped, lifecycle.signals()[0].Code)
}
