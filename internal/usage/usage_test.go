package usage

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/libvirt"
	"github.com/jbweber/virtmirror/internal/libvirt/libvirttest"
	"github.com/jbweber/virtmirror/internal/store"
)

func TestCompute(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name   string
		params []golibvirt.TypedParam
		check  func(t *testing.T, s v1alpha1.UsageSample)
	}{
		{
			name: "full record",
			params: []golibvirt.TypedParam{
				libvirttest.IntParam("state.state", 1),
				libvirttest.ULLongParam("balloon.rss", 524288),
				libvirttest.UIntParam("vcpu.current", 2),
				libvirttest.ULLongParam("vcpu.0.time", 3000),
				libvirttest.ULLongParam("vcpu.1.time", 1000),
				libvirttest.UIntParam("block.count", 1),
				libvirttest.StringParam("block.0.name", "vda"),
				libvirttest.ULLongParam("block.0.capacity", 10<<30),
				libvirttest.ULLongParam("block.0.allocation", 1<<30),
				libvirttest.ULLongParam("block.0.physical", 2<<30),
			},
			check: func(t *testing.T, s v1alpha1.UsageSample) {
				assert.Equal(t, 524288.0, s.RSSMemory)
				require.NotNil(t, s.CPUTime)
				assert.Equal(t, 2000.0, *s.CPUTime)
				require.NotNil(t, s.ActualTimeInMs)
				assert.Equal(t, now.UnixMilli(), *s.ActualTimeInMs)
				assert.Equal(t, v1alpha1.DiskStats{Physical: 2 << 30, Capacity: 10 << 30, Allocation: 1 << 30}, s.Disks["vda"])
				assert.Equal(t, now, s.SampledAt.Time)
			},
		},
		{
			name: "partial vcpu report keeps the current divisor",
			params: []golibvirt.TypedParam{
				libvirttest.UIntParam("vcpu.current", 4),
				libvirttest.ULLongParam("vcpu.0.time", 4000),
				libvirttest.ULLongParam("vcpu.2.time", 4000),
			},
			check: func(t *testing.T, s v1alpha1.UsageSample) {
				require.NotNil(t, s.CPUTime)
				assert.Equal(t, 2000.0, *s.CPUTime)
			},
		},
		{
			name: "zero vcpus omit cpu time",
			params: []golibvirt.TypedParam{
				libvirttest.UIntParam("vcpu.current", 0),
				libvirttest.ULLongParam("vcpu.0.time", 4000),
			},
			check: func(t *testing.T, s v1alpha1.UsageSample) {
				assert.Nil(t, s.CPUTime)
				assert.Nil(t, s.ActualTimeInMs)
			},
		},
		{
			name: "shut off forces rss to zero",
			params: []golibvirt.TypedParam{
				libvirttest.IntParam("state.state", 5),
				libvirttest.ULLongParam("balloon.rss", 524288),
			},
			check: func(t *testing.T, s v1alpha1.UsageSample) {
				assert.Equal(t, 0.0, s.RSSMemory)
			},
		},
		{
			name: "missing disk values are NaN",
			params: []golibvirt.TypedParam{
				libvirttest.UIntParam("block.count", 2),
				libvirttest.StringParam("block.0.name", "vda"),
				libvirttest.ULLongParam("block.0.capacity", 100),
				libvirttest.StringParam("block.1.name", "sda"),
			},
			check: func(t *testing.T, s v1alpha1.UsageSample) {
				require.Len(t, s.Disks, 2)
				vda := s.Disks["vda"]
				assert.Equal(t, v1alpha1.Gauge(100), vda.Capacity)
				assert.True(t, math.IsNaN(float64(vda.Physical)))
				assert.False(t, s.Disks["sda"].Allocation.Valid())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Compute(tt.params, now))
		})
	}
}

type visibility struct{ hidden atomic.Bool }

func (v *visibility) Hidden() bool { return v.hidden.Load() }

type service struct{ down atomic.Bool }

func (s *service) Running(context.Context) bool { return !s.down.Load() }

type env struct {
	fake   *libvirttest.Hypervisor
	store  *store.Store
	vis    *visibility
	svc    *service
	poller *Poller
	key    v1alpha1.Key
	ctx    context.Context
}

func setup(t *testing.T) *env {
	t.Helper()
	fake := libvirttest.New()
	tr := libvirt.NewTransport(libvirt.Options{
		CallTimeout: time.Second,
		Dial: func(context.Context, v1alpha1.Scope, string) (libvirt.Hypervisor, error) {
			return fake, nil
		},
	})
	t.Cleanup(func() { _ = tr.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dom := fake.AddRunningDomain("vm", true)
	fake.Do(func() {
		dom.Stats = []golibvirt.TypedParam{
			libvirttest.IntParam("state.state", 1),
			libvirttest.ULLongParam("balloon.rss", 4096),
		}
	})

	s := store.New()
	key := v1alpha1.Key{Scope: v1alpha1.ScopeSystem, Path: dom.Path()}
	s.UpsertDomain(key, v1alpha1.DomainPatch{
		Name:       v1alpha1.Ptr("vm"),
		State:      v1alpha1.Ptr(v1alpha1.DomainStateRunning),
		Persistent: v1alpha1.Ptr(true),
	})

	vis, svc := &visibility{}, &service{}
	p := NewPoller(tr, s, vis, svc, Options{
		Interval:       5 * time.Millisecond,
		HiddenInterval: 5 * time.Millisecond,
		StatsTimeout:   time.Second,
	})
	return &env{fake: fake, store: s, vis: vis, svc: svc, poller: p, key: key, ctx: ctx}
}

func TestPollerSamplesUntilStopped(t *testing.T) {
	e := setup(t)

	require.True(t, e.poller.Start(e.ctx, e.key))
	assert.True(t, e.poller.Start(e.ctx, e.key), "second start reuses the loop")

	assert.Eventually(t, func() bool {
		d, _ := e.store.Domain(e.key)
		return d.Usage.RSSMemory == 4096
	}, time.Second, 5*time.Millisecond)

	e.poller.Stop(e.key)
	assert.Eventually(t, func() bool { return !e.poller.Polling(e.key) }, time.Second, 5*time.Millisecond)

	calls := e.fake.CallCount("ConnectGetAllDomainStats")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, e.fake.CallCount("ConnectGetAllDomainStats"), "no calls after stop")
}

func TestPollerUnknownDomain(t *testing.T) {
	e := setup(t)
	assert.False(t, e.poller.Start(e.ctx, v1alpha1.Key{Scope: v1alpha1.ScopeSystem, Path: "/org/libvirt/QEMU/domain/_missing"}))
}

func TestPollerPausesWhileHidden(t *testing.T) {
	e := setup(t)
	e.vis.hidden.Store(true)

	require.True(t, e.poller.Start(e.ctx, e.key))
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, e.fake.CallCount("ConnectGetAllDomainStats"))

	e.vis.hidden.Store(false)
	assert.Eventually(t, func() bool {
		return e.fake.CallCount("ConnectGetAllDomainStats") > 0
	}, time.Second, 5*time.Millisecond)
}

func TestPollerRetriesWhileServiceDown(t *testing.T) {
	e := setup(t)
	e.svc.down.Store(true)

	require.True(t, e.poller.Start(e.ctx, e.key))
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, e.fake.CallCount("ConnectGetAllDomainStats"))
	assert.True(t, e.poller.Polling(e.key))

	e.svc.down.Store(false)
	assert.Eventually(t, func() bool {
		d, _ := e.store.Domain(e.key)
		return d.Usage.RSSMemory == 4096
	}, time.Second, 5*time.Millisecond)
}

func TestPollerKeepsPollingAfterFailures(t *testing.T) {
	e := setup(t)
	e.fake.FailOn("ConnectGetAllDomainStats", libvirt.ErrTimeout)

	require.True(t, e.poller.Start(e.ctx, e.key))
	assert.Eventually(t, func() bool {
		return e.fake.CallCount("ConnectGetAllDomainStats") >= 2
	}, time.Second, 5*time.Millisecond)
	assert.True(t, e.poller.Polling(e.key))
}

func TestPollerEndsWhenDomainDeleted(t *testing.T) {
	e := setup(t)
	require.True(t, e.poller.Start(e.ctx, e.key))

	e.store.DeleteDomain(e.key)
	assert.Eventually(t, func() bool { return !e.poller.Polling(e.key) }, time.Second, 5*time.Millisecond)
}

func TestPollerExitAndStartDoNotInterleave(t *testing.T) {
	e := setup(t)

	// A registered loop whose flag is still set keeps running.
	require.True(t, e.store.StartUsagePolling(e.key))
	e.poller.loops[e.key] = true
	assert.False(t, e.poller.done(e.key))
	assert.True(t, e.poller.Polling(e.key))

	// Once it sees the flag cleared it is unregistered in the same step,
	// so the next Start cannot mistake it for a live loop.
	e.poller.Stop(e.key)
	assert.True(t, e.poller.done(e.key))
	assert.False(t, e.poller.Polling(e.key))

	require.True(t, e.poller.Start(e.ctx, e.key))
	assert.Eventually(t, func() bool {
		d, _ := e.store.Domain(e.key)
		return d.Usage.RSSMemory == 4096
	}, time.Second, 5*time.Millisecond)
}

func TestPollerStartRightAfterStop(t *testing.T) {
	e := setup(t)
	for range 50 {
		e.poller.Start(e.ctx, e.key)
		e.poller.Stop(e.key)
	}
	require.True(t, e.poller.Start(e.ctx, e.key))

	calls := e.fake.CallCount("ConnectGetAllDomainStats")
	assert.Eventually(t, func() bool {
		return e.fake.CallCount("ConnectGetAllDomainStats") > calls+2
	}, time.Second, 5*time.Millisecond, "a loop is running for the last start")
	assert.True(t, e.poller.Polling(e.key))
}
