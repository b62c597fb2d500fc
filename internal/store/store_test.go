package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/virtmirror/api/v1alpha1"
)

var (
	keyA = v1alpha1.Key{Scope: v1alpha1.ScopeSystem, Path: "/org/libvirt/QEMU/domain/_a"}
	keyB = v1alpha1.Key{Scope: v1alpha1.ScopeSystem, Path: "/org/libvirt/QEMU/domain/_b"}
	keyS = v1alpha1.Key{Scope: v1alpha1.ScopeSession, Path: "/org/libvirt/QEMU/domain/_a"}
)

func running(name string, persistent bool) v1alpha1.DomainPatch {
	return v1alpha1.DomainPatch{
		Name:       v1alpha1.Ptr(name),
		ID:         v1alpha1.Ptr(int32(4)),
		State:      v1alpha1.Ptr(v1alpha1.DomainStateRunning),
		Persistent: v1alpha1.Ptr(persistent),
		Live:       &v1alpha1.DomainConfig{Type: "kvm", MemoryKiB: 1024},
	}
}

func TestUpsertAndUpdateDomain(t *testing.T) {
	s := New()

	assert.False(t, s.UpdateDomain(keyA, running("vm1", true)), "update-only must not create")
	_, ok := s.Domain(keyA)
	assert.False(t, ok)

	require.True(t, s.UpsertDomain(keyA, running("vm1", true)))
	d, ok := s.Domain(keyA)
	require.True(t, ok)
	assert.Equal(t, "vm1", d.Name)
	assert.Equal(t, v1alpha1.DomainKind, d.Kind)
	assert.Equal(t, keyA, d.Key())

	assert.True(t, s.UpdateDomain(keyA, v1alpha1.DomainPatch{Autostart: v1alpha1.Ptr(true)}))
	d, _ = s.Domain(keyA)
	assert.True(t, d.Autostart)
}

func TestMergeRetainsAbsentKeys(t *testing.T) {
	s := New()
	s.UpsertDomain(keyA, v1alpha1.DomainPatch{
		Name:       v1alpha1.Ptr("vm1"),
		State:      v1alpha1.Ptr(v1alpha1.DomainStateRunning),
		Persistent: v1alpha1.Ptr(true),
		Autostart:  v1alpha1.Ptr(true),
		Inactive:   &v1alpha1.DomainConfig{VCPUs: 2},
	})

	// A bag that lost Autostart and Inactive, e.g. during teardown.
	s.UpsertDomain(keyA, v1alpha1.DomainPatch{State: v1alpha1.Ptr(v1alpha1.DomainStatePaused)})

	d, _ := s.Domain(keyA)
	assert.True(t, d.Autostart)
	assert.Equal(t, uint(2), d.Inactive.VCPUs)
	assert.Equal(t, v1alpha1.DomainStatePaused, d.State)
}

func TestTransientDomainInvariant(t *testing.T) {
	s := New()
	patch := running("tvm", false)
	patch.Inactive = &v1alpha1.DomainConfig{Type: "kvm"}

	require.True(t, s.UpsertDomain(keyA, patch))
	d, _ := s.Domain(keyA)
	assert.Nil(t, d.Inactive, "transient domains never carry an inactive config")

	assert.False(t, s.SetDomainState(keyA, v1alpha1.DomainStateShutoff))
	_, ok := s.Domain(keyA)
	assert.False(t, ok, "transient domain must be removed once shut off")
}

func TestShutoffResetsUsage(t *testing.T) {
	s := New()
	s.UpsertDomain(keyA, running("vm1", true))

	cpu := 12.5
	require.True(t, s.SetUsage(keyA, v1alpha1.UsageSample{
		RSSMemory: 524288,
		CPUTime:   &cpu,
		Disks:     map[string]v1alpha1.DiskStats{"vda": {Capacity: 10}},
	}))

	require.True(t, s.SetDomainState(keyA, v1alpha1.DomainStateShutoff))
	d, _ := s.Domain(keyA)
	assert.Equal(t, 0.0, d.Usage.RSSMemory)
	assert.Nil(t, d.Usage.CPUTime)
	assert.Nil(t, d.Usage.Disks)
	assert.Equal(t, int32(-1), d.ID)

	assert.False(t, s.SetUsage(keyA, v1alpha1.UsageSample{RSSMemory: 1}), "samples for shut off domains are dropped")
}

func TestReadsReturnCopies(t *testing.T) {
	s := New()
	s.UpsertDomain(keyA, running("vm1", true))

	d, _ := s.Domain(keyA)
	d.Name = "mutated"
	d.Live.MemoryKiB = 1

	again, _ := s.Domain(keyA)
	assert.Equal(t, "vm1", again.Name)
	assert.Equal(t, uint64(1024), again.Live.MemoryKiB)
}

func TestDeleteUnlistedDomains(t *testing.T) {
	s := New()
	s.UpsertDomain(keyA, running("a", true))
	s.UpsertDomain(keyB, running("b", true))
	s.UpsertDomain(keyS, running("a", true))

	removed := s.DeleteUnlistedDomains(v1alpha1.ScopeSystem, []string{keyB.Path})

	assert.Equal(t, []v1alpha1.Key{keyA}, removed)
	_, ok := s.Domain(keyS)
	assert.True(t, ok, "other scopes are untouched")
	assert.Len(t, s.Domains(v1alpha1.ScopeSystem), 1)
	assert.Len(t, s.Domains(""), 2)
}

func TestDomainLookupsAndOrdering(t *testing.T) {
	s := New()
	s.UpsertDomain(keyB, running("alpha", true))
	s.UpsertDomain(keyA, running("bravo", true))
	s.UpsertDomain(keyS, running("alpha", true))

	d, ok := s.DomainByName(v1alpha1.ScopeSession, "alpha")
	require.True(t, ok)
	assert.Equal(t, keyS, d.Key())

	_, ok = s.DomainByName(v1alpha1.ScopeSession, "bravo")
	assert.False(t, ok)

	var names []string
	for _, d := range s.Domains("") {
		names = append(names, string(d.Scope)+"/"+d.Name)
	}
	assert.Equal(t, []string{"session/alpha", "system/alpha", "system/bravo"}, names)

	assert.True(t, s.DeleteDomain(keyA))
	assert.False(t, s.DeleteDomain(keyA))
}

func TestUsagePollingFlag(t *testing.T) {
	s := New()
	assert.False(t, s.StartUsagePolling(keyA), "unknown domain")

	s.UpsertDomain(keyA, running("vm1", true))
	assert.True(t, s.StartUsagePolling(keyA))
	assert.False(t, s.StartUsagePolling(keyA), "already polling")
	assert.True(t, s.UsagePolling(keyA))

	s.StopUsagePolling(keyA)
	assert.False(t, s.UsagePolling(keyA))

	s.StartUsagePolling(keyA)
	s.DeleteDomain(keyA)
	assert.False(t, s.UsagePolling(keyA), "deleted domains stop polling")
}

func TestOtherKinds(t *testing.T) {
	s := New()
	netKey := v1alpha1.Key{Scope: v1alpha1.ScopeSystem, Path: "/org/libvirt/QEMU/network/_n"}
	poolKey := v1alpha1.Key{Scope: v1alpha1.ScopeSystem, Path: "/org/libvirt/QEMU/storagepool/_p"}
	devKey := v1alpha1.Key{Scope: v1alpha1.ScopeSystem, Path: "/org/libvirt/QEMU/nodedev/pci_0000_00_1f_6"}
	ifKey := v1alpha1.Key{Scope: v1alpha1.ScopeSystem, Path: "/org/libvirt/QEMU/interface/eth0"}

	assert.False(t, s.UpdateNetwork(netKey, v1alpha1.NetworkPatch{Active: v1alpha1.Ptr(true)}))
	assert.True(t, s.UpsertNetwork(netKey, v1alpha1.NetworkPatch{Name: v1alpha1.Ptr("default"), Active: v1alpha1.Ptr(true)}))
	n, ok := s.NetworkByName(v1alpha1.ScopeSystem, "default")
	require.True(t, ok)
	assert.True(t, n.Active)

	assert.True(t, s.UpsertStoragePool(poolKey, v1alpha1.StoragePoolPatch{
		Name:    v1alpha1.Ptr("images"),
		Volumes: &[]v1alpha1.StorageVolume{{Name: "a.qcow2"}},
	}))
	p, _ := s.StoragePool(poolKey)
	require.NotNil(t, p.Volume("a.qcow2"))

	assert.True(t, s.UpsertNodeDevice(devKey, v1alpha1.NodeDevicePatch{
		Name:    v1alpha1.Ptr("pci_0000_00_1f_6"),
		HostBus: &v1alpha1.HostBusInfo{Slot: "0000:00:1f.6", Class: "Ethernet controller"},
	}))
	dev, _ := s.NodeDevice(devKey)
	assert.Equal(t, "Ethernet controller", dev.HostBus.Class)

	assert.True(t, s.UpsertInterface(ifKey, v1alpha1.InterfacePatch{Name: v1alpha1.Ptr("eth0")}))
	assert.Len(t, s.Interfaces(v1alpha1.ScopeSystem), 1)

	assert.Len(t, s.DeleteUnlistedNetworks(v1alpha1.ScopeSystem, nil), 1)
	assert.Len(t, s.DeleteUnlistedStoragePools(v1alpha1.ScopeSystem, []string{poolKey.Path}), 0)
	assert.True(t, s.DeleteNodeDevice(devKey))
	assert.Empty(t, s.NodeDevices(""))
	assert.True(t, s.DeleteInterface(ifKey))
}

func TestChangesAndVersion(t *testing.T) {
	s := New()
	ch, stop := s.Changes()
	defer stop()

	v0 := s.Version()
	s.UpsertDomain(keyA, running("vm1", true))
	s.UpsertDomain(keyA, running("vm1", true))

	assert.Equal(t, v0+2, s.Version())
	select {
	case <-ch:
	default:
		t.Fatal("expected a change notification")
	}
	select {
	case <-ch:
		t.Fatal("notifications should be coalesced")
	default:
	}

	s.UpdateDomain(keyB, running("missing", true))
	assert.Equal(t, v0+2, s.Version(), "a no-op update does not bump the version")
}

func TestConcurrentMerges(t *testing.T) {
	s := New()
	s.UpsertDomain(keyA, running("vm1", true))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.UpdateDomain(keyA, v1alpha1.DomainPatch{Autostart: v1alpha1.Ptr(true)})
		}()
		go func() {
			defer wg.Done()
			_, _ = s.Domain(keyA)
		}()
	}
	wg.Wait()

	d, _ := s.Domain(keyA)
	assert.True(t, d.Autostart)
}
