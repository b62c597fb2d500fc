package vm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/fetch"
	"github.com/jbweber/virtmirror/internal/libvirt"
	"github.com/jbweber/virtmirror/internal/libvirt/libvirttest"
	"github.com/jbweber/virtmirror/internal/store"
)

// fetchCall records one refetch.
type fetchCall struct {
	kind v1alpha1.Kind
	path string
	mode fetch.Mode
}

// mockFetcher is a mock implementation of the Fetcher interface for testing.
// It records every call and forwards to next when set.
type mockFetcher struct {
	mu sync.Mutex

	// Configurable behavior
	next Fetcher

	// Call tracking
	calls []fetchCall
}

func (m *mockFetcher) record(kind v1alpha1.Kind, path string, mode fetch.Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fetchCall{kind: kind, path: path, mode: mode})
}

func (m *mockFetcher) Domain(ctx context.Context, scope v1alpha1.Scope, path string, mode fetch.Mode) {
	m.record(v1alpha1.KindDomain, path, mode)
	if m.next != nil {
		m.next.Domain(ctx, scope, path, mode)
	}
}

func (m *mockFetcher) Network(ctx context.Context, scope v1alpha1.Scope, path string, mode fetch.Mode) {
	m.record(v1alpha1.KindNetwork, path, mode)
	if m.next != nil {
		m.next.Network(ctx, scope, path, mode)
	}
}

func (m *mockFetcher) StoragePool(ctx context.Context, scope v1alpha1.Scope, path string, mode fetch.Mode) {
	m.record(v1alpha1.KindStoragePool, path, mode)
	if m.next != nil {
		m.next.StoragePool(ctx, scope, path, mode)
	}
}

func (m *mockFetcher) Calls() []fetchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]fetchCall(nil), m.calls...)
}

// testEnv bundles a fake hypervisor behind a real transport, a store kept
// current by a real fetcher, and the Operations under test.
type testEnv struct {
	fake    *libvirttest.Hypervisor
	store   *store.Store
	fetcher *mockFetcher
	ops     *Operations
	ctx     context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithTimeout(t, time.Second)
}

func newTestEnvWithTimeout(t *testing.T, callTimeout time.Duration) *testEnv {
	t.Helper()
	fake := libvirttest.New()
	tr := libvirt.NewTransport(libvirt.Options{
		CallTimeout: callTimeout,
		Dial: func(context.Context, v1alpha1.Scope, string) (libvirt.Hypervisor, error) {
			return fake, nil
		},
	})
	t.Cleanup(func() { _ = tr.Close() })

	s := store.New()
	f := &mockFetcher{next: fetch.New(tr, s, nil)}
	ops := NewOperations(tr, f, s)
	ops.shutdownTimeout = 200 * time.Millisecond
	ops.pollInterval = 5 * time.Millisecond
	return &testEnv{fake: fake, store: s, fetcher: f, ops: ops, ctx: context.Background()}
}

// domain registers d with the store and returns its key.
func (e *testEnv) domain(d *libvirttest.Domain) v1alpha1.Key {
	key := v1alpha1.Key{Scope: v1alpha1.ScopeSystem, Path: d.Path()}
	e.fetcher.next.Domain(e.ctx, key.Scope, key.Path, fetch.Upsert)
	return key
}
