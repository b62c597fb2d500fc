package vm

import (
	"context"
	"time"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/fetch"
	"github.com/jbweber/virtmirror/internal/libvirt"
)

// Caller runs remote calls against a scope's connection.
//
// In production, this is satisfied by *libvirt.Transport.
type Caller interface {
	Call(ctx context.Context, scope v1alpha1.Scope, path, method string, timeout time.Duration, fn func(libvirt.Hypervisor) error) error
}

// Fetcher refreshes records after an operation.
//
// In production, this is satisfied by *fetch.Fetcher.
// In tests, this is satisfied by mock implementations.
type Fetcher interface {
	// Domain refetches a domain
	Domain(ctx context.Context, scope v1alpha1.Scope, path string, mode fetch.Mode)

	// Network refetches a network
	Network(ctx context.Context, scope v1alpha1.Scope, path string, mode fetch.Mode)

	// StoragePool refetches a storage pool and its volumes
	StoragePool(ctx context.Context, scope v1alpha1.Scope, path string, mode fetch.Mode)
}

// Records reads the current state that capability checks run against.
//
// In production, this is satisfied by *store.Store.
type Records interface {
	Domain(key v1alpha1.Key) (*v1alpha1.Domain, bool)
	Network(key v1alpha1.Key) (*v1alpha1.Network, bool)
	StoragePool(key v1alpha1.Key) (*v1alpha1.StoragePool, bool)
}
