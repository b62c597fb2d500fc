package fetch

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/libvirt"
	"github.com/jbweber/virtmirror/internal/naming"
)

// collection describes how one record kind is listed, reconciled and
// fetched.
type collection struct {
	method    string
	list      func(h libvirt.Hypervisor, flags uint32) ([]string, error)
	reconcile func(scope v1alpha1.Scope, paths []string) []v1alpha1.Key
	fetch     func(ctx context.Context, scope v1alpha1.Scope, path string, mode Mode)
}

func (f *Fetcher) collection(kind v1alpha1.Kind) (collection, error) {
	switch kind {
	case v1alpha1.KindDomain:
		return collection{
			method:    "ConnectListAllDomains",
			list:      domainPaths,
			reconcile: f.store.DeleteUnlistedDomains,
			fetch:     f.Domain,
		}, nil
	case v1alpha1.KindNetwork:
		return collection{
			method: "ConnectListAllNetworks",
			list: func(h libvirt.Hypervisor, flags uint32) ([]string, error) {
				nets, err := h.ConnectListAllNetworks(flags)
				if err != nil {
					return nil, err
				}
				paths := make([]string, 0, len(nets))
				for _, n := range nets {
					paths = append(paths, naming.NetworkPath(uuid.UUID(n.UUID)))
				}
				return paths, nil
			},
			reconcile: f.store.DeleteUnlistedNetworks,
			fetch:     f.Network,
		}, nil
	case v1alpha1.KindStoragePool:
		return collection{
			method: "ConnectListAllStoragePools",
			list: func(h libvirt.Hypervisor, flags uint32) ([]string, error) {
				pools, err := h.ConnectListAllStoragePools(flags)
				if err != nil {
					return nil, err
				}
				paths := make([]string, 0, len(pools))
				for _, p := range pools {
					paths = append(paths, naming.StoragePoolPath(uuid.UUID(p.UUID)))
				}
				return paths, nil
			},
			reconcile: f.store.DeleteUnlistedStoragePools,
			fetch:     f.StoragePool,
		}, nil
	case v1alpha1.KindNodeDevice:
		return collection{
			method: "ConnectListAllNodeDevices",
			list: func(h libvirt.Hypervisor, _ uint32) ([]string, error) {
				devs, err := h.ConnectListAllNodeDevices()
				if err != nil {
					return nil, err
				}
				paths := make([]string, 0, len(devs))
				for _, d := range devs {
					paths = append(paths, naming.NodeDevicePath(d.Name))
				}
				return paths, nil
			},
			reconcile: f.store.DeleteUnlistedNodeDevices,
			fetch:     f.NodeDevice,
		}, nil
	case v1alpha1.KindInterface:
		return collection{
			method: "ConnectListAllInterfaces",
			list: func(h libvirt.Hypervisor, _ uint32) ([]string, error) {
				ifaces, err := h.ConnectListAllInterfaces()
				if err != nil {
					return nil, err
				}
				paths := make([]string, 0, len(ifaces))
				for _, i := range ifaces {
					paths = append(paths, naming.InterfacePath(i.Name))
				}
				return paths, nil
			},
			reconcile: f.store.DeleteUnlistedInterfaces,
			fetch:     f.Interface,
		}, nil
	}
	return collection{}, errors.Errorf("unknown kind %q", kind)
}

func domainPaths(h libvirt.Hypervisor, flags uint32) ([]string, error) {
	doms, err := h.ConnectListAllDomains(flags)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(doms))
	for _, d := range doms {
		paths = append(paths, naming.DomainPath(uuid.UUID(d.UUID)))
	}
	return paths, nil
}

// ListPaths lists the object paths of kind on scope. flags filter domains
// (libvirt.ListDomains*) and networks or pools (libvirt.List*); they are
// ignored for node devices and interfaces.
func (f *Fetcher) ListPaths(ctx context.Context, scope v1alpha1.Scope, kind v1alpha1.Kind, flags uint32) ([]string, error) {
	c, err := f.collection(kind)
	if err != nil {
		return nil, err
	}
	var paths []string
	err = f.call(ctx, scope, "", c.method, func(h libvirt.Hypervisor) error {
		var err error
		paths, err = c.list(h, flags)
		return err
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// ListDomainPaths lists the object paths of the domains matching flags
// (libvirt.ListDomains*).
func (f *Fetcher) ListDomainPaths(ctx context.Context, scope v1alpha1.Scope, flags uint32) ([]string, error) {
	return f.ListPaths(ctx, scope, v1alpha1.KindDomain, flags)
}

// All lists every object of kind on scope, drops stored records that are
// no longer listed and fetches the rest concurrently. Only a failed
// listing is returned; per-object failures are logged and isolated.
func (f *Fetcher) All(ctx context.Context, scope v1alpha1.Scope, kind v1alpha1.Kind) error {
	c, err := f.collection(kind)
	if err != nil {
		return err
	}

	paths, err := f.ListPaths(ctx, scope, kind, 0)
	if err != nil {
		return errors.Errorf("failed to list %s on %s: %w", kind, scope, err)
	}

	removed := c.reconcile(scope, paths)
	zerolog.Ctx(ctx).Debug().
		Str("scope", string(scope)).
		Str("kind", string(kind)).
		Int("listed", len(paths)).
		Int("removed", len(removed)).
		Msg("refreshing collection")

	g, gctx := errgroup.WithContext(ctx)
	if f.concurrency > 0 {
		g.SetLimit(f.concurrency)
	}
	for _, path := range paths {
		g.Go(func() error {
			c.fetch(gctx, scope, path, Upsert)
			return nil
		})
	}
	return g.Wait()
}

// AllDomains refreshes every domain of scope.
func (f *Fetcher) AllDomains(ctx context.Context, scope v1alpha1.Scope) error {
	return f.All(ctx, scope, v1alpha1.KindDomain)
}

// AllNetworks refreshes every network of scope.
func (f *Fetcher) AllNetworks(ctx context.Context, scope v1alpha1.Scope) error {
	return f.All(ctx, scope, v1alpha1.KindNetwork)
}

// AllStoragePools refreshes every storage pool of scope.
func (f *Fetcher) AllStoragePools(ctx context.Context, scope v1alpha1.Scope) error {
	return f.All(ctx, scope, v1alpha1.KindStoragePool)
}

// AllNodeDevices refreshes every node device of scope.
func (f *Fetcher) AllNodeDevices(ctx context.Context, scope v1alpha1.Scope) error {
	return f.All(ctx, scope, v1alpha1.KindNodeDevice)
}

// AllInterfaces refreshes every host interface of scope.
func (f *Fetcher) AllInterfaces(ctx context.Context, scope v1alpha1.Scope) error {
	return f.All(ctx, scope, v1alpha1.KindInterface)
}

// RefreshAll refreshes every kind on every scope in parallel. Listing
// failures are joined into the returned error; one failing scope or kind
// does not stop the others.
func (f *Fetcher) RefreshAll(ctx context.Context, scopes []v1alpha1.Scope) error {
	errs := make([]error, len(scopes)*len(v1alpha1.Kinds))

	var g errgroup.Group
	for i, scope := range scopes {
		for j, kind := range v1alpha1.Kinds {
			idx := i*len(v1alpha1.Kinds) + j
			g.Go(func() error {
				errs[idx] = f.All(ctx, scope, kind)
				return nil
			})
		}
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
