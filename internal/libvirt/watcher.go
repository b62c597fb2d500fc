package libvirt

import (
	"context"
	"maps"
	"slices"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/naming"
)

// objectState is what the watcher remembers about a network or pool
// between two listings.
type objectState struct {
	active     bool
	persistent bool
	autostart  bool
}

// watchKind describes one kind of object diffed by the watcher.
type watchKind struct {
	method string
	member string
	iface  string
	list   func(h Hypervisor, flags uint32) ([]golibvirt.UUID, error)
	pathOf func(uuid.UUID) string
}

var watchKinds = []watchKind{
	{
		method: "ListNetworks",
		member: MemberNetworkEvent,
		iface:  InterfaceNetwork,
		list: func(h Hypervisor, flags uint32) ([]golibvirt.UUID, error) {
			nets, err := h.ConnectListAllNetworks(flags)
			if err != nil {
				return nil, err
			}
			ids := make([]golibvirt.UUID, 0, len(nets))
			for _, n := range nets {
				ids = append(ids, n.UUID)
			}
			return ids, nil
		},
		pathOf: naming.NetworkPath,
	},
	{
		method: "ListStoragePools",
		member: MemberStoragePoolEvent,
		iface:  InterfaceStoragePool,
		list: func(h Hypervisor, flags uint32) ([]golibvirt.UUID, error) {
			pools, err := h.ConnectListAllStoragePools(flags)
			if err != nil {
				return nil, err
			}
			ids := make([]golibvirt.UUID, 0, len(pools))
			for _, p := range pools {
				ids = append(ids, p.UUID)
			}
			return ids, nil
		},
		pathOf: naming.StoragePoolPath,
	},
}

// watch produces network and storage pool signals by diffing listings
// every WatchInterval. The first listing only primes the state.
func (t *Transport) watch(ctx context.Context, scope v1alpha1.Scope) {
	logger := zerolog.Ctx(ctx).With().Str("scope", string(scope)).Logger()
	prev := make([]map[string]objectState, len(watchKinds))

	ticker := time.NewTicker(t.opts.WatchInterval)
	defer ticker.Stop()

	for {
		for i, kind := range watchKinds {
			next, err := t.snapshot(ctx, scope, kind)
			if err != nil {
				logger.Debug().Err(err).Str("method", kind.method).Msg("watch listing failed")
				continue
			}
			if prev[i] != nil {
				for _, sig := range diffStates(scope, kind, prev[i], next) {
					t.publish(ctx, sig)
				}
			}
			prev[i] = next
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (t *Transport) snapshot(ctx context.Context, scope v1alpha1.Scope, kind watchKind) (map[string]objectState, error) {
	out := make(map[string]objectState)
	err := t.Call(ctx, scope, "", kind.method, 0, func(h Hypervisor) error {
		all, err := kind.list(h, 0)
		if err != nil {
			return err
		}
		for _, id := range all {
			out[kind.pathOf(uuid.UUID(id))] = objectState{}
		}
		for _, flag := range []uint32{ListActive, ListPersistent, ListAutostart} {
			ids, err := kind.list(h, flag)
			if err != nil {
				return err
			}
			for _, id := range ids {
				path := kind.pathOf(uuid.UUID(id))
				st, ok := out[path]
				if !ok {
					continue
				}
				switch flag {
				case ListActive:
					st.active = true
				case ListPersistent:
					st.persistent = true
				case ListAutostart:
					st.autostart = true
				}
				out[path] = st
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// diffStates turns two listings into lifecycle and property signals, in
// path order.
func diffStates(scope v1alpha1.Scope, kind watchKind, prev, next map[string]objectState) []Signal {
	lifecycle := func(path string, code v1alpha1.EventCode) Signal {
		return Signal{Scope: scope, Path: path, Interface: InterfaceConnect, Member: kind.member, Code: code}
	}

	var out []Signal
	for _, path := range slices.Sorted(maps.Keys(next)) {
		cur := next[path]
		old, known := prev[path]
		if !known {
			if cur.persistent || !cur.active {
				out = append(out, lifecycle(path, v1alpha1.EventDefined))
			}
			if cur.active {
				out = append(out, lifecycle(path, v1alpha1.EventStarted))
			}
			continue
		}
		if !old.persistent && cur.persistent {
			out = append(out, lifecycle(path, v1alpha1.EventDefined))
		}
		if old.active != cur.active {
			code := v1alpha1.EventStarted
			if !cur.active {
				code = v1alpha1.EventStopped
			}
			out = append(out, lifecycle(path, code))
		}
		if old.persistent && !cur.persistent {
			out = append(out, lifecycle(path, v1alpha1.EventUndefined))
		}
		if old.autostart != cur.autostart {
			out = append(out, Signal{Scope: scope, Path: path, Interface: kind.iface, Member: MemberPropertiesChanged})
		}
	}
	for _, path := range slices.Sorted(maps.Keys(prev)) {
		if _, ok := next[path]; ok {
			continue
		}
		old := prev[path]
		if old.active {
			out = append(out, lifecycle(path, v1alpha1.EventStopped))
		}
		if old.persistent {
			out = append(out, lifecycle(path, v1alpha1.EventUndefined))
		}
	}
	return out
}
