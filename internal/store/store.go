// Package store holds the local mirror of libvirt object state.
//
// A Store is created once at startup and handed to every component that
// reads or writes records. All mutations run under one mutex and every
// read returns a deep copy, so callers can never alias stored records.
// Updates are merged per field (see the v1alpha1 patch types); ordering
// between independent writers is last-writer-wins.
package store

import (
	"cmp"
	"slices"
	"sync"

	"github.com/jbweber/virtmirror/api/v1alpha1"
)

// Store is the keyed record collection for every entity kind.
type Store struct {
	mu sync.RWMutex

	domains     *table[v1alpha1.Domain]
	networks    *table[v1alpha1.Network]
	pools       *table[v1alpha1.StoragePool]
	nodeDevices *table[v1alpha1.NodeDevice]
	interfaces  *table[v1alpha1.Interface]

	version  uint64
	watchers map[int]chan struct{}
	nextSub  int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		domains: newTable(v1alpha1.NewDomain, (*v1alpha1.Domain).DeepCopy,
			func(d *v1alpha1.Domain) string { return d.Name }),
		networks: newTable(v1alpha1.NewNetwork, (*v1alpha1.Network).DeepCopy,
			func(n *v1alpha1.Network) string { return n.Name }),
		pools: newTable(v1alpha1.NewStoragePool, (*v1alpha1.StoragePool).DeepCopy,
			func(p *v1alpha1.StoragePool) string { return p.Name }),
		nodeDevices: newTable(v1alpha1.NewNodeDevice, (*v1alpha1.NodeDevice).DeepCopy,
			func(d *v1alpha1.NodeDevice) string { return d.Name }),
		interfaces: newTable(v1alpha1.NewInterface, (*v1alpha1.Interface).DeepCopy,
			func(i *v1alpha1.Interface) string { return i.Name }),
		watchers: make(map[int]chan struct{}),
	}
}

// Version returns a counter bumped by every mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Changes returns a channel that receives a value after mutations, and a
// function to stop watching. Notifications are coalesced: a slow reader
// sees one pending notification, not one per mutation.
func (s *Store) Changes() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.watchers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// changed must be called with the write lock held.
func (s *Store) changed() {
	s.version++
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// table is the record map of one kind.
type table[R any] struct {
	items  map[v1alpha1.Key]*R
	create func(v1alpha1.Key) *R
	clone  func(*R) *R
	name   func(*R) string
}

func newTable[R any](create func(v1alpha1.Key) *R, clone func(*R) *R, name func(*R) string) *table[R] {
	return &table[R]{
		items:  make(map[v1alpha1.Key]*R),
		create: create,
		clone:  clone,
		name:   name,
	}
}

func (t *table[R]) get(key v1alpha1.Key) (*R, bool) {
	r, ok := t.items[key]
	if !ok {
		return nil, false
	}
	return t.clone(r), true
}

func (t *table[R]) byName(scope v1alpha1.Scope, name string) (*R, bool) {
	for key, r := range t.items {
		if key.Scope == scope && t.name(r) == name {
			return t.clone(r), true
		}
	}
	return nil, false
}

// list returns the records of scope, or of every scope when scope is
// empty, ordered by scope, name and path.
func (t *table[R]) list(scope v1alpha1.Scope) []*R {
	keys := make([]v1alpha1.Key, 0, len(t.items))
	for key := range t.items {
		if scope == "" || key.Scope == scope {
			keys = append(keys, key)
		}
	}
	slices.SortFunc(keys, func(a, b v1alpha1.Key) int {
		return cmp.Or(
			cmp.Compare(a.Scope, b.Scope),
			cmp.Compare(t.name(t.items[a]), t.name(t.items[b])),
			cmp.Compare(a.Path, b.Path),
		)
	})

	out := make([]*R, 0, len(keys))
	for _, key := range keys {
		out = append(out, t.clone(t.items[key]))
	}
	return out
}

// deleteUnlisted drops every record of scope whose path is not in paths.
func (t *table[R]) deleteUnlisted(scope v1alpha1.Scope, paths []string) []v1alpha1.Key {
	keep := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		keep[p] = struct{}{}
	}

	var removed []v1alpha1.Key
	for key := range t.items {
		if key.Scope != scope {
			continue
		}
		if _, ok := keep[key.Path]; !ok {
			delete(t.items, key)
			removed = append(removed, key)
		}
	}
	slices.SortFunc(removed, func(a, b v1alpha1.Key) int { return cmp.Compare(a.Path, b.Path) })
	return removed
}

// merge applies fn to the record at key. With create set, a missing
// record is created first; otherwise merge reports false.
func (t *table[R]) merge(key v1alpha1.Key, create bool, fn func(*R)) (*R, bool) {
	r, ok := t.items[key]
	if !ok {
		if !create {
			return nil, false
		}
		r = t.create(key)
		t.items[key] = r
	}
	fn(r)
	return r, true
}
