package store

import "github.com/jbweber/virtmirror/api/v1alpha1"

func collect[R any](scopes []v1alpha1.Scope, list func(v1alpha1.Scope) []*R) []*R {
	out := []*R{}
	for _, scope := range scopes {
		out = append(out, list(scope)...)
	}
	return out
}

func found[R any](r *R, ok bool) (any, bool) {
	if !ok {
		return nil, false
	}
	return r, true
}

// List returns the records of kind in scopes as a typed slice, e.g.
// []*v1alpha1.Domain. The slice is empty, not nil, when nothing is stored.
// Unknown kinds return nil.
func (s *Store) List(kind v1alpha1.Kind, scopes []v1alpha1.Scope) any {
	switch kind {
	case v1alpha1.KindDomain:
		return collect(scopes, s.Domains)
	case v1alpha1.KindNetwork:
		return collect(scopes, s.Networks)
	case v1alpha1.KindStoragePool:
		return collect(scopes, s.StoragePools)
	case v1alpha1.KindNodeDevice:
		return collect(scopes, s.NodeDevices)
	case v1alpha1.KindInterface:
		return collect(scopes, s.Interfaces)
	}
	return nil
}

// Get returns the record of kind stored under key.
func (s *Store) Get(kind v1alpha1.Kind, key v1alpha1.Key) (any, bool) {
	switch kind {
	case v1alpha1.KindDomain:
		return found(s.Domain(key))
	case v1alpha1.KindNetwork:
		return found(s.Network(key))
	case v1alpha1.KindStoragePool:
		return found(s.StoragePool(key))
	case v1alpha1.KindNodeDevice:
		return found(s.NodeDevice(key))
	case v1alpha1.KindInterface:
		return found(s.Interface(key))
	}
	return nil, false
}

// ByName returns the record of kind named name in scope.
func (s *Store) ByName(kind v1alpha1.Kind, scope v1alpha1.Scope, name string) (any, bool) {
	switch kind {
	case v1alpha1.KindDomain:
		return found(s.DomainByName(scope, name))
	case v1alpha1.KindNetwork:
		return found(s.NetworkByName(scope, name))
	case v1alpha1.KindStoragePool:
		return found(s.StoragePoolByName(scope, name))
	case v1alpha1.KindNodeDevice:
		return found(s.NodeDeviceByName(scope, name))
	case v1alpha1.KindInterface:
		return found(s.InterfaceByName(scope, name))
	}
	return nil, false
}

// KeyOf returns the key of a record returned by List, Get or ByName.
func KeyOf(record any) v1alpha1.Key {
	if k, ok := record.(interface{ Key() v1alpha1.Key }); ok {
		return k.Key()
	}
	return v1alpha1.Key{}
}
