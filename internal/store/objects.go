package store

import (
	"github.com/jbweber/virtmirror/api/v1alpha1"
)

// mergeInto is the shared body of the Upsert*/Update* methods of the
// kinds without extra invariants.
func mergeInto[R any](s *Store, t *table[R], key v1alpha1.Key, create bool, fn func(*R)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := t.merge(key, create, fn); !ok {
		return false
	}
	s.changed()
	return true
}

func deleteFrom[R any](s *Store, t *table[R], key v1alpha1.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := t.items[key]; !ok {
		return false
	}
	delete(t.items, key)
	s.changed()
	return true
}

func deleteUnlistedFrom[R any](s *Store, t *table[R], scope v1alpha1.Scope, paths []string) []v1alpha1.Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := t.deleteUnlisted(scope, paths)
	if len(removed) > 0 {
		s.changed()
	}
	return removed
}

func getFrom[R any](s *Store, t *table[R], key v1alpha1.Key) (*R, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return t.get(key)
}

func byNameFrom[R any](s *Store, t *table[R], scope v1alpha1.Scope, name string) (*R, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return t.byName(scope, name)
}

func listFrom[R any](s *Store, t *table[R], scope v1alpha1.Scope) []*R {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return t.list(scope)
}

// UpsertNetwork merges patch into the network at key, creating it if needed.
func (s *Store) UpsertNetwork(key v1alpha1.Key, patch v1alpha1.NetworkPatch) bool {
	return mergeInto(s, s.networks, key, true, patch.Apply)
}

// UpdateNetwork merges patch into an existing network.
func (s *Store) UpdateNetwork(key v1alpha1.Key, patch v1alpha1.NetworkPatch) bool {
	return mergeInto(s, s.networks, key, false, patch.Apply)
}

// DeleteNetwork removes the network at key.
func (s *Store) DeleteNetwork(key v1alpha1.Key) bool {
	return deleteFrom(s, s.networks, key)
}

// DeleteUnlistedNetworks removes every network of scope not in paths.
func (s *Store) DeleteUnlistedNetworks(scope v1alpha1.Scope, paths []string) []v1alpha1.Key {
	return deleteUnlistedFrom(s, s.networks, scope, paths)
}

// Network returns a copy of the network at key.
func (s *Store) Network(key v1alpha1.Key) (*v1alpha1.Network, bool) {
	return getFrom(s, s.networks, key)
}

// NetworkByName returns a copy of the named network of scope.
func (s *Store) NetworkByName(scope v1alpha1.Scope, name string) (*v1alpha1.Network, bool) {
	return byNameFrom(s, s.networks, scope, name)
}

// Networks returns copies of the networks of scope, or of all scopes.
func (s *Store) Networks(scope v1alpha1.Scope) []*v1alpha1.Network {
	return listFrom(s, s.networks, scope)
}

// UpsertStoragePool merges patch into the pool at key, creating it if needed.
func (s *Store) UpsertStoragePool(key v1alpha1.Key, patch v1alpha1.StoragePoolPatch) bool {
	return mergeInto(s, s.pools, key, true, patch.Apply)
}

// UpdateStoragePool merges patch into an existing pool.
func (s *Store) UpdateStoragePool(key v1alpha1.Key, patch v1alpha1.StoragePoolPatch) bool {
	return mergeInto(s, s.pools, key, false, patch.Apply)
}

// DeleteStoragePool removes the pool at key.
func (s *Store) DeleteStoragePool(key v1alpha1.Key) bool {
	return deleteFrom(s, s.pools, key)
}

// DeleteUnlistedStoragePools removes every pool of scope not in paths.
func (s *Store) DeleteUnlistedStoragePools(scope v1alpha1.Scope, paths []string) []v1alpha1.Key {
	return deleteUnlistedFrom(s, s.pools, scope, paths)
}

// StoragePool returns a copy of the pool at key.
func (s *Store) StoragePool(key v1alpha1.Key) (*v1alpha1.StoragePool, bool) {
	return getFrom(s, s.pools, key)
}

// StoragePoolByName returns a copy of the named pool of scope.
func (s *Store) StoragePoolByName(scope v1alpha1.Scope, name string) (*v1alpha1.StoragePool, bool) {
	return byNameFrom(s, s.pools, scope, name)
}

// StoragePools returns copies of the pools of scope, or of all scopes.
func (s *Store) StoragePools(scope v1alpha1.Scope) []*v1alpha1.StoragePool {
	return listFrom(s, s.pools, scope)
}

// UpsertNodeDevice merges patch into the device at key, creating it if needed.
func (s *Store) UpsertNodeDevice(key v1alpha1.Key, patch v1alpha1.NodeDevicePatch) bool {
	return mergeInto(s, s.nodeDevices, key, true, patch.Apply)
}

// UpdateNodeDevice merges patch into an existing device.
func (s *Store) UpdateNodeDevice(key v1alpha1.Key, patch v1alpha1.NodeDevicePatch) bool {
	return mergeInto(s, s.nodeDevices, key, false, patch.Apply)
}

// DeleteNodeDevice removes the device at key.
func (s *Store) DeleteNodeDevice(key v1alpha1.Key) bool {
	return deleteFrom(s, s.nodeDevices, key)
}

// DeleteUnlistedNodeDevices removes every device of scope not in paths.
func (s *Store) DeleteUnlistedNodeDevices(scope v1alpha1.Scope, paths []string) []v1alpha1.Key {
	return deleteUnlistedFrom(s, s.nodeDevices, scope, paths)
}

// NodeDevice returns a copy of the device at key.
func (s *Store) NodeDevice(key v1alpha1.Key) (*v1alpha1.NodeDevice, bool) {
	return getFrom(s, s.nodeDevices, key)
}

// NodeDeviceByName returns a copy of the named device of scope.
func (s *Store) NodeDeviceByName(scope v1alpha1.Scope, name string) (*v1alpha1.NodeDevice, bool) {
	return byNameFrom(s, s.nodeDevices, scope, name)
}

// NodeDevices returns copies of the devices of scope, or of all scopes.
func (s *Store) NodeDevices(scope v1alpha1.Scope) []*v1alpha1.NodeDevice {
	return listFrom(s, s.nodeDevices, scope)
}

// UpsertInterface merges patch into the interface at key, creating it if needed.
func (s *Store) UpsertInterface(key v1alpha1.Key, patch v1alpha1.InterfacePatch) bool {
	return mergeInto(s, s.interfaces, key, true, patch.Apply)
}

// UpdateInterface merges patch into an existing interface.
func (s *Store) UpdateInterface(key v1alpha1.Key, patch v1alpha1.InterfacePatch) bool {
	return mergeInto(s, s.interfaces, key, false, patch.Apply)
}

// DeleteInterface removes the interface at key.
func (s *Store) DeleteInterface(key v1alpha1.Key) bool {
	return deleteFrom(s, s.interfaces, key)
}

// DeleteUnlistedInterfaces removes every interface of scope not in paths.
func (s *Store) DeleteUnlistedInterfaces(scope v1alpha1.Scope, paths []string) []v1alpha1.Key {
	return deleteUnlistedFrom(s, s.interfaces, scope, paths)
}

// Interface returns a copy of the interface at key.
func (s *Store) Interface(key v1alpha1.Key) (*v1alpha1.Interface, bool) {
	return getFrom(s, s.interfaces, key)
}

// InterfaceByName returns a copy of the named interface of scope.
func (s *Store) InterfaceByName(scope v1alpha1.Scope, name string) (*v1alpha1.Interface, bool) {
	return byNameFrom(s, s.interfaces, scope, name)
}

// Interfaces returns copies of the interfaces of scope, or of all scopes.
func (s *Store) Interfaces(scope v1alpha1.Scope) []*v1alpha1.Interface {
	return listFrom(s, s.interfaces, scope)
}
