package store

import (
	"github.com/jbweber/virtmirror/api/v1alpha1"
)

// UpsertDomain merges patch into the domain at key, creating the record if
// needed. It reports whether the record exists afterwards; a transient
// domain that reached shut off is removed instead.
func (s *Store) UpsertDomain(key v1alpha1.Key, patch v1alpha1.DomainPatch) bool {
	return s.mergeDomain(key, true, patch.Apply)
}

// UpdateDomain merges patch into an existing domain. It never creates a
// record, so a late fetch cannot revive a domain deleted meanwhile.
func (s *Store) UpdateDomain(key v1alpha1.Key, patch v1alpha1.DomainPatch) bool {
	return s.mergeDomain(key, false, patch.Apply)
}

// SetDomainState updates only the lifecycle state of an existing domain.
func (s *Store) SetDomainState(key v1alpha1.Key, state v1alpha1.DomainState) bool {
	return s.mergeDomain(key, false, func(d *v1alpha1.Domain) {
		d.State = state
	})
}

func (s *Store) mergeDomain(key v1alpha1.Key, create bool, fn func(*v1alpha1.Domain)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains.merge(key, create, fn)
	if !ok {
		return false
	}
	defer s.changed()

	if !d.Persistent {
		d.Inactive = nil
	}
	if d.State == v1alpha1.DomainStateShutoff {
		d.Usage = v1alpha1.UsageSample{}
		d.ID = -1
		if !d.Persistent {
			delete(s.domains.items, key)
			return false
		}
	}
	return true
}

// DeleteDomain removes the domain at key. It reports whether it existed.
func (s *Store) DeleteDomain(key v1alpha1.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.domains.items[key]; !ok {
		return false
	}
	delete(s.domains.items, key)
	s.changed()
	return true
}

// DeleteUnlistedDomains removes every domain of scope whose path is not in
// paths and returns the removed keys.
func (s *Store) DeleteUnlistedDomains(scope v1alpha1.Scope, paths []string) []v1alpha1.Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.domains.deleteUnlisted(scope, paths)
	if len(removed) > 0 {
		s.changed()
	}
	return removed
}

// Domain returns a copy of the domain at key.
func (s *Store) Domain(key v1alpha1.Key) (*v1alpha1.Domain, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.domains.get(key)
}

// DomainByName returns a copy of the named domain of scope.
func (s *Store) DomainByName(scope v1alpha1.Scope, name string) (*v1alpha1.Domain, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.domains.byName(scope, name)
}

// Domains returns copies of the domains of scope, or of all scopes when
// scope is empty.
func (s *Store) Domains(scope v1alpha1.Scope) []*v1alpha1.Domain {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.domains.list(scope)
}

// SetUsage stores a statistics sample for an existing domain. Samples for
// shut off domains are dropped so a late poll cannot resurrect stale
// values.
func (s *Store) SetUsage(key v1alpha1.Key, sample v1alpha1.UsageSample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains.items[key]
	if !ok || d.State == v1alpha1.DomainStateShutoff {
		return false
	}
	d.Usage = *sample.DeepCopy()
	s.changed()
	return true
}

// StartUsagePolling sets the polling flag of a domain. It reports whether
// the flag was newly set, which is the caller's cue to start a poller.
func (s *Store) StartUsagePolling(key v1alpha1.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains.items[key]
	if !ok || d.UsagePolling {
		return false
	}
	d.UsagePolling = true
	s.changed()
	return true
}

// StopUsagePolling clears the polling flag. The running poller notices on
// its next cycle.
func (s *Store) StopUsagePolling(key v1alpha1.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.domains.items[key]; ok && d.UsagePolling {
		d.UsagePolling = false
		s.changed()
	}
}

// UsagePolling reports whether a poller should keep running for key. A
// deleted domain reports false.
func (s *Store) UsagePolling(key v1alpha1.Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.domains.items[key]
	return ok && d.UsagePolling
}
