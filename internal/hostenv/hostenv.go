// Package hostenv exposes the bits of the local host that virtmirror
// consults: console visibility, whether the libvirt daemon runs, PCI/USB
// classification from the host bus utilities and the current user.
package hostenv

import (
	"context"
	"os/user"
	"slices"
	"sync/atomic"

	"github.com/shirou/gopsutil/v4/process"
	"gitlab.com/tozd/go/errors"
)

// Visibility tracks whether the console is visible to the user. The zero
// value is visible.
type Visibility struct {
	hidden atomic.Bool
}

// Hidden reports whether the console is hidden.
func (v *Visibility) Hidden() bool {
	return v.hidden.Load()
}

// SetHidden records the visibility reported by the console.
func (v *Visibility) SetHidden(hidden bool) {
	v.hidden.Store(hidden)
}

// DefaultServices are the daemon names that serve qemu connections, the
// monolithic daemon first.
var DefaultServices = []string{"libvirtd", "virtqemud"}

// ServiceStatus reports whether a libvirt daemon is running on the host.
type ServiceStatus struct {
	names []string

	// processNames lists running process names. Replaced in tests.
	processNames func(ctx context.Context) ([]string, error)
}

// NewServiceStatus watches the given daemon names, or DefaultServices.
func NewServiceStatus(names ...string) *ServiceStatus {
	if len(names) == 0 {
		names = DefaultServices
	}
	return &ServiceStatus{names: names, processNames: listProcessNames}
}

// Running reports whether any watched daemon is running. Listing failures
// count as running so a broken /proc does not stall callers forever.
func (s *ServiceStatus) Running(ctx context.Context) bool {
	names, err := s.processNames(ctx)
	if err != nil {
		return true
	}
	for _, n := range names {
		if slices.Contains(s.names, n) {
			return true
		}
	}
	return false
}

func listProcessNames(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, errors.Errorf("failed to list processes: %w", err)
	}
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Processes exit between listing and lookup.
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// CurrentUser returns the login name of the process owner.
func CurrentUser() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", errors.Errorf("failed to look up current user: %w", err)
	}
	return u.Username, nil
}

// SessionAllowed reports whether the session scope should be offered to
// username. root only gets the system connection.
func SessionAllowed(username string) bool {
	return username != "" && username != "root"
}
