// Package fetch reads libvirt objects through the transport and merges
// them into the store.
//
// A fetch combines a few remote calls with a descriptor parse. Property
// calls are individually optional: a property that cannot be read is left
// out of the patch and the stored value survives. Failures of the
// required calls are logged and swallowed; the store is left untouched.
package fetch

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/libvirt"
	"github.com/jbweber/virtmirror/internal/store"
)

// Mode selects how a fetch result is merged.
type Mode int

const (
	// Upsert creates the record if it does not exist yet.
	Upsert Mode = iota

	// UpdateOnly merges only into an existing record. Used when reacting
	// to signals about objects that must already be known, so a late fetch
	// cannot revive a deleted record.
	UpdateOnly
)

func (m Mode) String() string {
	if m == UpdateOnly {
		return "update-only"
	}
	return "upsert"
}

// Caller runs remote calls. Satisfied by *libvirt.Transport.
type Caller interface {
	Call(ctx context.Context, scope v1alpha1.Scope, path, method string, timeout time.Duration, fn func(libvirt.Hypervisor) error) error
}

// HostBus classifies PCI and USB node devices. Satisfied by
// *hostenv.HostBus.
type HostBus interface {
	PCI(ctx context.Context, address string) (*v1alpha1.HostBusInfo, bool)
	USB(ctx context.Context, bus, device uint) (*v1alpha1.HostBusInfo, bool)
}

// Fetcher fetches single objects and whole collections.
type Fetcher struct {
	calls   Caller
	store   *store.Store
	hostBus HostBus

	// concurrency bounds the per-object fetches of a bulk refresh.
	concurrency int
}

// New creates a Fetcher. hostBus may be nil, in which case node devices
// are stored without host bus enrichment.
func New(calls Caller, s *store.Store, hostBus HostBus) *Fetcher {
	return &Fetcher{calls: calls, store: s, hostBus: hostBus, concurrency: 16}
}

// SetConcurrency bounds the number of parallel fetches of a bulk refresh.
// Values below one mean unbounded.
func (f *Fetcher) SetConcurrency(n int) {
	f.concurrency = n
}

func (f *Fetcher) call(ctx context.Context, scope v1alpha1.Scope, path, method string, fn func(libvirt.Hypervisor) error) error {
	return f.calls.Call(ctx, scope, path, method, 0, fn)
}

// logFailure records a swallowed transport fault. Vanished objects are
// routine during concurrent teardown and only logged at debug level.
func logFailure(ctx context.Context, err error, scope v1alpha1.Scope, path, what string) {
	logger := zerolog.Ctx(ctx)
	ev := logger.Warn()
	if errors.Is(err, libvirt.ErrNotFound) {
		ev = logger.Debug()
	}
	ev.Err(err).Str("scope", string(scope)).Str("path", path).Msg("failed to fetch " + what)
}
