// Package monitor keeps the store in sync with lifecycle and property
// signals after the initial bulk refresh.
package monitor

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/fetch"
	"github.com/jbweber/virtmirror/internal/libvirt"
	"github.com/jbweber/virtmirror/internal/store"
)

// Subscriber registers signal handlers. Satisfied by *libvirt.Transport.
type Subscriber interface {
	Subscribe(ctx context.Context, scope v1alpha1.Scope, filter libvirt.Filter, handler libvirt.Handler)
}

// Fetcher is the part of *fetch.Fetcher the monitor drives.
type Fetcher interface {
	Domain(ctx context.Context, scope v1alpha1.Scope, path string, mode fetch.Mode)
	Network(ctx context.Context, scope v1alpha1.Scope, path string, mode fetch.Mode)
	StoragePool(ctx context.Context, scope v1alpha1.Scope, path string, mode fetch.Mode)
	ListPaths(ctx context.Context, scope v1alpha1.Scope, kind v1alpha1.Kind, flags uint32) ([]string, error)
	RefreshAll(ctx context.Context, scopes []v1alpha1.Scope) error
}

// Monitor reacts to signals of one or more scopes.
type Monitor struct {
	sub     Subscriber
	fetcher Fetcher
	store   *store.Store

	wg sync.WaitGroup
}

// New creates a Monitor.
func New(sub Subscriber, fetcher Fetcher, s *store.Store) *Monitor {
	return &Monitor{sub: sub, fetcher: fetcher, store: s}
}

// entity binds the signal handling of one record kind.
type entity struct {
	kind       v1alpha1.Kind
	lifecycle  libvirt.Filter
	properties libvirt.Filter

	// stillDefined lists objects that survive an undefine, i.e. active
	// transient ones.
	stillDefined uint32

	fetch  func(ctx context.Context, scope v1alpha1.Scope, path string, mode fetch.Mode)
	delete func(key v1alpha1.Key) bool
}

func (m *Monitor) entities() []entity {
	return []entity{
		{
			kind:         v1alpha1.KindDomain,
			lifecycle:    libvirt.DomainLifecycle,
			properties:   libvirt.DomainProperties,
			stillDefined: libvirt.ListDomainsActive | libvirt.ListDomainsTransient,
			fetch:        m.fetcher.Domain,
			delete:       m.store.DeleteDomain,
		},
		{
			kind:         v1alpha1.KindNetwork,
			lifecycle:    libvirt.NetworkLifecycle,
			properties:   libvirt.NetworkProperties,
			stillDefined: libvirt.ListActive | libvirt.ListTransient,
			fetch:        m.fetcher.Network,
			delete:       m.store.DeleteNetwork,
		},
		{
			kind:         v1alpha1.KindStoragePool,
			lifecycle:    libvirt.StoragePoolLifecycle,
			properties:   libvirt.StoragePoolProperties,
			stillDefined: libvirt.ListActive | libvirt.ListTransient,
			fetch:        m.fetcher.StoragePool,
			delete:       m.store.DeleteStoragePool,
		},
	}
}

// Start subscribes to the lifecycle and property signals of every entity
// kind on scope, and to the reconnect signal. Unknown scopes are ignored by
// the subscriber.
func (m *Monitor) Start(ctx context.Context, scope v1alpha1.Scope) {
	for _, e := range m.entities() {
		m.sub.Subscribe(ctx, scope, e.lifecycle, m.async(func(ctx context.Context, sig libvirt.Signal) {
			m.lifecycle(ctx, e, sig)
		}))
		m.sub.Subscribe(ctx, scope, e.properties, m.async(func(ctx context.Context, sig libvirt.Signal) {
			m.propertiesChanged(ctx, e, sig)
		}))
	}
	m.sub.Subscribe(ctx, scope, libvirt.Reconnected, m.async(m.reconnected))
	zerolog.Ctx(ctx).Info().Str("scope", string(scope)).Msg("monitoring signals")
}

// Wait blocks until all in-flight signal handlers have returned.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// async runs every signal in its own goroutine. Handlers for different
// objects may interleave; the store merges are atomic per record.
func (m *Monitor) async(h libvirt.Handler) libvirt.Handler {
	return func(ctx context.Context, sig libvirt.Signal) {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			h(ctx, sig)
		}()
	}
}

func (m *Monitor) lifecycle(ctx context.Context, e entity, sig libvirt.Signal) {
	logger := zerolog.Ctx(ctx).With().
		Str("scope", string(sig.Scope)).
		Str("path", sig.Path).
		Str("event", string(sig.Code)).
		Logger()
	key := v1alpha1.Key{Scope: sig.Scope, Path: sig.Path}

	switch sig.Code {
	case v1alpha1.EventDefined, v1alpha1.EventStarted:
		e.fetch(ctx, sig.Scope, sig.Path, fetch.Upsert)

	case v1alpha1.EventUndefined:
		// An undefined object that is still running became transient.
		m.refetchOrDelete(ctx, e, key, e.stillDefined, &logger)

	case v1alpha1.EventStopped:
		// A stopped transient object is gone; a persistent one stays.
		m.refetchOrDelete(ctx, e, key, 0, &logger)

	case v1alpha1.EventSuspended:
		if e.kind == v1alpha1.KindDomain {
			m.store.SetDomainState(key, v1alpha1.DomainStatePaused)
		}

	case v1alpha1.EventResumed:
		if e.kind == v1alpha1.KindDomain {
			m.store.SetDomainState(key, v1alpha1.DomainStateRunning)
		}

	default:
		logger.Debug().Int32("detail", sig.Detail).Msg("ignoring lifecycle event")
	}
}

func (m *Monitor) refetchOrDelete(ctx context.Context, e entity, key v1alpha1.Key, flags uint32, logger *zerolog.Logger) {
	paths, err := m.fetcher.ListPaths(ctx, key.Scope, e.kind, flags)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to list objects after lifecycle event")
		return
	}
	if slices.Contains(paths, key.Path) {
		e.fetch(ctx, key.Scope, key.Path, fetch.UpdateOnly)
		return
	}
	if e.delete(key) {
		logger.Debug().Str("kind", string(e.kind)).Msg("removed record")
	}
}

func (m *Monitor) propertiesChanged(ctx context.Context, e entity, sig libvirt.Signal) {
	zerolog.Ctx(ctx).Trace().
		Str("scope", string(sig.Scope)).
		Str("path", sig.Path).
		Str("member", sig.Member).
		Msg("properties changed")
	e.fetch(ctx, sig.Scope, sig.Path, fetch.UpdateOnly)
}

// reconnected refreshes every kind of the scope. Signals sent while the
// connection was down are lost, so the store may be stale.
func (m *Monitor) reconnected(ctx context.Context, sig libvirt.Signal) {
	logger := zerolog.Ctx(ctx).With().Str("scope", string(sig.Scope)).Logger()
	if err := m.fetcher.RefreshAll(ctx, []v1alpha1.Scope{sig.Scope}); err != nil {
		logger.Warn().Err(err).Msg("refresh after reconnect incomplete")
		return
	}
	logger.Info().Msg("store refreshed after reconnect")
}
