package libvirt

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/naming"
)

// Default connection URIs per scope.
const (
	DefaultSystemURI  = "qemu:///system"
	DefaultSessionURI = "qemu:///session"
)

// DialFunc opens the connection for a scope.
type DialFunc func(ctx context.Context, scope v1alpha1.Scope, uri string) (Hypervisor, error)

// Options configures a Transport.
type Options struct {
	// URIs overrides the connection URI per scope.
	URIs map[v1alpha1.Scope]string

	// Sockets optionally pins the unix socket per scope.
	Sockets map[v1alpha1.Scope]string

	// CallTimeout is used for calls that do not pass their own timeout.
	// Defaults to 25 seconds.
	CallTimeout time.Duration

	// DialTimeout bounds connection setup. Defaults to 5 seconds.
	DialTimeout time.Duration

	// WatchInterval is the listing interval of the network and storage
	// pool watcher. Defaults to 5 seconds.
	WatchInterval time.Duration

	// ReconnectInterval spaces the attempts to resubscribe to domain
	// events after the connection was lost. Defaults to 2 seconds.
	ReconnectInterval time.Duration

	// Dial replaces the default go-libvirt dialer. Used by tests.
	Dial DialFunc
}

// Transport issues remote calls against one cached connection per scope and
// fans out signals to subscribers.
type Transport struct {
	opts Options

	mu     sync.Mutex
	conns  map[v1alpha1.Scope]Hypervisor
	closed bool

	subMu sync.RWMutex
	subs  map[v1alpha1.Scope][]subscription
	pumps map[v1alpha1.Scope]bool
}

// NewTransport creates a Transport. No connection is made until the first
// call or subscription on a scope.
func NewTransport(opts Options) *Transport {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 25 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = 5 * time.Second
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 2 * time.Second
	}
	return &Transport{
		opts:  opts,
		conns: make(map[v1alpha1.Scope]Hypervisor),
		subs:  make(map[v1alpha1.Scope][]subscription),
		pumps: make(map[v1alpha1.Scope]bool),
	}
}

// URI returns the connection URI used for scope.
func (t *Transport) URI(scope v1alpha1.Scope) string {
	if uri := t.opts.URIs[scope]; uri != "" {
		return uri
	}
	if scope == v1alpha1.ScopeSession {
		return DefaultSessionURI
	}
	return DefaultSystemURI
}

// Conn returns the connection for scope, dialing it on first use. A cached
// connection whose daemon went away is dropped and redialed.
func (t *Transport) Conn(ctx context.Context, scope v1alpha1.Scope) (Hypervisor, error) {
	if !scope.Valid() {
		return nil, errors.Errorf("%w: %q", ErrUnknownScope, scope)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	if c, ok := t.conns[scope]; ok {
		if c.IsConnected() {
			return c, nil
		}
		zerolog.Ctx(ctx).Warn().Str("scope", string(scope)).Msg("libvirt connection lost, redialing")
		delete(t.conns, scope)
		// Disconnect waits for the socket cleanup; do not hold the lock for it.
		go func() { _ = c.Disconnect() }()
	}

	uri := t.URI(scope)
	var (
		c   Hypervisor
		err error
	)
	if t.opts.Dial != nil {
		c, err = t.opts.Dial(ctx, scope, uri)
	} else {
		c, err = Dial(ctx, uri, t.opts.Sockets[scope], t.opts.DialTimeout)
	}
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Str("scope", string(scope)).Str("uri", uri).Msg("libvirt connected")
	t.conns[scope] = c
	return c, nil
}

// Call runs fn against the connection of scope. path and method only
// label the call for errors and logs.
//
// If timeout is zero, the transport default applies. On timeout Call
// returns immediately while fn keeps running in the background. Callers
// must not read anything fn writes unless Call returned nil.
func (t *Transport) Call(ctx context.Context, scope v1alpha1.Scope, path, method string, timeout time.Duration, fn func(Hypervisor) error) error {
	c, err := t.Conn(ctx, scope)
	if err != nil {
		return newRemoteCallError(scope, path, method, err)
	}
	if timeout <= 0 {
		timeout = t.opts.CallTimeout
	}

	done := make(chan error, 1)
	go func() {
		done <- fn(c)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return newRemoteCallError(scope, path, method, err)
		}
		return nil
	case <-timer.C:
		return newRemoteCallError(scope, path, method, ErrTimeout)
	case <-ctx.Done():
		return newRemoteCallError(scope, path, method, ctx.Err())
	}
}

// Ping verifies the connection of scope is alive.
func (t *Transport) Ping(ctx context.Context, scope v1alpha1.Scope) (uint64, error) {
	var version uint64
	err := t.Call(ctx, scope, "", "GetLibVersion", 0, func(h Hypervisor) error {
		var err error
		version, err = h.ConnectGetLibVersion()
		return err
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Close disconnects every cached connection. Later calls fail with
// ErrClosed. It is safe to call Close multiple times.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	var errs []error
	for scope, c := range t.conns {
		if err := c.Disconnect(); err != nil {
			errs = append(errs, errors.Errorf("failed to disconnect %s: %w", scope, err))
		}
		delete(t.conns, scope)
	}
	return errors.Join(errs...)
}

// Subscribe registers handler for signals of scope matching filter. The
// handler stays registered for the lifetime of the transport. Scopes other
// than system and session are ignored.
//
// The first subscription on a scope starts its event pumps; they run until
// ctx is done.
func (t *Transport) Subscribe(ctx context.Context, scope v1alpha1.Scope, filter Filter, handler Handler) {
	logger := zerolog.Ctx(ctx)
	if !scope.Valid() {
		logger.Debug().Str("scope", string(scope)).Msg("ignoring subscription for unknown scope")
		return
	}

	t.subMu.Lock()
	t.subs[scope] = append(t.subs[scope], subscription{filter: filter, handler: handler})
	started := t.pumps[scope]
	t.pumps[scope] = true
	t.subMu.Unlock()

	if started {
		return
	}
	if err := t.startPumps(ctx, scope); err != nil {
		logger.Warn().Err(err).Str("scope", string(scope)).Msg("failed to start event pumps")
		t.subMu.Lock()
		t.pumps[scope] = false
		t.subMu.Unlock()
	}
}

func (t *Transport) startPumps(ctx context.Context, scope v1alpha1.Scope) error {
	c, err := t.Conn(ctx, scope)
	if err != nil {
		return err
	}
	events, err := c.DomainEvents(ctx)
	if err != nil {
		return err
	}
	go t.pumpDomainEvents(ctx, scope, events)
	go t.watch(ctx, scope)
	return nil
}

// pumpDomainEvents publishes the domain events of scope until ctx is done.
// When the stream closes early the daemon went away: the pump resubscribes
// over a fresh connection and publishes a Reconnected signal so subscribers
// can catch up on what they missed.
func (t *Transport) pumpDomainEvents(ctx context.Context, scope v1alpha1.Scope, events <-chan DomainEvent) {
	logger := zerolog.Ctx(ctx).With().Str("scope", string(scope)).Logger()
	for {
		for ev := range events {
			t.publish(ctx, domainSignal(scope, ev))
		}
		if ctx.Err() != nil {
			logger.Debug().Msg("domain event stream closed")
			return
		}

		logger.Warn().Msg("domain event stream lost, resubscribing")
		events = t.resubscribe(ctx, scope)
		if events == nil {
			return
		}
		logger.Info().Msg("domain event stream restored")
		t.publish(ctx, Signal{Scope: scope, Interface: InterfaceConnect, Member: MemberReconnected})
	}
}

// resubscribe retries the domain event subscription every
// ReconnectInterval. It returns nil once ctx is done or the transport is
// closed.
func (t *Transport) resubscribe(ctx context.Context, scope v1alpha1.Scope) <-chan DomainEvent {
	logger := zerolog.Ctx(ctx)
	timer := time.NewTimer(t.opts.ReconnectInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		c, err := t.Conn(ctx, scope)
		if errors.Is(err, ErrClosed) {
			return nil
		}
		if err == nil {
			var events <-chan DomainEvent
			if events, err = c.DomainEvents(ctx); err == nil {
				return events
			}
		}
		logger.Debug().Err(err).Str("scope", string(scope)).Msg("resubscribe failed")
		timer.Reset(t.opts.ReconnectInterval)
	}
}

func domainSignal(scope v1alpha1.Scope, ev DomainEvent) Signal {
	sig := Signal{
		Scope: scope,
		Path:  naming.DomainPath(uuid.UUID(ev.Domain.UUID)),
	}
	if ev.Member == MemberDomainEvent {
		sig.Interface = InterfaceConnect
		sig.Member = MemberDomainEvent
		sig.Code = v1alpha1.DomainEventCode(ev.Event)
		sig.Detail = ev.Detail
	} else {
		sig.Interface = InterfaceDomain
		sig.Member = ev.Member
	}
	return sig
}

func (t *Transport) publish(ctx context.Context, sig Signal) {
	t.subMu.RLock()
	var handlers []Handler
	for _, sub := range t.subs[sig.Scope] {
		if sub.filter.Matches(sig) {
			handlers = append(handlers, sub.handler)
		}
	}
	t.subMu.RUnlock()

	zerolog.Ctx(ctx).Trace().
		Str("scope", string(sig.Scope)).
		Str("path", sig.Path).
		Str("member", sig.Member).
		Str("event", string(sig.Code)).
		Int("handlers", len(handlers)).
		Msg("signal")

	for _, h := range handlers {
		h(ctx, sig)
	}
}
