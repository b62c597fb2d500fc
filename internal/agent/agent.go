// Package agent wires the mirror together and runs it as a daemon.
package agent

import (
	"context"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/config"
	"github.com/jbweber/virtmirror/internal/fetch"
	"github.com/jbweber/virtmirror/internal/hostenv"
	"github.com/jbweber/virtmirror/internal/libvirt"
	"github.com/jbweber/virtmirror/internal/monitor"
	"github.com/jbweber/virtmirror/internal/osdetect"
	"github.com/jbweber/virtmirror/internal/server"
	"github.com/jbweber/virtmirror/internal/store"
	"github.com/jbweber/virtmirror/internal/usage"
	"github.com/jbweber/virtmirror/internal/vm"
)

// shutdownTimeout bounds the graceful stop after the first signal.
const shutdownTimeout = 10 * time.Second

// Agent owns every long-lived component of the daemon.
type Agent struct {
	cfg    *config.Config
	scopes []v1alpha1.Scope

	transport  *libvirt.Transport
	store      *store.Store
	fetcher    *fetch.Fetcher
	monitor    *monitor.Monitor
	poller     *usage.Poller
	visibility *hostenv.Visibility
	ops        *vm.Operations
	detector   *osdetect.Tracker

	// ready is closed once the initial refresh finished.
	ready chan struct{}
}

// Option customizes an Agent.
type Option func(*options)

type options struct {
	dial        libvirt.DialFunc
	currentUser func() (string, error)
	service     usage.Service
	hostBus     fetch.HostBus
}

// WithDial replaces the go-libvirt dialer.
func WithDial(dial libvirt.DialFunc) Option {
	return func(o *options) { o.dial = dial }
}

// WithCurrentUser replaces the lookup of the user running the daemon.
func WithCurrentUser(fn func() (string, error)) Option {
	return func(o *options) { o.currentUser = fn }
}

// WithService replaces the hypervisor service check of the usage poller.
func WithService(s usage.Service) Option {
	return func(o *options) { o.service = s }
}

// WithHostBus replaces the lspci/lsusb host bus lookup.
func WithHostBus(h fetch.HostBus) Option {
	return func(o *options) { o.hostBus = h }
}

// New builds an Agent from cfg. No connection is made until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) *Agent {
	o := options{currentUser: hostenv.CurrentUser}
	for _, opt := range opts {
		opt(&o)
	}
	logger := zerolog.Ctx(ctx)

	scopes := slices.Clone(cfg.Scopes)
	if slices.Contains(scopes, v1alpha1.ScopeSession) {
		user, err := o.currentUser()
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("cannot determine current user, keeping session scope")
		case !hostenv.SessionAllowed(user):
			logger.Warn().Str("user", user).Msg("session scope is not offered to this user, dropping it")
			scopes = slices.DeleteFunc(scopes, func(s v1alpha1.Scope) bool { return s == v1alpha1.ScopeSession })
		}
	}

	if o.hostBus == nil {
		o.hostBus = hostenv.NewHostBus(cfg.LSPCI, cfg.LSUSB)
	}
	// The process check only makes sense for daemons on this host.
	if o.service == nil && len(cfg.URIs) == 0 {
		o.service = hostenv.NewServiceStatus()
	}

	tr := libvirt.NewTransport(libvirt.Options{
		URIs:              cfg.URIs,
		CallTimeout:       cfg.CallTimeout.D(),
		WatchInterval:     cfg.WatchInterval.D(),
		ReconnectInterval: cfg.ReconnectInterval.D(),
		Dial:              o.dial,
	})
	s := store.New()
	f := fetch.New(tr, s, o.hostBus)
	visibility := &hostenv.Visibility{}

	return &Agent{
		cfg:        cfg,
		scopes:     scopes,
		transport:  tr,
		store:      s,
		fetcher:    f,
		monitor:    monitor.New(tr, f, s),
		poller: usage.NewPoller(tr, s, visibility, o.service, usage.Options{
			Interval:       cfg.UsageInterval.D(),
			HiddenInterval: cfg.HiddenInterval.D(),
			StatsTimeout:   cfg.StatsTimeout.D(),
		}),
		visibility: visibility,
		ops:        vm.NewOperations(tr, f, s),
		detector:   osdetect.NewTracker(),
		ready:      make(chan struct{}),
	}
}

// Scopes returns the scopes the agent mirrors.
func (a *Agent) Scopes() []v1alpha1.Scope { return a.scopes }

// Store returns the record store.
func (a *Agent) Store() *store.Store { return a.store }

// Visibility returns the console visibility flag.
func (a *Agent) Visibility() *hostenv.Visibility { return a.visibility }

// Ready is closed once the initial refresh has finished.
func (a *Agent) Ready() <-chan struct{} { return a.ready }

// Operations returns the operations on mirrored objects.
func (a *Agent) Operations() *vm.Operations { return a.ops }

// Refresh fetches every object of kinds, or of every kind when none are
// given, without subscribing to signals. One-shot commands use it instead
// of Run.
func (a *Agent) Refresh(ctx context.Context, kinds ...v1alpha1.Kind) error {
	if len(kinds) == 0 {
		return a.fetcher.RefreshAll(ctx, a.scopes)
	}
	var errs []error
	for _, scope := range a.scopes {
		for _, kind := range kinds {
			if err := a.fetcher.All(ctx, scope, kind); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Ping returns the library version reported by the daemon behind scope.
func (a *Agent) Ping(ctx context.Context, scope v1alpha1.Scope) (uint64, error) {
	return a.transport.Ping(ctx, scope)
}

// URI returns the connection URI of scope.
func (a *Agent) URI(scope v1alpha1.Scope) string { return a.transport.URI(scope) }

// Close disconnects from every daemon. Run closes the agent itself.
func (a *Agent) Close() error { return a.transport.Close() }

// Run runs the agent until ctx is done or SIGINT/SIGTERM arrives. A second
// signal, or a stop exceeding the shutdown timeout, abandons the graceful
// stop.
func (a *Agent) Run(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)
	logger.Info().Strs("scopes", scopeNames(a.scopes)).Msg("starting virtmirror")

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received, stopping")
		cancelRun()

		grace := time.NewTimer(shutdownTimeout)
		defer grace.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			logger.Warn().Str("signal", sig2.String()).Msg("second signal received, forcing shutdown")
			runErr = context.Canceled
		case <-grace.C:
			logger.Warn().Dur("timeout", shutdownTimeout).Msg("graceful shutdown timed out")
			runErr = context.DeadlineExceeded
		}
	}

	if err := a.transport.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close connections")
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	logger.Info().Msg("virtmirror stopped")
	return nil
}

// run performs the initial refresh, subscribes to signals and serves until
// ctx is done.
func (a *Agent) run(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	// Subscribing first means no signal between the listing and the
	// subscription is lost; duplicate refetches are harmless.
	for _, scope := range a.scopes {
		a.monitor.Start(ctx, scope)
	}
	if err := a.fetcher.RefreshAll(ctx, a.scopes); err != nil {
		logger.Warn().Err(err).Msg("initial refresh incomplete")
	}
	close(a.ready)
	logger.Info().Uint64("version", a.store.Version()).Msg("initial refresh done")

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.AutoPollUsage {
		g.Go(func() error {
			a.autoPoll(gctx)
			return nil
		})
	}
	if a.cfg.Listen != "" {
		srv := server.New(ctx, server.Options{
			Store:      a.store,
			Scopes:     a.scopes,
			Poller:     a.poller,
			Visibility: a.visibility,
			Operations: a.ops,
			Detector:   a.detector,
		})
		g.Go(func() error {
			return srv.Serve(gctx, a.cfg.Listen)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.monitor.Wait()
		return nil
	})

	return g.Wait()
}

func scopeNames(scopes []v1alpha1.Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}
