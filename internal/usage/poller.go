// Package usage polls live statistics of running domains into the store.
package usage

import (
	"context"
	"sync"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/rs/zerolog"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/libvirt"
	"github.com/jbweber/virtmirror/internal/store"
)

// Defaults for Options.
const (
	DefaultInterval       = time.Second
	DefaultHiddenInterval = 5 * time.Second
	DefaultStatsTimeout   = 5 * time.Second
)

// Caller runs remote calls. Satisfied by *libvirt.Transport.
type Caller interface {
	Call(ctx context.Context, scope v1alpha1.Scope, path, method string, timeout time.Duration, fn func(libvirt.Hypervisor) error) error
}

// Visibility reports whether the console is hidden from the user.
type Visibility interface {
	Hidden() bool
}

// Service reports whether the hypervisor service is running.
type Service interface {
	Running(ctx context.Context) bool
}

// Options configure a Poller.
type Options struct {
	// Interval between two samples, and between retries while the
	// service is down.
	Interval time.Duration

	// HiddenInterval is the tick rate while the console is hidden.
	HiddenInterval time.Duration

	// StatsTimeout bounds the statistics call.
	StatsTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.HiddenInterval <= 0 {
		o.HiddenInterval = DefaultHiddenInterval
	}
	if o.StatsTimeout <= 0 {
		o.StatsTimeout = DefaultStatsTimeout
	}
}

// Poller runs one polling loop per domain. The store's polling flag is
// the only way to end a loop; an in-flight statistics call is never
// aborted, only the next cycle is skipped.
type Poller struct {
	calls      Caller
	store      *store.Store
	visibility Visibility
	service    Service
	opts       Options

	mu    sync.Mutex
	loops map[v1alpha1.Key]bool

	now func() time.Time
}

// NewPoller creates a Poller.
func NewPoller(calls Caller, s *store.Store, visibility Visibility, service Service, opts Options) *Poller {
	opts.setDefaults()
	return &Poller{
		calls:      calls,
		store:      s,
		visibility: visibility,
		service:    service,
		opts:       opts,
		loops:      make(map[v1alpha1.Key]bool),
		now:        time.Now,
	}
}

// Start sets the polling flag of key and launches its loop unless one is
// already running. It returns false when the domain is unknown. The loop
// also ends when ctx is done.
func (p *Poller) Start(ctx context.Context, key v1alpha1.Key) bool {
	if !p.store.StartUsagePolling(key) && !p.store.UsagePolling(key) {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loops[key] {
		return true
	}
	p.loops[key] = true
	go p.run(ctx, key)
	return true
}

// Stop clears the polling flag of key. The loop exits at its next cycle.
func (p *Poller) Stop(key v1alpha1.Key) {
	p.store.StopUsagePolling(key)
}

// Polling reports whether a loop is currently running for key.
func (p *Poller) Polling(key v1alpha1.Key) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loops[key]
}

func (p *Poller) run(ctx context.Context, key v1alpha1.Key) {
	logger := zerolog.Ctx(ctx).With().Str("scope", string(key.Scope)).Str("path", key.Path).Logger()
	logger.Debug().Msg("usage polling started")
	defer logger.Debug().Msg("usage polling stopped")

	for {
		if p.done(key) {
			return
		}
		wait := p.cycle(ctx, key, &logger)
		if !sleepWithContext(ctx, wait) {
			p.mu.Lock()
			delete(p.loops, key)
			p.mu.Unlock()
			return
		}
	}
}

// done reports whether the loop of key should end, and unregisters it if
// so. The flag is read under mu: a Start that sets the flag after this
// check finds no loop and launches a new one.
func (p *Poller) done(key v1alpha1.Key) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.store.UsagePolling(key) {
		return false
	}
	delete(p.loops, key)
	return true
}

// cycle runs one polling step and returns the delay before the next one.
func (p *Poller) cycle(ctx context.Context, key v1alpha1.Key, logger *zerolog.Logger) time.Duration {
	if p.visibility != nil && p.visibility.Hidden() {
		return p.opts.HiddenInterval
	}
	if p.service != nil && !p.service.Running(ctx) {
		logger.Trace().Msg("hypervisor service not running")
		return p.opts.Interval
	}

	sample, err := p.Sample(ctx, key)
	if err != nil {
		logger.Debug().Err(err).Msg("failed to sample usage")
		return p.opts.Interval
	}
	p.store.SetUsage(key, sample)
	return p.opts.Interval
}

// Sample fetches one statistics record for key.
func (p *Poller) Sample(ctx context.Context, key v1alpha1.Key) (v1alpha1.UsageSample, error) {
	var params []golibvirt.TypedParam
	err := p.calls.Call(ctx, key.Scope, key.Path, "GetStats", p.opts.StatsTimeout, func(h libvirt.Hypervisor) error {
		dom, err := libvirt.LookupDomain(h, key.Path)
		if err != nil {
			return err
		}
		mask := libvirt.StatsState | libvirt.StatsCPUTotal | libvirt.StatsBalloon | libvirt.StatsVCPU | libvirt.StatsBlock
		records, err := h.ConnectGetAllDomainStats([]golibvirt.Domain{dom}, mask)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if rec.Dom.UUID == dom.UUID {
				params = rec.Params
			}
		}
		return nil
	})
	if err != nil {
		return v1alpha1.UsageSample{}, err
	}
	return Compute(params, p.now()), nil
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
