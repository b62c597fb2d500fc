package vm

import (
	"context"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/fetch"
	"github.com/jbweber/virtmirror/internal/libvirt"
)

// Delete stops a domain and removes its persistent configuration.
//
// This orchestrates the whole removal:
//  1. Graceful shutdown if the guest runs, waiting up to the shutdown
//     timeout for it to power off
//  2. Force off if it is still active
//  3. Undefine, unless the domain was transient and is gone already
//
// A failed graceful shutdown is logged and followed by a force off.
func (o *Operations) Delete(ctx context.Context, key v1alpha1.Key) error {
	d, ok := o.records.Domain(key)
	if !ok {
		return errors.Errorf("%w: domain %s", ErrUnknown, key.Path)
	}
	caps := CapabilitiesOf(d)
	if !caps.CanDelete && !caps.CanForceOff {
		return errors.Errorf("%w: delete domain %s in state %s", ErrNotPermitted, d.Name, d.State)
	}
	defer o.fetcher.Domain(ctx, key.Scope, key.Path, fetch.UpdateOnly)

	logger := zerolog.Ctx(ctx).With().Str("scope", string(key.Scope)).Str("path", key.Path).Logger()

	state := d.State
	if caps.CanShutdown {
		logger.Debug().Msg("shutting down before delete")
		if err := o.call(ctx, key, "DomainShutdown", func(h libvirt.Hypervisor, dom golibvirt.Domain) error {
			return h.DomainShutdown(dom)
		}); err != nil {
			logger.Warn().Err(err).Msg("graceful shutdown failed")
		} else {
			state = o.waitForShutoff(ctx, key, &logger)
		}
	}

	if IsActive(state) {
		logger.Debug().Msg("forcing off before delete")
		if err := o.call(ctx, key, "DomainDestroy", func(h libvirt.Hypervisor, dom golibvirt.Domain) error {
			return h.DomainDestroy(dom)
		}); err != nil && !errors.Is(err, libvirt.ErrNotFound) {
			return err
		}
	}

	if !d.Persistent {
		return nil
	}
	return o.call(ctx, key, "DomainUndefine", func(h libvirt.Hypervisor, dom golibvirt.Domain) error {
		return h.DomainUndefine(dom)
	})
}

// waitForShutoff polls the domain state until it is no longer active or the
// shutdown timeout passes, and returns the last state seen.
func (o *Operations) waitForShutoff(ctx context.Context, key v1alpha1.Key, logger *zerolog.Logger) v1alpha1.DomainState {
	shutdownCtx, cancel := context.WithTimeout(ctx, o.shutdownTimeout)
	defer cancel()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	state := v1alpha1.DomainStateRunning
	for {
		select {
		case <-shutdownCtx.Done():
			logger.Debug().Msg("graceful shutdown timed out")
			return state
		case <-ticker.C:
			var current v1alpha1.DomainState
			err := o.call(ctx, key, "DomainGetState", func(h libvirt.Hypervisor, dom golibvirt.Domain) error {
				code, err := h.DomainGetState(dom)
				if err != nil {
					return err
				}
				current = v1alpha1.DomainStateFromCode(code)
				return nil
			})
			switch {
			case errors.Is(err, libvirt.ErrNotFound):
				return v1alpha1.DomainStateShutoff
			case err != nil:
				logger.Debug().Err(err).Msg("failed to check shutdown state")
				return state
			}
			state = current
			if !IsActive(state) {
				return state
			}
		}
	}
}

func (o *Operations) call(ctx context.Context, key v1alpha1.Key, method string, fn domainCall) error {
	return o.calls.Call(ctx, key.Scope, key.Path, method, 0, func(h libvirt.Hypervisor) error {
		dom, err := libvirt.LookupDomain(h, key.Path)
		if err != nil {
			return err
		}
		return fn(h, dom)
	})
}
