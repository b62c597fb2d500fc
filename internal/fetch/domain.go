package fetch

import (
	"context"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/rs/zerolog"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/descriptor"
	"github.com/jbweber/virtmirror/internal/libvirt"
)

// Domain fetches one domain and merges it into the store.
//
// The live descriptor is required. State, persistence, autostart and id
// are read one by one; a sub-call that fails leaves its field out of the
// patch. The inactive descriptor is only read for persistent domains.
func (f *Fetcher) Domain(ctx context.Context, scope v1alpha1.Scope, path string, mode Mode) {
	key := v1alpha1.Key{Scope: scope, Path: path}

	var (
		dom   golibvirt.Domain
		ident descriptor.Identity
		live  *v1alpha1.DomainConfig
	)
	err := f.call(ctx, scope, path, "DomainGetXMLDesc", func(h libvirt.Hypervisor) error {
		var err error
		if dom, err = libvirt.LookupDomain(h, path); err != nil {
			return err
		}
		xml, err := h.DomainGetXMLDesc(dom, false)
		if err != nil {
			return err
		}
		ident, live, err = descriptor.ParseDomain(xml)
		return err
	})
	if err != nil {
		logFailure(ctx, err, scope, path, "domain")
		return
	}

	patch := v1alpha1.DomainPatch{
		Name: v1alpha1.Ptr(ident.Name),
		UID:  v1alpha1.Ptr(ident.UUID),
		ID:   v1alpha1.Ptr(dom.ID),
		Live: live,
	}
	if !f.domainProperties(ctx, scope, path, dom, &patch) {
		return
	}

	if patch.Persistent != nil && *patch.Persistent {
		var inactive *v1alpha1.DomainConfig
		err := f.call(ctx, scope, path, "DomainGetXMLDesc", func(h libvirt.Hypervisor) error {
			xml, err := h.DomainGetXMLDesc(dom, true)
			if err != nil {
				return err
			}
			_, inactive, err = descriptor.ParseDomain(xml)
			return err
		})
		if err != nil {
			logFailure(ctx, err, scope, path, "inactive domain descriptor")
		} else {
			patch.Inactive = inactive
		}
	}

	if snaps, ok := f.snapshots(ctx, scope, path, dom); ok {
		patch.Snapshots = &snaps
	}

	f.mergeDomain(ctx, key, patch, mode)
}

// domainProps is the property bag read by one GetProperties call.
type domainProps struct {
	state      *v1alpha1.DomainState
	persistent *bool
	autostart  *bool
	gone       bool
}

// domainProperties fills the property bag of patch. It returns false when
// the domain vanished while being read.
//
// The closure only writes its own domainProps; a timed out call keeps
// running in the background, so nothing it touches is read unless Call
// returned nil.
func (f *Fetcher) domainProperties(ctx context.Context, scope v1alpha1.Scope, path string, dom golibvirt.Domain, patch *v1alpha1.DomainPatch) bool {
	logger := zerolog.Ctx(ctx)

	var props domainProps
	err := f.call(ctx, scope, path, "GetProperties", func(h libvirt.Hypervisor) error {
		var p domainProps
		state, err := h.DomainGetState(dom)
		if err != nil {
			if errorIsNotFound(err) {
				props = domainProps{gone: true}
				return nil
			}
			logger.Debug().Err(err).Str("path", path).Msg("domain state unavailable")
		} else {
			p.state = v1alpha1.Ptr(v1alpha1.DomainStateFromCode(state))
		}

		if persistent, err := h.DomainIsPersistent(dom); err == nil {
			p.persistent = v1alpha1.Ptr(persistent)
		} else if p.state != nil && *p.state == v1alpha1.DomainStateShutoff {
			// A domain that exists while shut off has a persisted config.
			p.persistent = v1alpha1.Ptr(true)
		} else {
			logger.Debug().Err(err).Str("path", path).Msg("domain persistence unavailable")
		}

		if autostart, err := h.DomainGetAutostart(dom); err == nil {
			p.autostart = v1alpha1.Ptr(autostart)
		} else {
			logger.Debug().Err(err).Str("path", path).Msg("domain autostart unavailable")
		}
		props = p
		return nil
	})
	if err != nil {
		logger.Debug().Err(err).Str("path", path).Msg("domain properties unavailable")
		return true
	}

	if props.gone {
		logger.Debug().Str("scope", string(scope)).Str("path", path).Msg("domain vanished during fetch")
		return false
	}
	patch.State = props.state
	patch.Persistent = props.persistent
	patch.Autostart = props.autostart
	return true
}

func (f *Fetcher) snapshots(ctx context.Context, scope v1alpha1.Scope, path string, dom golibvirt.Domain) ([]v1alpha1.Snapshot, bool) {
	var snaps []v1alpha1.Snapshot
	err := f.call(ctx, scope, path, "DomainListAllSnapshots", func(h libvirt.Hypervisor) error {
		list, err := h.DomainListAllSnapshots(dom)
		if err != nil {
			return err
		}
		snaps = make([]v1alpha1.Snapshot, 0, len(list))
		for _, s := range list {
			xml, err := h.DomainSnapshotGetXMLDesc(s)
			if err != nil {
				return err
			}
			snap, err := descriptor.ParseSnapshot(xml)
			if err != nil {
				return err
			}
			snaps = append(snaps, snap)
		}
		return nil
	})
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("path", path).Msg("snapshots unavailable")
		return nil, false
	}
	return snaps, true
}

func (f *Fetcher) mergeDomain(ctx context.Context, key v1alpha1.Key, patch v1alpha1.DomainPatch, mode Mode) {
	var ok bool
	if mode == UpdateOnly {
		ok = f.store.UpdateDomain(key, patch)
	} else {
		ok = f.store.UpsertDomain(key, patch)
	}
	zerolog.Ctx(ctx).Trace().Str("key", key.String()).Str("mode", mode.String()).Bool("merged", ok).Msg("domain fetched")
}
