// Package libvirt is the transport adapter between virtmirror and the
// libvirt daemons.
//
// It wraps github.com/digitalocean/go-libvirt to provide:
//   - One lazily created connection per connection scope (system, session)
//   - Remote calls addressed by object path, with per-call timeouts
//   - A signal subscription mechanism for lifecycle and property events
//
// Connection Management:
//
// Connections are created on first use and cached until Close. A cached
// connection that lost its daemon is dropped and redialed on the next use:
//
//	t := libvirt.NewTransport(libvirt.Options{CallTimeout: 10 * time.Second})
//	defer t.Close()
//
//	var xml string
//	err := t.Call(ctx, v1alpha1.ScopeSystem, path, "GetXMLDesc", 0, func(h libvirt.Hypervisor) error {
//	    dom, err := libvirt.LookupDomain(h, path)
//	    if err != nil {
//	        return err
//	    }
//	    xml, err = h.DomainGetXMLDesc(dom, false)
//	    return err
//	})
//
// Every failure of a call, including a timeout or a vanished object, is
// returned as a *RemoteCallError. ErrTimeout and ErrNotFound can be matched
// with errors.Is. A timed out fn keeps running, so xml above is only read
// when err is nil.
//
// Signals:
//
// Subscribe registers a persistent handler for signals matching a Filter.
// Domain signals come from the go-libvirt event streams. go-libvirt has no
// typed stream for network and storage pool events, so those are produced
// by a watcher that diffs object listings at a fixed interval. When a
// domain event stream breaks, it is resubscribed once the daemon is back
// and a Reconnected signal tells subscribers to resynchronize.
//
// Consumer-Side Interfaces:
//
// Hypervisor is the normalized subset of *libvirt.Libvirt used by the rest
// of virtmirror. Tests use the in-memory implementation from the
// libvirttest package.
package libvirt
