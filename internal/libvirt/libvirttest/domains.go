package libvirttest

import (
	"fmt"
	"slices"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"

	"github.com/jbweber/virtmirror/internal/libvirt"
)

func (d *Domain) active() bool {
	return d.State != StateShutoff && d.State != 0
}

func (h *Hypervisor) findDomain(dom golibvirt.Domain) (*Domain, error) {
	for _, d := range h.domains {
		if d.Dom.UUID == dom.UUID {
			return d, nil
		}
	}
	return nil, notFound("domain", dom.Name)
}

// matchFlags applies libvirt list filter semantics: flags inside one group
// are ORed, groups are ANDed, an empty group matches everything.
func matchFlags(flags, yes, no uint32, has bool) bool {
	if flags&(yes|no) == 0 {
		return true
	}
	return (has && flags&yes != 0) || (!has && flags&no != 0)
}

func (h *Hypervisor) ConnectListAllDomains(flags uint32) ([]golibvirt.Domain, error) {
	err := h.enter("ConnectListAllDomains")
	defer h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []golibvirt.Domain
	for _, d := range h.domains {
		if !matchFlags(flags, libvirt.ListDomainsActive, libvirt.ListDomainsInactive, d.active()) {
			continue
		}
		if !matchFlags(flags, libvirt.ListDomainsPersistent, libvirt.ListDomainsTransient, d.Persistent) {
			continue
		}
		out = append(out, d.Dom)
	}
	return out, nil
}

func (h *Hypervisor) DomainLookupByUUID(id golibvirt.UUID) (golibvirt.Domain, error) {
	err := h.enter("DomainLookupByUUID")
	defer h.mu.Unlock()
	if err != nil {
		return golibvirt.Domain{}, err
	}
	for _, d := range h.domains {
		if d.Dom.UUID == id {
			return d.Dom, nil
		}
	}
	return golibvirt.Domain{}, notFound("domain", uuid.UUID(id).String())
}

func (h *Hypervisor) DomainGetXMLDesc(dom golibvirt.Domain, inactive bool) (string, error) {
	err := h.enter("DomainGetXMLDesc")
	defer h.mu.Unlock()
	if err != nil {
		return "", err
	}
	d, err := h.findDomain(dom)
	if err != nil {
		return "", err
	}
	if inactive && d.InactiveXML != "" {
		return d.InactiveXML, nil
	}
	return d.XML, nil
}

func (h *Hypervisor) DomainGetState(dom golibvirt.Domain) (int32, error) {
	err := h.enter("DomainGetState")
	defer h.mu.Unlock()
	if err != nil {
		return 0, err
	}
	d, err := h.findDomain(dom)
	if err != nil {
		return 0, err
	}
	return d.State, nil
}

func (h *Hypervisor) DomainIsPersistent(dom golibvirt.Domain) (bool, error) {
	err := h.enter("DomainIsPersistent")
	defer h.mu.Unlock()
	if err != nil {
		return false, err
	}
	d, err := h.findDomain(dom)
	if err != nil {
		return false, err
	}
	return d.Persistent, nil
}

func (h *Hypervisor) DomainGetAutostart(dom golibvirt.Domain) (bool, error) {
	err := h.enter("DomainGetAutostart")
	defer h.mu.Unlock()
	if err != nil {
		return false, err
	}
	d, err := h.findDomain(dom)
	if err != nil {
		return false, err
	}
	return d.Autostart, nil
}

func (h *Hypervisor) DomainListAllSnapshots(dom golibvirt.Domain) ([]golibvirt.DomainSnapshot, error) {
	err := h.enter("DomainListAllSnapshots")
	defer h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	d, err := h.findDomain(dom)
	if err != nil {
		return nil, err
	}
	out := make([]golibvirt.DomainSnapshot, 0, len(d.Snapshots))
	for _, s := range d.Snapshots {
		out = append(out, golibvirt.DomainSnapshot{Name: s.Name, Dom: d.Dom})
	}
	return out, nil
}

func (h *Hypervisor) DomainSnapshotGetXMLDesc(snap golibvirt.DomainSnapshot) (string, error) {
	err := h.enter("DomainSnapshotGetXMLDesc")
	defer h.mu.Unlock()
	if err != nil {
		return "", err
	}
	d, err := h.findDomain(snap.Dom)
	if err != nil {
		return "", err
	}
	for _, s := range d.Snapshots {
		if s.Name == snap.Name {
			return s.XML, nil
		}
	}
	return "", notFound("snapshot", snap.Name)
}

func (h *Hypervisor) ConnectGetAllDomainStats(doms []golibvirt.Domain, stats uint32) ([]golibvirt.DomainStatsRecord, error) {
	err := h.enter("ConnectGetAllDomainStats")
	defer h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []golibvirt.DomainStatsRecord
	for _, d := range h.domains {
		if len(doms) > 0 && !slices.ContainsFunc(doms, func(x golibvirt.Domain) bool { return x.UUID == d.Dom.UUID }) {
			continue
		}
		out = append(out, golibvirt.DomainStatsRecord{Dom: d.Dom, Params: slices.Clone(d.Stats)})
	}
	if len(doms) > 0 && len(out) == 0 {
		return nil, notFound("domain", doms[0].Name)
	}
	return out, nil
}

// transition runs fn on the domain behind dom.
func (h *Hypervisor) transition(method string, dom golibvirt.Domain, fn func(d *Domain) error) error {
	err := h.enter(method)
	defer h.mu.Unlock()
	if err != nil {
		return err
	}
	d, err := h.findDomain(dom)
	if err != nil {
		return err
	}
	return fn(d)
}

func (h *Hypervisor) requireActive(d *Domain) error {
	if !d.active() {
		return fmt.Errorf("domain %s is not running", d.Dom.Name)
	}
	return nil
}

func (h *Hypervisor) DomainCreate(dom golibvirt.Domain) error {
	return h.transition("DomainCreate", dom, func(d *Domain) error {
		if d.active() {
			return fmt.Errorf("domain %s is already running", d.Dom.Name)
		}
		d.State = StateRunning
		d.Dom.ID = h.nextID
		h.nextID++
		return nil
	})
}

// stop moves d to shut off; transient domains vanish.
func (h *Hypervisor) stop(d *Domain) {
	d.State = StateShutoff
	d.Dom.ID = -1
	if !d.Persistent {
		h.domains = slices.DeleteFunc(h.domains, func(x *Domain) bool { return x == d })
	}
}

func (h *Hypervisor) DomainShutdown(dom golibvirt.Domain) error {
	return h.transition("DomainShutdown", dom, func(d *Domain) error {
		if err := h.requireActive(d); err != nil {
			return err
		}
		h.stop(d)
		return nil
	})
}

func (h *Hypervisor) DomainDestroy(dom golibvirt.Domain) error {
	return h.transition("DomainDestroy", dom, func(d *Domain) error {
		if err := h.requireActive(d); err != nil {
			return err
		}
		h.stop(d)
		return nil
	})
}

func (h *Hypervisor) DomainReboot(dom golibvirt.Domain) error {
	return h.transition("DomainReboot", dom, h.requireActive)
}

func (h *Hypervisor) DomainReset(dom golibvirt.Domain) error {
	return h.transition("DomainReset", dom, h.requireActive)
}

func (h *Hypervisor) DomainSuspend(dom golibvirt.Domain) error {
	return h.transition("DomainSuspend", dom, func(d *Domain) error {
		if d.State != StateRunning {
			return fmt.Errorf("domain %s is not running", d.Dom.Name)
		}
		d.State = StatePaused
		return nil
	})
}

func (h *Hypervisor) DomainResume(dom golibvirt.Domain) error {
	return h.transition("DomainResume", dom, func(d *Domain) error {
		if d.State != StatePaused {
			return fmt.Errorf("domain %s is not paused", d.Dom.Name)
		}
		d.State = StateRunning
		return nil
	})
}

func (h *Hypervisor) DomainInjectNMI(dom golibvirt.Domain) error {
	return h.transition("DomainInjectNMI", dom, h.requireActive)
}

func (h *Hypervisor) DomainUndefine(dom golibvirt.Domain) error {
	return h.transition("DomainUndefine", dom, func(d *Domain) error {
		if !d.Persistent {
			return fmt.Errorf("cannot undefine transient domain %s", d.Dom.Name)
		}
		if d.active() {
			d.Persistent = false
			d.InactiveXML = ""
			return nil
		}
		h.domains = slices.DeleteFunc(h.domains, func(x *Domain) bool { return x == d })
		return nil
	})
}

func (h *Hypervisor) DomainSetAutostart(dom golibvirt.Domain, autostart bool) error {
	return h.transition("DomainSetAutostart", dom, func(d *Domain) error {
		d.Autostart = autostart
		return nil
	})
}

func (h *Hypervisor) DomainAttachDevice(dom golibvirt.Domain, xml string, flags uint32) error {
	return h.transition("DomainAttachDevice", dom, func(d *Domain) error {
		if flags&libvirt.AffectLive != 0 && !d.active() {
			return fmt.Errorf("domain %s is not running", d.Dom.Name)
		}
		d.Devices = append(d.Devices, xml)
		return nil
	})
}

func (h *Hypervisor) DomainDetachDevice(dom golibvirt.Domain, xml string, flags uint32) error {
	return h.transition("DomainDetachDevice", dom, func(d *Domain) error {
		i := slices.Index(d.Devices, xml)
		if i < 0 {
			return fmt.Errorf("device not found on domain %s", d.Dom.Name)
		}
		d.Devices = slices.Delete(d.Devices, i, i+1)
		return nil
	})
}
