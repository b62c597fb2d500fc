package output

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/osdetect"
)

// TableFormatter formats records as human-readable tables.
//
// The state column is always last: tabwriter counts escape sequences as
// cell width, so a colored cell anywhere else would skew the alignment.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
	// Color enables state coloring.
	Color bool
}

// FormatRecord formats a single record as a table row.
func (f *TableFormatter) FormatRecord(record any) (string, error) {
	list, err := single(record)
	if err != nil {
		return "", err
	}
	return f.FormatList(list)
}

// FormatList formats a list of records as a table.
func (f *TableFormatter) FormatList(records any) (string, error) {
	items, kind, err := flatten(records)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return fmt.Sprintf("No %s records found\n", kind), nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	header, row := f.columns(kind)
	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, strings.Join(header, "\t"))
	}
	for _, item := range items {
		_, _ = fmt.Fprintln(w, strings.Join(row(item), "\t"))
	}

	_ = w.Flush()
	return buf.String(), nil
}

func (f *TableFormatter) columns(kind string) ([]string, func(any) []string) {
	switch kind {
	case v1alpha1.DomainKind:
		return []string{"NAME", "SCOPE", "ID", "VCPUS", "MEMORY", "AUTOSTART", "STATE"}, func(item any) []string {
			d := item.(*v1alpha1.Domain)
			id := "-"
			if d.ID >= 0 {
				id = fmt.Sprintf("%d", d.ID)
			}
			vcpus, memory := "-", "-"
			if cfg := activeConfig(d); cfg != nil {
				vcpus = fmt.Sprintf("%d", cfg.VCPUs)
				memory = formatBytes(cfg.MemoryKiB * 1024)
			}
			return []string{d.Name, string(d.Scope), id, vcpus, memory, yesNo(d.Autostart), f.domainState(d.State)}
		}
	case v1alpha1.NetworkKind:
		return []string{"NAME", "SCOPE", "BRIDGE", "FORWARD", "AUTOSTART", "STATE"}, func(item any) []string {
			n := item.(*v1alpha1.Network)
			bridge, forward := "-", "-"
			if n.Config != nil {
				bridge = orDash(n.Config.Bridge)
				forward = orDash(n.Config.ForwardMode)
			}
			return []string{n.Name, string(n.Scope), bridge, forward, yesNo(n.Autostart), f.activeState(n.Active)}
		}
	case v1alpha1.StoragePoolKind:
		return []string{"NAME", "SCOPE", "TYPE", "CAPACITY", "AVAILABLE", "VOLUMES", "AUTOSTART", "STATE"}, func(item any) []string {
			p := item.(*v1alpha1.StoragePool)
			typ := "-"
			if p.Config != nil {
				typ = orDash(p.Config.Type)
			}
			return []string{
				p.Name, string(p.Scope), typ,
				formatBytes(p.Capacity), formatBytes(p.Available),
				fmt.Sprintf("%d", len(p.Volumes)), yesNo(p.Autostart),
				f.activeState(p.Active),
			}
		}
	case v1alpha1.NodeDeviceKind:
		return []string{"NAME", "SCOPE", "CAPABILITY", "ADDRESS", "DESCRIPTION"}, func(item any) []string {
			d := item.(*v1alpha1.NodeDevice)
			return []string{d.Name, string(d.Scope), d.Capability, nodeDeviceAddress(d), nodeDeviceDescription(d)}
		}
	case v1alpha1.InterfaceKind:
		return []string{"NAME", "SCOPE", "MAC", "TYPE", "STATE"}, func(item any) []string {
			i := item.(*v1alpha1.Interface)
			typ := "-"
			if i.Config != nil {
				typ = orDash(i.Config.Type)
			}
			return []string{i.Name, string(i.Scope), orDash(i.MAC), typ, f.activeState(i.Active)}
		}
	default:
		return []string{"PATH", "FORMAT", "LABEL", "OS", "VERSION"}, func(item any) []string {
			r := item.(osdetect.Result)
			id, version := "-", "-"
			if r.OS != nil {
				id = r.OS.ID
				version = orDash(r.OS.Version)
			}
			return []string{r.Path, string(r.Format), orDash(r.Label), id, version}
		}
	}
}

// activeConfig returns the descriptor describing the domain as it runs now.
func activeConfig(d *v1alpha1.Domain) *v1alpha1.DomainConfig {
	if d.Live != nil {
		return d.Live
	}
	return d.Inactive
}

func (f *TableFormatter) domainState(state v1alpha1.DomainState) string {
	s := string(state)
	if s == "" {
		s = "-"
	}
	var c *color.Color
	switch state {
	case v1alpha1.DomainStateRunning, v1alpha1.DomainStateBlocked:
		c = color.New(color.FgGreen)
	case v1alpha1.DomainStatePaused, v1alpha1.DomainStatePMSuspended, v1alpha1.DomainStateShutdown:
		c = color.New(color.FgYellow)
	case v1alpha1.DomainStateCrashed:
		c = color.New(color.FgHiRed, color.Bold)
	case v1alpha1.DomainStateShutoff:
		c = color.New(color.Faint)
	default:
		return s
	}
	return f.paint(c, s)
}

func (f *TableFormatter) activeState(active bool) string {
	if active {
		return f.paint(color.New(color.FgGreen), "active")
	}
	return f.paint(color.New(color.Faint), "inactive")
}

func (f *TableFormatter) paint(c *color.Color, s string) string {
	if !f.Color {
		return s
	}
	c.EnableColor()
	return c.Sprint(s)
}

func nodeDeviceAddress(d *v1alpha1.NodeDevice) string {
	switch {
	case d.HostBus != nil && d.HostBus.Slot != "":
		return d.HostBus.Slot
	case d.PCI != nil:
		return fmt.Sprintf("%04x:%02x:%02x.%x", d.PCI.Domain, d.PCI.Bus, d.PCI.Slot, d.PCI.Function)
	case d.USB != nil:
		return fmt.Sprintf("%03d:%03d", d.USB.Bus, d.USB.Device)
	case d.Net != nil:
		return orDash(d.Net.Interface)
	case d.Storage != nil:
		return orDash(d.Storage.Block)
	}
	return "-"
}

func nodeDeviceDescription(d *v1alpha1.NodeDevice) string {
	var vendor, product string
	switch {
	case d.HostBus != nil:
		vendor, product = d.HostBus.Vendor, d.HostBus.Device
	case d.PCI != nil:
		vendor, product = d.PCI.Vendor, d.PCI.Product
	case d.USB != nil:
		vendor, product = d.USB.Vendor, d.USB.Product
	case d.Storage != nil:
		vendor, product = d.Storage.Vendor, d.Storage.Model
	}
	return orDash(strings.TrimSpace(vendor + " " + product))
}

// formatBytes formats a byte count with binary units.
// Examples: "512 B", "1.5 KiB", "4.0 GiB"
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit && exp < 5; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
