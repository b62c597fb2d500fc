package descriptor

import (
	"strconv"
	"strings"

	"gitlab.com/tozd/go/errors"
	"gopkg.in/xmlpath.v1"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/virtmirror/api/v1alpha1"
)

// Numeric capability fields are read with xmlpath so hex ("0x1f") and
// decimal spellings are handled alike.
var (
	capTypePath  = xmlpath.MustCompile("/device/capability/@type")
	capDomain    = xmlpath.MustCompile("/device/capability/domain")
	capBus       = xmlpath.MustCompile("/device/capability/bus")
	capSlot      = xmlpath.MustCompile("/device/capability/slot")
	capFunction  = xmlpath.MustCompile("/device/capability/function")
	capUSBDevice = xmlpath.MustCompile("/device/capability/device")
)

// ParseNodeDevice parses a node device descriptor. Only the pci,
// usb_device, net and storage capabilities are normalized; the capability
// type is recorded for every device.
func ParseNodeDevice(xml string) (*v1alpha1.NodeDevice, error) {
	var dev libvirtxml.NodeDevice
	if err := dev.Unmarshal(xml); err != nil {
		return nil, errors.Errorf("failed to parse node device XML: %w", err)
	}
	root, err := xmlpath.Parse(strings.NewReader(xml))
	if err != nil {
		return nil, errors.Errorf("failed to parse node device XML: %w", err)
	}

	out := &v1alpha1.NodeDevice{Parent: dev.Parent}
	out.Name = dev.Name
	if dev.Driver != nil {
		out.Driver = dev.Driver.Name
	}
	out.Capability, _ = capTypePath.String(root)

	caps := dev.Capability
	switch {
	case caps.PCI != nil:
		out.PCI = &v1alpha1.PCICapability{
			Domain:    xmlUint(capDomain, root),
			Bus:       xmlUint(capBus, root),
			Slot:      xmlUint(capSlot, root),
			Function:  xmlUint(capFunction, root),
			Class:     caps.PCI.Class,
			Product:   caps.PCI.Product.Name,
			ProductID: caps.PCI.Product.ID,
			Vendor:    caps.PCI.Vendor.Name,
			VendorID:  caps.PCI.Vendor.ID,
		}
	case caps.USBDevice != nil:
		out.USB = &v1alpha1.USBCapability{
			Bus:       xmlUint(capBus, root),
			Device:    xmlUint(capUSBDevice, root),
			Product:   caps.USBDevice.Product.Name,
			ProductID: caps.USBDevice.Product.ID,
			Vendor:    caps.USBDevice.Vendor.Name,
			VendorID:  caps.USBDevice.Vendor.ID,
		}
	case caps.Net != nil:
		out.Net = &v1alpha1.NetCapability{
			Interface: caps.Net.Interface,
			Address:   caps.Net.Address,
		}
	case caps.Storage != nil:
		out.Storage = &v1alpha1.StorageCapability{
			Block:  caps.Storage.Block,
			Model:  caps.Storage.Model,
			Vendor: caps.Storage.Vendor,
			Serial: caps.Storage.Serial,
		}
	}
	return out, nil
}

func xmlUint(p *xmlpath.Path, root *xmlpath.Node) uint {
	s, ok := p.String(root)
	if !ok {
		return 0
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0
	}
	return uint(v)
}
