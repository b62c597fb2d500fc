package v1alpha1

// Node device capability kinds that get host bus enrichment.
const (
	CapabilityPCI       = "pci"
	CapabilityUSBDevice = "usb_device"
)

// NodeDevice is the mirrored state of one host node device.
type NodeDevice struct {
	TypeMeta   `json:",inline" yaml:",inline"`
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Scope Scope  `json:"scope" yaml:"scope"`
	Path  string `json:"path" yaml:"path"`

	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`

	// Capability is the type of the first <capability> element, e.g.
	// "pci", "usb_device", "net", "storage".
	Capability string `json:"capability" yaml:"capability"`

	// +optional
	PCI *PCICapability `json:"pci,omitempty" yaml:"pci,omitempty"`
	// +optional
	USB *USBCapability `json:"usb,omitempty" yaml:"usb,omitempty"`
	// +optional
	Net *NetCapability `json:"net,omitempty" yaml:"net,omitempty"`
	// +optional
	Storage *StorageCapability `json:"storage,omitempty" yaml:"storage,omitempty"`

	// HostBus is filled from lspci/lsusb for pci and usb_device only.
	// +optional
	HostBus *HostBusInfo `json:"hostBus,omitempty" yaml:"hostBus,omitempty"`
}

// Key returns the store key of the device.
func (d *NodeDevice) Key() Key {
	return Key{Scope: d.Scope, Path: d.Path}
}

// PCICapability is the pci capability of a node device.
type PCICapability struct {
	Domain    uint   `json:"domain" yaml:"domain"`
	Bus       uint   `json:"bus" yaml:"bus"`
	Slot      uint   `json:"slot" yaml:"slot"`
	Function  uint   `json:"function" yaml:"function"`
	Class     string `json:"class,omitempty" yaml:"class,omitempty"`
	Product   string `json:"product,omitempty" yaml:"product,omitempty"`
	ProductID string `json:"productId,omitempty" yaml:"productId,omitempty"`
	Vendor    string `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	VendorID  string `json:"vendorId,omitempty" yaml:"vendorId,omitempty"`
}

// Address returns the PCI address in lspci notation (dddd:bb:ss.f).
func (c *PCICapability) Address() string {
	return formatPCIAddress(c.Domain, c.Bus, c.Slot, c.Function)
}

// USBCapability is the usb_device capability of a node device.
type USBCapability struct {
	Bus       uint   `json:"bus" yaml:"bus"`
	Device    uint   `json:"device" yaml:"device"`
	Product   string `json:"product,omitempty" yaml:"product,omitempty"`
	ProductID string `json:"productId,omitempty" yaml:"productId,omitempty"`
	Vendor    string `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	VendorID  string `json:"vendorId,omitempty" yaml:"vendorId,omitempty"`
}

// NetCapability is the net capability of a node device.
type NetCapability struct {
	Interface string `json:"interface" yaml:"interface"`
	Address   string `json:"address,omitempty" yaml:"address,omitempty"`
}

// StorageCapability is the storage capability of a node device.
type StorageCapability struct {
	Block  string `json:"block,omitempty" yaml:"block,omitempty"`
	Model  string `json:"model,omitempty" yaml:"model,omitempty"`
	Vendor string `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Serial string `json:"serial,omitempty" yaml:"serial,omitempty"`
}

// HostBusInfo is the classification reported by the host bus utilities.
type HostBusInfo struct {
	// Slot is the PCI address or "bus:device" for USB.
	Slot   string `json:"slot" yaml:"slot"`
	Class  string `json:"class,omitempty" yaml:"class,omitempty"`
	Vendor string `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Device string `json:"device,omitempty" yaml:"device,omitempty"`
}
