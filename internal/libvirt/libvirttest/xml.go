package libvirttest

import (
	"fmt"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
)

// DomainXML returns a minimal KVM domain descriptor.
func DomainXML(name string, id uuid.UUID) string {
	return fmt.Sprintf(`<domain type='kvm'>
  <name>%s</name>
  <uuid>%s</uuid>
  <memory unit='KiB'>2097152</memory>
  <currentMemory unit='KiB'>2097152</currentMemory>
  <vcpu placement='static' current='2'>4</vcpu>
  <os>
    <type arch='x86_64' machine='pc-q35-8.2'>hvm</type>
    <boot dev='hd'/>
  </os>
  <cpu mode='host-passthrough'/>
  <devices>
    <disk type='file' device='disk'>
      <driver name='qemu' type='qcow2'/>
      <source file='/var/lib/libvirt/images/%s.qcow2'/>
      <target dev='vda' bus='virtio'/>
    </disk>
    <interface type='network'>
      <mac address='52:54:00:12:34:56'/>
      <source network='default'/>
      <model type='virtio'/>
    </interface>
    <graphics type='vnc' port='-1' autoport='yes'/>
  </devices>
</domain>`, name, id, name)
}

// NetworkXML returns a NAT network descriptor.
func NetworkXML(name string, id uuid.UUID, bridge string) string {
	return fmt.Sprintf(`<network>
  <name>%s</name>
  <uuid>%s</uuid>
  <forward mode='nat'/>
  <bridge name='%s' stp='on' delay='0'/>
  <ip address='192.168.122.1' netmask='255.255.255.0'>
    <dhcp>
      <range start='192.168.122.2' end='192.168.122.254'/>
    </dhcp>
  </ip>
</network>`, name, id, bridge)
}

// PoolXML returns a dir pool descriptor.
func PoolXML(name string, id uuid.UUID, target string) string {
	return fmt.Sprintf(`<pool type='dir'>
  <name>%s</name>
  <uuid>%s</uuid>
  <capacity unit='bytes'>107374182400</capacity>
  <allocation unit='bytes'>42949672960</allocation>
  <available unit='bytes'>64424509440</available>
  <source/>
  <target>
    <path>%s</path>
  </target>
</pool>`, name, id, target)
}

// VolumeXML returns a file volume descriptor.
func VolumeXML(name, path, format string, capacity uint64) string {
	return fmt.Sprintf(`<volume type='file'>
  <name>%s</name>
  <key>%s</key>
  <capacity unit='bytes'>%d</capacity>
  <allocation unit='bytes'>%d</allocation>
  <target>
    <path>%s</path>
    <format type='%s'/>
  </target>
</volume>`, name, path, capacity, capacity/4, path, format)
}

// InterfaceXML returns an ethernet interface descriptor.
func InterfaceXML(name, mac string) string {
	return fmt.Sprintf(`<interface type='ethernet' name='%s'>
  <start mode='onboot'/>
  <mac address='%s'/>
  <mtu size='1500'/>
  <protocol family='ipv4'>
    <ip address='10.0.0.5' prefix='24'/>
  </protocol>
</interface>`, name, mac)
}

// PCIDeviceXML returns a PCI node device descriptor.
func PCIDeviceXML(name string, bus, slot, function uint, productID, vendorID string) string {
	return fmt.Sprintf(`<device>
  <name>%s</name>
  <path>/sys/devices/pci0000:00/0000:00:%02x.%x</path>
  <parent>computer</parent>
  <driver>
    <name>e1000e</name>
  </driver>
  <capability type='pci'>
    <class>0x020000</class>
    <domain>0</domain>
    <bus>%d</bus>
    <slot>%d</slot>
    <function>%d</function>
    <product id='%s'>Ethernet Connection</product>
    <vendor id='%s'>Intel Corporation</vendor>
  </capability>
</device>`, name, slot, function, bus, slot, function, productID, vendorID)
}

// USBDeviceXML returns a USB node device descriptor.
func USBDeviceXML(name string, bus, device uint, productID, vendorID string) string {
	return fmt.Sprintf(`<device>
  <name>%s</name>
  <parent>usb_usb1</parent>
  <driver>
    <name>usb</name>
  </driver>
  <capability type='usb_device'>
    <bus>%d</bus>
    <device>%d</device>
    <product id='%s'>Keyboard</product>
    <vendor id='%s'>Logitech, Inc.</vendor>
  </capability>
</device>`, name, bus, device, productID, vendorID)
}

// NetDeviceXML returns a net node device descriptor.
func NetDeviceXML(name, iface, mac string) string {
	return fmt.Sprintf(`<device>
  <name>%s</name>
  <parent>pci_0000_00_19_0</parent>
  <capability type='net'>
    <interface>%s</interface>
    <address>%s</address>
  </capability>
</device>`, name, iface, mac)
}

// Typed parameter value types (virTypedParameterType).
const (
	paramInt    uint32 = 1
	paramUInt   uint32 = 2
	paramLLong  uint32 = 3
	paramULLong uint32 = 4
	paramString uint32 = 7
)

// UIntParam builds an unsigned int stats parameter.
func UIntParam(field string, v uint32) golibvirt.TypedParam {
	return golibvirt.TypedParam{Field: field, Value: golibvirt.TypedParamValue{D: paramUInt, I: v}}
}

// IntParam builds an int stats parameter.
func IntParam(field string, v int32) golibvirt.TypedParam {
	return golibvirt.TypedParam{Field: field, Value: golibvirt.TypedParamValue{D: paramInt, I: v}}
}

// LLongParam builds a long long stats parameter.
func LLongParam(field string, v int64) golibvirt.TypedParam {
	return golibvirt.TypedParam{Field: field, Value: golibvirt.TypedParamValue{D: paramLLong, I: v}}
}

// ULLongParam builds an unsigned long long stats parameter.
func ULLongParam(field string, v uint64) golibvirt.TypedParam {
	return golibvirt.TypedParam{Field: field, Value: golibvirt.TypedParamValue{D: paramULLong, I: v}}
}

// StringParam builds a string stats parameter.
func StringParam(field, v string) golibvirt.TypedParam {
	return golibvirt.TypedParam{Field: field, Value: golibvirt.TypedParamValue{D: paramString, I: v}}
}
