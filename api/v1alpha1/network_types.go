package v1alpha1

// Network is the mirrored state of one libvirt virtual network.
type Network struct {
	TypeMeta   `json:",inline" yaml:",inline"`
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Scope Scope  `json:"scope" yaml:"scope"`
	Path  string `json:"path" yaml:"path"`

	Active     bool `json:"active" yaml:"active"`
	Persistent bool `json:"persistent" yaml:"persistent"`
	Autostart  bool `json:"autostart" yaml:"autostart"`

	// +optional
	Config *NetworkConfig `json:"config,omitempty" yaml:"config,omitempty"`
}

// Key returns the store key of the network.
func (n *Network) Key() Key {
	return Key{Scope: n.Scope, Path: n.Path}
}

// NetworkConfig is the normalized form of a network XML descriptor.
type NetworkConfig struct {
	Bridge      string      `json:"bridge,omitempty" yaml:"bridge,omitempty"`
	ForwardMode string      `json:"forwardMode,omitempty" yaml:"forwardMode,omitempty"`
	ForwardDev  string      `json:"forwardDev,omitempty" yaml:"forwardDev,omitempty"`
	Domain      string      `json:"domain,omitempty" yaml:"domain,omitempty"`
	MTU         uint        `json:"mtu,omitempty" yaml:"mtu,omitempty"`
	IPs         []NetworkIP `json:"ips,omitempty" yaml:"ips,omitempty"`
}

// NetworkIP is one <ip> block of a network, with its optional DHCP range.
type NetworkIP struct {
	Family    string `json:"family,omitempty" yaml:"family,omitempty"`
	Address   string `json:"address" yaml:"address"`
	Netmask   string `json:"netmask,omitempty" yaml:"netmask,omitempty"`
	Prefix    uint   `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	DHCPStart string `json:"dhcpStart,omitempty" yaml:"dhcpStart,omitempty"`
	DHCPEnd   string `json:"dhcpEnd,omitempty" yaml:"dhcpEnd,omitempty"`
}
