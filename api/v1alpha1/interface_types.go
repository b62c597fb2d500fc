package v1alpha1

// Interface is the mirrored state of one host network interface.
type Interface struct {
	TypeMeta   `json:",inline" yaml:",inline"`
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Scope Scope  `json:"scope" yaml:"scope"`
	Path  string `json:"path" yaml:"path"`

	Active bool   `json:"active" yaml:"active"`
	MAC    string `json:"mac,omitempty" yaml:"mac,omitempty"`

	// +optional
	Config *InterfaceConfig `json:"config,omitempty" yaml:"config,omitempty"`
}

// Key returns the store key of the interface.
func (i *Interface) Key() Key {
	return Key{Scope: i.Scope, Path: i.Path}
}

// InterfaceConfig is the normalized form of an interface XML descriptor.
type InterfaceConfig struct {
	Type      string             `json:"type,omitempty" yaml:"type,omitempty"`
	StartMode string             `json:"startMode,omitempty" yaml:"startMode,omitempty"`
	MTU       uint               `json:"mtu,omitempty" yaml:"mtu,omitempty"`
	Addresses []InterfaceAddress `json:"addresses,omitempty" yaml:"addresses,omitempty"`
}

// InterfaceAddress is one configured address of a host interface.
type InterfaceAddress struct {
	Family  string `json:"family,omitempty" yaml:"family,omitempty"`
	Address string `json:"address" yaml:"address"`
	Prefix  uint   `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}
