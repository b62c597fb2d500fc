package v1alpha1

import (
	"fmt"
	"strings"
)

// Scope identifies which libvirt connection an object lives on.
type Scope string

const (
	// ScopeSystem is the privileged qemu:///system connection.
	ScopeSystem Scope = "system"

	// ScopeSession is the unprivileged per-user qemu:///session connection.
	ScopeSession Scope = "session"
)

// Scopes lists every known scope in a stable order.
var Scopes = []Scope{ScopeSystem, ScopeSession}

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	return s == ScopeSystem || s == ScopeSession
}

// String implements fmt.Stringer.
func (s Scope) String() string {
	return string(s)
}

// ParseScope converts a user supplied string into a Scope.
func ParseScope(s string) (Scope, error) {
	scope := Scope(strings.ToLower(strings.TrimSpace(s)))
	if !scope.Valid() {
		return "", fmt.Errorf("unknown scope %q (expected %q or %q)", s, ScopeSystem, ScopeSession)
	}
	return scope, nil
}

// Key is the composite identity of every record: the connection scope plus
// the object path assigned by the remote side.
type Key struct {
	Scope Scope  `json:"scope" yaml:"scope"`
	Path  string `json:"path" yaml:"path"`
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return string(k.Scope) + ":" + k.Path
}

// Kind enumerates the record kinds held by the store.
type Kind string

const (
	KindDomain      Kind = "domains"
	KindNetwork     Kind = "networks"
	KindStoragePool Kind = "storagepools"
	KindNodeDevice  Kind = "nodedevices"
	KindInterface   Kind = "interfaces"
)

// Kinds lists every record kind.
var Kinds = []Kind{KindDomain, KindNetwork, KindStoragePool, KindNodeDevice, KindInterface}

// ParseKind accepts the plural kind name as well as a few common aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "domains", "domain", "vms", "vm":
		return KindDomain, nil
	case "networks", "network", "net":
		return KindNetwork, nil
	case "storagepools", "storagepool", "pools", "pool":
		return KindStoragePool, nil
	case "nodedevices", "nodedevice", "devices", "nodedev":
		return KindNodeDevice, nil
	case "interfaces", "interface", "iface":
		return KindInterface, nil
	default:
		return "", fmt.Errorf("unknown kind %q", s)
	}
}
