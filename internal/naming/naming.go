// Package naming provides the object path conventions used to key mirrored
// libvirt objects. Paths follow the libvirt-dbus layout so they stay
// stable for the remote lifetime of an object:
//
//	/org/libvirt/QEMU/domain/_4dea22b3_1d52_d8f3_2516_782e98ab3fa0
//	/org/libvirt/QEMU/network/_<uuid>
//	/org/libvirt/QEMU/storagepool/_<uuid>
//	/org/libvirt/QEMU/nodedev/pci_0000_00_1f_2
//	/org/libvirt/QEMU/interface/eth0
package naming

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Root is the common prefix of every object path.
const Root = "/org/libvirt/QEMU"

// Object kinds as they appear in paths.
const (
	KindDomain      = "domain"
	KindNetwork     = "network"
	KindStoragePool = "storagepool"
	KindNodeDevice  = "nodedev"
	KindInterface   = "interface"
)

// DomainPath returns the object path of the domain with the given UUID.
func DomainPath(id uuid.UUID) string {
	return uuidPath(KindDomain, id)
}

// NetworkPath returns the object path of the network with the given UUID.
func NetworkPath(id uuid.UUID) string {
	return uuidPath(KindNetwork, id)
}

// StoragePoolPath returns the object path of the storage pool with the given UUID.
func StoragePoolPath(id uuid.UUID) string {
	return uuidPath(KindStoragePool, id)
}

// NodeDevicePath returns the object path of the named node device.
func NodeDevicePath(name string) string {
	return Root + "/" + KindNodeDevice + "/" + EscapeName(name)
}

// InterfacePath returns the object path of the named host interface.
func InterfacePath(name string) string {
	return Root + "/" + KindInterface + "/" + EscapeName(name)
}

func uuidPath(kind string, id uuid.UUID) string {
	return Root + "/" + kind + "/_" + strings.ReplaceAll(id.String(), "-", "_")
}

// ParseUUIDPath extracts the UUID from a domain, network or storage pool path.
func ParseUUIDPath(kind, path string) (uuid.UUID, error) {
	last, err := trimKind(kind, path)
	if err != nil {
		return uuid.Nil, err
	}
	if !strings.HasPrefix(last, "_") {
		return uuid.Nil, fmt.Errorf("invalid %s path %q: missing uuid marker", kind, path)
	}
	id, err := uuid.Parse(strings.ReplaceAll(last[1:], "_", "-"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s path %q: %w", kind, path, err)
	}
	return id, nil
}

// ParseNamePath extracts the name from a node device or interface path.
func ParseNamePath(kind, path string) (string, error) {
	last, err := trimKind(kind, path)
	if err != nil {
		return "", err
	}
	name, err := UnescapeName(last)
	if err != nil {
		return "", fmt.Errorf("invalid %s path %q: %w", kind, path, err)
	}
	return name, nil
}

func trimKind(kind, path string) (string, error) {
	prefix := Root + "/" + kind + "/"
	if !strings.HasPrefix(path, prefix) {
		return "", fmt.Errorf("path %q is not a %s path", path, kind)
	}
	last := strings.TrimPrefix(path, prefix)
	if last == "" || strings.Contains(last, "/") {
		return "", fmt.Errorf("invalid %s path %q", kind, path)
	}
	return last, nil
}

// EscapeName encodes a name as a single path element. Letters and digits
// are kept, every other byte becomes _XX (lower case hex).
func EscapeName(name string) string {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "_%02x", c)
	}
	return b.String()
}

// UnescapeName reverses EscapeName.
func UnescapeName(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '_' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("truncated escape at offset %d", i)
		}
		v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
		if err != nil {
			return "", fmt.Errorf("bad escape %q: %w", s[i:i+3], err)
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}

// KindOf returns the object kind encoded in path, or "" if path is not an
// object path.
func KindOf(path string) string {
	rest, ok := strings.CutPrefix(path, Root+"/")
	if !ok {
		return ""
	}
	kind, _, ok := strings.Cut(rest, "/")
	if !ok {
		return ""
	}
	return kind
}
