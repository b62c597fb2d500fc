package descriptor

import (
	"strings"

	"gitlab.com/tozd/go/errors"
	"gopkg.in/xmlpath.v1"
)

// ErrInvalidDevice is returned for device snippets that cannot be attached
// or detached. It is the one parse error surfaced to callers.
var ErrInvalidDevice = errors.New("invalid device XML")

// Device is a validated device snippet.
type Device struct {
	// Kind is the root element, e.g. "disk" or "interface".
	Kind string

	// ID is the target dev of a disk or the MAC of an interface.
	ID string

	// XML is the snippet as passed in, trimmed.
	XML string
}

// deviceKinds are the elements allowed below <devices>.
var deviceKinds = []string{
	"disk", "interface", "hostdev", "controller", "filesystem", "graphics",
	"video", "sound", "input", "redirdev", "rng", "tpm", "watchdog",
	"memballoon", "serial", "console", "channel", "smartcard", "memory",
	"vsock", "shmem", "panic", "iommu", "lease", "hub", "parallel",
}

var devicePaths = func() map[string]*xmlpath.Path {
	m := make(map[string]*xmlpath.Path, len(deviceKinds))
	for _, k := range deviceKinds {
		m[k] = xmlpath.MustCompile("/" + k)
	}
	return m
}()

var deviceIDPaths = map[string]*xmlpath.Path{
	"disk":      xmlpath.MustCompile("/disk/target/@dev"),
	"interface": xmlpath.MustCompile("/interface/mac/@address"),
}

// ParseDeviceXML validates a device snippet for attach or detach. The root
// element must be a known device element.
func ParseDeviceXML(xml string) (Device, error) {
	xml = strings.TrimSpace(xml)
	if xml == "" {
		return Device{}, errors.Errorf("%w: empty document", ErrInvalidDevice)
	}

	root, err := xmlpath.Parse(strings.NewReader(xml))
	if err != nil {
		return Device{}, errors.Errorf("%w: %w", ErrInvalidDevice, err)
	}

	for _, kind := range deviceKinds {
		if !devicePaths[kind].Exists(root) {
			continue
		}
		dev := Device{Kind: kind, XML: xml}
		if p, ok := deviceIDPaths[kind]; ok {
			dev.ID, _ = p.String(root)
		}
		if kind == "disk" && dev.ID == "" {
			return Device{}, errors.Errorf("%w: disk without target", ErrInvalidDevice)
		}
		return dev, nil
	}
	return Device{}, errors.Errorf("%w: no device element", ErrInvalidDevice)
}
