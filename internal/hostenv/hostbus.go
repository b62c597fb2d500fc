package hostenv

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/jbweber/virtmirror/api/v1alpha1"
)

// Default utility paths, resolved through PATH.
const (
	DefaultLSPCI = "lspci"
	DefaultLSUSB = "lsusb"
)

// RunFunc runs a host utility and returns its standard output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// HostBus classifies PCI and USB devices with lspci and lsusb. Results are
// cached until the next Refresh.
type HostBus struct {
	lspci string
	lsusb string
	run   RunFunc

	mu     sync.Mutex
	loaded bool
	pci    map[string]v1alpha1.HostBusInfo
	usb    map[string]v1alpha1.HostBusInfo
}

// NewHostBus creates a HostBus. Empty paths fall back to the defaults.
func NewHostBus(lspci, lsusb string) *HostBus {
	if lspci == "" {
		lspci = DefaultLSPCI
	}
	if lsusb == "" {
		lsusb = DefaultLSUSB
	}
	return &HostBus{lspci: lspci, lsusb: lsusb, run: runCommand}
}

// WithRunner replaces the process runner. Used in tests.
func (h *HostBus) WithRunner(run RunFunc) *HostBus {
	h.run = run
	return h
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Errorf("%s failed: %w\nOutput: %s", name, err, stderr.String())
	}
	return out, nil
}

// Refresh reruns both utilities. A failing utility leaves its table empty
// and is reported in the returned error; the other table is still loaded.
func (h *HostBus) Refresh(ctx context.Context) error {
	var errs []error

	pci := map[string]v1alpha1.HostBusInfo{}
	if out, err := h.run(ctx, h.lspci, "-D", "-vmm", "-nn"); err != nil {
		errs = append(errs, err)
	} else {
		pci = ParseLSPCI(out)
	}

	usb := map[string]v1alpha1.HostBusInfo{}
	if out, err := h.run(ctx, h.lsusb); err != nil {
		errs = append(errs, err)
	} else {
		usb = ParseLSUSB(out)
	}

	h.mu.Lock()
	h.pci, h.usb, h.loaded = pci, usb, true
	h.mu.Unlock()

	zerolog.Ctx(ctx).Debug().Int("pci", len(pci)).Int("usb", len(usb)).Msg("host bus refreshed")
	return errors.Join(errs...)
}

func (h *HostBus) ensure(ctx context.Context) {
	h.mu.Lock()
	loaded := h.loaded
	h.mu.Unlock()
	if loaded {
		return
	}
	if err := h.Refresh(ctx); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("host bus utilities failed")
	}
}

// PCI returns the classification of the device at address (dddd:bb:ss.f).
func (h *HostBus) PCI(ctx context.Context, address string) (*v1alpha1.HostBusInfo, bool) {
	h.ensure(ctx)
	h.mu.Lock()
	defer h.mu.Unlock()
	info, ok := h.pci[address]
	if !ok {
		return nil, false
	}
	return &info, true
}

// USB returns the classification of the device at bus and device number.
func (h *HostBus) USB(ctx context.Context, bus, device uint) (*v1alpha1.HostBusInfo, bool) {
	h.ensure(ctx)
	h.mu.Lock()
	defer h.mu.Unlock()
	info, ok := h.usb[usbSlot(bus, device)]
	if !ok {
		return nil, false
	}
	return &info, true
}

func usbSlot(bus, device uint) string {
	return fmt.Sprintf("%03d:%03d", bus, device)
}

// idSuffix matches the " [8086]" id suffix added by lspci -nn.
var idSuffix = regexp.MustCompile(`\s*\[[0-9a-fA-F]{4}\]$`)

// ParseLSPCI parses `lspci -D -vmm -nn` output keyed by slot.
func ParseLSPCI(out []byte) map[string]v1alpha1.HostBusInfo {
	devices := make(map[string]v1alpha1.HostBusInfo)
	var cur v1alpha1.HostBusInfo

	flush := func() {
		if cur.Slot != "" {
			devices[cur.Slot] = cur
		}
		cur = v1alpha1.HostBusInfo{}
	}

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = idSuffix.ReplaceAllString(strings.TrimSpace(value), "")
		switch key {
		case "Slot":
			cur.Slot = value
		case "Class":
			cur.Class = value
		case "Vendor":
			cur.Vendor = value
		case "Device":
			cur.Device = value
		}
	}
	flush()
	return devices
}

var lsusbLine = regexp.MustCompile(`^Bus (\d+) Device (\d+): ID ([0-9a-fA-F]{4}):([0-9a-fA-F]{4})\s*(.*)$`)

// ParseLSUSB parses plain `lsusb` output keyed by "bus:device". lsusb
// prints vendor and product as one string, so Device holds the whole
// description and Vendor the vendor id.
func ParseLSUSB(out []byte) map[string]v1alpha1.HostBusInfo {
	devices := make(map[string]v1alpha1.HostBusInfo)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		m := lsusbLine.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		bus, _ := strconv.ParseUint(m[1], 10, 32)
		dev, _ := strconv.ParseUint(m[2], 10, 32)
		slot := usbSlot(uint(bus), uint(dev))
		devices[slot] = v1alpha1.HostBusInfo{
			Slot:   slot,
			Class:  "USB device",
			Vendor: strings.ToLower(m[3]),
			Device: m[5],
		}
	}
	return devices
}
