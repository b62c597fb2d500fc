package hostenv

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/virtmirror/api/v1alpha1"
)

const lspciOutput = `Slot:	0000:00:1f.6
Class:	Ethernet controller [0200]
Vendor:	Intel Corporation [8086]
Device:	Ethernet Connection (7) I219-LM [15bb]
SVendor:	Lenovo [17aa]
SDevice:	Ethernet Connection (7) I219-LM [3120]
Rev:	10

Slot:	0000:01:00.0
Class:	VGA compatible controller [0300]
Vendor:	NVIDIA Corporation [10de]
Device:	TU117GLM [Quadro T1000 Mobile] [1fb9]
`

const lsusbOutput = `Bus 002 Device 001: ID 1d6b:0003 Linux Foundation 3.0 root hub
Bus 001 Device 003: ID 046D:C52B Logitech, Inc. Unifying Receiver
garbage line
`

func TestParseLSPCI(t *testing.T) {
	got := ParseLSPCI([]byte(lspciOutput))

	require.Len(t, got, 2)
	assert.Equal(t, v1alpha1.HostBusInfo{
		Slot:   "0000:00:1f.6",
		Class:  "Ethernet controller",
		Vendor: "Intel Corporation",
		Device: "Ethernet Connection (7) I219-LM",
	}, got["0000:00:1f.6"])
	assert.Equal(t, "TU117GLM [Quadro T1000 Mobile]", got["0000:01:00.0"].Device)
}

func TestParseLSUSB(t *testing.T) {
	got := ParseLSUSB([]byte(lsusbOutput))

	require.Len(t, got, 2)
	assert.Equal(t, v1alpha1.HostBusInfo{
		Slot:   "001:003",
		Class:  "USB device",
		Vendor: "046d",
		Device: "Logitech, Inc. Unifying Receiver",
	}, got["001:003"])
}

func TestHostBusLookups(t *testing.T) {
	calls := 0
	hb := NewHostBus("", "").WithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls++
		switch name {
		case DefaultLSPCI:
			assert.Equal(t, []string{"-D", "-vmm", "-nn"}, args)
			return []byte(lspciOutput), nil
		case DefaultLSUSB:
			return []byte(lsusbOutput), nil
		}
		return nil, errors.New("unexpected command")
	})
	ctx := context.Background()

	info, ok := hb.PCI(ctx, "0000:00:1f.6")
	require.True(t, ok)
	assert.Equal(t, "Ethernet controller", info.Class)

	usb, ok := hb.USB(ctx, 1, 3)
	require.True(t, ok)
	assert.Equal(t, "001:003", usb.Slot)

	_, ok = hb.PCI(ctx, "0000:09:00.0")
	assert.False(t, ok)
	assert.Equal(t, 2, calls, "results are cached until Refresh")

	require.NoError(t, hb.Refresh(ctx))
	assert.Equal(t, 4, calls)
}

func TestHostBusPartialFailure(t *testing.T) {
	hb := NewHostBus("/usr/sbin/lspci", "/usr/bin/lsusb").WithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if name == "/usr/bin/lsusb" {
			return nil, errors.New("lsusb: not found")
		}
		return []byte(lspciOutput), nil
	})

	err := hb.Refresh(context.Background())
	require.Error(t, err)

	_, ok := hb.PCI(context.Background(), "0000:01:00.0")
	assert.True(t, ok, "lspci results survive an lsusb failure")
}

func TestVisibility(t *testing.T) {
	var v Visibility
	assert.False(t, v.Hidden())
	v.SetHidden(true)
	assert.True(t, v.Hidden())
}

func TestServiceStatus(t *testing.T) {
	tests := []struct {
		name  string
		procs []string
		err   error
		want  bool
	}{
		{"monolithic daemon", []string{"systemd", "libvirtd"}, nil, true},
		{"modular daemon", []string{"virtqemud", "virtlogd"}, nil, true},
		{"not running", []string{"systemd", "sshd"}, nil, false},
		{"listing failed", nil, errors.New("no /proc"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServiceStatus()
			s.processNames = func(context.Context) ([]string, error) { return tt.procs, tt.err }
			assert.Equal(t, tt.want, s.Running(context.Background()))
		})
	}
}

func TestSessionAllowed(t *testing.T) {
	assert.False(t, SessionAllowed("root"))
	assert.False(t, SessionAllowed(""))
	assert.True(t, SessionAllowed("alice"))
}
