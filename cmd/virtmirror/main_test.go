package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/agent"
	"github.com/jbweber/virtmirror/internal/config"
	"github.com/jbweber/virtmirror/internal/libvirt"
	"github.com/jbweber/virtmirror/internal/libvirt/libvirttest"
)

type noHostBus struct{}

func (noHostBus) PCI(context.Context, string) (*v1alpha1.HostBusInfo, bool) { return nil, false }
func (noHostBus) USB(context.Context, uint, uint) (*v1alpha1.HostBusInfo, bool) {
	return nil, false
}

// execute runs the root command against fake and returns what it printed.
func execute(t *testing.T, fake *libvirttest.Hypervisor, args ...string) (string, error) {
	t.Helper()
	configPath, logLevel, outputFormat, noHeaders = "", "", "table", false
	t.Setenv("VIRTMIRROR_SCOPES", "system")

	orig := openAgent
	openAgent = func(ctx context.Context) *agent.Agent {
		return agent.New(ctx, cfg,
			agent.WithDial(func(context.Context, v1alpha1.Scope, string) (libvirt.Hypervisor, error) {
				return fake, nil
			}),
			agent.WithHostBus(noHostBus{}),
			agent.WithCurrentUser(func() (string, error) { return "alice", nil }),
		)
	}
	t.Cleanup(func() { openAgent = orig })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newFake() *libvirttest.Hypervisor {
	fake := libvirttest.New()
	fake.AddDomain("web")
	fake.AddRunningDomain("db", true)
	fake.AddNetwork("default", "virbr0")
	return fake
}

func TestListCommand(t *testing.T) {
	fake := newFake()

	out, err := execute(t, fake, "list", "vm")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Contains(t, out, "db")
	assert.Contains(t, out, "web")

	out, err = execute(t, fake, "list", "domains", "-o", "json")
	require.NoError(t, err)
	var domains []v1alpha1.Domain
	require.NoError(t, json.Unmarshal([]byte(out), &domains))
	require.Len(t, domains, 2)
	assert.Equal(t, "db", domains[0].Name)
	assert.Equal(t, v1alpha1.DomainStateRunning, domains[0].State)

	out, err = execute(t, fake, "list", "net", "--no-headers")
	require.NoError(t, err)
	assert.NotContains(t, out, "NAME")
	assert.Contains(t, out, "virbr0")

	_, err = execute(t, fake, "list", "volumes")
	assert.Error(t, err)

	_, err = execute(t, fake, "list", "vm", "-o", "xml")
	assert.Error(t, err)
}

func TestGetCommand(t *testing.T) {
	fake := newFake()

	out, err := execute(t, fake, "get", "vm", "web", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "name: web")
	assert.Contains(t, out, "state: shut off")

	_, err = execute(t, fake, "get", "vm", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `Domain "nope" not found`)
}

func TestActionCommand(t *testing.T) {
	fake := newFake()

	out, err := execute(t, fake, "action", "vm", "web", "start", "-o", "json")
	require.NoError(t, err)
	var d v1alpha1.Domain
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, v1alpha1.DomainStateRunning, d.State)
	assert.Equal(t, 1, fake.CallCount("DomainCreate"))

	_, err = execute(t, fake, "action", "vm", "web", "explode")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supported: forceoff, nmi")

	_, err = execute(t, fake, "action", "net", "default", "deactivate")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.CallCount("NetworkDestroy"))

	fake.AddInterface("eth0", "52:54:00:00:00:01")
	_, err = execute(t, fake, "action", "iface", "eth0", "start")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no actions")
}

func TestAutostartCommand(t *testing.T) {
	fake := newFake()

	out, err := execute(t, fake, "autostart", "db", "on", "-o", "json")
	require.NoError(t, err)
	var d v1alpha1.Domain
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.True(t, d.Autostart)

	_, err = execute(t, fake, "autostart", "db", "maybe")
	assert.Error(t, err)
}

func TestAttachCommand(t *testing.T) {
	fake := newFake()
	dir := t.TempDir()
	disk := filepath.Join(dir, "disk.xml")
	require.NoError(t, os.WriteFile(disk, []byte(`<disk type="file" device="disk"><source file="/tmp/x.qcow2"/><target dev="vdb" bus="virtio"/></disk>`), 0o644))

	_, err := execute(t, fake, "attach", "db", disk)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.CallCount("DomainAttachDevice"))

	_, err = execute(t, fake, "detach", "db", disk)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.CallCount("DomainDetachDevice"))

	_, err = execute(t, fake, "attach", "db", filepath.Join(dir, "missing.xml"))
	assert.Error(t, err)
}

func TestDeleteCommand(t *testing.T) {
	fake := newFake()

	out, err := execute(t, fake, "delete", "web")
	require.NoError(t, err)
	assert.Contains(t, out, "Domain web deleted")
	assert.Nil(t, fake.Domain("web"))
}

func TestTestConnCommand(t *testing.T) {
	fake := newFake()

	out, err := execute(t, fake, "test-conn")
	require.NoError(t, err)
	assert.Contains(t, out, "Libvirt version: 10.0.0")

	fake.FailOn("ConnectGetLibVersion", libvirt.ErrClosed)
	out, err = execute(t, fake, "test-conn")
	require.Error(t, err)
	assert.Contains(t, out, "✗")
}

func TestDetectOSCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.qcow2")
	require.NoError(t, os.WriteFile(path, append([]byte{0x51, 0x46, 0x49, 0xfb}, make([]byte, 508)...), 0o644))

	out, err := execute(t, libvirttest.New(), "detect-os", path, "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"format": "qcow2"`)

	_, err = execute(t, libvirttest.New(), "detect-os", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.LogConfig{Level: "info", Format: "auto"}, &buf, false)
	require.NoError(t, err)
	logger.Debug().Msg("hidden")
	logger.Info().Str("scope", "system").Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"scope":"system"`)

	buf.Reset()
	logger, err = newLogger(config.LogConfig{Level: "debug", Format: "auto"}, &buf, true)
	require.NoError(t, err)
	logger.Debug().Msg("console")
	assert.Contains(t, buf.String(), "console")
	assert.NotContains(t, buf.String(), `"message"`)

	_, err = newLogger(config.LogConfig{Level: "loud"}, &buf, false)
	assert.Error(t, err)
	_, err = newLogger(config.LogConfig{Level: "info", Format: "xml"}, &buf, false)
	assert.Error(t, err)
}

func TestFormatLibVersion(t *testing.T) {
	assert.Equal(t, "8.6.0", formatLibVersion(8006000))
	assert.Equal(t, "10.10.1", formatLibVersion(10010001))
}

func TestParseSwitch(t *testing.T) {
	for in, want := range map[string]bool{"on": true, "yes": true, "true": true, "OFF": false, "no": false, "0": false} {
		got, err := parseSwitch(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseSwitch("maybe")
	assert.Error(t, err)
}
