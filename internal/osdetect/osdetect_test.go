package osdetect

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kdomanski/iso9660"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// buildISO writes an ISO image with the given label and root files.
func buildISO(t *testing.T, label string, files map[string]string) string {
	t.Helper()
	writer, err := iso9660.NewWriter()
	require.NoError(t, err)
	defer func() { _ = writer.Cleanup() }()

	for name, content := range files {
		require.NoError(t, writer.AddFile(bytes.NewReader([]byte(content)), name))
	}
	var buf bytes.Buffer
	require.NoError(t, writer.WriteTo(&buf, label))
	return writeFile(t, "media.iso", buf.Bytes())
}

func TestDetectFormat(t *testing.T) {
	qcow2 := append([]byte{0x51, 0x46, 0x49, 0xfb, 0x00, 0x00, 0x00, 0x03}, make([]byte, 504)...)
	raw := make([]byte, 1024)
	raw[510], raw[511] = 0x55, 0xaa

	tests := []struct {
		name    string
		data    []byte
		want    Format
		wantErr bool
	}{
		{name: "qcow2 magic", data: qcow2, want: FormatQCOW2},
		{name: "raw boot sector", data: raw, want: FormatRaw},
		{name: "zeros", data: make([]byte, 1024), wantErr: true},
		{name: "tiny", data: []byte{1, 2}, wantErr: true},
		{name: "no boot sector", data: make([]byte, 100), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormat(bytes.NewReader(tt.data))
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnsupported), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectISO(t *testing.T) {
	path := buildISO(t, "FEDORA-WS-LIVE-39-1-5", map[string]string{"readme": "hello"})

	res, err := Detect(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, FormatISO, res.Format)
	assert.Equal(t, "FEDORA-WS-LIVE-39-1-5", res.Label)
	require.NotNil(t, res.OS)
	assert.Equal(t, OS{ID: "fedora", Version: "39", Family: "linux"}, *res.OS)
}

func TestDetectUnknownISO(t *testing.T) {
	path := buildISO(t, "CIDATA", map[string]string{"user-data": "#cloud-config\n"})

	res, err := Detect(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, FormatISO, res.Format)
	assert.Nil(t, res.OS, "a cloud-init seed is not an installer")
}

func TestDetectMissingFile(t *testing.T) {
	_, err := Detect(context.Background(), filepath.Join(t.TempDir(), "missing.iso"))
	assert.Error(t, err)
}

func TestIdentify(t *testing.T) {
	tests := []struct {
		name  string
		media media
		want  *OS
	}{
		{
			name: "treeinfo wins over label",
			media: media{
				label:    "RHEL-9-2-0-BaseOS-x86_64",
				treeinfo: "[general]\nfamily = Red Hat Enterprise Linux\nversion = 9.2\n",
			},
			want: &OS{ID: "rhel", Version: "9.2", Family: "linux"},
		},
		{
			name: "treeinfo release section",
			media: media{
				treeinfo: "[header]\nversion = 1.2\n[release]\nname = Fedora\nversion = 40\n",
			},
			want: &OS{ID: "fedora", Version: "40", Family: "linux"},
		},
		{
			name:  "disk info",
			media: media{diskinfo: `Ubuntu-Server 22.04.3 LTS "Jammy Jellyfish" - Release amd64 (20230810)`},
			want:  &OS{ID: "ubuntu", Version: "22.04.3", Family: "linux"},
		},
		{
			name:  "rhel label",
			media: media{label: "RHEL-9-2-0-BaseOS-x86_64"},
			want:  &OS{ID: "rhel", Version: "9.2.0", Family: "linux"},
		},
		{
			name:  "debian label",
			media: media{label: "Debian 12.2.0 amd64 n"},
			want:  &OS{ID: "debian", Version: "12.2.0", Family: "linux"},
		},
		{
			name:  "arch is rolling",
			media: media{label: "ARCH_202310"},
			want:  &OS{ID: "archlinux", Family: "linux"},
		},
		{
			name:  "windows label",
			media: media{label: "CCCOMA_X64FRE_EN-US_DV9"},
			want:  &OS{ID: "win", Family: "windows"},
		},
		{
			name:  "windows layout",
			media: media{label: "INSTALL", names: map[string]bool{"sources": true, "bootmgr": true}},
			want:  &OS{ID: "win", Family: "windows"},
		},
		{
			name:  "casper layout",
			media: media{label: "LIVE", names: map[string]bool{"casper": true}},
			want:  &OS{ID: "ubuntu", Family: "linux"},
		},
		{
			name:  "nothing known",
			media: media{label: "DATA", names: map[string]bool{"docs": true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, identify(tt.media))
		})
	}
}

func TestTrackerReplacesOutstandingDetection(t *testing.T) {
	started := make(chan struct{})
	tracker := NewTracker().WithDetectFunc(func(ctx context.Context, path string) (Result, error) {
		if path == "slow" {
			close(started)
			<-ctx.Done()
			return Result{}, ctx.Err()
		}
		return Result{Path: path, Format: FormatRaw}, nil
	})

	errc := make(chan error, 1)
	go func() {
		_, err := tracker.Detect(context.Background(), "slow")
		errc <- err
	}()
	<-started

	res, err := tracker.Detect(context.Background(), "fast")
	require.NoError(t, err)
	assert.Equal(t, "fast", res.Path)

	select {
	case err := <-errc:
		assert.True(t, IsCancelled(err), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("replaced detection did not resolve")
	}
}

func TestTrackerCallerCancellationIsNotReplacement(t *testing.T) {
	tracker := NewTracker().WithDetectFunc(func(ctx context.Context, path string) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tracker.Detect(ctx, "any")
	require.Error(t, err)
	assert.False(t, IsCancelled(err))
	assert.True(t, errors.Is(err, context.Canceled))
}
