package config

import (
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/virtmirror/api/v1alpha1"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"no scopes", func(c *Config) { c.Scopes = nil }, "at least one scope"},
		{"bad scope", func(c *Config) { c.Scopes = []v1alpha1.Scope{"remote"} }, "unknown scope"},
		{"duplicate scope", func(c *Config) {
			c.Scopes = []v1alpha1.Scope{v1alpha1.ScopeSystem, v1alpha1.ScopeSystem}
		}, "duplicate scope"},
		{"bad uri scope", func(c *Config) { c.URIs = map[v1alpha1.Scope]string{"remote": "qemu:///x"} }, "uris"},
		{"zero call timeout", func(c *Config) { c.CallTimeout = 0 }, "call_timeout"},
		{"negative hidden interval", func(c *Config) { c.HiddenInterval = Duration(-time.Second) }, "hidden_interval"},
		{"zero reconnect interval", func(c *Config) { c.ReconnectInterval = 0 }, "reconnect_interval"},
		{"bad listen", func(c *Config) { c.Listen = "localhost" }, "listen"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"listen disabled", func(c *Config) { c.Listen = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"VIRTMIRROR_SCOPES":          "system, session",
		"VIRTMIRROR_SESSION_URI":     "qemu:///session?socket=/run/user/1000/libvirt/virtqemud-sock",
		"VIRTMIRROR_STATS_TIMEOUT":   "2s",
		"VIRTMIRROR_AUTO_POLL_USAGE": "false",
		"VIRTMIRROR_LISTEN":          "",
		"VIRTMIRROR_LOG_LEVEL":       "trace",
		"VIRTMIRROR_LSPCI":           "/usr/sbin/lspci",
	}
	c := Default()
	err := c.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if len(c.Scopes) != 2 || c.Scopes[1] != v1alpha1.ScopeSession {
		t.Errorf("unexpected scopes: %v", c.Scopes)
	}
	if !strings.HasPrefix(c.URIs[v1alpha1.ScopeSession], "qemu:///session") {
		t.Errorf("unexpected session URI: %q", c.URIs[v1alpha1.ScopeSession])
	}
	if c.StatsTimeout.D() != 2*time.Second {
		t.Errorf("expected stats_timeout 2s, got %s", c.StatsTimeout.D())
	}
	if c.AutoPollUsage {
		t.Error("expected auto_poll_usage false")
	}
	if c.Listen != "" {
		t.Errorf("an empty listen variable disables the API, got %q", c.Listen)
	}
	if c.Log.Level != "trace" {
		t.Errorf("expected log level trace, got %q", c.Log.Level)
	}
	if c.LSPCI != "/usr/sbin/lspci" {
		t.Errorf("unexpected lspci: %q", c.LSPCI)
	}
	if c.LSUSB != "lsusb" {
		t.Errorf("unset variables keep defaults, got lsusb %q", c.LSUSB)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	tests := map[string]string{
		"VIRTMIRROR_CALL_TIMEOUT":    "forever",
		"VIRTMIRROR_AUTO_POLL_USAGE": "maybe",
	}
	for k, v := range tests {
		t.Run(k, func(t *testing.T) {
			err := Default().ApplyEnv(func(name string) (string, bool) {
				if name == k {
					return v, true
				}
				return "", false
			})
			if err == nil || !strings.Contains(err.Error(), k) {
				t.Errorf("expected error naming %s, got %v", k, err)
			}
		})
	}
}

func TestDuration_YAML(t *testing.T) {
	var out struct {
		D Duration `yaml:"d"`
	}
	if err := yaml.Unmarshal([]byte("d: 1m30s\n"), &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out.D.D() != 90*time.Second {
		t.Errorf("expected 90s, got %s", out.D.D())
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.TrimSpace(string(data)) != "d: 1m30s" {
		t.Errorf("unexpected YAML: %q", data)
	}

	if err := yaml.Unmarshal([]byte("d: later\n"), &out); err == nil {
		t.Error("expected error for invalid duration")
	}
}
