// Package config holds the virtmirror daemon configuration.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/virtmirror/api/v1alpha1"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VIRTMIRROR_"

// Config represents the complete daemon configuration.
type Config struct {
	// Scopes are the connections to mirror.
	Scopes []v1alpha1.Scope `yaml:"scopes"`

	// URIs override the connection URI per scope, e.g. qemu+ssh://host/system.
	URIs map[v1alpha1.Scope]string `yaml:"uris,omitempty"`

	CallTimeout    Duration `yaml:"call_timeout"`
	StatsTimeout   Duration `yaml:"stats_timeout"`
	UsageInterval  Duration `yaml:"usage_interval"`
	HiddenInterval Duration `yaml:"hidden_interval"`
	WatchInterval  Duration `yaml:"watch_interval"`

	// ReconnectInterval spaces redial attempts after a daemon went away.
	ReconnectInterval Duration `yaml:"reconnect_interval"`

	// AutoPollUsage starts usage polling for every running domain.
	AutoPollUsage bool `yaml:"auto_poll_usage"`

	// Listen is the address of the HTTP read API. Empty disables it.
	Listen string `yaml:"listen"`

	Log LogConfig `yaml:"log"`

	// LSPCI and LSUSB are the host bus utilities used for node device
	// classification.
	LSPCI string `yaml:"lspci"`
	LSUSB string `yaml:"lsusb"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console, json or auto
}

// Duration is a time.Duration written as "5s" in YAML.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return errors.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Scopes:         []v1alpha1.Scope{v1alpha1.ScopeSystem},
		CallTimeout:    Duration(25 * time.Second),
		StatsTimeout:   Duration(5 * time.Second),
		UsageInterval:  Duration(time.Second),
		HiddenInterval: Duration(5 * time.Second),
		WatchInterval:  Duration(5 * time.Second),
		AutoPollUsage:  true,

		ReconnectInterval: Duration(2 * time.Second),
		Listen:         "127.0.0.1:9760",
		Log:            LogConfig{Level: "info", Format: "auto"},
		LSPCI:          "lspci",
		LSUSB:          "lsusb",
	}
}

// ApplyEnv overrides fields from VIRTMIRROR_* variables looked up with
// lookup, normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("SCOPES"); ok {
		c.Scopes = nil
		for _, s := range strings.Split(v, ",") {
			c.Scopes = append(c.Scopes, v1alpha1.Scope(strings.TrimSpace(s)))
		}
	}
	for _, scope := range []v1alpha1.Scope{v1alpha1.ScopeSystem, v1alpha1.ScopeSession} {
		if v, ok := get(strings.ToUpper(string(scope)) + "_URI"); ok {
			if c.URIs == nil {
				c.URIs = make(map[v1alpha1.Scope]string)
			}
			c.URIs[scope] = v
		}
	}

	durations := []struct {
		name string
		dst  *Duration
	}{
		{"CALL_TIMEOUT", &c.CallTimeout},
		{"STATS_TIMEOUT", &c.StatsTimeout},
		{"USAGE_INTERVAL", &c.UsageInterval},
		{"HIDDEN_INTERVAL", &c.HiddenInterval},
		{"WATCH_INTERVAL", &c.WatchInterval},
		{"RECONNECT_INTERVAL", &c.ReconnectInterval},
	}
	for _, d := range durations {
		v, ok := get(d.name)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return errors.Errorf("%s%s: %w", EnvPrefix, d.name, err)
		}
		*d.dst = Duration(parsed)
	}

	if v, ok := get("AUTO_POLL_USAGE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Errorf("%sAUTO_POLL_USAGE: %w", EnvPrefix, err)
		}
		c.AutoPollUsage = b
	}
	if v, ok := lookup(EnvPrefix + "LISTEN"); ok {
		c.Listen = strings.TrimSpace(v)
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	if v, ok := get("LSPCI"); ok {
		c.LSPCI = v
	}
	if v, ok := get("LSUSB"); ok {
		c.LSUSB = v
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Scopes) == 0 {
		return errors.New("at least one scope is required")
	}
	seen := make(map[v1alpha1.Scope]bool)
	for i, s := range c.Scopes {
		if !s.Valid() {
			return errors.Errorf("scopes[%d]: unknown scope %q", i, s)
		}
		if seen[s] {
			return errors.Errorf("scopes[%d]: duplicate scope %q", i, s)
		}
		seen[s] = true
	}
	for s := range c.URIs {
		if !s.Valid() {
			return errors.Errorf("uris: unknown scope %q", s)
		}
	}

	durations := []struct {
		name string
		d    Duration
	}{
		{"call_timeout", c.CallTimeout},
		{"stats_timeout", c.StatsTimeout},
		{"usage_interval", c.UsageInterval},
		{"hidden_interval", c.HiddenInterval},
		{"watch_interval", c.WatchInterval},
		{"reconnect_interval", c.ReconnectInterval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return errors.Errorf("%s must be > 0, got %s", d.name, d.d.D())
		}
	}

	if c.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Listen); err != nil {
			return errors.Errorf("listen: %w", err)
		}
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return errors.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "", "auto", "console", "json":
	default:
		return errors.Errorf("log.format must be auto, console or json, got %q", c.Log.Format)
	}
	return nil
}
