// Package loader loads the daemon configuration from a YAML file and the
// environment.
package loader

import (
	"bytes"
	"io"
	"os"

	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/virtmirror/internal/config"
)

// Load builds the configuration: defaults, then the file at path when path
// is not empty, then VIRTMIRROR_* environment overrides. The result is
// validated.
func Load(path string) (*config.Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Errorf("failed to read file %s: %w", path, err)
		}
		if err := decodeInto(cfg, data); err != nil {
			return nil, errors.Errorf("%s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// LoadFromYAML decodes data over the defaults and validates the result.
// Unknown keys are rejected.
func LoadFromYAML(data []byte) (*config.Config, error) {
	cfg := config.Default()
	if err := decodeInto(cfg, data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

func decodeInto(cfg *config.Config, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return errors.Errorf("failed to unmarshal YAML: %w", err)
	}
	return nil
}

// SaveToFile writes cfg to path, e.g. to seed a config file from defaults.
func SaveToFile(cfg *config.Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Errorf("failed to write file %s: %w", path, err)
	}

	return nil
}
