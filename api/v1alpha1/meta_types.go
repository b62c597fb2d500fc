// Package v1alpha1 contains the record types virtmirror keeps for the
// libvirt objects it mirrors: domains, networks, storage pools, node
// devices and host interfaces.
//
// The shapes follow Kubernetes API conventions (TypeMeta/ObjectMeta, JSON
// and YAML tags that match) without depending on k8s.io/apimachinery, so
// the records can be served over the HTTP API or printed by the CLI as-is.
package v1alpha1

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"
)

// TypeMeta describes an individual record's kind and API version.
type TypeMeta struct {
	// Kind is the record kind in CamelCase, e.g. "Domain".
	// +optional
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`

	// APIVersion is always GroupName/Version for records produced by the store.
	// +optional
	APIVersion string `json:"apiVersion,omitempty" yaml:"apiVersion,omitempty"`
}

// ObjectMeta is the identity metadata shared by every record.
type ObjectMeta struct {
	// Name is the libvirt name of the object. Unique per scope and kind.
	// +optional
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// UID is the libvirt UUID for objects that have one (domains,
	// networks, storage pools). Empty for node devices and interfaces.
	// +optional
	UID string `json:"uid,omitempty" yaml:"uid,omitempty"`
}

// Time is a time.Time serialized as RFC3339, or null when zero, so an
// unsampled record does not show the year 1.
type Time struct {
	time.Time `json:"-" yaml:"-"`
}

// MarshalJSON implements the json.Marshaler interface.
// Returns RFC3339 formatted timestamp or null for zero values.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
// Parses RFC3339 formatted timestamp or null.
func (t *Time) UnmarshalJSON(b []byte) error {
	if string(b) == "null" || string(b) == `""` {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// MarshalYAML implements the yaml.Marshaler interface.
func (t Time) MarshalYAML() (interface{}, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.Time.Format(time.RFC3339), nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (t *Time) UnmarshalYAML(node *yaml.Node) error {
	if node.Value == "" || node.Value == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, node.Value)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}
