// Package output provides formatters for displaying virtmirror records
// in various formats (table, YAML, JSON).
package output

import (
	"fmt"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/osdetect"
)

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable table format.
	FormatTable Format = "table"
	// FormatYAML is a YAML format.
	FormatYAML Format = "yaml"
	// FormatJSON is a JSON format for machine consumption.
	FormatJSON Format = "json"
)

// Formatter formats records for output.
//
// Records are *v1alpha1.Domain, *v1alpha1.Network, *v1alpha1.StoragePool,
// *v1alpha1.NodeDevice, *v1alpha1.Interface or osdetect.Result. Lists are
// slices of those.
type Formatter interface {
	// FormatRecord formats a single record.
	FormatRecord(record any) (string, error)

	// FormatList formats a list of records of one kind.
	FormatList(records any) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	// Format specifies the output format.
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
	// Color enables state coloring in table format.
	Color bool
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable:
		return &TableFormatter{NoHeaders: opts.NoHeaders, Color: opts.Color}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", opts.Format)
	}
}

// ValidateFormat checks if a format string is valid.
func ValidateFormat(format string) error {
	f := Format(format)
	switch f {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: table, yaml, json)", format)
	}
}

// flatten turns a supported slice into its elements and the record kind.
func flatten(records any) ([]any, string, error) {
	var out []any
	var kind string
	switch rs := records.(type) {
	case []*v1alpha1.Domain:
		kind = v1alpha1.DomainKind
		for _, r := range rs {
			out = append(out, r)
		}
	case []*v1alpha1.Network:
		kind = v1alpha1.NetworkKind
		for _, r := range rs {
			out = append(out, r)
		}
	case []*v1alpha1.StoragePool:
		kind = v1alpha1.StoragePoolKind
		for _, r := range rs {
			out = append(out, r)
		}
	case []*v1alpha1.NodeDevice:
		kind = v1alpha1.NodeDeviceKind
		for _, r := range rs {
			out = append(out, r)
		}
	case []*v1alpha1.Interface:
		kind = v1alpha1.InterfaceKind
		for _, r := range rs {
			out = append(out, r)
		}
	case []osdetect.Result:
		kind = "OSDetection"
		for _, r := range rs {
			out = append(out, r)
		}
	default:
		return nil, "", fmt.Errorf("unsupported record list type %T", records)
	}
	return out, kind, nil
}

// single wraps one record into the matching slice type.
func single(record any) (any, error) {
	switch r := record.(type) {
	case *v1alpha1.Domain:
		return []*v1alpha1.Domain{r}, nil
	case *v1alpha1.Network:
		return []*v1alpha1.Network{r}, nil
	case *v1alpha1.StoragePool:
		return []*v1alpha1.StoragePool{r}, nil
	case *v1alpha1.NodeDevice:
		return []*v1alpha1.NodeDevice{r}, nil
	case *v1alpha1.Interface:
		return []*v1alpha1.Interface{r}, nil
	case osdetect.Result:
		return []osdetect.Result{r}, nil
	case *osdetect.Result:
		return []osdetect.Result{*r}, nil
	default:
		return nil, fmt.Errorf("unsupported record type %T", record)
	}
}
