package output

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jbweber/virtmirror/api/v1alpha1"
)

// JSONFormatter formats records as JSON.
type JSONFormatter struct{}

// FormatRecord formats a single record as JSON.
func (f *JSONFormatter) FormatRecord(record any) (string, error) {
	if _, err := single(record); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal record to JSON: %w", err)
	}

	return string(data) + "\n", nil
}

// FormatList formats a list of records as a JSON array.
func (f *JSONFormatter) FormatList(records any) (string, error) {
	items, _, err := flatten(records)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "[]\n", nil
	}

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal records to JSON: %w", err)
	}

	return string(data) + "\n", nil
}

// FormatListAsItems formats a list of records as a JSON object with an
// items array, mimicking the Kubernetes List format:
//
//	{
//	  "apiVersion": "virtmirror.cofront.xyz/v1alpha1",
//	  "kind": "DomainList",
//	  "items": [...]
//	}
func (f *JSONFormatter) FormatListAsItems(records any) (string, error) {
	items, kind, err := flatten(records)
	if err != nil {
		return "", err
	}
	if items == nil {
		items = []any{}
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(NewList(kind, items)); err != nil {
		return "", fmt.Errorf("failed to marshal %s list to JSON: %w", kind, err)
	}

	return buf.String(), nil
}

// List is the wrapper served for record collections.
type List struct {
	v1alpha1.TypeMeta `json:",inline" yaml:",inline"`
	Items             any `json:"items" yaml:"items"`
}

// NewList wraps items in a List of kind <kind>List.
func NewList(kind string, items any) List {
	return List{
		TypeMeta: v1alpha1.TypeMeta{
			APIVersion: v1alpha1.GroupName + "/" + v1alpha1.Version,
			Kind:       kind + "List",
		},
		Items: items,
	}
}
