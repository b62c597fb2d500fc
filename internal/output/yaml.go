package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats records as YAML.
type YAMLFormatter struct{}

// FormatRecord formats a single record as YAML.
func (f *YAMLFormatter) FormatRecord(record any) (string, error) {
	if _, err := single(record); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record to YAML: %w", err)
	}

	return string(data), nil
}

// FormatList formats a list of records as YAML.
// Outputs as a YAML stream (multiple documents separated by ---).
func (f *YAMLFormatter) FormatList(records any) (string, error) {
	items, kind, err := flatten(records)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	for i, item := range items {
		data, err := yaml.Marshal(item)
		if err != nil {
			return "", fmt.Errorf("failed to marshal %s %d to YAML: %w", kind, i, err)
		}

		// Add document separator between records (but not before the first one)
		if i > 0 {
			buf.WriteString("---\n")
		}

		buf.Write(data)
	}

	return buf.String(), nil
}
