package output

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/mech/internal/box"
	"github.com/jbweber/mech/internal/mechfile"
)

// YAMLFormatter formats resources as YAML.
type YAMLFormatter struct{}

// FormatEntry formats a single entry as a YAML mapping keyed by name.
func (f *YAMLFormatter) FormatEntry(name string, entry mechfile.Entry) (string, error) {
	return f.FormatMechfile(mechfile.Mechfile{name: entry})
}

// FormatMechfile formats the Mechfile as one YAML mapping. Keys match the
// stored JSON.
func (f *YAMLFormatter) FormatMechfile(m mechfile.Mechfile) (string, error) {
	if len(m) == 0 {
		return "{}\n", nil
	}

	raw, err := mechfile.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal mechfile: %w", err)
	}

	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("failed to convert mechfile: %w", err)
	}

	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal mechfile to YAML: %w", err)
	}

	return string(data), nil
}

// FormatBoxes formats cached boxes as a YAML sequence.
func (f *YAMLFormatter) FormatBoxes(boxes []box.CachedBox) (string, error) {
	if len(boxes) == 0 {
		return "[]\n", nil
	}

	data, err := yaml.Marshal(boxViews(boxes))
	if err != nil {
		return "", fmt.Errorf("failed to marshal boxes to YAML: %w", err)
	}

	return string(data), nil
}
