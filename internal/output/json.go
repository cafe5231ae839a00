package output

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jbweber/mech/internal/box"
	"github.com/jbweber/mech/internal/mechfile"
)

// JSONFormatter formats resources as JSON.
type JSONFormatter struct{}

// FormatEntry formats a single entry as JSON.
func (f *JSONFormatter) FormatEntry(_ string, entry mechfile.Entry) (string, error) {
	raw, err := entry.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry to JSON: %w", err)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", fmt.Errorf("failed to indent entry JSON: %w", err)
	}
	buf.WriteString("\n")

	return buf.String(), nil
}

// FormatMechfile formats the Mechfile exactly as it is stored.
func (f *JSONFormatter) FormatMechfile(m mechfile.Mechfile) (string, error) {
	data, err := mechfile.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal mechfile to JSON: %w", err)
	}

	return string(data) + "\n", nil
}

// FormatBoxes formats cached boxes as a JSON array.
func (f *JSONFormatter) FormatBoxes(boxes []box.CachedBox) (string, error) {
	data, err := json.MarshalIndent(boxViews(boxes), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal boxes to JSON: %w", err)
	}

	return string(data) + "\n", nil
}
