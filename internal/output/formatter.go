// Package output provides formatters for displaying Mechfile entries and
// cached boxes in various formats (table, YAML, JSON).
package output

import (
	"fmt"

	"github.com/jbweber/mech/internal/box"
	"github.com/jbweber/mech/internal/mechfile"
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

// Formatter formats mech resources for output.
type Formatter interface {
	// FormatEntry formats a single named Mechfile entry.
	FormatEntry(name string, entry mechfile.Entry) (string, error)

	// FormatMechfile formats every entry, sorted by name.
	FormatMechfile(m mechfile.Mechfile) (string, error)

	// FormatBoxes formats cached boxes.
	FormatBoxes(boxes []box.CachedBox) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	// Format specifies the output format.
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable:
		return &TableFormatter{NoHeaders: opts.NoHeaders}, nil
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

// boxView is the serialized form of a cached box.
type boxView struct {
	Box     string `json:"box" yaml:"box"`
	Version string `json:"version" yaml:"version"`
	Path    string `json:"path" yaml:"path"`
	Size    int64  `json:"size" yaml:"size"`
}

func boxViews(boxes []box.CachedBox) []boxView {
	views := make([]boxView, 0, len(boxes))
	for _, b := range boxes {
		views = append(views, boxView{Box: b.Box, Version: b.Version, Path: b.Path, Size: b.Size})
	}
	return views
}
