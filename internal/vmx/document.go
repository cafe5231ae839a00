// Package vmx reads and patches VMware's per-VM configuration files.
//
// A .vmx file is a flat list of `key = value` lines. Values keep their
// surrounding quotes verbatim so that untouched settings are written back
// byte-for-byte. Blank lines and comments are not preserved: the document is
// a patch format, not a full-fidelity editor.
package vmx

import (
	"strings"
)

// Document is an ordered mapping of vmx keys to raw values.
// Keys are case-sensitive and may contain dots.
type Document struct {
	keys   []string
	values map[string]string
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{values: make(map[string]string)}
}

// Parse builds a Document from vmx text.
//
// Each line is split on the first '='; surrounding whitespace is trimmed from
// both halves. Lines without '=' or with an empty key are skipped. A key that
// appears twice keeps its first position and its last value.
func Parse(text string) *Document {
	doc := NewDocument()

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}

		doc.Set(key, strings.TrimSpace(value))
	}

	return doc
}

// Get returns the raw value stored for key.
func (d *Document) Get(key string) (string, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Set upserts key. New keys are appended after existing ones.
// It reports whether the document changed.
func (d *Document) Set(key, value string) bool {
	if d.values == nil {
		d.values = make(map[string]string)
	}

	old, ok := d.values[key]
	if ok && old == value {
		return false
	}
	if !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value

	return true
}

// Keys returns the keys in document order.
func (d *Document) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Len returns the number of entries.
func (d *Document) Len() int {
	return len(d.keys)
}

// String serializes the document as `key = value` lines, each terminated by
// a newline. An empty document serializes to the empty string.
func (d *Document) String() string {
	var b strings.Builder
	for _, k := range d.keys {
		b.WriteString(k)
		b.WriteString(" = ")
		b.WriteString(d.values[k])
		b.WriteString("\n")
	}
	return b.String()
}
