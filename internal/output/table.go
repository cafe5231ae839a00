package output

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/ryanuber/columnize"

	"github.com/jbweber/mech/internal/box"
	"github.com/jbweber/mech/internal/mechfile"
)

// TableFormatter formats resources as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatEntry formats a single entry as a table row.
func (f *TableFormatter) FormatEntry(name string, entry mechfile.Entry) (string, error) {
	return f.FormatMechfile(mechfile.Mechfile{name: entry})
}

// FormatMechfile formats the Mechfile as a table.
func (f *TableFormatter) FormatMechfile(m mechfile.Mechfile) (string, error) {
	if len(m) == 0 {
		return "No instances found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tBOX\tVERSION\tPSK\tSOURCE")
	}

	for _, name := range m.Names() {
		entry := m[name]
		psk := "no"
		if entry.UsePSK {
			psk = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			name,
			orDash(entry.BoxOrEmpty()),
			orDash(entry.BoxVersionOrEmpty()),
			psk,
			orDash(entry.URLOrEmpty()))
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatBoxes formats cached boxes with human-readable sizes.
func (f *TableFormatter) FormatBoxes(boxes []box.CachedBox) (string, error) {
	if len(boxes) == 0 {
		return "No boxes found\n", nil
	}

	lines := make([]string, 0, len(boxes)+1)
	if !f.NoHeaders {
		lines = append(lines, "BOX | VERSION | SIZE")
	}
	for _, b := range boxes {
		lines = append(lines, strings.Join([]string{b.Box, b.Version, humanize.Bytes(uint64(b.Size))}, " | "))
	}

	return columnize.SimpleFormat(lines) + "\n", nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
