package output

import (
	"strings"
	"testing"

	"github.com/siderolabs/go-pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/mech/internal/box"
	"github.com/jbweber/mech/internal/mechfile"
)

// createTestEntry creates a Mechfile entry for testing.
func createTestEntry(name string) mechfile.Entry {
	return mechfile.Entry{
		Name:          pointer.To(name),
		Box:           pointer.To("bento/ubuntu-18.04"),
		BoxVersion:    pointer.To("201912.04.0"),
		URL:           pointer.To("https://example.com/a.box?x=1&y=2"),
		SharedFolders: mechfile.DefaultSharedFolders(),
	}
}

func testMechfile() mechfile.Mechfile {
	second := createTestEntry("second")
	second.UsePSK = true
	second.URL = nil
	return mechfile.Mechfile{
		"second": second,
		"first":  createTestEntry("first"),
	}
}

func testBoxes() []box.CachedBox {
	return []box.CachedBox{
		{Box: "bento/ubuntu-18.04", Version: "201912.04.0", Path: "/p/.mech/boxes/bento/ubuntu-18.04/201912.04.0", Size: 1536 * 1000 * 1000},
		{Box: "bento/centos-7", Version: "1.0.0", Path: "/p/.mech/boxes/bento/centos-7/1.0.0", Size: 2048},
	}
}

func TestTableFormatter_FormatMechfile(t *testing.T) {
	out, err := (&TableFormatter{}).FormatMechfile(testMechfile())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.True(t, strings.HasPrefix(lines[1], "first"))
	assert.True(t, strings.HasPrefix(lines[2], "second"))
	assert.Contains(t, lines[1], "bento/ubuntu-18.04")
	assert.Contains(t, lines[1], "201912.04.0")
	assert.Contains(t, lines[2], "yes")
	assert.True(t, strings.HasSuffix(lines[2], "-"))
}

func TestTableFormatter_NoHeaders(t *testing.T) {
	out, err := (&TableFormatter{NoHeaders: true}).FormatEntry("first", createTestEntry("first"))
	require.NoError(t, err)
	assert.NotContains(t, out, "NAME")
	assert.True(t, strings.HasPrefix(out, "first"))
}

func TestTableFormatter_Empty(t *testing.T) {
	out, err := (&TableFormatter{}).FormatMechfile(mechfile.Mechfile{})
	require.NoError(t, err)
	assert.Equal(t, "No instances found\n", out)

	out, err = (&TableFormatter{}).FormatBoxes(nil)
	require.NoError(t, err)
	assert.Equal(t, "No boxes found\n", out)
}

func TestTableFormatter_FormatBoxes(t *testing.T) {
	out, err := (&TableFormatter{}).FormatBoxes(testBoxes())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"BOX", "VERSION", "SIZE"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"bento/ubuntu-18.04", "201912.04.0", "1.5", "GB"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"bento/centos-7", "1.0.0", "2.0", "kB"}, strings.Fields(lines[2]))
}

func TestJSONFormatter_FormatMechfile(t *testing.T) {
	m := testMechfile()
	out, err := (&JSONFormatter{}).FormatMechfile(m)
	require.NoError(t, err)

	stored, err := mechfile.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, string(stored)+"\n", out)
}

func TestJSONFormatter_FormatEntry(t *testing.T) {
	out, err := (&JSONFormatter{}).FormatEntry("first", createTestEntry("first"))
	require.NoError(t, err)
	assert.Contains(t, out, "\n  \"box\": \"bento/ubuntu-18.04\",\n")
	assert.Contains(t, out, "a.box?x=1&y=2")
	assert.True(t, strings.HasSuffix(out, "}\n"))
}

func TestJSONFormatter_FormatBoxes(t *testing.T) {
	out, err := (&JSONFormatter{}).FormatBoxes(testBoxes())
	require.NoError(t, err)
	assert.Contains(t, out, `"box": "bento/centos-7"`)
	assert.Contains(t, out, `"size": 2048`)

	out, err = (&JSONFormatter{}).FormatBoxes(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestYAMLFormatter_FormatMechfile(t *testing.T) {
	out, err := (&YAMLFormatter{}).FormatMechfile(testMechfile())
	require.NoError(t, err)

	var parsed map[string]map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &parsed))
	require.Contains(t, parsed, "first")
	assert.Equal(t, "bento/ubuntu-18.04", parsed["first"]["box"])
	assert.Equal(t, true, parsed["second"]["use_psk"])
	assert.Nil(t, parsed["second"]["url"])
}

func TestYAMLFormatter_Empty(t *testing.T) {
	out, err := (&YAMLFormatter{}).FormatMechfile(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", out)

	out, err = (&YAMLFormatter{}).FormatBoxes(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestYAMLFormatter_FormatBoxes(t *testing.T) {
	out, err := (&YAMLFormatter{}).FormatBoxes(testBoxes())
	require.NoError(t, err)
	assert.Contains(t, out, "- box: bento/ubuntu-18.04\n")
	assert.Contains(t, out, "  version: 1.0.0\n")
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format  Format
		want    any
		wantErr bool
	}{
		{format: FormatTable, want: &TableFormatter{}},
		{format: FormatYAML, want: &YAMLFormatter{}},
		{format: FormatJSON, want: &JSONFormatter{}},
		{format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			f, err := NewFormatter(Options{Format: tt.format})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, f)
		})
	}
}

func TestValidateFormat(t *testing.T) {
	for _, f := range []string{"table", "yaml", "json"} {
		assert.NoError(t, ValidateFormat(f))
	}
	assert.Error(t, ValidateFormat("wide"))
}
