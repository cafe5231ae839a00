package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/mech/internal/box"
	"github.com/jbweber/mech/internal/mechfile"
)

const testCatalog = `{
  "tag": "bento/ubuntu-18.04",
  "versions": [
    {
      "version": "201912.04.0",
      "providers": [
        {"name": "vmware_desktop", "url": "https://example.com/vmware.box", "checksum": "abc", "checksum_type": "sha256"}
      ]
    }
  ]
}`

func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestAddListRemove(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalog), 0o644))

	require.NoError(t, execute(t, "add", "file:"+catalogPath, "--name", "web", "--project-dir", dir))

	store := mechfile.NewStore(dir)
	entry, err := store.Get("web")
	require.NoError(t, err)
	assert.Equal(t, "bento/ubuntu-18.04", entry.BoxOrEmpty())
	assert.Equal(t, "201912.04.0", entry.BoxVersionOrEmpty())
	assert.Equal(t, "https://example.com/vmware.box", entry.URLOrEmpty())

	require.NoError(t, execute(t, "list", "-o", "json", "--project-dir", dir))
	require.Error(t, execute(t, "list", "-o", "wide", "--project-dir", dir))

	require.NoError(t, execute(t, "remove", "web", "--project-dir", dir))
	_, err = store.Get("web")
	assert.ErrorIs(t, err, mechfile.ErrNoEntry)
}

func TestAdd_InvalidBoxName(t *testing.T) {
	dir := t.TempDir()

	err := execute(t, "add", "bento", "--name", "web", "--project-dir", dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, box.ErrInvalidBoxName))

	_, statErr := os.Stat(filepath.Join(dir, mechfile.FileName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRemove_RequiresMechfile(t *testing.T) {
	err := execute(t, "remove", "web", "--project-dir", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, mechfile.ErrNotFound)
}

func TestBoxAdd_InvalidProvider(t *testing.T) {
	err := execute(t, "box", "add", "bento/ubuntu-18.04", "--provider", "virtualbox", "--project-dir", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, box.ErrInvalidProvider)
	boxAddProvider = ""
}

func TestBoxList_Empty(t *testing.T) {
	require.NoError(t, execute(t, "box", "list", "--project-dir", t.TempDir()))
}

func TestVMXUpdate_RejectsNonPositiveResources(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "zero cpus", args: []string{"--cpus", "0"}},
		{name: "negative cpus", args: []string{"--cpus=-2"}},
		{name: "zero memsize", args: []string{"--memsize", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(func() {
				for _, name := range []string{"cpus", "memsize"} {
					f := vmxUpdateCmd.Flags().Lookup(name)
					f.Changed = false
					require.NoError(t, f.Value.Set(f.DefValue))
				}
			})

			dir := t.TempDir()
			store := mechfile.NewStore(dir)
			require.NoError(t, store.SaveEntry(mechfile.Entry{}, "web", false))

			vmxPath := filepath.Join(dir, ".mech", "web", "web.vmx")
			require.NoError(t, os.MkdirAll(filepath.Dir(vmxPath), 0o755))
			require.NoError(t, os.WriteFile(vmxPath, []byte(`numvcpus = "2"`+"\n"), 0o644))

			args := append([]string{"vmx", "update", "web", "--project-dir", dir}, tt.args...)
			err := execute(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "must be > 0")

			data, err := os.ReadFile(vmxPath)
			require.NoError(t, err)
			assert.Equal(t, `numvcpus = "2"`+"\n", string(data))

			entry, err := store.Get("web")
			require.NoError(t, err)
			assert.Nil(t, entry.CPUs)
			assert.Nil(t, entry.MemSize)
		})
	}
}
