package instance

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/siderolabs/go-pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/mech/internal/mechfile"
)

func TestNew_Defaults(t *testing.T) {
	project := t.TempDir()

	inst, err := New(project, "first", mechfile.Entry{Name: pointer.To("first")})
	require.NoError(t, err)
	assert.Equal(t, "first", inst.Name)
	assert.Equal(t, filepath.Join(project, ".mech", "first"), inst.Dir)
	assert.Equal(t, DefaultUser, inst.User)
	assert.Equal(t, DefaultPassword, inst.Password)
	assert.False(t, inst.Created())
	assert.Empty(t, inst.VMX)
}

func TestNew_NameFromEntry(t *testing.T) {
	inst, err := New(t.TempDir(), "", mechfile.Entry{Name: pointer.To("second")})
	require.NoError(t, err)
	assert.Equal(t, "second", inst.Name)
}

func TestNew_KeepsEntryFields(t *testing.T) {
	entry := mechfile.Entry{
		User:      "bob",
		Password:  "secret",
		UsePSK:    true,
		Auth:      &mechfile.Auth{Username: "bart", PubKey: "/home/bart/.ssh/id_rsa.pub"},
		Provision: []mechfile.ProvisionStep{{Type: "file", Source: "a", Destination: "b"}},
		CPUs:      pointer.To(2),
		MemSize:   pointer.To(1024),
	}

	inst, err := New(t.TempDir(), "first", entry)
	require.NoError(t, err)
	assert.Equal(t, "bob", inst.User)
	assert.Equal(t, "secret", inst.Password)
	assert.True(t, inst.UsePSK)
	assert.Equal(t, "bart", inst.Auth.Username)
	assert.Len(t, inst.Provision, 1)
	assert.Equal(t, 2, *inst.Resources.CPUs)
	assert.Equal(t, 1024, *inst.Resources.MemoryMB)
}

func TestNew_LocatesVMX(t *testing.T) {
	project := t.TempDir()
	dir := filepath.Join(project, ".mech", "first", "one")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, ".mech", "first", "b.vmx"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(project, ".mech", "first", "a.vmx"), nil, 0o644))

	inst, err := New(project, "first", mechfile.Entry{})
	require.NoError(t, err)
	assert.True(t, inst.Created())
	assert.Equal(t, filepath.Join(project, ".mech", "first", "a.vmx"), inst.VMX)

	target := inst.Target()
	assert.Equal(t, inst.VMX, target.VMX)
	assert.Equal(t, DefaultUser, target.User)
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		iname string
		entry mechfile.Entry
	}{
		{name: "no name", iname: ""},
		{name: "bad name", iname: "-first"},
		{name: "slash in name", iname: "a/b"},
		{name: "zero cpus", iname: "first", entry: mechfile.Entry{CPUs: pointer.To(0)}},
		{name: "negative memory", iname: "first", entry: mechfile.Entry{MemSize: pointer.To(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(t.TempDir(), tt.iname, tt.entry)
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	project := t.TempDir()
	store := mechfile.NewStore(project)
	require.NoError(t, store.SaveEntry(mechfile.Entry{Name: pointer.To("first"), User: "bob"}, "first", false))

	inst, err := Load(store, project, "first")
	require.NoError(t, err)
	assert.Equal(t, "bob", inst.User)

	_, err = Load(store, project, "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mechfile.ErrNoEntry))
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name string
		inst *Instance
		want error
	}{
		{name: "nil", inst: nil, want: ErrNoInstance},
		{name: "no vmx", inst: &Instance{User: "u", Password: "p"}, want: ErrNoVMX},
		{name: "no user", inst: &Instance{VMX: "x.vmx", Password: "p"}, want: ErrNoUser},
		{name: "no password", inst: &Instance{VMX: "x.vmx", User: "u"}, want: ErrNoPassword},
		{name: "ok", inst: &Instance{VMX: "x.vmx", User: "u", Password: "p"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.inst)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want))
		})
	}
}
