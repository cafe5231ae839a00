package provision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/mech/internal/guest"
	"github.com/jbweber/mech/internal/guest/guesttest"
	"github.com/jbweber/mech/internal/instance"
	"github.com/jbweber/mech/internal/mechfile"
)

func newInstance(steps ...mechfile.ProvisionStep) *instance.Instance {
	return &instance.Instance{
		Name:      "first",
		VMX:       "/tmp/first/some.vmx",
		User:      "vagrant",
		Password:  "vagrant",
		Provision: steps,
	}
}

func newTestProvisioner(t *testing.T, g guest.Guest, opts ...Option) *Provisioner {
	t.Helper()
	p := New(g, opts...)
	p.tempDir = t.TempDir()
	p.newID = func() string { return "run-1" }
	return p
}

func messages(r Report) []string {
	var all []string
	all = append(all, r.Messages...)
	for _, o := range r.Outcomes {
		all = append(all, o.Messages...)
	}
	return all
}

func TestRun_Preconditions(t *testing.T) {
	g := &guesttest.Mock{}
	p := newTestProvisioner(t, g)

	_, err := p.Run(context.Background(), nil, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, instance.ErrNoInstance))
	assert.Contains(t, err.Error(), "Need to provide an instance to provision")

	_, err = p.Run(context.Background(), &instance.Instance{Name: "first"}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, instance.ErrNoVMX))
	assert.Empty(t, g.Calls())
}

func TestRun_ToolsNotRunning(t *testing.T) {
	g := &guesttest.Mock{
		ToolsStateFunc: func(context.Context, guest.Target) (string, error) { return "", nil },
	}
	_, err := newTestProvisioner(t, g).Run(context.Background(), newInstance(mechfile.ProvisionStep{Type: "foo"}), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCannotProvision))
}

func TestRun_NothingToProvision(t *testing.T) {
	g := &guesttest.Mock{}
	report, err := newTestProvisioner(t, g).Run(context.Background(), newInstance(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{MessageNothing}, report.Messages)
	assert.Empty(t, report.Outcomes)
	assert.Empty(t, g.Calls())
	assert.NoError(t, report.Err())
}

func TestRun_File(t *testing.T) {
	g := &guesttest.Mock{}
	var gotSrc, gotDst string
	g.CopyFileToGuestFunc = func(_ context.Context, _ guest.Target, src, dst string) error {
		gotSrc, gotDst = src, dst
		return nil
	}

	p := newTestProvisioner(t, g, WithBaseDir("/project"))
	report, err := p.Run(context.Background(), newInstance(mechfile.ProvisionStep{
		Type:        TypeFile,
		Source:      "file1.txt",
		Destination: "/tmp/file1.txt",
	}), false)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.True(t, report.Outcomes[0].OK)
	assert.True(t, strings.HasPrefix(report.Outcomes[0].Messages[0], MessageCopying))
	assert.Equal(t, "/project/file1.txt", gotSrc)
	assert.Equal(t, "/tmp/file1.txt", gotDst)
	assert.Equal(t, "run-1", report.RunID)
}

func TestRun_FileCopyFails(t *testing.T) {
	g := &guesttest.Mock{
		CopyFileToGuestFunc: func(context.Context, guest.Target, string, string) error {
			return errors.New("vmrun failed")
		},
	}

	report, err := newTestProvisioner(t, g).Run(context.Background(), newInstance(
		mechfile.ProvisionStep{Type: TypeFile, Source: "file1.txt", Destination: "/tmp/file1.txt"},
		mechfile.ProvisionStep{Type: TypeFile, Source: "file2.txt", Destination: "/tmp/file2.txt"},
	), false)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)
	for _, o := range report.Outcomes {
		assert.False(t, o.OK)
		assert.Contains(t, o.Messages, MessageNotProvisioned)
	}
	assert.Equal(t, 2, g.Called("CopyFileToGuest"))
	require.Error(t, report.Err())
	assert.Contains(t, report.Err().Error(), "step 2 (file)")
}

func TestRun_Shell(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file1.sh"), []byte("echo hi\n"), 0o755))

	g := &guesttest.Mock{}
	var program string
	var programArgs []string
	var copied []string
	g.RunProgramFunc = func(_ context.Context, _ guest.Target, prog string, args ...string) (string, error) {
		program, programArgs = prog, args
		return "", nil
	}
	g.CopyFileToGuestFunc = func(_ context.Context, _ guest.Target, src, _ string) error {
		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		copied = append(copied, string(data))
		return nil
	}

	p := newTestProvisioner(t, g, WithBaseDir(dir))
	report, err := p.Run(context.Background(), newInstance(
		mechfile.ProvisionStep{Type: TypeShell, Path: "file1.sh", Args: []string{"a=1", "b=true"}},
		mechfile.ProvisionStep{Type: TypeShell, Inline: "echo hello from inline"},
	), false)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	all := messages(report)
	assert.Contains(t, all, MessageConfiguringScript)
	assert.Contains(t, all, MessageConfiguringEnv)
	assert.Contains(t, all, MessageConfiguringInline)
	assert.Contains(t, all, MessageExecuting)

	assert.Equal(t, []string{
		"ToolsState",
		"CreateTempFile", "CopyFileToGuest", "RunScript", "RunProgram", "DeleteFile",
		"CreateTempFile", "CopyFileToGuest", "RunScript", "RunProgram", "DeleteFile",
	}, g.Calls())

	assert.Equal(t, envProgram, program)
	assert.Equal(t, []string{"/tmp/foo"}, programArgs)
	assert.Equal(t, []string{"echo hi\n", "echo hello from inline\n"}, copied)

	entries, err := os.ReadDir(p.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_ShellArgs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file1.sh"), []byte("echo hi\n"), 0o755))

	g := &guesttest.Mock{}
	var programArgs []string
	g.RunProgramFunc = func(_ context.Context, _ guest.Target, _ string, args ...string) (string, error) {
		programArgs = args
		return "", nil
	}

	_, err := newTestProvisioner(t, g, WithBaseDir(dir)).Run(context.Background(), newInstance(
		mechfile.ProvisionStep{Type: TypeShell, Path: "file1.sh", Args: []string{"b=true", `a="1 2"`}},
	), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b=true", "a=1 2", "/tmp/foo"}, programArgs)
}

func TestRun_ShellDeletesTempOnFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file1.sh"), []byte("exit 1\n"), 0o755))

	g := &guesttest.Mock{
		RunProgramFunc: func(context.Context, guest.Target, string, ...string) (string, error) {
			return "", errors.New("exit status 1")
		},
	}

	report, err := newTestProvisioner(t, g, WithBaseDir(dir)).Run(context.Background(), newInstance(
		mechfile.ProvisionStep{Type: TypeShell, Path: "file1.sh"},
	), false)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.False(t, report.Outcomes[0].OK)
	assert.Contains(t, report.Outcomes[0].Messages, MessageNotProvisioned)
	assert.Equal(t, 1, g.Called("DeleteFile"))
}

func TestRun_ShellMissingScript(t *testing.T) {
	g := &guesttest.Mock{}
	report, err := newTestProvisioner(t, g, WithBaseDir(t.TempDir())).Run(context.Background(), newInstance(
		mechfile.ProvisionStep{Type: TypeShell, Path: "nope.sh"},
		mechfile.ProvisionStep{Type: TypeShell},
	), false)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)
	assert.False(t, report.Outcomes[0].OK)
	assert.False(t, report.Outcomes[1].OK)
	assert.Zero(t, g.Called("CreateTempFile"))
}

func TestRun_ShellInvalidArgs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file1.sh"), []byte("echo hi\n"), 0o755))

	g := &guesttest.Mock{}
	report, err := newTestProvisioner(t, g, WithBaseDir(dir)).Run(context.Background(), newInstance(
		mechfile.ProvisionStep{Type: TypeShell, Path: "file1.sh", Args: []string{"novalue"}},
	), false)
	require.NoError(t, err)
	assert.False(t, report.Outcomes[0].OK)
	assert.Zero(t, g.Called("RunProgram"))
}

func TestRun_UnknownType(t *testing.T) {
	g := &guesttest.Mock{}
	report, err := newTestProvisioner(t, g).Run(context.Background(), newInstance(mechfile.ProvisionStep{Type: "foo"}), false)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.False(t, report.Outcomes[0].OK)
	assert.Equal(t, []string{MessageNotProvisioned}, report.Outcomes[0].Messages)
	assert.Equal(t, []string{"ToolsState"}, g.Calls())
}

func TestRun_Show(t *testing.T) {
	g := &guesttest.Mock{}
	report, err := newTestProvisioner(t, g).Run(context.Background(), newInstance(
		mechfile.ProvisionStep{Type: TypeShell, Path: "file1.sh", Args: []string{"a=1", "b=true"}},
	), true)
	require.NoError(t, err)
	assert.Empty(t, g.Calls())
	assert.Contains(t, report.Shown, "instance: first\n")
	assert.Contains(t, report.Shown, "path: file1.sh")
	assert.Empty(t, report.Outcomes)
}

func TestRun_PSKSkipsTools(t *testing.T) {
	tools := &guesttest.Mock{}
	sshGuest := &guesttest.Mock{}
	inst := newInstance(mechfile.ProvisionStep{Type: TypeFile, Source: "/a", Destination: "/b"})
	inst.UsePSK = true

	report, err := newTestProvisioner(t, tools, WithSSH(sshGuest)).Run(context.Background(), inst, false)
	require.NoError(t, err)
	assert.True(t, report.Outcomes[0].OK)
	assert.Empty(t, tools.Calls())
	assert.Equal(t, []string{"CopyFileToGuest"}, sshGuest.Calls())
}

func TestRun_PSKWithoutChannel(t *testing.T) {
	inst := newInstance(mechfile.ProvisionStep{Type: TypeFile, Source: "/a", Destination: "/b"})
	inst.UsePSK = true
	_, err := newTestProvisioner(t, &guesttest.Mock{}).Run(context.Background(), inst, false)
	require.Error(t, err)
}
