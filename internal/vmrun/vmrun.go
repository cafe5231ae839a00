// Package vmrun drives VMware's vmrun utility to act on guests.
package vmrun

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/siderolabs/go-cmd/pkg/cmd"
	"go.uber.org/zap"

	"github.com/jbweber/mech/internal/guest"
)

// FusionPath is where VMware Fusion installs vmrun on macOS.
const FusionPath = "/Applications/VMware Fusion.app/Contents/Library/vmrun"

// Locate returns the vmrun executable for goos, or "" when none is found.
func Locate(goos string, lookPath func(string) (string, error), exists func(string) bool) string {
	if goos == "darwin" && exists(FusionPath) {
		return FusionPath
	}
	if p, err := lookPath("vmrun"); err == nil {
		return p
	}
	return ""
}

// LocateDefault runs Locate against the real filesystem and PATH.
func LocateDefault(goos string) string {
	return Locate(goos, exec.LookPath, func(p string) bool {
		_, err := os.Stat(p)
		return err == nil
	})
}

// HostType is the -T value for goos.
func HostType(goos string) string {
	if goos == "darwin" {
		return "fusion"
	}
	return "ws"
}

type execFunc func(ctx context.Context, name string, args ...string) (string, error)

// Client implements guest.Guest with vmrun.
type Client struct {
	path     string
	hostType string
	run      execFunc
	logger   *zap.Logger
}

var _ guest.Guest = (*Client)(nil)

// New returns a Client for the vmrun binary at path.
func New(path, hostType string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hostType == "" {
		hostType = "ws"
	}
	return &Client{
		path:     path,
		hostType: hostType,
		run:      cmd.RunContext,
		logger:   logger,
	}
}

func (c *Client) vmrun(ctx context.Context, t guest.Target, command string, args ...string) (string, error) {
	if c.path == "" {
		return "", fmt.Errorf("vmrun executable not found")
	}

	argv := []string{"-T", c.hostType}
	if t.User != "" {
		argv = append(argv, "-gu", t.User)
	}
	if t.Password != "" {
		argv = append(argv, "-gp", t.Password)
	}
	argv = append(argv, command, t.VMX)
	argv = append(argv, args...)

	c.logger.Debug("running vmrun", zap.String("command", command), zap.String("vmx", t.VMX))

	out, err := c.run(ctx, c.path, argv...)
	if err != nil {
		return out, fmt.Errorf("vmrun %s failed: %w", command, err)
	}
	return out, nil
}

// ToolsState never sends guest credentials.
func (c *Client) ToolsState(ctx context.Context, t guest.Target) (string, error) {
	out, err := c.vmrun(ctx, guest.Target{VMX: t.VMX}, "checkToolsState")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// RunScript runs script with interpreter through runScriptInGuest.
func (c *Client) RunScript(ctx context.Context, t guest.Target, interpreter, script string) (string, error) {
	return c.vmrun(ctx, t, "runScriptInGuest", interpreter, script)
}

// RunProgram runs program with args through runProgramInGuest.
func (c *Client) RunProgram(ctx context.Context, t guest.Target, program string, args ...string) (string, error) {
	return c.vmrun(ctx, t, "runProgramInGuest", append([]string{program}, args...)...)
}

// CopyFileToGuest copies the host file src to dst in the guest.
func (c *Client) CopyFileToGuest(ctx context.Context, t guest.Target, src, dst string) error {
	_, err := c.vmrun(ctx, t, "CopyFileFromHostToGuest", src, dst)
	return err
}

// CreateTempFile creates a temporary file in the guest and returns its path.
func (c *Client) CreateTempFile(ctx context.Context, t guest.Target) (string, error) {
	out, err := c.vmrun(ctx, t, "createTempfileInGuest")
	if err != nil {
		return "", err
	}
	path := strings.TrimSpace(out)
	if path == "" {
		return "", fmt.Errorf("vmrun createTempfileInGuest returned no path")
	}
	return path, nil
}

// DeleteFile deletes path in the guest.
func (c *Client) DeleteFile(ctx context.Context, t guest.Target, path string) error {
	_, err := c.vmrun(ctx, t, "deleteFileInGuest", path)
	return err
}

// GuestIPAddress waits for and returns the guest's IP address.
func (c *Client) GuestIPAddress(ctx context.Context, vmx string) (string, error) {
	out, err := c.vmrun(ctx, guest.Target{VMX: vmx}, "getGuestIPAddress", "-wait")
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(out)
	if ip == "" || strings.HasPrefix(ip, "Error") {
		return "", fmt.Errorf("no IP address reported for %s", vmx)
	}
	return ip, nil
}
