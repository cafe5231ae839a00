// Package guest defines the operations mech performs inside a running VM.
package guest

import (
	"context"
	"errors"
	"fmt"
)

// ToolsRunning is the tools state reported when the in-guest agent is up.
const ToolsRunning = "running"

// ErrToolsNotRunning is returned when an operation needs guest tools.
var ErrToolsNotRunning = errors.New("guest tools are not running")

// Target identifies a VM and the guest account used to act inside it.
type Target struct {
	VMX      string
	User     string
	Password string
}

// Guest runs commands and moves files inside a VM.
type Guest interface {
	// ToolsState reports the state of the in-guest agent.
	ToolsState(ctx context.Context, t Target) (string, error)
	// RunScript runs script with interpreter and returns its output.
	RunScript(ctx context.Context, t Target, interpreter, script string) (string, error)
	// RunProgram runs program with args.
	RunProgram(ctx context.Context, t Target, program string, args ...string) (string, error)
	// CopyFileToGuest copies a host file to dst in the guest.
	CopyFileToGuest(ctx context.Context, t Target, src, dst string) error
	// CreateTempFile creates an empty file in the guest and returns its path.
	CreateTempFile(ctx context.Context, t Target) (string, error)
	// DeleteFile removes path in the guest.
	DeleteFile(ctx context.Context, t Target, path string) error
}

// RequireTools returns ErrToolsNotRunning unless g reports running tools.
func RequireTools(ctx context.Context, g Guest, t Target) error {
	state, err := g.ToolsState(ctx, t)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrToolsNotRunning, err)
	}
	if state != ToolsRunning {
		return ErrToolsNotRunning
	}
	return nil
}
