// Package guesttest provides a recording guest.Guest for tests.
package guesttest

import (
	"context"
	"sync"

	"github.com/jbweber/mech/internal/guest"
)

// Mock implements guest.Guest. Unset funcs succeed with zero values,
// except ToolsState which reports guest.ToolsRunning.
type Mock struct {
	mu    sync.Mutex
	calls []string

	ToolsStateFunc      func(ctx context.Context, t guest.Target) (string, error)
	RunScriptFunc       func(ctx context.Context, t guest.Target, interpreter, script string) (string, error)
	RunProgramFunc      func(ctx context.Context, t guest.Target, program string, args ...string) (string, error)
	CopyFileToGuestFunc func(ctx context.Context, t guest.Target, src, dst string) error
	CreateTempFileFunc  func(ctx context.Context, t guest.Target) (string, error)
	DeleteFileFunc      func(ctx context.Context, t guest.Target, path string) error
}

var _ guest.Guest = (*Mock)(nil)

func (m *Mock) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
}

// Calls returns the method names called, in order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Called reports how many times method name was called.
func (m *Mock) Called(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (m *Mock) ToolsState(ctx context.Context, t guest.Target) (string, error) {
	m.record("ToolsState")
	if m.ToolsStateFunc != nil {
		return m.ToolsStateFunc(ctx, t)
	}
	return guest.ToolsRunning, nil
}

func (m *Mock) RunScript(ctx context.Context, t guest.Target, interpreter, script string) (string, error) {
	m.record("RunScript")
	if m.RunScriptFunc != nil {
		return m.RunScriptFunc(ctx, t, interpreter, script)
	}
	return "", nil
}

func (m *Mock) RunProgram(ctx context.Context, t guest.Target, program string, args ...string) (string, error) {
	m.record("RunProgram")
	if m.RunProgramFunc != nil {
		return m.RunProgramFunc(ctx, t, program, args...)
	}
	return "", nil
}

func (m *Mock) CopyFileToGuest(ctx context.Context, t guest.Target, src, dst string) error {
	m.record("CopyFileToGuest")
	if m.CopyFileToGuestFunc != nil {
		return m.CopyFileToGuestFunc(ctx, t, src, dst)
	}
	return nil
}

func (m *Mock) CreateTempFile(ctx context.Context, t guest.Target) (string, error) {
	m.record("CreateTempFile")
	if m.CreateTempFileFunc != nil {
		return m.CreateTempFileFunc(ctx, t)
	}
	return "/tmp/foo", nil
}

func (m *Mock) DeleteFile(ctx context.Context, t guest.Target, path string) error {
	m.record("DeleteFile")
	if m.DeleteFileFunc != nil {
		return m.DeleteFileFunc(ctx, t, path)
	}
	return nil
}
