package guest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// runner executes one remote command, feeding stdin when non-nil.
type runner interface {
	Run(ctx context.Context, cmd string, stdin io.Reader) (string, error)
}

// SSH implements Guest over a direct SSH connection. The Target's VMX and
// password are ignored; the connection's own credentials are used.
type SSH struct {
	r      runner
	logger *zap.Logger
}

// NewSSH returns a Guest that dials addr with config on first use.
func NewSSH(addr string, config *ssh.ClientConfig, logger *zap.Logger) *SSH {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSH{
		r:      &sshRunner{addr: addr, config: config},
		logger: logger,
	}
}

// Close releases the underlying connection, if any.
func (s *SSH) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ToolsState reports ToolsRunning when a trivial command succeeds.
func (s *SSH) ToolsState(ctx context.Context, _ Target) (string, error) {
	if _, err := s.r.Run(ctx, "true", nil); err != nil {
		return "", err
	}
	return ToolsRunning, nil
}

// RunScript feeds script to interpreter on stdin.
func (s *SSH) RunScript(ctx context.Context, _ Target, interpreter, script string) (string, error) {
	s.logger.Debug("running script over ssh", zap.String("interpreter", interpreter))
	return s.r.Run(ctx, quote(interpreter), strings.NewReader(script))
}

// RunProgram runs program with shell-quoted args.
func (s *SSH) RunProgram(ctx context.Context, _ Target, program string, args ...string) (string, error) {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quote(program))
	for _, a := range args {
		parts = append(parts, quote(a))
	}
	s.logger.Debug("running program over ssh", zap.String("program", program))
	return s.r.Run(ctx, strings.Join(parts, " "), nil)
}

// CopyFileToGuest streams the host file src into dst.
func (s *SSH) CopyFileToGuest(ctx context.Context, _ Target, src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close() //nolint:errcheck

	if _, err := s.r.Run(ctx, "cat > "+quote(dst), f); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return nil
}

// CreateTempFile runs mktemp and returns the new path.
func (s *SSH) CreateTempFile(ctx context.Context, _ Target) (string, error) {
	out, err := s.r.Run(ctx, "mktemp", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	path := strings.TrimSpace(out)
	if path == "" {
		return "", fmt.Errorf("mktemp returned no path")
	}
	return path, nil
}

// DeleteFile removes path, ignoring a missing file.
func (s *SSH) DeleteFile(ctx context.Context, _ Target, path string) error {
	if _, err := s.r.Run(ctx, "rm -f "+quote(path), nil); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// quote single-quotes s for a POSIX shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

type sshRunner struct {
	addr   string
	config *ssh.ClientConfig

	mu     sync.Mutex
	client *ssh.Client
}

func (r *sshRunner) connect() (*ssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}
	client, err := ssh.Dial("tcp", r.addr, r.config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %s: %w", r.addr, err)
	}
	r.client = client
	return client, nil
}

func (r *sshRunner) Run(ctx context.Context, cmd string, stdin io.Reader) (string, error) {
	client, err := r.connect()
	if err != nil {
		return "", err
	}

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("unable to create SSH session: %w", err)
	}
	defer session.Close() //nolint:errcheck

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = stdin
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return stdout.String(), fmt.Errorf("remote command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return stdout.String(), nil
	}
}

func (r *sshRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}
