// Package auth injects host public keys into guests and removes guest users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/jbweber/mech/internal/guest"
	"github.com/jbweber/mech/internal/instance"
	"github.com/jbweber/mech/internal/mechfile"
)

// Status lines reported by AddAuth and DelUser.
const (
	MessageAdding       = "Adding auth"
	MessageAdded        = "Added auth"
	MessageNotAdded     = "Did not add auth"
	MessageUnreadable   = "Could not read contents"
	MessageNeedUsername = "Warning: Need a username"
	MessageNoAuth       = "No auth to add"
	MessageDeleted      = "Successfully deleted user"
	MessageDeleteFailed = "Failed deleting"
)

var (
	// ErrCannotAddAuth is returned when guest tools are not running.
	ErrCannotAddAuth = errors.New("Cannot add auth")
	// ErrCannotDeleteUser is returned when guest tools are not running.
	ErrCannotDeleteUser = errors.New("Cannot delete user if guest tools are not running")
	// ErrVMNotCreated is returned when the instance has no VMX file.
	ErrVMNotCreated = errors.New("VM must be created")
	// ErrUserRequired is returned when the instance has no guest user.
	ErrUserRequired = errors.New("A user is required")
	// ErrNoUsername is returned when no user to delete was given.
	ErrNoUsername = errors.New("A username to delete is required")
	// ErrNoSSH is returned for PSK instances when no SSH channel is available.
	ErrNoSSH = errors.New("no ssh channel configured")
)

// DefaultPubKey is the public key path relative to the home directory.
var DefaultPubKey = filepath.Join(".ssh", "id_rsa.pub")

// Result is the outcome of a soft operation. OK is true when the guest was
// changed.
type Result struct {
	OK       bool
	Messages []string
}

func (r *Result) add(msg string) {
	r.Messages = append(r.Messages, msg)
}

// GetInfoForAuth returns the host login name and default public key.
func GetInfoForAuth() (mechfile.Auth, error) {
	return getInfoForAuthWithDeps(user.Current)
}

func getInfoForAuthWithDeps(current func() (*user.User, error)) (mechfile.Auth, error) {
	u, err := current()
	if err != nil {
		return mechfile.Auth{}, fmt.Errorf("failed to get current user: %w", err)
	}
	return mechfile.Auth{
		Username: u.Username,
		PubKey:   filepath.Join(u.HomeDir, DefaultPubKey),
		MechUse:  false,
	}, nil
}

// Manager runs auth operations. Guest-tools operations go through tools;
// PSK instances use ssh.
type Manager struct {
	tools    guest.Guest
	ssh      guest.Guest
	readFile func(string) ([]byte, error)
	homeDir  func() (string, error)
	logger   *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithSSH sets the channel used for instances with use_psk.
func WithSSH(g guest.Guest) Option {
	return func(m *Manager) {
		m.ssh = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager returns a Manager using tools for guest operations.
func NewManager(tools guest.Guest, opts ...Option) *Manager {
	m := &Manager{
		tools:    tools,
		readFile: os.ReadFile,
		homeDir:  os.UserHomeDir,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddAuth appends the instance's auth public key to the guest user's
// authorized_keys. Missing preconditions and stopped guest tools are errors;
// everything else is reported in the Result.
func (m *Manager) AddAuth(ctx context.Context, inst *instance.Instance) (Result, error) {
	if err := instance.Check(inst); err != nil {
		return Result{}, err
	}

	var res Result
	res.add(MessageAdding)

	target := inst.Target()
	if err := guest.RequireTools(ctx, m.tools, target); err != nil {
		return res, fmt.Errorf("%w: %w", ErrCannotAddAuth, err)
	}

	if inst.Auth == nil {
		res.add(MessageNoAuth)
		return res, nil
	}
	if inst.Auth.Username == "" {
		res.add(MessageNeedUsername)
		return res, nil
	}

	key, err := m.readPubKey(inst.Auth.PubKey)
	if err != nil {
		m.logger.Warn("could not read public key", zap.String("path", inst.Auth.PubKey), zap.Error(err))
		res.add(MessageUnreadable)
		return res, nil
	}

	users := []string{inst.Auth.Username}
	if inst.Auth.MechUse && inst.User != inst.Auth.Username {
		users = append(users, inst.User)
	}

	if _, err := m.tools.RunScript(ctx, target, "/bin/sh", addKeyScript(users, key)); err != nil {
		m.logger.Warn("adding auth failed", zap.String("instance", inst.Name), zap.Error(err))
		res.add(MessageNotAdded)
		return res, nil
	}

	res.OK = true
	res.add(MessageAdded)
	return res, nil
}

// readPubKey reads and normalizes one authorized_keys line.
func (m *Manager) readPubKey(path string) (string, error) {
	if path == "" {
		return "", errors.New("no public key path")
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		home, err := m.homeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, rest)
	}

	data, err := m.readFile(path)
	if err != nil {
		return "", err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", errors.New("public key file is empty")
	}

	pub, comment, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return "", fmt.Errorf("not a valid SSH public key: %w", err)
	}

	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub)))
	if comment != "" {
		line += " " + comment
	}
	return line, nil
}

func addKeyScript(users []string, key string) string {
	var b strings.Builder
	b.WriteString("set -e\n")
	for _, u := range users {
		fmt.Fprintf(&b, "u=%s\n", shellQuote(u))
		b.WriteString(`id -u "$u" >/dev/null 2>&1 || sudo useradd -m -s /bin/bash "$u"` + "\n")
		b.WriteString(`home=$(getent passwd "$u" | cut -d: -f6)` + "\n")
		b.WriteString(`sudo mkdir -p "$home/.ssh"` + "\n")
		fmt.Fprintf(&b, "echo %s | sudo tee -a \"$home/.ssh/authorized_keys\" >/dev/null\n", shellQuote(key))
		b.WriteString(`sudo chmod 700 "$home/.ssh"` + "\n")
		b.WriteString(`sudo chmod 600 "$home/.ssh/authorized_keys"` + "\n")
		b.WriteString(`sudo chown -R "$u" "$home/.ssh"` + "\n")
	}
	return b.String()
}

// DelUser removes username from the guest. PSK instances go over SSH
// without a guest tools check.
func (m *Manager) DelUser(ctx context.Context, inst *instance.Instance, username string) (Result, error) {
	switch {
	case inst == nil:
		return Result{}, instance.ErrNoInstance
	case inst.VMX == "":
		return Result{}, fmt.Errorf("%w: %w", ErrVMNotCreated, instance.ErrNoVMX)
	case inst.User == "":
		return Result{}, fmt.Errorf("%w: %w", ErrUserRequired, instance.ErrNoUser)
	case username == "":
		return Result{}, ErrNoUsername
	}

	script := fmt.Sprintf("sudo userdel -r %s\n", shellQuote(username))
	target := inst.Target()

	channel := m.tools
	if inst.UsePSK {
		if m.ssh == nil {
			return Result{}, ErrNoSSH
		}
		channel = m.ssh
	} else if err := guest.RequireTools(ctx, m.tools, target); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrCannotDeleteUser, err)
	}

	var res Result
	if _, err := channel.RunScript(ctx, target, "/bin/sh", script); err != nil {
		m.logger.Warn("deleting user failed", zap.String("user", username), zap.Error(err))
		res.add(MessageDeleteFailed)
		return res, nil
	}

	res.OK = true
	res.add(MessageDeleted)
	return res, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
