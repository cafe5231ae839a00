package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jbweber/mech/internal/config"
	"github.com/jbweber/mech/internal/guest"
	"github.com/jbweber/mech/internal/instance"
	"github.com/jbweber/mech/internal/logging"
	"github.com/jbweber/mech/internal/mechfile"
	"github.com/jbweber/mech/internal/sshconfig"
	"github.com/jbweber/mech/internal/vmrun"
)

const sshTimeout = 10 * time.Second

var (
	settings config.Settings
	logger   = zap.NewNop()

	okMark   = color.New(color.FgGreen).Sprint("✓")
	failMark = color.New(color.FgRed).Sprint("✗")
)

// setup loads settings for the project and builds the logger. Flags win
// over every other settings source.
func setup(cmd *cobra.Command) error {
	dir := projectDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}

	s, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		s.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		s.LogFormat = logFormat
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	settings = s
	logger = logging.New(logging.Options{Level: s.LogLevel, Format: s.LogFormat})
	logger.Debug("loaded settings",
		zap.String("project_dir", s.ProjectDir),
		zap.String("catalog_url", s.CatalogURL),
		zap.String("on_corrupt", s.OnCorrupt),
	)
	return nil
}

func teardown() {
	_ = logger.Sync()
}

func newStore() (*mechfile.Store, error) {
	policy, err := mechfile.ParseCorruptPolicy(settings.OnCorrupt)
	if err != nil {
		return nil, err
	}
	return mechfile.NewStore(settings.ProjectDir,
		mechfile.WithCorruptPolicy(policy),
		mechfile.WithLogger(logger),
	), nil
}

func loadInstance(name string) (*instance.Instance, error) {
	store, err := newStore()
	if err != nil {
		return nil, err
	}
	inst, err := instance.Load(store, settings.ProjectDir, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance %s: %w", name, err)
	}
	return inst, nil
}

func newVMRun() (*vmrun.Client, error) {
	path := settings.VMRunPath
	if path == "" {
		path = vmrun.LocateDefault(runtime.GOOS)
	}
	if path == "" {
		return nil, fmt.Errorf("vmrun not found: install VMware or set %s", config.EnvVMRunPath)
	}
	return vmrun.New(path, vmrun.HostType(runtime.GOOS), logger), nil
}

// sshParams describes how mech reaches inst over SSH. The guest address
// comes from VMware Tools.
func sshParams(ctx context.Context, vm *vmrun.Client, inst *instance.Instance) (sshconfig.Params, error) {
	if !inst.Created() {
		return sshconfig.Params{}, fmt.Errorf("%w: %s", instance.ErrNoVMX, inst.Name)
	}
	ip, err := vm.GuestIPAddress(ctx, inst.VMX)
	if err != nil {
		return sshconfig.Params{}, fmt.Errorf("failed to get guest address: %w", err)
	}
	return sshconfig.Params{
		Name:         inst.Name,
		HostName:     ip,
		User:         inst.User,
		IdentityFile: settings.SSHKeyPath,
	}, nil
}

// dialGuest returns the SSH channel for PSK instances, or nil otherwise.
// The caller closes a non-nil channel.
func dialGuest(ctx context.Context, vm *vmrun.Client, inst *instance.Instance) (*guest.SSH, error) {
	if !inst.UsePSK {
		return nil, nil
	}
	params, err := sshParams(ctx, vm, inst)
	if err != nil {
		return nil, err
	}
	cfg := sshconfig.ForInstance(params)
	clientConfig, err := cfg.ClientConfig(sshTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to configure ssh: %w", err)
	}
	return guest.NewSSH(cfg.Address(), clientConfig, logger), nil
}

func closeGuest(g *guest.SSH) {
	if g == nil {
		return
	}
	if err := g.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close ssh connection: %v\n", err)
	}
}

func printMessages(msgs []string) {
	for _, msg := range msgs {
		fmt.Println(msg)
	}
}
