// Package provision runs an instance's provisioning steps against its guest.
//
// Each step is isolated: a failing step is recorded in the Report and the
// remaining steps still run.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-envparse"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/mech/internal/guest"
	"github.com/jbweber/mech/internal/instance"
	"github.com/jbweber/mech/internal/mechfile"
)

// Step types.
const (
	TypeFile  = "file"
	TypeShell = "shell"
)

// Status lines recorded in outcomes.
const (
	MessageNothing           = "Nothing to provision"
	MessageCopying           = "Copying "
	MessageNotProvisioned    = "Not Provisioned"
	MessageConfiguringScript = "Configuring script"
	MessageConfiguringEnv    = "Configuring environment"
	MessageConfiguringInline = "Configuring script to run inline"
	MessageExecuting         = "Executing program"
)

// ErrCannotProvision is returned when guest tools are not running.
var ErrCannotProvision = errors.New("Cannot provision if VMware Tools are not installed")

// envProgram runs the uploaded script with the step's environment.
const envProgram = "/usr/bin/env"

// Outcome is the result of one step.
type Outcome struct {
	Index    int
	Step     mechfile.ProvisionStep
	OK       bool
	Messages []string
	Err      error
}

func (o *Outcome) add(msg string) {
	o.Messages = append(o.Messages, msg)
}

func (o *Outcome) fail(err error) {
	o.OK = false
	o.Err = err
	o.add(MessageNotProvisioned)
}

// Report is the result of one provisioning run.
type Report struct {
	RunID    string
	Instance string
	// Shown holds the rendered step list in show mode.
	Shown    string
	Messages []string
	Outcomes []Outcome
}

// Failed returns the outcomes that did not succeed.
func (r Report) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if !o.OK {
			failed = append(failed, o)
		}
	}
	return failed
}

// Err combines the errors of all failed steps, or returns nil.
func (r Report) Err() error {
	var result *multierror.Error
	for _, o := range r.Failed() {
		err := o.Err
		if err == nil {
			err = errors.New(MessageNotProvisioned)
		}
		result = multierror.Append(result, fmt.Errorf("step %d (%s): %w", o.Index+1, o.Step.Type, err))
	}
	return result.ErrorOrNil()
}

// Provisioner runs steps through guest tools, or over SSH for PSK instances.
type Provisioner struct {
	tools   guest.Guest
	ssh     guest.Guest
	baseDir string
	tempDir string
	newID   func() string
	logger  *zap.Logger
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithSSH sets the channel used for instances with use_psk.
func WithSSH(g guest.Guest) Option {
	return func(p *Provisioner) {
		p.ssh = g
	}
}

// WithBaseDir sets the directory relative host paths are resolved against.
func WithBaseDir(dir string) Option {
	return func(p *Provisioner) {
		p.baseDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Provisioner) {
		if l != nil {
			p.logger = l
		}
	}
}

// New returns a Provisioner using tools for guest operations.
func New(tools guest.Guest, opts ...Option) *Provisioner {
	p := &Provisioner{
		tools:   tools,
		tempDir: os.TempDir(),
		newID:   uuid.NewString,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run provisions inst. In show mode the steps are rendered into the
// report and the guest is not contacted. Missing preconditions and stopped
// guest tools are errors; step failures are only recorded in the report.
func (p *Provisioner) Run(ctx context.Context, inst *instance.Instance, show bool) (Report, error) {
	if inst == nil {
		return Report{}, fmt.Errorf("%w to provision", instance.ErrNoInstance)
	}
	if inst.VMX == "" {
		return Report{}, fmt.Errorf("%w for %s", instance.ErrNoVMX, inst.Name)
	}

	report := Report{RunID: p.newID(), Instance: inst.Name}
	logger := p.logger.With(zap.String("instance", inst.Name), zap.String("run", report.RunID))

	if show {
		shown, err := Show(inst)
		if err != nil {
			return report, err
		}
		report.Shown = shown
		return report, nil
	}

	if len(inst.Provision) == 0 {
		report.Messages = append(report.Messages, MessageNothing)
		return report, nil
	}

	channel := p.tools
	target := inst.Target()
	if inst.UsePSK {
		if p.ssh == nil {
			return report, fmt.Errorf("instance %s uses psk but no ssh channel is configured", inst.Name)
		}
		channel = p.ssh
	} else if err := guest.RequireTools(ctx, p.tools, target); err != nil {
		return report, fmt.Errorf("%w: %w", ErrCannotProvision, err)
	}

	for i, step := range inst.Provision {
		out := Outcome{Index: i, Step: step, OK: true}

		switch step.Type {
		case TypeFile:
			p.runFile(ctx, channel, target, &out)
		case TypeShell:
			p.runShell(ctx, channel, target, &out)
		default:
			out.fail(fmt.Errorf("unknown provisioner type %q", step.Type))
		}

		if out.OK {
			logger.Info("provisioned step", zap.Int("step", i+1), zap.String("type", step.Type))
		} else {
			logger.Warn("step not provisioned", zap.Int("step", i+1), zap.String("type", step.Type), zap.Error(out.Err))
		}
		report.Outcomes = append(report.Outcomes, out)
	}

	return report, nil
}

func (p *Provisioner) hostPath(path string) string {
	if path == "" || filepath.IsAbs(path) || p.baseDir == "" {
		return path
	}
	return filepath.Join(p.baseDir, path)
}

func (p *Provisioner) runFile(ctx context.Context, g guest.Guest, t guest.Target, out *Outcome) {
	step := out.Step
	if step.Source == "" || step.Destination == "" {
		out.fail(errors.New("file step needs source and destination"))
		return
	}

	out.add(fmt.Sprintf("%s%s to %s", MessageCopying, step.Source, step.Destination))
	if err := g.CopyFileToGuest(ctx, t, p.hostPath(step.Source), step.Destination); err != nil {
		out.fail(err)
	}
}

func (p *Provisioner) runShell(ctx context.Context, g guest.Guest, t guest.Target, out *Outcome) {
	step := out.Step

	var script string
	switch {
	case step.Inline != "":
		out.add(MessageConfiguringInline)
		path, cleanup, err := p.writeInline(step.Inline)
		if err != nil {
			out.fail(err)
			return
		}
		defer cleanup()
		script = path

	case step.Path != "":
		out.add(MessageConfiguringScript)
		script = p.hostPath(step.Path)
		info, err := os.Stat(script)
		if err != nil {
			out.fail(fmt.Errorf("script %s: %w", step.Path, err))
			return
		}
		if info.IsDir() {
			out.fail(fmt.Errorf("script %s is a directory", step.Path))
			return
		}

	default:
		out.fail(errors.New("shell step needs path or inline"))
		return
	}

	env, err := parseArgs(step.Args)
	if err != nil {
		out.fail(err)
		return
	}

	if err := p.execute(ctx, g, t, script, env, out); err != nil {
		out.fail(err)
	}
}

// execute uploads script to a guest temp file, runs it and removes it.
func (p *Provisioner) execute(ctx context.Context, g guest.Guest, t guest.Target, script string, env []string, out *Outcome) error {
	tmp, err := g.CreateTempFile(ctx, t)
	if err != nil {
		return fmt.Errorf("failed to create guest temp file: %w", err)
	}
	defer func() {
		if err := g.DeleteFile(ctx, t, tmp); err != nil {
			p.logger.Debug("failed to delete guest temp file", zap.String("path", tmp), zap.Error(err))
		}
	}()

	if err := g.CopyFileToGuest(ctx, t, script, tmp); err != nil {
		return fmt.Errorf("failed to copy script: %w", err)
	}

	if len(env) > 0 {
		out.add(MessageConfiguringEnv)
	}
	if _, err := g.RunScript(ctx, t, "/bin/sh", fmt.Sprintf("chmod +x %s", shellQuote(tmp))); err != nil {
		return fmt.Errorf("failed to make script executable: %w", err)
	}

	out.add(MessageExecuting)
	args := append(append([]string{}, env...), tmp)
	if _, err := g.RunProgram(ctx, t, envProgram, args...); err != nil {
		return fmt.Errorf("script failed: %w", err)
	}
	return nil
}

// writeInline stores an inline script in a host temp file.
func (p *Provisioner) writeInline(inline string) (string, func(), error) {
	path := filepath.Join(p.tempDir, "mech-inline-"+p.newID()+".sh")
	if err := os.WriteFile(path, []byte(inline+"\n"), 0o600); err != nil {
		return "", nil, fmt.Errorf("failed to write inline script: %w", err)
	}
	return path, func() { _ = os.Remove(path) }, nil
}

// parseArgs turns k=v arguments into env assignments, keeping their order.
func parseArgs(args []string) ([]string, error) {
	env := make([]string, 0, len(args))
	for _, arg := range args {
		parsed, err := envparse.Parse(strings.NewReader(arg))
		if err != nil {
			return nil, fmt.Errorf("invalid argument %q: %w", arg, err)
		}
		if len(parsed) != 1 {
			return nil, fmt.Errorf("invalid argument %q: expected k=v", arg)
		}
		for k, v := range parsed {
			env = append(env, k+"="+v)
		}
	}
	return env, nil
}

// Show renders the instance and its steps as YAML.
func Show(inst *instance.Instance) (string, error) {
	doc := struct {
		Instance  string                   `yaml:"instance"`
		VMX       string                   `yaml:"vmx"`
		Provision []mechfile.ProvisionStep `yaml:"provision"`
	}{
		Instance:  inst.Name,
		VMX:       inst.VMX,
		Provision: inst.Provision,
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to render provisioning steps: %w", err)
	}
	return string(data), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
