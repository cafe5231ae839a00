// Package instance turns a Mechfile entry into a validated VM instance.
package instance

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/jbweber/mech/internal/guest"
	"github.com/jbweber/mech/internal/mechfile"
	"github.com/jbweber/mech/internal/vmx"
)

// Defaults for guest credentials when the entry does not set them.
const (
	DefaultUser     = "vagrant"
	DefaultPassword = "vagrant"
)

// Precondition errors shared by the guest-facing operations.
var (
	ErrNoInstance = errors.New("Need to provide an instance")
	ErrNoVMX      = errors.New("Need to provide vmx")
	ErrNoUser     = errors.New("Need to provide user")
	ErrNoPassword = errors.New("Need to provide password")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Instance is one named VM from the Mechfile.
type Instance struct {
	Name string
	// Dir is the instance's working directory, <project>/.mech/<name>.
	Dir string
	// VMX is the VM configuration file, empty until the VM is created.
	VMX       string
	User      string
	Password  string
	UsePSK    bool
	Auth      *mechfile.Auth
	Provision []mechfile.ProvisionStep
	Resources vmx.Resources
	Entry     mechfile.Entry
}

// New builds an instance from entry, applying defaults and validating it.
// The VMX path is the first *.vmx file in the instance directory.
func New(projectDir, name string, entry mechfile.Entry) (*Instance, error) {
	if name == "" {
		name = entry.NameOrEmpty()
	}

	inst := &Instance{
		Name:      name,
		Dir:       filepath.Join(projectDir, ".mech", name),
		User:      entry.User,
		Password:  entry.Password,
		UsePSK:    entry.UsePSK,
		Auth:      entry.Auth,
		Provision: entry.Provision,
		Resources: vmx.Resources{CPUs: entry.CPUs, MemoryMB: entry.MemSize},
		Entry:     entry,
	}
	applyDefaults(inst)

	if err := validate(inst); err != nil {
		return nil, fmt.Errorf("invalid instance %q: %w", name, err)
	}

	located, err := locateVMX(inst.Dir)
	if err != nil {
		return nil, err
	}
	inst.VMX = located

	return inst, nil
}

// Load reads name from store and builds its instance.
func Load(store *mechfile.Store, projectDir, name string) (*Instance, error) {
	entry, err := store.Get(name)
	if err != nil {
		return nil, err
	}
	return New(projectDir, name, entry)
}

func applyDefaults(inst *Instance) {
	if inst.User == "" {
		inst.User = DefaultUser
	}
	if inst.Password == "" {
		inst.Password = DefaultPassword
	}
}

func validate(inst *Instance) error {
	if inst.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !namePattern.MatchString(inst.Name) {
		return fmt.Errorf("name must start with an alphanumeric character and contain only alphanumerics, dots, hyphens or underscores, got %q", inst.Name)
	}
	if c := inst.Resources.CPUs; c != nil && *c <= 0 {
		return fmt.Errorf("cpus must be > 0, got %d", *c)
	}
	if m := inst.Resources.MemoryMB; m != nil && *m <= 0 {
		return fmt.Errorf("memsize must be > 0, got %d", *m)
	}
	return nil
}

func locateVMX(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.vmx"))
	if err != nil {
		return "", fmt.Errorf("failed to search %s for vmx files: %w", dir, err)
	}
	if len(matches) == 0 {
		return "", nil
	}
	sort.Strings(matches)
	return matches[0], nil
}

// Created reports whether the VM has a configuration file.
func (i *Instance) Created() bool {
	return i.VMX != ""
}

// Target is the guest account used for guest operations.
func (i *Instance) Target() guest.Target {
	return guest.Target{VMX: i.VMX, User: i.User, Password: i.Password}
}

// Check verifies the preconditions shared by guest operations: an instance
// with a VMX file, a user and a password.
func Check(i *Instance) error {
	switch {
	case i == nil:
		return ErrNoInstance
	case i.VMX == "":
		return ErrNoVMX
	case i.User == "":
		return ErrNoUser
	case i.Password == "":
		return ErrNoPassword
	}
	return nil
}
