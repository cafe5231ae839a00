package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/siderolabs/go-pointer"
	"github.com/spf13/cobra"

	"github.com/jbweber/mech/internal/auth"
	"github.com/jbweber/mech/internal/provision"
	"github.com/jbweber/mech/internal/sshconfig"
	"github.com/jbweber/mech/internal/vmx"
)

var (
	vmxCPUs    int
	vmxMemSize int

	provisionShow   bool
	provisionStrict bool

	authInfoSave    string
	authInfoMechUse bool
)

func init() {
	vmxCmd.AddCommand(vmxUpdateCmd)
	vmxUpdateCmd.Flags().IntVar(&vmxCPUs, "cpus", 0, "Number of virtual CPUs")
	vmxUpdateCmd.Flags().IntVar(&vmxMemSize, "memsize", 0, "Memory in MB")

	provisionCmd.Flags().BoolVar(&provisionShow, "show", false, "Show the provisioning steps without running them")
	provisionCmd.Flags().BoolVar(&provisionStrict, "strict", false, "Exit non-zero when any step fails")

	authCmd.AddCommand(authAddCmd)
	authCmd.AddCommand(authInfoCmd)
	authInfoCmd.Flags().StringVar(&authInfoSave, "save", "", "Record the auth info on this instance")
	authInfoCmd.Flags().BoolVar(&authInfoMechUse, "mech-use", false, "Also trust the key for mech's own ssh access")

	userCmd.AddCommand(userDeleteCmd)
}

// VMX commands
var vmxCmd = &cobra.Command{
	Use:   "vmx",
	Short: "Manage instance vmx files",
}

var vmxUpdateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Update an instance's vmx file",
	Long: `Ensure the instance's vmx file has a network interface and apply CPU
and memory settings.

Values given as flags are also recorded in the Mechfile.

Example:
  mech vmx update web --cpus 2 --memsize 2048`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if cmd.Flags().Changed("cpus") && vmxCPUs <= 0 {
			return fmt.Errorf("--cpus must be > 0, got %d", vmxCPUs)
		}
		if cmd.Flags().Changed("memsize") && vmxMemSize <= 0 {
			return fmt.Errorf("--memsize must be > 0, got %d", vmxMemSize)
		}

		store, err := newStore()
		if err != nil {
			return err
		}
		inst, err := loadInstance(name)
		if err != nil {
			return err
		}
		if !inst.Created() {
			return fmt.Errorf("instance %s has no vmx file: %w", name, auth.ErrVMNotCreated)
		}

		res := inst.Resources
		entry := inst.Entry
		changed := false
		if cmd.Flags().Changed("cpus") {
			res.CPUs = pointer.To(vmxCPUs)
			entry.CPUs = pointer.To(vmxCPUs)
			changed = true
		}
		if cmd.Flags().Changed("memsize") {
			res.MemoryMB = pointer.To(vmxMemSize)
			entry.MemSize = pointer.To(vmxMemSize)
			changed = true
		}

		result, err := vmx.UpdateFile(inst.VMX, res, logger)
		if err != nil {
			return fmt.Errorf("failed to update vmx: %w", err)
		}
		printMessages(result.Messages)

		if changed {
			if err := store.SaveEntry(entry, name, true); err != nil {
				return fmt.Errorf("failed to save entry: %w", err)
			}
		}

		if result.Written {
			fmt.Printf("%s Updated %s\n", okMark, inst.VMX)
		} else {
			fmt.Printf("%s %s is up to date\n", okMark, inst.VMX)
		}
		return nil
	},
}

var provisionCmd = &cobra.Command{
	Use:   "provision <name>",
	Short: "Provision an instance",
	Long: `Run the instance's provisioning steps in the guest.

File steps copy a host file into the guest. Shell steps run a host script
or an inline script with optional KEY=VALUE arguments. Instances with
use_psk are provisioned over SSH, others through VMware Tools.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		inst, err := loadInstance(args[0])
		if err != nil {
			return err
		}

		opts := []provision.Option{
			provision.WithBaseDir(settings.ProjectDir),
			provision.WithLogger(logger),
		}

		var p *provision.Provisioner
		if provisionShow {
			p = provision.New(nil, opts...)
		} else {
			vm, err := newVMRun()
			if err != nil {
				return err
			}
			ssh, err := dialGuest(ctx, vm, inst)
			if err != nil {
				return err
			}
			defer closeGuest(ssh)
			if ssh != nil {
				opts = append(opts, provision.WithSSH(ssh))
			}
			p = provision.New(vm, opts...)
		}

		report, err := p.Run(ctx, inst, provisionShow)
		if err != nil {
			return fmt.Errorf("failed to provision %s: %w", inst.Name, err)
		}

		if provisionShow {
			fmt.Print(report.Shown)
			return nil
		}
		printReport(report)

		if provisionStrict {
			return report.Err()
		}
		return nil
	},
}

func printReport(report provision.Report) {
	printMessages(report.Messages)
	for _, o := range report.Outcomes {
		printMessages(o.Messages)
		if o.OK {
			fmt.Printf("%s step %d (%s)\n", okMark, o.Index+1, o.Step.Type)
			continue
		}
		fmt.Printf("%s step %d (%s)", failMark, o.Index+1, o.Step.Type)
		if o.Err != nil {
			fmt.Printf(": %v", o.Err)
		}
		fmt.Println()
	}
	if failed := report.Failed(); len(failed) > 0 {
		color.Yellow("%d of %d steps failed", len(failed), len(report.Outcomes))
	}
}

// Auth commands
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage guest authentication",
}

var authAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add the instance's auth user and key to the guest",
	Long: `Create the user named in the instance's auth block and install its
public key in the guest. Requires VMware Tools to be running.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		inst, err := loadInstance(args[0])
		if err != nil {
			return err
		}
		vm, err := newVMRun()
		if err != nil {
			return err
		}

		result, err := auth.NewManager(vm, auth.WithLogger(logger)).AddAuth(ctx, inst)
		printMessages(result.Messages)
		if err != nil {
			return err
		}
		if result.OK {
			fmt.Printf("%s Auth added to %s\n", okMark, inst.Name)
		}
		return nil
	},
}

var authInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the host identity used for guest auth",
	Long: `Show the current user and default public key that auth add installs.

With --save the values are recorded in the named instance's auth block.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := auth.GetInfoForAuth()
		if err != nil {
			return err
		}
		info.MechUse = authInfoMechUse

		fmt.Printf("username: %s\n", info.Username)
		fmt.Printf("pub_key:  %s\n", info.PubKey)
		fmt.Printf("mech_use: %t\n", info.MechUse)

		if authInfoSave == "" {
			return nil
		}
		store, err := newStore()
		if err != nil {
			return err
		}
		entry, err := store.Get(authInfoSave)
		if err != nil {
			return fmt.Errorf("failed to load instance %s: %w", authInfoSave, err)
		}
		entry.Auth = &info
		if err := store.SaveEntry(entry, authInfoSave, true); err != nil {
			return fmt.Errorf("failed to save entry: %w", err)
		}
		fmt.Printf("%s Saved auth for %s\n", okMark, authInfoSave)
		return nil
	},
}

// User commands
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage guest users",
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <name> <username>",
	Short: "Delete a user from the guest",
	Long: `Delete a user and its home directory from the guest. Instances with
use_psk are reached over SSH, others through VMware Tools.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		inst, err := loadInstance(args[0])
		if err != nil {
			return err
		}
		vm, err := newVMRun()
		if err != nil {
			return err
		}

		opts := []auth.Option{auth.WithLogger(logger)}
		ssh, err := dialGuest(ctx, vm, inst)
		if err != nil {
			return err
		}
		defer closeGuest(ssh)
		if ssh != nil {
			opts = append(opts, auth.WithSSH(ssh))
		}

		result, err := auth.NewManager(vm, opts...).DelUser(ctx, inst, args[1])
		printMessages(result.Messages)
		return err
	},
}

var sshConfigCmd = &cobra.Command{
	Use:   "ssh-config <name>",
	Short: "Print an ssh config block for an instance",
	Long: `Print an ssh client config block for the instance, suitable for
ssh -F. The guest address is read from VMware Tools.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := loadInstance(args[0])
		if err != nil {
			return err
		}
		vm, err := newVMRun()
		if err != nil {
			return err
		}

		params, err := sshParams(context.Background(), vm, inst)
		if err != nil {
			return err
		}
		fmt.Print(sshconfig.ForInstance(params).String())
		return nil
	},
}
