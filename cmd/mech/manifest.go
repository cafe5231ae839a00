package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/mech/internal/box"
	"github.com/jbweber/mech/internal/catalog"
	"github.com/jbweber/mech/internal/output"
)

var (
	addName       string
	addBox        string
	addBoxVersion string
	addProvider   string

	outputFormat string
	noHeaders    bool
)

func init() {
	addCmd.Flags().StringVar(&addName, "name", "first", "Instance name")
	addCmd.Flags().StringVar(&addBox, "box", "", "Box name recorded for URL locations")
	addCmd.Flags().StringVar(&addBoxVersion, "box-version", "", "Box version (default: latest from the catalog)")
	addCmd.Flags().StringVar(&addProvider, "provider", "", "Box provider (default: from settings)")

	listCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, yaml, json")
	listCmd.Flags().BoolVar(&noHeaders, "no-headers", false, "Omit table headers")
}

func newResolver() *box.Resolver {
	return box.NewResolver(catalog.NewHTTPClient(settings.CatalogURL, logger), logger)
}

var addCmd = &cobra.Command{
	Use:   "add [location]",
	Short: "Add an instance to the Mechfile",
	Long: `Resolve a box location and record it in the Mechfile.

The location is one of:
  https://host/path.box   a direct box URL
  file:path/catalog.json  a catalog document on disk
  org/box                 a box in the remote catalog

Example:
  mech add bento/ubuntu-18.04 --name web`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := addProvider
		if provider == "" {
			provider = settings.Provider
		}
		req := box.Request{
			Name:       addName,
			Box:        addBox,
			BoxVersion: addBoxVersion,
			Provider:   provider,
		}
		if len(args) == 1 {
			req.Location = args[0]
		}

		entry, err := newResolver().BuildEntry(context.Background(), req)
		if err != nil {
			return fmt.Errorf("failed to resolve box: %w", err)
		}
		if entry.IsZero() {
			fmt.Println("Nothing to add")
			return nil
		}

		store, err := newStore()
		if err != nil {
			return err
		}
		if err := store.SaveEntry(entry, addName, false); err != nil {
			return fmt.Errorf("failed to save entry: %w", err)
		}

		fmt.Printf("%s Added %s (%s %s)\n", okMark, addName, orNone(entry.BoxOrEmpty()), orNone(entry.BoxVersionOrEmpty()))
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an instance from the Mechfile",
	Long: `Remove an instance entry from the Mechfile.

Removing a name that is not present succeeds.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		store, err := newStore()
		if err != nil {
			return err
		}
		if err := store.RemoveEntry(name, true); err != nil {
			return fmt.Errorf("failed to remove entry: %w", err)
		}

		fmt.Printf("%s Removed %s\n", okMark, name)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances in the Mechfile",
	Long: `List every instance recorded in the Mechfile.

Output formats:
  -o table  Human-readable table (default)
  -o yaml   Full YAML entries
  -o json   The Mechfile as stored`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}

		store, err := newStore()
		if err != nil {
			return err
		}
		m, err := store.Load(false)
		if err != nil {
			return fmt.Errorf("failed to load mechfile: %w", err)
		}

		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(outputFormat),
			NoHeaders: noHeaders,
		})
		if err != nil {
			return err
		}

		result, err := formatter.FormatMechfile(m)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Print(result)
		return nil
	},
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
