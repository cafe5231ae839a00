package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/mech/internal/box"
	"github.com/jbweber/mech/internal/output"
)

var (
	boxAddBox        string
	boxAddVersion    string
	boxAddProvider   string
	boxAddForce      bool
	boxListFormat    string
	boxListNoHeaders bool
)

// Box management commands
var boxCmd = &cobra.Command{
	Use:   "box",
	Short: "Manage cached boxes",
	Long: `Manage boxes downloaded into the project's box cache.

Boxes are extracted under .mech/boxes/<org>/<box>/<version> in the project
directory.`,
}

func init() {
	boxCmd.AddCommand(boxAddCmd)
	boxCmd.AddCommand(boxListCmd)
	boxCmd.AddCommand(boxRemoveCmd)

	boxAddCmd.Flags().StringVar(&boxAddBox, "box", "", "Box name for URL locations")
	boxAddCmd.Flags().StringVar(&boxAddVersion, "box-version", "", "Box version (default: latest from the catalog)")
	boxAddCmd.Flags().StringVar(&boxAddProvider, "provider", "", "Box provider (default: from settings)")
	boxAddCmd.Flags().BoolVar(&boxAddForce, "force", false, "Download again even when cached")

	boxListCmd.Flags().StringVarP(&boxListFormat, "output", "o", "table", "Output format: table, yaml, json")
	boxListCmd.Flags().BoolVar(&boxListNoHeaders, "no-headers", false, "Omit table headers")
}

var boxAddCmd = &cobra.Command{
	Use:   "add <location>",
	Short: "Download a box into the cache",
	Long: `Resolve a box location and download it into the project's box cache.

URL locations need --box and --box-version so the box can be filed.

Example:
  mech box add bento/ubuntu-18.04 --box-version 201912.04.0`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := boxAddProvider
		if provider == "" {
			provider = settings.Provider
		}
		if err := box.ValidateProvider(provider); err != nil {
			return err
		}

		ctx := context.Background()
		res, err := newResolver().Resolve(ctx, box.Request{
			Location:   args[0],
			Box:        boxAddBox,
			BoxVersion: boxAddVersion,
			Provider:   provider,
		})
		if err != nil {
			return fmt.Errorf("failed to resolve box: %w", err)
		}
		if res.Entry.IsZero() {
			return fmt.Errorf("nothing to download for %q", args[0])
		}

		cache := box.NewCache(settings.ProjectDir, logger)
		result, err := cache.Add(ctx, box.AddRequest{
			Box:          res.Entry.BoxOrEmpty(),
			Version:      res.Entry.BoxVersionOrEmpty(),
			URL:          res.Entry.URLOrEmpty(),
			Checksum:     res.Checksum,
			ChecksumType: res.ChecksumType,
			Force:        boxAddForce,
		})
		printMessages(result.Messages)
		if err != nil {
			return fmt.Errorf("failed to add box: %w", err)
		}

		if result.Cached {
			fmt.Printf("%s Box %s %s already cached\n", okMark, res.Entry.BoxOrEmpty(), res.Entry.BoxVersionOrEmpty())
			return nil
		}
		fmt.Printf("%s Box %s %s added to %s\n", okMark, res.Entry.BoxOrEmpty(), res.Entry.BoxVersionOrEmpty(), result.Dir)
		return nil
	},
}

var boxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached boxes",
	Long: `List every cached box version with its size on disk.

Output formats:
  -o table  Human-readable table (default)
  -o yaml   YAML list
  -o json   JSON list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(boxListFormat); err != nil {
			return err
		}

		boxes, err := box.NewCache(settings.ProjectDir, logger).List()
		if err != nil {
			return fmt.Errorf("failed to list boxes: %w", err)
		}

		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(boxListFormat),
			NoHeaders: boxListNoHeaders,
		})
		if err != nil {
			return err
		}

		result, err := formatter.FormatBoxes(boxes)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Print(result)
		return nil
	},
}

var boxRemoveCmd = &cobra.Command{
	Use:   "remove <box> [version]",
	Short: "Remove a cached box",
	Long: `Remove one version of a cached box, or every version when none is given.

Example:
  mech box remove bento/ubuntu-18.04 201912.04.0`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		version := ""
		if len(args) == 2 {
			version = args[1]
		}
		if _, err := box.Classify(args[0]); err != nil {
			return err
		}

		messages, err := box.NewCache(settings.ProjectDir, logger).Remove(args[0], version)
		if err != nil {
			return fmt.Errorf("failed to remove box: %w", err)
		}

		printMessages(messages)
		return nil
	},
}
