// Package cli — clean.go implements the "libship clean" command.
//
// The clean command removes stale build output directories from the
// working tree without touching Docker. It is the standalone form of the
// sweep that publish runs before every build, useful for freeing disk
// space or forcing a from-scratch build.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/libship/internal/clean"
	"github.com/mmr-tortoise/libship/internal/config"
	"github.com/mmr-tortoise/libship/internal/model"
)

// cleanFlags holds the flag values for the clean command.
type cleanFlags struct {
	// dryRun reports what would be removed without removing anything.
	dryRun bool
}

// NewCleanCommand creates the "clean" cobra command.
func NewCleanCommand() *cobra.Command {
	flags := &cleanFlags{}

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale build output from the working tree",
		Long: `Remove every build output directory under the working tree, except
those inside a virtualenv.

Examples:
  libship clean
  libship clean --dry-run`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.dryRun, "dry-run", "n", false, "Show what would be removed without removing")

	return cmd
}

// runClean is the main logic function for the clean command.
func runClean(flags *cleanFlags) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	root, err := os.Getwd()
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "cannot determine working directory", err)
	}

	removed, err := clean.Sweep(clean.Options{
		Root:       root,
		TargetDir:  cfg.Clean.TargetDir,
		SkipMarker: cfg.Clean.SkipMarker,
		DryRun:     flags.dryRun,
	})
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "sweep failed", err)
	}

	if IsJSONOutput() {
		result := struct {
			Removed []string `json:"removed"`
			DryRun  bool     `json:"dryRun"`
		}{Removed: removed, DryRun: flags.dryRun}
		if result.Removed == nil {
			result.Removed = []string{}
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	if len(removed) == 0 {
		fmt.Println("Nothing to remove.")
		return nil
	}
	verb := "Removed"
	if flags.dryRun {
		verb = "Would remove"
	}
	for _, path := range removed {
		fmt.Printf("%s %s\n", verb, path)
	}
	return nil
}
