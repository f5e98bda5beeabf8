// Package cli — publish.go implements the "libship publish" command.
//
// The publish command runs the full workflow: sweep stale build output,
// build the builder image, start a run-scoped network and MySQL container,
// run the packaging command for each library in its own container, tear
// everything down, and print a per-library summary.
//
// The library set comes from positional arguments when given, otherwise
// from the libship.jsonc manifest in the working tree, otherwise from the
// configured default set.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/libship/internal/clean"
	"github.com/mmr-tortoise/libship/internal/config"
	"github.com/mmr-tortoise/libship/internal/docker"
	"github.com/mmr-tortoise/libship/internal/manifest"
	"github.com/mmr-tortoise/libship/internal/model"
	"github.com/mmr-tortoise/libship/internal/readiness"
	"github.com/mmr-tortoise/libship/internal/report"
	"github.com/mmr-tortoise/libship/internal/runner"
)

// publishFlags holds the flag values for the publish command.
type publishFlags struct {
	// failFast stops scheduling new libraries after the first failure.
	// Already-recorded results are kept; remaining ones become "skipped".
	failFast bool

	// rmi removes the builder image during teardown.
	rmi bool

	// reportPath, when non-empty, writes the run report to this file
	// (YAML for .yaml/.yml, JSON otherwise).
	reportPath string
}

// NewPublishCommand creates the "publish" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewPublishCommand() *cobra.Command {
	flags := &publishFlags{}

	cmd := &cobra.Command{
		Use:   "publish [library...]",
		Short: "Build and publish libraries from fresh containers",
		Long: `Publish the named libraries, or the default set when none are given.

Each library runs in its own container from a builder image built once per
run, with a disposable MySQL database reachable under its network alias.
Libraries run sequentially, in order; a failure is recorded and the run
continues unless --fail-fast is set.

Examples:
  libship publish
  libship publish sqllib cachelib
  libship publish --fail-fast --report run.yaml
  libship publish --rmi --json`,

		// Arbitrary positional arguments: each is a library name, or a
		// whitespace-separated list of names (shell-quoted groups work).
		Args: cobra.ArbitraryArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, args, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.failFast, "fail-fast", false, "Skip remaining libraries after the first failure")
	cmd.Flags().BoolVar(&flags.rmi, "rmi", false, "Remove the builder image during teardown")
	cmd.Flags().StringVar(&flags.reportPath, "report", "", "Write the run report to this file")

	return cmd
}

// runPublish is the main logic function for the publish command.
func runPublish(cmd *cobra.Command, args []string, flags *publishFlags) error {
	logger := newLogger()

	// Step 1: Load configuration and apply the optional manifest.
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err // Load already returns CLIError with ExitConfigError
	}

	root, err := os.Getwd()
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "cannot determine working directory", err)
	}

	man, found, err := manifest.Find(root)
	if err != nil {
		return model.WrapCLIError(model.ExitConfigError, "manifest rejected", err)
	}
	if found {
		applyManifest(cfg, man)
		logger.Debug().Str("file", manifest.DefaultFileName).Msg("manifest applied")
	}

	if flags.failFast {
		cfg.Runner.FailFast = true
	}
	if flags.rmi {
		cfg.Runner.RemoveImage = true
	}

	// Step 2: Resolve the library set. Positional arguments win over the
	// manifest, which wins over the configured defaults.
	names, err := resolveLibraryNames(args, cfg)
	if err != nil {
		return err
	}

	// Step 3: Connect to Docker and verify the daemon is available.
	cli, err := docker.NewClient()
	if err != nil {
		return err // NewClient already returns CLIError with ExitDockerNotRunning
	}
	defer func() { _ = cli.Close() }()

	if err := cli.Ping(cmd.Context()); err != nil {
		return err
	}
	logger.Debug().Msg("connected to Docker daemon")

	// Step 4: Assemble the runner. Build and container output streams to
	// the terminal in verbose mode and is discarded otherwise.
	var output io.Writer
	if verbose {
		output = os.Stderr
	}

	db := cfg.Database
	waiter := readiness.NewWaiter(
		readiness.NewMySQLPinger(db.DSN()),
		db.ReadyTimeout, db.ReadyInterval, logger,
	)

	sweep := func() ([]string, error) {
		return clean.Sweep(clean.Options{
			Root:       root,
			TargetDir:  cfg.Clean.TargetDir,
			SkipMarker: cfg.Clean.SkipMarker,
		})
	}

	r := runner.New(runner.Options{
		Config: cfg,
		Engine: docker.NewEngine(cli, logger),
		Waiter: waiter,
		Clean:  sweep,
		Logger: logger,
		Root:   root,
		Output: output,
	})

	// Step 5: Run. Fatal errors (build, provision, readiness) surface
	// here with their own exit codes; per-library failures are in the
	// report.
	rep, err := r.Run(cmd.Context(), names)
	if err != nil {
		return err
	}

	// Step 6: Persist the report if requested, then print the summary.
	if flags.reportPath != "" {
		if err := report.Write(flags.reportPath, rep); err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to write run report", err)
		}
		logger.Info().Str("path", flags.reportPath).Msg("run report written")
	}

	printPublishResult(rep)

	if !rep.Succeeded() {
		return model.NewCLIError(model.ExitPublishFailed,
			fmt.Sprintf("%d of %d libraries failed", rep.FailedCount(), len(rep.Results)))
	}
	return nil
}

// applyManifest overlays manifest values onto the loaded config.
// Only the fields the manifest sets are overridden.
func applyManifest(cfg *config.Config, man *manifest.Manifest) {
	if len(man.Libraries) > 0 {
		cfg.Runner.Libraries = man.Libraries
	}
	if len(man.Command) > 0 {
		cfg.Runner.Command = man.Command
	}
	if man.Image != nil {
		if man.Image.Name != "" {
			cfg.Image.Name = man.Image.Name
		}
		if man.Image.Tag != "" {
			cfg.Image.Tag = man.Image.Tag
		}
	}
}

// resolveLibraryNames picks the library set for this run. Each positional
// argument may itself hold several whitespace-separated names, matching
// how the set is passed through environment variables and scripts.
func resolveLibraryNames(args []string, cfg *config.Config) ([]string, error) {
	if len(args) > 0 {
		return model.SplitLibraryNames(args), nil
	}
	if len(cfg.Runner.Libraries) == 0 {
		return nil, model.NewCLIError(model.ExitConfigError, "no libraries configured")
	}
	return cfg.Runner.Libraries, nil
}

// printPublishResult outputs the run summary in text or JSON format,
// depending on the global --json flag.
func printPublishResult(rep *model.RunReport) {
	if IsJSONOutput() {
		data, _ := json.MarshalIndent(rep, "", "  ")
		fmt.Println(string(data))
		return
	}

	statusColor := map[model.RunStatus]*color.Color{
		model.StatusSucceeded: color.New(color.FgGreen),
		model.StatusFailed:    color.New(color.FgRed),
		model.StatusSkipped:   color.New(color.FgYellow),
	}

	fmt.Printf("\nRun %s (%s)\n", rep.RunID, rep.Image)
	fmt.Printf("%-20s %-10s %-8s %s\n", "LIBRARY", "STATUS", "EXIT", "DURATION")
	for _, res := range rep.Results {
		c := statusColor[res.Status]
		fmt.Printf("%-20s %-10s %-8d %s\n",
			res.Library.Name,
			c.Sprint(res.Status.String()),
			res.ExitCode,
			res.Duration.Round(time.Millisecond),
		)
	}

	if len(rep.Artifacts) > 0 {
		fmt.Printf("\nArtifacts:\n")
		for _, a := range rep.Artifacts {
			fmt.Printf("  %s (%d bytes)\n", a.Path, a.Size)
		}
	}
	fmt.Println()
}
