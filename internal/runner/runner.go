// Package runner implements the publish orchestration: clean the working
// tree, build the builder image once, run the packaging command in a fresh
// container per library against a shared throwaway database, tear
// everything down, and report per-library results.
//
// The sequence is strictly sequential — one library at a time, in list
// order. A library failure is recorded, not propagated: unless fail-fast
// is enabled, every library in the list is attempted regardless of earlier
// outcomes. Teardown runs exactly once per run, including runs that die
// during the build or provision steps.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mmr-tortoise/libship/internal/config"
	"github.com/mmr-tortoise/libship/internal/docker"
	"github.com/mmr-tortoise/libship/internal/model"
	"github.com/mmr-tortoise/libship/internal/report"
)

// Engine abstracts the Docker operations a run performs. internal/docker
// provides the real implementation; tests substitute a fake.
type Engine interface {
	// BuildImage builds the builder image. Fatal on error.
	BuildImage(ctx context.Context, opts docker.BuildOptions) error

	// CreateNetwork creates the run network and returns its ID.
	CreateNetwork(ctx context.Context, name string, labels map[string]string) (string, error)

	// StartDatabase starts the database container and returns its ID.
	StartDatabase(ctx context.Context, opts docker.DatabaseOptions) (string, error)

	// RunBuilder runs one library's packaging container to completion and
	// returns the command's exit code. A non-zero exit code is not an
	// error.
	RunBuilder(ctx context.Context, opts docker.BuilderOptions) (int, error)

	// TeardownRun removes every resource labeled with the run ID.
	TeardownRun(ctx context.Context, runID string) error

	// RemoveImage removes the builder image.
	RemoveImage(ctx context.Context, ref string) error
}

// ReadyWaiter blocks until the database accepts connections or a bounded
// timeout expires.
type ReadyWaiter interface {
	Wait(ctx context.Context) error
}

// CleanFunc removes stale build output and returns the removed paths.
type CleanFunc func() ([]string, error)

// Runner orchestrates one publish run.
type Runner struct {
	cfg    *config.Config
	engine Engine
	waiter ReadyWaiter
	clean  CleanFunc
	logger zerolog.Logger

	// root is the working tree: libraries live in root/<name>, and
	// artifacts are collected from root/<name>/target/dist.
	root string

	// output receives build and container logs. Nil discards them.
	output io.Writer
}

// Options configures a Runner.
type Options struct {
	Config *config.Config
	Engine Engine
	Waiter ReadyWaiter
	Clean  CleanFunc
	Logger zerolog.Logger
	Root   string
	Output io.Writer
}

// New creates a Runner.
func New(opts Options) *Runner {
	return &Runner{
		cfg:    opts.Config,
		engine: opts.Engine,
		waiter: opts.Waiter,
		clean:  opts.Clean,
		logger: opts.Logger,
		root:   opts.Root,
		output: opts.Output,
	}
}

// Run executes the full workflow for the named libraries and returns the
// run report. The report is returned even on fatal errors, so callers can
// surface partial results.
//
// Per-library failures do not produce an error from Run: they are recorded
// in the report and the caller decides the process exit code.
func (r *Runner) Run(ctx context.Context, names []string) (*model.RunReport, error) {
	libs, err := r.resolveLibraries(names)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	rep := &model.RunReport{
		RunID:     runID,
		Image:     r.cfg.Image.Ref(),
		StartedAt: time.Now().UTC(),
	}
	logger := r.logger.With().Str("run_id", runID).Logger()
	logger.Info().Int("libraries", len(libs)).Str("image", rep.Image).Msg("publish run starting")

	defer func() { rep.FinishedAt = time.Now().UTC() }()

	// Teardown must happen exactly once, whether the run finishes all
	// libraries or dies during build/provision. sync.Once plus a deferred
	// call covers every exit path; the explicit call below keeps teardown
	// ordered before artifact collection on the normal path.
	var teardownOnce sync.Once
	teardown := func() {
		teardownOnce.Do(func() {
			// Teardown uses a fresh context: the run context may already
			// be cancelled, and cleanup must still proceed.
			tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
			defer cancel()

			if err := r.engine.TeardownRun(tctx, runID); err != nil {
				logger.Warn().Err(err).Msg("teardown incomplete; `libship down` will reap leftovers")
			} else {
				logger.Info().Msg("run resources removed")
			}

			if r.cfg.Runner.RemoveImage {
				if err := r.engine.RemoveImage(tctx, r.cfg.Image.Ref()); err != nil {
					logger.Warn().Err(err).Msg("builder image not removed")
				}
			}
		})
	}
	defer teardown()

	// Step 1: clean stale build output so it cannot leak into the image.
	if r.clean != nil {
		removed, err := r.clean()
		if err != nil {
			return rep, model.WrapCLIError(model.ExitGeneralError, "stale artifact sweep failed", err)
		}
		logger.Info().Int("removed", len(removed)).Msg("stale build output swept")
	}

	// Step 2: build the builder image, exactly once for the whole run.
	buildOpts := docker.BuildOptions{
		ContextDir:  r.cfg.Image.ContextDir,
		Dockerfile:  r.cfg.Image.Dockerfile,
		Ref:         r.cfg.Image.Ref(),
		Labels:      docker.RunLabels(runID, docker.RoleBuilder),
		ExcludeDirs: docker.ContextExcludes(r.cfg.Clean.TargetDir, r.cfg.Clean.SkipMarker),
		Output:      r.output,
	}
	if err := r.engine.BuildImage(ctx, buildOpts); err != nil {
		return rep, asCLIError(err, model.ExitImageBuildFailed, "builder image build failed")
	}

	// Step 3: provision the run network and database, then wait until the
	// database actually accepts connections.
	netName := resourceName(runID, "net")
	if _, err := r.engine.CreateNetwork(ctx, netName, docker.RunLabels(runID, docker.RoleNetwork)); err != nil {
		return rep, asCLIError(err, model.ExitDockerNotRunning, "failed to create run network")
	}

	dbOpts := docker.DatabaseOptions{
		Image:       r.cfg.Database.Image,
		Env:         r.cfg.Database.Env(),
		Port:        r.cfg.Database.Port,
		Alias:       r.cfg.Database.Alias,
		NetworkName: netName,
		Name:        resourceName(runID, "db"),
		Labels:      docker.RunLabels(runID, docker.RoleDatabase),
	}
	if _, err := r.engine.StartDatabase(ctx, dbOpts); err != nil {
		return rep, asCLIError(err, model.ExitDockerNotRunning, "failed to start database container")
	}

	if r.waiter != nil {
		if err := r.waiter.Wait(ctx); err != nil {
			return rep, asCLIError(err, model.ExitDatabaseNotReady, "database did not become ready")
		}
	}

	// Step 4: one builder container per library, sequentially, in order.
	failed := false
	for _, lib := range libs {
		if failed && r.cfg.Runner.FailFast {
			logger.Warn().Str("library", lib.Name).Msg("skipped (fail-fast)")
			rep.Results = append(rep.Results, model.RunResult{
				Library: lib,
				Status:  model.StatusSkipped,
			})
			continue
		}

		result := r.runLibrary(ctx, runID, netName, lib, logger)
		if !result.Succeeded() {
			failed = true
		}
		rep.Results = append(rep.Results, result)

		if errors.Is(ctx.Err(), context.Canceled) {
			return rep, ctx.Err()
		}
	}

	// Step 5: teardown before artifact collection, so the report reflects
	// the post-cleanup state of the host.
	teardown()

	// Step 6: collect package artifacts left in the bind-mounted library
	// directories. Failure to enumerate them doesn't fail the run.
	artifacts, err := report.CollectArtifacts(r.root, libs)
	if err != nil {
		logger.Warn().Err(err).Msg("artifact collection failed")
	} else {
		rep.Artifacts = artifacts
	}

	logger.Info().Int("failed", rep.FailedCount()).Int("total", len(rep.Results)).
		Msg("publish run finished")
	return rep, nil
}

// runLibrary runs one library's packaging container and records the
// outcome. Failures are captured in the result, never returned.
func (r *Runner) runLibrary(ctx context.Context, runID, netName string, lib model.Library, logger zerolog.Logger) model.RunResult {
	logger.Info().Str("library", lib.Name).Str("mount", lib.MountPath).Msg("publishing library")

	start := time.Now()
	exitCode, err := r.engine.RunBuilder(ctx, docker.BuilderOptions{
		Image:       r.cfg.Image.Ref(),
		Cmd:         r.cfg.Runner.Command,
		Env:         r.builderEnv(),
		HostDir:     filepath.Join(r.root, lib.Name),
		MountPath:   lib.MountPath,
		NetworkName: netName,
		Name:        resourceName(runID, lib.Name),
		Labels:      docker.LibraryLabels(runID, lib.Name),
		Output:      r.output,
	})
	duration := time.Since(start)

	result := model.RunResult{
		Library:  lib,
		ExitCode: exitCode,
		Duration: duration,
	}
	switch {
	case err != nil:
		result.Status = model.StatusFailed
		result.Error = err.Error()
		logger.Error().Err(err).Str("library", lib.Name).Msg("packaging step could not run")
	case exitCode != 0:
		result.Status = model.StatusFailed
		logger.Error().Int("exit_code", exitCode).Str("library", lib.Name).Msg("packaging step failed")
	default:
		result.Status = model.StatusSucceeded
		logger.Info().Dur("duration", duration).Str("library", lib.Name).Msg("library published")
	}
	return result
}

// resolveLibraries validates names and derives mount paths.
func (r *Runner) resolveLibraries(names []string) ([]model.Library, error) {
	if len(names) == 0 {
		return nil, model.NewCLIError(model.ExitConfigError, "no libraries to publish")
	}

	libs := make([]model.Library, 0, len(names))
	for _, name := range names {
		if err := model.ValidateName(name); err != nil {
			return nil, model.WrapCLIError(model.ExitConfigError, "invalid library list", err)
		}
		libs = append(libs, model.NewLibrary(name, r.cfg.Runner.MountPrefix))
	}
	return libs, nil
}

// builderEnv exposes the database coordinates to the packaging command,
// addressed via the in-network alias rather than the host port.
func (r *Runner) builderEnv() []string {
	db := r.cfg.Database
	return []string{
		"MYSQL_HOST=" + db.Alias,
		fmt.Sprintf("MYSQL_PORT=%d", db.Port),
		"MYSQL_USER=" + db.User,
		"MYSQL_PASSWORD=" + db.Password,
		"MYSQL_DATABASE=" + db.Name,
	}
}

// resourceName builds a container/network name scoped to the run, so
// concurrent runs on one host never collide.
func resourceName(runID, suffix string) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return "libship-" + short + "-" + suffix
}

// asCLIError returns err unchanged when it already carries an exit code,
// otherwise wraps it with the given one.
func asCLIError(err error, code model.ExitCode, msg string) error {
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		return err
	}
	return model.WrapCLIError(code, msg, err)
}
