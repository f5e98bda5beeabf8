package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/libship/internal/config"
	"github.com/mmr-tortoise/libship/internal/docker"
	"github.com/mmr-tortoise/libship/internal/model"
)

// fakeEngine records every operation the runner performs, and can be
// programmed to fail specific steps or return per-library exit codes.
type fakeEngine struct {
	buildCalls    int
	buildOpts     docker.BuildOptions
	buildErr      error
	networkCalls  int
	databaseCalls int
	databaseOpts  docker.DatabaseOptions
	databaseErr   error
	builderRuns   []docker.BuilderOptions
	exitCodes     map[string]int   // library name (via label) → exit code
	runErrs       map[string]error // library name → hard error
	teardownCalls int
	teardownRunID string
	removedImages []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		exitCodes: map[string]int{},
		runErrs:   map[string]error{},
	}
}

func (f *fakeEngine) BuildImage(ctx context.Context, opts docker.BuildOptions) error {
	f.buildCalls++
	f.buildOpts = opts
	return f.buildErr
}

func (f *fakeEngine) CreateNetwork(ctx context.Context, name string, labels map[string]string) (string, error) {
	f.networkCalls++
	return "net-" + name, nil
}

func (f *fakeEngine) StartDatabase(ctx context.Context, opts docker.DatabaseOptions) (string, error) {
	f.databaseCalls++
	f.databaseOpts = opts
	return "db-container", f.databaseErr
}

func (f *fakeEngine) RunBuilder(ctx context.Context, opts docker.BuilderOptions) (int, error) {
	f.builderRuns = append(f.builderRuns, opts)
	lib := opts.Labels[docker.LabelLibrary]
	if err, ok := f.runErrs[lib]; ok {
		return 0, err
	}
	return f.exitCodes[lib], nil
}

func (f *fakeEngine) TeardownRun(ctx context.Context, runID string) error {
	f.teardownCalls++
	f.teardownRunID = runID
	return nil
}

func (f *fakeEngine) RemoveImage(ctx context.Context, ref string) error {
	f.removedImages = append(f.removedImages, ref)
	return nil
}

// readyWaiter is a ReadyWaiter that always reports ready.
type readyWaiter struct{ err error }

func (w readyWaiter) Wait(ctx context.Context) error { return w.err }

// testConfig returns a config with the built-in defaults, bypassing viper.
func testConfig() *config.Config {
	return &config.Config{
		Image: config.ImageConfig{Name: "pylibs-builder", Tag: "latest", ContextDir: ".", Dockerfile: "Dockerfile"},
		Database: config.DatabaseConfig{
			Image: "mysql:8.0", RootPassword: "root", User: "pylibs", Password: "pylibs",
			Name: "pylibs", Port: 3306, Alias: "mysql",
			ReadyTimeout: time.Minute, ReadyInterval: time.Second,
		},
		Runner: config.RunnerConfig{
			MountPrefix: "/srv/src/",
			Command:     []string{"pyb", "install_dependencies", "publish", "-v"},
			Libraries:   config.DefaultLibraries,
		},
		Clean: config.CleanConfig{TargetDir: "target", SkipMarker: ".venv"},
	}
}

// newTestRunner wires a Runner around the fake engine.
func newTestRunner(t *testing.T, cfg *config.Config, engine Engine) *Runner {
	t.Helper()
	return New(Options{
		Config: cfg,
		Engine: engine,
		Waiter: readyWaiter{},
		Logger: zerolog.Nop(),
		Root:   t.TempDir(),
	})
}

// libraryNames extracts the library label from recorded builder runs, in
// execution order.
func libraryNames(runs []docker.BuilderOptions) []string {
	var names []string
	for _, run := range runs {
		names = append(names, run.Labels[docker.LabelLibrary])
	}
	return names
}

// TestRunDefaultLibraries verifies the fixed default set of four libraries
// is processed in order when the caller passes the configured defaults.
func TestRunDefaultLibraries(t *testing.T) {
	engine := newFakeEngine()
	cfg := testConfig()
	r := newTestRunner(t, cfg, engine)

	rep, err := r.Run(context.Background(), cfg.Runner.Libraries)
	require.NoError(t, err)

	assert.Equal(t, []string{"sqllib", "configlib", "cachelib", "apilib"}, libraryNames(engine.builderRuns))
	assert.Len(t, rep.Results, 4)
	assert.True(t, rep.Succeeded())
	assert.Equal(t, 1, engine.buildCalls, "image must be built exactly once per run")
}

// TestRunExplicitLibraries verifies exactly the named libraries run, in
// the given order, each mounted at prefix+name, all against the single
// image built for the run.
func TestRunExplicitLibraries(t *testing.T) {
	engine := newFakeEngine()
	r := newTestRunner(t, testConfig(), engine)

	rep, err := r.Run(context.Background(), []string{"sqllib", "cachelib"})
	require.NoError(t, err)

	require.Len(t, engine.builderRuns, 2)
	assert.Equal(t, []string{"sqllib", "cachelib"}, libraryNames(engine.builderRuns))
	assert.Equal(t, "/srv/src/sqllib", engine.builderRuns[0].MountPath)
	assert.Equal(t, "/srv/src/cachelib", engine.builderRuns[1].MountPath)

	for _, run := range engine.builderRuns {
		assert.Equal(t, "pylibs-builder:latest", run.Image)
		assert.Equal(t, []string{"pyb", "install_dependencies", "publish", "-v"}, run.Cmd)
	}
	assert.Equal(t, 1, engine.buildCalls)
	assert.Len(t, rep.Results, 2)
}

// TestRunBuildFailure verifies a failed image build is fatal: zero library
// runs are attempted, yet teardown still happens exactly once.
func TestRunBuildFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.buildErr = errors.New("dockerfile syntax error")
	r := newTestRunner(t, testConfig(), engine)

	rep, err := r.Run(context.Background(), []string{"sqllib", "cachelib"})
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitImageBuildFailed, cliErr.Code)

	assert.Empty(t, engine.builderRuns, "no library may run after a build failure")
	assert.Empty(t, rep.Results)
	assert.Equal(t, 1, engine.teardownCalls, "teardown must run even on build failure")
}

// TestRunContinuesAfterLibraryFailure verifies the no-short-circuit
// policy: a failed library never prevents the remaining ones.
func TestRunContinuesAfterLibraryFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.exitCodes["configlib"] = 1
	r := newTestRunner(t, testConfig(), engine)

	rep, err := r.Run(context.Background(), []string{"sqllib", "configlib", "cachelib"})
	require.NoError(t, err, "library failures are recorded, not returned")

	assert.Equal(t, []string{"sqllib", "configlib", "cachelib"}, libraryNames(engine.builderRuns))

	require.Len(t, rep.Results, 3)
	assert.Equal(t, model.StatusSucceeded, rep.Results[0].Status)
	assert.Equal(t, model.StatusFailed, rep.Results[1].Status)
	assert.Equal(t, 1, rep.Results[1].ExitCode)
	assert.Equal(t, model.StatusSucceeded, rep.Results[2].Status)

	assert.False(t, rep.Succeeded())
	assert.Equal(t, 1, rep.FailedCount())
}

// TestRunFailFast verifies the opt-in fail-fast policy records remaining
// libraries as skipped without running them.
func TestRunFailFast(t *testing.T) {
	engine := newFakeEngine()
	engine.exitCodes["sqllib"] = 2
	cfg := testConfig()
	cfg.Runner.FailFast = true
	r := newTestRunner(t, cfg, engine)

	rep, err := r.Run(context.Background(), []string{"sqllib", "configlib", "cachelib"})
	require.NoError(t, err)

	assert.Equal(t, []string{"sqllib"}, libraryNames(engine.builderRuns))

	require.Len(t, rep.Results, 3)
	assert.Equal(t, model.StatusFailed, rep.Results[0].Status)
	assert.Equal(t, model.StatusSkipped, rep.Results[1].Status)
	assert.Equal(t, model.StatusSkipped, rep.Results[2].Status)
	assert.Equal(t, 1, engine.teardownCalls)
}

// TestRunHardFailure verifies a container that cannot even start is
// recorded as failed with the error preserved, and later libraries still
// run.
func TestRunHardFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.runErrs["sqllib"] = errors.New("bind mount source missing")
	r := newTestRunner(t, testConfig(), engine)

	rep, err := r.Run(context.Background(), []string{"sqllib", "cachelib"})
	require.NoError(t, err)

	require.Len(t, rep.Results, 2)
	assert.Equal(t, model.StatusFailed, rep.Results[0].Status)
	assert.Contains(t, rep.Results[0].Error, "bind mount source missing")
	assert.Equal(t, model.StatusSucceeded, rep.Results[1].Status)
}

// TestRunTeardownOnce verifies teardown is invoked exactly once per run on
// the success path, after the last library step.
func TestRunTeardownOnce(t *testing.T) {
	engine := newFakeEngine()
	r := newTestRunner(t, testConfig(), engine)

	rep, err := r.Run(context.Background(), []string{"sqllib"})
	require.NoError(t, err)

	assert.Equal(t, 1, engine.teardownCalls)
	assert.Equal(t, rep.RunID, engine.teardownRunID, "teardown must target this run's resources only")
	assert.Empty(t, engine.removedImages, "image removal is opt-in")
}

// TestRunRemoveImage verifies the opt-in image removal during teardown.
func TestRunRemoveImage(t *testing.T) {
	engine := newFakeEngine()
	cfg := testConfig()
	cfg.Runner.RemoveImage = true
	r := newTestRunner(t, cfg, engine)

	_, err := r.Run(context.Background(), []string{"sqllib"})
	require.NoError(t, err)

	assert.Equal(t, []string{"pylibs-builder:latest"}, engine.removedImages)
}

// TestRunDatabaseNotReady verifies a readiness timeout is fatal with
// teardown, and no library is attempted.
func TestRunDatabaseNotReady(t *testing.T) {
	engine := newFakeEngine()
	cfg := testConfig()
	r := New(Options{
		Config: cfg,
		Engine: engine,
		Waiter: readyWaiter{err: model.NewCLIError(model.ExitDatabaseNotReady, "database not ready after 60s")},
		Logger: zerolog.Nop(),
		Root:   t.TempDir(),
	})

	_, err := r.Run(context.Background(), []string{"sqllib"})
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitDatabaseNotReady, cliErr.Code)
	assert.Empty(t, engine.builderRuns)
	assert.Equal(t, 1, engine.teardownCalls)
}

// TestRunDatabaseWiring verifies the database container is provisioned
// with the configured credentials, alias and labels before any library.
func TestRunDatabaseWiring(t *testing.T) {
	engine := newFakeEngine()
	r := newTestRunner(t, testConfig(), engine)

	rep, err := r.Run(context.Background(), []string{"sqllib"})
	require.NoError(t, err)

	require.Equal(t, 1, engine.databaseCalls)
	assert.Equal(t, "mysql:8.0", engine.databaseOpts.Image)
	assert.Equal(t, "mysql", engine.databaseOpts.Alias)
	assert.Contains(t, engine.databaseOpts.Env, "MYSQL_DATABASE=pylibs")
	assert.Equal(t, rep.RunID, engine.databaseOpts.Labels[docker.LabelRunID])
	assert.Equal(t, docker.RoleDatabase, engine.databaseOpts.Labels[docker.LabelRole])

	// Builder containers reach the database via the alias, not the host.
	require.Len(t, engine.builderRuns, 1)
	assert.Contains(t, engine.builderRuns[0].Env, "MYSQL_HOST=mysql")
}

// TestRunCleanPrecedesBuild verifies the sweep runs before the image build
// and that a sweep failure is fatal.
func TestRunCleanPrecedesBuild(t *testing.T) {
	engine := newFakeEngine()
	cleaned := false
	r := New(Options{
		Config: testConfig(),
		Engine: engine,
		Waiter: readyWaiter{},
		Clean: func() ([]string, error) {
			cleaned = true
			require.Equal(t, 0, engine.buildCalls, "sweep must precede the image build")
			return []string{"sqllib/target"}, nil
		},
		Logger: zerolog.Nop(),
		Root:   t.TempDir(),
	})

	_, err := r.Run(context.Background(), []string{"sqllib"})
	require.NoError(t, err)
	assert.True(t, cleaned)

	// Sweep failure is fatal, but still torn down.
	engine2 := newFakeEngine()
	r2 := New(Options{
		Config: testConfig(),
		Engine: engine2,
		Waiter: readyWaiter{},
		Clean:  func() ([]string, error) { return nil, errors.New("permission denied") },
		Logger: zerolog.Nop(),
		Root:   t.TempDir(),
	})
	_, err = r2.Run(context.Background(), []string{"sqllib"})
	require.Error(t, err)
	assert.Equal(t, 0, engine2.buildCalls)
	assert.Equal(t, 1, engine2.teardownCalls)
}

// TestRunInvalidLibraryName verifies validation rejects unsafe names
// before any Docker operation.
func TestRunInvalidLibraryName(t *testing.T) {
	engine := newFakeEngine()
	r := newTestRunner(t, testConfig(), engine)

	_, err := r.Run(context.Background(), []string{"../etc"})
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
	assert.Equal(t, 0, engine.buildCalls)
}

// TestRunNoLibraries verifies an empty library list is rejected.
func TestRunNoLibraries(t *testing.T) {
	engine := newFakeEngine()
	r := newTestRunner(t, testConfig(), engine)

	_, err := r.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 0, engine.buildCalls)
}

// TestRunResourceNaming verifies run-scoped resource names embed the run
// ID prefix so concurrent runs cannot collide.
func TestRunResourceNaming(t *testing.T) {
	engine := newFakeEngine()
	r := newTestRunner(t, testConfig(), engine)

	rep, err := r.Run(context.Background(), []string{"sqllib"})
	require.NoError(t, err)

	short := rep.RunID[:8]
	assert.Equal(t, "libship-"+short+"-db", engine.databaseOpts.Name)
	require.Len(t, engine.builderRuns, 1)
	assert.Equal(t, "libship-"+short+"-sqllib", engine.builderRuns[0].Name)
}
