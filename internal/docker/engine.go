package docker

import (
	"context"

	"github.com/rs/zerolog"
)

// Engine bundles a Client with a logger and exposes the operations the
// publish runner needs. It satisfies the runner's Engine interface.
type Engine struct {
	cli    *Client
	logger zerolog.Logger
}

// NewEngine creates an Engine around an existing Client.
func NewEngine(cli *Client, logger zerolog.Logger) *Engine {
	return &Engine{cli: cli, logger: logger}
}

// BuildImage builds the builder image.
func (e *Engine) BuildImage(ctx context.Context, opts BuildOptions) error {
	return BuildImage(ctx, e.cli, opts, e.logger)
}

// CreateNetwork creates the run network.
func (e *Engine) CreateNetwork(ctx context.Context, name string, labels map[string]string) (string, error) {
	return CreateNetwork(ctx, e.cli, name, labels)
}

// StartDatabase starts the database container.
func (e *Engine) StartDatabase(ctx context.Context, opts DatabaseOptions) (string, error) {
	return StartDatabase(ctx, e.cli, opts, e.logger)
}

// RunBuilder runs one library's packaging container to completion.
func (e *Engine) RunBuilder(ctx context.Context, opts BuilderOptions) (int, error) {
	return RunBuilder(ctx, e.cli, opts, e.logger)
}

// TeardownRun removes every resource labeled with the run ID.
func (e *Engine) TeardownRun(ctx context.Context, runID string) error {
	return TeardownRun(ctx, e.cli, runID, e.logger)
}

// RemoveImage removes the builder image.
func (e *Engine) RemoveImage(ctx context.Context, ref string) error {
	return RemoveImage(ctx, e.cli, ref)
}
