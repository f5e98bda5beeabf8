// container.go implements the container and network lifecycle for a
// publish run: the throwaway database service, the per-library builder
// containers, and label-driven teardown.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"

	"github.com/mmr-tortoise/libship/internal/model"
)

// DatabaseOptions describes the throwaway database container.
type DatabaseOptions struct {
	// Image is the database image reference (e.g. "mysql:8.0").
	Image string

	// Env is the container environment (credentials, schema name).
	Env []string

	// Port is the database port, published to the same port on the host
	// so host-side readiness probes can reach it.
	Port int

	// Alias is the network alias builder containers use to reach the
	// database.
	Alias string

	// NetworkName is the run network the container joins.
	NetworkName string

	// Name is the container name.
	Name string

	// Labels tag the container for teardown.
	Labels map[string]string
}

// BuilderOptions describes one per-library builder container run.
type BuilderOptions struct {
	// Image is the builder image reference.
	Image string

	// Cmd is the packaging command.
	Cmd []string

	// Env is extra environment for the packaging command (database
	// coordinates).
	Env []string

	// HostDir is the library's source directory on the host.
	HostDir string

	// MountPath is the container-side mount point, also the working
	// directory for Cmd.
	MountPath string

	// NetworkName is the run network the container joins.
	NetworkName string

	// Name is the container name.
	Name string

	// Labels tag the container for teardown.
	Labels map[string]string

	// Output receives the container's combined output. Nil discards it.
	Output io.Writer
}

// CreateNetwork creates the run-scoped bridge network that connects the
// database and builder containers. Returns the network ID.
func CreateNetwork(ctx context.Context, cli *Client, name string, labels map[string]string) (string, error) {
	resp, err := cli.Inner().NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: labels,
	})
	if err != nil {
		return "", model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create network %q", name),
			err,
		)
	}
	return resp.ID, nil
}

// StartDatabase creates and starts the database container, publishing its
// port to the host and attaching it to the run network under the
// configured alias. Returns the container ID. Readiness is the caller's
// concern (see internal/readiness) — a started MySQL container is not yet
// an accepting one.
func StartDatabase(ctx context.Context, cli *Client, opts DatabaseOptions, logger zerolog.Logger) (string, error) {
	if err := EnsureImage(ctx, cli, opts.Image, logger); err != nil {
		return "", model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("database image %s unavailable", opts.Image), err)
	}

	port, err := nat.NewPort("tcp", fmt.Sprintf("%d", opts.Port))
	if err != nil {
		return "", fmt.Errorf("invalid database port %d: %w", opts.Port, err)
	}

	cfg := &container.Config{
		Image:        opts.Image,
		Env:          opts.Env,
		Labels:       opts.Labels,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", opts.Port)}},
		},
	}
	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			opts.NetworkName: {Aliases: []string{opts.Alias}},
		},
	}

	created, err := cli.Inner().ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, opts.Name)
	if err != nil {
		return "", model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create database container %q", opts.Name), err)
	}

	if err := cli.Inner().ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to start database container %q", opts.Name), err)
	}

	logger.Info().Str("container", opts.Name).Str("image", opts.Image).
		Str("alias", opts.Alias).Msg("database container started")
	return created.ID, nil
}

// RunBuilder creates a builder container for one library, runs the
// packaging command to completion, and returns its exit code. The
// container is left in place for teardown to collect, so its logs remain
// inspectable after a failure.
//
// A non-zero exit code is NOT an error: the caller decides whether a
// failed library stops the run.
func RunBuilder(ctx context.Context, cli *Client, opts BuilderOptions, logger zerolog.Logger) (int, error) {
	cfg := &container.Config{
		Image:      opts.Image,
		Cmd:        opts.Cmd,
		Env:        opts.Env,
		WorkingDir: opts.MountPath,
		Tty:        true,
		Labels:     opts.Labels,
	}
	hostCfg := &container.HostConfig{
		Binds: []string{opts.HostDir + ":" + opts.MountPath},
	}
	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			opts.NetworkName: {},
		},
	}

	created, err := cli.Inner().ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, opts.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to create builder container %q: %w", opts.Name, err)
	}

	if err := cli.Inner().ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return 0, fmt.Errorf("failed to start builder container %q: %w", opts.Name, err)
	}

	logger.Info().Str("container", opts.Name).Str("workdir", opts.MountPath).
		Strs("cmd", opts.Cmd).Msg("packaging step started")

	// Follow the container's output while it runs. With Tty enabled the
	// stream is raw (no stdcopy framing), so a plain copy suffices.
	if opts.Output != nil {
		logs, logErr := cli.Inner().ContainerLogs(ctx, created.ID, container.LogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Follow:     true,
		})
		if logErr != nil {
			logger.Warn().Err(logErr).Str("container", opts.Name).Msg("could not attach to container logs")
		} else {
			go func() {
				defer logs.Close()
				_, _ = io.Copy(opts.Output, logs)
			}()
		}
	}

	statusCh, errCh := cli.Inner().ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return 0, fmt.Errorf("failed waiting for builder container %q: %w", opts.Name, err)
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("builder container %q: %s", opts.Name, status.Error.Message)
		}
		return int(status.StatusCode), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ManagedContainer is a libship-managed container reconstructed from its
// labels, used by the list and down commands.
type ManagedContainer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	RunID   string `json:"runId"`
	Role    string `json:"role"`
	Library string `json:"library,omitempty"`
	State   string `json:"state"`
}

// ListManaged returns all libship-managed containers on the host,
// including stopped ones, across all runs.
func ListManaged(ctx context.Context, cli *Client) ([]ManagedContainer, error) {
	// Filtering server-side on the managed-by label keeps unrelated
	// containers out of the response entirely.
	filterArgs := filters.NewArgs(
		filters.Arg("label", LabelManagedBy+"="+ManagedByValue),
	)

	containers, err := cli.Inner().ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			"failed to list Docker containers",
			err,
		)
	}

	result := make([]ManagedContainer, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			// The API returns names with a leading "/".
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		result = append(result, ManagedContainer{
			ID:      c.ID,
			Name:    name,
			RunID:   c.Labels[LabelRunID],
			Role:    c.Labels[LabelRole],
			Library: c.Labels[LabelLibrary],
			State:   c.State,
		})
	}
	return result, nil
}

// TeardownRun removes every container (with its anonymous volumes) and
// network labeled with the given run ID. Containers still running are
// force-removed. Errors are collected rather than short-circuiting so one
// stubborn resource doesn't strand the rest.
func TeardownRun(ctx context.Context, cli *Client, runID string, logger zerolog.Logger) error {
	return teardown(ctx, cli, filters.NewArgs(
		filters.Arg("label", LabelRunID+"="+runID),
	), logger)
}

// TeardownAll removes every libship-managed container, network and image
// on the host, regardless of run. Used by the down command to reap
// leftovers after interrupted runs.
func TeardownAll(ctx context.Context, cli *Client, logger zerolog.Logger) error {
	filterArgs := filters.NewArgs(
		filters.Arg("label", LabelManagedBy+"="+ManagedByValue),
	)

	errs := []error{teardown(ctx, cli, filterArgs, logger)}

	// Images go last: an image cannot be removed while a container still
	// references it.
	images, err := cli.Inner().ImageList(ctx, image.ListOptions{Filters: filterArgs})
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to list images for teardown: %w", err))
	} else {
		for _, img := range images {
			if _, err := cli.Inner().ImageRemove(ctx, img.ID, image.RemoveOptions{
				Force:         true,
				PruneChildren: true,
			}); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove image %s: %w", img.ID, err))
				continue
			}
			logger.Debug().Str("image", img.ID).Msg("image removed")
		}
	}

	return errors.Join(errs...)
}

// teardown removes containers then networks matching the filter.
// Containers go first: a network cannot be removed while endpoints remain.
func teardown(ctx context.Context, cli *Client, filterArgs filters.Args, logger zerolog.Logger) error {
	var errs []error

	containers, err := cli.Inner().ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return model.WrapCLIError(model.ExitDockerNotRunning,
			"failed to list containers for teardown", err)
	}

	for _, c := range containers {
		if err := cli.Inner().ContainerRemove(ctx, c.ID, container.RemoveOptions{
			Force:         true,
			RemoveVolumes: true,
		}); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove container %s: %w", c.ID[:12], err))
			continue
		}
		logger.Debug().Str("container", c.ID[:12]).Msg("container removed")
	}

	networks, err := cli.Inner().NetworkList(ctx, network.ListOptions{Filters: filterArgs})
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to list networks for teardown: %w", err))
	} else {
		for _, n := range networks {
			if err := cli.Inner().NetworkRemove(ctx, n.ID); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove network %s: %w", n.Name, err))
				continue
			}
			logger.Debug().Str("network", n.Name).Msg("network removed")
		}
	}

	return errors.Join(errs...)
}
