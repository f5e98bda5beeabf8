// Package cli — down.go implements the "libship down" command.
//
// The down command force-removes every libship-managed container and
// network on the host, across all runs. It exists for recovery: the
// publish workflow tears its own resources down, but a killed process or
// a daemon hiccup can leave labeled resources behind.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/libship/internal/docker"
)

// NewDownCommand creates the "down" cobra command.
func NewDownCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Remove all libship-managed containers and networks",
		Long: `Force-remove every container and network created by libship,
regardless of which run created it. Running containers are stopped and
removed together with their anonymous volumes.

Examples:
  libship down`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runDown(cmd.Context())
		},
	}
}

// runDown connects to Docker and reaps every managed resource.
func runDown(ctx context.Context) error {
	logger := newLogger()

	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	if err := docker.TeardownAll(ctx, cli, logger); err != nil {
		return err
	}

	if !IsJSONOutput() {
		fmt.Println("All libship resources removed.")
	} else {
		fmt.Println(`{"removed": true}`)
	}
	return nil
}
