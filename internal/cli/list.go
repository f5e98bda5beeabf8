// Package cli — list.go implements the "libship list" command.
//
// The list command displays all libship-managed containers by querying
// Docker for the "libship.managed-by=libship" label. Under normal
// operation this prints nothing: run resources are removed by the
// unconditional teardown. Anything listed here is a leftover from an
// interrupted run, and `libship down` will reap it.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/libship/internal/docker"
)

// NewListCommand creates the "list" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List libship-managed containers",
		Long: `List all containers created by libship, including stopped ones.

A healthy run leaves nothing behind; anything shown here survived an
interrupted run and can be removed with "libship down".

Examples:
  libship list
  libship list --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context())
		},
	}
}

// runList connects to Docker, discovers managed containers, and outputs
// them in the appropriate format.
func runList(ctx context.Context) error {
	cli, err := docker.NewClient()
	if err != nil {
		return err // NewClient already returns CLIError with ExitDockerNotRunning
	}
	defer func() { _ = cli.Close() }()

	containers, err := docker.ListManaged(ctx, cli)
	if err != nil {
		return err
	}

	// Sort by run then name so containers of one run stay adjacent.
	sort.Slice(containers, func(i, j int) bool {
		if containers[i].RunID != containers[j].RunID {
			return containers[i].RunID < containers[j].RunID
		}
		return containers[i].Name < containers[j].Name
	})

	printListResult(containers)
	return nil
}

// printListResult outputs the container list in text or JSON format,
// depending on the global --json flag.
func printListResult(containers []docker.ManagedContainer) {
	if IsJSONOutput() {
		result := struct {
			Containers []docker.ManagedContainer `json:"containers"`
		}{
			// Empty slice instead of nil so JSON output shows [] rather
			// than null when nothing is found.
			Containers: containers,
		}
		if result.Containers == nil {
			result.Containers = []docker.ManagedContainer{}
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(containers) == 0 {
		fmt.Println("No libship containers found.")
		return
	}

	fmt.Printf("%-36s %-30s %-10s %-12s %s\n",
		"RUN", "NAME", "ROLE", "LIBRARY", "STATE")
	for _, c := range containers {
		library := c.Library
		if library == "" {
			library = "-"
		}
		fmt.Printf("%-36s %-30s %-10s %-12s %s\n",
			c.RunID, c.Name, c.Role, library, c.State)
	}
}
