package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/siostam/siostam/pkg/config"
)

// exampleTopology pairs with the starter config's file origin so a
// fresh checkout renders something immediately.
const exampleTopology = `[
  {
    "service": {"id": "frontend", "label": "Frontend", "kind": "web"},
    "dependencies": [
      {"id": "api", "why": "all user actions"}
    ]
  },
  {
    "service": {"id": "api", "label": "API", "kind": "service"},
    "dependencies": [
      {"id": "database", "why": "persistence"}
    ]
  },
  {
    "service": {"id": "database", "label": "Database", "kind": "datastore"}
  }
]
`

// newInitCmd creates the init command writing a starter configuration.
func newInitCmd(configPath *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(*configPath, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration")
	return cmd
}

func runInit(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	if err := os.WriteFile(configPath, []byte(config.Example), 0o644); err != nil {
		return err
	}
	printSuccess("Wrote %s", configPath)
	printFile(configPath)

	// The starter config points at topology.json; write it too unless
	// the user already has one.
	if _, err := os.Stat("topology.json"); os.IsNotExist(err) {
		if err := os.WriteFile("topology.json", []byte(exampleTopology), 0o644); err != nil {
			return err
		}
		printFile("topology.json")
	}

	printNextStep("Start the server", "siostam serve")
	return nil
}
