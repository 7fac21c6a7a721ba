package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/siostam/siostam/pkg/config"
	"github.com/siostam/siostam/pkg/render"
	"github.com/siostam/siostam/pkg/topo"
)

// mapOpts holds the command-line flags for the map command.
type mapOpts struct {
	output  string   // output base path without extension
	formats []string // output formats: "json", "dot", "svg"
}

// validMapFormats is the set of supported export formats.
var validMapFormats = map[string]bool{"json": true, "dot": true, "svg": true}

// newMapCmd creates the map command: a one-shot fetch, reconcile and
// export without starting the server.
func newMapCmd(configPath *string) *cobra.Command {
	var formatsStr string
	opts := mapOpts{output: "siostam"}

	cmd := &cobra.Command{
		Use:   "map",
		Short: "Fetch, reconcile and export the graph once",
		Long:  `Map runs a single refresh cycle against the configured origins and writes the resulting graph to files instead of serving it.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.formats = parseMapFormats(formatsStr)
			for _, f := range opts.formats {
				if !validMapFormats[f] {
					return fmt.Errorf("invalid format: %s (must be 'json', 'dot', or 'svg')", f)
				}
			}
			return runMap(cmd.Context(), *configPath, &opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", opts.output, "output base path (extension added per format)")
	cmd.Flags().StringVarP(&formatsStr, "format", "f", "", "output format(s): svg (default), json, dot (comma-separated)")
	return cmd
}

func parseMapFormats(s string) []string {
	if s == "" {
		return []string{"svg"}
	}
	return strings.Split(s, ",")
}

func runMap(ctx context.Context, configPath string, opts *mapOpts) error {
	logger := loggerFromContext(ctx)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := buildCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cache backend: %w", err)
	}
	defer store.Close()

	c, err := buildCore(ctx, cfg, store, nil, logger)
	if err != nil {
		return err
	}

	spinner := newSpinnerWithContext(ctx, "Mapping services...")
	spinner.Start()

	p := newProgress(logger)
	err = c.Refresh(ctx, "map")
	if err != nil {
		spinner.StopWithError("Mapping failed")
		return err
	}
	spinner.Stop()

	snapshot, ok := c.LatestSnapshot()
	if !ok {
		return fmt.Errorf("no snapshot produced")
	}
	p.done(fmt.Sprintf("Mapped %d services", len(snapshot.Nodes)))
	printStats(len(snapshot.Nodes), len(snapshot.Edges))

	for _, format := range opts.formats {
		path := opts.output + "." + format
		if err := writeExport(c, snapshot, format, path); err != nil {
			return err
		}
		printFile(path)
	}

	printNextStep("Serve it", "siostam serve")
	return nil
}

func writeExport(c exportSource, snapshot *topo.Snapshot, format, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	switch format {
	case "json":
		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(path, append(data, '\n'), 0o644)
	case "dot":
		return os.WriteFile(path, render.ToDOT(snapshot), 0o644)
	case "svg":
		artifact, ok := c.LatestArtifact()
		if !ok {
			return fmt.Errorf("no diagram rendered")
		}
		return os.WriteFile(path, artifact.Bytes, 0o644)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// exportSource is the part of Core the exporter needs.
type exportSource interface {
	LatestArtifact() (*render.Artifact, bool)
}
