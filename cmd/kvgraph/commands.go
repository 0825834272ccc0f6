package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
	"github.com/orneryd/kvgraph/pkg/keyspace"
)

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count vertices, edges and stored keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer g.Close()

			stats, err := g.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "backend:  %s\nvertices: %d\nedges:    %d\nkeys:     %d\n",
				a.cfg.Store.Backend, stats.Vertices, stats.Edges, stats.Keys)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newKeysCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "keys [pattern]",
		Short: "List stored keys matching a pattern",
		Long: `List stored keys matching a pattern.

Patterns are '.'-separated tokens: '*' matches one token, a trailing '>'
matches one or more. The default '>' lists everything.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := keyspace.Everything
			if len(args) == 1 {
				pattern = args[0]
			}
			if limit < 0 {
				return kverrors.New(kverrors.CodeCLIInputInvalid, "--limit must be >= 0",
					kverrors.Field("limit", limit))
			}

			g, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer g.Close()

			n := 0
			for key, err := range g.Store().Keys(cmd.Context(), pattern) {
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), key); err != nil {
					return err
				}
				n++
				if limit > 0 && n >= limit {
					break
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after n keys (0 = no limit)")
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Rebuild adjacency sets, the edge index and property registries",
		Long: `Rebuild every derived structure from the primary vertex and edge records.

Graphs written with direct adjacency pointer keys are converted to chunked
adjacency sets. Running it again is harmless. Do not run it while other
writers are active.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer g.Close()

			report, err := g.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newDropCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Delete every vertex and edge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return kverrors.New(kverrors.CodeCLIInputInvalid, "drop deletes the whole graph; pass --yes to confirm")
			}
			g, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer g.Close()

			if err := g.Drop(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "graph dropped")
			return err
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
