package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/orneryd/kvgraph/pkg/config"
	kverrors "github.com/orneryd/kvgraph/pkg/errors"
	"github.com/orneryd/kvgraph/pkg/graph"
)

// flagKeys maps global flags to config keys.
var flagKeys = map[string]string{
	"backend":   "store.backend",
	"data-dir":  "store.badger.data_dir",
	"log-level": "logging.level",
}

type app struct {
	v   *viper.Viper
	cfg *config.Config
}

// NewRootCmd creates the root kvgraph command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "kvgraph",
		Short: "kvgraph - property graph traversals over a key-value store",
		Long: `kvgraph stores a property graph in a flat key-value keyspace
(memory, BadgerDB, Redis or NATS JetStream) and runs traversals over it.

This tool inspects and maintains a stored graph.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("backend", "", "store backend: memory, badger, redis, nats")
	root.PersistentFlags().String("data-dir", "", "badger data directory")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newStatsCmd(a),
		newKeysCmd(a),
		newMigrateCmd(a),
		newDropCmd(a),
		newVersionCmd(),
	)
	return root
}

// load resolves the configuration: defaults, then the config file, then
// KVGRAPH_* variables, then flags.
func (a *app) load(cmd *cobra.Command) error {
	flags := cmd.Root().PersistentFlags()

	path, _ := flags.GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return err
	}

	for name, key := range flagKeys {
		if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return kverrors.Wrap(err, kverrors.CodeCLIInputInvalid, "binding --"+name)
		}
	}
	if a.v.IsSet("store.backend") {
		cfg.Store.Backend = a.v.GetString("store.backend")
	}
	if a.v.IsSet("store.badger.data_dir") {
		cfg.Store.Badger.DataDir = a.v.GetString("store.badger.data_dir")
	}
	if a.v.IsSet("logging.level") {
		cfg.Logging.Level = a.v.GetString("logging.level")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// open opens the configured graph; the caller closes it.
func (a *app) open(cmd *cobra.Command) (*graph.Graph, error) {
	log, err := a.cfg.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return graph.Open(cmd.Context(), a.cfg, graph.WithLogger(log))
}
