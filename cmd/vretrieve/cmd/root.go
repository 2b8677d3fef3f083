// Package cmd provides the vretrieve maintenance CLI.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vretrieve/engine/internal/archive"
	"github.com/vretrieve/engine/internal/config"
	"github.com/vretrieve/engine/internal/embed"
	"github.com/vretrieve/engine/internal/generational"
	"github.com/vretrieve/engine/internal/logging"
	"github.com/vretrieve/engine/internal/migrator"
	"github.com/vretrieve/engine/internal/rerank"
	"github.com/vretrieve/engine/internal/retrieval"
	"github.com/vretrieve/engine/pkg/version"
)

var (
	flagDir   string
	flagDebug bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the vretrieve CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vretrieve",
		Short: "Generational vector retrieval engine",
		Long: `vretrieve manages a two-tier (hot/cold) vector retrieval store with
hybrid BM25 + dense search, online index migration, and scheduled
archiving of aged chunks.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logCfg := logging.DefaultConfig()
			if flagDebug {
				logCfg.Level = "debug"
			}
			cleanup, err := logging.SetupDefault(logCfg)
			if err != nil {
				return fmt.Errorf("setup logging: %w", err)
			}
			loggingCleanup = cleanup
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if loggingCleanup != nil {
				loggingCleanup()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&flagDir, "dir", "C", ".", "directory holding the instance config file (engine state lives under the config's root_dir)")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newArchiveCmd())
	cmd.AddCommand(newRebuildColdCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newMigrationStatusCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// engine bundles everything a command needs, with a single Close.
type engine struct {
	cfg       *config.Config
	store     *generational.Store
	migrator  *migrator.Migrator
	retriever *retrieval.Retriever
	scheduler *archive.Scheduler
}

func (e *engine) Close() {
	if e.scheduler != nil {
		e.scheduler.Stop()
	}
	if e.store != nil {
		_ = e.store.Close()
	}
}

// openEngine loads the config under --dir and opens the full store stack.
func openEngine(ctx context.Context) (*engine, error) {
	cfg, err := config.Load(flagDir)
	if err != nil {
		return nil, err
	}

	embedder, err := embed.NewEmbedder(ctx,
		embed.ParseProvider(cfg.Embed.Provider),
		cfg.Dimension, cfg.Embed.Endpoint, cfg.Embed.Model)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	var opts []generational.Option
	if cfg.Rerank.Enabled {
		endpoint := cfg.Rerank.Endpoint
		rr := rerank.New(func(ctx context.Context) (rerank.CrossEncoder, error) {
			httpCfg := rerank.DefaultHTTPConfig()
			if endpoint != "" {
				httpCfg.Endpoint = endpoint
			}
			return rerank.NewHTTPCrossEncoder(httpCfg), nil
		})
		opts = append(opts, generational.WithReranker(rr))
	}

	store, err := generational.Open(cfg, embedder, opts...)
	if err != nil {
		return nil, err
	}

	mig := migrator.New(store)
	store.SetMigrationObserver(mig)
	ret := retrieval.New(store, store.Routing())

	return &engine{
		cfg:       cfg,
		store:     store,
		migrator:  mig,
		retriever: ret,
	}, nil
}

// loadOrDefaultConfig loads the layered config for --dir.
func loadOrDefaultConfig() (*config.Config, error) {
	return config.Load(flagDir)
}

func instanceConfigPath() string {
	return flagDir + "/" + config.ConfigFileName
}
