package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vretrieve/engine/internal/ann"
	"github.com/vretrieve/engine/internal/consistency"
	"github.com/vretrieve/engine/internal/domain"
	"github.com/vretrieve/engine/internal/selector"
	"github.com/vretrieve/engine/pkg/version"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			stats, err := eng.store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(stats)
			}
			fmt.Printf("hot:      %d vectors (%s)\n", stats.Hot.Count, stats.Hot.Backend)
			if stats.Cold != nil {
				fmt.Printf("cold:     %d vectors (%s), %d soft-deleted\n",
					stats.Cold.Count, stats.Cold.Backend, stats.Cold.SoftDeleted)
			}
			fmt.Printf("routing:  %d total (%d hot / %d cold), %d files\n",
				stats.RoutingTotal, stats.RoutingHot, stats.RoutingCold, stats.Files)
			fmt.Printf("bm25:     %d documents\n", stats.BM25Docs)
			if stats.NeedsArchive {
				fmt.Println("note: aged chunks are waiting for the next archive run")
			}
			if stats.NeedsColdRebuild {
				fmt.Println("note: cold tier has crossed the rebuild threshold")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func newArchiveCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "archive-now",
		Short: "Run an archive pass immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			report, err := eng.store.ArchiveOld(cmd.Context(), force)
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(report)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "archive regardless of age")
	return cmd
}

func newRebuildColdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-cold",
		Short: "Rebuild the cold tier, dropping soft-deleted entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			report, err := eng.store.RebuildCold(cmd.Context())
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(report)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var (
		nlist  int
		nprobe int
	)

	cmd := &cobra.Command{
		Use:   "migrate <tier> <backend>",
		Short: "Migrate a tier's ANN backend online",
		Long:  `Rebuilds the given tier (hot or cold) as a new backend (flat|ivf|ivfpq|hnsw) without blocking queries, then swaps atomically.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier := domain.Tier(args[0])
			if tier != domain.TierHot && tier != domain.TierCold {
				return fmt.Errorf("unknown tier %q (want hot or cold)", args[0])
			}
			target := domain.BackendType(args[1])

			eng, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			annCfg := ann.DefaultConfig(eng.cfg.Dimension)
			annCfg.Metric = "l2"
			annCfg.PQSubvectors = selector.PQSubvectors(eng.cfg.Dimension)
			if nlist > 0 {
				annCfg.NList = nlist
			}
			if nprobe > 0 {
				annCfg.NProbe = nprobe
			}

			jobID, err := eng.migrator.Start(cmd.Context(), tier, target, annCfg)
			if err != nil {
				return err
			}
			fmt.Println(jobID)

			// The CLI is short-lived, so wait for the job rather than
			// leaving it to die with the process.
			eng.migrator.Wait()
			job, _ := eng.migrator.Status(jobID)
			saveJobSnapshot(eng.cfg.RootDir, job)
			if job.Phase == domain.PhaseFailed {
				return fmt.Errorf("migration failed: %s", job.Err)
			}
			return json.NewEncoder(os.Stdout).Encode(job)
		},
	}

	cmd.Flags().IntVar(&nlist, "nlist", 0, "IVF coarse cluster count (0 = default)")
	cmd.Flags().IntVar(&nprobe, "nprobe", 0, "IVF probe count (0 = default)")
	return cmd
}

// saveJobSnapshot records the job's terminal state so migration-status can
// answer from a later process.
func saveJobSnapshot(rootDir string, job domain.MigrationJob) {
	data, err := json.Marshal(job)
	if err != nil {
		return
	}
	dir := filepath.Join(rootDir, "migrations")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(dir, job.ID+".json"), data, 0644)
}

func newMigrationStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migration-status <job_id>",
		Short: "Show a migration job's recorded state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadOrDefaultConfig()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(cfg.RootDir, "migrations", args[0]+".json"))
			if err != nil {
				return fmt.Errorf("unknown migration job %q: %w", args[0], err)
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check cross-store consistency",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			var cold consistency.TierReader
			if eng.cfg.EnableGenerationalIndex {
				cold = coldReader{eng}
			}
			checker := consistency.New(eng.store.Routing(), hotReader{eng}, cold, nil)
			result, err := checker.Check(cmd.Context())
			if err != nil {
				return err
			}
			if result.Clean() {
				fmt.Printf("checked %d chunks in %s: consistent\n", result.Checked, result.Duration)
				return nil
			}
			for issueType, ids := range consistency.ByType(result.Issues) {
				fmt.Printf("%s: %d\n", issueType, len(ids))
			}
			return fmt.Errorf("%d inconsistencies found (reopen the store to reconcile)", len(result.Issues))
		},
	}
}

// hotReader/coldReader adapt the store's tier surfaces for the checker.
type hotReader struct{ eng *engine }

func (h hotReader) AllIDs() []string { return h.eng.store.TierIndex(domain.TierHot).AllIDs() }

type coldReader struct{ eng *engine }

func (c coldReader) AllIDs() []string { return c.eng.store.TierIndex(domain.TierCold).AllIDs() }

func newConfigCmd() *cobra.Command {
	var initConfig bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print (or initialize) the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadOrDefaultConfig()
			if err != nil {
				return err
			}
			if initConfig {
				path := instanceConfigPath()
				if err := cfg.WriteYAML(path); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", path)
				return nil
			}
			return json.NewEncoder(os.Stdout).Encode(cfg)
		},
	}

	cmd.Flags().BoolVar(&initConfig, "init", false, "write the effective config to the instance config file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Info()
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(info)
			}
			fmt.Println(info.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
