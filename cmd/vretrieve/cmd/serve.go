package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vretrieve/engine/internal/archive"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Keep the engine open with the archive scheduler running",
		Long: `Opens the store and runs the cron-driven archive scheduler until
interrupted. An embedding HTTP layer can be pointed at the same root_dir
once this process has shut down; the store is single-process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			scheduler := archive.New(archive.RunnerFunc(func(ctx context.Context, force bool) (any, error) {
				return eng.store.ArchiveOld(ctx, force)
			}), eng.cfg.Archive.Schedule)
			if err := scheduler.Start(cmd.Context()); err != nil {
				return fmt.Errorf("start archive scheduler: %w", err)
			}
			eng.scheduler = scheduler

			fmt.Printf("engine open at %s, archive schedule %q; ctrl-c to stop\n",
				eng.cfg.RootDir, eng.cfg.Archive.Schedule)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sig:
			case <-cmd.Context().Done():
			}
			return nil
		},
	}
}
