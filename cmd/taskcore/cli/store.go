// Package cli implements the "taskcore store" and "taskcore elect"
// subcommand trees, in the same subcommand-per-file style as this
// codebase's cmd/gastrolog/cli package.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"taskcore/internal/taskstore"
	"taskcore/internal/taskstore/engine"
	"taskcore/internal/taskstore/memmsg"
)

const demoChangelogSystem = "demo"

// NewStoreCommand returns the "store" command with its demo subcommands.
func NewStoreCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Exercise the task storage manager against an in-memory changelog",
	}
	cmd.AddCommand(newStoreRunCmd(logger), newStoreStatusCmd())
	return cmd
}

func newStoreRunCmd(logger *slog.Logger) *cobra.Command {
	var (
		task       string
		partitions int
		records    int
		baseDir    string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run init, flush, and stop once against a demo in-memory changelog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := taskstore.Load()
			if err != nil {
				return fmt.Errorf("load environment config: %w", err)
			}

			if baseDir == "" {
				baseDir = cfg.StoreBaseDir
			}
			if baseDir == "" {
				dir, err := os.MkdirTemp("", "taskcore-store-demo")
				if err != nil {
					return fmt.Errorf("create demo base dir: %w", err)
				}
				baseDir = dir
			}
			if !cmd.Flags().Changed("partitions") && cfg.ChangeLogStreamPartitions > 0 {
				partitions = cfg.ChangeLogStreamPartitions
			}

			sys := memmsg.NewSystem()
			ssp := taskstore.SSP{System: demoChangelogSystem, Stream: "demo-changelog", Partition: 0}
			for i := 0; i < records; i++ {
				sys.Append(ssp, fmt.Appendf(nil, "record-%d", i))
			}

			cfg.StoreBaseDir = baseDir
			cfg.LoggedStoreBaseDir = baseDir
			cfg.ChangeLogStreamPartitions = partitions
			cfg.Admins = map[string]taskstore.SystemAdmin{demoChangelogSystem: memmsg.NewAdmin(sys, partitions)}
			cfg.Consumer = memmsg.NewConsumer(sys)
			cfg.Logger = logger

			mem := engine.NewMemory(logger)
			desc := taskstore.StoreDescriptor{
				Name:       "demo-store",
				Engine:     mem,
				Properties: taskstore.Properties{IsLoggedStore: true, IsPersistedToDisk: true},
				Changelog:  &taskstore.ChangelogStream{System: demoChangelogSystem, Stream: "demo-changelog"},
			}

			mgr, err := taskstore.NewManager(taskstore.TaskName(task), 0, cfg, []taskstore.StoreDescriptor{desc})
			if err != nil {
				return fmt.Errorf("construct manager: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			if err := mgr.Init(ctx); err != nil {
				return fmt.Errorf("init: %w", err)
			}
			cmd.Printf("init complete: restored %d records into %q\n", len(mem.Records()), "demo-store")

			if err := mgr.Flush(ctx); err != nil {
				return fmt.Errorf("flush: %w", err)
			}
			cmd.Println("flush complete: checkpoint written")

			if err := mgr.Stop(ctx); err != nil {
				return fmt.Errorf("stop: %w", err)
			}
			cmd.Println("stop complete")
			cmd.Printf("state directory: %s\n", baseDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&task, "task", "demo-task", "task name")
	cmd.Flags().IntVar(&partitions, "partitions", 1, "expected changelog partition count")
	cmd.Flags().IntVar(&records, "records", 3, "number of demo records to pre-seed into the changelog")
	cmd.Flags().StringVar(&baseDir, "state-dir", "", "state directory (default: $storeBaseDir if set, else a fresh temp dir)")
	return cmd
}

func newStoreStatusCmd() *cobra.Command {
	var stateDir string
	cmd := &cobra.Command{
		Use:   "status <store-name> <task-name>",
		Short: "Print the OFFSET checkpoint recorded for a store's partition directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateDir == "" {
				return fmt.Errorf("--state-dir is required")
			}
			dir := taskstore.LoggedPartitionDir(stateDir, args[0], taskstore.TaskName(args[1]))
			info, err := os.Stat(dir)
			if err != nil {
				if os.IsNotExist(err) {
					cmd.Println("no local directory: store has never been restored here")
					return nil
				}
				return fmt.Errorf("stat %s: %w", dir, err)
			}
			data, err := os.ReadFile(dir + "/OFFSET")
			if err != nil {
				if os.IsNotExist(err) {
					cmd.Printf("directory present (modified %s), no OFFSET checkpoint yet\n", info.ModTime().Format(time.RFC3339))
					return nil
				}
				return fmt.Errorf("read OFFSET: %w", err)
			}
			cmd.Printf("offset=%s\n", string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "logged store base directory to inspect")
	return cmd
}
