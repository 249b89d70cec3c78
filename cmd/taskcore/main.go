// Command taskcore runs small demonstrations of this module's two
// coordination cores against in-memory backends.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"taskcore/cmd/taskcore/cli"
	"taskcore/internal/logging"
)

var version = "dev"

func main() {
	var componentLevels []string

	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "taskcore",
		Short: "Task storage manager and leader elector demos",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, kv := range componentLevels {
				component, levelStr, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("--log-level %q: expected component=level", kv)
				}
				var level slog.Level
				if err := level.UnmarshalText([]byte(levelStr)); err != nil {
					return fmt.Errorf("--log-level %q: %w", kv, err)
				}
				filterHandler.SetLevel(component, level)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringArrayVar(&componentLevels, "log-level", nil,
		"set a component's minimum log level as component=level (e.g. taskstore-manager=debug); repeatable")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}

	rootCmd.AddCommand(
		cli.NewStoreCommand(logger),
		cli.NewElectCommand(logger),
		versionCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
