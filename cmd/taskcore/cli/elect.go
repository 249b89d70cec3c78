package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/spf13/cobra"

	"taskcore/internal/election"
	"taskcore/internal/election/memcoord"
)

const demoProcessorsPath = election.ProcessorsPath("/taskcore/processors")

// NewElectCommand returns the "elect" command with its demo subcommands.
func NewElectCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "elect",
		Short: "Exercise the leader elector against an in-memory coordination tree",
	}
	cmd.AddCommand(newElectRunCmd(logger), newElectStatusCmd(logger))
	return cmd
}

func newElectRunCmd(logger *slog.Logger) *cobra.Command {
	var participants int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Register N participants, elect a leader, then terminate the leader and observe succession",
		RunE: func(cmd *cobra.Command, args []string) error {
			if participants < 1 {
				return fmt.Errorf("--participants must be at least 1")
			}
			ctx := context.Background()
			svc := memcoord.NewService()

			electors := make([]*election.Elector, participants)
			names := make([]string, participants)
			for i := range electors {
				names[i] = petname.Generate(2, "-")
				e, err := election.New(election.Config{
					Coordinator:    svc,
					ProcessorsPath: demoProcessorsPath,
					Hostname:       names[i],
					Rand:           rand.New(rand.NewSource(int64(i) + 1)),
					Logger:         logger,
				})
				if err != nil {
					return fmt.Errorf("construct elector for %s: %w", names[i], err)
				}
				electors[i] = e
			}

			for i, e := range electors {
				leader, err := e.TryBecomeLeader(ctx)
				if err != nil {
					return fmt.Errorf("%s: TryBecomeLeader: %w", names[i], err)
				}
				cmd.Printf("%s registered, leader=%v\n", names[i], leader)
			}

			leaderIdx := indexOfLeader(electors)
			if leaderIdx < 0 {
				return fmt.Errorf("no leader elected among %d participants", participants)
			}
			cmd.Printf("current leader: %s\n", names[leaderIdx])

			if participants > 1 {
				leaderPath, err := electors[leaderIdx].Path(ctx)
				if err != nil {
					return fmt.Errorf("resolve leader path: %w", err)
				}
				cmd.Printf("terminating leader %s\n", names[leaderIdx])
				svc.DeleteNode(leaderPath)

				if successorIdx := indexOfLeaderExcept(electors, leaderIdx); successorIdx >= 0 {
					cmd.Printf("new leader: %s\n", names[successorIdx])
				} else {
					cmd.Println("no successor observed yet (watch may still be in flight)")
				}
			}

			for _, e := range electors {
				_ = e.Close(ctx)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&participants, "participants", 3, "number of simulated participants")
	return cmd
}

func newElectStatusCmd(logger *slog.Logger) *cobra.Command {
	var participants int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Register N participants against a fresh in-memory coordination tree and print the resulting ranking",
		RunE: func(cmd *cobra.Command, args []string) error {
			if participants < 1 {
				return fmt.Errorf("--participants must be at least 1")
			}
			ctx := context.Background()
			svc := memcoord.NewService()

			electors := make([]*election.Elector, participants)
			names := make([]string, participants)
			for i := range electors {
				names[i] = petname.Generate(2, "-")
				e, err := election.New(election.Config{
					Coordinator:    svc,
					ProcessorsPath: demoProcessorsPath,
					Hostname:       names[i],
					Rand:           rand.New(rand.NewSource(int64(i) + 1)),
					Logger:         logger,
				})
				if err != nil {
					return fmt.Errorf("construct elector for %s: %w", names[i], err)
				}
				electors[i] = e
				if _, err := e.TryBecomeLeader(ctx); err != nil {
					return fmt.Errorf("%s: TryBecomeLeader: %w", names[i], err)
				}
			}

			children, err := svc.GetChildren(ctx, demoProcessorsPath)
			if err != nil {
				return fmt.Errorf("list children: %w", err)
			}

			pathToName := make(map[string]string, participants)
			for i, e := range electors {
				path, err := e.Path(ctx)
				if err != nil {
					return fmt.Errorf("%s: resolve path: %w", names[i], err)
				}
				pathToName[path] = names[i]
			}

			for rank, child := range children {
				path := string(demoProcessorsPath) + "/" + child
				name := pathToName[path]
				marker := ""
				if rank == 0 {
					marker = " (leader)"
				}
				cmd.Printf("%d. %s  %s%s\n", rank, child, name, marker)
			}

			for _, e := range electors {
				_ = e.Close(ctx)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&participants, "participants", 3, "number of simulated participants")
	return cmd
}

func indexOfLeader(electors []*election.Elector) int {
	for i, e := range electors {
		if e.AmILeader() {
			return i
		}
	}
	return -1
}

func indexOfLeaderExcept(electors []*election.Elector, except int) int {
	for i, e := range electors {
		if i != except && e.AmILeader() {
			return i
		}
	}
	return -1
}
