package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openplanning/scensync/internal/model"
	scensync "github.com/openplanning/scensync/internal/sync"
)

var statusCmd = &cobra.Command{
	Use:   "status [scenario-id]",
	Short: "Show scenario record counts and repository state",
	Long: `Show the branch, uncommitted bundle changes, and per-type record
counts. With a scenario id, also flag people whose current allocation
already exceeds 100% across overlapping assignments.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		repo, err := openRepo(cmd)
		if err != nil {
			return err
		}

		branch, err := repo.CurrentBranch()
		if err != nil {
			return err
		}
		if branch == "" {
			branch = "(detached)"
		}
		fmt.Printf("Branch: %s\n", branch)
		fmt.Printf("Remote: %s (configured: %v)\n", cfg.Remote, repo.HasRemote())

		scenarios := args
		if len(scenarios) == 0 {
			scenarios, err = s.Scenarios(cmd.Context())
			if err != nil {
				return err
			}
		}

		for _, scenarioID := range scenarios {
			counts, err := s.Counts(cmd.Context(), scenarioID)
			if err != nil {
				return err
			}

			dirty, err := repo.HasUncommittedChanges(scensync.ScenarioDir(scenarioID))
			if err != nil {
				return err
			}

			total := 0
			for _, n := range counts {
				total += n
			}
			fmt.Printf("\nScenario %s: %d records", scenarioID, total)
			if dirty {
				fmt.Print(" (uncommitted bundle changes)")
			}
			fmt.Println()
			for _, t := range model.EntityTypes() {
				if counts[t] > 0 {
					fmt.Printf("  %-14s %d\n", t, counts[t])
				}
			}

			// Flag allocations already over the line today, before any
			// merge makes them worse.
			now := time.Now().UTC()
			today := model.NewDate(now.Year(), now.Month(), now.Day())
			over, err := s.OverAllocated(cmd.Context(), scenarioID, today, today)
			if err != nil {
				return err
			}
			for _, pa := range over {
				fmt.Printf("  over-allocated: person %s at %.0f%% (%d assignments)\n",
					pa.PersonID, pa.TotalAllocation, pa.AssignmentCount)
			}
		}

		return nil
	},
}
