package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/openplanning/scensync/internal/diff"
	"github.com/openplanning/scensync/internal/model"
	"github.com/openplanning/scensync/internal/resolve"
	scensync "github.com/openplanning/scensync/internal/sync"
)

var (
	syncAcceptLocal  bool
	syncAcceptRemote bool
	syncAcknowledge  bool
	syncLocalRef     string
	syncRemoteRef    string
)

var syncCmd = &cobra.Command{
	Use:   "sync <scenario-id>",
	Short: "Merge a scenario's remote changes into the local branch",
	Long: `Run a merge session for one scenario: export and commit local
state, fetch the remote branch, compute the three-way diff against the
common ancestor, and merge.

Without a strategy flag the command lists the detected conflicts and
stops; nothing is committed. With --accept-local or --accept-remote
every conflict is resolved mechanically with that strategy and the
merged state is committed, pushed, and imported into the store.

Resolutions that push a person past 100% allocation are reported and
require --acknowledge to proceed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncAcceptLocal && syncAcceptRemote {
			return fmt.Errorf("--accept-local and --accept-remote are mutually exclusive")
		}
		scenarioID := args[0]

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		repo, err := openRepo(cmd)
		if err != nil {
			return err
		}
		manager := newManager(repo, s)

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.NetworkTimeout)
		defer cancel()

		var session *scensync.Session
		if syncRemoteRef != "" {
			session, err = manager.BeginBetween(ctx, scenarioID, syncLocalRef, syncRemoteRef)
		} else {
			session, err = manager.Begin(ctx, scenarioID)
		}
		if err != nil {
			return err
		}
		defer session.Abandon()

		conflicts := session.Conflicts()
		if len(conflicts) == 0 {
			fmt.Println("No conflicts.")
			return session.CommitMergedState(cmd.Context())
		}

		fmt.Printf("%d conflicts in scenario %s:\n\n", len(conflicts), scenarioID)
		for i, c := range conflicts {
			printConflict(i+1, c)
		}

		if !syncAcceptLocal && !syncAcceptRemote {
			fmt.Println("Re-run with --accept-local or --accept-remote to resolve mechanically.")
			return nil
		}

		strategy := resolve.AcceptLocal
		if syncAcceptRemote {
			strategy = resolve.AcceptRemote
		}

		for _, c := range conflicts {
			warnings, err := session.Resolve(resolve.Resolution{
				ConflictID:          c.ID,
				Strategy:            strategy,
				AcknowledgeWarnings: syncAcknowledge,
			})
			for _, w := range warnings {
				fmt.Printf("Warning: %s is allocated %.0f%% across %d overlapping assignments\n",
					warningSubject(w), w.TotalAllocation, len(w.AssignmentIDs))
			}
			if errors.Is(err, resolve.ErrAcknowledgementRequired) {
				return fmt.Errorf("over-allocation warnings above; re-run with --acknowledge to proceed")
			}
			if err != nil {
				return err
			}
		}

		if err := session.CommitMergedState(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("Merged %d conflicts (%s) into scenario %s\n",
			len(conflicts), strategy, scenarioID)
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncAcceptLocal, "accept-local", false,
		"resolve every conflict with the local value")
	syncCmd.Flags().BoolVar(&syncAcceptRemote, "accept-remote", false,
		"resolve every conflict with the remote value")
	syncCmd.Flags().BoolVar(&syncAcknowledge, "acknowledge", false,
		"proceed despite over-allocation warnings")
	syncCmd.Flags().StringVar(&syncLocalRef, "local-ref", "HEAD",
		"local ref anchoring the merge base")
	syncCmd.Flags().StringVar(&syncRemoteRef, "remote-ref", "",
		"merge against an explicit ref instead of the remote tracking branch")
}

// printConflict renders one conflict with a unified diff of the local
// and remote values.
func printConflict(n int, c diff.Conflict) {
	fmt.Printf("%d. [%s] %s %q field %s\n", n, c.Kind, c.EntityType, c.EntityName, c.Field)

	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(model.FormatValue(c.LocalValue)),
		B:        difflib.SplitLines(model.FormatValue(c.RemoteValue)),
		FromFile: "local",
		ToFile:   "remote",
		Context:  3,
	}
	if text, err := difflib.GetUnifiedDiffString(ud); err == nil && text != "" {
		fmt.Println(indent(text, "   "))
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func warningSubject(w resolve.OverAllocationWarning) string {
	if w.PersonName != "" {
		return w.PersonName
	}
	return "person " + w.PersonID
}
