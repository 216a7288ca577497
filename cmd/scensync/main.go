// scensync is the scenario synchronization CLI: it exports planning
// scenarios to versioned JSON bundles in git, merges divergent branches
// with structured three-way diffs, and keeps the embedded query store in
// step with the bundle files.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openplanning/scensync/internal/config"
	"github.com/openplanning/scensync/internal/store"
	scensync "github.com/openplanning/scensync/internal/sync"
	"github.com/openplanning/scensync/internal/vcs"
	_ "github.com/openplanning/scensync/internal/vcs/git"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "scensync",
	Short: "Git-backed scenario synchronization for capacity planning",
	Long: `scensync moves planning scenarios between an embedded store and
versioned JSON bundles in a git repository.

Each scenario exports to one JSON file per entity type under
scenarios/<id>/. Divergent branches merge through a structured
three-way diff: field-level conflicts, accept-local/accept-remote/custom
resolution, and over-allocation guardrails.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./scensync.yaml)")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(daemonCmd)
}

// openStore opens the embedded store and initializes its schema.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	path := cfg.DBPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.RepoDir, path)
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	if err := s.InitSchema(cmd.Context()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// openRepo opens (initializing if needed) the scenario git repository.
func openRepo(cmd *cobra.Command) (vcs.Repo, error) {
	repo, err := vcs.Open(vcs.TypeGit, cfg.RepoDir)
	if err != nil {
		return nil, err
	}
	if err := repo.Init(cmd.Context()); err != nil {
		return nil, err
	}
	return repo, nil
}

func newManager(repo vcs.Repo, s *store.Store) *scensync.Manager {
	return scensync.NewManager(repo, s, scensync.Options{
		Branch:         cfg.Branch,
		Remote:         cfg.Remote,
		ExportedBy:     cfg.ExportedBy,
		ExcludeInvalid: cfg.ExcludeInvalid,
	})
}
