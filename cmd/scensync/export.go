package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openplanning/scensync/internal/export"
	"github.com/openplanning/scensync/internal/model"
	scensync "github.com/openplanning/scensync/internal/sync"
)

var exportCmd = &cobra.Command{
	Use:   "export <scenario-id>",
	Short: "Export a scenario's entities to versioned bundle files",
	Long: `Export every entity of a scenario from the store to JSON bundle
files under scenarios/<id>/ and commit them.

Exports are full snapshots: each bundle replaces the previous file
content entirely. Records failing validation abort the export; no
partial bundles are written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		if err := manager.ExportScenario(cmd.Context(), scenarioID); err != nil {
			return err
		}

		fmt.Printf("Exported scenario %s to %s\n",
			scenarioID, filepath.Join(cfg.RepoDir, scensync.ScenarioDir(scenarioID)))
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <scenario-id>",
	Short: "Import a scenario's bundle files into the store",
	Long: `Read the bundle files under scenarios/<id>/ from the working tree,
validate them against the schema registry, and replace the scenario's
records in the store.

An incompatible schemaVersion or any invalid record aborts the import
before the store is touched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scenarioID := args[0]
		dir := filepath.Join(cfg.RepoDir, scensync.ScenarioDir(scenarioID))

		// Validate every bundle before writing anything.
		records := make(map[model.EntityType][]model.Record)
		for _, t := range model.EntityTypes() {
			path := filepath.Join(dir, export.BundleFileName(t))
			if _, err := os.Stat(path); os.IsNotExist(err) {
				continue // absent bundle: type has no records
			}
			bundle, err := export.ReadBundleFile(dir, t)
			if err != nil {
				return err
			}
			recs, err := export.Import(bundle)
			if err != nil {
				return err
			}
			records[t] = recs
		}

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		total := 0
		for _, t := range model.EntityTypes() {
			if err := s.ReplaceAll(cmd.Context(), scenarioID, t, records[t]); err != nil {
				return err
			}
			total += len(records[t])
		}

		fmt.Printf("Imported %d records into scenario %s\n", total, scenarioID)
		return nil
	},
}
