package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nzbvault/nzbvault/internal/config"
	"github.com/nzbvault/nzbvault/internal/domain"
	"github.com/nzbvault/nzbvault/internal/store"
)

var importCategory string

func init() {
	importCmd := &cobra.Command{
		Use:   "import <nzb-file>",
		Short: "Submit one NZB file to the ingestion queue",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	importCmd.Flags().StringVar(&importCategory, "category", "", "category label recorded on the queue job")
	rootCmd.AddCommand(importCmd)
}

// runImport reads an NZB file from disk and enqueues it, leaving parsing
// and processing to the worker started by `nzbvault serve`, matching the
// teacher's split between a thin submission command and a separate
// always-running processor.
func runImport(cmd *cobra.Command, args []string) error {
	path := args[0]

	nzbXML, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	filename := filepath.Base(path)

	item := domain.QueueItem{
		JobName:   jobNameFor(filename),
		Filename:  filename,
		Category:  importCategory,
		Priority:  domain.QueuePriority(0),
		CreatedAt: time.Now().UTC(),
	}

	if err := db.Repo.AddQueueItem(cmd.Context(), item, nzbXML); err != nil {
		return fmt.Errorf("enqueuing %s: %w", filename, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", filename)
	return nil
}

// jobNameFor derives a queue job name from an NZB filename by stripping
// its extension.
func jobNameFor(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
