package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/config"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/journal"
	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

// =============================================================================
// Runs Command Handlers
// =============================================================================

// openRunIndex opens (creating if needed) the SQLite run index under the
// runs root.
func openRunIndex(cfg *config.Config) (*journal.Index, error) {
	root := cfg.RunsDir()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}
	return journal.OpenIndex(filepath.Join(root, "index.db"))
}

func runRunsList(cmd *cobra.Command, configPath string, limit int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	index, err := openRunIndex(cfg)
	if err != nil {
		return err
	}
	defer index.Close()

	runs, err := index.List(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tSTEPS\tSTARTED\tGOAL")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			run.RunID, run.Status, run.Iterations,
			run.StartedAt.Format(time.RFC3339), truncate(run.Goal, 60))
	}
	return w.Flush()
}

func runRunsShow(cmd *cobra.Command, configPath, runID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	summary, err := loadRunSummary(cmd, cfg, runID)
	if err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

// loadRunSummary reads the run from the index, falling back to the on-disk
// summary.json files for runs recorded before the index existed.
func loadRunSummary(cmd *cobra.Command, cfg *config.Config, runID string) (models.RunSummary, error) {
	index, err := openRunIndex(cfg)
	if err == nil {
		defer index.Close()
		summary, err := index.Get(cmd.Context(), runID)
		if err == nil {
			return summary, nil
		}
		if !errors.Is(err, journal.ErrRunNotFound) {
			return models.RunSummary{}, fmt.Errorf("read run index: %w", err)
		}
	}

	if summary, ok := findSummaryOnDisk(cfg.RunsDir(), runID); ok {
		return summary, nil
	}
	return models.RunSummary{}, fmt.Errorf("run %s not found", runID)
}

func findSummaryOnDisk(root, runID string) (models.RunSummary, bool) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return models.RunSummary{}, false
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, entry.Name(), "summary.json"))
		if err != nil {
			continue
		}
		var summary models.RunSummary
		if err := json.Unmarshal(data, &summary); err != nil {
			continue
		}
		if summary.RunID == runID {
			return summary, true
		}
	}
	return models.RunSummary{}, false
}

func printSummary(out io.Writer, summary models.RunSummary) {
	fmt.Fprintf(out, "Run:        %s\n", summary.RunID)
	fmt.Fprintf(out, "Goal:       %s\n", summary.Goal)
	fmt.Fprintf(out, "Status:     %s\n", summary.Status)
	fmt.Fprintf(out, "Iterations: %d\n", summary.Iterations)
	if summary.Error != "" {
		fmt.Fprintf(out, "Error:      %s\n", summary.Error)
	}
	if !summary.StartedAt.IsZero() {
		fmt.Fprintf(out, "Started:    %s\n", summary.StartedAt.Format(time.RFC3339))
	}
	if !summary.FinishedAt.IsZero() {
		fmt.Fprintf(out, "Finished:   %s\n", summary.FinishedAt.Format(time.RFC3339))
		if !summary.StartedAt.IsZero() {
			fmt.Fprintf(out, "Duration:   %s\n", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))
		}
	}
	if summary.ArtifactDir != "" {
		fmt.Fprintf(out, "Artifacts:  %s\n", summary.ArtifactDir)
	}
	if len(summary.CompleteHistory) > 0 {
		fmt.Fprintln(out, "Milestones:")
		for _, milestone := range summary.CompleteHistory {
			fmt.Fprintf(out, "  - %s\n", milestone)
		}
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
