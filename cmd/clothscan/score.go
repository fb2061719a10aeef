package main

import (
	"fmt"
	"strings"

	"clothscan/pkg/logger"
	"clothscan/pkg/retry"
	"clothscan/pkg/scoring"
	"clothscan/pkg/storage"
	"clothscan/pkg/ui"

	"github.com/spf13/cobra"
)

var scoreCmd = &cobra.Command{
	Use:   "score [namespace]...",
	Short: "Fill the per-media score cache of every record",
	Long: `Walk the given namespaces, or every namespace in the store, and make sure
each record holds one score per media item for every configured model.

Only missing scores are computed unless --force is given. A media item whose
scorer fails keeps its previous score, or stays empty, and is retried on the
next pass.`,
	Example: `  # Score everything
  clothscan score

  # Recompute two namespaces with 8 workers
  clothscan score brand_a brand_b --force --workers 8`,
	RunE: runScore,
}

func init() {
	rootCmd.AddCommand(scoreCmd)

	scoreCmd.Flags().Bool("force", false, "recompute scores that are already cached")
	scoreCmd.Flags().Int("workers", 2, "records scored concurrently")
}

func runScore(cmd *cobra.Command, args []string) error {
	for _, ns := range args {
		if err := storage.ValidateNamespace(ns); err != nil {
			return err
		}
	}
	if len(cfg.Scoring.Models) == 0 {
		return fmt.Errorf("no scoring models configured")
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	log := logger.GetLogger()
	models := scoring.Models(cfg.Scoring, retry.FromConfig(cfg.Retry, log))
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	ui.PrintInfo("Models", strings.Join(names, ", "))

	pass := scoring.NewPass(store, storage.NewLocks(), scoring.PassOptions{
		Models:  models,
		Force:   cfg.Scoring.ForceRecompute,
		Workers: cfg.Scoring.Workers,
		Root:    cfg.Storage.Root,
	}, log)

	summary, err := pass.Run(ctx, args)
	ui.PrintSummary("Scoring summary", map[string]interface{}{
		"Run":        summary.RunID,
		"Namespaces": summary.Namespaces,
		"Records":    summary.Records,
		"Updated":    summary.Updated,
		"Scored":     summary.Scored,
		"Failed":     summary.Failed,
		"Errors":     summary.Errors,
	})
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		ui.PrintWarning(fmt.Sprintf("%d media items could not be scored; rerun to retry them", summary.Failed))
	}
	return nil
}
