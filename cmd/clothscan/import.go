package main

import (
	"fmt"
	"io"
	"os"

	"clothscan/pkg/aggregate"
	"clothscan/pkg/ingest"
	"clothscan/pkg/logger"
	"clothscan/pkg/storage"
	"clothscan/pkg/ui"

	"github.com/spf13/cobra"
)

var (
	importNamespace string
	importSource    string
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge newline-delimited JSON fragments into a namespace",
	Long: `Read one JSON fragment per line and merge each into the given namespace.
Use "-" to read from standard input.

A fragment carries any of id, group_id, source, timestamp, text, reactions,
media and is_video. Fragments without an id are matched by group_id, then by a
timestamp within three seconds of an existing record.`,
	Example: `  clothscan import channel_export.jsonl --namespace fashion_channel
  cat export.jsonl | clothscan import - -n fashion_channel --source telegram`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVarP(&importNamespace, "namespace", "n", "", "namespace to merge into (required)")
	importCmd.Flags().StringVar(&importSource, "source", "", "source for fragments that do not name one")
	_ = importCmd.MarkFlagRequired("namespace")
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := storage.ValidateNamespace(importNamespace); err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()
		in = f
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	log := logger.GetLogger()
	engine := aggregate.NewEngine(store, storage.NewLocks(), log)
	stats, err := ingest.NewImporter(engine, importSource, log).Import(ctx, importNamespace, in)

	ui.PrintSummary("Import summary: "+importNamespace, map[string]interface{}{
		"Run":       stats.RunID,
		"Lines":     stats.Lines,
		"Merged":    stats.Merged,
		"Created":   stats.Created,
		"Updated":   stats.Updated,
		"Malformed": stats.Malformed,
		"Invalid":   stats.Invalid,
		"Failed":    stats.Failed,
	})
	if err != nil {
		return fmt.Errorf("import incomplete: %w", err)
	}
	ui.PrintSuccess(fmt.Sprintf("Imported %d fragments", stats.Merged))
	return nil
}
