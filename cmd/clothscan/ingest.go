package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"clothscan/pkg/aggregate"
	"clothscan/pkg/auth"
	"clothscan/pkg/ingest"
	"clothscan/pkg/instagram"
	"clothscan/pkg/logger"
	"clothscan/pkg/ratelimit"
	"clothscan/pkg/retry"
	"clothscan/pkg/storage"
	"clothscan/pkg/ui"

	"github.com/spf13/cobra"
)

var (
	// Ingest command flags
	accountName  string
	resumeIngest bool
	forceRestart bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <profile>...",
	Short: "Fetch recent posts of Instagram profiles into the record store",
	Long: `Fetch the most recent posts of one or more Instagram profiles, download
their images and merge each post into the profile's record namespace.

Credentials are taken from, in order:
  - the --account stored with 'clothscan auth login'
  - CLOTHSCAN_SESSION_ID and CLOTHSCAN_CSRF_TOKEN
  - the configuration file
  - the most recently stored account

An interrupted run leaves a checkpoint behind; rerun with --resume to continue
it or --force-restart to discard it.`,
	Example: `  # Ingest the last 5 posts of two profiles
  clothscan ingest brand_a brand_b

  # Ingest up to 50 posts into a custom store
  clothscan ingest brand_a --post-limit 50 --data-dir ./records

  # Resume an interrupted ingest
  clothscan ingest brand_a --resume`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().Int("post-limit", 5, "posts to ingest per profile (0 for all)")
	ingestCmd.Flags().Int("concurrent-downloads", 3, "number of concurrent media downloads")
	ingestCmd.Flags().Int("requests-per-minute", 60, "Instagram requests per minute")
	ingestCmd.Flags().String("session-id", "", "Instagram session id cookie")
	ingestCmd.Flags().String("csrf-token", "", "Instagram csrf token cookie")
	ingestCmd.Flags().StringVarP(&accountName, "account", "a", "", "use specific stored account")
	ingestCmd.Flags().BoolVar(&resumeIngest, "resume", false, "resume from last checkpoint")
	ingestCmd.Flags().BoolVar(&forceRestart, "force-restart", false, "force restart, ignoring existing checkpoint")
}

// signalContext is canceled on SIGINT or SIGTERM so checkpoints get written
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	log := logger.GetLogger()

	creds, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	session, err := creds.Resolve(accountName, cfg.Instagram)
	if err != nil {
		return fmt.Errorf("no Instagram session available (run 'clothscan auth login'): %w", err)
	}

	client := instagram.NewClient(cfg.Download.DownloadTimeout, log,
		instagram.WithLimiter(ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute)),
		instagram.WithRetry(retry.FromConfig(cfg.Retry, log)),
	)
	client.SetSession(session.SessionID, session.CSRFToken, session.UserAgent)

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	engine := aggregate.NewEngine(store, storage.NewLocks(), log)

	opts := ingest.OptionsFromConfig(cfg)
	opts.Resume = resumeIngest
	opts.ForceRestart = forceRestart
	ingester := ingest.NewIngester(client, engine, cfg.Storage.Root, opts, log)

	var failed []string
	for _, profile := range args {
		profile = strings.TrimSpace(profile)
		ui.PrintInfo("Profile", profile)

		stats, err := ingester.Ingest(ctx, profile)
		if err != nil {
			if errors.Is(err, ingest.ErrCheckpointExists) {
				ui.PrintWarning(fmt.Sprintf("%s has an unfinished run; use --resume or --force-restart", profile))
			} else {
				ui.PrintError("Ingest failed for "+profile, err)
			}
			failed = append(failed, profile)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		ui.PrintSummary("Ingest summary: "+profile, ingestSummary(stats))
	}

	if len(failed) > 0 {
		return fmt.Errorf("ingest failed for %d of %d profiles: %s", len(failed), len(args), strings.Join(failed, ", "))
	}
	ui.PrintSuccess(fmt.Sprintf("Ingested %d profiles into %s", len(args), cfg.Storage.Root))
	return nil
}

func ingestSummary(s ingest.Stats) map[string]interface{} {
	fields := map[string]interface{}{
		"Run":          s.RunID,
		"Pages":        s.Pages,
		"Posts":        s.Posts,
		"Skipped":      s.Skipped,
		"Media":        s.Media,
		"Fetch failed": s.FetchFailed,
		"Created":      s.Created,
		"Updated":      s.Updated,
	}
	if !s.Earliest.IsZero() {
		fields["Window"] = fmt.Sprintf("%s .. %s", s.Earliest.Format("2006-01-02 15:04"), s.Latest.Format("2006-01-02 15:04"))
	}
	return fields
}
