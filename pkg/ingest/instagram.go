package ingest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"clothscan/internal/fetcher"
	"clothscan/pkg/aggregate"
	"clothscan/pkg/checkpoint"
	"clothscan/pkg/config"
	"clothscan/pkg/instagram"
	"clothscan/pkg/logger"
	"clothscan/pkg/ratelimit"
	"clothscan/pkg/record"
	"clothscan/pkg/storage"

	"github.com/google/uuid"
)

// SourceInstagram tags fragments built from Instagram posts
const SourceInstagram = "instagram"

// ErrCheckpointExists is returned when an unfinished run exists and neither
// resume nor restart was requested
var ErrCheckpointExists = errors.New("checkpoint exists - use --resume to continue or --force-restart to start fresh")

// Client is the part of the Instagram client ingestion needs
type Client interface {
	FetchUserProfile(ctx context.Context, username string) (*instagram.InstagramResponse, error)
	FetchUserMedia(ctx context.Context, userID, after string) (*instagram.InstagramResponse, error)
	fetcher.Downloader
}

// Options selects posts and controls downloads
type Options struct {
	// PostLimit caps posts per profile; 0 means no limit
	PostLimit int
	// ContentFilters keeps only posts whose caption contains one of the keywords
	ContentFilters []string
	// KeepVideos ingests video-only posts as records without media
	KeepVideos   bool
	Workers      int
	Resume       bool
	ForceRestart bool
	// DownloadLimiter throttles media downloads
	DownloadLimiter ratelimit.Limiter
}

// OptionsFromConfig reads ingestion options from cfg. Downloads are
// limited to concurrent_downloads per second.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PostLimit:       cfg.Ingest.PostLimit,
		ContentFilters:  cfg.Ingest.ContentFilters,
		KeepVideos:      !cfg.Ingest.SkipVideos,
		Workers:         cfg.Download.ConcurrentDownloads,
		DownloadLimiter: ratelimit.NewTokenBucket(cfg.Download.ConcurrentDownloads, time.Second),
	}
}

// Stats totals one profile ingestion
type Stats struct {
	Profile     string
	RunID       string
	Pages       int
	Posts       int
	Skipped     int
	Media       int
	FetchFailed int
	Created     int
	Updated     int
	Earliest    time.Time
	Latest      time.Time
}

func (s *Stats) observe(t time.Time) {
	if t.IsZero() {
		return
	}
	if s.Earliest.IsZero() || t.Before(s.Earliest) {
		s.Earliest = t
	}
	if t.After(s.Latest) {
		s.Latest = t
	}
}

// Ingester merges Instagram posts into the record store
type Ingester struct {
	client Client
	engine *aggregate.Engine
	root   string
	opts   Options
	logger logger.Logger
}

// NewIngester creates an ingester writing media under root
func NewIngester(client Client, engine *aggregate.Engine, root string, opts Options, log logger.Logger) *Ingester {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Ingester{client: client, engine: engine, root: root, opts: opts, logger: log}
}

// Ingest walks profile's timeline into the namespace named after it. The
// checkpoint is kept when the run fails so it can be resumed.
func (in *Ingester) Ingest(ctx context.Context, profile string) (Stats, error) {
	start := time.Now()
	profile = instagram.SanitizeUsername(profile)
	if !instagram.IsValidUsername(profile) {
		return Stats{}, fmt.Errorf("invalid profile name %q", profile)
	}
	ns := profile
	if err := storage.ValidateNamespace(ns); err != nil {
		return Stats{}, err
	}

	log := in.logger.WithField("profile", profile)
	cpMgr, err := checkpoint.NewManager(in.root, profile)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to create checkpoint manager: %w", err)
	}

	cp, err := in.openCheckpoint(cpMgr, log)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Profile: profile}
	if cp == nil {
		resp, err := in.client.FetchUserProfile(ctx, profile)
		if err != nil {
			return stats, err
		}
		runID := uuid.NewString()
		cp, err = cpMgr.Create(profile, ns, resp.Data.User.ID, runID)
		if err != nil {
			return stats, err
		}
	}
	stats.RunID = cp.RunID

	log.InfoWithFields("Starting ingestion", map[string]interface{}{
		"run_id":  cp.RunID,
		"user_id": cp.UserID,
		"resume":  cp.EndCursor != "",
	})

	cursor := cp.EndCursor
	page := cp.LastProcessedPage
	for {
		if in.limitReached(cp) {
			break
		}
		resp, err := in.client.FetchUserMedia(ctx, cp.UserID, cursor)
		if err != nil {
			return stats, err
		}
		timeline := resp.Data.User.EdgeOwnerToTimelineMedia
		stats.Pages++
		page++

		if err := in.ingestPage(ctx, ns, timeline.Edges, cp, &stats); err != nil {
			if saveErr := cpMgr.Save(cp); saveErr != nil {
				log.WithError(saveErr).Warn("Failed to save checkpoint")
			}
			return stats, err
		}

		if !timeline.PageInfo.HasNextPage || timeline.PageInfo.EndCursor == "" {
			break
		}
		cursor = timeline.PageInfo.EndCursor
		if err := cpMgr.UpdateProgress(cp, cursor, page); err != nil {
			log.WithError(err).Warn("Failed to update checkpoint progress")
		}
		logger.LogIngestProgress(profile, cp.TotalMerged, in.opts.PostLimit)
	}

	if err := cpMgr.Delete(); err != nil {
		log.WithError(err).Warn("Failed to delete checkpoint")
	}

	logger.LogPassSummary("ingest", stats.RunID, map[string]interface{}{
		"profile":      profile,
		"pages":        stats.Pages,
		"posts":        stats.Posts,
		"skipped":      stats.Skipped,
		"media":        stats.Media,
		"fetch_failed": stats.FetchFailed,
		"created":      stats.Created,
		"updated":      stats.Updated,
		"earliest":     stats.Earliest,
		"latest":       stats.Latest,
	}, time.Since(start))
	return stats, nil
}

func (in *Ingester) openCheckpoint(mgr *checkpoint.Manager, log logger.Logger) (*checkpoint.Checkpoint, error) {
	switch {
	case in.opts.ForceRestart:
		if err := mgr.Delete(); err != nil {
			return nil, err
		}
		return nil, nil
	case !mgr.Exists():
		return nil, nil
	case !in.opts.Resume:
		return nil, ErrCheckpointExists
	}

	cp, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp != nil && cp.UserID == "" {
		log.Warn("Checkpoint has no user id, starting over")
		return nil, nil
	}
	return cp, nil
}

func (in *Ingester) limitReached(cp *checkpoint.Checkpoint) bool {
	return in.opts.PostLimit > 0 && cp.TotalMerged >= in.opts.PostLimit
}

type pendingPost struct {
	node *instagram.Node
	jobs []fetcher.Job
}

func (in *Ingester) ingestPage(ctx context.Context, ns string, edges []instagram.Edge, cp *checkpoint.Checkpoint, stats *Stats) error {
	mediaDir := filepath.Join(in.root, ns, storage.MediaDir)

	var posts []pendingPost
	var jobs []fetcher.Job
	selected := cp.TotalMerged
	for i := range edges {
		node := &edges[i].Node
		if in.opts.PostLimit > 0 && selected >= in.opts.PostLimit {
			break
		}
		if !in.keep(node, cp) {
			stats.Skipped++
			continue
		}
		selected++

		p := pendingPost{node: node}
		for _, img := range node.Images() {
			p.jobs = append(p.jobs, fetcher.Job{
				URL:       img.URL,
				Namespace: ns,
				Ref:       path.Join(storage.MediaDir, img.Name),
				Path:      filepath.Join(mediaDir, img.Name),
			})
		}
		jobs = append(jobs, p.jobs...)
		posts = append(posts, p)
	}
	if len(posts) == 0 {
		return nil
	}

	results := fetcher.FetchAll(ctx, jobs, in.opts.Workers, in.client, in.opts.DownloadLimiter, in.logger)
	for _, r := range results {
		stats.Media++
		if r.Err != nil {
			stats.FetchFailed++
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, p := range posts {
		res, err := in.engine.Merge(ctx, ns, postFragment(p))
		if err != nil {
			return fmt.Errorf("merge post %s: %w", p.node.Shortcode, err)
		}
		stats.Posts++
		stats.observe(p.node.TakenAt())
		switch {
		case res.Created:
			stats.Created++
		case res.Changed:
			stats.Updated++
		}
		cp.MarkMerged(p.node.Shortcode)
	}
	return nil
}

// keep applies the video, content filter and resume rules
func (in *Ingester) keep(node *instagram.Node, cp *checkpoint.Checkpoint) bool {
	if node.Shortcode == "" || cp.IsMerged(node.Shortcode) {
		return false
	}
	if len(node.Images()) == 0 && !in.opts.KeepVideos {
		in.logger.DebugWithFields("Skipping video post", map[string]interface{}{
			"shortcode": node.Shortcode,
		})
		return false
	}
	return MatchesFilters(node.Caption(), in.opts.ContentFilters)
}

// MatchesFilters reports whether text contains any keyword, ignoring case.
// No keywords matches everything.
func MatchesFilters(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// postFragment builds the fragment for a post. Media references are kept
// even when their download failed.
func postFragment(p pendingPost) *record.Fragment {
	n := p.node
	f := &record.Fragment{
		ID:        n.Shortcode,
		Source:    SourceInstagram,
		Timestamp: n.TakenAt(),
		Text:      n.Caption(),
		IsVideo:   n.IsVideo,
		Reactions: map[string]int64{
			"likes":    n.Likes(),
			"comments": n.Comments(),
		},
	}
	if n.VideoViewCount > 0 {
		f.Reactions["views"] = n.VideoViewCount
	}
	if n.IsSidecar() {
		for _, c := range n.EdgeSidecarToChildren.Edges {
			if c.Node.IsVideo {
				f.IsVideo = true
			}
		}
	}
	for _, j := range p.jobs {
		f.Media = append(f.Media, j.Ref)
	}
	return f
}
