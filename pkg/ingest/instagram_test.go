package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"clothscan/pkg/aggregate"
	"clothscan/pkg/checkpoint"
	errs "clothscan/pkg/errors"
	"clothscan/pkg/instagram"
	"clothscan/pkg/logger"
	"clothscan/pkg/record"
	"clothscan/pkg/retry"
	"clothscan/pkg/storage"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const page1 = `{"data":{"user":{"edge_owner_to_timeline_media":{
  "page_info":{"has_next_page":true,"end_cursor":"c1"},
  "edges":[
    {"node":{"__typename":"GraphImage","shortcode":"AAA","display_url":"{{srv}}/img/AAA.jpg",
      "taken_at_timestamp":1709294400,
      "edge_media_to_caption":{"edges":[{"node":{"text":"New denim jacket"}}]},
      "edge_liked_by":{"count":12},"edge_media_to_comment":{"count":3}}},
    {"node":{"__typename":"GraphVideo","shortcode":"VID","display_url":"{{srv}}/img/VID.jpg","is_video":true,
      "video_view_count":900,"taken_at_timestamp":1709290800}},
    {"node":{"__typename":"GraphSidecar","shortcode":"ALB","display_url":"{{srv}}/img/cover.jpg",
      "taken_at_timestamp":1709287200,
      "edge_media_to_caption":{"edges":[{"node":{"text":"spring drop"}}]},
      "edge_media_preview_like":{"count":40},
      "edge_sidecar_to_children":{"edges":[
        {"node":{"display_url":"{{srv}}/img/ALB_0.jpg"}},
        {"node":{"display_url":"{{srv}}/img/ALB_1.mp4","is_video":true}},
        {"node":{"display_url":"{{srv}}/img/ALB_2.jpg"}}]}}}
  ]}}}}`

const page2 = `{"data":{"user":{"edge_owner_to_timeline_media":{
  "page_info":{"has_next_page":false},
  "edges":[
    {"node":{"__typename":"GraphImage","shortcode":"BBB","display_url":"{{srv}}/img/{{bbb}}",
      "taken_at_timestamp":1709280000,
      "edge_media_to_caption":{"edges":[{"node":{"text":"cat photo"}}]}}}
  ]}}}}`

type fakeInstagram struct {
	srv       *httptest.Server
	pages     atomic.Int32
	images    atomic.Int32
	failPage2 atomic.Bool
	brokenBBB bool
}

func newFakeInstagram(t *testing.T) *fakeInstagram {
	t.Helper()
	f := &fakeInstagram{}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeInstagram) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == instagram.ProfileEndpoint:
		io.WriteString(w, `{"data":{"user":{"id":"42","username":"shop"}}}`)
	case r.URL.Path == instagram.MediaEndpoint:
		f.pages.Add(1)
		var vars struct {
			After string `json:"after"`
		}
		_ = json.Unmarshal([]byte(r.URL.Query().Get("variables")), &vars)
		body := page1
		if vars.After == "c1" {
			if f.failPage2.Load() {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			body = page2
		}
		bbb := "BBB.jpg"
		if f.brokenBBB {
			bbb = "missing.jpg"
		}
		body = strings.ReplaceAll(body, "{{srv}}", f.srv.URL)
		io.WriteString(w, strings.ReplaceAll(body, "{{bbb}}", bbb))
	case strings.HasPrefix(r.URL.Path, "/img/"):
		if strings.HasSuffix(r.URL.Path, "missing.jpg") {
			http.NotFound(w, r)
			return
		}
		f.images.Add(1)
		io.WriteString(w, "jpeg:"+r.URL.Path)
	default:
		http.NotFound(w, r)
	}
}

type harness struct {
	root   string
	store  storage.Store
	engine *aggregate.Engine
	client *instagram.Client
}

func newHarness(t *testing.T, ig *fakeInstagram) *harness {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFileStore(root)
	require.NoError(t, err)

	rc := retry.DefaultConfig()
	rc.Backoff = &retry.ConstantBackoff{Delay: time.Millisecond}
	rc.Logger = logger.NewNopLogger()
	client := instagram.NewClient(5*time.Second, logger.NewNopLogger(),
		instagram.WithBaseURL(ig.srv.URL), instagram.WithRetry(rc))

	return &harness{
		root:   root,
		store:  store,
		engine: aggregate.NewEngine(store, nil, logger.NewNopLogger()),
		client: client,
	}
}

func (h *harness) ingester(opts Options) *Ingester {
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	return NewIngester(h.client, h.engine, h.root, opts, logger.NewNopLogger())
}

func (h *harness) load(t *testing.T, id string) *record.Record {
	t.Helper()
	r, err := h.store.Load(context.Background(), "shop", id)
	require.NoError(t, err)
	require.NotNil(t, r, "record %s", id)
	return r
}

func (h *harness) ids(t *testing.T) []string {
	t.Helper()
	var ids []string
	for r, err := range h.store.Scan(context.Background(), "shop") {
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	return ids
}

func TestIngestProfile(t *testing.T) {
	ig := newFakeInstagram(t)
	h := newHarness(t, ig)

	stats, err := h.ingester(Options{}).Ingest(context.Background(), "@shop")
	require.NoError(t, err)

	assert.Equal(t, "shop", stats.Profile)
	assert.NotEmpty(t, stats.RunID)
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 3, stats.Posts)
	assert.Equal(t, 1, stats.Skipped, "video-only post")
	assert.Equal(t, 4, stats.Media)
	assert.Equal(t, 3, stats.Created)
	assert.Equal(t, t0, stats.Latest)
	assert.Equal(t, t0.Add(-4*time.Hour), stats.Earliest)

	assert.ElementsMatch(t, []string{"AAA", "ALB", "BBB"}, h.ids(t))

	a := h.load(t, "AAA")
	assert.Equal(t, SourceInstagram, a.Source)
	assert.Equal(t, t0, a.Timestamp)
	assert.Equal(t, "New denim jacket", a.Text)
	assert.Equal(t, map[string]int64{"likes": 12, "comments": 3}, a.Reactions)
	assert.Equal(t, []string{"media/AAA.jpg"}, a.Media)

	alb := h.load(t, "ALB")
	assert.Equal(t, []string{"media/ALB_0.jpg", "media/ALB_2.jpg"}, alb.Media)
	assert.True(t, alb.IsVideo)
	assert.Equal(t, int64(40), alb.Reactions["likes"])

	data, err := os.ReadFile(filepath.Join(h.root, "shop", "media", "ALB_2.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg:/img/ALB_2.jpg", string(data))

	cp, err := checkpoint.NewManager(h.root, "shop")
	require.NoError(t, err)
	assert.False(t, cp.Exists(), "checkpoint removed after completion")
}

func TestIngestIsIdempotent(t *testing.T) {
	ig := newFakeInstagram(t)
	h := newHarness(t, ig)

	_, err := h.ingester(Options{}).Ingest(context.Background(), "shop")
	require.NoError(t, err)
	downloads := ig.images.Load()

	stats, err := h.ingester(Options{}).Ingest(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, downloads, ig.images.Load(), "existing media is not downloaded again")
	assert.Len(t, h.ids(t), 3)
}

func TestIngestKeepVideos(t *testing.T) {
	ig := newFakeInstagram(t)
	h := newHarness(t, ig)

	stats, err := h.ingester(Options{KeepVideos: true}).Ingest(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Posts)
	assert.Equal(t, 0, stats.Skipped)

	vid := h.load(t, "VID")
	assert.True(t, vid.IsVideo)
	assert.Empty(t, vid.Media)
	assert.Equal(t, int64(900), vid.Reactions["views"])
	assert.Equal(t, t0.Add(-time.Hour), vid.Timestamp)
}

func TestIngestPostLimit(t *testing.T) {
	ig := newFakeInstagram(t)
	h := newHarness(t, ig)

	stats, err := h.ingester(Options{PostLimit: 2}).Ingest(context.Background(), "shop")
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Posts)
	assert.Equal(t, int32(1), ig.pages.Load(), "second page never requested")
	assert.ElementsMatch(t, []string{"AAA", "ALB"}, h.ids(t))
}

func TestIngestContentFilters(t *testing.T) {
	ig := newFakeInstagram(t)
	h := newHarness(t, ig)

	stats, err := h.ingester(Options{ContentFilters: []string{"JACKET", "dress"}}).Ingest(context.Background(), "shop")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Posts)
	assert.Equal(t, []string{"AAA"}, h.ids(t))
}

func TestIngestRecordsFailedFetch(t *testing.T) {
	ig := newFakeInstagram(t)
	ig.brokenBBB = true
	h := newHarness(t, ig)

	stats, err := h.ingester(Options{}).Ingest(context.Background(), "shop")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.FetchFailed)
	b := h.load(t, "BBB")
	assert.Equal(t, []string{"media/BBB.jpg"}, b.Media)
	_, err = os.Stat(filepath.Join(h.root, "shop", "media", "BBB.jpg"))
	assert.True(t, os.IsNotExist(err))
}

func TestIngestResume(t *testing.T) {
	ig := newFakeInstagram(t)
	ig.failPage2.Store(true)
	h := newHarness(t, ig)

	_, err := h.ingester(Options{}).Ingest(context.Background(), "shop")
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeUnknown, errs.TypeOf(err))

	mgr, err := checkpoint.NewManager(h.root, "shop")
	require.NoError(t, err)
	cp, err := mgr.Load()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "c1", cp.EndCursor)
	assert.True(t, cp.IsMerged("AAA"))
	assert.True(t, cp.IsMerged("ALB"))

	// an unfinished run blocks a plain rerun
	_, err = h.ingester(Options{}).Ingest(context.Background(), "shop")
	assert.ErrorIs(t, err, ErrCheckpointExists)

	ig.failPage2.Store(false)
	before := ig.pages.Load()
	stats, err := h.ingester(Options{Resume: true}).Ingest(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, cp.RunID, stats.RunID)
	assert.Equal(t, 1, stats.Posts)
	assert.Equal(t, before+1, ig.pages.Load(), "resume starts at the saved cursor")
	assert.Len(t, h.ids(t), 3)
	assert.False(t, mgr.Exists())
}

func TestIngestForceRestart(t *testing.T) {
	ig := newFakeInstagram(t)
	h := newHarness(t, ig)

	mgr, err := checkpoint.NewManager(h.root, "shop")
	require.NoError(t, err)
	_, err = mgr.Create("shop", "shop", "42", "old-run")
	require.NoError(t, err)

	stats, err := h.ingester(Options{ForceRestart: true}).Ingest(context.Background(), "shop")
	require.NoError(t, err)
	assert.NotEqual(t, "old-run", stats.RunID)
	assert.Equal(t, 3, stats.Posts)
}

func TestIngestRejectsBadProfile(t *testing.T) {
	h := newHarness(t, newFakeInstagram(t))
	_, err := h.ingester(Options{}).Ingest(context.Background(), "not a user")
	assert.Error(t, err)
}

func TestMatchesFilters(t *testing.T) {
	tests := []struct {
		text     string
		keywords []string
		want     bool
	}{
		{"anything", nil, true},
		{"Linen SHIRT sale", []string{"shirt"}, true},
		{"sunset", []string{"shirt", "dress"}, false},
		{"", []string{"shirt"}, false},
		{"sunset", []string{""}, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.text, tt.keywords), func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesFilters(tt.text, tt.keywords))
		})
	}
}
