package fetcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	errs "clothscan/pkg/errors"
	"clothscan/pkg/logger"
	"clothscan/pkg/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	delay  time.Duration
	fail   map[string]bool
	calls  atomic.Int32
	active atomic.Int32
	peak   atomic.Int32
	mu     sync.Mutex
}

func (m *mockClient) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	m.calls.Add(1)
	n := m.active.Add(1)
	defer m.active.Add(-1)
	m.mu.Lock()
	if n > m.peak.Load() {
		m.peak.Store(n)
	}
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.fail[url] {
		return nil, fmt.Errorf("connection reset")
	}
	return io.NopCloser(strings.NewReader("bytes of " + url)), nil
}

func jobsFor(dir string, n int) []Job {
	jobs := make([]Job, n)
	for i := range jobs {
		name := fmt.Sprintf("P%d.jpg", i)
		jobs[i] = Job{
			URL:       "http://cdn/" + name,
			Namespace: "shop",
			Ref:       "media/" + name,
			Path:      filepath.Join(dir, "media", name),
		}
	}
	return jobs
}

func TestFetchAllWritesFiles(t *testing.T) {
	dir := t.TempDir()
	client := &mockClient{}
	jobs := jobsFor(dir, 5)

	results := FetchAll(context.Background(), jobs, 3, client, nil, logger.NewNopLogger())

	require.Len(t, results, 5)
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, jobs[i].Ref, r.Job.Ref, "results keep submit order")
		data, err := os.ReadFile(jobs[i].Path)
		require.NoError(t, err)
		assert.Equal(t, "bytes of "+jobs[i].URL, string(data))
		assert.Equal(t, int64(len(data)), r.Size)
	}
	assert.Equal(t, int32(5), client.calls.Load())
}

func TestFetchAllSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	jobs := jobsFor(dir, 2)
	require.NoError(t, os.MkdirAll(filepath.Dir(jobs[0].Path), 0755))
	require.NoError(t, os.WriteFile(jobs[0].Path, []byte("cached"), 0644))

	client := &mockClient{}
	results := FetchAll(context.Background(), jobs, 2, client, nil, logger.NewNopLogger())

	assert.True(t, results[0].Skipped)
	assert.False(t, results[1].Skipped)
	assert.Equal(t, int32(1), client.calls.Load())

	data, err := os.ReadFile(jobs[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "cached", string(data))
}

func TestFetchFailureKeepsRef(t *testing.T) {
	dir := t.TempDir()
	jobs := jobsFor(dir, 3)
	client := &mockClient{fail: map[string]bool{jobs[1].URL: true}}

	results := FetchAll(context.Background(), jobs, 2, client, nil, logger.NewNopLogger())

	require.Error(t, results[1].Err)
	assert.ErrorIs(t, results[1].Err, errs.ErrFetchFailed)
	assert.Equal(t, "media/P1.jpg", results[1].Job.Ref)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[2].Err)

	_, err := os.Stat(jobs[1].Path)
	assert.True(t, os.IsNotExist(err))
	entries, err := os.ReadDir(filepath.Dir(jobs[0].Path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	client := &mockClient{delay: 20 * time.Millisecond}
	FetchAll(context.Background(), jobsFor(t.TempDir(), 10), 2, client, nil, logger.NewNopLogger())

	assert.LessOrEqual(t, client.peak.Load(), int32(2))
	assert.Equal(t, int32(10), client.calls.Load())
}

func TestPoolRateLimited(t *testing.T) {
	client := &mockClient{}
	limiter := ratelimit.NewTokenBucket(2, 50*time.Millisecond)

	start := time.Now()
	results := FetchAll(context.Background(), jobsFor(t.TempDir(), 4), 4, client, limiter, logger.NewNopLogger())

	for _, r := range results {
		assert.NoError(t, r.Err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestFetchAllCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobs := jobsFor(t.TempDir(), 6)
	results := FetchAll(ctx, jobs, 2, &mockClient{}, nil, logger.NewNopLogger())

	require.Len(t, results, 6)
	for i, r := range results {
		assert.ErrorIs(t, r.Err, errs.ErrFetchFailed)
		assert.Equal(t, jobs[i].Ref, r.Job.Ref)
	}
}
