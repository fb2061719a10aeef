package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"clothscan/pkg/aggregate"
	"clothscan/pkg/logger"
	"clothscan/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImport(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	engine := aggregate.NewEngine(store, nil, logger.NewNopLogger())
	log := logger.NewTestLogger()
	im := NewImporter(engine, "telegram", log)

	input := strings.Join([]string{
		`{"id":"m1","timestamp":"2024-03-01T12:00:00Z","text":"Blue coat","reactions":{"👍":4},"media":["photos/a.jpg"]}`,
		``,
		`{"timestamp":"2024-03-01T12:00:02Z","media":["photos/b.jpg"]}`,
		`{"id":"m2","group_id":"g7","timestamp":"2024-03-01T13:00:00Z","media":["photos/c.jpg"],"source":"export"}`,
		`{"group_id":"g7","media":["photos/d.jpg"]}`,
		`{not json`,
		`{"text":"orphan"}`,
		`{"id":"m1","text":"ignored","media":["photos/a.jpg"]}`,
	}, "\n")

	stats, err := im.Import(context.Background(), "telegram/shop", strings.NewReader(input))
	require.NoError(t, err)

	assert.NotEmpty(t, stats.RunID)
	assert.Equal(t, 7, stats.Lines)
	assert.Equal(t, 1, stats.Malformed)
	assert.Equal(t, 1, stats.Invalid)
	assert.Equal(t, 5, stats.Merged)
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 2, stats.Updated)
	assert.Len(t, log.GetMessagesByLevel("WARN"), 2)

	m1, err := store.Load(context.Background(), "telegram/shop", "m1")
	require.NoError(t, err)
	require.NotNil(t, m1)
	assert.Equal(t, []string{"photos/a.jpg", "photos/b.jpg"}, m1.Media)
	assert.Equal(t, "Blue coat", m1.Text)
	assert.Equal(t, "telegram", m1.Source)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), m1.Timestamp.UTC())

	m2, err := store.Load(context.Background(), "telegram/shop", "m2")
	require.NoError(t, err)
	require.NotNil(t, m2)
	assert.Equal(t, []string{"photos/c.jpg", "photos/d.jpg"}, m2.Media)
	assert.Equal(t, "export", m2.Source)
}

func TestImportCanceled(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	im := NewImporter(aggregate.NewEngine(store, nil, logger.NewNopLogger()), "", logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = im.Import(ctx, "ns", strings.NewReader(`{"id":"x"}`))
	assert.ErrorIs(t, err, context.Canceled)
}
