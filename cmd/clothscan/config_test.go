package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"clothscan/pkg/config"
	"clothscan/pkg/ingest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExampleConfigIsValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clothscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(exampleConfig), 0600))

	c := config.DefaultConfig()
	require.NoError(t, c.LoadFromFile(path))
	require.NoError(t, c.Validate())

	assert.Equal(t, 30*time.Second, c.Download.DownloadTimeout)
	assert.Equal(t, config.BackendFile, c.Storage.Backend)
	require.Len(t, c.Scoring.Models, 2)
	assert.Equal(t, "clip_large", c.Scoring.Models[1].Name)
	assert.Equal(t, config.DefaultLabels, c.Scoring.Models[0].Labels)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", mask(""))
	assert.Equal(t, "****", mask("short"))
	assert.Equal(t, "1234****cdef", mask("1234567890abcdef"))
}

func TestIngestSummary(t *testing.T) {
	fields := ingestSummary(ingest.Stats{Posts: 3, Created: 2})
	assert.Equal(t, 3, fields["Posts"])
	assert.NotContains(t, fields, "Window")

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fields = ingestSummary(ingest.Stats{Earliest: t0, Latest: t0.Add(time.Hour)})
	assert.Equal(t, "2026-03-01 12:00 .. 2026-03-01 13:00", fields["Window"])
}
