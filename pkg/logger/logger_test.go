package logger

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"clothscan/pkg/config"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info level", &config.LoggingConfig{Level: "info"}, false},
		{"debug level", &config.LoggingConfig{Level: "debug"}, false},
		{"invalid level", &config.LoggingConfig{Level: "verbose"}, true},
		{"file output", &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "clothscan.log")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "debug")
	require.NoError(t, err)

	l.WithField("namespace", "instagram/alice").
		WithFields(map[string]interface{}{"record": "p1", "media": 2}).
		WithError(errors.New("boom")).
		Warn("Score entry stale")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "Score entry stale", entry["message"])
	assert.Equal(t, "clothscan", entry["app"])
	assert.Equal(t, "instagram/alice", entry["namespace"])
	assert.Equal(t, "p1", entry["record"])
	assert.Equal(t, float64(2), entry["media"])
	assert.Equal(t, "boom", entry["error"])
}

func TestWithFieldDoesNotLeak(t *testing.T) {
	var buf bytes.Buffer
	base, err := NewWithWriter(&buf, "info")
	require.NoError(t, err)

	_ = base.WithField("model", "clip_base")
	base.Info("plain")

	assert.NotContains(t, buf.String(), "clip_base")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "warn")
	require.NoError(t, err)

	l.Info("hidden")
	l.Error("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestTestLoggerCapture(t *testing.T) {
	tl := NewTestLogger()
	derived := tl.WithField("model", "clip_large").WithError(errors.New("timeout"))

	derived.Warn("Scoring failed")
	tl.Info("Pass finished")

	msgs := tl.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "clip_large", msgs[0].Fields["model"])
	assert.EqualError(t, msgs[0].Error, "timeout")
	assert.Len(t, tl.GetMessagesByLevel("WARN"), 1)
	assert.True(t, tl.HasMessage("Pass finished"))

	tl.Clear()
	assert.Empty(t, tl.GetMessages())
}
