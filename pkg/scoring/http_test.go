package scoring

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"clothscan/pkg/config"
	errs "clothscan/pkg/errors"
	"clothscan/pkg/logger"
	"clothscan/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() *retry.Config {
	return &retry.Config{
		MaxAttempts: 3,
		Backoff:     &retry.ConstantBackoff{Delay: time.Millisecond},
		Logger:      logger.NewNopLogger(),
	}
}

func writeImage(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "a.jpg")
	require.NoError(t, os.WriteFile(path, []byte("\xff\xd8\xff fake jpeg"), 0644))
	return path
}

func TestHTTPScorer(t *testing.T) {
	var gotLabels []string
	var gotImage string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotLabels = r.MultipartForm.Value["labels"]
		f, _, err := r.FormFile("image")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		gotImage = string(data)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"score": 0.83}`))
	}))
	defer server.Close()

	s := NewHTTPScorer(config.ModelConfig{Name: "clip_base", Endpoint: server.URL}, time.Second, fastRetry())
	v, err := s.Score(context.Background(), writeImage(t))

	require.NoError(t, err)
	assert.Equal(t, 0.83, v)
	assert.Equal(t, config.DefaultLabels, gotLabels)
	assert.Equal(t, "\xff\xd8\xff fake jpeg", gotImage)
}

func TestHTTPScorerRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"score": 0.1}`))
	}))
	defer server.Close()

	s := NewHTTPScorer(config.ModelConfig{Name: "clip_large", Endpoint: server.URL}, time.Second, fastRetry())
	v, err := s.Score(context.Background(), writeImage(t))

	require.NoError(t, err)
	assert.Equal(t, 0.1, v)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPScorerFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCalls int32
	}{
		{"bad request is not retried", http.StatusBadRequest, `unsupported image`, 1},
		{"out of range", http.StatusOK, `{"score": 1.7}`, 1},
		{"no score", http.StatusOK, `{"error": "model not loaded"}`, 1},
		{"persistent outage", http.StatusBadGateway, ``, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			s := NewHTTPScorer(config.ModelConfig{Name: "clip_base", Endpoint: server.URL}, time.Second, fastRetry())
			_, err := s.Score(context.Background(), writeImage(t))

			assert.ErrorIs(t, err, errs.ErrScoringFailed)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestHTTPScorerMissingFile(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	s := NewHTTPScorer(config.ModelConfig{Name: "clip_base", Endpoint: server.URL}, time.Second, fastRetry())
	_, err := s.Score(context.Background(), filepath.Join(t.TempDir(), "nope.jpg"))

	assert.ErrorIs(t, err, errs.ErrScoringFailed)
	assert.Equal(t, int32(0), calls.Load())
}

func TestModelsFromConfig(t *testing.T) {
	models := Models(config.DefaultConfig().Scoring, fastRetry())
	require.Len(t, models, 2)
	assert.Equal(t, "clip_base", models[0].Name)
	assert.Equal(t, "clip_large", models[1].Name)
}
