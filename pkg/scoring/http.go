package scoring

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"clothscan/pkg/config"
	errs "clothscan/pkg/errors"
	"clothscan/pkg/retry"

	"github.com/goccy/go-json"
)

// HTTPScorer posts an image and its candidate labels to a model server and
// reads back the probability of the first label.
type HTTPScorer struct {
	name     string
	endpoint string
	labels   []string
	client   *http.Client
	retry    *retry.Config
}

type scoreResponse struct {
	Score *float64 `json:"score"`
	Error string   `json:"error,omitempty"`
}

// NewHTTPScorer creates a scorer for one configured model
func NewHTTPScorer(mc config.ModelConfig, timeout time.Duration, rc *retry.Config) *HTTPScorer {
	labels := mc.Labels
	if len(labels) == 0 {
		labels = config.DefaultLabels
	}
	if rc == nil {
		rc = retry.DefaultConfig()
	}
	return &HTTPScorer{
		name:     mc.Name,
		endpoint: mc.Endpoint,
		labels:   labels,
		client:   &http.Client{Timeout: timeout},
		retry:    rc,
	}
}

// Models builds HTTP scorers for every configured model
func Models(sc config.ScoringConfig, rc *retry.Config) []Model {
	models := make([]Model, 0, len(sc.Models))
	for _, mc := range sc.Models {
		models = append(models, Model{Name: mc.Name, Scorer: NewHTTPScorer(mc, sc.Timeout, rc)})
	}
	return models
}

func (s *HTTPScorer) Score(ctx context.Context, path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errs.ScoringFailed(path, err)
	}
	if len(data) == 0 {
		return 0, errs.ScoringFailed(path, fmt.Errorf("empty file"))
	}

	v, err := retry.DoWithResult(ctx, s.retry, func() (float64, error) {
		return s.post(ctx, path, data)
	})
	if err != nil {
		return 0, errs.ScoringFailed(path, err)
	}
	if err := checkRange(path, v); err != nil {
		return 0, err
	}
	return v, nil
}

func (s *HTTPScorer) post(ctx context.Context, path string, data []byte) (float64, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return 0, err
	}
	if _, err := part.Write(data); err != nil {
		return 0, err
	}
	for _, l := range s.labels {
		if err := mw.WriteField("labels", l); err != nil {
			return 0, err
		}
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, &body)
	if err != nil {
		return 0, errs.New(errs.ErrorTypeUnknown, err.Error())
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &errs.Error{Type: errs.ErrorTypeNetwork, Message: s.name, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, &errs.Error{Type: errs.ErrorTypeNetwork, Message: "read response", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return 0, &errs.Error{Type: errs.ErrorTypeRateLimit, Message: s.name, Code: resp.StatusCode}
	case resp.StatusCode >= 500:
		return 0, &errs.Error{Type: errs.ErrorTypeServerError, Message: s.name, Code: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return 0, &errs.Error{Type: errs.ErrorTypeScoringFailed, Message: string(bytes.TrimSpace(raw)), Code: resp.StatusCode}
	}

	var sr scoreResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return 0, &errs.Error{Type: errs.ErrorTypeParsing, Message: "decode score response", Err: err}
	}
	if sr.Score == nil {
		return 0, &errs.Error{Type: errs.ErrorTypeParsing, Message: "response has no score: " + sr.Error}
	}
	return *sr.Score, nil
}
