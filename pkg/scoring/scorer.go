// Package scoring keeps per-model score arrays aligned with each record's
// media and fills them from opaque scoring functions.
package scoring

import (
	"context"
	"math"
	"path/filepath"
	"strings"

	errs "clothscan/pkg/errors"
)

// Scorer maps a local media file to a probability in [0,1]. It fails with
// errs.ErrScoringFailed when the file is absent or cannot be processed.
type Scorer interface {
	Score(ctx context.Context, path string) (float64, error)
}

// ScorerFunc adapts a function to Scorer
type ScorerFunc func(ctx context.Context, path string) (float64, error)

func (f ScorerFunc) Score(ctx context.Context, path string) (float64, error) {
	return f(ctx, path)
}

// Model pairs a registered model name with its scorer
type Model struct {
	Name   string
	Scorer Scorer
}

func checkRange(path string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return errs.ScoringFailed(path, errs.New(errs.ErrorTypeParsing, "score out of range"))
	}
	return nil
}

// resolved scores references relative to a namespace directory
type resolved struct {
	inner Scorer
	base  string
}

func (r resolved) Score(ctx context.Context, ref string) (float64, error) {
	return r.inner.Score(ctx, Resolve(r.base, ref))
}

// Resolve turns a media reference into a local path. Absolute paths and
// URIs are returned unchanged; anything else is relative to base.
func Resolve(base, ref string) string {
	if filepath.IsAbs(ref) || strings.Contains(ref, "://") || base == "" {
		return ref
	}
	return filepath.Join(base, filepath.FromSlash(ref))
}
