package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"clothscan/pkg/aggregate"
	errs "clothscan/pkg/errors"
	"clothscan/pkg/logger"
	"clothscan/pkg/record"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// maxLineBytes bounds one NDJSON line
const maxLineBytes = 4 << 20

// ImportStats totals one import
type ImportStats struct {
	RunID     string
	Lines     int
	Merged    int
	Created   int
	Updated   int
	Malformed int
	Invalid   int
	Failed    int
}

// Importer merges newline-delimited JSON fragments into a namespace
type Importer struct {
	engine *aggregate.Engine
	// Source is set on fragments that carry none
	Source string
	logger logger.Logger
}

// NewImporter creates an importer
func NewImporter(engine *aggregate.Engine, source string, log logger.Logger) *Importer {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Importer{engine: engine, Source: source, logger: log}
}

// Import reads r line by line. Malformed lines and invalid fragments are
// counted and skipped; store failures are collected into the returned error.
func (im *Importer) Import(ctx context.Context, ns string, r io.Reader) (ImportStats, error) {
	start := time.Now()
	stats := ImportStats{RunID: uuid.NewString()}
	log := im.logger.WithFields(map[string]interface{}{
		"namespace": ns,
		"run_id":    stats.RunID,
	})

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var failures []error
	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		stats.Lines++

		var f record.Fragment
		if err := json.Unmarshal(raw, &f); err != nil {
			stats.Malformed++
			log.WarnWithFields("Skipping malformed line", map[string]interface{}{
				"line":  line,
				"error": err.Error(),
			})
			continue
		}
		if f.Source == "" {
			f.Source = im.Source
		}

		res, err := im.engine.Merge(ctx, ns, &f)
		switch {
		case errors.Is(err, errs.ErrInvalidFragment):
			stats.Invalid++
			log.WarnWithFields("Skipping invalid fragment", map[string]interface{}{
				"line":  line,
				"error": err.Error(),
			})
			continue
		case err != nil:
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Failed++
			failures = append(failures, fmt.Errorf("line %d: %w", line, err))
			continue
		}

		stats.Merged++
		switch {
		case res.Created:
			stats.Created++
		case res.Changed:
			stats.Updated++
		}
	}
	if err := scanner.Err(); err != nil {
		failures = append(failures, fmt.Errorf("read input: %w", err))
	}

	logger.LogPassSummary("import", stats.RunID, map[string]interface{}{
		"namespace": ns,
		"lines":     stats.Lines,
		"merged":    stats.Merged,
		"created":   stats.Created,
		"updated":   stats.Updated,
		"malformed": stats.Malformed,
		"invalid":   stats.Invalid,
		"failed":    stats.Failed,
	}, time.Since(start))
	return stats, errors.Join(failures...)
}
