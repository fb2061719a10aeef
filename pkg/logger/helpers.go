package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// LogRequest logs HTTP request information at a level matching the status
func LogRequest(method, url string, statusCode int, duration time.Duration) {
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": statusCode,
		"duration":    duration,
	}

	switch {
	case statusCode >= 500:
		GetLogger().ErrorWithFields("HTTP request server error", fields)
	case statusCode >= 400:
		GetLogger().WarnWithFields("HTTP request client error", fields)
	default:
		GetLogger().DebugWithFields("HTTP request completed", fields)
	}
}

// LogFetch logs the outcome of obtaining one media file
func LogFetch(namespace, media string, skipped bool, err error) {
	l := GetLogger().WithFields(map[string]interface{}{
		"namespace": namespace,
		"media":     media,
	})

	switch {
	case err != nil:
		l.WithError(err).Warn("Media fetch failed")
	case skipped:
		l.Debug("Media already present")
	default:
		l.Debug("Media fetched")
	}
}

// LogRateLimit logs rate limiting events
func LogRateLimit(endpoint string, retryAfter time.Duration) {
	GetLogger().WithFields(map[string]interface{}{
		"endpoint":    endpoint,
		"retry_after": retryAfter,
	}).Warn("Rate limit reached, backing off")
}

// LogIngestProgress logs posts handled so far for one profile
func LogIngestProgress(profile string, done, total int) {
	percentage := 0.0
	if total > 0 {
		percentage = float64(done) / float64(total) * 100
	}

	GetLogger().WithFields(map[string]interface{}{
		"profile":    profile,
		"done":       done,
		"total":      total,
		"percentage": fmt.Sprintf("%.1f%%", percentage),
	}).Info("Ingest progress")
}

// LogPassSummary logs the counters of a finished ingest, import or scoring pass
func LogPassSummary(pass, runID string, counters map[string]interface{}, elapsed time.Duration) {
	fields := map[string]interface{}{
		"pass":    pass,
		"run_id":  runID,
		"elapsed": elapsed,
	}
	for k, v := range counters {
		fields[k] = v
	}
	GetLogger().InfoWithFields("Pass finished", fields)
}

// NewNopLogger creates a logger that discards everything
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(string)                                   {}
func (n *nopLogger) Info(string)                                    {}
func (n *nopLogger) Warn(string)                                    {}
func (n *nopLogger) Error(string)                                   {}
func (n *nopLogger) Fatal(string)                                   {}
func (n *nopLogger) WithField(string, interface{}) Logger           { return n }
func (n *nopLogger) WithFields(map[string]interface{}) Logger       { return n }
func (n *nopLogger) WithError(error) Logger                         { return n }
func (n *nopLogger) WithContext(context.Context) Logger             { return n }
func (n *nopLogger) DebugWithFields(string, map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(string, map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(string, map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(string, map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
