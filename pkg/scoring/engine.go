package scoring

import (
	"context"

	"clothscan/pkg/logger"
	"clothscan/pkg/record"
)

// Report counts what one Sync did
type Report struct {
	Updated bool
	Scored  int
	Skipped int
	Failed  int
}

// Engine fills score arrays
type Engine struct {
	log logger.Logger
}

// NewEngine creates an Engine. A nil log falls back to the global logger.
func NewEngine(log logger.Logger) *Engine {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Engine{log: log}
}

// Sync brings r.Scores[model] in line with r.Media and scores every nil
// entry, or every entry when force is set. It reports whether anything changed;
// callers save r only then.
func (e *Engine) Sync(ctx context.Context, r *record.Record, model string, scorer Scorer, force bool) bool {
	return e.SyncReport(ctx, r, model, scorer, force).Updated
}

// SyncReport is Sync with counters. A failed score leaves the entry as it
// was: nil stays nil, and a forced rescore keeps the previous value.
func (e *Engine) SyncReport(ctx context.Context, r *record.Record, model string, scorer Scorer, force bool) Report {
	rep := Report{Updated: e.align(r, model)}
	entries := r.Scores[model]

	for i, ref := range r.Media {
		if ctx.Err() != nil {
			break
		}
		if !force && entries[i] != nil {
			rep.Skipped++
			continue
		}

		v, err := scorer.Score(ctx, ref)
		if err == nil {
			err = checkRange(ref, v)
		}
		if err != nil {
			rep.Failed++
			e.log.WithError(err).WarnWithFields("Scoring failed", map[string]interface{}{
				"record_id": r.ID,
				"model":     model,
				"media":     ref,
			})
			continue
		}

		rep.Scored++
		s := &record.Score{Value: v, Media: ref}
		if entries[i] == nil || *entries[i] != *s {
			entries[i] = s
			rep.Updated = true
		}
	}
	return rep
}

// align sizes the model's array to the media list. Entries recorded for a
// different reference move to that reference's slot when it is free and are
// dropped otherwise.
func (e *Engine) align(r *record.Record, model string) bool {
	if r.Scores == nil {
		r.Scores = make(map[string][]*record.Score)
	}
	old, present := r.Scores[model]
	aligned := make([]*record.Score, len(r.Media))
	changed := !present || len(old) != len(r.Media)

	var stale []*record.Score
	for i, s := range old {
		if s == nil {
			continue
		}
		if i < len(r.Media) && (s.Media == r.Media[i] || s.Media == "") {
			aligned[i] = s
			continue
		}
		stale = append(stale, s)
	}

	if len(stale) > 0 {
		slot := make(map[string]int, len(r.Media))
		for i, m := range r.Media {
			slot[m] = i
		}
		for _, s := range stale {
			changed = true
			if j, ok := slot[s.Media]; ok && aligned[j] == nil {
				aligned[j] = s
				continue
			}
			e.log.WarnWithFields("Dropping score for media no longer in record", map[string]interface{}{
				"record_id": r.ID,
				"model":     model,
				"media":     s.Media,
			})
		}
	}

	r.Scores[model] = aligned
	return changed
}
