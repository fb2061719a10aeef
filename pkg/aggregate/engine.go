package aggregate

import (
	"context"
	"fmt"

	"clothscan/pkg/logger"
	"clothscan/pkg/record"
	"clothscan/pkg/storage"
)

// Result describes what one Merge did
type Result struct {
	ID         string
	Tier       Tier
	Created    bool
	Changed    bool
	Superseded string
}

// Engine merges fragments into a Store
type Engine struct {
	store   storage.Store
	matcher *Matcher
	locks   *storage.Locks
	log     logger.Logger
}

// NewEngine creates an Engine. locks may be shared with a scoring pass; nil
// gets a private table. A nil log falls back to the global logger.
func NewEngine(store storage.Store, locks *storage.Locks, log logger.Logger) *Engine {
	if locks == nil {
		locks = storage.NewLocks()
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Engine{
		store:   store,
		matcher: NewMatcher(store, DefaultTolerance),
		locks:   locks,
		log:     log,
	}
}

// Merge folds f into the record it matches in ns, or creates one. The target
// is saved only when it changed; a superseded standalone record is deleted
// after the target is safely written.
func (e *Engine) Merge(ctx context.Context, ns string, f *record.Fragment) (Result, error) {
	if err := f.Validate(); err != nil {
		return Result{}, err
	}
	if err := storage.ValidateNamespace(ns); err != nil {
		return Result{}, err
	}

	unlock := e.locks.Namespace(ns)
	defer unlock()

	d, err := e.matcher.Match(ctx, ns, f)
	if err != nil {
		return Result{}, fmt.Errorf("match fragment: %w", err)
	}

	res := Result{Tier: d.Tier}
	var target *record.Record
	if d.Tier == MatchNone {
		target = record.New(f)
		res.Created = true
		res.Changed = true
	} else {
		target = d.Target
		res.Changed = target.Merge(f)
		if d.Superseded != nil {
			target.Absorb(d.Superseded)
			res.Superseded = d.Superseded.ID
			res.Changed = true
		}
	}
	if target.AlignAll() {
		res.Changed = true
	}
	res.ID = target.ID

	if res.Changed {
		if err := e.store.Save(ctx, ns, target); err != nil {
			return Result{}, err
		}
	}
	if res.Superseded != "" {
		if err := e.store.Delete(ctx, ns, res.Superseded); err != nil {
			return res, err
		}
	}

	e.log.DebugWithFields("Fragment merged", map[string]interface{}{
		"namespace":  ns,
		"record_id":  res.ID,
		"match":      res.Tier.String(),
		"created":    res.Created,
		"changed":    res.Changed,
		"superseded": res.Superseded,
	})
	return res, nil
}
