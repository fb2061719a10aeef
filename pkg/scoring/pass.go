package scoring

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	errs "clothscan/pkg/errors"
	"clothscan/pkg/logger"
	"clothscan/pkg/storage"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// PassOptions configures a scoring pass
type PassOptions struct {
	Models []Model
	// Force rescores every entry instead of only nil ones
	Force bool
	// Workers bounds how many records are scored at once
	Workers int
	// Root is the store root; relative media references resolve against <Root>/<namespace>
	Root string
}

// Summary totals one pass
type Summary struct {
	RunID      string
	Namespaces int
	Records    int
	Updated    int
	Scored     int
	Failed     int
	Errors     int
}

// Pass walks namespaces and syncs every record against every model
type Pass struct {
	store  storage.Store
	locks  *storage.Locks
	engine *Engine
	opts   PassOptions
	log    logger.Logger
}

// NewPass creates a Pass. locks should be shared with any aggregation
// engine writing to the same store; nil gets a private table.
func NewPass(store storage.Store, locks *storage.Locks, opts PassOptions, log logger.Logger) *Pass {
	if locks == nil {
		locks = storage.NewLocks()
	}
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Pass{
		store:  store,
		locks:  locks,
		engine: NewEngine(log),
		opts:   opts,
		log:    log,
	}
}

type counters struct {
	records, updated, scored, failed atomic.Int64
	mu                               sync.Mutex
	errs                             []error
}

func (c *counters) fail(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

// Run scores the given namespaces, or every namespace in the store when none
// are given. Per-record store failures are collected and returned together
// after the pass; they never stop other records.
func (p *Pass) Run(ctx context.Context, namespaces []string) (Summary, error) {
	runID := uuid.NewString()
	start := time.Now()
	log := p.log.WithField("run_id", runID)

	if len(namespaces) == 0 {
		all, err := p.store.Namespaces(ctx)
		if err != nil {
			return Summary{RunID: runID}, err
		}
		namespaces = all
	}

	log.InfoWithFields("Scoring pass started", map[string]interface{}{
		"namespaces": len(namespaces),
		"models":     len(p.opts.Models),
		"force":      p.opts.Force,
		"workers":    p.opts.Workers,
	})

	var c counters
	for _, ns := range namespaces {
		if err := ctx.Err(); err != nil {
			break
		}
		p.runNamespace(ctx, ns, log, &c)
	}

	sum := Summary{
		RunID:      runID,
		Namespaces: len(namespaces),
		Records:    int(c.records.Load()),
		Updated:    int(c.updated.Load()),
		Scored:     int(c.scored.Load()),
		Failed:     int(c.failed.Load()),
		Errors:     len(c.errs),
	}
	logger.LogPassSummary("score", runID, map[string]interface{}{
		"records": sum.Records,
		"updated": sum.Updated,
		"scored":  sum.Scored,
		"failed":  sum.Failed,
		"errors":  sum.Errors,
	}, time.Since(start))

	if err := ctx.Err(); err != nil {
		c.errs = append(c.errs, err)
	}
	return sum, errors.Join(c.errs...)
}

func (p *Pass) runNamespace(ctx context.Context, ns string, log logger.Logger, c *counters) {
	var ids []string
	for r, err := range p.store.Scan(ctx, ns) {
		if err != nil {
			log.WithError(err).WarnWithFields("Skipping unreadable record", map[string]interface{}{"namespace": ns})
			c.fail(err)
			continue
		}
		ids = append(ids, r.ID)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for _, id := range ids {
		g.Go(func() error {
			if err := p.scoreRecord(gctx, ns, id, c); err != nil {
				log.WithError(err).ErrorWithFields("Record update abandoned", map[string]interface{}{
					"namespace": ns,
					"record_id": id,
				})
				c.fail(err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// scoreRecord reloads the record under its lock so a concurrent merge cannot
// interleave, syncs every model and saves once if anything changed.
func (p *Pass) scoreRecord(ctx context.Context, ns, id string, c *counters) error {
	if err := ctx.Err(); err != nil {
		return nil
	}
	unlock := p.locks.Record(ns, id)
	defer unlock()

	r, err := p.store.Load(ctx, ns, id)
	if err != nil {
		return err
	}
	if r == nil {
		return nil
	}
	c.records.Add(1)

	base := filepath.Join(p.opts.Root, filepath.FromSlash(ns))
	updated := false
	for _, m := range p.opts.Models {
		rep := p.engine.SyncReport(ctx, r, m.Name, resolved{inner: m.Scorer, base: base}, p.opts.Force)
		c.scored.Add(int64(rep.Scored))
		c.failed.Add(int64(rep.Failed))
		updated = updated || rep.Updated
	}
	if !updated {
		return nil
	}
	// scores computed before a cancellation are still kept
	if err := p.store.Save(context.WithoutCancel(ctx), ns, r); err != nil {
		return errs.StoreIO("save scores for "+id, err)
	}
	c.updated.Add(1)
	return nil
}
