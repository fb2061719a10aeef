// Package aggregate folds incoming fragments into persisted records.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"clothscan/pkg/record"
	"clothscan/pkg/storage"
)

// DefaultTolerance is the widest timestamp gap the time-window tier accepts
const DefaultTolerance = 3 * time.Second

// Tier names the rule that picked a target record
type Tier int

const (
	MatchNone Tier = iota
	MatchExactID
	MatchGroupID
	MatchTimeWindow
)

func (t Tier) String() string {
	switch t {
	case MatchExactID:
		return "exact_id"
	case MatchGroupID:
		return "group_id"
	case MatchTimeWindow:
		return "time_window"
	default:
		return "none"
	}
}

// Decision is the matcher's verdict for one fragment
type Decision struct {
	Tier Tier
	// Target is the record the fragment merges into; nil for MatchNone
	Target *record.Record
	// Superseded is a standalone record that collapses into Target and is removed
	Superseded *record.Record
}

// Matcher looks up the record a fragment belongs to
type Matcher struct {
	store     storage.Store
	tolerance time.Duration
}

// NewMatcher creates a Matcher. A non-positive tolerance uses DefaultTolerance.
func NewMatcher(store storage.Store, tolerance time.Duration) *Matcher {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Matcher{store: store, tolerance: tolerance}
}

// Match evaluates the tiers in order: exact id, then group id and time window
// together (a group hit wins), then none. Matching reads the current store state.
func (m *Matcher) Match(ctx context.Context, ns string, f *record.Fragment) (Decision, error) {
	d, ok, err := m.matchID(ctx, ns, f)
	if err != nil || ok {
		return d, err
	}

	byGroup, err := m.matchGroup(ctx, ns, f)
	if err != nil {
		return Decision{}, err
	}
	byTime, err := m.matchTime(ctx, ns, f)
	if err != nil {
		return Decision{}, err
	}
	switch {
	case byGroup != nil:
		return Decision{Tier: MatchGroupID, Target: byGroup}, nil
	case byTime != nil:
		return Decision{Tier: MatchTimeWindow, Target: byTime}, nil
	}

	// An id-less fragment replayed after its record lost the group or time
	// link still has to land on its derived id rather than overwrite it.
	if f.ID == "" {
		existing, err := m.store.Load(ctx, ns, f.DerivedID())
		if err != nil {
			return Decision{}, err
		}
		if existing != nil {
			return Decision{Tier: MatchExactID, Target: existing}, nil
		}
	}
	return Decision{Tier: MatchNone}, nil
}

func (m *Matcher) matchID(ctx context.Context, ns string, f *record.Fragment) (Decision, bool, error) {
	if f.ID == "" {
		return Decision{}, false, nil
	}
	r, err := m.store.Load(ctx, ns, f.ID)
	if err != nil || r == nil {
		return Decision{}, false, err
	}

	// A standalone record gaining a group id that already has a record
	// collapses into that group record.
	if f.GroupID != "" && r.GroupID == "" {
		g, err := m.matchGroup(ctx, ns, f)
		if err != nil {
			return Decision{}, false, err
		}
		if g != nil && g.ID != r.ID {
			return Decision{Tier: MatchGroupID, Target: g, Superseded: r}, true, nil
		}
	}
	return Decision{Tier: MatchExactID, Target: r}, true, nil
}

func (m *Matcher) matchGroup(ctx context.Context, ns string, f *record.Fragment) (*record.Record, error) {
	if f.GroupID == "" {
		return nil, nil
	}
	return m.store.FindByGroup(ctx, ns, f.GroupID)
}

// matchTime returns the nearest record within tolerance. Records with a
// different group id belong to another album and are never candidates.
func (m *Matcher) matchTime(ctx context.Context, ns string, f *record.Fragment) (*record.Record, error) {
	if f.Timestamp.IsZero() {
		return nil, nil
	}
	near, err := m.store.FindNear(ctx, ns, f.Timestamp, m.tolerance)
	if err != nil {
		return nil, fmt.Errorf("time window lookup: %w", err)
	}

	candidates := near[:0]
	for _, r := range near {
		if f.GroupID != "" && r.GroupID != "" && r.GroupID != f.GroupID {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return gap(candidates[i].Timestamp, f.Timestamp) < gap(candidates[j].Timestamp, f.Timestamp)
	})
	return candidates[0], nil
}

func gap(a, b time.Time) time.Duration {
	if d := a.Sub(b); d >= 0 {
		return d
	}
	return b.Sub(a)
}
