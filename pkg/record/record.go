// Package record defines the canonical persisted post/message and the
// fragments that are folded into it.
package record

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"clothscan/pkg/errors"
)

// Record is one post or message with its media and per-model scores.
// Scores[model][i] always describes Media[i] once a record has been saved.
type Record struct {
	ID        string              `json:"id"`
	GroupID   string              `json:"group_id,omitempty"`
	Source    string              `json:"source,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Text      string              `json:"text"`
	Reactions map[string]int64    `json:"reactions,omitempty"`
	Media     []string            `json:"media"`
	IsVideo   bool                `json:"is_video,omitempty"`
	Scores    map[string][]*Score `json:"scores,omitempty"`
}

// Fragment is a possibly partial observation of a record
type Fragment struct {
	ID        string           `json:"id,omitempty"`
	GroupID   string           `json:"group_id,omitempty"`
	Source    string           `json:"source,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Text      string           `json:"text,omitempty"`
	Reactions map[string]int64 `json:"reactions,omitempty"`
	Media     []string         `json:"media,omitempty"`
	IsVideo   bool             `json:"is_video,omitempty"`
}

// Validate rejects fragments with no identity at all
func (f *Fragment) Validate() error {
	if f == nil {
		return errors.InvalidFragment("nil fragment")
	}
	if f.ID == "" && f.GroupID == "" && f.Timestamp.IsZero() {
		return errors.InvalidFragment("fragment has no id, group_id or timestamp")
	}
	return nil
}

// DerivedID is the id a new record gets from f. Fragments without an id are
// keyed by their group, then by their timestamp, so replays land on the same record.
func (f *Fragment) DerivedID() string {
	switch {
	case f.ID != "":
		return f.ID
	case f.GroupID != "":
		return "group-" + f.GroupID
	default:
		return "ts-" + strconv.FormatInt(f.Timestamp.UnixNano(), 10)
	}
}

// New creates a record from a validated fragment
func New(f *Fragment) *Record {
	r := &Record{
		ID:        f.DerivedID(),
		GroupID:   f.GroupID,
		Source:    f.Source,
		Timestamp: f.Timestamp,
		Text:      f.Text,
		IsVideo:   f.IsVideo,
	}
	if len(f.Reactions) > 0 {
		r.Reactions = copyReactions(f.Reactions)
	}
	r.Media, _ = MergeMedia(nil, f.Media)
	if r.Media == nil {
		r.Media = []string{}
	}
	return r
}

// Merge folds f into r. Media is unioned, every other field is only filled
// when empty. It reports whether r changed.
func (r *Record) Merge(f *Fragment) bool {
	changed := false

	media, grew := MergeMedia(r.Media, f.Media)
	if grew {
		r.Media = media
		changed = true
	}
	if r.Text == "" && f.Text != "" {
		r.Text = f.Text
		changed = true
	}
	if len(r.Reactions) == 0 && len(f.Reactions) > 0 {
		r.Reactions = copyReactions(f.Reactions)
		changed = true
	}
	if r.GroupID == "" && f.GroupID != "" {
		r.GroupID = f.GroupID
		changed = true
	}
	if r.Source == "" && f.Source != "" {
		r.Source = f.Source
		changed = true
	}
	if r.Timestamp.IsZero() && !f.Timestamp.IsZero() {
		r.Timestamp = f.Timestamp
		changed = true
	}
	if !r.IsVideo && f.IsVideo {
		r.IsVideo = true
		changed = true
	}
	return changed
}

// Absorb merges another persisted record into r, scores included.
// Entries for media r already has are kept; r's own scores win.
func (r *Record) Absorb(other *Record) bool {
	changed := r.Merge(other.Fragment())
	for model, entries := range other.Scores {
		for _, s := range entries {
			if s == nil {
				continue
			}
			if r.adoptScore(model, s) {
				changed = true
			}
		}
	}
	return changed
}

func (r *Record) adoptScore(model string, s *Score) bool {
	idx := -1
	for i, m := range r.Media {
		if m == s.Media {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	r.AlignScores(model)
	if r.Scores[model][idx] != nil {
		return false
	}
	v := *s
	r.Scores[model][idx] = &v
	return true
}

// Fragment returns r's fields as a fragment
func (r *Record) Fragment() *Fragment {
	return &Fragment{
		ID:        r.ID,
		GroupID:   r.GroupID,
		Source:    r.Source,
		Timestamp: r.Timestamp,
		Text:      r.Text,
		Reactions: r.Reactions,
		Media:     r.Media,
		IsVideo:   r.IsVideo,
	}
}

// AlignScores sizes Scores[model] to len(Media): missing entries are padded
// with nil, surplus entries are dropped. It reports whether the array changed.
func (r *Record) AlignScores(model string) bool {
	if r.Scores == nil {
		r.Scores = make(map[string][]*Score)
	}
	entries, ok := r.Scores[model]
	n := len(r.Media)
	switch {
	case ok && len(entries) == n:
		return false
	case len(entries) > n:
		r.Scores[model] = entries[:n:n]
	default:
		grown := make([]*Score, n)
		copy(grown, entries)
		r.Scores[model] = grown
	}
	return true
}

// AlignAll aligns every model already present on r
func (r *Record) AlignAll() bool {
	changed := false
	for model := range r.Scores {
		if r.AlignScores(model) {
			changed = true
		}
	}
	return changed
}

// Models returns the scored model names in sorted order
func (r *Record) Models() []string {
	models := make([]string, 0, len(r.Scores))
	for m := range r.Scores {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// Validate checks the structural invariants of a record about to be persisted
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record has no id")
	}
	seen := make(map[string]struct{}, len(r.Media))
	for _, m := range r.Media {
		if _, dup := seen[m]; dup {
			return fmt.Errorf("record %s: duplicate media %q", r.ID, m)
		}
		seen[m] = struct{}{}
	}
	for model, entries := range r.Scores {
		if len(entries) != len(r.Media) {
			return fmt.Errorf("record %s: %d %s scores for %d media", r.ID, len(entries), model, len(r.Media))
		}
	}
	return nil
}

// MergeMedia appends the references in src that dst lacks, keeping first-seen
// order and dropping duplicates on either side. It reports whether the result
// differs from dst.
func MergeMedia(dst, src []string) ([]string, bool) {
	seen := make(map[string]struct{}, len(dst)+len(src))
	out := make([]string, 0, len(dst)+len(src))
	for _, m := range dst {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	changed := len(out) != len(dst)
	for _, m := range src {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
		changed = true
	}
	if !changed {
		return dst, false
	}
	return out, true
}

func copyReactions(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
