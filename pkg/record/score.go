package record

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// Score is one model's probability for one media reference.
// It is stored as the pair [value, media].
type Score struct {
	Value float64
	Media string
}

// MarshalJSON writes [value, media]; an unscored (nil) entry is null
func (s *Score) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal([2]interface{}{s.Value, s.Media})
}

func (s *Score) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("score entry: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("score entry: want [score, media], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &s.Value); err != nil {
		return fmt.Errorf("score value: %w", err)
	}
	if err := json.Unmarshal(pair[1], &s.Media); err != nil {
		return fmt.Errorf("score media: %w", err)
	}
	return nil
}

// Encode serializes a record as indented JSON
func Encode(r *Record) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Decode parses a record document
func Decode(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if r.Media == nil {
		r.Media = []string{}
	}
	// null entries stay unscored
	for _, entries := range r.Scores {
		for i, sc := range entries {
			if sc != nil && *sc == (Score{}) {
				entries[i] = nil
			}
		}
	}
	return &r, nil
}
