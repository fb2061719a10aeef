package record

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoresEncodeAsPairs(t *testing.T) {
	r := New(&Fragment{ID: "p1", Timestamp: t0, Media: []string{"x.jpg", "y.jpg"}})
	r.AlignScores("clip_base")
	r.Scores["clip_base"][0] = &Score{Value: 0.9, Media: "x.jpg"}

	data, err := Encode(r)
	require.NoError(t, err)
	compact := strings.Join(strings.Fields(string(data)), "")
	assert.Contains(t, compact, `"clip_base":[[0.9,"x.jpg"],null]`)

	back, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, back.Scores["clip_base"], 2)
	assert.Equal(t, &Score{Value: 0.9, Media: "x.jpg"}, back.Scores["clip_base"][0])
	assert.Nil(t, back.Scores["clip_base"][1])
	assert.True(t, back.Timestamp.Equal(t0))
}

func TestUnscoredEntriesRoundTrip(t *testing.T) {
	r := New(&Fragment{ID: "p1", Timestamp: t0, Media: []string{"x", "y"}})
	r.Scores = map[string][]*Score{"m": {{Value: 0.9, Media: "x"}, nil}}

	data, err := Encode(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), "null")

	back, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, back.Scores["m"], 2)
	assert.Equal(t, &Score{Value: 0.9, Media: "x"}, back.Scores["m"][0])
	assert.Nil(t, back.Scores["m"][1])

	again, err := Encode(back)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestNilScoreMarshalsAsNull(t *testing.T) {
	var s *Score
	data, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestDecodeRejectsMalformedScore(t *testing.T) {
	_, err := Decode([]byte(`{"id":"p1","media":["a"],"scores":{"m":[[0.5]]}}`))
	assert.Error(t, err)
}

func TestDecodeDefaultsMedia(t *testing.T) {
	r, err := Decode([]byte(`{"id":"p1"}`))
	require.NoError(t, err)
	assert.NotNil(t, r.Media)
}
