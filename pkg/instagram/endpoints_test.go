package instagram

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileURL(t *testing.T) {
	assert.Equal(t, BaseURL+ProfileEndpoint+"?username=test.user", ProfileURL(BaseURL, "test.user"))
	assert.Equal(t, "http://x"+ProfileEndpoint+"?username=a", ProfileURL("http://x/", "a"))
}

func TestMediaURL(t *testing.T) {
	tests := []struct {
		name  string
		after string
		limit int
		want  string
	}{
		{"default limit", "", 0, `{"id":"42","first":12}`},
		{"clamped", "", 500, `{"id":"42","first":50}`},
		{"with cursor", "QVFD", 20, `{"id":"42","first":20,"after":"QVFD"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(MediaURL(BaseURL, "42", tt.after, tt.limit))
			require.NoError(t, err)
			assert.Equal(t, MediaEndpoint, u.Path)
			assert.Equal(t, MediaQueryHash, u.Query().Get("query_hash"))
			assert.JSONEq(t, tt.want, u.Query().Get("variables"))
		})
	}
}

func TestUsernames(t *testing.T) {
	assert.True(t, IsValidUsername("shop.official_1"))
	assert.False(t, IsValidUsername(""))
	assert.False(t, IsValidUsername("bad-name"))
	assert.False(t, IsValidUsername("abcdefghijklmnopqrstuvwxyz12345"))

	assert.Equal(t, "shop", SanitizeUsername("@shop/ "))
	assert.Equal(t, "", SanitizeUsername(""))
	assert.Equal(t, "https://www.instagram.com/p/AAA/", PostURL("AAA"))
}
