package instagram

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

const (
	// BaseURL is the base URL for Instagram
	BaseURL = "https://www.instagram.com"

	// ProfileEndpoint is the endpoint pattern for user profiles
	ProfileEndpoint = "/api/v1/users/web_profile_info/"

	// MediaEndpoint is the endpoint pattern for user media
	MediaEndpoint = "/graphql/query/"

	// MediaQueryHash is the query hash for fetching user media
	MediaQueryHash = "e769aa130647d2354c40ea6a439bfc08"

	// DefaultMediaLimit is the default number of media items to fetch per request
	DefaultMediaLimit = 12

	// MaxMediaLimit is the maximum number of media items that can be fetched per request
	MaxMediaLimit = 50
)

type mediaVariables struct {
	ID    string `json:"id"`
	First int    `json:"first"`
	After string `json:"after,omitempty"`
}

// ProfileURL builds the profile lookup URL under base
func ProfileURL(base, username string) string {
	params := url.Values{}
	params.Set("username", username)
	return fmt.Sprintf("%s%s?%s", strings.TrimRight(base, "/"), ProfileEndpoint, params.Encode())
}

// MediaURL builds the timeline page URL under base. The limit is clamped
// to [1, MaxMediaLimit], with 0 meaning DefaultMediaLimit.
func MediaURL(base, userID, after string, limit int) string {
	if limit <= 0 {
		limit = DefaultMediaLimit
	} else if limit > MaxMediaLimit {
		limit = MaxMediaLimit
	}

	vars, _ := json.Marshal(mediaVariables{ID: userID, First: limit, After: after})

	params := url.Values{}
	params.Set("query_hash", MediaQueryHash)
	params.Set("variables", string(vars))
	return fmt.Sprintf("%s%s?%s", strings.TrimRight(base, "/"), MediaEndpoint, params.Encode())
}

// PostURL constructs the public URL for a post
func PostURL(shortcode string) string {
	if shortcode == "" {
		return ""
	}
	return fmt.Sprintf("%s/p/%s/", BaseURL, shortcode)
}

// IsValidUsername checks if a username is valid according to Instagram rules
func IsValidUsername(username string) bool {
	if username == "" || len(username) > 30 {
		return false
	}

	// letters, numbers, periods and underscores only
	for _, char := range username {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '.' || char == '_') {
			return false
		}
	}

	return true
}

// SanitizeUsername strips a leading @ and trailing slashes or spaces
func SanitizeUsername(username string) string {
	username = strings.TrimPrefix(username, "@")
	return strings.TrimRight(username, "/ ")
}
