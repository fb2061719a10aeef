package instagram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	errs "clothscan/pkg/errors"
	"clothscan/pkg/logger"
	"clothscan/pkg/ratelimit"
	"clothscan/pkg/retry"

	"github.com/goccy/go-json"
)

// DefaultUserAgent is sent when no user agent is configured
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

// maxImageBytes bounds a single media download
const maxImageBytes = 64 << 20

// Client talks to Instagram's web endpoints. API calls share one rate
// limiter and are retried on transient failures.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	limiter    ratelimit.Limiter
	retry      *retry.Config
	logger     logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points API calls at another host
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

// WithLimiter throttles API calls
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithRetry replaces the retry policy
func WithRetry(rc *retry.Config) Option {
	return func(c *Client) { c.retry = rc }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new Instagram API client
func NewClient(timeout time.Duration, log logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		headers: map[string]string{
			"User-Agent":      DefaultUserAgent,
			"Accept":          "*/*",
			"Accept-Language": "en-US,en;q=0.9",
			"X-IG-App-ID":     "936619743392459",
		},
		baseURL: BaseURL,
		retry:   retry.DefaultConfig(),
		logger:  log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetSession authenticates later requests with a browser session
func (c *Client) SetSession(sessionID, csrfToken, userAgent string) {
	var cookies []string
	if sessionID != "" {
		cookies = append(cookies, "sessionid="+sessionID)
	}
	if csrfToken != "" {
		cookies = append(cookies, "csrftoken="+csrfToken)
		c.headers["X-CSRFToken"] = csrfToken
	}
	if len(cookies) > 0 {
		c.headers["Cookie"] = strings.Join(cookies, "; ")
	}
	if userAgent != "" {
		c.headers["User-Agent"] = userAgent
	}
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeUnknown, "build request", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"url":      rawURL,
			"error":    err.Error(),
			"duration": time.Since(start),
		})
		return nil, &errs.Error{Type: errs.ErrorTypeNetwork, Message: "GET " + rawURL, Err: err}
	}
	logger.LogRequest(http.MethodGet, rawURL, resp.StatusCode, time.Since(start))
	return resp, nil
}

// checkResponseStatus maps a non-200 status to a typed error
func checkResponseStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &errs.Error{Type: errs.ErrorTypeAuth, Message: "authentication required", Code: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound:
		return &errs.Error{Type: errs.ErrorTypeNotFound, Message: "resource not found", Code: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &errs.Error{Type: errs.ErrorTypeRateLimit, Message: "rate limit exceeded", Code: resp.StatusCode}
	case resp.StatusCode >= 500:
		return &errs.Error{Type: errs.ErrorTypeServerError, Message: "server error", Code: resp.StatusCode}
	default:
		return &errs.Error{Type: errs.ErrorTypeUnknown, Message: fmt.Sprintf("unexpected status code: %d", resp.StatusCode), Code: resp.StatusCode}
	}
}

// getJSON fetches rawURL under the rate limiter and retry policy and decodes the body into target
func (c *Client) getJSON(ctx context.Context, rawURL string, target interface{}) error {
	return retry.Do(ctx, c.retry, func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		resp, err := c.get(ctx, rawURL)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := checkResponseStatus(resp); err != nil {
			if resp.StatusCode == http.StatusTooManyRequests {
				logger.LogRateLimit(rawURL, 0)
			}
			return err
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &errs.Error{Type: errs.ErrorTypeNetwork, Message: "read response body", Err: err}
		}
		if err := json.Unmarshal(body, target); err != nil {
			preview := string(body)
			if len(preview) > 200 {
				preview = preview[:200] + "..."
			}
			c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
				"url":          rawURL,
				"body_preview": preview,
			})
			return &errs.Error{Type: errs.ErrorTypeParsing, Message: "decode response", Code: resp.StatusCode, Err: err}
		}
		return nil
	})
}

// FetchUserProfile fetches a profile together with its first timeline page
func (c *Client) FetchUserProfile(ctx context.Context, username string) (*InstagramResponse, error) {
	c.logger.DebugWithFields("fetching user profile", map[string]interface{}{
		"username": username,
	})

	var response InstagramResponse
	if err := c.getJSON(ctx, ProfileURL(c.baseURL, username), &response); err != nil {
		return nil, fmt.Errorf("fetch profile %s: %w", username, err)
	}
	if response.RequiresToLogin {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeAuth,
			Message: "Instagram requires authentication to view " + username,
			Code:    http.StatusUnauthorized,
		}
	}
	if response.Data.User.ID == "" {
		return nil, &errs.Error{Type: errs.ErrorTypeNotFound, Message: "profile " + username + " not found"}
	}
	return &response, nil
}

// FetchUserMedia fetches the timeline page after the given cursor
func (c *Client) FetchUserMedia(ctx context.Context, userID, after string) (*InstagramResponse, error) {
	c.logger.DebugWithFields("fetching user media", map[string]interface{}{
		"user_id": userID,
		"after":   after,
	})

	var response InstagramResponse
	if err := c.getJSON(ctx, MediaURL(c.baseURL, userID, after, DefaultMediaLimit), &response); err != nil {
		return nil, fmt.Errorf("fetch media page for %s: %w", userID, err)
	}
	return &response, nil
}

// Download streams the bytes at rawURL. Media hosts are not rate limited.
// The caller closes the returned reader.
func (c *Client) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := retry.Do(ctx, c.retry, func() error {
		resp, err := c.get(ctx, rawURL)
		if err != nil {
			return err
		}
		if err := checkResponseStatus(resp); err != nil {
			resp.Body.Close()
			return err
		}
		body = &limitedBody{Reader: io.LimitReader(resp.Body, maxImageBytes), Closer: resp.Body}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

type limitedBody struct {
	io.Reader
	io.Closer
}
