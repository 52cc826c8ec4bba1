// Package reddit is a minimal Reddit API client covering the calls the cake
// day bot needs: new-post listings, comment trees, user lookups and replies.
// It authenticates as a script app using the password grant.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"cakeday-bot/pkg/cakeday"
)

const (
	defaultAuthURL = "https://www.reddit.com"
	defaultAPIURL  = "https://oauth.reddit.com"

	// Refresh this long before the token actually expires. Password-grant
	// tokens live about an hour and a full scan can take longer.
	tokenRefreshMargin = 5 * time.Minute
)

// Credentials holds the script-app OAuth configuration.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
}

// APIError indicates a non-2xx response from the platform.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("reddit API returned HTTP %d: %s", e.StatusCode, e.Body)
}

// IsAuth reports whether err is an authentication failure (bad credentials).
func IsAuth(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsRateLimit reports whether err is a rate-limit response. Reddit signals
// this as HTTP 429, or occasionally as a 403 whose body names RATELIMIT.
func IsRateLimit(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return apiErr.StatusCode == http.StatusForbidden && strings.Contains(strings.ToUpper(apiErr.Body), "RATELIMIT")
}

// IsForbidden reports whether err is a hard 403, e.g. the bot is banned from
// the subreddit. Rate-limit 403s are excluded; those are retryable.
func IsForbidden(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden && !IsRateLimit(err)
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || IsRateLimit(err)
	}
	// Network-level failures have no status code.
	return true
}

// Client talks to the Reddit API on behalf of the bot account.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	creds      Credentials
	authURL    string
	apiURL     string
	token      string
	tokenExp   time.Time
}

// New creates an unauthenticated client. Call Authenticate before use.
func New(creds Credentials, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		creds:      creds,
		authURL:    defaultAuthURL,
		apiURL:     defaultAPIURL,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Authenticate obtains an OAuth token via the password grant. Credential
// errors are not retried; transient failures are.
func (c *Client) Authenticate(ctx context.Context) error {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {c.creds.Username},
		"password":   {c.creds.Password},
	}

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				c.authURL+"/api/v1/access_token", strings.NewReader(form.Encode()))
			if err != nil {
				return fmt.Errorf("create token request: %w", err)
			}
			req.SetBasicAuth(c.creds.ClientID, c.creds.ClientSecret)
			req.Header.Set("User-Agent", c.creds.UserAgent)
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				c.logger.Warn("Token request failed, will retry", "error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return fmt.Errorf("read token response: %w", err)
			}

			if resp.StatusCode != http.StatusOK {
				apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
				if resp.StatusCode == http.StatusUnauthorized {
					return retry.Unrecoverable(apiErr)
				}
				return apiErr
			}

			var tok tokenResponse
			if err := json.Unmarshal(body, &tok); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode token response: %w", err))
			}
			if tok.AccessToken == "" {
				// Reddit returns 200 with an error field on bad user/password.
				return retry.Unrecoverable(&APIError{StatusCode: http.StatusUnauthorized, Body: string(body)})
			}

			c.token = tok.AccessToken
			c.tokenExp = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying authentication after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	c.logger.Info("Authenticated with Reddit", "username", c.creds.Username)
	return nil
}

// ensureToken re-authenticates when the token is missing or close to its
// expiry, so long runs do not start failing mid-scan with 401s.
func (c *Client) ensureToken(ctx context.Context) error {
	if c.token != "" && time.Now().Before(c.tokenExp.Add(-tokenRefreshMargin)) {
		return nil
	}
	return c.Authenticate(ctx)
}

// get performs an authenticated GET with retry and decodes the JSON body into v.
func (c *Client) get(ctx context.Context, path string, v any) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("User-Agent", c.creds.UserAgent)
			req.Header.Set("Authorization", "Bearer "+c.token)

			start := time.Now()
			resp, err := c.httpClient.Do(req)
			if err != nil {
				c.logger.Warn("HTTP request failed, will retry", "path", path, "error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			c.logger.Debug("HTTP request completed",
				"path", path,
				"status_code", resp.StatusCode,
				"duration_ms", time.Since(start).Milliseconds())

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
				if !isRetryable(apiErr) {
					return retry.Unrecoverable(apiErr)
				}
				return apiErr
			}

			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying request after error", "attempt", n, "path", path, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return nil
}

// NewPosts fetches the newest posts in a subreddit, newest first.
func (c *Client) NewPosts(ctx context.Context, subreddit string, limit int) ([]*cakeday.Post, error) {
	var listing thing
	path := fmt.Sprintf("/r/%s/new?limit=%d&raw_json=1", url.PathEscape(subreddit), limit)
	if err := c.get(ctx, path, &listing); err != nil {
		return nil, err
	}

	children, err := listing.children()
	if err != nil {
		return nil, fmt.Errorf("parse post listing: %w", err)
	}

	posts := make([]*cakeday.Post, 0, len(children))
	for _, child := range children {
		if child.Kind != "t3" {
			continue
		}
		post, err := parsePost(child.Data)
		if err != nil {
			c.logger.Warn("Skipping unparsable post", "subreddit", subreddit, "error", err)
			continue
		}
		posts = append(posts, post)
	}
	return posts, nil
}

// Comments fetches the materialized comment tree for a post. "Load more"
// stubs are skipped; only comments already present in the listing are
// returned.
func (c *Client) Comments(ctx context.Context, postID string) ([]*cakeday.Comment, error) {
	var payload []thing
	path := fmt.Sprintf("/comments/%s?raw_json=1", url.PathEscape(postID))
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}
	if len(payload) < 2 {
		return nil, fmt.Errorf("comment listing for %s has %d elements, want 2", postID, len(payload))
	}

	children, err := payload[1].children()
	if err != nil {
		return nil, fmt.Errorf("parse comment listing: %w", err)
	}

	var comments []*cakeday.Comment
	for _, child := range children {
		if child.Kind != "t1" {
			continue // kind "more" stubs are intentionally not expanded
		}
		comment, err := parseComment(child.Data)
		if err != nil {
			c.logger.Warn("Skipping unparsable comment", "post_id", postID, "error", err)
			continue
		}
		comments = append(comments, comment)
	}
	return comments, nil
}

// User fetches account metadata for a username.
func (c *Client) User(ctx context.Context, name string) (*cakeday.User, error) {
	var about thing
	path := fmt.Sprintf("/user/%s/about?raw_json=1", url.PathEscape(name))
	if err := c.get(ctx, path, &about); err != nil {
		return nil, err
	}

	var data struct {
		Name         string  `json:"name"`
		CreatedUTC   float64 `json:"created_utc"`
		CommentKarma int     `json:"comment_karma"`
	}
	if err := json.Unmarshal(about.Data, &data); err != nil {
		return nil, fmt.Errorf("parse user %s: %w", name, err)
	}
	if data.CreatedUTC == 0 {
		return nil, fmt.Errorf("user %s has no creation timestamp", name)
	}

	return &cakeday.User{
		Name:         data.Name,
		CreatedAt:    time.Unix(int64(data.CreatedUTC), 0).UTC(),
		CommentKarma: data.CommentKarma,
	}, nil
}

// UserComments fetches a user's newest comments across all subreddits.
func (c *Client) UserComments(ctx context.Context, name string, limit int) ([]*cakeday.Comment, error) {
	var listing thing
	path := fmt.Sprintf("/user/%s/comments?limit=%d&sort=new&raw_json=1", url.PathEscape(name), limit)
	if err := c.get(ctx, path, &listing); err != nil {
		return nil, err
	}

	children, err := listing.children()
	if err != nil {
		return nil, fmt.Errorf("parse user comment listing: %w", err)
	}

	var comments []*cakeday.Comment
	for _, child := range children {
		if child.Kind != "t1" {
			continue
		}
		comment, err := parseComment(child.Data)
		if err != nil {
			c.logger.Warn("Skipping unparsable user comment", "user", name, "error", err)
			continue
		}
		comments = append(comments, comment)
	}
	return comments, nil
}

// Reply posts text as a reply to the given fullname (t3_* or t1_*). A hard
// 403 (banned) is returned without retry; rate limits and server errors are
// retried with backoff.
func (c *Client) Reply(ctx context.Context, fullname, text string) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}

	form := url.Values{
		"api_type": {"json"},
		"thing_id": {fullname},
		"text":     {text},
	}

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				c.apiURL+"/api/comment", strings.NewReader(form.Encode()))
			if err != nil {
				return fmt.Errorf("create reply request: %w", err)
			}
			req.Header.Set("User-Agent", c.creds.UserAgent)
			req.Header.Set("Authorization", "Bearer "+c.token)
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				c.logger.Warn("Reply request failed, will retry", "thing_id", fullname, "error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if resp.StatusCode != http.StatusOK {
				apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
				if !isRetryable(apiErr) {
					return retry.Unrecoverable(apiErr)
				}
				return apiErr
			}

			// A 200 can still carry an in-band RATELIMIT error.
			if strings.Contains(strings.ToUpper(string(body)), `"RATELIMIT"`) {
				return &APIError{StatusCode: http.StatusTooManyRequests, Body: string(body)}
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying reply after error", "attempt", n, "thing_id", fullname, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("reply to %s: %w", fullname, err)
	}

	c.logger.Info("Reply posted", "thing_id", fullname)
	return nil
}
