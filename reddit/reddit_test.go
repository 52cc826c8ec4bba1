package reddit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := New(Credentials{
		ClientID:     "id",
		ClientSecret: "secret",
		Username:     "cakebot",
		Password:     "hunter2",
		UserAgent:    "cakeday-bot/test",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.authURL = server.URL
	c.apiURL = server.URL
	return c
}

// TestAuthenticate verifies the password grant happy path.
func TestAuthenticate(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/access_token" {
			t.Errorf("path = %q, want /api/v1/access_token", r.URL.Path)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "id" || pass != "secret" {
			t.Errorf("basic auth = %q/%q, want client credentials", user, pass)
		}
		if got := r.FormValue("grant_type"); got != "password" {
			t.Errorf("grant_type = %q, want password", got)
		}
		_, _ = w.Write([]byte(`{"access_token": "tok123", "expires_in": 3600}`))
	}))

	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if c.token != "tok123" {
		t.Errorf("token = %q, want tok123", c.token)
	}
}

// TestAuthenticateBadCredentials verifies credential failures are surfaced
// without retry, including Reddit's 200-with-error-body variant.
func TestAuthenticateBadCredentials(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantTry int
	}{
		{"hard 401", http.StatusUnauthorized, `{"message": "Unauthorized"}`, 1},
		{"200 with error body", http.StatusOK, `{"error": "invalid_grant"}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tries int
			c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				tries++
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			if err := c.Authenticate(context.Background()); err == nil {
				t.Fatal("Authenticate() error = nil, want auth failure")
			}
			if tries != tt.wantTry {
				t.Errorf("attempts = %d, want %d; credential failures must not be retried", tries, tt.wantTry)
			}
		})
	}
}

// TestNewPosts verifies listing parsing, including the kind filter.
func TestNewPosts(t *testing.T) {
	listing := `{
		"kind": "Listing",
		"data": {"children": [
			{"kind": "t3", "data": {
				"id": "abc", "subreddit": "golang", "title": "Hello",
				"author": "alice", "selftext": "body", "url": "https://i.redd.it/x.jpg",
				"permalink": "/r/golang/comments/abc/hello/", "post_hint": "image",
				"score": 12, "num_comments": 3, "created_utc": 1748000000
			}},
			{"kind": "t3", "data": {"id": "def", "author": "[deleted]", "created_utc": 1748000001}},
			{"kind": "t5", "data": {"id": "subreddit_thing"}}
		]}
	}`
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/r/golang/new" {
			t.Errorf("path = %q, want /r/golang/new", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "25" {
			t.Errorf("limit = %q, want 25", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q, want bearer token", got)
		}
		_, _ = w.Write([]byte(listing))
	}))
	c.token = "tok"
	c.tokenExp = time.Now().Add(time.Hour)

	posts, err := c.NewPosts(context.Background(), "golang", 25)
	if err != nil {
		t.Fatalf("NewPosts() error = %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("posts = %d, want 2 (the t5 child is not a post)", len(posts))
	}

	p := posts[0]
	if p.ID != "abc" || p.Author != "alice" || p.Score != 12 || p.PostHint != "image" {
		t.Errorf("post = %+v, want parsed fields", p)
	}
	if p.Fullname() != "t3_abc" {
		t.Errorf("Fullname() = %q, want t3_abc", p.Fullname())
	}
	if posts[1].Author != "" {
		t.Errorf("deleted author = %q, want empty", posts[1].Author)
	}
}

// TestComments verifies tree parsing with nested replies and "more" stubs.
func TestComments(t *testing.T) {
	payload := `[
		{"kind": "Listing", "data": {"children": [{"kind": "t3", "data": {"id": "abc"}}]}},
		{"kind": "Listing", "data": {"children": [
			{"kind": "t1", "data": {
				"id": "c1", "link_id": "t3_abc", "parent_id": "t3_abc",
				"author": "bob", "body": "top", "score": 4, "created_utc": 1748000100,
				"replies": {"kind": "Listing", "data": {"children": [
					{"kind": "t1", "data": {
						"id": "c2", "link_id": "t3_abc", "parent_id": "t1_c1",
						"author": "carol", "body": "nested", "score": 1,
						"created_utc": 1748000200, "replies": ""
					}},
					{"kind": "more", "data": {"count": 12}}
				]}}
			}},
			{"kind": "more", "data": {"count": 40}}
		]}}
	]`
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/comments/abc" {
			t.Errorf("path = %q, want /comments/abc", r.URL.Path)
		}
		_, _ = w.Write([]byte(payload))
	}))
	c.token = "tok"
	c.tokenExp = time.Now().Add(time.Hour)

	comments, err := c.Comments(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Comments() error = %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("top-level comments = %d, want 1 (more stubs are skipped)", len(comments))
	}

	top := comments[0]
	if top.ID != "c1" || top.PostID != "abc" || top.ParentID != "t3_abc" {
		t.Errorf("comment = %+v, want parsed identifiers", top)
	}
	if len(top.Replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(top.Replies))
	}
	if top.Replies[0].ID != "c2" || top.Replies[0].ParentID != "t1_c1" {
		t.Errorf("reply = %+v, want nested comment", top.Replies[0])
	}
	if top.Fullname() != "t1_c1" {
		t.Errorf("Fullname() = %q, want t1_c1", top.Fullname())
	}
}

// TestUser verifies about-page parsing and the missing-timestamp guard.
func TestUser(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/alice/about":
			_, _ = w.Write([]byte(`{"kind": "t2", "data": {"name": "alice", "created_utc": 1420070400, "comment_karma": 512}}`))
		case "/user/ghost/about":
			_, _ = w.Write([]byte(`{"kind": "t2", "data": {"name": "ghost"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	c.token = "tok"
	c.tokenExp = time.Now().Add(time.Hour)

	user, err := c.User(context.Background(), "alice")
	if err != nil {
		t.Fatalf("User() error = %v", err)
	}
	if user.Name != "alice" || user.CommentKarma != 512 {
		t.Errorf("user = %+v, want parsed fields", user)
	}
	if got := user.CreatedAt.UTC().Year(); got != 2015 {
		t.Errorf("created year = %d, want 2015", got)
	}

	if _, err := c.User(context.Background(), "ghost"); err == nil {
		t.Error("User() error = nil for an account without a creation timestamp")
	}
}

// TestReply verifies the comment POST, including the in-band rate limit a
// 200 response can carry.
func TestReply(t *testing.T) {
	var calls int
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/api/comment" {
			t.Errorf("path = %q, want /api/comment", r.URL.Path)
		}
		if got := r.FormValue("thing_id"); got != "t1_c9" {
			t.Errorf("thing_id = %q, want t1_c9", got)
		}
		if calls == 1 {
			// Reddit reports some rate limits inside a 200 body.
			_, _ = w.Write([]byte(`{"json": {"errors": [["RATELIMIT", "try again in 2 minutes", "ratelimit"]]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"json": {"errors": []}}`))
	}))
	c.token = "tok"
	c.tokenExp = time.Now().Add(time.Hour)

	if err := c.Reply(context.Background(), "t1_c9", "Happy cake day!"); err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (one rate-limited, one retry)", calls)
	}
}

// TestReplyForbidden verifies a hard 403 is returned without retry.
func TestReplyForbidden(t *testing.T) {
	var calls int
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message": "Forbidden"}`))
	}))
	c.token = "tok"
	c.tokenExp = time.Now().Add(time.Hour)

	err := c.Reply(context.Background(), "t3_p1", "hello")
	if err == nil {
		t.Fatal("Reply() error = nil, want forbidden")
	}
	if !IsForbidden(err) {
		t.Errorf("IsForbidden(%v) = false, want true", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1; a ban is not retryable", calls)
	}
}

// TestTokenRefresh verifies an expired token is renewed before a request
// and a still-valid one is not.
func TestTokenRefresh(t *testing.T) {
	var authCalls int
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/access_token" {
			authCalls++
			_, _ = w.Write([]byte(`{"access_token": "fresh", "expires_in": 3600}`))
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer fresh" {
			t.Errorf("authorization = %q, want the refreshed token", got)
		}
		_, _ = w.Write([]byte(`{"kind": "t2", "data": {"name": "alice", "created_utc": 1420070400, "comment_karma": 1}}`))
	}))
	c.token = "stale"
	c.tokenExp = time.Now().Add(-time.Minute)

	if _, err := c.User(context.Background(), "alice"); err != nil {
		t.Fatalf("User() error = %v", err)
	}
	if authCalls != 1 {
		t.Fatalf("auth calls = %d, want 1 for an expired token", authCalls)
	}
	if c.token != "fresh" {
		t.Errorf("token = %q, want %q", c.token, "fresh")
	}

	// The fresh token (3600s) is far from expiry; no second refresh.
	if _, err := c.User(context.Background(), "alice"); err != nil {
		t.Fatalf("User() error = %v", err)
	}
	if authCalls != 1 {
		t.Errorf("auth calls = %d, want still 1 for a valid token", authCalls)
	}
}

// TestTokenRefreshNearExpiry verifies a token inside the refresh margin is
// renewed even though it has not strictly expired yet.
func TestTokenRefreshNearExpiry(t *testing.T) {
	var authCalls int
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/access_token" {
			authCalls++
			_, _ = w.Write([]byte(`{"access_token": "fresh", "expires_in": 3600}`))
			return
		}
		_, _ = w.Write([]byte(`{"kind": "t2", "data": {"name": "alice", "created_utc": 1420070400}}`))
	}))
	c.token = "aging"
	c.tokenExp = time.Now().Add(time.Minute)

	if _, err := c.User(context.Background(), "alice"); err != nil {
		t.Fatalf("User() error = %v", err)
	}
	if authCalls != 1 {
		t.Errorf("auth calls = %d, want 1 for a token inside the refresh margin", authCalls)
	}
}

// TestErrorPredicates verifies the error classification helpers.
func TestErrorPredicates(t *testing.T) {
	auth := &APIError{StatusCode: http.StatusUnauthorized, Body: "no"}
	limited := &APIError{StatusCode: http.StatusTooManyRequests, Body: "slow down"}
	limited403 := &APIError{StatusCode: http.StatusForbidden, Body: `{"errors": [["RATELIMIT"]]}`}
	banned := &APIError{StatusCode: http.StatusForbidden, Body: "Forbidden"}
	server := &APIError{StatusCode: http.StatusBadGateway, Body: "bad gateway"}

	if !IsAuth(auth) || IsAuth(limited) {
		t.Error("IsAuth misclassifies")
	}
	if !IsRateLimit(limited) || !IsRateLimit(limited403) || IsRateLimit(banned) {
		t.Error("IsRateLimit misclassifies")
	}
	if !IsForbidden(banned) || IsForbidden(limited403) || IsForbidden(auth) {
		t.Error("IsForbidden misclassifies")
	}
	if !isRetryable(server) || !isRetryable(limited) || isRetryable(auth) || isRetryable(banned) {
		t.Error("isRetryable misclassifies")
	}
}
