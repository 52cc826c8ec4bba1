// Package cakeday contains the core domain types for the cake day bot.
package cakeday

import "time"

// Post represents a subreddit submission.
type Post struct {
	ID           string
	Subreddit    string
	Title        string
	Author       string
	SelfText     string // Plain text body, empty for link posts
	SelfTextHTML string // Rendered HTML body, used for embedded image discovery
	URL          string // Link target; points at reddit itself for self posts
	Permalink    string
	PostHint     string // e.g. "image", "link", "hosted:video"
	Score        int
	NumComments  int
	IsGallery    bool
	GalleryURLs  []string // Resolved gallery image URLs, in gallery order
	PreviewURL   string   // First preview image source, if any
	CreatedAt    time.Time
}

// Fullname returns the platform's type-prefixed identifier for the post.
func (p *Post) Fullname() string { return "t3_" + p.ID }

// Comment represents a single comment, with any replies that were already
// materialized in the listing. Unresolved "load more" stubs are not included.
type Comment struct {
	ID        string
	PostID    string
	ParentID  string // Fullname of the parent: t3_* for top-level, t1_* otherwise
	Subreddit string
	Author    string
	Body      string
	Permalink string
	Score     int
	CreatedAt time.Time
	Replies   []*Comment
}

// Fullname returns the platform's type-prefixed identifier for the comment.
func (c *Comment) Fullname() string { return "t1_" + c.ID }

// User holds the account metadata needed for the cake day check.
type User struct {
	Name         string
	CreatedAt    time.Time
	CommentKarma int
}

// ItemKind discriminates the two kinds of scannable content.
type ItemKind string

const (
	KindPost    ItemKind = "post"
	KindComment ItemKind = "comment"
)

// Item is a closed tagged union over posts and comments, resolved once at
// ingestion so downstream code never probes for optional fields.
type Item struct {
	Kind    ItemKind
	Post    *Post
	Comment *Comment
}

// PostItem wraps a post as a scannable item.
func PostItem(p *Post) Item { return Item{Kind: KindPost, Post: p} }

// CommentItem wraps a comment as a scannable item.
func CommentItem(c *Comment) Item { return Item{Kind: KindComment, Comment: c} }

// Author returns the item author's username, empty if deleted.
func (it Item) Author() string {
	if it.Kind == KindPost {
		return it.Post.Author
	}
	return it.Comment.Author
}

// Text returns the item's body text.
func (it Item) Text() string {
	if it.Kind == KindPost {
		return it.Post.SelfText
	}
	return it.Comment.Body
}

// Score returns the item's current vote score.
func (it Item) Score() int {
	if it.Kind == KindPost {
		return it.Post.Score
	}
	return it.Comment.Score
}

// Fullname returns the platform identifier of the underlying post or comment.
func (it Item) Fullname() string {
	if it.Kind == KindPost {
		return it.Post.Fullname()
	}
	return it.Comment.Fullname()
}

// Permalink returns the item's site-relative URL.
func (it Item) Permalink() string {
	if it.Kind == KindPost {
		return it.Post.Permalink
	}
	return it.Comment.Permalink
}

// ConversationEntry is one annotated row of the context window built around a
// triggering item. Entries are transient; they are never persisted.
type ConversationEntry struct {
	Author       string
	Text         string // Truncated to the collector's character budget
	Role         ItemKind
	Sentiment    string // "positive", "neutral" or "negative"
	Compound     float64
	Score        int
	IsTargetUser bool
}

// Conversation is the assembled context window plus its sentiment summary.
type Conversation struct {
	Entries         []ConversationEntry
	AverageCompound float64
	MostExtreme     ConversationEntry
	Trend           string // Sign of the average: "positive", "neutral" or "negative"
}
