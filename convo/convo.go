// Package convo assembles the bounded conversation window around a triggering
// item, annotated with per-entry sentiment, for the message prompt.
package convo

import (
	"log/slog"
	"math"

	"cakeday-bot/pkg/cakeday"
	"cakeday-bot/sentiment"
)

const (
	maxAncestors      = 5
	maxSiblings       = 5
	maxTopComments    = 10
	entryTextBudget   = 250 // Characters per entry, before sentiment scoring
	noTextPlaceholder = "(no text content)"
)

// Collector builds conversation windows. It owns the sentiment analyzer so
// scoring state stays explicit rather than process-global.
type Collector struct {
	analyzer *sentiment.Analyzer
	logger   *slog.Logger
}

// New creates a collector around the given analyzer.
func New(analyzer *sentiment.Analyzer, logger *slog.Logger) *Collector {
	return &Collector{analyzer: analyzer, logger: logger}
}

// Reset clears the sentiment memo; the scan driver calls this once per
// subreddit.
func (c *Collector) Reset() { c.analyzer.Reset() }

// Collect builds the ordered context window for item. For comments the window
// is up to 5 ancestors (oldest first), the comment itself, then up to 5
// sibling replies. For posts it is the post body followed by up to 10
// top-level comments. tree is the post's materialized comment tree.
func (c *Collector) Collect(item cakeday.Item, post *cakeday.Post, tree []*cakeday.Comment) *cakeday.Conversation {
	var entries []cakeday.ConversationEntry

	switch item.Kind {
	case cakeday.KindComment:
		entries = c.collectForComment(item.Comment, post, tree)
	case cakeday.KindPost:
		entries = c.collectForPost(item.Post, tree)
	}

	return c.summarize(entries)
}

func (c *Collector) collectForComment(target *cakeday.Comment, post *cakeday.Post, tree []*cakeday.Comment) []cakeday.ConversationEntry {
	parents := parentIndex(tree)

	// Walk up the ancestor chain, inserting closest-first so the final
	// order reads oldest ancestor -> target.
	var ancestors []cakeday.ConversationEntry
	parentID := target.ParentID
	for len(ancestors) < maxAncestors && parentID != "" {
		if parent, ok := parents[parentID]; ok {
			ancestors = append([]cakeday.ConversationEntry{c.entry(parent.Author, parent.Body, cakeday.KindComment, parent.Score, parent.Author == target.Author)}, ancestors...)
			parentID = parent.ParentID
			continue
		}
		if post != nil && parentID == post.Fullname() {
			ancestors = append([]cakeday.ConversationEntry{c.entry(post.Author, post.SelfText, cakeday.KindPost, post.Score, post.Author == target.Author)}, ancestors...)
		}
		break
	}

	entries := ancestors
	entries = append(entries, c.entry(target.Author, target.Body, cakeday.KindComment, target.Score, true))

	// Sibling replies to the same parent, excluding the target itself.
	siblings := siblingsOf(target, post, parents, tree)
	count := 0
	for _, sib := range siblings {
		if sib.ID == target.ID || count >= maxSiblings {
			continue
		}
		entries = append(entries, c.entry(sib.Author, sib.Body, cakeday.KindComment, sib.Score, sib.Author == target.Author))
		count++
	}

	return entries
}

func (c *Collector) collectForPost(post *cakeday.Post, tree []*cakeday.Comment) []cakeday.ConversationEntry {
	entries := []cakeday.ConversationEntry{
		c.entry(post.Author, post.SelfText, cakeday.KindPost, post.Score, true),
	}
	for i, comment := range tree {
		if i >= maxTopComments {
			break
		}
		entries = append(entries, c.entry(comment.Author, comment.Body, cakeday.KindComment, comment.Score, comment.Author == post.Author))
	}
	return entries
}

func (c *Collector) entry(author, text string, role cakeday.ItemKind, score int, isTarget bool) cakeday.ConversationEntry {
	text = truncate(text, entryTextBudget)
	if text == "" {
		text = noTextPlaceholder
	}
	if author == "" {
		author = "[deleted]"
	}
	compound := c.analyzer.Compound(text)
	return cakeday.ConversationEntry{
		Author:       author,
		Text:         text,
		Role:         role,
		Sentiment:    sentiment.LabelFor(compound),
		Compound:     compound,
		Score:        score,
		IsTargetUser: isTarget,
	}
}

func (c *Collector) summarize(entries []cakeday.ConversationEntry) *cakeday.Conversation {
	conv := &cakeday.Conversation{Entries: entries, Trend: "neutral"}
	if len(entries) == 0 {
		return conv
	}

	var sum float64
	extreme := entries[0]
	for _, e := range entries {
		sum += e.Compound
		if math.Abs(e.Compound) > math.Abs(extreme.Compound) {
			extreme = e
		}
	}

	conv.AverageCompound = sum / float64(len(entries))
	conv.MostExtreme = extreme
	switch {
	case conv.AverageCompound > 0:
		conv.Trend = "positive"
	case conv.AverageCompound < 0:
		conv.Trend = "negative"
	}
	return conv
}

// parentIndex maps comment fullnames to comments across the whole tree.
func parentIndex(tree []*cakeday.Comment) map[string]*cakeday.Comment {
	index := make(map[string]*cakeday.Comment)
	var walk func(comments []*cakeday.Comment)
	walk = func(comments []*cakeday.Comment) {
		for _, comment := range comments {
			index[comment.Fullname()] = comment
			walk(comment.Replies)
		}
	}
	walk(tree)
	return index
}

// siblingsOf returns the replies that share target's parent. For top-level
// comments the siblings are the other top-level comments.
func siblingsOf(target *cakeday.Comment, post *cakeday.Post, parents map[string]*cakeday.Comment, tree []*cakeday.Comment) []*cakeday.Comment {
	if parent, ok := parents[target.ParentID]; ok {
		return parent.Replies
	}
	if post != nil && target.ParentID == post.Fullname() {
		return tree
	}
	return nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
