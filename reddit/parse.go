package reddit

import (
	"encoding/json"
	"fmt"
	"time"

	"cakeday-bot/pkg/cakeday"
)

// thing is the generic kind/data envelope Reddit wraps every entity in.
type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type listingData struct {
	Children []thing `json:"children"`
	After    string  `json:"after"`
}

// children unwraps a Listing thing into its child things.
func (t thing) children() ([]thing, error) {
	if t.Kind != "Listing" {
		return nil, fmt.Errorf("expected Listing, got %q", t.Kind)
	}
	var data listingData
	if err := json.Unmarshal(t.Data, &data); err != nil {
		return nil, err
	}
	return data.Children, nil
}

type postData struct {
	ID           string  `json:"id"`
	Subreddit    string  `json:"subreddit"`
	Title        string  `json:"title"`
	Author       string  `json:"author"`
	SelfText     string  `json:"selftext"`
	SelfTextHTML string  `json:"selftext_html"`
	URL          string  `json:"url"`
	Permalink    string  `json:"permalink"`
	PostHint     string  `json:"post_hint"`
	Score        int     `json:"score"`
	NumComments  int     `json:"num_comments"`
	CreatedUTC   float64 `json:"created_utc"`
	IsGallery    bool    `json:"is_gallery"`

	GalleryData struct {
		Items []struct {
			MediaID string `json:"media_id"`
		} `json:"items"`
	} `json:"gallery_data"`
	MediaMetadata map[string]struct {
		Source struct {
			URL string `json:"u"`
		} `json:"s"`
	} `json:"media_metadata"`
	Preview struct {
		Images []struct {
			Source struct {
				URL string `json:"url"`
			} `json:"source"`
		} `json:"images"`
	} `json:"preview"`
}

func parsePost(raw json.RawMessage) (*cakeday.Post, error) {
	var data postData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	if data.ID == "" {
		return nil, fmt.Errorf("post has no ID")
	}

	post := &cakeday.Post{
		ID:           data.ID,
		Subreddit:    data.Subreddit,
		Title:        data.Title,
		Author:       normalizeAuthor(data.Author),
		SelfText:     data.SelfText,
		SelfTextHTML: data.SelfTextHTML,
		URL:          data.URL,
		Permalink:    data.Permalink,
		PostHint:     data.PostHint,
		Score:        data.Score,
		NumComments:  data.NumComments,
		IsGallery:    data.IsGallery,
		CreatedAt:    time.Unix(int64(data.CreatedUTC), 0).UTC(),
	}

	// Gallery items reference media_metadata entries; keep gallery order.
	for _, item := range data.GalleryData.Items {
		meta, ok := data.MediaMetadata[item.MediaID]
		if !ok || meta.Source.URL == "" {
			continue
		}
		post.GalleryURLs = append(post.GalleryURLs, meta.Source.URL)
	}

	if len(data.Preview.Images) > 0 {
		post.PreviewURL = data.Preview.Images[0].Source.URL
	}

	return post, nil
}

type commentData struct {
	ID         string          `json:"id"`
	LinkID     string          `json:"link_id"`
	ParentID   string          `json:"parent_id"`
	Subreddit  string          `json:"subreddit"`
	Author     string          `json:"author"`
	Body       string          `json:"body"`
	Permalink  string          `json:"permalink"`
	Score      int             `json:"score"`
	CreatedUTC float64         `json:"created_utc"`
	Replies    json.RawMessage `json:"replies"` // Listing thing, or "" when absent
}

func parseComment(raw json.RawMessage) (*cakeday.Comment, error) {
	var data commentData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	if data.ID == "" {
		return nil, fmt.Errorf("comment has no ID")
	}

	comment := &cakeday.Comment{
		ID:        data.ID,
		PostID:    trimPrefix(data.LinkID, "t3_"),
		ParentID:  data.ParentID,
		Subreddit: data.Subreddit,
		Author:    normalizeAuthor(data.Author),
		Body:      data.Body,
		Permalink: data.Permalink,
		Score:     data.Score,
		CreatedAt: time.Unix(int64(data.CreatedUTC), 0).UTC(),
	}

	// Replies is "" (a JSON string) when there are none.
	if len(data.Replies) > 0 && data.Replies[0] == '{' {
		var replies thing
		if err := json.Unmarshal(data.Replies, &replies); err != nil {
			return nil, fmt.Errorf("parse replies of %s: %w", data.ID, err)
		}
		children, err := replies.children()
		if err != nil {
			return nil, fmt.Errorf("parse replies of %s: %w", data.ID, err)
		}
		for _, child := range children {
			if child.Kind != "t1" {
				continue
			}
			reply, err := parseComment(child.Data)
			if err != nil {
				return nil, err
			}
			comment.Replies = append(comment.Replies, reply)
		}
	}

	return comment, nil
}

// normalizeAuthor maps Reddit's "[deleted]" placeholder to an empty author so
// callers can treat deletion as "no known author".
func normalizeAuthor(author string) string {
	if author == "[deleted]" {
		return ""
	}
	return author
}

func trimPrefix(s, prefix string) string {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}
