// Package images resolves the image associated with a post and maintains a
// small on-disk cache of downsized re-encoded copies for the message
// generator.
package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
	"github.com/disintegration/imaging"

	"cakeday-bot/pkg/cakeday"
)

// Kind classifies how an image relates to its post.
type Kind string

const (
	// KindMain means the post itself is the image (direct link, image
	// hint, or gallery). Only these are forwarded to the generator.
	KindMain Kind = "main"
	// KindEmbedded means the image is incidental, linked from the body.
	KindEmbedded Kind = "embedded"
)

// Resolved is the outcome of image resolution for a post.
type Resolved struct {
	URL  string
	Kind Kind
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

func hasImageExtension(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if idx := strings.IndexAny(lower, "?#"); idx >= 0 {
		lower = lower[:idx]
	}
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Resolve finds the image associated with a post, if any. Resolution order:
// direct image link, first gallery image, preview of an image-hinted post,
// then images embedded in the body HTML.
func Resolve(post *cakeday.Post) (Resolved, bool) {
	if hasImageExtension(post.URL) {
		return Resolved{URL: post.URL, Kind: KindMain}, true
	}
	if post.IsGallery && len(post.GalleryURLs) > 0 {
		return Resolved{URL: post.GalleryURLs[0], Kind: KindMain}, true
	}
	if post.PostHint == "image" && post.PreviewURL != "" {
		return Resolved{URL: post.PreviewURL, Kind: KindMain}, true
	}
	if url, ok := embeddedImage(post.SelfTextHTML); ok {
		return Resolved{URL: url, Kind: KindEmbedded}, true
	}
	return Resolved{}, false
}

// embeddedImage extracts the first image reference from rendered body HTML.
func embeddedImage(bodyHTML string) (string, bool) {
	if bodyHTML == "" {
		return "", false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(bodyHTML))
	if err != nil {
		return "", false
	}

	if src, ok := doc.Find("img").First().Attr("src"); ok && src != "" {
		return src, true
	}

	var found string
	doc.Find("a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if ok && hasImageExtension(href) {
			found = href
			return false
		}
		return true
	})
	return found, found != ""
}

// Cache fetches images and stores downsized JPEG copies on disk, keyed by a
// hash of the source URL. There is no cross-process coordination; stale files
// are purged opportunistically at scan start.
type Cache struct {
	dir        string
	ttl        time.Duration
	maxDim     int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCache creates the cache directory if needed.
func NewCache(dir string, ttl time.Duration, maxDim int, logger *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image cache dir: %w", err)
	}
	return &Cache{
		dir:        dir,
		ttl:        ttl,
		maxDim:     maxDim,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}, nil
}

// Key returns the deterministic cache filename for a source URL.
func Key(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:]) + ".jpg"
}

// Fetch returns the local path of the cached, re-encoded image for rawURL,
// downloading and transcoding it on a cache miss.
func (c *Cache) Fetch(ctx context.Context, rawURL string) (string, error) {
	path := filepath.Join(c.dir, Key(rawURL))

	if info, err := os.Stat(path); err == nil && time.Since(info.ModTime()) < c.ttl {
		c.logger.Debug("Image cache hit", "url", rawURL, "path", path)
		return path, nil
	}

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create image request: %w", err))
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close image response body", "error", closeErr)
				}
			}()

			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("fetch image: HTTP %d", resp.StatusCode)
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return retry.Unrecoverable(err)
				}
				return err
			}

			img, err := imaging.Decode(resp.Body)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode image: %w", err))
			}

			resized := imaging.Fit(img, c.maxDim, c.maxDim, imaging.Lanczos)
			if err := imaging.Save(resized, path, imaging.JPEGQuality(85)); err != nil {
				return retry.Unrecoverable(fmt.Errorf("save image: %w", err))
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying image fetch after error", "attempt", n, "url", rawURL, "error", err)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("cache image %s: %w", rawURL, err)
	}

	c.logger.Info("Image cached", "url", rawURL, "path", path)
	return path, nil
}

// Purge removes cache files older than the TTL. Failures are logged and
// skipped; the cache is best-effort.
func (c *Cache) Purge() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Warn("Failed to read image cache dir", "dir", c.dir, "error", err)
		return
	}

	var removed int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jpg") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) <= c.ttl {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			c.logger.Warn("Failed to remove expired cache file", "file", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("Purged expired cached images", "count", removed)
	}
}

// MainImage resolves and caches a post's image, returning the local path only
// when the image is the post's main content. Any failure degrades to "".
func (c *Cache) MainImage(ctx context.Context, post *cakeday.Post) string {
	resolved, ok := Resolve(post)
	if !ok {
		return ""
	}
	if resolved.Kind != KindMain {
		c.logger.Debug("Skipping embedded image", "post_id", post.ID, "url", resolved.URL)
		return ""
	}

	path, err := c.Fetch(ctx, resolved.URL)
	if err != nil {
		c.logger.Warn("Image fetch failed, continuing without image", "post_id", post.ID, "error", err)
		return ""
	}
	return path
}
