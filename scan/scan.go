// Package scan drives the per-subreddit cake day sweep: it walks new posts
// down to the previous run's cursor, recurses into comments, and runs the
// predicate/collector/policy pipeline for every authored item.
package scan

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"cakeday-bot/message"
	"cakeday-bot/pkg/cakeday"
)

// Platform is the content-platform client the scanner drives.
type Platform interface {
	NewPosts(ctx context.Context, subreddit string, limit int) ([]*cakeday.Post, error)
	Comments(ctx context.Context, postID string) ([]*cakeday.Comment, error)
	User(ctx context.Context, name string) (*cakeday.User, error)
	UserComments(ctx context.Context, name string, limit int) ([]*cakeday.Comment, error)
	Reply(ctx context.Context, fullname, text string) error
}

// Store is the persistent state the scanner reads and advances.
type Store interface {
	Cursor(ctx context.Context, name string) (lastPostID string, lastScan time.Time, err error)
	AdvanceCursor(ctx context.Context, name, postID string, scannedAt time.Time) error
	MarkWished(ctx context.Context, username, day string) error
	HasBeenWished(ctx context.Context, username, day string) (bool, error)
	ClearExpiredWishes(ctx context.Context, day string) error
	Reputation(ctx context.Context, subreddit string, ttl time.Duration, now time.Time) (totalScore, commentCount int, ok bool, err error)
	SaveReputation(ctx context.Context, subreddit string, totalScore, commentCount int, computedAt time.Time) error
}

// Collector assembles conversation context around a triggering item.
type Collector interface {
	Collect(item cakeday.Item, post *cakeday.Post, tree []*cakeday.Comment) *cakeday.Conversation
	Reset()
}

// Generator produces the wish text; it never fails.
type Generator interface {
	Message(ctx context.Context, in message.PromptInput) string
}

// Images resolves a post's main-content image to a local cached path.
type Images interface {
	MainImage(ctx context.Context, post *cakeday.Post) string
}

// Config holds the scanner's tunables.
type Config struct {
	BotUsername        string
	Signature          string // Appended to every posted wish
	PageSize           int    // Posts fetched per subreddit scan
	MaxCommentsPerPost int    // Top-level comments visited per post
	ItemDelay          time.Duration
	Location           *time.Location // Reference timezone for all calendar math
	ReputationTTL      time.Duration
	LookbackDays       int // Reputation window in days
	ReputationComments int // Newest bot comments examined on recompute
}

// Scanner is the top-level control loop.
type Scanner struct {
	platform  Platform
	store     Store
	collector Collector
	generator Generator
	images    Images
	logger    *slog.Logger
	cfg       Config

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a scanner. Zero config fields get the standard defaults.
func New(platform Platform, store Store, collector Collector, generator Generator, images Images, cfg Config, logger *slog.Logger) *Scanner {
	if cfg.PageSize == 0 {
		cfg.PageSize = 25
	}
	if cfg.MaxCommentsPerPost == 0 {
		cfg.MaxCommentsPerPost = 100
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ReputationTTL == 0 {
		cfg.ReputationTTL = 900 * time.Second
	}
	if cfg.LookbackDays == 0 {
		cfg.LookbackDays = 30
	}
	if cfg.ReputationComments == 0 {
		cfg.ReputationComments = 100
	}
	return &Scanner{
		platform:  platform,
		store:     store,
		collector: collector,
		generator: generator,
		images:    images,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// ScanAll sweeps every configured subreddit once. Per-subreddit failures are
// logged and do not abort the run.
func (s *Scanner) ScanAll(ctx context.Context, subreddits []string) {
	day := s.now().In(s.cfg.Location).Format(time.DateOnly)
	if err := s.store.ClearExpiredWishes(ctx, day); err != nil {
		s.logger.Warn("Failed to clear expired wish records", "error", err)
	}

	runStart := s.now()
	for _, name := range subreddits {
		select {
		case <-ctx.Done():
			s.logger.Info("Context cancelled, stopping scan", "error", ctx.Err())
			return
		default:
		}

		start := s.now()
		if err := s.scanSubreddit(ctx, name); err != nil {
			s.logger.Warn("Subreddit scan failed", "subreddit", name, "error", err)
			continue
		}
		s.logger.Info("Subreddit scan completed",
			"subreddit", name,
			"duration", s.now().Sub(start).Round(time.Second).String())
	}
	s.logger.Info("Scan run completed",
		"subreddits", len(subreddits),
		"duration", s.now().Sub(runStart).Round(time.Second).String())
}

func (s *Scanner) scanSubreddit(ctx context.Context, name string) error {
	// Each subreddit starts with a fresh sentiment memo; the memo would
	// otherwise grow without bound over a long run.
	s.collector.Reset()

	rep := s.reputation(ctx, name)

	lastPostID, _, err := s.store.Cursor(ctx, name)
	if err != nil {
		return err
	}

	posts, err := s.platform.NewPosts(ctx, name, s.cfg.PageSize)
	if err != nil {
		return err
	}

	s.logger.Info("Scanning subreddit",
		"subreddit", name,
		"posts", len(posts),
		"last_post_id", lastPostID)

	var (
		newCursor string
		wishes    int
	)
	for _, post := range posts {
		if newCursor == "" {
			// High-water mark for the next run, set regardless of
			// what happens to this post.
			newCursor = post.ID
		}
		if lastPostID != "" && post.ID == lastPostID {
			s.logger.Debug("Reached last scanned post, stopping", "subreddit", name, "post_id", post.ID)
			break
		}

		tree, err := s.platform.Comments(ctx, post.ID)
		if err != nil {
			// Degrade: the post itself can still be processed.
			s.logger.Warn("Failed to fetch comments", "post_id", post.ID, "error", err)
			tree = nil
		}

		if post.Author != "" {
			if s.processItem(ctx, cakeday.PostItem(post), post, tree, rep) {
				wishes++
			}
			s.sleep(s.cfg.ItemDelay)
		}

		for i, comment := range tree {
			if i >= s.cfg.MaxCommentsPerPost {
				break
			}
			if comment.Author == "" {
				continue
			}
			if s.processItem(ctx, cakeday.CommentItem(comment), post, tree, rep) {
				wishes++
			}
			s.sleep(s.cfg.ItemDelay)
		}
	}

	// Advance unconditionally, even when no cake days were found; an empty
	// newCursor keeps the existing mark so an empty feed never rewinds it.
	if err := s.store.AdvanceCursor(ctx, name, newCursor, s.now()); err != nil {
		return err
	}

	s.logger.Info("Cake days wished", "subreddit", name, "count", wishes)
	return nil
}

// processItem runs the full pipeline for one authored post or comment. It
// returns true when a wish was posted. No failure propagates: every fault
// degrades to skipping this item.
func (s *Scanner) processItem(ctx context.Context, item cakeday.Item, post *cakeday.Post, tree []*cakeday.Comment, rep message.Reputation) bool {
	username := item.Author()

	user, ok := s.isCakeDay(ctx, username)
	if !ok {
		return false
	}

	ageYears := int(s.now().UTC().Sub(user.CreatedAt).Hours() / 24 / 365)
	s.logger.Info("Cake day found",
		"username", username,
		"account_age_years", ageYears,
		"kind", string(item.Kind),
		"subreddit", post.Subreddit)

	conversation := s.collector.Collect(item, post, tree)

	var imagePath string
	if item.Kind == cakeday.KindPost {
		imagePath = s.images.MainImage(ctx, post)
	}

	text := s.generator.Message(ctx, message.PromptInput{
		Subreddit:       post.Subreddit,
		PostTitle:       post.Title,
		Conversation:    conversation,
		TargetUser:      username,
		AccountAgeYears: ageYears,
		Kind:            item.Kind,
		ItemScore:       item.Score(),
		Reputation:      rep,
		ImagePath:       imagePath,
	})
	if s.cfg.Signature != "" {
		text += "\n\n" + s.cfg.Signature
	}

	if err := s.platform.Reply(ctx, item.Fullname(), text); err != nil {
		// Best effort: a failed reply (e.g. banned from the subreddit)
		// must not abort the rest of the scan.
		s.logger.Warn("Failed to post wish", "username", username, "thing_id", item.Fullname(), "error", err)
		return false
	}

	s.logger.Info("Wish posted", "username", username, "permalink", item.Permalink())
	return true
}

// reputation returns the bot's recent performance in a subreddit, serving
// from the cache when fresh and recomputing from the bot's own comment
// history otherwise. Any failure degrades to a zero reputation.
func (s *Scanner) reputation(ctx context.Context, subreddit string) message.Reputation {
	now := s.now()

	total, count, ok, err := s.store.Reputation(ctx, subreddit, s.cfg.ReputationTTL, now)
	if err != nil {
		s.logger.Warn("Reputation cache lookup failed", "subreddit", subreddit, "error", err)
	}
	if ok {
		s.logger.Debug("Reputation served from cache", "subreddit", subreddit, "total", total, "count", count)
		return message.Reputation{TotalScore: total, CommentCount: count}
	}

	comments, err := s.platform.UserComments(ctx, s.cfg.BotUsername, s.cfg.ReputationComments)
	if err != nil {
		s.logger.Warn("Failed to fetch bot comment history", "subreddit", subreddit, "error", err)
		return message.Reputation{}
	}

	cutoff := now.UTC().AddDate(0, 0, -s.cfg.LookbackDays)
	total, count = 0, 0
	for _, comment := range comments {
		if strings.EqualFold(comment.Subreddit, subreddit) && comment.CreatedAt.After(cutoff) {
			total += comment.Score
			count++
		}
	}

	if err := s.store.SaveReputation(ctx, subreddit, total, count, now); err != nil {
		s.logger.Warn("Failed to cache reputation", "subreddit", subreddit, "error", err)
	}

	avg := 0.0
	if count > 0 {
		avg = float64(total) / float64(count)
	}
	s.logger.Info("Reputation computed",
		"subreddit", subreddit,
		"total_score", total,
		"comment_count", count,
		"avg_karma", avg)

	return message.Reputation{TotalScore: total, CommentCount: count}
}
