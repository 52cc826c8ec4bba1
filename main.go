// Package main implements a scheduled batch job that scans configured
// subreddits for accounts celebrating their cake day and posts a generated
// celebratory comment.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"cakeday-bot/convo"
	"cakeday-bot/images"
	"cakeday-bot/message"
	"cakeday-bot/reddit"
	"cakeday-bot/scan"
	"cakeday-bot/sentiment"
	"cakeday-bot/store"
)

// Config is loaded from the environment (and an optional .env file).
type Config struct {
	RedditClientID     string        `envconfig:"REDDIT_CLIENT_ID" required:"true"`
	RedditClientSecret string        `envconfig:"REDDIT_CLIENT_SECRET" required:"true"`
	RedditUsername     string        `envconfig:"REDDIT_USERNAME" required:"true"`
	RedditPassword     string        `envconfig:"REDDIT_PASSWORD" required:"true"`
	RedditUserAgent    string        `envconfig:"REDDIT_USER_AGENT" default:"cakeday-bot/1.0"`
	GeminiAPIKey       string        `envconfig:"GEMINI_API_KEY" required:"true"`
	GeminiModels       []string      `envconfig:"GEMINI_MODELS" default:"gemini-2.0-flash,gemini-2.0-flash-lite"`
	Subreddits         []string      `envconfig:"SUBREDDITS" required:"true"`
	DBPath             string        `envconfig:"DB_PATH" default:"./data/cakeday.db"`
	ImageCacheDir      string        `envconfig:"IMAGE_CACHE_DIR" default:"./data/images"`
	ImageCacheTTL      time.Duration `envconfig:"IMAGE_CACHE_TTL" default:"24h"`
	ImageMaxDim        int           `envconfig:"IMAGE_MAX_DIM" default:"768"`
	ItemDelay          time.Duration `envconfig:"ITEM_DELAY" default:"2s"`
	Timezone           string        `envconfig:"TIMEZONE" default:"America/Toronto"`
	Signature          string        `envconfig:"SIGNATURE" default:"*I am a bot sending some cheer in a world that needs more.*"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		_, _ = os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(2)
	}

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("Invalid TIMEZONE", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Error("Failed to open state database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("Failed to close state database", "error", err)
		}
	}()

	for _, name := range cfg.Subreddits {
		if err := st.EnsureSubreddit(ctx, name); err != nil {
			logger.Error("Failed to register subreddit", "subreddit", name, "error", err)
			os.Exit(1)
		}
	}

	client := reddit.New(reddit.Credentials{
		ClientID:     cfg.RedditClientID,
		ClientSecret: cfg.RedditClientSecret,
		Username:     cfg.RedditUsername,
		Password:     cfg.RedditPassword,
		UserAgent:    cfg.RedditUserAgent,
	}, logger)
	if err := client.Authenticate(ctx); err != nil {
		logger.Error("Reddit authentication failed", "error", err)
		os.Exit(1)
	}

	if me, err := client.User(ctx, cfg.RedditUsername); err == nil {
		logger.Info("Bot account loaded", "username", me.Name, "comment_karma", me.CommentKarma)
	} else {
		logger.Warn("Could not load bot account metadata", "error", err)
	}

	caller, err := message.NewGeminiCaller(ctx, cfg.GeminiAPIKey)
	if err != nil {
		logger.Error("Gemini client initialization failed", "error", err)
		os.Exit(1)
	}

	cache, err := images.NewCache(cfg.ImageCacheDir, cfg.ImageCacheTTL, cfg.ImageMaxDim, logger)
	if err != nil {
		logger.Error("Failed to initialize image cache", "dir", cfg.ImageCacheDir, "error", err)
		os.Exit(1)
	}
	cache.Purge()

	collector := convo.New(sentiment.New(), logger)
	generator := message.NewGenerator(caller, cfg.GeminiModels, logger)

	scanner := scan.New(client, st, collector, generator, cache, scan.Config{
		BotUsername: cfg.RedditUsername,
		Signature:   cfg.Signature,
		ItemDelay:   cfg.ItemDelay,
		Location:    location,
	}, logger)

	logger.Info("Starting cake day scan", "subreddits", cfg.Subreddits)
	scanner.ScanAll(ctx, cfg.Subreddits)
	logger.Info("Scan complete")
}
