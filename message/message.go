// Package message builds the cake day wish. It maps the bot's recent
// reputation in a subreddit to a tone tier, assembles the generation prompt,
// and walks a priority list of models, falling back to a fixed message
// whenever generation cannot be trusted.
package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"cakeday-bot/pkg/cakeday"
)

// Fallback is the static message used whenever generation fails. It is the
// safety net guaranteeing the bot never skips a wish because the generation
// service is degraded.
const Fallback = "Happy Cake Day! 🎂"

// Caller generates text from a model given a prompt and an optional local
// image path.
type Caller interface {
	Generate(ctx context.Context, model, prompt, imagePath string) (string, error)
}

// Reputation is the bot's recent comment performance in a subreddit.
type Reputation struct {
	TotalScore   int
	CommentCount int
}

// AvgKarma returns the average score per comment, 0 when there are none.
func (r Reputation) AvgKarma() float64 {
	if r.CommentCount == 0 {
		return 0
	}
	return float64(r.TotalScore) / float64(r.CommentCount)
}

// Tier is one behavior bucket of the tone policy.
type Tier struct {
	Name         string
	MinKarma     float64 // Inclusive lower bound on average karma
	Instructions string
}

// tiers is the tone policy, ordered by ascending MinKarma. Prompt assembly
// consults this table instead of branching inline.
var tiers = []Tier{
	{
		Name:     "under fire",
		MinKarma: -1 << 30,
		Instructions: "Your recent comments in this subreddit have been poorly received. " +
			"Use a strictly polite, neutral and unobtrusive tone. No slang, humor, emoji or embellishment. " +
			"Ignore the conversation details and keep the message very short.",
	},
	{
		Name:     "untested",
		MinKarma: 1,
		Instructions: "Your track record in this subreddit is thin. " +
			"Use a polite, slightly warm tone. One simple positive emoji is acceptable. " +
			"Keep the message brief and let the conversation inform it lightly.",
	},
	{
		Name:     "building trust",
		MinKarma: 3,
		Instructions: "Your comments in this subreddit are modestly well received. " +
			"Use a friendly, warm and genuinely celebratory tone; a few emoji are fine. " +
			"Draw on the conversation, and you may add one short positive aside relevant to it.",
	},
	{
		Name:     "established",
		MinKarma: 5,
		Instructions: "Your comments in this subreddit are well received. " +
			"Use a celebratory tone with a touch of light, widely understandable humor or a unique positive flourish. " +
			"Be creative but avoid anything controversial, and ground the message in the conversation.",
	},
}

// TierFor selects the tier for an average karma and the triggering item's own
// score. A negatively scored item demotes the selection one tier.
func TierFor(avgKarma float64, itemScore int) Tier {
	idx := 0
	for i, t := range tiers {
		if avgKarma >= t.MinKarma {
			idx = i
		}
	}
	if itemScore < 0 && idx > 0 {
		idx--
	}
	return tiers[idx]
}

// PromptInput carries everything prompt assembly needs.
type PromptInput struct {
	Subreddit       string
	PostTitle       string
	Conversation    *cakeday.Conversation
	TargetUser      string
	AccountAgeYears int
	Kind            cakeday.ItemKind
	ItemScore       int
	Reputation      Reputation
	ImagePath       string // Local path of the post's main image, "" if none
}

// BuildPrompt renders the shared template plus the selected tier's
// instruction block.
func BuildPrompt(in PromptInput) string {
	var b strings.Builder

	b.WriteString("You are a Reddit bot that celebrates users' cake days. ")
	b.WriteString("Craft a thoughtful, relevant cake day wish grounded in the surrounding conversation. ")
	b.WriteString("Avoid overly quirky or exaggerated humor; aim for a friendly, conversational tone appropriate for the subreddit.\n\n")

	fmt.Fprintf(&b, "Subreddit: r/%s\n", in.Subreddit)
	fmt.Fprintf(&b, "Post title: %s\n", in.PostTitle)

	b.WriteString("Conversation:\n")
	for _, e := range in.Conversation.Entries {
		marker := ""
		if e.IsTargetUser {
			marker = ", cake day user"
		}
		fmt.Fprintf(&b, "- [%s] %s (score %+d, sentiment %s%s): %q\n",
			e.Role, e.Author, e.Score, e.Sentiment, marker, e.Text)
	}

	b.WriteString("\nSentiment analysis:\n")
	fmt.Fprintf(&b, "- Average compound score: %.2f (range -1 to 1)\n", in.Conversation.AverageCompound)
	fmt.Fprintf(&b, "- Most extreme entry: %s (text: %q)\n", in.Conversation.MostExtreme.Sentiment, in.Conversation.MostExtreme.Text)
	fmt.Fprintf(&b, "- Trend: %s\n\n", in.Conversation.Trend)

	years := "years"
	if in.AccountAgeYears == 1 {
		years = "year"
	}
	fmt.Fprintf(&b, "The user celebrating is %q; their account is %d %s old. ", in.TargetUser, in.AccountAgeYears, years)
	b.WriteString("You may mention their account age where it fits naturally, but never connect it to their current activity or the post's topic.\n\n")

	fmt.Fprintf(&b, "Write the wish as a reply to their %s. ", in.Kind)
	b.WriteString("Reference a specific detail from the conversation rather than a generic platitude. ")
	b.WriteString("If the overall sentiment is negative, offer support or levity rather than forced cheer. ")
	b.WriteString("Respond with only the wish text, using Reddit formatting where appropriate.\n\n")

	tier := TierFor(in.Reputation.AvgKarma(), in.ItemScore)
	b.WriteString(tier.Instructions)

	return b.String()
}

// errAdvanceModel signals that the current model is unusable for service
// reasons and the next one in the priority list should be tried.
var errAdvanceModel = errors.New("advance to next model")

// isFatal matches faults retrying cannot help: bad keys, missing permissions,
// exhausted quota, malformed requests.
func isFatal(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"api key", "unauthorized", "401", "permission", "quota", "invalid argument", "400"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// isServiceDegraded matches faults where the model tier itself is the
// problem; the policy moves on to the next model rather than hammering it.
func isServiceDegraded(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "exhausted", "503", "unavailable", "404", "not found", "overloaded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Generator owns the model priority list and the current model index. The
// index only moves forward; it does not reset until process restart.
type Generator struct {
	caller Caller
	models []string
	idx    int
	logger *slog.Logger
}

// NewGenerator creates a generator over a priority-ordered model list.
func NewGenerator(caller Caller, models []string, logger *slog.Logger) *Generator {
	return &Generator{caller: caller, models: models, logger: logger}
}

// Message generates the cake day wish. It never fails: exhausting every
// model, or hitting any non-retryable fault, yields the fixed fallback.
func (g *Generator) Message(ctx context.Context, in PromptInput) string {
	prompt := BuildPrompt(in)

	for g.idx < len(g.models) {
		model := g.models[g.idx]
		text, err := g.tryModel(ctx, model, prompt, in.ImagePath)
		if err == nil {
			if text = strings.TrimSpace(text); text != "" {
				return text
			}
			err = errors.New("empty response")
		}

		if errors.Is(err, errAdvanceModel) {
			g.logger.Warn("Model unavailable, advancing to next", "model", model, "error", err)
			g.idx++
			continue
		}

		g.logger.Warn("Generation failed, using fallback", "model", model, "error", err)
		return Fallback
	}

	g.logger.Warn("All models exhausted, using fallback")
	return Fallback
}

// tryModel calls one model with retries. Fatal faults and service-tier
// faults short-circuit; everything else is retried with backoff.
func (g *Generator) tryModel(ctx context.Context, model, prompt, imagePath string) (string, error) {
	var text string
	err := retry.Do(
		func() error {
			out, err := g.caller.Generate(ctx, model, prompt, imagePath)
			if err != nil {
				if isFatal(err) {
					return retry.Unrecoverable(err)
				}
				if isServiceDegraded(err) {
					return retry.Unrecoverable(fmt.Errorf("%w: %w", errAdvanceModel, err))
				}
				return err
			}
			text = out
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Info("Retrying generation after error", "attempt", n, "model", model, "error", err)
		}),
	)
	return text, err
}
