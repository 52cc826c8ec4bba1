package scan

import (
	"context"

	"cakeday-bot/pkg/cakeday"
)

const minAccountAgeDays = 365

// isCakeDay reports whether today, in the reference timezone, is the
// anniversary of the user's account creation and the user has not been
// wished yet today. A positive result writes the wish record immediately,
// before any message is generated or posted, so a later failure still
// counts as this day's one attempt.
//
// Every fault on the way fails closed to "not a cake day".
func (s *Scanner) isCakeDay(ctx context.Context, username string) (*cakeday.User, bool) {
	today := s.now().In(s.cfg.Location)
	day := today.Format("2006-01-02")

	wished, err := s.store.HasBeenWished(ctx, username, day)
	if err != nil {
		s.logger.Warn("Wish record lookup failed", "username", username, "error", err)
		return nil, false
	}
	if wished {
		s.logger.Debug("Already wished today, skipping", "username", username)
		return nil, false
	}

	user, err := s.platform.User(ctx, username)
	if err != nil {
		s.logger.Debug("Could not fetch user metadata", "username", username, "error", err)
		return nil, false
	}

	elapsedDays := int(today.Sub(user.CreatedAt).Hours() / 24)
	if elapsedDays < minAccountAgeDays {
		return nil, false
	}

	created := user.CreatedAt.In(s.cfg.Location)
	if created.Month() != today.Month() || created.Day() != today.Day() {
		return nil, false
	}

	if err := s.store.MarkWished(ctx, username, day); err != nil {
		s.logger.Warn("Failed to write wish record", "username", username, "error", err)
	}
	return user, true
}
