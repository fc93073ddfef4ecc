// Package watcher fetches recent channel messages and filters them by keyword.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"telegram-keyword-notifier/pkg/notifier"
)

// PageSize is the number of messages requested per history page.
const PageSize = 100

// Client is a connected view of a messaging backend.
type Client interface {
	// Authorized reports whether the session may read channel history.
	Authorized(ctx context.Context) (bool, error)
	// History returns up to limit messages older than offsetID (0 = latest), newest first.
	History(ctx context.Context, channel string, limit, offsetID int) ([]notifier.Message, error)
}

// Backend opens a connection that lives for the duration of fn.
type Backend interface {
	Run(ctx context.Context, fn func(ctx context.Context, c Client) error) error
}

// UnauthorizedError indicates the backend session has not completed login.
type UnauthorizedError struct {
	Channel string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("session not authorized while reading %s: run init-session to log in first", e.Channel)
}

// IsUnauthorized checks if an error is an UnauthorizedError.
func IsUnauthorized(err error) bool {
	var unauthorized *UnauthorizedError
	return errors.As(err, &unauthorized)
}

// Watcher reads recent messages from channels.
type Watcher struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a new watcher over the given backend.
func New(backend Backend, logger *slog.Logger) *Watcher {
	return &Watcher{
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}
}

// FetchRecent returns every message posted to channel within window of now.
// Messages keep the order the backend yielded them in.
func (w *Watcher) FetchRecent(ctx context.Context, channel string, window time.Duration) ([]notifier.Message, error) {
	threshold := w.now().UTC().Add(-window)
	var messages []notifier.Message
	var pages int

	err := w.backend.Run(ctx, func(ctx context.Context, c Client) error {
		ok, err := c.Authorized(ctx)
		if err != nil {
			return fmt.Errorf("check authorization: %w", err)
		}
		if !ok {
			return &UnauthorizedError{Channel: channel}
		}

		offsetID := 0
		for {
			batch, err := c.History(ctx, channel, PageSize, offsetID)
			if err != nil {
				return fmt.Errorf("get history (offset %d): %w", offsetID, err)
			}
			pages++
			if len(batch) == 0 {
				return nil
			}

			crossed := false
			for _, msg := range batch {
				if msg.Date.Before(threshold) {
					crossed = true
					continue
				}
				messages = append(messages, msg)
			}
			if crossed {
				return nil
			}

			next := batch[len(batch)-1].ID
			if offsetID != 0 && next >= offsetID {
				w.logger.Warn("Backend did not page backward, stopping fetch",
					"channel", channel,
					"offset_id", offsetID,
					"next_offset_id", next)
				return nil
			}
			offsetID = next
		}
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("Fetched recent messages",
		"channel", channel,
		"count", len(messages),
		"pages", pages,
		"window", window.String())

	return messages, nil
}

// Filter returns a match for every message whose text contains any keyword,
// compared case-insensitively. Messages without text never match.
func Filter(messages []notifier.Message, keywords []string) []notifier.Match {
	folded := make([]string, len(keywords))
	for i, kw := range keywords {
		folded[i] = strings.ToLower(kw)
	}

	var matches []notifier.Match
	for _, msg := range messages {
		if msg.Text == "" {
			continue
		}
		text := strings.ToLower(msg.Text)
		for _, kw := range folded {
			if strings.Contains(text, kw) {
				matches = append(matches, notifier.Match{
					ID:   msg.ID,
					Text: msg.Text,
					Link: Permalink(msg.Chat.Username, msg.ID),
					Date: msg.Date.UTC().Format(time.RFC3339),
				})
				break
			}
		}
	}
	return matches
}

// Permalink builds the public t.me link of a message, or "" without a username.
func Permalink(username string, id int) string {
	if username == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s/%d", username, id)
}
