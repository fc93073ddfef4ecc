// Package scraper reads public channel history from the t.me/s web preview.
//
// The preview needs no account or session, so it only works for public
// channels and only sees what the preview shows (roughly 20 posts per page).
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"telegram-keyword-notifier/pkg/notifier"
	"telegram-keyword-notifier/watcher"
)

// DefaultBaseURL is the public web preview host.
const DefaultBaseURL = "https://t.me"

// HTTPStatusError indicates a non-200 response from the preview.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// Scraper fetches and parses channel preview pages.
type Scraper struct {
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// New creates a new scraper against baseURL (DefaultBaseURL in production).
func New(client *http.Client, baseURL string, logger *slog.Logger) *Scraper {
	return &Scraper{
		client:  client,
		logger:  logger,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Run implements watcher.Backend. The preview is stateless, so there is no
// connection to open or close around fn.
func (s *Scraper) Run(ctx context.Context, fn func(ctx context.Context, c watcher.Client) error) error {
	return fn(ctx, s)
}

// Authorized implements watcher.Client. Public previews need no login.
func (s *Scraper) Authorized(context.Context) (bool, error) {
	return true, nil
}

// History implements watcher.Client, returning messages newest first.
func (s *Scraper) History(ctx context.Context, channel string, limit, offsetID int) ([]notifier.Message, error) {
	pageURL := s.pageURL(channel, offsetID)

	s.logger.Debug("HTTP request starting",
		"method", "GET",
		"url", pageURL,
		"purpose", "fetch_channel_preview")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	startTime := time.Now()
	resp, err := s.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	s.logger.Debug("HTTP request completed",
		"url", pageURL,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	msgs, err := parsePage(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	if offsetID != 0 {
		msgs = slices.DeleteFunc(msgs, func(m notifier.Message) bool { return m.ID >= offsetID })
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *Scraper) pageURL(channel string, offsetID int) string {
	u := fmt.Sprintf("%s/s/%s", s.baseURL, url.PathEscape(strings.TrimPrefix(channel, "@")))
	if offsetID != 0 {
		u += "?before=" + strconv.Itoa(offsetID)
	}
	return u
}

// parsePage extracts the posts of a preview page. The page lists posts oldest
// first; the result is reversed to newest first.
func parsePage(body io.Reader) ([]notifier.Message, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, err
	}

	var msgs []notifier.Message
	var parseErr error
	doc.Find("div.tgme_widget_message[data-post]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		post, _ := sel.Attr("data-post")
		username, rawID, ok := strings.Cut(post, "/")
		if !ok {
			return true
		}
		id, err := strconv.Atoi(rawID)
		if err != nil {
			return true
		}

		stamp, exists := sel.Find("a.tgme_widget_message_date time[datetime]").First().Attr("datetime")
		if !exists {
			stamp, exists = sel.Find("time[datetime]").First().Attr("datetime")
		}
		if !exists {
			parseErr = fmt.Errorf("post %s has no timestamp", post)
			return false
		}
		date, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			parseErr = fmt.Errorf("post %s: %w", post, err)
			return false
		}

		textSel := sel.Find("div.tgme_widget_message_text").First()
		textSel.Find("br").ReplaceWithHtml("\n")

		msgs = append(msgs, notifier.Message{
			ID:   id,
			Text: strings.TrimSpace(textSel.Text()),
			Date: date.UTC(),
			Chat: notifier.Chat{Username: username},
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	if len(msgs) == 0 && doc.Find("div.tgme_channel_info").Length() == 0 {
		return nil, errors.New("not a channel preview page")
	}

	slices.Reverse(msgs)
	return msgs, nil
}
