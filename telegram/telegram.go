// Package telegram reads channel history over MTProto with an authorized user session.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/tg"

	"telegram-keyword-notifier/pkg/notifier"
	"telegram-keyword-notifier/watcher"
)

// Backend opens a fresh MTProto connection for every Run, using the session
// file written by the init-session command.
type Backend struct {
	logger      *slog.Logger
	appHash     string
	sessionFile string
	appID       int
}

// New creates a new MTProto backend.
func New(appID int, appHash, sessionFile string, logger *slog.Logger) (*Backend, error) {
	if appID == 0 || appHash == "" {
		return nil, errors.New("API_ID and API_HASH are required for the mtproto backend")
	}
	return &Backend{
		appID:       appID,
		appHash:     appHash,
		sessionFile: sessionFile,
		logger:      logger,
	}, nil
}

// NewClient builds a gotd client bound to the session file.
func NewClient(appID int, appHash, sessionFile string) *telegram.Client {
	return telegram.NewClient(appID, appHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: sessionFile},
	})
}

// Run implements watcher.Backend. The connection is closed when fn returns.
func (b *Backend) Run(ctx context.Context, fn func(ctx context.Context, c watcher.Client) error) error {
	client := NewClient(b.appID, b.appHash, b.sessionFile)

	startTime := time.Now()
	b.logger.Debug("MTProto connection starting", "session_file", b.sessionFile)

	err := client.Run(ctx, func(ctx context.Context) error {
		api := client.API()
		return fn(ctx, &conn{
			client:   client,
			api:      api,
			peers:    peers.Options{}.Build(api),
			resolved: make(map[string]peers.Peer),
		})
	})

	b.logger.Debug("MTProto connection closed",
		"duration_ms", time.Since(startTime).Milliseconds(),
		"error", err)

	return err
}

// conn is a watcher.Client over one live connection.
type conn struct {
	client   *telegram.Client
	api      *tg.Client
	peers    *peers.Manager
	resolved map[string]peers.Peer
}

func (c *conn) Authorized(ctx context.Context) (bool, error) {
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return false, fmt.Errorf("auth status: %w", err)
	}
	return status.Authorized, nil
}

func (c *conn) History(ctx context.Context, channel string, limit, offsetID int) ([]notifier.Message, error) {
	peer, err := c.resolve(ctx, channel)
	if err != nil {
		return nil, err
	}

	res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:     peer.InputPeer(),
		OffsetID: offsetID,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("messages.getHistory: %w", err)
	}

	username, _ := peer.Username()
	return convertHistory(res, username), nil
}

// resolve looks a channel up once per connection.
func (c *conn) resolve(ctx context.Context, channel string) (peers.Peer, error) {
	if p, ok := c.resolved[channel]; ok {
		return p, nil
	}
	p, err := c.peers.Resolve(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", channel, err)
	}
	c.resolved[channel] = p
	return p, nil
}

// convertHistory maps a history response to domain messages, keeping the
// newest-first order Telegram returns.
func convertHistory(res tg.MessagesMessagesClass, username string) []notifier.Message {
	var raw []tg.MessageClass
	switch r := res.(type) {
	case *tg.MessagesMessages:
		raw = r.Messages
	case *tg.MessagesMessagesSlice:
		raw = r.Messages
	case *tg.MessagesChannelMessages:
		raw = r.Messages
	default:
		return nil
	}

	msgs := make([]notifier.Message, 0, len(raw))
	for _, m := range raw {
		switch m := m.(type) {
		case *tg.Message:
			msgs = append(msgs, notifier.Message{
				ID:   m.ID,
				Text: m.Message,
				Date: time.Unix(int64(m.Date), 0).UTC(),
				Chat: notifier.Chat{Username: username},
			})
		case *tg.MessageService:
			msgs = append(msgs, notifier.Message{
				ID:   m.ID,
				Date: time.Unix(int64(m.Date), 0).UTC(),
				Chat: notifier.Chat{Username: username},
			})
		}
	}
	return msgs
}
