package delivery

import (
	"context"
	"log/slog"

	"telegram-keyword-notifier/pkg/notifier"
)

// MockProvider logs payloads instead of sending them. Used for local
// development when no webhook URL is configured.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Name implements Provider.
func (m *MockProvider) Name() string {
	return "mock"
}

// Deliver logs the payload.
func (m *MockProvider) Deliver(_ context.Context, p notifier.Payload) error {
	m.logger.Info("MOCK DELIVERY",
		"channel", p.Channel,
		"message_id", p.ID,
		"link", p.Link,
		"text_length", len(p.Text))
	return nil
}
