// Package delivery forwards keyword matches to the configured sinks.
package delivery

import (
	"context"
	"log/slog"
	"time"

	"telegram-keyword-notifier/metrics"
	"telegram-keyword-notifier/pkg/notifier"
)

// Provider delivers a single payload to one sink.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	// Deliver makes exactly one attempt to hand the payload to the sink.
	Deliver(ctx context.Context, p notifier.Payload) error
}

// Report summarizes one Send call.
type Report struct {
	Attempted int
	Delivered int
	Failed    int
}

// Sender sends matches to every configured provider.
type Sender struct {
	logger    *slog.Logger
	providers []Provider
}

// New creates a new sender over the given providers.
func New(logger *slog.Logger, providers ...Provider) *Sender {
	return &Sender{
		providers: providers,
		logger:    logger,
	}
}

// Send delivers each match to each provider once. A failed delivery is logged
// and counted; it never stops the rest of the batch.
func (s *Sender) Send(ctx context.Context, matches []notifier.Match) Report {
	var report Report
	if len(matches) == 0 {
		s.logger.Info("No messages to send")
		return report
	}

	for _, m := range matches {
		payload := m.Payload()
		for _, p := range s.providers {
			report.Attempted++

			startTime := time.Now()
			err := p.Deliver(ctx, payload)
			duration := time.Since(startTime)

			if err != nil {
				report.Failed++
				metrics.Deliveries.WithLabelValues(p.Name(), "failure").Inc()
				s.logger.Error("Failed to send message",
					"provider", p.Name(),
					"channel", m.Channel,
					"message_id", m.ID,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				continue
			}

			report.Delivered++
			metrics.Deliveries.WithLabelValues(p.Name(), "success").Inc()
			s.logger.Info("Sent message",
				"provider", p.Name(),
				"channel", m.Channel,
				"message_id", m.ID,
				"duration_ms", duration.Milliseconds())
		}
	}

	return report
}
