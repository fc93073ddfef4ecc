// Package poll runs the polling cycle: fetch each channel, filter by keyword, deliver.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"telegram-keyword-notifier/config"
	"telegram-keyword-notifier/delivery"
	"telegram-keyword-notifier/metrics"
	"telegram-keyword-notifier/pkg/notifier"
	"telegram-keyword-notifier/watcher"
)

// Watcher interface for reading recent channel messages.
type Watcher interface {
	FetchRecent(ctx context.Context, channel string, window time.Duration) ([]notifier.Message, error)
}

// Sender interface for delivering matches.
type Sender interface {
	Send(ctx context.Context, matches []notifier.Match) delivery.Report
}

// ChannelResult is the outcome of processing one channel in a cycle.
type ChannelResult struct {
	Err      error
	Channel  string
	Delivery delivery.Report
	Fetched  int
	Matches  int
	Skipped  bool // No keywords configured for the channel
}

// CycleReport is the outcome of one polling cycle.
type CycleReport struct {
	Started   time.Time
	ID        string
	Channels  []ChannelResult
	Duration  time.Duration
	Cancelled bool // Stopped before every channel was processed
}

// Failed returns the number of channels whose fetch failed.
func (r CycleReport) Failed() int {
	var n int
	for _, c := range r.Channels {
		if c.Err != nil {
			n++
		}
	}
	return n
}

// Matches returns the number of matches found across channels.
func (r CycleReport) Matches() int {
	var n int
	for _, c := range r.Channels {
		n += c.Matches
	}
	return n
}

// Monitor handles the polling loop.
type Monitor struct {
	watcher Watcher
	sender  Sender
	cfg     *config.Settings
	logger  *slog.Logger
	onCycle func(report CycleReport, next time.Time)
	now     func() time.Time
	mu      sync.Mutex // One cycle at a time
}

// New creates a new poll monitor.
func New(w Watcher, s Sender, cfg *config.Settings, logger *slog.Logger) *Monitor {
	return &Monitor{
		watcher: w,
		sender:  s,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// OnCycle registers fn to run after every completed cycle with the time the
// next one is due.
func (m *Monitor) OnCycle(fn func(report CycleReport, next time.Time)) {
	m.onCycle = fn
}

// Run polls until ctx is cancelled. Cancellation abandons the in-flight cycle
// and returns nil.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Starting channel watcher",
		"channels", len(m.cfg.Channels),
		"interval_hours", m.cfg.CheckIntervalHours,
		"schedule", m.scheduleName())

	for {
		report := m.CheckAll(ctx)
		if ctx.Err() != nil {
			m.logger.Info("Watcher stopped", "cycle_id", report.ID)
			return nil
		}

		next := m.cfg.Schedule.Next(m.now())
		if m.onCycle != nil {
			m.onCycle(report, next)
		}

		wait := time.Until(next)
		m.logger.Info("Sleeping until next cycle",
			"next_cycle", next.Format(time.RFC3339),
			"sleep", wait.Round(time.Second).String())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info("Watcher stopped")
			return nil
		case <-timer.C:
		}
	}
}

// CheckAll runs one polling cycle over every configured channel, in order.
// A failing channel is logged and recorded; the remaining channels still run.
func (m *Monitor) CheckAll(ctx context.Context) CycleReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := CycleReport{
		ID:      uuid.NewString(),
		Started: m.now(),
	}
	logger := m.logger.With("cycle_id", report.ID)
	logger.Info("Starting new polling cycle", "channels", len(m.cfg.Channels))

	for _, channel := range m.cfg.Channels {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, stopping poll cycle", "error", ctx.Err())
			report.Cancelled = true
			report.Duration = time.Since(report.Started)
			return report
		default:
		}

		res := m.checkChannel(ctx, logger, channel)
		switch {
		case res.Err != nil && ctx.Err() != nil:
			logger.Info("Channel fetch interrupted", "channel", channel, "error", res.Err)
		case res.Err != nil:
			logger.Error("Error while processing channel", "channel", channel, "error", res.Err)
		}
		report.Channels = append(report.Channels, res)
	}

	report.Duration = time.Since(report.Started)
	metrics.CyclesTotal.Inc()
	metrics.LastCycleTimestamp.SetToCurrentTime()

	logger.Info("Polling cycle completed",
		"channels", len(report.Channels),
		"failed", report.Failed(),
		"matches", report.Matches(),
		"duration_ms", report.Duration.Milliseconds())

	return report
}

func (m *Monitor) checkChannel(ctx context.Context, logger *slog.Logger, channel string) ChannelResult {
	res := ChannelResult{Channel: channel}

	startTime := time.Now()
	messages, err := m.watcher.FetchRecent(ctx, channel, m.cfg.Interval())
	metrics.FetchDuration.Observe(time.Since(startTime).Seconds())
	if err != nil {
		reason := "backend"
		if watcher.IsUnauthorized(err) {
			reason = "unauthorized"
		}
		metrics.FetchErrors.WithLabelValues(channel, reason).Inc()
		res.Err = fmt.Errorf("fetch %s: %w", channel, err)
		return res
	}
	res.Fetched = len(messages)
	metrics.MessagesFetched.WithLabelValues(channel).Add(float64(len(messages)))

	keywords := m.cfg.KeywordsFor(channel)
	if len(keywords) == 0 {
		logger.Info("No keywords configured", "channel", channel, "group", config.JoinKey(channel))
		res.Skipped = true
		return res
	}

	logger.Info("Searching for keywords", "channel", channel, "keywords", keywords)

	matches := watcher.Filter(messages, keywords)
	for i := range matches {
		matches[i].Channel = channel
	}
	res.Matches = len(matches)
	metrics.MatchesFound.WithLabelValues(channel).Add(float64(len(matches)))

	logger.Info("Found messages with keywords", "channel", channel, "count", len(matches))

	res.Delivery = m.sender.Send(ctx, matches)
	return res
}

func (m *Monitor) scheduleName() string {
	if m.cfg.ScheduleSpec != "" {
		return m.cfg.ScheduleSpec
	}
	return fmt.Sprintf("every %dh", m.cfg.CheckIntervalHours)
}
