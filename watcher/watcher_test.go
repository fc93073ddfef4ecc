package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"telegram-keyword-notifier/pkg/notifier"
)

// fakeBackend serves an in-memory channel history, newest message first.
type fakeBackend struct {
	historyErr error
	messages   []notifier.Message
	offsets    []int
	opened     int
	closed     int
	authorized bool
}

func (b *fakeBackend) Run(ctx context.Context, fn func(ctx context.Context, c Client) error) error {
	b.opened++
	defer func() { b.closed++ }()
	return fn(ctx, b)
}

func (b *fakeBackend) Authorized(context.Context) (bool, error) {
	return b.authorized, nil
}

func (b *fakeBackend) History(_ context.Context, _ string, limit, offsetID int) ([]notifier.Message, error) {
	b.offsets = append(b.offsets, offsetID)
	if b.historyErr != nil {
		return nil, b.historyErr
	}

	start := 0
	if offsetID != 0 {
		start = len(b.messages)
		for i, msg := range b.messages {
			if msg.ID < offsetID {
				start = i
				break
			}
		}
	}
	end := min(start+limit, len(b.messages))
	return append([]notifier.Message(nil), b.messages[start:end]...), nil
}

var testNow = time.Date(2025, 10, 19, 12, 0, 0, 0, time.UTC)

// history builds n messages one minute apart; ID n is the newest, posted at testNow.
func history(n int) []notifier.Message {
	msgs := make([]notifier.Message, 0, n)
	for id := n; id >= 1; id-- {
		msgs = append(msgs, notifier.Message{
			ID:   id,
			Text: "message",
			Date: testNow.Add(-time.Duration(n-id) * time.Minute),
			Chat: notifier.Chat{Username: "news"},
		})
	}
	return msgs
}

func newTestWatcher(b Backend) *Watcher {
	w := New(b, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.now = func() time.Time { return testNow }
	return w
}

func TestFetchRecentWindowBoundary(t *testing.T) {
	backend := &fakeBackend{authorized: true, messages: history(250)}
	w := newTestWatcher(backend)

	got, err := w.FetchRecent(context.Background(), "@news", 3*time.Hour)
	if err != nil {
		t.Fatalf("FetchRecent() error = %v", err)
	}

	threshold := testNow.Add(-3 * time.Hour)
	for _, msg := range got {
		if msg.Date.Before(threshold) {
			t.Errorf("message %d at %v is older than threshold %v", msg.ID, msg.Date, threshold)
		}
	}

	// Messages 70..250 fall inside the window; 70 sits exactly on the threshold.
	var want int
	for _, msg := range backend.messages {
		if !msg.Date.Before(threshold) {
			want++
		}
	}
	if len(got) != want || want != 181 {
		t.Fatalf("FetchRecent() returned %d messages, want %d (181)", len(got), want)
	}
	if got[0].ID != 250 || got[len(got)-1].ID != 70 {
		t.Errorf("FetchRecent() range = %d..%d, want 250..70", got[0].ID, got[len(got)-1].ID)
	}

	// The second page crosses the threshold, so paging stops there.
	if wantOffsets := []int{0, 151}; !reflect.DeepEqual(backend.offsets, wantOffsets) {
		t.Errorf("history offsets = %v, want %v", backend.offsets, wantOffsets)
	}
	if backend.opened != 1 || backend.closed != 1 {
		t.Errorf("connection opened %d, closed %d; want 1, 1", backend.opened, backend.closed)
	}
}

func TestFetchRecentPagesUntilEmpty(t *testing.T) {
	backend := &fakeBackend{authorized: true, messages: history(150)}
	w := newTestWatcher(backend)

	got, err := w.FetchRecent(context.Background(), "@news", 24*time.Hour)
	if err != nil {
		t.Fatalf("FetchRecent() error = %v", err)
	}
	if len(got) != 150 {
		t.Errorf("FetchRecent() returned %d messages, want 150", len(got))
	}
	if wantOffsets := []int{0, 51, 1}; !reflect.DeepEqual(backend.offsets, wantOffsets) {
		t.Errorf("history offsets = %v, want %v", backend.offsets, wantOffsets)
	}
}

func TestFetchRecentEmptyChannel(t *testing.T) {
	backend := &fakeBackend{authorized: true}
	w := newTestWatcher(backend)

	got, err := w.FetchRecent(context.Background(), "@quiet", 8*time.Hour)
	if err != nil {
		t.Fatalf("FetchRecent() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("FetchRecent() returned %d messages, want 0", len(got))
	}
	if len(backend.offsets) != 1 {
		t.Errorf("history called %d times, want 1", len(backend.offsets))
	}
}

func TestFetchRecentUnauthorized(t *testing.T) {
	backend := &fakeBackend{authorized: false, messages: history(10)}
	w := newTestWatcher(backend)

	_, err := w.FetchRecent(context.Background(), "@news", time.Hour)
	if !IsUnauthorized(err) {
		t.Fatalf("FetchRecent() error = %v, want UnauthorizedError", err)
	}
	if len(backend.offsets) != 0 {
		t.Errorf("history called %d times before authorization", len(backend.offsets))
	}
	if backend.closed != backend.opened {
		t.Errorf("connection opened %d, closed %d", backend.opened, backend.closed)
	}
}

func TestFetchRecentHistoryError(t *testing.T) {
	boom := errors.New("connection reset")
	backend := &fakeBackend{authorized: true, historyErr: boom}
	w := newTestWatcher(backend)

	_, err := w.FetchRecent(context.Background(), "@news", time.Hour)
	if !errors.Is(err, boom) {
		t.Fatalf("FetchRecent() error = %v, want %v", err, boom)
	}
	if backend.closed != 1 {
		t.Errorf("connection closed %d times, want 1", backend.closed)
	}
}

// stuckBackend returns the same page no matter the offset.
type stuckBackend struct {
	fakeBackend
}

func (b *stuckBackend) Run(ctx context.Context, fn func(ctx context.Context, c Client) error) error {
	return fn(ctx, b)
}

func (b *stuckBackend) History(context.Context, string, int, int) ([]notifier.Message, error) {
	b.offsets = append(b.offsets, 0)
	return []notifier.Message{{ID: 5, Date: testNow}, {ID: 4, Date: testNow}}, nil
}

func TestFetchRecentStopsWhenOffsetDoesNotMove(t *testing.T) {
	backend := &stuckBackend{fakeBackend{authorized: true}}
	w := newTestWatcher(backend)

	got, err := w.FetchRecent(context.Background(), "@news", time.Hour)
	if err != nil {
		t.Fatalf("FetchRecent() error = %v", err)
	}
	if len(backend.offsets) != 2 {
		t.Errorf("history called %d times, want 2", len(backend.offsets))
	}
	if len(got) != 4 {
		t.Errorf("FetchRecent() returned %d messages, want 4", len(got))
	}
}

func TestFilter(t *testing.T) {
	date := time.Date(2025, 10, 19, 9, 30, 0, 0, time.UTC)
	messages := []notifier.Message{
		{ID: 1, Text: "Big SALE today", Date: date, Chat: notifier.Chat{Username: "deals"}},
		{ID: 2, Text: "nothing to see", Date: date, Chat: notifier.Chat{Username: "deals"}},
		{ID: 3, Text: "", Date: date, Chat: notifier.Chat{Username: "deals"}},
		{ID: 4, Text: "wholesale prices", Date: date},
		{ID: 5, Text: "New Update available", Date: date, Chat: notifier.Chat{Username: "deals"}},
	}

	tests := []struct {
		name     string
		keywords []string
		wantIDs  []int
	}{
		{name: "case-insensitive substring", keywords: []string{"sale"}, wantIDs: []int{1, 4}},
		{name: "uppercase keyword", keywords: []string{"UPDATE"}, wantIDs: []int{5}},
		{name: "any keyword matches once", keywords: []string{"big", "today", "update"}, wantIDs: []int{1, 5}},
		{name: "no match", keywords: []string{"bicycle"}, wantIDs: nil},
		{name: "no keywords", keywords: nil, wantIDs: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotIDs []int
			for _, m := range Filter(messages, tt.keywords) {
				gotIDs = append(gotIDs, m.ID)
			}
			if !reflect.DeepEqual(gotIDs, tt.wantIDs) {
				t.Errorf("Filter() ids = %v, want %v", gotIDs, tt.wantIDs)
			}
		})
	}
}

func TestFilterRecord(t *testing.T) {
	date := time.Date(2025, 10, 19, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	got := Filter([]notifier.Message{
		{ID: 42, Text: "Flash Sale", Date: date, Chat: notifier.Chat{Username: "deals"}},
		{ID: 43, Text: "private sale", Date: date},
	}, []string{"sale"})

	want := []notifier.Match{
		{ID: 42, Text: "Flash Sale", Link: "https://t.me/deals/42", Date: "2025-10-19T08:30:00Z"},
		{ID: 43, Text: "private sale", Link: "", Date: "2025-10-19T08:30:00Z"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Filter() = %+v, want %+v", got, want)
	}
}

func TestFilterIsPure(t *testing.T) {
	messages := history(20)
	messages[3].Text = "Keyword here"
	messages[7].Text = ""
	keywords := []string{"KEYWORD"}

	msgCopy := append([]notifier.Message(nil), messages...)
	kwCopy := append([]string(nil), keywords...)

	first := Filter(messages, keywords)
	second := Filter(messages, keywords)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Filter() not deterministic: %v vs %v", first, second)
	}
	if !reflect.DeepEqual(messages, msgCopy) {
		t.Error("Filter() mutated its messages")
	}
	if !reflect.DeepEqual(keywords, kwCopy) {
		t.Error("Filter() mutated its keywords")
	}
	if len(first) != 1 || first[0].ID != messages[3].ID {
		t.Errorf("Filter() = %+v, want only message %d", first, messages[3].ID)
	}
}
