package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"telegram-keyword-notifier/config"
	"telegram-keyword-notifier/delivery"
	"telegram-keyword-notifier/scraper"
	"telegram-keyword-notifier/telegram"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadSettings(t *testing.T, environ ...string) *config.Settings {
	t.Helper()
	cfg, err := config.Load(environ)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		environ []string
		check   func(t *testing.T, out string)
	}{
		{
			name: "json by default",
			check: func(t *testing.T, out string) {
				var rec map[string]any
				if err := json.Unmarshal([]byte(out), &rec); err != nil {
					t.Fatalf("output is not JSON: %q", out)
				}
				if rec["msg"] != "hello" {
					t.Errorf("msg = %v, want hello", rec["msg"])
				}
			},
		},
		{
			name:    "text format",
			environ: []string{"LOG_FORMAT=text"},
			check: func(t *testing.T, out string) {
				if !strings.Contains(out, "msg=hello") {
					t.Errorf("output = %q, want text record", out)
				}
			},
		},
		{
			name:    "level filters info",
			environ: []string{"LOG_LEVEL=warn"},
			check: func(t *testing.T, out string) {
				if out != "" {
					t.Errorf("output = %q, want nothing below warn", out)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			newLogger(&buf, loadSettings(t, tt.environ...)).Info("hello")
			tt.check(t, strings.TrimSpace(buf.String()))
		})
	}
}

func TestNewBackend(t *testing.T) {
	web, err := newBackend(loadSettings(t, "BACKEND=web"), testLogger())
	if err != nil {
		t.Fatalf("newBackend(web) error = %v", err)
	}
	if _, ok := web.(*scraper.Scraper); !ok {
		t.Errorf("newBackend(web) = %T, want *scraper.Scraper", web)
	}

	mt, err := newBackend(loadSettings(t, "API_ID=12345", "API_HASH=abcdef"), testLogger())
	if err != nil {
		t.Fatalf("newBackend(mtproto) error = %v", err)
	}
	if _, ok := mt.(*telegram.Backend); !ok {
		t.Errorf("newBackend(mtproto) = %T, want *telegram.Backend", mt)
	}

	if _, err := newBackend(loadSettings(t), testLogger()); err == nil {
		t.Error("newBackend(mtproto) without credentials: error = nil")
	}
}

func TestNewProviders(t *testing.T) {
	tests := []struct {
		name    string
		environ []string
		want    []string
		wantErr bool
	}{
		{
			name: "mock without webhook",
			want: []string{"mock"},
		},
		{
			name:    "webhook",
			environ: []string{"MAKE_WEBHOOK_URL=https://hook.example.com/abc"},
			want:    []string{"webhook"},
		},
		{
			name:    "webhook and bot",
			environ: []string{"MAKE_WEBHOOK_URL=https://hook.example.com/abc", "BOT_TOKEN=123:abc", "BOT_CHAT_ID=-100500"},
			want:    []string{"webhook", "telegram"},
		},
		{
			name:    "bot without chat",
			environ: []string{"BOT_TOKEN=123:abc"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			providers, err := newProviders(loadSettings(t, tt.environ...), testLogger())
			if tt.wantErr {
				if err == nil {
					t.Fatal("newProviders() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newProviders() error = %v", err)
			}
			if got := providerNames(providers); strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("providers = %v, want %v", got, tt.want)
			}
		})
	}
}

func providerNames(providers []delivery.Provider) []string {
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	return names
}
