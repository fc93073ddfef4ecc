// Package config loads service settings from the process environment.
//
// Settings come from an explicit snapshot of the environment (normally
// os.Environ) so that loading is deterministic and has no side effects
// beyond reading the optional env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

const (
	keywordsPrefix = "KEYWORDS_"
	defaultEnvFile = ".env"

	defaultIntervalHours = 8
	// Largest interval whose duration fits in a time.Duration.
	maxIntervalHours = math.MaxInt64 / int64(time.Hour)
	defaultSessionFile   = "session.json"
)

// Messaging backends.
const (
	BackendMTProto = "mtproto" // Authorized user session over MTProto
	BackendWeb     = "web"     // Public t.me/s web preview, no credentials
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Settings holds the service configuration. It is never modified after Load.
type Settings struct {
	Schedule     cron.Schedule       // When the next cycle starts, relative to the end of the previous one
	Keywords     map[string][]string // Lowercase group name -> keywords
	APIHash      string
	WebhookURL   string
	SessionFile  string
	Backend      string
	ScheduleSpec string // Raw CHECK_SCHEDULE, empty for the fixed interval
	BotToken     string
	MetricsAddr  string
	LogFormat    string
	Channels     []string // Ordered, duplicates kept
	APIID        int
	// CheckIntervalHours is both the lookback window and the default pause between cycles.
	CheckIntervalHours int
	BotChatID          int64
	LogLevel           slog.Level
}

// Interval returns the lookback window as a duration.
func (s *Settings) Interval() time.Duration {
	return time.Duration(s.CheckIntervalHours) * time.Hour
}

// KeywordsFor returns the keyword list configured for a channel, or nil.
func (s *Settings) KeywordsFor(channel string) []string {
	return s.Keywords[JoinKey(channel)]
}

// JoinKey maps a channel identifier to its keyword group name.
func JoinKey(channel string) string {
	return strings.ToLower(strings.ReplaceAll(channel, "@", ""))
}

// Error describes an invalid environment variable.
type Error struct {
	Err   error
	Var   string
	Value string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s=%q: %v", e.Var, e.Value, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsConfigError checks if an error was caused by an invalid environment variable.
func IsConfigError(err error) bool {
	var cfgErr *Error
	return errors.As(err, &cfgErr)
}

// LoadEnvFile loads variables from ENV_FILE (default ".env") into the process
// environment. Variables that are already set are left untouched. A missing
// default file is not an error; a missing file named by ENV_FILE is.
func LoadEnvFile() (path string, loaded bool, err error) {
	path = os.Getenv("ENV_FILE")
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}

	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return path, false, nil
		}
		return path, false, fmt.Errorf("load env file %s: %w", path, err)
	}
	return path, true, nil
}

// Load builds Settings from an environment snapshot in "KEY=value" form.
func Load(environ []string) (*Settings, error) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}

	apiID, err := intVar(env, "API_ID", 0)
	if err != nil {
		return nil, err
	}

	interval, err := intVar(env, "CHECK_INTERVAL_HOURS", defaultIntervalHours)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, &Error{Var: "CHECK_INTERVAL_HOURS", Value: env["CHECK_INTERVAL_HOURS"], Err: errors.New("must be a positive number of hours")}
	}
	if int64(interval) > maxIntervalHours {
		return nil, &Error{Var: "CHECK_INTERVAL_HOURS", Value: env["CHECK_INTERVAL_HOURS"], Err: fmt.Errorf("must be at most %d hours", maxIntervalHours)}
	}

	botChatID, err := int64Var(env, "BOT_CHAT_ID", 0)
	if err != nil {
		return nil, err
	}

	s := &Settings{
		APIID:              apiID,
		APIHash:            env["API_HASH"],
		WebhookURL:         strings.TrimSpace(env["MAKE_WEBHOOK_URL"]),
		Channels:           splitList(env["CHANNELS"]),
		Keywords:           keywordGroups(environ),
		CheckIntervalHours: interval,
		SessionFile:        stringVar(env, "SESSION_FILE", defaultSessionFile),
		Backend:            strings.ToLower(stringVar(env, "BACKEND", BackendMTProto)),
		ScheduleSpec:       strings.TrimSpace(env["CHECK_SCHEDULE"]),
		BotToken:           strings.TrimSpace(env["BOT_TOKEN"]),
		BotChatID:          botChatID,
		MetricsAddr:        strings.TrimSpace(env["METRICS_ADDR"]),
		LogFormat:          strings.ToLower(stringVar(env, "LOG_FORMAT", LogFormatJSON)),
	}

	switch s.Backend {
	case BackendMTProto, BackendWeb:
	default:
		return nil, &Error{Var: "BACKEND", Value: s.Backend, Err: errors.New("want mtproto or web")}
	}

	switch s.LogFormat {
	case LogFormatJSON, LogFormatText:
	default:
		return nil, &Error{Var: "LOG_FORMAT", Value: s.LogFormat, Err: errors.New("want json or text")}
	}

	if raw := stringVar(env, "LOG_LEVEL", "info"); raw != "" {
		if err := s.LogLevel.UnmarshalText([]byte(raw)); err != nil {
			return nil, &Error{Var: "LOG_LEVEL", Value: raw, Err: err}
		}
	}

	if s.ScheduleSpec == "" {
		s.Schedule = cron.Every(s.Interval())
	} else {
		sched, err := cron.ParseStandard(s.ScheduleSpec)
		if err != nil {
			return nil, &Error{Var: "CHECK_SCHEDULE", Value: s.ScheduleSpec, Err: err}
		}
		s.Schedule = sched
	}

	return s, nil
}

// keywordGroups collects every KEYWORDS_<GROUP> variable into a lowercase group map.
// Variables are read in environ order, so when two names fold to the same
// group the later one wins.
func keywordGroups(environ []string) map[string][]string {
	groups := make(map[string][]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, keywordsPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, keywordsPrefix))
		if name == "" {
			continue
		}
		groups[name] = splitList(value)
	}
	return groups
}

// splitList splits a comma-separated value, trimming entries and dropping empty ones.
func splitList(raw string) []string {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func stringVar(env map[string]string, name, def string) string {
	if v := strings.TrimSpace(env[name]); v != "" {
		return v
	}
	return def
}

func intVar(env map[string]string, name string, def int) (int, error) {
	raw := strings.TrimSpace(env[name])
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &Error{Var: name, Value: raw, Err: errors.New("not an integer")}
	}
	return n, nil
}

func int64Var(env map[string]string, name string, def int64) (int64, error) {
	raw := strings.TrimSpace(env[name])
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &Error{Var: name, Value: raw, Err: errors.New("not an integer")}
	}
	return n, nil
}
