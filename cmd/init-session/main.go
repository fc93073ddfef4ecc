// Command init-session logs a Telegram user in interactively and writes the
// session file the notifier's MTProto backend reads.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"telegram-keyword-notifier/config"
	"telegram-keyword-notifier/telegram"
)

func main() {
	phone := flag.String("phone", os.Getenv("PHONE"), "phone number in international format")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if path, _, err := config.LoadEnvFile(); err != nil {
		logger.Warn("Failed to load env file", "path", path, "error", err)
	}
	cfg, err := config.Load(os.Environ())
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.APIID == 0 || cfg.APIHash == "" {
		logger.Error("API_ID and API_HASH are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ta := &terminalAuth{in: bufio.NewReader(os.Stdin), out: os.Stdout, phone: *phone}
	if err := login(ctx, cfg, ta); err != nil {
		logger.Error("Login failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Session saved to %s\n", cfg.SessionFile)
}

func login(ctx context.Context, cfg *config.Settings, ta *terminalAuth) error {
	client := telegram.NewClient(cfg.APIID, cfg.APIHash, cfg.SessionFile)
	flow := auth.NewFlow(ta, auth.SendCodeOptions{})

	return client.Run(ctx, func(ctx context.Context) error {
		if err := client.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		self, err := client.Self(ctx)
		if err != nil {
			return fmt.Errorf("get self: %w", err)
		}
		fmt.Fprintf(ta.out, "Logged in as %s (id %d)\n", displayName(self), self.ID)
		return nil
	})
}

func displayName(u *tg.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// terminalAuth answers the login prompts from a line-oriented reader.
type terminalAuth struct {
	in    *bufio.Reader
	out   io.Writer
	phone string
}

func (a *terminalAuth) prompt(label string) (string, error) {
	fmt.Fprint(a.out, label)
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(label, ": "), err)
	}
	return strings.TrimSpace(line), nil
}

func (a *terminalAuth) Phone(context.Context) (string, error) {
	if a.phone != "" {
		return a.phone, nil
	}
	return a.prompt("Phone number: ")
}

func (a *terminalAuth) Password(context.Context) (string, error) {
	return a.prompt("Two-step verification password: ")
}

func (a *terminalAuth) Code(context.Context, *tg.AuthSentCode) (string, error) {
	return a.prompt("Login code: ")
}

func (a *terminalAuth) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	return &auth.SignUpRequired{TermsOfService: tos}
}

func (a *terminalAuth) SignUp(context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("account does not exist; sign up with an official client first")
}
