// ABOUTME: Entry point for mentorsync-probe, a diagnostic client for the sync layer
// ABOUTME: Connects as a real user to watch presence, tail conversations, and send messages

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/peerly/mentorsync/internal/config"
	"github.com/peerly/mentorsync/internal/presence"
	"github.com/peerly/mentorsync/internal/realtime"
	"github.com/peerly/mentorsync/internal/timeline"
	"github.com/peerly/mentorsync/internal/transport"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                      _
 _ __ ___   ___ _ __ | |_ ___  _ __ ___ _   _ _ __   ___
| '_ ' _ \ / _ \ '_ \| __/ _ \| '__/ __| | | | '_ \ / __|
| | | | | |  __/ | | | || (_) | |  \__ \ |_| | | | | (__
|_| |_| |_|\___|_| |_|\__\___/|_|  |___/\__, |_| |_|\___|
                                        |___/
`

// getConfigPath returns the path to the probe config file.
// Priority: MENTORSYNC_CONFIG env var > XDG_CONFIG_HOME/mentorsync/probe.yaml > ~/.config/mentorsync/probe.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MENTORSYNC_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "probe.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "mentorsync", "probe.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: mentorsync-probe <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  whoami                 Show the identity behind MENTORSYNC_TOKEN")
		fmt.Println("  watch                  Watch presence and incoming messages")
		fmt.Println("  tail <user>            Open a conversation and stream its timeline")
		fmt.Println("  send <user> <body>     Send one message and report delivery")
		fmt.Println("  forget <user>          Drop a conversation's local cache")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "whoami":
		err = runWhoami()
	case "watch":
		err = runWatch(ctx)
	case "tail":
		err = runTail(ctx)
	case "send":
		err = runSend(ctx)
	case "forget":
		err = runForget(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// token reads the access token the probe authenticates with.
func token() (string, error) {
	tok := os.Getenv("MENTORSYNC_TOKEN")
	if tok == "" {
		return "", fmt.Errorf("MENTORSYNC_TOKEN is not set")
	}
	return tok, nil
}

// connect builds a connected service from the config file and token.
func connect(printBanner bool) (*realtime.Service, *config.Config, error) {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	tok, err := token()
	if err != nil {
		return nil, nil, err
	}

	logger := setupLogger(cfg.Logging)

	if printBanner {
		cyan := color.New(color.FgCyan)
		cyan.Print(banner)
		gray := color.New(color.FgHiBlack)
		gray.Printf("    version: %s\n\n", version)

		green := color.New(color.FgGreen)
		green.Print("    ▶ ")
		fmt.Printf("Config:   %s\n", configPath)
		green.Print("    ▶ ")
		fmt.Printf("Realtime: %s\n", cfg.Realtime.URL)
		green.Print("    ▶ ")
		fmt.Printf("API:      %s\n", cfg.API.BaseURL)
		fmt.Println()
	}

	svc, err := realtime.New(cfg, tok, logger)
	if err != nil {
		return nil, nil, err
	}

	svc.OnConnectionState(func(s transport.State) {
		switch s {
		case transport.StateConnected:
			logger.Info("connected")
		case transport.StateReconnecting:
			logger.Warn("connection dropped, reconnecting")
		case transport.StateClosed:
			logger.Error("connection closed")
		}
	})

	if err := svc.Connect(); err != nil {
		svc.Close()
		return nil, nil, err
	}
	return svc, cfg, nil
}

func runWhoami() error {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tok, err := token()
	if err != nil {
		return err
	}

	svc, err := realtime.New(cfg, tok, setupLogger(cfg.Logging))
	if err != nil {
		return err
	}
	defer svc.Close()

	fmt.Printf("user id: %s\n", svc.UserID())
	return nil
}

func runWatch(ctx context.Context) error {
	svc, _, err := connect(true)
	if err != nil {
		return err
	}
	defer svc.Close()

	svc.SetMessageListener(func(counterpartyID string, msg timeline.Message) {
		color.New(color.FgYellow).Printf("%s ", msg.CreatedAt.Local().Format("15:04:05"))
		color.New(color.FgCyan).Printf("%s", counterpartyID)
		fmt.Printf(": %s\n", msg.Body)
	})

	// Presence snapshots replace the roster wholesale, so diffing against
	// the previous snapshot gives joins and leaves.
	previous := map[string]bool{}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	fmt.Println("watching (ctrl-c to stop)")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// Until the first roster snapshot arrives, presence is unknown
			// and an empty diff would read as everyone leaving.
			if !svc.PresenceKnown() {
				continue
			}
			current := map[string]bool{}
			for _, u := range svc.OnlineUsers(ctx) {
				current[u.ID] = true
				if !previous[u.ID] {
					color.New(color.FgGreen).Printf("+ %s", u.ID)
					if u.Name != "" {
						fmt.Printf(" (%s)", u.Name)
					}
					fmt.Println()
				}
			}
			for id := range previous {
				if !current[id] {
					color.New(color.FgRed).Printf("- %s\n", id)
				}
			}
			previous = current
		}
	}
}

func runTail(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: mentorsync-probe tail <user>")
	}
	counterpartyID := os.Args[2]

	svc, _, err := connect(true)
	if err != nil {
		return err
	}
	defer svc.Close()

	conv, err := svc.OpenConversation(ctx, counterpartyID)
	if err != nil {
		return err
	}
	defer conv.Close()

	updates := make(chan struct{}, 1)
	svc.SetMessageListener(func(id string, _ timeline.Message) {
		if id == counterpartyID {
			select {
			case updates <- struct{}{}:
			default:
			}
		}
	})

	printed := 0
	render := func() {
		msgs := conv.Messages()
		for _, m := range msgs[printed:] {
			printMessage(svc.UserID(), m)
		}
		printed = len(msgs)
	}

	// Give the history fetch a moment, then follow live traffic.
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-updates:
			render()
		case <-ticker.C:
			render()
		}
	}
}

func runSend(ctx context.Context) error {
	if len(os.Args) < 4 {
		return fmt.Errorf("usage: mentorsync-probe send <user> <body>")
	}
	counterpartyID := os.Args[2]
	body := strings.Join(os.Args[3:], " ")

	svc, _, err := connect(false)
	if err != nil {
		return err
	}
	defer svc.Close()

	conv, err := svc.OpenConversation(ctx, counterpartyID)
	if err != nil {
		return err
	}
	defer conv.Close()

	status := svc.Status(counterpartyID)
	if status == presence.StatusOffline {
		color.New(color.FgYellow).Printf("note: %s is offline, message will be delivered from history\n", counterpartyID)
	}

	msg, err := conv.Send(ctx, body)
	if err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	color.New(color.FgGreen).Print("✓ ")
	fmt.Printf("delivered as %s\n", msg.ID)
	return nil
}

func runForget(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: mentorsync-probe forget <user>")
	}
	counterpartyID := os.Args[2]

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tok, err := token()
	if err != nil {
		return err
	}

	svc, err := realtime.New(cfg, tok, setupLogger(cfg.Logging))
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.ForgetConversation(ctx, counterpartyID); err != nil {
		return err
	}

	color.New(color.FgGreen).Print("✓ ")
	fmt.Printf("dropped local cache for %s\n", counterpartyID)
	return nil
}

func printMessage(selfID string, m timeline.Message) {
	ts := color.HiBlackString(m.CreatedAt.Local().Format("15:04:05"))
	who := m.SenderID
	c := color.New(color.FgCyan)
	if m.SenderID == selfID {
		who = "me"
		c = color.New(color.FgGreen)
	}
	suffix := ""
	switch m.State {
	case timeline.DeliveryPending:
		suffix = color.HiBlackString(" (sending)")
	case timeline.DeliveryFailed:
		suffix = color.RedString(" (failed)")
	}
	fmt.Printf("%s ", ts)
	c.Printf("%s", who)
	fmt.Printf(": %s%s\n", m.Body, suffix)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
// Output is flat key=value; groups are not rendered.
type colorHandler struct {
	mu    sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level: h.level,
		attrs: newAttrs,
	}
}

func (h *colorHandler) WithGroup(string) slog.Handler {
	return h
}
