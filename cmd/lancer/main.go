// Package main is the lancer terminal chat client.
//
// It connects to the marketplace chat backend, opens one conversation and
// bridges stdin/stdout to the realtime client core:
//   - incoming messages stream to stdout (push channel, polling fallback)
//   - stdin lines are sent as messages
//   - commands: /older, /delete <id>, /reconnect, /who, /quit
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"lancer/cmd/internal/app"
	"lancer/cmd/internal/chat"
	"lancer/cmd/internal/rest"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lancer: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional .env next to the binary; real env wins.
	_ = godotenv.Load()

	cfg := app.LoadConfig()

	var (
		apiURL    = flag.String("api", cfg.APIBaseURL, "chat REST API base URL")
		pushURL   = flag.String("push", cfg.PushURL, "websocket push channel URL (empty = polling only)")
		tokenPath = flag.String("token", cfg.TokenPath, "path to the persisted bearer token")
		with      = flag.String("with", "", "participant id to open (default: first in list)")
		debugAddr = flag.String("debug", cfg.DebugAddr, "debug listener address for /healthz and /metrics (empty = off)")
	)
	flag.Parse()

	log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

	tokens := rest.NewFileTokenSource(*tokenPath)
	token, err := tokens.Token()
	if err != nil {
		return fmt.Errorf("authentication required: %w", err)
	}
	selfID := rest.SubjectID(token)

	client, err := rest.NewClient(log, *apiURL, tokens)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := chat.NewMetrics(reg)
	unread := chat.NewUnreadTracker(log, client, cfg.UnreadInterval)

	session := chat.NewSession(log, chat.SessionConfig{
		SelfID:   selfID,
		Backend:  client,
		Metrics:  metrics,
		Unread:   unread,
		Notifier: terminalNotifier{},
		Push: chat.PushConfig{
			URL:            *pushURL,
			Token:          tokens.Token,
			BackoffInitial: cfg.PushBackoffInitial,
			BackoffMax:     cfg.PushBackoffMax,
			MaxAttempts:    cfg.PushMaxAttempts,
		},
		PullFallback: cfg.PullFallback,
		PullInterval: cfg.PollInterval,
		TypingQuiet:  cfg.TypingQuiet,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *debugAddr != "" {
		dbg := app.NewDebugServer(log, *debugAddr, reg)
		go func() {
			if err := dbg.Run(ctx); err != nil {
				log.Error("debug.run.fail", "err", err)
			}
		}()
	}

	session.Start(ctx)
	defer session.Close()

	peer, err := pickPeer(ctx, session, *with)
	if err != nil {
		return err
	}

	if err := session.SelectConversation(ctx, peer); err != nil {
		log.Info("select.initial_fetch_fail", "err", err)
	}

	printer := newPrinter(session, selfID)
	session.OnChange(printer.changed)
	printer.repaint()

	fmt.Printf("-- conversation with %s (you are %s) --\n", peer, selfID)

	return inputLoop(ctx, session, printer)
}

// pickPeer resolves the conversation peer from the flag or the list.
func pickPeer(ctx context.Context, session *chat.Session, with string) (string, error) {
	if with != "" {
		return with, nil
	}

	peers, err := session.Participants(ctx)
	if err != nil {
		return "", fmt.Errorf("list participants: %w", err)
	}
	if len(peers) == 0 {
		return "", errors.New("no conversations yet; pass -with <participant-id>")
	}

	for _, p := range peers {
		marker := " "
		if p.Unread {
			marker = "*"
		}
		fmt.Printf("%s %-20s %s  %s\n", marker, p.ID, p.Name, preview(p))
	}
	return peers[0].ID, nil
}

func preview(p chat.Participant) string {
	if p.LastMessage == "" {
		return ""
	}
	return fmt.Sprintf("%q (%s)", p.LastMessage, p.LastMessageAt.Format("Jan 2 15:04"))
}

// inputLoop reads stdin until EOF, /quit, or signal.
func inputLoop(ctx context.Context, session *chat.Session, printer *printer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := handleLine(ctx, session, printer, line); done {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, session *chat.Session, printer *printer, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	switch {
	case line == "/quit":
		return true

	case line == "/older":
		if err := session.LoadOlderMessages(ctx); err != nil {
			fmt.Printf("!! %v\n", err)
		}
		printer.repaint()

	case line == "/reconnect":
		if err := session.Reconnect(); err != nil {
			fmt.Printf("!! %v\n", err)
		}

	case line == "/who":
		fmt.Printf("-- %s [%s] unread=%d typing=%v\n",
			session.Active(), session.ConnState(), session.UnreadCount(), session.TypingParticipants())

	case strings.HasPrefix(line, "/delete "):
		id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "/delete ")), 10, 64)
		if err != nil {
			fmt.Println("!! usage: /delete <message-id>")
			return false
		}
		if err := session.DeleteMessage(ctx, id); err != nil {
			fmt.Printf("!! %v\n", err)
		}

	default:
		session.SetTyping(true)
		if _, err := session.Send(ctx, line, "", nil); err != nil {
			fmt.Printf("!! send failed (kept for retry): %v\n", err)
		}
	}
	return false
}

// terminalNotifier rings the terminal bell for inactive-conversation
// messages.
type terminalNotifier struct{}

func (terminalNotifier) Notify(title, body string) {
	fmt.Printf("\a== %s: %s\n", title, body)
}

func (terminalNotifier) PlaySound() {}

// printer tracks what has already been written so OnChange events only
// print new or updated entries.
type printer struct {
	session *chat.Session
	selfID  string

	mu   sync.Mutex
	seen map[string]chat.Message
}

func newPrinter(session *chat.Session, selfID string) *printer {
	return &printer{session: session, selfID: selfID, seen: make(map[string]chat.Message)}
}

func (p *printer) changed() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range p.session.Messages() {
		key := messageKey(m)
		if prev, ok := p.seen[key]; ok && prev.Status == m.Status && prev.Deleted == m.Deleted {
			continue
		}
		p.seen[key] = m
		p.print(m)
	}
}

func (p *printer) repaint() {
	p.mu.Lock()
	p.seen = make(map[string]chat.Message)
	p.mu.Unlock()
	p.changed()
}

func (p *printer) print(m chat.Message) {
	who := m.SenderID
	if who == p.selfID {
		who = "me"
	}

	body := m.Body
	if m.Attachment != "" && body == "" {
		body = "[attachment: " + m.Attachment + "]"
	}

	fmt.Printf("[%s] %s (%s): %s\n", m.CreatedAt.Local().Format(time.Kitchen), who, m.Status, body)
}

func messageKey(m chat.Message) string {
	if m.ClientID != "" {
		return m.ClientID
	}
	return strconv.FormatInt(m.ID, 10)
}
