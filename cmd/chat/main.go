// Package main is a terminal chat client for the relay.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/sportsgpt/chat-relay/internal/client"
	"github.com/sportsgpt/chat-relay/internal/config"
	"github.com/sportsgpt/chat-relay/internal/model"
	"github.com/sportsgpt/chat-relay/internal/ratelimit"
	"github.com/sportsgpt/chat-relay/pkg/logger"
)

var reader = bufio.NewReader(os.Stdin)

// renderer prints the growing tail of the assistant message being streamed.
type renderer struct {
	id      string
	printed int
}

func (r *renderer) render(snap client.Snapshot) {
	if len(snap.Messages) == 0 {
		return
	}
	last := snap.Messages[len(snap.Messages)-1]
	if last.Role != model.RoleAssistant {
		return
	}
	if last.ID != r.id {
		r.id, r.printed = last.ID, 0
		fmt.Print("\nSportsGPT: ")
	}
	if len(last.Content) > r.printed {
		fmt.Print(last.Content[r.printed:])
		r.printed = len(last.Content)
	}
}

func main() {
	cfg := config.LoadClient()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fingerprint := localFingerprint(cfg.Locale).Key()
	limiter := ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow, ratelimit.WithLogger(log))
	defer limiter.Close()

	r := &renderer{}
	session := client.NewSession(client.NewHTTPRelay(cfg.RelayURL),
		client.WithLimiter(limiter, fingerprint),
		client.WithMinInterval(cfg.MinInterval),
		client.WithLocale(cfg.Locale),
		client.WithTurnTimeout(cfg.TurnTimeout),
		client.WithObserver(r.render),
		client.WithLogger(log),
	)

	fmt.Println("SportsGPT - analise de apostas esportivas")
	fmt.Println("Comandos: /teams a,b  /retry  /reset  /quit")

	var teams []string
	for ctx.Err() == nil {
		fmt.Print("\n> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)

		switch {
		case line == "":
			continue
		case line == "/quit":
			fmt.Println("Até logo!")
			return
		case line == "/reset":
			session.Reset()
			teams = nil
			fmt.Println("Conversa reiniciada.")
		case line == "/retry":
			report(session, session.Retry(ctx))
		case strings.HasPrefix(line, "/teams"):
			teams = parseTeams(strings.TrimPrefix(line, "/teams"))
			fmt.Printf("Times em foco: %s\n", strings.Join(teams, ", "))
		default:
			report(session, session.Submit(ctx, line, teams))
		}
	}
}

func report(session *client.Session, err error) {
	fmt.Println()
	if err == nil || errors.Is(err, client.ErrTurnDiscarded) {
		return
	}
	snap := session.Snapshot()
	msg := snap.Error
	if msg == "" {
		msg = err.Error()
	}
	fmt.Printf("! %s\n", msg)
	if snap.CanRetry {
		fmt.Println("  (/retry para tentar novamente)")
	}
}

func parseTeams(arg string) []string {
	var out []string
	for _, t := range strings.Split(arg, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// localFingerprint describes this terminal the way a browser fingerprint
// describes a tab: user agent, language, screen size, timezone offset.
func localFingerprint(locale string) ratelimit.Fingerprint {
	_, offset := time.Now().Zone()
	return ratelimit.Fingerprint{
		UserAgent:      "sportsgpt-chat/1.0 (" + runtime.GOOS + "; " + runtime.GOARCH + ")",
		Language:       locale,
		ScreenWidth:    envInt("COLUMNS", 80),
		ScreenHeight:   envInt("LINES", 24),
		TimezoneOffset: -offset / 60,
	}
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}
