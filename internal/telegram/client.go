// Package telegram delivers validated signals to subscribers via the
// Telegram Bot API and serves a small command surface for operating the
// monitored-account list.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/feedhawk/signalscout/internal/budget"
	"github.com/feedhawk/signalscout/internal/logger"
	"github.com/feedhawk/signalscout/internal/models"
	"github.com/feedhawk/signalscout/internal/registry"
	"github.com/feedhawk/signalscout/internal/storage"
)

// Client handles Telegram notifications and bot commands.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	sendTimeout    time.Duration
	limiter        *rate.Limiter
	store          *storage.Storage
	registry       *registry.Registry
	budget         *budget.Tracker
}

// NewClient creates a new Telegram client. messagesPerSec paces outgoing
// sends so bursts of accepted signals stay under Bot API flood limits;
// sendTimeout caps every Bot API call so a hung send cannot stall the
// delivery goroutine.
func NewClient(botToken string, chatID int64, maxRetries int, retryDelayBase, sendTimeout time.Duration, messagesPerSec float64, store *storage.Storage, reg *registry.Registry, b *budget.Tracker) (*Client, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	if messagesPerSec <= 0 {
		messagesPerSec = 1
	}

	bot, err := tgbotapi.NewBotAPIWithClient(botToken, tgbotapi.APIEndpoint, &http.Client{Timeout: sendTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		sendTimeout:    sendTimeout,
		limiter:        rate.NewLimiter(rate.Limit(messagesPerSec), 1),
		store:          store,
		registry:       reg,
		budget:         b,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and
// handles bot commands. It returns immediately; the goroutine stops when
// ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	// The update long-poll shares the bot's HTTP client, so it has to
	// finish inside the send timeout.
	u.Timeout = int(c.sendTimeout.Seconds()) - 1
	if u.Timeout < 1 {
		u.Timeout = 1
	}
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	var reply string
	switch msg.Command() {
	case "ping":
		reply = "Pong"
	case "signals":
		reply = c.recentSignalsReply()
	case "stats":
		reply = c.statsReply()
	case "accounts":
		reply = c.accountsReply()
	case "watch":
		reply = c.watchReply(msg.CommandArguments())
	case "unwatch":
		reply = c.unwatchReply(msg.CommandArguments())
	default:
		return
	}

	out := tgbotapi.NewMessage(msg.Chat.ID, reply)
	out.ParseMode = "MarkdownV2"
	if _, err := c.bot.Send(out); err != nil {
		logger.Warn("Failed to answer /%s: %v", msg.Command(), err)
	}
}

func (c *Client) recentSignalsReply() string {
	signals, err := c.store.RecentSignals(5)
	if err != nil {
		return escapeMarkdownV2(fmt.Sprintf("error: %v", err))
	}
	if len(signals) == 0 {
		return "No signals yet\\."
	}
	var b strings.Builder
	b.WriteString("*Recent signals*\n\n")
	for _, sig := range signals {
		b.WriteString(formatSignalLine(&sig))
		b.WriteString("\n")
	}
	return b.String()
}

func (c *Client) statsReply() string {
	stats, err := c.store.GetStats()
	if err != nil {
		return escapeMarkdownV2(fmt.Sprintf("error: %v", err))
	}
	var b strings.Builder
	b.WriteString("*Stats*\n")
	b.WriteString(fmt.Sprintf("Signals: %d total, %d pending, %d delivered\n",
		stats.SignalsTotal, stats.SignalsPending, stats.SignalsDelivered))
	if len(stats.RejectionsByReason) > 0 {
		b.WriteString("Rejections:\n")
		for reason, n := range stats.RejectionsByReason {
			b.WriteString(fmt.Sprintf("  %s: %d\n", escapeMarkdownV2(string(reason)), n))
		}
	}
	if c.budget != nil {
		_, consumed, capacity := c.budget.Snapshot()
		b.WriteString(fmt.Sprintf("Budget: %d/%d this window\n", consumed, capacity))
	}
	return b.String()
}

func (c *Client) accountsReply() string {
	accounts := c.registry.ListEnabled()
	if len(accounts) == 0 {
		return "No accounts monitored\\."
	}
	var b strings.Builder
	b.WriteString("*Monitored accounts*\n")
	for _, a := range accounts {
		b.WriteString(fmt.Sprintf("• @%s\n", escapeMarkdownV2(a.Handle)))
	}
	return b.String()
}

func (c *Client) watchReply(args string) string {
	handle := strings.TrimPrefix(strings.TrimSpace(args), "@")
	if handle == "" {
		return "Usage: /watch handle"
	}
	if _, err := c.registry.Add(handle); err != nil {
		return escapeMarkdownV2(fmt.Sprintf("error: %v", err))
	}
	return fmt.Sprintf("Now watching @%s", escapeMarkdownV2(handle))
}

func (c *Client) unwatchReply(args string) string {
	handle := strings.TrimPrefix(strings.TrimSpace(args), "@")
	if handle == "" {
		return "Usage: /unwatch handle"
	}
	if err := c.registry.RemoveByHandle(handle); err != nil {
		return escapeMarkdownV2(fmt.Sprintf("error: %v", err))
	}
	return fmt.Sprintf("Stopped watching @%s", escapeMarkdownV2(handle))
}

// SendSignal delivers one accepted signal, pacing against the flood limiter
// and retrying transient failures with linear backoff.
func (c *Client) SendSignal(ctx context.Context, sig *models.Signal) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(c.chatID, formatSignal(sig))
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// formatSignal renders a full signal notification in MarkdownV2.
func formatSignal(sig *models.Signal) string {
	emoji := "🟢"
	if sig.Direction == models.DirectionShort {
		emoji = "🔴"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s *%s %s*\n\n", emoji,
		escapeMarkdownV2(strings.ToUpper(string(sig.Direction))),
		escapeMarkdownV2(sig.Symbol)))
	b.WriteString(fmt.Sprintf("Entry: %s\n", escapeMarkdownV2(formatPrice(sig.EntryLow))))
	b.WriteString(fmt.Sprintf("Stop: %s\n", escapeMarkdownV2(formatPrice(sig.StopLoss))))

	targets := make([]string, len(sig.Targets))
	for i, tp := range sig.Targets {
		targets[i] = formatPrice(tp)
	}
	b.WriteString(fmt.Sprintf("Targets: %s\n", escapeMarkdownV2(strings.Join(targets, ", "))))
	b.WriteString(fmt.Sprintf("R/R: %s  Confidence: %s\n",
		escapeMarkdownV2(fmt.Sprintf("%.1f", sig.RiskReward)),
		escapeMarkdownV2(fmt.Sprintf("%.0f%%", sig.Confidence*100))))
	return b.String()
}

// formatSignalLine renders a compact one-line summary for /signals.
func formatSignalLine(sig *models.Signal) string {
	return fmt.Sprintf("%s %s @ %s \\[%s\\]",
		escapeMarkdownV2(strings.ToUpper(string(sig.Direction))),
		escapeMarkdownV2(sig.Symbol),
		escapeMarkdownV2(formatPrice(sig.EntryLow)),
		escapeMarkdownV2(string(sig.Status)))
}

func formatPrice(p float64) string {
	s := fmt.Sprintf("%.8f", p)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
