// Package notify is the best-effort outbound boundary to end users.
// Failures never fail the admin-facing operation; they surface only as
// a warning suffix on the result.
package notify

import (
	"fmt"
	"sync"

	tele "gopkg.in/telebot.v4"
	"log/slog"

	"github.com/m3rciful/edubot/core/logger"
	"github.com/m3rciful/edubot/internal/apperr"
)

// Notifier delivers a message to a single end user.
type Notifier interface {
	Notify(userID int64, text string) error
}

// Sender is the subset of the bot API the notifier needs.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramNotifier sends Markdown messages through the bot. The sender
// is bound at startup, after the bot exists.
type TelegramNotifier struct {
	mu  sync.RWMutex
	bot Sender
}

// NewTelegram returns an unbound notifier.
func NewTelegram() *TelegramNotifier {
	return &TelegramNotifier{}
}

// Bind attaches the live bot once the runtime is up.
func (n *TelegramNotifier) Bind(bot Sender) {
	n.mu.Lock()
	n.bot = bot
	n.mu.Unlock()
}

// Notify sends the text to the user. Blocked bots, deleted accounts,
// and transport errors all come back as ErrNotification.
func (n *TelegramNotifier) Notify(userID int64, text string) error {
	n.mu.RLock()
	bot := n.bot
	n.mu.RUnlock()
	if bot == nil {
		return fmt.Errorf("%w: no sender wired", apperr.ErrNotification)
	}
	_, err := bot.Send(tele.ChatID(userID), text, &tele.SendOptions{ParseMode: tele.ModeMarkdown})
	if err != nil {
		logger.TG.Warn("notify failed",
			slog.String("event", "notify"),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("%w: %v", apperr.ErrNotification, err)
	}
	return nil
}

// Nop swallows notifications, used when no transport is wired.
type Nop struct{}

// Notify does nothing and reports success.
func (Nop) Notify(int64, string) error { return nil }
