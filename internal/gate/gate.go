// Package gate decides which inbound events the downloader acts on.
package gate

import (
	"log/slog"
	"strconv"

	"github.com/progitto/TelegramMediaDownload/internal/inbound"
	"github.com/progitto/TelegramMediaDownload/internal/metrics"
)

// Gate admits events from one chat and one principal. It does not look at
// the pause flag: commands must keep working while downloads are paused.
type Gate struct {
	chatID    int64
	principal string
	logger    *slog.Logger
}

// New creates a Gate for the target chat. principal is a username without
// the leading "@" or a numeric user id.
func New(chatID int64, principal string, logger *slog.Logger) *Gate {
	return &Gate{
		chatID:    chatID,
		principal: principal,
		logger:    logger,
	}
}

// Accept reports whether ev comes from the target chat and the principal.
// Events from other chats are dropped without a log line; events from
// other senders in the target chat are logged once at info level.
func (g *Gate) Accept(ev inbound.Event) bool {
	if ev.ChatID != g.chatID {
		metrics.EventsRejected.WithLabelValues("chat").Inc()
		return false
	}
	if !g.authorized(ev.Sender) {
		metrics.EventsRejected.WithLabelValues("sender").Inc()
		g.logger.Info("gate: message ignored, unauthorized user", "sender", ev.Sender.String())
		return false
	}
	return true
}

func (g *Gate) authorized(s inbound.Sender) bool {
	if g.principal == "" {
		return false
	}
	if s.Username != "" && s.Username == g.principal {
		return true
	}
	return s.ID != 0 && strconv.FormatInt(s.ID, 10) == g.principal
}
