package telegram

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/progitto/TelegramMediaDownload/internal/inbound"
)

const (
	pollTimeout  = 30 // seconds, server side
	pollBackoff  = 5 * time.Second
	maxRetryWait = time.Minute
)

// Poller long-polls getUpdates and emits one event per message.
type Poller struct {
	bot    *Bot
	logger *slog.Logger
}

// NewPoller creates a Poller.
func NewPoller(bot *Bot, logger *slog.Logger) *Poller {
	return &Poller{bot: bot, logger: logger}
}

// Run polls until ctx is done, then closes out. Events are delivered in
// update order and a slow consumer stalls polling.
func (p *Poller) Run(ctx context.Context, out chan<- inbound.Event) {
	defer close(out)

	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := p.bot.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := pollBackoff
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				wait = min(time.Duration(apiErr.RetryAfter)*time.Second, maxRetryWait)
			}
			p.logger.Error("telegram: failed to poll updates", "err", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			msg := u.Message
			if msg == nil {
				msg = u.ChannelPost
			}
			if msg == nil {
				continue
			}
			select {
			case out <- ToEvent(msg):
			case <-ctx.Done():
				return
			}
		}
	}
}

// ToEvent converts a Bot API message into a transport-neutral event.
func ToEvent(msg *Message) inbound.Event {
	ev := inbound.Event{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
		Media:     mediaOf(msg),
	}
	if msg.From != nil {
		ev.Sender = inbound.Sender{ID: msg.From.ID, Username: msg.From.Username}
	}
	return ev
}

func mediaOf(msg *Message) *inbound.Media {
	switch {
	case msg.Video != nil:
		v := msg.Video
		return &inbound.Media{FileID: v.FileID, FileName: v.FileName, MimeType: v.MimeType, Kind: "video", Size: v.FileSize}
	case msg.Animation != nil:
		a := msg.Animation
		return &inbound.Media{FileID: a.FileID, FileName: a.FileName, MimeType: a.MimeType, Kind: "animation", Size: a.FileSize}
	case msg.Document != nil:
		d := msg.Document
		return &inbound.Media{FileID: d.FileID, FileName: d.FileName, MimeType: d.MimeType, Kind: "document", Size: d.FileSize}
	case msg.Audio != nil:
		a := msg.Audio
		return &inbound.Media{FileID: a.FileID, FileName: a.FileName, MimeType: a.MimeType, Kind: "audio", Size: a.FileSize}
	case msg.Voice != nil:
		v := msg.Voice
		return &inbound.Media{FileID: v.FileID, MimeType: v.MimeType, Kind: "voice", Size: v.FileSize}
	case msg.VideoNote != nil:
		return &inbound.Media{FileID: msg.VideoNote.FileID, Kind: "video_note", Size: msg.VideoNote.FileSize}
	case len(msg.Photo) > 0:
		// Largest rendition is last.
		ph := msg.Photo[len(msg.Photo)-1]
		return &inbound.Media{FileID: ph.FileID, MimeType: "image/jpeg", Kind: "photo", Size: ph.FileSize}
	}
	return nil
}
