package telegram

import (
	"context"
	"path"

	"github.com/progitto/TelegramMediaDownload/internal/inbound"
	"github.com/progitto/TelegramMediaDownload/internal/pipeline"
)

// ChatMessenger posts into one chat.
type ChatMessenger struct {
	bot    *Bot
	chatID int64
}

// NewChatMessenger binds bot to chatID.
func NewChatMessenger(bot *Bot, chatID int64) *ChatMessenger {
	return &ChatMessenger{bot: bot, chatID: chatID}
}

func (m *ChatMessenger) Reply(ctx context.Context, replyTo int64, text string) (int64, error) {
	return m.bot.ReplyTo(ctx, m.chatID, replyTo, text)
}

func (m *ChatMessenger) Edit(ctx context.Context, messageID int64, text string) error {
	return m.bot.EditMessageText(ctx, m.chatID, messageID, text)
}

// Progress edits messageID unless the edit rate limit is exhausted, in
// which case the update is skipped.
func (m *ChatMessenger) Progress(ctx context.Context, messageID int64, text string) error {
	_, err := m.bot.TryEditMessageText(ctx, m.chatID, messageID, text)
	return err
}

// SendDocument uploads a local file as a reply.
func (m *ChatMessenger) SendDocument(ctx context.Context, replyTo int64, filePath, caption string) error {
	return m.bot.SendDocument(ctx, m.chatID, replyTo, filePath, caption)
}

// MediaSource opens attachments through getFile.
type MediaSource struct {
	bot *Bot
}

// NewMediaSource creates a MediaSource.
func NewMediaSource(bot *Bot) *MediaSource {
	return &MediaSource{bot: bot}
}

func (s *MediaSource) Open(ctx context.Context, m inbound.Media) (*pipeline.Stream, error) {
	f, err := s.bot.GetFile(ctx, m.FileID)
	if err != nil {
		return nil, err
	}
	body, size, err := s.bot.OpenFile(ctx, f.FilePath)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = f.FileSize
	}
	st := &pipeline.Stream{Body: body, Size: size}
	// Other kinds fall back to "<kind>_<timestamp>" naming.
	if m.Kind == "document" {
		st.Name = path.Base(f.FilePath)
	}
	return st, nil
}
