// Package telegram is a small Telegram Bot API client plus the adapters
// that turn its updates and files into downloader events and streams.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/progitto/TelegramMediaDownload/internal/metrics"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// editInterval spaces out message edits; Telegram throttles bursts of
// edits in one chat.
const editInterval = time.Second

// Options tunes a Bot. Zero values pick defaults.
type Options struct {
	APIURL   string // Bot API base URL, e.g. a local telegram-bot-api server
	ProxyURL string // socks5://[user:pass@]host:port
	Logger   *slog.Logger
}

// Bot is a minimal Telegram Bot API client.
type Bot struct {
	token   string
	apiURL  string
	client  *http.Client // short calls
	poll    *http.Client // long polling and file transfers
	editLim *rate.Limiter
	logger  *slog.Logger
}

// NewBot creates a Bot client for token.
func NewBot(token string, opts Options) (*Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram: empty token")
	}
	apiURL := strings.TrimRight(opts.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	transport, err := newTransport(opts.ProxyURL)
	if err != nil {
		return nil, err
	}
	return &Bot{
		token:   token,
		apiURL:  apiURL,
		client:  &http.Client{Timeout: 30 * time.Second, Transport: transport},
		poll:    &http.Client{Transport: transport},
		editLim: rate.NewLimiter(rate.Every(editInterval), 3),
		logger:  logger,
	}, nil
}

func (b *Bot) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", b.apiURL, b.token, method)
}

// call POSTs params as JSON and decodes the result into out, if non-nil.
func (b *Bot) call(ctx context.Context, client *http.Client, method string, params, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("telegram: %s: marshaling request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: %s: creating request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return b.do(client, method, req, out)
}

func (b *Bot) do(client *http.Client, method string, req *http.Request, out any) (err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.APIRequests.WithLabelValues(method, result).Inc()
	}()

	b.logger.Debug("telegram: request", "method", method)
	resp, err := client.Do(req)
	if err != nil {
		// The URL embeds the token; drop it from transport errors.
		return fmt.Errorf("telegram: %s: %s", method, b.redact(err.Error()))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram: %s: reading response: %w", method, err)
	}

	var r apiResponse
	if err := json.Unmarshal(respBody, &r); err != nil {
		return fmt.Errorf("telegram: %s: status %d, parsing response: %w", method, resp.StatusCode, err)
	}
	if !r.OK {
		apiErr := &APIError{Method: method, Code: r.ErrorCode, Description: r.Description}
		if r.Parameters != nil {
			apiErr.RetryAfter = r.Parameters.RetryAfter
		}
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(r.Result, out); err != nil {
			return fmt.Errorf("telegram: %s: parsing result: %w", method, err)
		}
	}
	return nil
}

func (b *Bot) redact(s string) string {
	return strings.ReplaceAll(s, b.token, "<token>")
}

// GetMe returns the bot's own account.
func (b *Bot) GetMe(ctx context.Context) (*User, error) {
	var u User
	if err := b.call(ctx, b.client, "getMe", struct{}{}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetChat resolves a chat the bot has access to.
func (b *Bot) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	var c Chat
	if err := b.call(ctx, b.client, "getChat", map[string]int64{"chat_id": chatID}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

// GetUpdates performs a long-poll request for new updates.
func (b *Bot) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	// The HTTP deadline must outlast the server-side long-poll timeout.
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout+10)*time.Second)
	defer cancel()

	var updates []Update
	err := b.call(ctx, b.poll, "getUpdates", getUpdatesRequest{
		Offset:         offset,
		Timeout:        timeout,
		AllowedUpdates: []string{"message", "channel_post"},
	}, &updates)
	return updates, err
}

type replyParameters struct {
	MessageID                int64 `json:"message_id"`
	AllowSendingWithoutReply bool  `json:"allow_sending_without_reply"`
}

type sendMessageRequest struct {
	ChatID          int64            `json:"chat_id"`
	Text            string           `json:"text"`
	ReplyParameters *replyParameters `json:"reply_parameters,omitempty"`
}

// SendMessageTo sends a text message to the specified chat.
func (b *Bot) SendMessageTo(ctx context.Context, chatID int64, text string) error {
	_, err := b.ReplyTo(ctx, chatID, 0, text)
	return err
}

// ReplyTo sends text as a reply to replyTo (0 for a plain message) and
// returns the new message id.
func (b *Bot) ReplyTo(ctx context.Context, chatID, replyTo int64, text string) (int64, error) {
	req := sendMessageRequest{ChatID: chatID, Text: text}
	if replyTo != 0 {
		req.ReplyParameters = &replyParameters{MessageID: replyTo, AllowSendingWithoutReply: true}
	}
	var msg Message
	if err := b.call(ctx, b.client, "sendMessage", req, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

type editMessageTextRequest struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

// EditMessageText replaces the text of a message sent by the bot. Calls are
// paced by an internal limiter; an edit to identical text is not an error.
func (b *Bot) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	if err := b.editLim.Wait(ctx); err != nil {
		return fmt.Errorf("telegram: editMessageText: %w", err)
	}
	return b.editText(ctx, chatID, messageID, text)
}

// TryEditMessageText is EditMessageText without waiting: when the limiter
// has no token the edit is dropped and sent is false.
func (b *Bot) TryEditMessageText(ctx context.Context, chatID, messageID int64, text string) (sent bool, err error) {
	if !b.editLim.Allow() {
		b.logger.Debug("telegram: edit dropped by rate limit", "message_id", messageID)
		return false, nil
	}
	return true, b.editText(ctx, chatID, messageID, text)
}

func (b *Bot) editText(ctx context.Context, chatID, messageID int64, text string) error {
	err := b.call(ctx, b.client, "editMessageText", editMessageTextRequest{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	}, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified") {
		return nil
	}
	return err
}

type setMyCommandsRequest struct {
	Commands []BotCommand `json:"commands"`
}

// SetMyCommands publishes the bot's command menu.
func (b *Bot) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	return b.call(ctx, b.client, "setMyCommands", setMyCommandsRequest{Commands: commands}, nil)
}

// GetFile prepares a file for download.
func (b *Bot) GetFile(ctx context.Context, fileID string) (*File, error) {
	var f File
	if err := b.call(ctx, b.client, "getFile", map[string]string{"file_id": fileID}, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// OpenFile streams the content behind a getFile path. A local-mode Bot API
// server hands out absolute paths, which are opened from disk.
func (b *Bot) OpenFile(ctx context.Context, filePath string) (io.ReadCloser, int64, error) {
	if filepath.IsAbs(filePath) {
		f, err := os.Open(filePath)
		if err != nil {
			return nil, 0, fmt.Errorf("telegram: opening local file: %w", err)
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, fmt.Errorf("telegram: opening local file: %w", err)
		}
		return f, fi.Size(), nil
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", b.apiURL, b.token, strings.TrimLeft(filePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("telegram: creating file request: %w", err)
	}
	resp, err := b.poll.Do(req)
	if err != nil {
		metrics.APIRequests.WithLabelValues("file", "error").Inc()
		return nil, 0, fmt.Errorf("telegram: downloading file: %s", b.redact(err.Error()))
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		metrics.APIRequests.WithLabelValues("file", "error").Inc()
		return nil, 0, fmt.Errorf("telegram: downloading file: status %d", resp.StatusCode)
	}
	metrics.APIRequests.WithLabelValues("file", "ok").Inc()
	return resp.Body, resp.ContentLength, nil
}

// SendDocument uploads the file at path to chatID with an optional caption.
// The body is streamed, so large files are not held in memory.
func (b *Bot) SendDocument(ctx context.Context, chatID, replyTo int64, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("telegram: sendDocument: %w", err)
	}
	defer f.Close()

	fields := []formField{{"chat_id", strconv.FormatInt(chatID, 10)}}
	if replyTo != 0 {
		rp, _ := json.Marshal(replyParameters{MessageID: replyTo, AllowSendingWithoutReply: true})
		fields = append(fields, formField{"reply_parameters", string(rp)})
	}
	if caption != "" {
		fields = append(fields, formField{"caption", caption})
	}
	body, contentType := multipartBody(fields, "document", filepath.Base(path), f)
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL("sendDocument"), body)
	if err != nil {
		return fmt.Errorf("telegram: sendDocument: creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return b.do(b.poll, "sendDocument", req, nil)
}
