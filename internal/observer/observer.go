// Package observer is the chat surface of the downloader: it consumes
// inbound events, filters them through the access gate and either answers
// a command or hands media to the pipeline.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/progitto/TelegramMediaDownload/internal/diskusage"
	"github.com/progitto/TelegramMediaDownload/internal/gate"
	"github.com/progitto/TelegramMediaDownload/internal/inbound"
	"github.com/progitto/TelegramMediaDownload/internal/logging"
	"github.com/progitto/TelegramMediaDownload/internal/metrics"
	"github.com/progitto/TelegramMediaDownload/internal/pipeline"
	"github.com/progitto/TelegramMediaDownload/internal/state"
	"github.com/progitto/TelegramMediaDownload/internal/stats"
	"github.com/progitto/TelegramMediaDownload/internal/statsdb"
	"github.com/progitto/TelegramMediaDownload/internal/telegram"
)

const (
	logTailLines  = 10
	recentEntries = 5
	// Telegram rejects messages over 4096 characters.
	maxMessageLen = 4000
)

// Chat answers in the monitored conversation.
type Chat interface {
	Reply(ctx context.Context, replyTo int64, text string) (int64, error)
	SendDocument(ctx context.Context, replyTo int64, path, caption string) error
}

// Menu publishes the command list shown by Telegram clients.
type Menu interface {
	SetMyCommands(ctx context.Context, commands []telegram.BotCommand) error
}

// Downloader runs one media transfer.
type Downloader interface {
	Handle(ctx context.Context, ev inbound.Event) pipeline.Outcome
}

// History is the read side of the transfer journal.
type History interface {
	Recent(ctx context.Context, limit int) ([]statsdb.Transfer, error)
	CountByOutcome(ctx context.Context) (map[statsdb.Outcome]int, error)
}

// Deps wires an Observer. History and Menu may be nil.
type Deps struct {
	Gate            *gate.Gate
	State           *state.State
	Counters        *stats.Counters
	History         History
	Downloader      Downloader
	Chat            Chat
	Menu            Menu
	DownloadPath    string
	DiskWarnPercent int
	LogPath         func() string // today's log file
}

// Observer dispatches chat events.
type Observer struct {
	Deps
	logger   *slog.Logger
	now      func() time.Time
	diskStat func(string) (diskusage.Usage, error)
}

// New creates a new Observer.
func New(deps Deps, logger *slog.Logger) *Observer {
	if deps.DiskWarnPercent <= 0 {
		deps.DiskWarnPercent = diskusage.DefaultWarnPercent
	}
	return &Observer{
		Deps:     deps,
		logger:   logger,
		now:      time.Now,
		diskStat: diskusage.Stat,
	}
}

// Run registers the command menu and handles events until the channel is
// closed or ctx is done. Events are handled one at a time, so at most one
// transfer is in flight.
func (o *Observer) Run(ctx context.Context, events <-chan inbound.Event) {
	o.registerCommands(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			o.Dispatch(ctx, ev)
		}
	}
}

var commands = []telegram.BotCommand{
	{Command: "status", Description: "Show whether downloads are running"},
	{Command: "stats", Description: "Show download statistics"},
	{Command: "pause", Description: "Stop accepting new downloads"},
	{Command: "resume", Description: "Accept new downloads again"},
	{Command: "disk", Description: "Show free space in the download folder"},
	{Command: "logs", Description: "Show recent log lines (/logs file for the full log)"},
	{Command: "help", Description: "Show available commands"},
}

func (o *Observer) registerCommands(ctx context.Context) {
	if o.Menu == nil {
		return
	}
	if err := o.Menu.SetMyCommands(ctx, commands); err != nil {
		o.logger.Error("observer: failed to register bot commands", "err", err)
	}
}

// Dispatch handles a single event.
func (o *Observer) Dispatch(ctx context.Context, ev inbound.Event) {
	if !o.Gate.Accept(ev) {
		return
	}
	o.logger.Info("observer: message received from authorized user", "sender", ev.Sender.String())

	if ev.HasMedia() {
		o.Downloader.Handle(ctx, ev)
		return
	}
	cmd, args := ev.Command()
	if cmd == "" {
		return
	}
	o.handleCommand(ctx, ev, cmd, args)
}

func (o *Observer) handleCommand(ctx context.Context, ev inbound.Event, cmd, args string) {
	var reply string
	switch cmd {
	case "/start", "/help":
		reply = helpText
	case "/status":
		reply = o.formatStatus()
	case "/stats":
		reply = o.formatStats(ctx)
	case "/pause":
		o.State.Pause()
		o.logger.Info("observer: downloads paused", "by", ev.Sender.String())
		reply = "⏸️ Downloads paused. New media will be ignored until /resume."
	case "/resume":
		o.State.Resume()
		o.logger.Info("observer: downloads resumed", "by", ev.Sender.String())
		reply = "▶️ Downloads resumed."
	case "/disk":
		reply = o.formatDisk()
	case "/logs":
		if strings.EqualFold(args, "file") {
			metrics.CommandsTotal.WithLabelValues(cmd).Inc()
			o.sendLogFile(ctx, ev)
			return
		}
		reply = o.formatLogs()
	default:
		o.logger.Debug("observer: unknown command ignored", "command", cmd)
		return
	}
	metrics.CommandsTotal.WithLabelValues(cmd).Inc()
	o.reply(ctx, ev, reply)
}

func (o *Observer) reply(ctx context.Context, ev inbound.Event, text string) {
	if _, err := o.Chat.Reply(ctx, ev.MessageID, text); err != nil {
		metrics.NotificationErrors.WithLabelValues("reply").Inc()
		o.logger.Error("observer: failed to reply", "chat_id", ev.ChatID, "err", err)
	}
}

const helpText = "🤖 Media downloader\n\n" +
	"Send a file, photo, video or audio message here and it is saved on the server.\n\n" +
	"Commands:\n" +
	"/status - downloads running or paused, uptime\n" +
	"/stats - download statistics and recent transfers\n" +
	"/pause - stop accepting new downloads\n" +
	"/resume - accept new downloads again\n" +
	"/disk - disk space of the download folder\n" +
	"/logs - last 10 log lines\n" +
	"/logs file - today's log as a document\n" +
	"/help - show this message"

func (o *Observer) formatStatus() string {
	mode := "▶️ Running"
	if !o.State.Running() {
		mode = "⏸️ Paused"
	}
	rec := o.Counters.Snapshot()
	return fmt.Sprintf("📊 Status: %s\n"+
		"⏱️ Uptime: %s\n"+
		"✅ Downloads completed: %d\n"+
		"💾 Total downloaded: %s",
		mode,
		o.State.Uptime(o.now()).Truncate(time.Second),
		rec.Success,
		humanize.IBytes(rec.TotalBytes))
}

func (o *Observer) formatStats(ctx context.Context) string {
	rec := o.Counters.Snapshot()

	var b strings.Builder
	b.WriteString("📈 Download statistics\n\n")
	fmt.Fprintf(&b, "Attempts: %d\n", rec.Downloads)
	fmt.Fprintf(&b, "Succeeded: %d\n", rec.Success)
	fmt.Fprintf(&b, "Failed: %d\n", rec.Failed)
	if p := rec.Pending(); p > 0 {
		fmt.Fprintf(&b, "Without outcome: %d\n", p)
	}
	fmt.Fprintf(&b, "Success rate: %.1f%%\n", rec.SuccessRate())
	fmt.Fprintf(&b, "Total size: %s\n", humanize.IBytes(rec.TotalBytes))

	if o.History == nil {
		return b.String()
	}
	counts, err := o.History.CountByOutcome(ctx)
	if err != nil {
		o.logger.Warn("observer: failed to read transfer history", "err", err)
		return b.String()
	}
	if n := counts[statsdb.OutcomeInterrupted]; n > 0 {
		fmt.Fprintf(&b, "⚠️ Interrupted by a restart: %d\n", n)
	}

	recent, err := o.History.Recent(ctx, recentEntries)
	if err != nil {
		o.logger.Warn("observer: failed to read transfer history", "err", err)
		return b.String()
	}
	if len(recent) == 0 {
		return b.String()
	}
	b.WriteString("\nRecent transfers:\n")
	for _, t := range recent {
		fmt.Fprintf(&b, "%s %s", outcomeIcon(t.Outcome), transferName(t))
		if t.Outcome == statsdb.OutcomeSucceeded {
			fmt.Fprintf(&b, " (%s)", humanize.IBytes(uint64(t.Bytes)))
		}
		fmt.Fprintf(&b, ", %s\n", humanize.RelTime(t.StartedAt, o.now(), "ago", "from now"))
	}
	return b.String()
}

func outcomeIcon(o statsdb.Outcome) string {
	switch o {
	case statsdb.OutcomeSucceeded:
		return "✅"
	case statsdb.OutcomeFailed:
		return "❌"
	case statsdb.OutcomeInterrupted:
		return "⚠️"
	default:
		return "🔄"
	}
}

func transferName(t statsdb.Transfer) string {
	if t.Path != "" {
		return filepath.Base(t.Path)
	}
	if t.FileName != "" {
		return t.FileName
	}
	return "(unnamed)"
}

func (o *Observer) formatDisk() string {
	u, err := o.diskStat(o.DownloadPath)
	if err != nil {
		o.logger.Error("observer: failed to read disk usage", "path", o.DownloadPath, "err", err)
		return "❌ Could not read disk usage."
	}
	return diskusage.Format(o.DownloadPath, u, o.DiskWarnPercent)
}

func (o *Observer) formatLogs() string {
	path := o.LogPath()
	lines, err := logging.Tail(path, logTailLines)
	if err != nil {
		o.logger.Error("observer: failed to read log file", "err", err)
		return "❌ Could not read the log file."
	}
	if len(lines) == 0 {
		return "📜 The log file is empty."
	}
	text := strings.Join(lines, "\n")
	if len(text) > maxMessageLen {
		i := len(text) - maxMessageLen
		for i < len(text) && !utf8.RuneStart(text[i]) {
			i++
		}
		text = "…" + text[i:]
	}
	return fmt.Sprintf("📜 Last %d log lines:\n\n%s", len(lines), text)
}

func (o *Observer) sendLogFile(ctx context.Context, ev inbound.Event) {
	path := o.LogPath()
	if err := o.Chat.SendDocument(ctx, ev.MessageID, path, "📜 "+filepath.Base(path)); err != nil {
		metrics.NotificationErrors.WithLabelValues("document").Inc()
		o.logger.Error("observer: failed to send log file", "path", path, "err", err)
		o.reply(ctx, ev, "❌ Could not send the log file.")
	}
}
