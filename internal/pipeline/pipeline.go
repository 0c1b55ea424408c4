// Package pipeline downloads one media attachment end to end: admission
// against the pause flag, streaming to disk with progress edits, and the
// bookkeeping that follows.
package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/progitto/TelegramMediaDownload/internal/inbound"
	"github.com/progitto/TelegramMediaDownload/internal/metrics"
	"github.com/progitto/TelegramMediaDownload/internal/progress"
	"github.com/progitto/TelegramMediaDownload/internal/statsdb"
)

// Status texts shown in the chat.
const (
	msgStarting = "🔄 Starting download... 0%"
	msgDone     = "📥 Download completed! ✅"
	msgFailed   = "❌ Download failed!"
	msgFallback = "❌ An error occurred during download."
)

// finalizeTimeout bounds the bookkeeping and final notice that follow a
// transfer. They run even when the transfer's context was cancelled.
const finalizeTimeout = 10 * time.Second

// Outcome is the terminal state of one Handle call.
type Outcome int

const (
	Skipped Outcome = iota
	Succeeded
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Stream is an open media payload.
type Stream struct {
	Body io.ReadCloser
	Size int64  // 0 if unknown
	Name string // suggested file name, may be empty
}

// Source opens the payload behind a media reference.
type Source interface {
	Open(ctx context.Context, m inbound.Media) (*Stream, error)
}

// Messenger posts and edits messages in the monitored chat. Progress is an
// edit that may be dropped instead of waiting for the chat's rate limit.
type Messenger interface {
	Reply(ctx context.Context, replyTo int64, text string) (int64, error)
	Edit(ctx context.Context, messageID int64, text string) error
	Progress(ctx context.Context, messageID int64, text string) error
}

// Counters is the durable statistics store.
type Counters interface {
	Attempt() error
	Succeed(n uint64) error
	Fail() error
}

// Journal records transfer history. It may be nil.
type Journal interface {
	Begin(ctx context.Context, t statsdb.Transfer) error
	Finish(ctx context.Context, id string, r statsdb.Result, finishedAt time.Time) error
}

// Admission tells whether new transfers may start.
type Admission interface {
	Running() bool
}

// Pipeline runs transfers into one directory.
type Pipeline struct {
	dir       string
	admission Admission
	counters  Counters
	journal   Journal
	source    Source
	messenger Messenger
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Pipeline writing into dir.
func New(dir string, admission Admission, counters Counters, journal Journal, source Source, messenger Messenger, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		dir:       dir,
		admission: admission,
		counters:  counters,
		journal:   journal,
		source:    source,
		messenger: messenger,
		logger:    logger,
		now:       time.Now,
	}
}

// result describes a file that landed in the download directory.
type result struct {
	path     string
	size     int64
	checksum string
}

// Handle runs one admitted event. The caller has already passed the event
// through the access gate. The pause flag is read exactly once, here; a
// transfer that got past it runs to completion even if paused later.
func (p *Pipeline) Handle(ctx context.Context, ev inbound.Event) Outcome {
	if ev.Media == nil {
		p.logger.Info("pipeline: message does not contain media, ignored", "message_id", ev.MessageID)
		return Skipped
	}
	if !p.admission.Running() {
		p.logger.Info("pipeline: downloads paused, media skipped", "message_id", ev.MessageID)
		metrics.TransfersTotal.WithLabelValues(Skipped.String()).Inc()
		return Skipped
	}

	id := ulid.Make().String()
	start := p.now()
	log := p.logger.With("transfer", id)
	log.Info("pipeline: starting media download",
		"kind", ev.Media.Kind, "file_name", ev.Media.FileName, "size", ev.Media.Size)

	// The attempt is flushed before any byte moves, so a crash from here on
	// leaves an attempt with no matching outcome.
	p.persist(log, p.counters.Attempt())
	if p.journal != nil {
		if err := p.journal.Begin(ctx, statsdb.Transfer{
			ID:            id,
			ChatID:        ev.ChatID,
			MessageID:     ev.MessageID,
			Sender:        ev.Sender.String(),
			FileName:      ev.Media.FileName,
			ExpectedBytes: ev.Media.Size,
			StartedAt:     start,
		}); err != nil {
			log.Warn("pipeline: failed to journal transfer start", "err", err)
		}
	}

	metrics.TransfersInFlight.Inc()
	defer metrics.TransfersInFlight.Dec()

	statusID, err := p.messenger.Reply(ctx, ev.MessageID, msgStarting)
	if err != nil {
		p.notifyFailed(log, &NotificationError{Op: "reply", Err: err})
		statusID = 0
	}

	res, err := p.transfer(ctx, *ev.Media, statusID, log)
	metrics.TransferDuration.Observe(p.now().Sub(start).Seconds())

	// A shutdown cancels ctx mid-copy; the outcome must still reach the
	// journal and the chat.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err != nil {
		log.Error("pipeline: error during download", "err", err)
		p.persist(log, p.counters.Fail())
		p.finishJournal(fctx, log, id, statsdb.Result{Outcome: statsdb.OutcomeFailed, Err: err})
		metrics.TransfersTotal.WithLabelValues(Failed.String()).Inc()
		p.finalNotice(fctx, log, ev.MessageID, statusID, msgFailed)
		return Failed
	}

	log.Info("pipeline: file downloaded",
		"path", res.path, "size_mb", fmt.Sprintf("%.2f", float64(res.size)/(1024*1024)))
	p.persist(log, p.counters.Succeed(uint64(res.size)))
	p.finishJournal(fctx, log, id, statsdb.Result{
		Outcome:  statsdb.OutcomeSucceeded,
		Path:     res.path,
		Bytes:    res.size,
		Checksum: res.checksum,
	})
	metrics.TransfersTotal.WithLabelValues(Succeeded.String()).Inc()
	metrics.TransferBytesTotal.Add(float64(res.size))
	p.finalNotice(fctx, log, ev.MessageID, statusID,
		fmt.Sprintf("%s\n📄 %s (%.1f MB)", msgDone, filepath.Base(res.path), float64(res.size)/(1024*1024)))
	return Succeeded
}

func (p *Pipeline) transfer(ctx context.Context, m inbound.Media, statusID int64, log *slog.Logger) (result, error) {
	stream, err := p.source.Open(ctx, m)
	if err != nil {
		return result{}, &TransferError{Op: "open", Err: err}
	}
	defer stream.Body.Close()

	total := stream.Size
	if total <= 0 {
		total = m.Size
	}
	name := fileName(stream.Name, m, p.now())
	partPath := filepath.Join(p.dir, name+".part")

	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return result{}, &TransferError{Op: "open", Err: err}
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		f.Close()
		os.Remove(partPath)
		return result{}, &TransferError{Op: "open", Err: err}
	}

	cursor := progress.NewCursor()
	pw := &progressWriter{
		ctx:   ctx,
		w:     io.MultiWriter(f, h),
		total: total,
		report: func(current, total uint64) {
			text, ok := cursor.Report(current, total)
			if !ok || statusID == 0 {
				return
			}
			if err := p.messenger.Progress(ctx, statusID, text); err != nil {
				p.notifyFailed(log, &NotificationError{Op: "edit", Err: err})
			}
		},
	}

	_, copyErr := io.Copy(pw, stream.Body)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(partPath)
		return result{}, &TransferError{Op: "copy", Err: copyErr}
	}
	if closeErr != nil {
		os.Remove(partPath)
		return result{}, &TransferError{Op: "close", Err: closeErr}
	}

	finalPath, err := uniquePath(p.dir, name)
	if err != nil {
		os.Remove(partPath)
		return result{}, &TransferError{Op: "rename", Err: err}
	}
	if err := os.Rename(partPath, finalPath); err != nil {
		os.Remove(partPath)
		return result{}, &TransferError{Op: "rename", Err: err}
	}

	fi, err := os.Stat(finalPath)
	if err != nil {
		return result{}, &TransferError{Op: "stat", Err: err}
	}
	return result{
		path:     finalPath,
		size:     fi.Size(),
		checksum: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// finalNotice replaces the status message with text, falling back to a new
// reply when there is no status message or the edit fails.
func (p *Pipeline) finalNotice(ctx context.Context, log *slog.Logger, replyTo, statusID int64, text string) {
	if statusID != 0 {
		err := p.messenger.Edit(ctx, statusID, text)
		if err == nil {
			return
		}
		p.notifyFailed(log, &NotificationError{Op: "edit", Err: err})
	}
	fallback := text
	if text == msgFailed {
		fallback = msgFallback
	}
	if _, err := p.messenger.Reply(ctx, replyTo, fallback); err != nil {
		p.notifyFailed(log, &NotificationError{Op: "reply", Err: err})
	}
}

func (p *Pipeline) notifyFailed(log *slog.Logger, err *NotificationError) {
	metrics.NotificationErrors.WithLabelValues(err.Op).Inc()
	log.Warn("pipeline: error updating status message", "err", err)
}

func (p *Pipeline) persist(log *slog.Logger, err error) {
	if err == nil {
		return
	}
	metrics.PersistenceErrors.Inc()
	log.Warn("pipeline: failed to save statistics", "err", err)
}

func (p *Pipeline) finishJournal(ctx context.Context, log *slog.Logger, id string, r statsdb.Result) {
	if p.journal == nil {
		return
	}
	if err := p.journal.Finish(ctx, id, r, p.now()); err != nil {
		log.Warn("pipeline: failed to journal transfer result", "err", err)
	}
}

// progressWriter counts bytes on their way to disk and reports after each
// write. It fails the copy once ctx is done.
type progressWriter struct {
	ctx     context.Context
	w       io.Writer
	total   int64
	written int64
	report  func(current, total uint64)
}

func (pw *progressWriter) Write(b []byte) (int, error) {
	if err := pw.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := pw.w.Write(b)
	pw.written += int64(n)
	if n > 0 && pw.total > 0 {
		pw.report(uint64(pw.written), uint64(pw.total))
	}
	return n, err
}
