package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progitto/TelegramMediaDownload/internal/inbound"
	"github.com/progitto/TelegramMediaDownload/internal/state"
	"github.com/progitto/TelegramMediaDownload/internal/stats"
	"github.com/progitto/TelegramMediaDownload/internal/statsdb"
)

const tenMiB = 10 * 1024 * 1024

// chunkedBody delivers its payload in fixed chunks through WriteTo, so the
// copy loop sees exactly one write per chunk.
type chunkedBody struct {
	chunks []int
	failAt int // index of the chunk that fails; -1 for none
	after  func(i int)
	closed bool
}

func (b *chunkedBody) Read([]byte) (int, error) { return 0, io.EOF }

func (b *chunkedBody) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for i, n := range b.chunks {
		if i == b.failAt {
			return total, errors.New("connection reset by peer")
		}
		m, err := w.Write(bytes.Repeat([]byte{byte('a' + i)}, n))
		total += int64(m)
		if err != nil {
			return total, err
		}
		if b.after != nil {
			b.after(i)
		}
	}
	return total, nil
}

func (b *chunkedBody) Close() error {
	b.closed = true
	return nil
}

type fakeSource struct {
	body    *chunkedBody
	size    int64
	name    string
	openErr error
}

func (s *fakeSource) Open(context.Context, inbound.Media) (*Stream, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &Stream{Body: s.body, Size: s.size, Name: s.name}, nil
}

type fakeMessenger struct {
	mu       sync.Mutex
	replies  []string
	edits    []string
	nextID   int64
	replyErr error
	editErr  func(text string) error
}

func (m *fakeMessenger) Reply(ctx context.Context, _ int64, text string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if m.replyErr != nil {
		return 0, m.replyErr
	}
	m.replies = append(m.replies, text)
	m.nextID++
	return 100 + m.nextID, nil
}

func (m *fakeMessenger) Edit(ctx context.Context, _ int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.editErr != nil {
		if err := m.editErr(text); err != nil {
			return err
		}
	}
	m.edits = append(m.edits, text)
	return nil
}

func (m *fakeMessenger) Progress(ctx context.Context, id int64, text string) error {
	return m.Edit(ctx, id, text)
}

func (m *fakeMessenger) progressEdits() []string {
	var out []string
	for _, e := range m.edits {
		if strings.HasPrefix(e, "📥 Downloading:") {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	dir      string
	state    *state.State
	counters *stats.Counters
	journal  *statsdb.Store
	source   *fakeSource
	msgr     *fakeMessenger
	logs     *bytes.Buffer
	p        *Pipeline
}

func newHarness(t *testing.T, src *fakeSource) *harness {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tmp := t.TempDir()
	dir := filepath.Join(tmp, "downloads")
	require.NoError(t, os.Mkdir(dir, 0o755))

	journal, err := statsdb.Open(filepath.Join(tmp, "history.sqlite"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	h := &harness{
		dir:      dir,
		state:    state.New(time.Now()),
		counters: stats.Load(filepath.Join(tmp, "stats.json"), logger),
		journal:  journal,
		source:   src,
		msgr:     &fakeMessenger{},
		logs:     &logs,
	}
	h.p = New(dir, h.state, h.counters, h.journal, h.source, h.msgr, logger)
	return h
}

func mediaEvent() inbound.Event {
	return inbound.Event{
		ChatID:    1001,
		MessageID: 7,
		Sender:    inbound.Sender{ID: 1, Username: "alice"},
		Media:     &inbound.Media{FileID: "file-1", FileName: "movie.mkv", Kind: "document", Size: tenMiB},
	}
}

// scenarioChunks crosses 10%, 47%, 51% and 100% of 10 MiB.
func scenarioChunks() []int {
	p10 := tenMiB / 10
	p47 := tenMiB * 47 / 100
	p51 := tenMiB * 51 / 100
	return []int{p10, p47 - p10, p51 - p47, tenMiB - p51}
}

func TestHandleScenarioTenMiB(t *testing.T) {
	h := newHarness(t, &fakeSource{
		body: &chunkedBody{chunks: scenarioChunks(), failAt: -1},
		size: tenMiB,
	})

	out := h.p.Handle(context.Background(), mediaEvent())
	require.Equal(t, Succeeded, out)

	assert.Equal(t, []string{msgStarting}, h.msgr.replies)
	edits := h.msgr.progressEdits()
	require.Len(t, edits, 4)
	assert.Contains(t, edits[0], "10.0%")
	assert.Contains(t, edits[1], "47.0%")
	assert.Contains(t, edits[2], "51.0%")
	assert.Contains(t, edits[3], "100.0%")
	last := h.msgr.edits[len(h.msgr.edits)-1]
	assert.True(t, strings.HasPrefix(last, msgDone), "final edit %q", last)
	assert.Len(t, h.msgr.edits, 5)

	assert.Equal(t, stats.Record{Downloads: 1, Success: 1, Failed: 0, TotalBytes: tenMiB}, h.counters.Snapshot())

	fi, err := os.Stat(filepath.Join(h.dir, "movie.mkv"))
	require.NoError(t, err)
	assert.Equal(t, int64(tenMiB), fi.Size())
	_, err = os.Stat(filepath.Join(h.dir, "movie.mkv.part"))
	assert.True(t, os.IsNotExist(err), "partial file must be gone")
	assert.True(t, h.source.body.closed)

	recent, err := h.journal.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, statsdb.OutcomeSucceeded, recent[0].Outcome)
	assert.Equal(t, int64(tenMiB), recent[0].Bytes)
	assert.Len(t, recent[0].Checksum, 64)
	assert.Equal(t, "@alice (ID: 1)", recent[0].Sender)
}

func TestHandlePausedSkips(t *testing.T) {
	h := newHarness(t, &fakeSource{body: &chunkedBody{chunks: []int{10}, failAt: -1}, size: 10})
	h.state.Pause()

	out := h.p.Handle(context.Background(), mediaEvent())
	assert.Equal(t, Skipped, out)
	assert.Equal(t, stats.Record{}, h.counters.Snapshot())
	assert.Empty(t, h.msgr.replies)
	assert.Empty(t, h.msgr.edits)
	assert.Contains(t, h.logs.String(), "downloads paused")

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHandleWithoutMediaSkips(t *testing.T) {
	h := newHarness(t, &fakeSource{})
	ev := mediaEvent()
	ev.Media = nil
	assert.Equal(t, Skipped, h.p.Handle(context.Background(), ev))
	assert.Equal(t, stats.Record{}, h.counters.Snapshot())
}

func TestHandleMidStreamFailure(t *testing.T) {
	h := newHarness(t, &fakeSource{
		body: &chunkedBody{chunks: scenarioChunks(), failAt: 2},
		size: tenMiB,
	})

	out := h.p.Handle(context.Background(), mediaEvent())
	require.Equal(t, Failed, out)

	assert.Equal(t, stats.Record{Downloads: 1, Success: 0, Failed: 1, TotalBytes: 0}, h.counters.Snapshot())
	assert.Equal(t, msgFailed, h.msgr.edits[len(h.msgr.edits)-1])

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial file must be removed")

	recent, err := h.journal.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, statsdb.OutcomeFailed, recent[0].Outcome)
	assert.Contains(t, recent[0].Error, "connection reset by peer")
}

func TestHandleOpenFailure(t *testing.T) {
	h := newHarness(t, &fakeSource{openErr: errors.New("file is too big")})

	out := h.p.Handle(context.Background(), mediaEvent())
	require.Equal(t, Failed, out)
	assert.Equal(t, stats.Record{Downloads: 1, Failed: 1}, h.counters.Snapshot())
	assert.Contains(t, h.logs.String(), "file is too big")
}

func TestProgressEditFailureDoesNotAbort(t *testing.T) {
	h := newHarness(t, &fakeSource{
		body: &chunkedBody{chunks: scenarioChunks(), failAt: -1},
		size: tenMiB,
	})
	h.msgr.editErr = func(text string) error {
		if strings.HasPrefix(text, "📥 Downloading:") {
			return errors.New("message to edit not found")
		}
		return nil
	}

	out := h.p.Handle(context.Background(), mediaEvent())
	require.Equal(t, Succeeded, out)
	assert.Equal(t, uint64(1), h.counters.Snapshot().Success)
	assert.Contains(t, h.logs.String(), "level=WARN")
	assert.Contains(t, h.logs.String(), "message to edit not found")
}

func TestFailureNoticeFallsBackToReply(t *testing.T) {
	h := newHarness(t, &fakeSource{
		body: &chunkedBody{chunks: []int{100, 100}, failAt: 1},
		size: 200,
	})
	h.msgr.editErr = func(string) error { return errors.New("message can't be edited") }

	out := h.p.Handle(context.Background(), mediaEvent())
	require.Equal(t, Failed, out)
	assert.Equal(t, []string{msgStarting, msgFallback}, h.msgr.replies)
}

func TestInitialReplyFailureStillDownloads(t *testing.T) {
	h := newHarness(t, &fakeSource{
		body: &chunkedBody{chunks: []int{50, 50}, failAt: -1},
		size: 100,
	})
	h.msgr.replyErr = errors.New("chat write forbidden")

	out := h.p.Handle(context.Background(), mediaEvent())
	require.Equal(t, Succeeded, out)
	assert.Empty(t, h.msgr.edits, "no status message to edit")
	assert.Equal(t, stats.Record{Downloads: 1, Success: 1, TotalBytes: 100}, h.counters.Snapshot())
}

func TestNameCollisionGetsSuffix(t *testing.T) {
	h := newHarness(t, &fakeSource{
		body: &chunkedBody{chunks: []int{3}, failAt: -1},
		size: 3,
	})
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "movie.mkv"), []byte("old"), 0o644))

	out := h.p.Handle(context.Background(), mediaEvent())
	require.Equal(t, Succeeded, out)

	_, err := os.Stat(filepath.Join(h.dir, "movie (1).mkv"))
	require.NoError(t, err)
	old, err := os.ReadFile(filepath.Join(h.dir, "movie.mkv"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(old))
}

func TestUnknownSizeSendsNoProgress(t *testing.T) {
	h := newHarness(t, &fakeSource{
		body: &chunkedBody{chunks: []int{10, 10}, failAt: -1},
	})
	ev := mediaEvent()
	ev.Media.Size = 0

	out := h.p.Handle(context.Background(), ev)
	require.Equal(t, Succeeded, out)
	assert.Empty(t, h.msgr.progressEdits())
	assert.Equal(t, uint64(20), h.counters.Snapshot().TotalBytes)
}

func TestCancelledContextFailsTransfer(t *testing.T) {
	h := newHarness(t, &fakeSource{
		body: &chunkedBody{chunks: []int{10}, failAt: -1},
		size: 10,
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := h.p.Handle(ctx, mediaEvent())
	assert.Equal(t, Failed, out)
	assert.Equal(t, uint64(1), h.counters.Snapshot().Failed)
	assert.Equal(t, []string{msgFallback}, h.msgr.replies, "failure is still reported")
}

func TestShutdownMidStreamIsRecordedAsFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, &fakeSource{
		body: &chunkedBody{
			chunks: []int{100, 100},
			failAt: -1,
			after: func(i int) {
				if i == 0 {
					cancel()
				}
			},
		},
		size: 200,
	})

	out := h.p.Handle(ctx, mediaEvent())
	require.Equal(t, Failed, out)
	assert.Equal(t, stats.Record{Downloads: 1, Failed: 1}, h.counters.Snapshot())
	assert.Equal(t, msgFailed, h.msgr.edits[len(h.msgr.edits)-1])

	recent, err := h.journal.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, statsdb.OutcomeFailed, recent[0].Outcome)
	assert.Contains(t, recent[0].Error, context.Canceled.Error())

	n, err := h.journal.MarkInterrupted(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n, "a clean shutdown is not a crash")

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCountersInvariant(t *testing.T) {
	h := newHarness(t, nil)
	runs := []*chunkedBody{
		{chunks: []int{10}, failAt: -1},
		{chunks: []int{10, 10}, failAt: 1},
		{chunks: []int{5}, failAt: -1},
	}
	for _, body := range runs {
		h.source = &fakeSource{body: body, size: 20}
		h.p.source = h.source
		h.p.Handle(context.Background(), mediaEvent())
		rec := h.counters.Snapshot()
		assert.GreaterOrEqual(t, rec.Downloads, rec.Success+rec.Failed)
	}
	assert.Equal(t, stats.Record{Downloads: 3, Success: 2, Failed: 1, TotalBytes: 15}, h.counters.Snapshot())
}
