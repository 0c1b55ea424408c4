package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progitto/TelegramMediaDownload/internal/inbound"
)

func TestPollerEmitsEventsInOrder(t *testing.T) {
	api, bot := newFakeAPI(t)
	var round atomic.Int32
	api.handle("getUpdates", func(w http.ResponseWriter, r *http.Request) {
		var req getUpdatesRequest
		json.NewDecoder(r.Body).Decode(&req)
		switch round.Add(1) {
		case 1:
			assert.Equal(t, int64(0), req.Offset)
			writeResult(w, []Update{
				{UpdateID: 10, Message: &Message{MessageID: 1, Chat: Chat{ID: 5}, From: &User{ID: 7, Username: "alice"}, Text: "/status"}},
				{UpdateID: 11},
				{UpdateID: 12, ChannelPost: &Message{MessageID: 2, Chat: Chat{ID: 5}, Photo: []PhotoSize{{FileID: "s"}, {FileID: "l", FileSize: 9}}}},
			})
		default:
			assert.Equal(t, int64(13), req.Offset)
			writeResult(w, []Update{})
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan inbound.Event)
	go NewPoller(bot, slog.New(slog.NewTextHandler(io.Discard, nil))).Run(ctx, out)

	first := <-out
	assert.Equal(t, int64(1), first.MessageID)
	assert.Equal(t, "alice", first.Sender.Username)
	cmd, _ := first.Command()
	assert.Equal(t, "/status", cmd)

	second := <-out
	require.NotNil(t, second.Media)
	assert.Equal(t, "l", second.Media.FileID)
	assert.Equal(t, "photo", second.Media.Kind)
	assert.Equal(t, int64(0), second.Sender.ID)

	require.Eventually(t, func() bool { return round.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	for range out {
	}
}

func TestPollerClosesOnCancel(t *testing.T) {
	api, bot := newFakeAPI(t)
	api.handle("getUpdates", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusInternalServerError, "Internal Server Error", 0)
	})

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan inbound.Event)
	done := make(chan struct{})
	go func() {
		NewPoller(bot, slog.New(slog.NewTextHandler(io.Discard, nil))).Run(ctx, out)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
	_, ok := <-out
	assert.False(t, ok)
}

func TestToEventMediaKinds(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		kind string
		file string
	}{
		{"document", Message{Document: &Document{FileID: "d", FileName: "a.pdf"}}, "document", "a.pdf"},
		{"video", Message{Video: &Video{FileID: "v", FileName: "clip.mp4"}}, "video", "clip.mp4"},
		{"animation wins over document", Message{Animation: &Document{FileID: "g"}, Document: &Document{FileID: "g"}}, "animation", ""},
		{"audio", Message{Audio: &Audio{FileID: "a", FileName: "song.mp3"}}, "audio", "song.mp3"},
		{"voice", Message{Voice: &Voice{FileID: "o"}}, "voice", ""},
		{"video note", Message{VideoNote: &VideoNote{FileID: "n"}}, "video_note", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := ToEvent(&tt.msg)
			require.NotNil(t, ev.Media)
			assert.Equal(t, tt.kind, ev.Media.Kind)
			assert.Equal(t, tt.file, ev.Media.FileName)
		})
	}

	ev := ToEvent(&Message{Text: "hi", From: &User{ID: 3}})
	assert.False(t, ev.HasMedia())
	assert.Equal(t, int64(3), ev.Sender.ID)
}
