// Package inbound holds the transport-neutral view of a chat message.
package inbound

import (
	"strconv"
	"strings"
)

// Sender identifies who posted a message.
type Sender struct {
	ID       int64
	Username string
}

// String renders the sender for log lines, e.g. "@alice (ID: 42)".
func (s Sender) String() string {
	name := s.Username
	if name == "" {
		name = "unknown"
	}
	id := "unknown"
	if s.ID != 0 {
		id = strconv.FormatInt(s.ID, 10)
	}
	return "@" + name + " (ID: " + id + ")"
}

// Media references a downloadable attachment. Size is 0 when the
// transport did not report it.
type Media struct {
	FileID   string
	FileName string
	MimeType string
	Kind     string // document, video, audio, photo, voice, animation, video_note
	Size     int64
}

// Event is one message observed in a chat.
type Event struct {
	ChatID    int64
	MessageID int64
	Sender    Sender
	Text      string
	Media     *Media
}

// HasMedia reports whether the event carries an attachment.
func (e Event) HasMedia() bool {
	return e.Media != nil
}

// Command splits a "/cmd@bot args" text into "/cmd" and "args". It
// returns an empty command for text that does not start with a slash.
func (e Event) Command() (cmd, args string) {
	text := strings.TrimSpace(e.Text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	cmd, args, _ = strings.Cut(text, " ")
	args = strings.TrimSpace(args)
	// Strip @botname suffix from commands (e.g., /status@mybot)
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	return cmd, args
}
