package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/progitto/TelegramMediaDownload/internal/inbound"
)

// maxCollisions bounds the "name (n).ext" search.
const maxCollisions = 10000

// fileName picks a safe base name for m. The media's own name wins, then the
// name suggested by the source, then "<kind>_<timestamp><ext>".
func fileName(suggested string, m inbound.Media, now time.Time) string {
	for _, candidate := range []string{m.FileName, suggested} {
		if name := sanitize(candidate); name != "" {
			return name
		}
	}
	kind := m.Kind
	if kind == "" {
		kind = "file"
	}
	return kind + "_" + now.Format("2006-01-02_15-04-05") + extensionFor(m)
}

func sanitize(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "/" || strings.Trim(name, ".") == "" {
		return ""
	}
	return name
}

func extensionFor(m inbound.Media) string {
	switch m.Kind {
	case "photo":
		return ".jpg"
	case "video", "animation", "video_note":
		return ".mp4"
	case "voice":
		return ".ogg"
	case "audio":
		return ".mp3"
	}
	if m.MimeType != "" {
		if exts, err := mime.ExtensionsByType(m.MimeType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	return ""
}

// uniquePath returns dir/name, or dir/"stem (n).ext" for the first n that
// does not exist yet.
func uniquePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < maxCollisions; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)
		_, err := os.Lstat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free name for %q after %d tries", name, maxCollisions)
}
