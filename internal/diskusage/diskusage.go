// Package diskusage reports space on the filesystem holding a path.
package diskusage

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// DefaultWarnPercent is the used-space percentage that triggers a warning.
const DefaultWarnPercent = 90

// statProvider allows tests to override the platform query.
var statProvider = statPlatform

// Usage is a filesystem capacity snapshot in bytes.
type Usage struct {
	Total uint64
	Used  uint64
	Free  uint64 // available to unprivileged users
}

// UsedPercent returns Used as a percentage of Total.
func (u Usage) UsedPercent() float64 {
	if u.Total == 0 {
		return 0
	}
	return float64(u.Used) / float64(u.Total) * 100
}

// Low reports whether used space has reached thresholdPercent.
func (u Usage) Low(thresholdPercent int) bool {
	return u.Total > 0 && u.UsedPercent() >= float64(thresholdPercent)
}

// Stat returns usage for the filesystem containing path.
func Stat(path string) (Usage, error) {
	u, err := statProvider(path)
	if err != nil {
		return Usage{}, fmt.Errorf("diskusage: stat %q: %w", path, err)
	}
	return u, nil
}

// Format renders the /disk reply.
func Format(path string, u Usage, thresholdPercent int) string {
	s := fmt.Sprintf("💾 Disk usage for %s\n\n"+
		"Total: %s\n"+
		"Used: %s (%.1f%%)\n"+
		"Free: %s",
		path,
		humanize.IBytes(u.Total),
		humanize.IBytes(u.Used), u.UsedPercent(),
		humanize.IBytes(u.Free))
	if u.Low(thresholdPercent) {
		s += fmt.Sprintf("\n\n⚠️ Low disk space: usage is above %d%%", thresholdPercent)
	}
	return s
}
