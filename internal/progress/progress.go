// Package progress turns byte counts into rate-limited status text.
package progress

import (
	"fmt"
	"strings"
)

const (
	barWidth    = 20
	bucketWidth = 100 / barWidth // percentage points per bucket
	mib         = 1024 * 1024
)

// Cursor remembers the last bucket reported for one transfer. A Cursor
// must not be shared between transfers.
type Cursor struct {
	lastBucket int
}

// NewCursor returns a cursor that has reported nothing yet.
func NewCursor() *Cursor {
	return &Cursor{lastBucket: -1}
}

// Report returns the rendered status for current/total when it crosses
// into a bucket that was not reported before. Buckets are reported at most
// once and only in increasing order. A zero total never reports.
func (c *Cursor) Report(current, total uint64) (string, bool) {
	if total == 0 {
		return "", false
	}
	pct := percentage(current, total)
	bucket := int(pct) / bucketWidth
	if bucket <= c.lastBucket {
		return "", false
	}
	c.lastBucket = bucket
	return Render(current, total), true
}

// LastBucket returns the most recently reported bucket, or -1.
func (c *Cursor) LastBucket() int {
	return c.lastBucket
}

// Render formats the progress message for current/total.
func Render(current, total uint64) string {
	pct := 0.0
	if total > 0 {
		pct = percentage(current, total)
	}
	filled := int(pct) / bucketWidth
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	return fmt.Sprintf("📥 Downloading: %.1f%%\n[%s]\n%.1f MB / %.1f MB",
		pct, bar, float64(current)/mib, float64(total)/mib)
}

func percentage(current, total uint64) float64 {
	pct := float64(current) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
