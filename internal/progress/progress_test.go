package progress

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenMiB = 10 * 1024 * 1024

func TestReportScenario(t *testing.T) {
	c := NewCursor()
	points := []struct {
		current    uint64
		wantBucket int
	}{
		{tenMiB / 10, 2},        // 10%
		{tenMiB * 47 / 100, 9},  // 47%
		{tenMiB * 51 / 100, 10}, // 51%
		{tenMiB, 20},            // 100%
	}

	var emitted []int
	for _, p := range points {
		_, ok := c.Report(p.current, tenMiB)
		require.True(t, ok, "expected an update at %d", p.current)
		emitted = append(emitted, c.LastBucket())
		assert.Equal(t, p.wantBucket, c.LastBucket())
	}
	assert.Equal(t, []int{2, 9, 10, 20}, emitted)
}

func TestReportEmitsOncePerBucket(t *testing.T) {
	const total = 1000
	c := NewCursor()
	seen := map[int]bool{}
	updates := 0
	for cur := uint64(0); cur <= total; cur += 7 {
		if _, ok := c.Report(cur, total); ok {
			updates++
			seen[c.LastBucket()] = true
		}
	}
	assert.Equal(t, len(seen), updates)
}

func TestReportNeverRepeatsBucket(t *testing.T) {
	c := NewCursor()
	_, ok := c.Report(50, 100)
	require.True(t, ok)

	_, ok = c.Report(50, 100)
	assert.False(t, ok, "same bucket must be suppressed")
	_, ok = c.Report(54, 100)
	assert.False(t, ok, "same bucket must be suppressed")
	_, ok = c.Report(30, 100)
	assert.False(t, ok, "lower bucket must be suppressed")
	_, ok = c.Report(55, 100)
	assert.True(t, ok)
}

func TestReportZeroTotal(t *testing.T) {
	c := NewCursor()
	msg, ok := c.Report(10, 0)
	assert.False(t, ok)
	assert.Empty(t, msg)
	assert.Equal(t, -1, c.LastBucket())
}

func TestRender(t *testing.T) {
	msg := Render(tenMiB*47/100, tenMiB)
	lines := strings.Split(msg, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "📥 Downloading: 47.0%", lines[0])
	assert.Equal(t, "["+strings.Repeat("█", 9)+strings.Repeat("░", 11)+"]", lines[1])
	assert.Equal(t, "4.7 MB / 10.0 MB", lines[2])
}

func TestRenderClampsOverflow(t *testing.T) {
	msg := Render(150, 100)
	assert.Contains(t, msg, "100.0%")
	assert.Contains(t, msg, "["+strings.Repeat("█", 20)+"]")
}
