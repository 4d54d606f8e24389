package logclass

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCategoryFirstMatchWins(t *testing.T) {
	c := New(nil)
	cases := []struct {
		line string
		want Category
	}{
		{"[10:00:01] 🚀 start", Start},
		{"[10:00:05] ✅ done", Success},
		{"❌ 请求失败", Error},
		{"📊 statistics: 12 posts", Stats},
		{"💾 saved 30 rows", Storage},
		{"⏱ elapsed 2.1s", Time},
		{"🔍 inspecting cursor", Debug},
		{"⚠️ rate limited", Warning},
		{"🌐 GET /api/feed", Network},
		{"🌐 请求第 3 页", Network},
		{"[10:00:03] ⏹️ 收到停止请求，正在停止...", Stop},
		{"🛑 任务已停止", Stop},
		{"📋 summary ready", Summary},
		{"⏳ 3/10", Progress},
		{"📌 state changed", Status},
		{"plain line", Info},
		{"Crawl STARTED", Start},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, c.Category(tc.line), tc.line)
	}
}

func TestCustomRulesReplaceDefaults(t *testing.T) {
	c := New([]Rule{{Category: Warning, Markers: []string{"SLOW", ""}}})
	require.Equal(t, Warning, c.Category("request slow"))
	require.Equal(t, Info, c.Category("✅ done"))
}

func TestExtractTimestamp(t *testing.T) {
	stamp, rest, ok := ExtractTimestamp("[10:00:01] 🚀 start")
	require.True(t, ok)
	require.Equal(t, "10:00:01", stamp)
	require.Equal(t, "🚀 start", rest)

	_, rest, ok = ExtractTimestamp("no stamp [10:00:01]")
	require.False(t, ok)
	require.Equal(t, "no stamp [10:00:01]", rest)
}

func TestClassifyFallsBackToWallClock(t *testing.T) {
	c := New(nil)
	c.now = func() time.Time { return time.Date(2026, 1, 2, 9, 8, 7, 0, time.UTC) }

	entry := c.Classify("✅ done")
	require.False(t, entry.Stamped)
	require.Equal(t, "09:08:07", entry.Time)
	require.Equal(t, Success, entry.Category)

	entry = c.Classify("[23:59:58] ❌ failed")
	require.True(t, entry.Stamped)
	require.Equal(t, "23:59:58", entry.Time)
	require.Equal(t, "❌ failed", entry.Text)
	require.Equal(t, Error, entry.Category)
}
