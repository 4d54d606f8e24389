// Package logclass derives cosmetic display categories and timestamps from raw
// task log lines. Nothing here affects task state.
package logclass

import (
	"regexp"
	"strings"
	"time"
)

// Category is a display group for a log line.
type Category string

// Categories recognized by the default rule table.
const (
	Start    Category = "start"
	Success  Category = "success"
	Error    Category = "error"
	Stats    Category = "stats"
	Storage  Category = "storage"
	Time     Category = "time"
	Debug    Category = "debug"
	Warning  Category = "warning"
	Stop     Category = "stop"
	Network  Category = "network"
	Summary  Category = "summary"
	Progress Category = "progress"
	Status   Category = "status"
	Info     Category = "info"
)

// Rule maps any of its markers (substring match) to a category.
type Rule struct {
	Category Category
	Markers  []string
}

// DefaultRules is the rule table for the crawler log convention: emoji first,
// then English and Chinese keywords. Order matters; the first match wins.
var DefaultRules = []Rule{
	{Category: Start, Markers: []string{"🚀", "▶️", "开始", "启动", "starting", "started"}},
	{Category: Success, Markers: []string{"✅", "🎉", "成功", "完成", "success", "done"}},
	{Category: Error, Markers: []string{"❌", "🚫", "错误", "失败", "error", "failed"}},
	{Category: Stats, Markers: []string{"📊", "📈", "统计", "stats"}},
	{Category: Storage, Markers: []string{"💾", "🗄", "保存", "存储", "saved", "storage"}},
	{Category: Time, Markers: []string{"⏱", "⏰", "⌛", "耗时", "elapsed"}},
	{Category: Debug, Markers: []string{"🔍", "🐛", "调试", "debug"}},
	{Category: Warning, Markers: []string{"⚠️", "⚠", "警告", "warning", "warn"}},
	{Category: Stop, Markers: []string{"⏹", "🛑", "停止", "stopping", "stopped"}},
	{Category: Network, Markers: []string{"🌐", "📡", "网络", "请求", "network", "http"}},
	{Category: Summary, Markers: []string{"📋", "📝", "总结", "汇总", "summary"}},
	{Category: Progress, Markers: []string{"⏳", "🔄", "进度", "progress"}},
	{Category: Status, Markers: []string{"📌", "ℹ️", "状态", "status"}},
}

var timestampPattern = regexp.MustCompile(`^\s*\[(\d{2}):(\d{2}):(\d{2})\]\s*`)

// Entry is a classified, display-ready log line.
type Entry struct {
	Time     string
	Category Category
	Text     string
	// Stamped reports whether Time came from the line itself.
	Stamped bool
}

// Classifier applies a rule table to log lines.
type Classifier struct {
	rules []Rule
	now   func() time.Time
}

// New returns a classifier for rules. A nil rule table uses DefaultRules.
func New(rules []Rule) *Classifier {
	if rules == nil {
		rules = DefaultRules
	}
	lowered := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		markers := make([]string, 0, len(rule.Markers))
		for _, marker := range rule.Markers {
			if marker == "" {
				continue
			}
			markers = append(markers, strings.ToLower(marker))
		}
		lowered = append(lowered, Rule{Category: rule.Category, Markers: markers})
	}
	return &Classifier{rules: lowered, now: time.Now}
}

// Category returns the first matching category for line, or Info.
func (c *Classifier) Category(line string) Category {
	text := strings.ToLower(line)
	for _, rule := range c.rules {
		for _, marker := range rule.Markers {
			if strings.Contains(text, marker) {
				return rule.Category
			}
		}
	}
	return Info
}

// Classify returns the display entry for line. Lines without a leading
// [HH:MM:SS] token are stamped with the current wall clock.
func (c *Classifier) Classify(line string) Entry {
	stamp, rest, ok := ExtractTimestamp(line)
	entry := Entry{
		Category: c.Category(line),
		Text:     rest,
		Stamped:  ok,
		Time:     stamp,
	}
	if !ok {
		entry.Time = c.now().Format("15:04:05")
	}
	return entry
}

// ExtractTimestamp splits a leading [HH:MM:SS] token from line.
func ExtractTimestamp(line string) (stamp string, rest string, ok bool) {
	match := timestampPattern.FindStringSubmatchIndex(line)
	if match == nil {
		return "", line, false
	}
	stamp = line[match[2]:match[3]] + ":" + line[match[4]:match[5]] + ":" + line[match[6]:match[7]]
	return stamp, line[match[1]:], true
}
