// Package droplog summarizes dropped upstream items instead of logging each one.
// Samples are scrubbed of anything that looks like a credential.
package droplog

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultInterval = 5 * time.Second
	SampleMaxLen    = 96
	ChannelMaxLen   = 32
)

var (
	oauthTokenRe = regexp.MustCompile(`(?i)oauth:[^\s;]+`)
	bearerRe     = regexp.MustCompile(`(?i)bearer\s+[^\s;]+`)
	longTokenRe  = regexp.MustCompile(`[A-Za-z0-9+/_=\-]{24,}`)
)

// Item describes one dropped payload.
type Item struct {
	Kind    string
	Channel string
	Sample  string
}

type reasonSummary struct {
	total     int
	byKind    map[string]int
	sampleBy  map[string]string
	channelBy map[string]string
}

// Logger aggregates drops per reason and emits one summary line per reason per interval.
type Logger struct {
	source   string
	verbose  bool
	interval time.Duration

	mu       sync.Mutex
	nextEmit time.Time
	reasons  map[string]*reasonSummary
	total    int
}

func New(source string, now time.Time, verbose bool, interval time.Duration) *Logger {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Logger{
		source:   source,
		verbose:  verbose,
		interval: interval,
		nextEmit: now.Add(interval),
		reasons:  make(map[string]*reasonSummary),
	}
}

func (d *Logger) Note(now time.Time, reason string, item Item) {
	if d == nil {
		return
	}
	kind := strings.TrimSpace(item.Kind)
	if kind == "" {
		kind = "UNKNOWN"
	}
	sample := Sanitize(item.Sample, SampleMaxLen)
	channel := Sanitize(item.Channel, ChannelMaxLen)

	if d.verbose {
		slog.Debug(d.source+": dropped item", "reason", reason, "kind", kind, "channel", channel, "sample", sample)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entry := d.reasons[reason]
	if entry == nil {
		entry = &reasonSummary{
			byKind:    make(map[string]int),
			sampleBy:  make(map[string]string),
			channelBy: make(map[string]string),
		}
		d.reasons[reason] = entry
	}
	entry.total++
	d.total++
	entry.byKind[kind]++
	if _, ok := entry.sampleBy[kind]; !ok {
		entry.sampleBy[kind] = sample
	}
	if _, ok := entry.channelBy[kind]; !ok {
		entry.channelBy[kind] = channel
	}

	if !now.Before(d.nextEmit) {
		d.flushLocked(now)
	}
}

func (d *Logger) Flush(now time.Time) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked(now)
}

// Total is the number of drops noted since creation.
func (d *Logger) Total() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

func (d *Logger) flushLocked(now time.Time) {
	for _, reason := range sortedKeys(d.reasons) {
		rs := d.reasons[reason]
		if rs == nil || rs.total == 0 {
			continue
		}
		slog.Info(d.source+": dropped_"+reason,
			"total", rs.total,
			"kinds", formatCounts(rs.byKind),
			"samples", formatSamples(rs.sampleBy, rs.channelBy),
		)
	}
	clear(d.reasons)
	d.nextEmit = now.Add(d.interval)
}

// Sanitize collapses whitespace, redacts token-like substrings and truncates to max bytes.
func Sanitize(s string, max int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.Join(strings.Fields(s), " ")

	upper := strings.ToUpper(s)
	if strings.HasPrefix(upper, "PASS ") || upper == "PASS" {
		s = "PASS [REDACTED]"
	}

	s = oauthTokenRe.ReplaceAllString(s, "oauth:[REDACTED]")
	s = bearerRe.ReplaceAllString(s, "Bearer [REDACTED]")
	s = longTokenRe.ReplaceAllStringFunc(s, func(v string) string {
		if strings.HasPrefix(v, "#") {
			return v
		}
		return "[REDACTED]"
	})

	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// DebugEnv reads a boolean debug toggle such as GNASTY_TWITCH_DEBUG_DROPS.
func DebugEnv(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(counts))
	for _, k := range sortedKeys(counts) {
		parts = append(parts, fmt.Sprintf("%s:%d", k, counts[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func formatSamples(samples map[string]string, channels map[string]string) string {
	if len(samples) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(samples))
	for _, k := range sortedKeys(samples) {
		sample := samples[k]
		if channel := channels[k]; channel != "" {
			parts = append(parts, k+":'"+channel+" "+sample+"'")
			continue
		}
		parts = append(parts, k+":'"+sample+"'")
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
