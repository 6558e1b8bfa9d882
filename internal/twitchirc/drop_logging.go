package twitchirc

import (
	"strings"
	"time"

	"github.com/you/gnasty-live/internal/droplog"
)

type ircSummary struct {
	command string
	channel string
	sample  string
}

func noteDrop(d *droplog.Logger, now time.Time, reason, rawLine string) {
	s := summarizeIRC(rawLine)
	d.Note(now, reason, droplog.Item{Kind: s.command, Channel: s.channel, Sample: s.sample})
}

func summarizeIRC(rawLine string) ircSummary {
	line := strings.TrimSpace(rawLine)
	if line == "" {
		return ircSummary{command: "UNKNOWN"}
	}

	tagPart := ""
	if strings.HasPrefix(line, "@") {
		idx := strings.IndexByte(line, ' ')
		if idx == -1 {
			return ircSummary{command: "UNKNOWN", sample: droplog.Sanitize(line, droplog.SampleMaxLen)}
		}
		tagPart = line[1:idx]
		line = strings.TrimSpace(line[idx+1:])
	}

	if strings.HasPrefix(line, ":") {
		idx := strings.IndexByte(line, ' ')
		if idx == -1 {
			return ircSummary{command: "UNKNOWN", sample: droplog.Sanitize(line, droplog.SampleMaxLen)}
		}
		line = strings.TrimSpace(line[idx+1:])
	}

	if line == "" {
		return ircSummary{command: "UNKNOWN"}
	}

	cmd := line
	rest := ""
	if idx := strings.IndexByte(line, ' '); idx != -1 {
		cmd = line[:idx]
		rest = strings.TrimSpace(line[idx+1:])
	}
	cmd = strings.ToUpper(strings.TrimSpace(cmd))
	if cmd == "" {
		cmd = "UNKNOWN"
	}

	channel := ""
	for _, part := range strings.Fields(rest) {
		if strings.HasPrefix(part, "#") {
			channel = part
			break
		}
	}

	sample := ""
	if cmd == "USERNOTICE" {
		if msgID := parseTags(tagPart)["msg-id"]; msgID != "" {
			sample = "msg-id=" + msgID
		}
	}
	if sample == "" {
		if idx := strings.Index(rest, " :"); idx != -1 {
			sample = strings.TrimSpace(rest[idx+2:])
		}
	}
	if sample == "" && channel != "" {
		sample = channel
	}
	if sample == "" {
		sample = rest
	}
	sample = strings.TrimPrefix(sample, ":")

	return ircSummary{
		command: cmd,
		channel: droplog.Sanitize(channel, droplog.ChannelMaxLen),
		sample:  droplog.Sanitize(sample, droplog.SampleMaxLen),
	}
}
