package twitchirc

import "strings"

// Message is one parsed IRC line.
type Message struct {
	Tags    map[string]string
	Prefix  string
	Command string
	Params  []string
	Raw     string
}

// Channel returns the first "#channel" parameter without the hash, lowercased.
func (m Message) Channel() string {
	for _, p := range m.Params {
		if strings.HasPrefix(p, "#") {
			return strings.ToLower(p[1:])
		}
	}
	return ""
}

// Trailing returns the last parameter, which carries the message text.
func (m Message) Trailing() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

// Nick returns the nickname portion of the prefix.
func (m Message) Nick() string {
	if idx := strings.Index(m.Prefix, "!"); idx != -1 {
		return m.Prefix[:idx]
	}
	return m.Prefix
}

// ParseLine splits a raw line into tags, prefix, command and params.
func ParseLine(line string) (Message, bool) {
	raw := strings.TrimRight(line, "\r\n")
	rest := raw
	msg := Message{Raw: raw}

	if strings.HasPrefix(rest, "@") {
		idx := strings.IndexByte(rest, ' ')
		if idx == -1 {
			return Message{}, false
		}
		msg.Tags = parseTags(rest[1:idx])
		rest = strings.TrimLeft(rest[idx+1:], " ")
	}

	if strings.HasPrefix(rest, ":") {
		idx := strings.IndexByte(rest, ' ')
		if idx == -1 {
			return Message{}, false
		}
		msg.Prefix = rest[1:idx]
		rest = strings.TrimLeft(rest[idx+1:], " ")
	}

	if rest == "" {
		return Message{}, false
	}

	for rest != "" {
		if strings.HasPrefix(rest, ":") && msg.Command != "" {
			msg.Params = append(msg.Params, rest[1:])
			break
		}
		token := rest
		next := ""
		if idx := strings.IndexByte(rest, ' '); idx != -1 {
			token = rest[:idx]
			next = strings.TrimLeft(rest[idx+1:], " ")
		}
		if msg.Command == "" {
			msg.Command = strings.ToUpper(token)
		} else {
			msg.Params = append(msg.Params, token)
		}
		rest = next
	}
	return msg, msg.Command != ""
}

func parseTags(raw string) map[string]string {
	tags := map[string]string{}
	for _, kv := range strings.Split(raw, ";") {
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		tags[k] = unescapeIRC(v)
	}
	return tags
}

func unescapeIRC(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 's':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case ':':
			b.WriteByte(';')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func authFailure(m Message) bool {
	if m.Command != "NOTICE" {
		return false
	}
	lower := strings.ToLower(m.Trailing())
	return strings.Contains(lower, "login authentication failed") ||
		strings.Contains(lower, "improperly formatted auth") ||
		strings.Contains(lower, "authentication failed")
}
