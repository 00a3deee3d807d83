package ircclient

import "strings"

// Message is one parsed IRC line: an optional prefix, a command (a word or
// a three-digit numeric), and its trailing parameters.
type Message struct {
	Prefix  string
	Command string
	Params  []string
}

// Nick returns the nickname portion of a prefix of the form nick!user@host,
// or the prefix unchanged if it carries no "!".
func (m Message) Nick() string {
	return nickFromPrefix(m.Prefix)
}

// Trailing returns the last parameter, or "" if there are none. Most
// PRIVMSG/NOTICE bodies and WEBIRC/AWAY payloads are carried there.
func (m Message) Trailing() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

func nickFromPrefix(prefix string) string {
	if idx := strings.IndexByte(prefix, '!'); idx >= 0 {
		return prefix[:idx]
	}
	return prefix
}

// ParseMessage splits a raw IRC line into prefix, command, and params,
// honoring the ":trailing param carries spaces" convention.
func ParseMessage(line string) Message {
	line = strings.TrimRight(line, "\r\n")

	var msg Message
	if strings.HasPrefix(line, ":") {
		idx := strings.IndexByte(line, ' ')
		if idx < 0 {
			msg.Prefix = line[1:]
			return msg
		}
		msg.Prefix = line[1:idx]
		line = line[idx+1:]
	}

	if idx := strings.Index(line, " :"); idx >= 0 {
		trailing := line[idx+2:]
		parts := strings.Fields(line[:idx])
		if len(parts) > 0 {
			msg.Command = parts[0]
			msg.Params = append(parts[1:], trailing)
		}
		return msg
	}

	parts := strings.Fields(line)
	if len(parts) > 0 {
		msg.Command = parts[0]
		msg.Params = parts[1:]
	}
	return msg
}

// FormatMessage renders command and params back into wire form, adding a
// leading ":" to the last param if it contains a space or is empty.
func FormatMessage(command string, params ...string) string {
	var b strings.Builder
	b.WriteString(command)
	for i, p := range params {
		b.WriteByte(' ')
		if i == len(params)-1 && (strings.Contains(p, " ") || p == "" || strings.HasPrefix(p, ":")) {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}
	return b.String()
}
