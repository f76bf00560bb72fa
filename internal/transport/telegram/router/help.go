package router

import (
	"html"
	"strings"
	"unicode"
)

// sanitizeTelegramCommand converts an arbitrary name into a Telegram-safe bot command name.
// Telegram command names are restricted to [a-z0-9_]{1,32}.
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/")))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = strings.TrimRight(("cmd_" + out)[:min(32, len(out)+4)], "_")
	}
	return out
}

// helpText renders the command list in HTML parse mode.
func (m *CommandManager) helpText() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder
	b.WriteString("<b>Commands</b>\n")
	for _, name := range m.order {
		c := m.cmds[name]
		b.WriteString("/")
		b.WriteString(name)
		if c.Usage != "" {
			b.WriteString(" <code>")
			b.WriteString(html.EscapeString(c.Usage))
			b.WriteString("</code>")
		}
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(html.EscapeString(c.Description))
		}
		if c.Access == AccessOwnerOnly {
			b.WriteString(" 🔒")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
