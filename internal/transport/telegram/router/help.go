package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders help in Telegram HTML parse mode.
func (m *CommandManager) helpText(args []string) string {
	m.mu.RLock()
	cmds := m.cmds
	order := m.order
	m.mu.RUnlock()

	if len(args) > 0 {
		c := cmds[sanitizeTelegramCommand(strings.TrimPrefix(args[0], "/"))]
		if c == nil {
			return "❓ <b>Unknown command</b>\nTry <code>/help</code> for the list."
		}
		return commandHelpHTML(c)
	}

	sorted := append([]*Command(nil), order...)
	// Owner-only commands go last, alphabetical within each group.
	sort.SliceStable(sorted, func(i, j int) bool {
		li, lj := sorted[i].Access == AccessOwnerOnly, sorted[j].Access == AccessOwnerOnly
		if li != lj {
			return !li
		}
		return sorted[i].Name < sorted[j].Name
	})
	lines := []string{"📚 <b>Commands</b>", "Type <code>/help &lt;cmd&gt;</code> for details.", ""}
	for _, c := range sorted {
		line := "/" + html.EscapeString(c.Name)
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + html.EscapeString(d)
		}
		if c.Access == AccessOwnerOnly {
			line = "🔒 " + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func commandHelpHTML(c *Command) string {
	lines := []string{"📚 <b>Help</b> <code>/" + html.EscapeString(c.Name) + "</code>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if c.Access == AccessOwnerOnly {
		lines = append(lines, "🔒 <i>Owner only</i>")
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
	}
	if len(c.Aliases) > 0 {
		lines = append(lines, "", "<b>Aliases</b>")
		for _, a := range c.Aliases {
			lines = append(lines, "• <code>/"+html.EscapeString(a)+"</code>")
		}
	}
	return strings.Join(lines, "\n")
}
