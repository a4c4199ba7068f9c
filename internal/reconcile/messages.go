package reconcile

import (
	"fmt"
	"strings"

	"github.com/loykin/panelsweep/internal/notify"
)

func (e *Engine) title(base string) string {
	if e.policy.DryRun {
		return base + " (dry run)"
	}
	return base
}

func (e *Engine) keywordList(sep string) string {
	if len(e.keywords) == 0 {
		return "none"
	}
	return strings.Join(e.keywords, sep)
}

func (e *Engine) startMessage() notify.Message {
	return notify.Message{
		Title: e.title("Server Cleanup Started"),
		Body:  "Protected keywords:\n```\n" + e.keywordList("\n") + "\n```",
		Color: notify.ColorInfo,
		Ping:  true,
	}
}

func (e *Engine) summaryMessage(s Summary) notify.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "**Servers scanned:** %d\n", s.Total)
	fmt.Fprintf(&b, "**Protected:** %d\n", s.Protected)
	fmt.Fprintf(&b, "**Marked inactive:** %d\n", s.Inactive)
	fmt.Fprintf(&b, "**Suspended:** %d\n", s.Suspended)
	fmt.Fprintf(&b, "**Deleted:** %d\n", s.Deleted)
	if s.Recovered > 0 {
		fmt.Fprintf(&b, "**Recovered:** %d\n", s.Recovered)
	}
	if s.Pruned > 0 {
		fmt.Fprintf(&b, "**Pruned:** %d\n", s.Pruned)
	}
	if s.Failed > 0 {
		fmt.Fprintf(&b, "**Failed:** %d\n", s.Failed)
	}
	fmt.Fprintf(&b, "\n**Keywords in use:**\n```%s```", e.keywordList(", "))
	return notify.Message{
		Title: e.title("Cleanup Summary"),
		Body:  b.String(),
		Color: notify.ColorSummary,
		// failures need a human; a clean run does not
		Ping: s.Failed > 0,
	}
}

func (e *Engine) alertMessage(err error) notify.Message {
	return notify.Message{
		Title: e.title("Server Cleanup Aborted"),
		Body:  "Nothing was persisted for this run.\n```" + err.Error() + "```",
		Color: notify.ColorAlert,
		Ping:  true,
	}
}
