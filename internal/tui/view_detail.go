package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("39")).
	PaddingBottom(1)

var urgentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

func detailHeader(it resultItem) string {
	return headerStyle.Render(fmt.Sprintf("%s\n%s · %s · %.1f days", it.Subject, it.section, it.ActionLabel, it.AgeDays))
}

func detailContent(it resultItem) string {
	var b strings.Builder
	b.WriteString(detailHeader(it))
	b.WriteString("\n\n")
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%-14s %s\n", name+":", value)
		}
	}
	field("Last sender", it.LastSender)
	field("Recipients", it.Recipients)
	field("Waiting on", it.PendingParty)
	if !it.LastActivity.IsZero() {
		field("Last activity", it.LastActivity.Local().Format("Jan 2, 2006 3:04 PM"))
	}
	if !it.LastReplyAt.IsZero() {
		field("Last reply", fmt.Sprintf("%s from %s", it.LastReplyAt.Local().Format("Jan 2, 2006 3:04 PM"), it.LastReplySender))
	}
	field("Confidence", string(it.Confidence))
	field("Reason", it.Reason)
	if it.UrgencyReason != "" {
		field("Urgency", urgentStyle.Render(it.UrgencyReason))
	}
	field("Link", it.WebLink)
	return b.String()
}

func detailFooter() string {
	return footerStyle.Render("o: open in gmail  d: dealt with  esc: back  q: quit")
}
