package tui

import (
	"fmt"

	"followup/internal/model"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"
)

// resultItem wraps a Result with the digest section it belongs to.
type resultItem struct {
	model.Result
	section string
}

func (r resultItem) FilterValue() string { return r.Subject + " " + r.LastSender }
func (r resultItem) Title() string {
	marker := ""
	if r.Confidence == model.ConfidenceLow {
		marker = "⚠ "
	}
	return fmt.Sprintf("[%s] %s%s", r.section, marker, r.Subject)
}

var footerStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("241")).
	PaddingTop(1)

func resultsFooter() string {
	return footerStyle.Render("enter: details  d: dealt with  o: open in gmail  r: re-run  /: filter  q: quit")
}

func resultsTitle(mailbox string, rep model.Report) string {
	return fmt.Sprintf("%s: %d urgent, %d recent, %d hanging, %d auto-closed",
		mailbox, len(rep.Urgent), len(rep.RecentImportant), len(rep.Hanging), len(rep.AutoClosed))
}

// reportItems lists the report's rows in digest order.
func reportItems(rep model.Report) []list.Item {
	var items []list.Item
	add := func(section string, rs []model.Result) {
		for _, r := range rs {
			items = append(items, resultItem{Result: r, section: section})
		}
	}
	add("URGENT", rep.Urgent)
	add("RECENT", rep.RecentImportant)
	add("HANGING", rep.Hanging)
	add("CLOSED", rep.AutoClosed)
	return items
}
