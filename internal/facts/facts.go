// Package facts derives normalized, read-only facts from fetched messages.
package facts

import (
	"strings"
	"time"

	"followup/internal/model"

	"github.com/jaytaylor/html2text"
	"github.com/samber/lo"
)

// Epoch is the fallback timestamp for messages with neither a sent nor a
// received time.
var Epoch = time.Unix(0, 0).UTC()

// BestTime prefers the sent time, then the received time, then Epoch.
func BestTime(m model.Message) time.Time {
	if !m.SentAt.IsZero() {
		return m.SentAt
	}
	if !m.ReceivedAt.IsZero() {
		return m.ReceivedAt
	}
	return Epoch
}

// IsEpoch reports whether t is the fallback timestamp (or earlier).
func IsEpoch(t time.Time) bool {
	return !t.After(Epoch)
}

// IsFromOwner decides whether the owner sent m. From and Sender are checked
// first; a message filed in the sent folder, or one with a sent time but no
// received time and no foreign Sender, also counts.
func IsFromOwner(m model.Message, owner string) bool {
	owner = strings.ToLower(strings.TrimSpace(owner))
	if owner == "" {
		return false
	}
	if m.From != "" && m.From == owner {
		return true
	}
	if m.Sender != "" && m.Sender == owner {
		return true
	}
	if m.Folder == model.FolderSent {
		return true
	}
	if !m.SentAt.IsZero() && m.ReceivedAt.IsZero() {
		return m.Sender == "" || m.Sender == owner
	}
	return false
}

// Recipients returns To, Cc then Bcc addresses, lowercased and deduplicated
// in first-seen order.
func Recipients(m model.Message) []string {
	all := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	for _, group := range [][]string{m.To, m.Cc, m.Bcc} {
		for _, a := range group {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				all = append(all, a)
			}
		}
	}
	return lo.Uniq(all)
}

// IsForward reports whether the subject starts with FW: or FWD: in any case.
func IsForward(subject string) bool {
	s := strings.ToUpper(strings.TrimSpace(subject))
	return strings.HasPrefix(s, "FW:") || strings.HasPrefix(s, "FWD:")
}

// PlainBody returns readable text for m: the HTML body rendered to text when
// present, otherwise the plain body.
func PlainBody(m model.Message) string {
	if strings.TrimSpace(m.HTMLBody) != "" {
		if text, err := html2text.FromString(m.HTMLBody, html2text.Options{OmitLinks: true, TextOnly: true}); err == nil {
			return strings.TrimSpace(text)
		}
	}
	return strings.TrimSpace(m.TextBody)
}

// AgeDays is the fractional number of days between t and now.
func AgeDays(t, now time.Time) float64 {
	return now.Sub(t).Hours() / 24
}

// Truncate cuts s to n runes, appending "..." when anything was removed.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
