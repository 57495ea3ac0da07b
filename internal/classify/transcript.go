package classify

import (
	"fmt"
	"strings"

	"followup/internal/facts"
	"followup/internal/model"
)

const (
	transcriptRecipients = 3
	transcriptContent    = 500
)

// Transcript renders msgs oldest first for the judgment service. Bodies are
// quote-stripped and truncated; the owner's messages are labelled "(YOU)".
func Transcript(msgs []model.Message, owner Identity, stripper facts.QuoteStripper) string {
	parts := make([]string, 0, len(msgs))
	for i, m := range msgs {
		from := m.FromName
		if from == "" {
			from = m.From
		}
		if from == "" {
			from = "Unknown"
		}
		if facts.IsFromOwner(m, owner.Email) {
			from += " (YOU)"
		}

		to := strings.Join(m.To[:min(len(m.To), transcriptRecipients)], ", ")
		if extra := len(m.To) - transcriptRecipients; extra > 0 {
			to += fmt.Sprintf(" +%d more", extra)
		}

		date := "Unknown date"
		if t := facts.BestTime(m); !facts.IsEpoch(t) {
			date = t.Format("2006-01-02 15:04")
		}

		subject := m.Subject
		if subject == "" {
			subject = "No subject"
		}

		body := facts.PlainBody(m)
		if stripper != nil {
			body = stripper.Strip(body)
		}

		parts = append(parts, fmt.Sprintf("\n--- Message %d ---\nFrom: %s\nTo: %s\nDate: %s\nSubject: %s\nContent: %s\n",
			i+1, from, to, date, subject, facts.Truncate(body, transcriptContent)))
	}
	return strings.Join(parts, "\n")
}

// Fallback is the deterministic judgment used when the judgment service fails.
func Fallback(ownerSentLatest bool) model.Judgment {
	if ownerSentLatest {
		return model.Judgment{
			NeedsAction: true,
			ActionType:  model.ActionWaitingForOthers,
			Reason:      "You sent the last message",
			Confidence:  model.ConfidenceMedium,
		}
	}
	return model.Judgment{
		NeedsAction: true,
		ActionType:  model.ActionUserReplyNeeded,
		Reason:      "Someone else sent the last message",
		Confidence:  model.ConfidenceMedium,
	}
}

// RelatedNote builds the cross-thread note for subjects of related
// conversations that already resolved. It returns "" when there are none.
func RelatedNote(resolvedSubjects []string) string {
	if len(resolvedSubjects) == 0 {
		return ""
	}
	subs := make([]string, 0, 2)
	for _, s := range resolvedSubjects[:min(len(resolvedSubjects), 2)] {
		subs = append(subs, clip(s, 40))
	}
	return fmt.Sprintf(" Note: Related thread(s) '%s...' appear resolved, but this thread still requires attention.",
		strings.Join(subs, ", "))
}
