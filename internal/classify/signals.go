package classify

import (
	"strings"
	"unicode"

	"github.com/samber/lo"
)

// Keyword classes used to annotate urgency reasons. Matches never change the
// urgency decision.
var (
	UrgentKeywords = []string{
		"urgent", "asap", "immediately", "critical", "emergency", "time-sensitive",
		"high priority", "top priority", "matter of urgency",
	}
	DeadlineKeywords = []string{
		"deadline", "eod", "end of day", "by tomorrow", "due date", "by friday",
		"by monday", "by end of week", "today", "tonight", "this week", "time bound",
	}
	ActionKeywords = []string{
		"action required", "please confirm", "need your approval", "waiting for your",
		"please review", "need your input", "requires your attention", "please respond",
		"awaiting your", "pending your",
	}
)

// MaxKeywords caps the keywords attached to a result.
const MaxKeywords = 3

// CredentialTerms mark one-way sharing of secrets or connection details.
var CredentialTerms = []string{
	"credentials", "db credentials", "api key", "password", "access key",
	"login credentials", "connection string", "database credentials",
	"rag db credentials", "reminder tool db credentials",
}

// ConfirmationRequests turn a credential share back into a message that
// expects an answer.
var ConfirmationRequests = []string{
	"please confirm", "confirm receipt", "let me know if", "please acknowledge", "reply to confirm",
}

var inclusiveTerms = []string{"everyone", "all", "team"}

// DetectKeywords scans subject and new body text for keyword matches. Results
// are uppercased, deduplicated in class order and capped at MaxKeywords.
func DetectKeywords(subject, newBody string) []string {
	text := strings.ToLower(subject + " " + newBody)
	var found []string
	for _, class := range [][]string{UrgentKeywords, DeadlineKeywords, ActionKeywords} {
		for _, k := range class {
			if strings.Contains(text, strings.ToLower(k)) {
				found = append(found, strings.ToUpper(k))
			}
		}
	}
	found = lo.Uniq(found)
	if len(found) > MaxKeywords {
		found = found[:MaxKeywords]
	}
	return found
}

// IsCredentialShare reports whether a message shares credentials or connection
// details without asking for confirmation. Only the subject and the first 300
// characters of the body are inspected.
func IsCredentialShare(subject, body string) bool {
	subj := strings.ToLower(subject)
	head := strings.ToLower(clip(body, 300))
	shared := lo.ContainsBy(CredentialTerms, func(t string) bool {
		return strings.Contains(subj, t) || strings.Contains(head, t)
	})
	if !shared {
		return false
	}
	lower := strings.ToLower(body)
	return !lo.ContainsBy(ConfirmationRequests, func(t string) bool { return strings.Contains(lower, t) })
}

// directedElsewhere reports whether the advisory addressee excludes the owner.
func directedElsewhere(directedAt string, owner Identity) bool {
	d := strings.ToLower(strings.TrimSpace(directedAt))
	if d == "" {
		return false
	}
	if owner.Email != "" && strings.Contains(d, strings.ToLower(owner.Email)) {
		return false
	}
	if owner.Name != "" && strings.Contains(d, strings.ToLower(owner.Name)) {
		return false
	}
	words := strings.FieldsFunc(d, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
	return !lo.Some(words, inclusiveTerms)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
