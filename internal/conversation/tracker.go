package conversation

import (
	"followup/internal/facts"
	"followup/internal/model"
	"followup/internal/util"
)

// Decision is the outcome of admitting a sent message to a run.
type Decision int

const (
	// Analyze: first time this conversation is seen in the run.
	Analyze Decision = iota
	// AnalyzeForward: a forward with a different cleaned subject, tracked separately.
	AnalyzeForward
	// SkipDuplicate: already analyzed under the same conversation.
	SkipDuplicate
)

func (d Decision) String() string {
	switch d {
	case Analyze:
		return "analyze"
	case AnalyzeForward:
		return "analyze-forward"
	default:
		return "skip-duplicate"
	}
}

// Entry records what a run did with one analyzed conversation.
type Entry struct {
	ConversationID string
	FirstSubject   string
	FirstIndex     int
	Category       model.Category // empty while pending
}

// Admission is returned by Tracker.Admit. Key identifies the tracked unit for
// Record; Original is the entry that caused a skip.
type Admission struct {
	Decision Decision
	Key      string
	Original Entry
}

// Tracker is the run-scoped record of processed conversations. It is owned by
// one run and passed explicitly; it is not safe for concurrent use.
type Tracker struct {
	entries map[string]*Entry
	order   []string
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*Entry)}
}

// Admit decides whether the sent message with this conversation identifier and
// subject should be analyzed. Repeats of an analyzed conversation are skipped
// unless the new message is a forward whose cleaned subject differs from the
// one that triggered the first analysis.
func (t *Tracker) Admit(conversationID, subject string, index int) Admission {
	first, ok := t.entries[conversationID]
	if !ok {
		t.add(conversationID, conversationID, subject, index)
		return Admission{Decision: Analyze, Key: conversationID}
	}
	clean := util.CleanSubject(subject)
	if clean == util.CleanSubject(first.FirstSubject) || !facts.IsForward(subject) {
		return Admission{Decision: SkipDuplicate, Original: *first}
	}
	key := conversationID + "\x00" + clean
	if prev, ok := t.entries[key]; ok {
		return Admission{Decision: SkipDuplicate, Original: *prev}
	}
	t.add(key, conversationID, subject, index)
	return Admission{Decision: AnalyzeForward, Key: key, Original: *first}
}

func (t *Tracker) add(key, conversationID, subject string, index int) {
	t.entries[key] = &Entry{ConversationID: conversationID, FirstSubject: subject, FirstIndex: index}
	t.order = append(t.order, key)
}

// Record stores the final category for an admitted unit.
func (t *Tracker) Record(key string, c model.Category) {
	if e, ok := t.entries[key]; ok {
		e.Category = c
	}
}

// Related returns earlier entries of other conversations whose cleaned
// subject equals cleanSubject, in admission order.
func (t *Tracker) Related(cleanSubject, conversationID string) []Entry {
	var out []Entry
	for _, key := range t.order {
		e := t.entries[key]
		if e.ConversationID == conversationID {
			continue
		}
		if util.CleanSubject(e.FirstSubject) == cleanSubject {
			out = append(out, *e)
		}
	}
	return out
}

func (t *Tracker) Len() int { return len(t.order) }
