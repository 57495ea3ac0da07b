package model

import (
	"fmt"
	"time"
)

// Folder names a canonical mailbox location, independent of provider naming.
type Folder string

const (
	FolderInbox   Folder = "inbox"
	FolderSent    Folder = "sent"
	FolderArchive Folder = "archive"
	FolderTrash   Folder = "trash"
)

// Message is one unit of mail as fetched for a run. Messages are values and are
// never modified after retrieval.
type Message struct {
	ID             string
	ConversationID string
	Subject        string
	HTMLBody       string
	TextBody       string // plain fallback (snippet when no text part exists)
	From           string // normalized address
	FromName       string
	Sender         string // normalized address of the Sender header, if any
	To             []string
	Cc             []string
	Bcc            []string
	SentAt         time.Time // zero when unknown
	ReceivedAt     time.Time // zero when unknown
	Folder         Folder
	WebLink        string
}

// Conversation is the set of messages sharing a conversation identifier.
type Conversation struct {
	ID       string
	Messages []Message // ascending by best timestamp
	Latest   Message
}

type ActionType string

const (
	ActionUserReplyNeeded  ActionType = "user_reply_needed"
	ActionWaitingForOthers ActionType = "waiting_for_others"
	ActionClosed           ActionType = "closed"
	ActionNoAction         ActionType = "no_action"
)

// ParseActionType maps free text onto an ActionType; unknown values become no_action.
func ParseActionType(s string) ActionType {
	switch ActionType(s) {
	case ActionUserReplyNeeded, ActionWaitingForOthers, ActionClosed, ActionNoAction:
		return ActionType(s)
	}
	return ActionNoAction
}

type Category string

const (
	CategoryUrgent          Category = "urgent"
	CategoryRecentImportant Category = "recent_important"
	CategoryHanging         Category = "hanging"
	CategoryAutoClosed      Category = "auto_closed"
	CategorySuppressed      Category = "suppressed"
	CategoryNoAction        Category = "no_action"
)

// Resolved reports whether the category counts as "closed or nothing to do"
// for cross-thread notes.
func (c Category) Resolved() bool {
	return c == CategoryNoAction || c == CategoryAutoClosed
}

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ParseConfidence defaults to medium for anything it does not recognise.
func ParseConfidence(s string) Confidence {
	switch Confidence(s) {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return Confidence(s)
	}
	return ConfidenceMedium
}

// Judgment is the advisory signal returned by the judgment service. It is
// untrusted and subject to deterministic override.
type Judgment struct {
	NeedsAction bool
	ActionType  ActionType
	Reason      string
	DirectedAt  string
	Confidence  Confidence
}

// Urgency is the advisory result of the urgency overlay.
type Urgency struct {
	IsUrgent bool
	Reason   string
}

// Result is the frozen classification of one conversation in one run.
type Result struct {
	ConversationID  string
	LatestMessageID string
	Owner           string
	Subject         string
	NeedsAction     bool
	ActionType      ActionType
	Category        Category
	Reason          string
	UrgencyReason   string
	Confidence      Confidence
	AgeDays         float64
	LastActivity    time.Time
	LastSender      string
	PendingParty    string
	ActionLabel     string
	Keywords        []string
	Recipients      string
	WebLink         string
	LastReplyAt     time.Time
	LastReplySender string
}

func (r Result) FilterValue() string { return r.Subject }
func (r Result) Title() string       { return r.Subject }
func (r Result) Description() string {
	return fmt.Sprintf("%s · %.1fd · %s", r.ActionLabel, r.AgeDays, r.LastSender)
}

// Suppression marks a (conversation, latest message, owner) snapshot as dealt with.
type Suppression struct {
	ConversationID  string    `json:"conversationId"`
	LatestMessageID string    `json:"latestMessageId"`
	Owner           string    `json:"userEmail"`
	Subject         string    `json:"subject,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	SuppressedAt    time.Time `json:"excludedAt"`
}

// Report holds one mailbox's bucketed results for a run.
type Report struct {
	RunID           string
	Mailbox         string
	GeneratedAt     time.Time
	Urgent          []Result
	RecentImportant []Result
	Hanging         []Result
	AutoClosed      []Result
	NoAction        int
	Suppressed      int
	Errors          int
	TotalProcessed  int
}

// Attention is the number of conversations that still need the owner.
func (r Report) Attention() int {
	return len(r.Urgent) + len(r.RecentImportant) + len(r.Hanging)
}

// RunProgress is sent from a running analysis to the UI.
type RunProgress struct {
	Index   int
	Total   int
	Subject string
}
