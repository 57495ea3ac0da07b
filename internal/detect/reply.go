// Package detect answers two factual questions about a conversation: did a
// recipient reply after a send, and does the owner's last message close it.
package detect

import (
	"strings"
	"time"

	"followup/internal/facts"
	"followup/internal/model"

	"github.com/samber/lo"
)

// ReplyStatus describes the replies to one sent message.
type ReplyStatus struct {
	// HasReply is true when a qualifying reply arrived at or before the deadline.
	HasReply bool
	// LastReplyAt and LastReplySender describe the surfaced reply: the latest
	// one within the deadline or, failing that, the latest one after it.
	LastReplyAt     time.Time
	LastReplySender string
	// AfterDeadline marks a surfaced reply that arrived after the deadline.
	AfterDeadline bool
}

// ReplyAfter checks conv for replies to sent. A reply counts only when it has
// a received time strictly after the send time, its sender is not the owner,
// and its sender is one of recipients (To, Cc or Bcc of the original).
func ReplyAfter(sent model.Message, conv model.Conversation, owner string, recipients []string, deadline time.Time) ReplyStatus {
	owner = strings.ToLower(owner)
	sendTime := facts.BestTime(sent)
	allowed := lo.SliceToMap(recipients, func(r string) (string, struct{}) { return r, struct{}{} })

	var within, after ReplyStatus
	for _, m := range conv.Messages {
		if m.ID == sent.ID || m.ReceivedAt.IsZero() || !m.ReceivedAt.After(sendTime) {
			continue
		}
		sender := replySender(m)
		if sender == "" || sender == owner {
			continue
		}
		if _, ok := allowed[sender]; !ok {
			continue
		}
		target := &after
		if !m.ReceivedAt.After(deadline) {
			target = &within
		}
		if target.LastReplyAt.IsZero() || m.ReceivedAt.After(target.LastReplyAt) {
			target.LastReplyAt = m.ReceivedAt
			target.LastReplySender = displaySender(m, sender)
		}
	}

	if !within.LastReplyAt.IsZero() {
		within.HasReply = true
		return within
	}
	if !after.LastReplyAt.IsZero() {
		after.AfterDeadline = true
		return after
	}
	return ReplyStatus{}
}

func replySender(m model.Message) string {
	if m.Sender != "" {
		return m.Sender
	}
	return m.From
}

func displaySender(m model.Message, addr string) string {
	if m.FromName != "" && m.FromName != addr {
		return m.FromName + " (" + addr + ")"
	}
	return addr
}
