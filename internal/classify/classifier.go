// Package classify reconciles the advisory judgment for a conversation with
// deterministic facts and assigns its final category.
package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"followup/internal/conversation"
	"followup/internal/detect"
	"followup/internal/facts"
	"followup/internal/model"
	"followup/internal/util"

	"github.com/charmbracelet/log"
)

// Judge returns the advisory action judgment for a rendered transcript.
type Judge interface {
	Judge(ctx context.Context, transcript string, target Identity) (model.Judgment, error)
}

// UrgencyJudge returns the advisory urgency of a message excerpt.
type UrgencyJudge interface {
	Urgency(ctx context.Context, subject, body string) (model.Urgency, error)
}

// SuppressionChecker answers whether a conversation snapshot was dealt with.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, conversationID, latestMessageID, owner string) (bool, error)
}

// Identity is the mailbox owner as seen by the classifier.
type Identity struct {
	Email string
	Name  string
}

// NewIdentity normalizes email and derives the display name from it.
func NewIdentity(email string) Identity {
	e := util.NormalizeAddress(email)
	if e == "" {
		e = strings.ToLower(strings.TrimSpace(email))
	}
	return Identity{Email: e, Name: util.OwnerName(e)}
}

// Input is everything the classifier needs for one conversation.
type Input struct {
	Conversation model.Conversation
	// Sent is the triggering sent message; it backs recipients and link when the
	// latest message lacks them.
	Sent  model.Message
	Owner Identity
	Now   time.Time
	// RelatedResolved lists subjects of earlier conversations in this run with
	// the same cleaned subject that resolved to closed or no action.
	RelatedResolved []string
}

const (
	labelReply   = "You need to reply"
	labelWaiting = "Waiting for reply"

	urgencyExcerpt = 800
)

// Classifier applies the precedence ladder. The zero value is not usable; use New.
type Classifier struct {
	AutoCloseDays       int
	RecentThresholdDays int
	// AutoCloseOtherParty extends auto-closure to conversations where someone
	// other than the owner sent last.
	AutoCloseOtherParty bool
	Signals             detect.Signals
	Stripper            facts.QuoteStripper

	judge        Judge
	urgency      UrgencyJudge
	suppressions SuppressionChecker
	logger       *log.Logger
}

// New builds a Classifier with default thresholds (14 day auto-closure, 2 day
// recent window), default closure signals and the marker quote stripper. Any
// collaborator may be nil: a nil judge always falls back, a nil urgency judge
// never marks urgent, and a nil checker never suppresses.
func New(j Judge, u UrgencyJudge, s SuppressionChecker, logger *log.Logger) *Classifier {
	return &Classifier{
		AutoCloseDays:       14,
		RecentThresholdDays: 2,
		Signals:             detect.DefaultSignals(),
		Stripper:            facts.NewMarkerStripper(),
		judge:               j,
		urgency:             u,
		suppressions:        s,
		logger:              logger,
	}
}

// Classify produces the frozen result for one conversation.
func (c *Classifier) Classify(ctx context.Context, in Input) model.Result {
	conv := in.Conversation
	latest := conv.Latest
	if latest.ID == "" {
		if l, ok := conversation.Latest(conv.Messages); ok {
			latest = l
		} else {
			latest = in.Sent
		}
	}
	ownerLatest := facts.IsFromOwner(latest, in.Owner.Email)
	lastActivity := facts.BestTime(latest)
	age := facts.AgeDays(lastActivity, in.Now)

	res := c.baseResult(in, latest, lastActivity, age)
	logger := c.logger.With("conversation", conv.ID, "subject", res.Subject)

	// 1. suppression, keyed by the current latest message
	if c.suppressions != nil {
		suppressed, err := c.suppressions.IsSuppressed(ctx, conv.ID, latest.ID, in.Owner.Email)
		switch {
		case err != nil:
			logger.Warn("suppression check failed, treating as not suppressed", "err", err)
		case suppressed:
			res.Category = model.CategorySuppressed
			res.ActionType = model.ActionNoAction
			res.Reason = "Marked as dealt with"
			res.Confidence = model.ConfidenceHigh
			return res
		}
	}

	j := c.judgment(ctx, logger, conv, latest, in.Owner, ownerLatest)
	res.Confidence = j.Confidence

	// 2. directed at someone else
	if directedElsewhere(j.DirectedAt, in.Owner) {
		j.NeedsAction = false
		j.ActionType = model.ActionNoAction
		j.Reason = fmt.Sprintf("Request directed at %s, not %s", j.DirectedAt, in.Owner.Name)
		res.Confidence = model.ConfidenceHigh
	}

	body := facts.PlainBody(latest)

	// 3. closure language in the owner's last message
	if ownerLatest && j.NeedsAction {
		if m := c.Signals.Match(body); m.Any() {
			j.NeedsAction = false
			j.ActionType = model.ActionClosed
			if m.Elsewhere {
				j.Reason = "User indicated this is resolved/handled in another thread - no action needed"
			} else {
				j.Reason = "User's last message contains closure signals - conversation appears resolved"
			}
			res.Confidence = model.ConfidenceHigh
		}
	}

	// 4. one-way credential sharing stays no_action
	if ownerLatest && !j.NeedsAction && j.ActionType != model.ActionClosed && IsCredentialShare(latest.Subject, body) {
		j.ActionType = model.ActionNoAction
		j.Reason = strings.TrimSpace(j.Reason + " (Informational: credentials or connection details shared, no confirmation requested)")
	}

	// 5. inactivity
	if j.NeedsAction && (ownerLatest || c.AutoCloseOtherParty) && age >= float64(c.AutoCloseDays) {
		res.NeedsAction = false
		res.ActionType = model.ActionClosed
		res.Category = model.CategoryAutoClosed
		res.Reason = fmt.Sprintf("Conversation inactive for %.0f days - auto-closed", age)
		return res
	}

	// 6. nothing to do
	if !j.NeedsAction {
		res.NeedsAction = false
		res.ActionType = model.ActionNoAction
		if j.ActionType == model.ActionClosed {
			res.ActionType = model.ActionClosed
		}
		res.Category = model.CategoryNoAction
		res.Reason = j.Reason
		return res
	}

	// 7. reconcile the action type with who sent last
	res.NeedsAction = true
	switch {
	case ownerLatest:
		if j.ActionType == model.ActionUserReplyNeeded {
			logger.Debug("advisory said reply needed but owner sent last", "advisory", j.ActionType)
		}
		res.ActionType = model.ActionWaitingForOthers
	case j.ActionType == model.ActionWaitingForOthers && !awaitsOwner(latest, in.Owner):
		res.ActionType = model.ActionWaitingForOthers
	default:
		res.ActionType = model.ActionUserReplyNeeded
	}
	if res.ActionType == model.ActionWaitingForOthers {
		res.ActionLabel = labelWaiting
		res.PendingParty = res.Recipients
	} else {
		res.ActionLabel = labelReply
		res.PendingParty = res.LastSender
	}
	res.Reason = j.Reason + RelatedNote(in.RelatedResolved)

	// 8. urgency overlay
	newBody := body
	if c.Stripper != nil {
		newBody = c.Stripper.Strip(body)
	}
	res.Keywords = DetectKeywords(latest.Subject, newBody)
	urgent := c.urgencyOf(ctx, logger, latest.Subject, body)
	switch {
	case urgent.IsUrgent && urgent.Reason != "":
		res.UrgencyReason = urgent.Reason
		if len(res.Keywords) > 0 {
			res.UrgencyReason += fmt.Sprintf(" (Keywords detected: %s)", strings.Join(res.Keywords, ", "))
		}
	case !urgent.IsUrgent && len(res.Keywords) > 0:
		res.UrgencyReason = fmt.Sprintf("Keywords detected: %s (AI analysis: Not urgent)", strings.Join(res.Keywords, ", "))
	}

	// 9. bucket
	switch {
	case urgent.IsUrgent:
		res.Category = model.CategoryUrgent
	case age < float64(c.RecentThresholdDays):
		res.Category = model.CategoryRecentImportant
	default:
		res.Category = model.CategoryHanging
	}
	return res
}

func (c *Classifier) baseResult(in Input, latest model.Message, lastActivity time.Time, age float64) model.Result {
	subject := latest.Subject
	if subject == "" {
		subject = in.Sent.Subject
	}
	to := latest.To
	if len(to) == 0 {
		to = in.Sent.To
	}
	link := latest.WebLink
	if link == "" {
		link = in.Sent.WebLink
	}
	sender := latest.FromName
	if sender == "" {
		sender = latest.From
	}
	return model.Result{
		ConversationID:  in.Conversation.ID,
		LatestMessageID: latest.ID,
		Owner:           in.Owner.Email,
		Subject:         subject,
		AgeDays:         age,
		LastActivity:    lastActivity,
		LastSender:      sender,
		Recipients:      strings.Join(to, ", "),
		WebLink:         link,
		Confidence:      model.ConfidenceMedium,
	}
}

func (c *Classifier) judgment(ctx context.Context, logger *log.Logger, conv model.Conversation, latest model.Message, owner Identity, ownerLatest bool) model.Judgment {
	if c.judge == nil {
		return Fallback(ownerLatest)
	}
	msgs := conv.Messages
	if len(msgs) == 0 {
		msgs = []model.Message{latest}
	}
	j, err := c.judge.Judge(ctx, Transcript(msgs, owner, c.Stripper), owner)
	if err != nil {
		logger.Warn("judgment failed, using fallback", "err", err)
		return Fallback(ownerLatest)
	}
	return j
}

func (c *Classifier) urgencyOf(ctx context.Context, logger *log.Logger, subject, body string) model.Urgency {
	if c.urgency == nil {
		return model.Urgency{}
	}
	u, err := c.urgency.Urgency(ctx, subject, clip(body, urgencyExcerpt))
	if err != nil {
		logger.Warn("urgency check failed", "err", err)
		return model.Urgency{}
	}
	return u
}

// awaitsOwner reports whether the latest message is addressed to the owner
// directly, or to nobody in particular.
func awaitsOwner(latest model.Message, owner Identity) bool {
	if len(latest.To) == 0 {
		return true
	}
	for _, a := range latest.To {
		if strings.EqualFold(a, owner.Email) {
			return true
		}
	}
	return false
}
