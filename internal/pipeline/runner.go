// Package pipeline drives a run: it fetches a mailbox's sent messages,
// assembles and classifies each conversation once, and builds the report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"followup/internal/classify"
	"followup/internal/conversation"
	"followup/internal/detect"
	"followup/internal/digest"
	"followup/internal/facts"
	"followup/internal/model"
	"followup/internal/util"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Provider is the mail retrieval dependency of a run.
type Provider interface {
	conversation.Provider
	FetchSent(ctx context.Context, mailbox string, since time.Time) ([]model.Message, error)
}

// Classifier produces the frozen result for one conversation.
type Classifier interface {
	Classify(ctx context.Context, in classify.Input) model.Result
}

type Options struct {
	LookbackDays     int
	ReplyWaitDays    int
	FallbackScanDays int
}

// Runner analyzes mailboxes. It holds no per-run state, so one Runner may
// serve several mailboxes concurrently.
type Runner struct {
	provider   Provider
	classifier Classifier
	opts       Options
	logger     *log.Logger
	now        func() time.Time
	progress   func(mailbox string, p model.RunProgress)
}

func NewRunner(p Provider, c Classifier, opts Options, logger *log.Logger) *Runner {
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 7
	}
	return &Runner{provider: p, classifier: c, opts: opts, logger: logger, now: time.Now}
}

// OnProgress registers a callback invoked before each sent message is
// processed. It may be called from several goroutines during a batch.
func (r *Runner) OnProgress(fn func(mailbox string, p model.RunProgress)) {
	r.progress = fn
}

// mailboxRun is the state owned by one mailbox analysis.
type mailboxRun struct {
	mailbox   string
	owner     classify.Identity
	now       time.Time
	tracker   *conversation.Tracker
	cache     *conversation.Cache
	assembler *conversation.Assembler
	logger    *log.Logger
}

// AnalyzeMailbox runs the full analysis for one mailbox. Only a failure to
// list sent messages fails the run; per-message problems are logged and
// counted.
func (r *Runner) AnalyzeMailbox(ctx context.Context, mailbox string) (model.Report, error) {
	mailbox = strings.ToLower(strings.TrimSpace(mailbox))
	runID := uuid.NewString()
	now := r.now()
	logger := r.logger.With("mailbox", mailbox)

	since := now.AddDate(0, 0, -r.opts.LookbackDays)
	sent, err := r.provider.FetchSent(ctx, mailbox, since)
	if errors.Is(err, model.ErrTransient) {
		logger.Warn("fetching sent messages failed, retrying once", "err", err)
		sent, err = r.provider.FetchSent(ctx, mailbox, since)
	}
	if err != nil {
		return model.Report{}, fmt.Errorf("fetch sent messages for %s: %w", mailbox, err)
	}
	logger.Info("analyzing sent messages", "count", len(sent), "since", since.Format(time.DateOnly), "run", runID)

	assembler := conversation.NewAssembler(r.provider, mailbox, r.opts.FallbackScanDays, logger)
	run := &mailboxRun{
		mailbox:   mailbox,
		owner:     classify.NewIdentity(mailbox),
		now:       now,
		tracker:   conversation.NewTracker(),
		cache:     conversation.NewCache(),
		assembler: assembler,
		logger:    logger,
	}

	var results []model.Result
	stats := digest.Stats{Total: len(sent)}
	for i, msg := range sent {
		if err := ctx.Err(); err != nil {
			return model.Report{}, err
		}
		if r.progress != nil {
			r.progress(mailbox, model.RunProgress{Index: i + 1, Total: len(sent), Subject: msg.Subject})
		}
		res, ok, err := r.analyzeOne(ctx, run, i+1, msg)
		switch {
		case err != nil:
			logger.Warn("message analysis failed, skipping", "message", msg.ID, "conversation", msg.ConversationID, "subject", msg.Subject, "err", err)
			stats.Errors++
			stats.Skipped++
		case !ok:
			stats.Skipped++
		default:
			results = append(results, res)
		}
	}

	rep := digest.Build(results, stats)
	rep.RunID = runID
	rep.Mailbox = mailbox
	rep.GeneratedAt = now
	logger.Info("mailbox analyzed",
		"urgent", len(rep.Urgent), "recent", len(rep.RecentImportant), "hanging", len(rep.Hanging),
		"auto_closed", len(rep.AutoClosed), "no_action", rep.NoAction, "suppressed", rep.Suppressed, "errors", rep.Errors)
	return rep, nil
}

// analyzeOne handles one sent message. ok is false when the message was
// skipped without producing a result.
func (r *Runner) analyzeOne(ctx context.Context, run *mailboxRun, index int, sent model.Message) (res model.Result, ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	logger := run.logger.With("index", index, "subject", facts.Truncate(sent.Subject, 50))
	if reason := skipReason(sent, run.owner.Email); reason != "" {
		logger.Debug("skipping sent message", "reason", reason)
		return res, false, nil
	}

	adm := run.tracker.Admit(sent.ConversationID, sent.Subject, index)
	switch adm.Decision {
	case conversation.SkipDuplicate:
		logger.Debug("already analyzed", "first_index", adm.Original.FirstIndex, "first_subject", adm.Original.FirstSubject, "result", adm.Original.Category)
		return res, false, nil
	case conversation.AnalyzeForward:
		logger.Debug("forward in analyzed conversation, analyzing separately", "first_index", adm.Original.FirstIndex)
	}

	conv := r.conversation(ctx, run, sent)

	subject := conv.Latest.Subject
	if subject == "" {
		subject = sent.Subject
	}
	var related []string
	for _, e := range run.tracker.Related(util.CleanSubject(subject), sent.ConversationID) {
		if e.Category.Resolved() {
			related = append(related, e.FirstSubject)
		}
	}

	res = r.classifier.Classify(ctx, classify.Input{
		Conversation:    conv,
		Sent:            sent,
		Owner:           run.owner,
		Now:             run.now,
		RelatedResolved: related,
	})

	deadline := facts.BestTime(sent).AddDate(0, 0, r.opts.ReplyWaitDays)
	reply := detect.ReplyAfter(sent, conv, run.owner.Email, facts.Recipients(sent), deadline)
	if !reply.LastReplyAt.IsZero() {
		res.LastReplyAt = reply.LastReplyAt
		res.LastReplySender = reply.LastReplySender
	}

	run.tracker.Record(adm.Key, res.Category)
	logger.Info("classified", "conversation", sent.ConversationID, "category", res.Category, "action", res.ActionType, "confidence", res.Confidence)
	return res, true, nil
}

// conversation returns the cached or freshly assembled conversation for the
// sent message, falling back to the sent message alone.
func (r *Runner) conversation(ctx context.Context, run *mailboxRun, sent model.Message) model.Conversation {
	id := sent.ConversationID
	conv, ok := run.cache.Get(id)
	if !ok {
		var err error
		conv, err = run.assembler.Assemble(ctx, id, run.owner.Email, sent.Subject)
		if err != nil {
			run.logger.Warn("conversation assembly failed, using sent message", "conversation", id, "err", err)
			conv = conversation.New(id, nil)
		}
		run.cache.Put(conv)
	}
	if len(conv.Messages) == 0 {
		return conversation.New(id, []model.Message{sent})
	}
	return conv
}

var noReplyMarkers = []string{"noreply", "no-reply", "donotreply"}

// skipReason returns why a sent message is not worth analyzing, or "".
func skipReason(sent model.Message, owner string) string {
	recipients := facts.Recipients(sent)
	if len(recipients) == 0 {
		return "no recipients"
	}
	if lo.EveryBy(recipients, func(a string) bool { return a == owner }) {
		return "sent to self"
	}
	noReply := lo.ContainsBy(recipients, func(a string) bool {
		return lo.ContainsBy(noReplyMarkers, func(m string) bool { return strings.Contains(a, m) })
	})
	if noReply {
		return "no-reply recipient"
	}
	if sent.ConversationID == "" {
		return "missing conversation id"
	}
	return ""
}
