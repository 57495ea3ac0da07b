package pipeline

import (
	"context"
	"fmt"
	"time"

	"followup/internal/digest"
	"followup/internal/lock"
	"followup/internal/model"
	"followup/internal/store"
	"followup/internal/util"

	"golang.org/x/sync/errgroup"
)

// RunRecorder persists run summaries.
type RunRecorder interface {
	RecordRun(ctx context.Context, r store.RunRecord) error
}

// BatchConfig controls a multi-mailbox run. Nil collaborators disable the
// matching step.
type BatchConfig struct {
	// Concurrency above 1 analyzes that many mailboxes in parallel.
	Concurrency int
	// LockPath, when set, is held for the whole batch.
	LockPath  string
	Deliverer digest.Deliverer
	Render    digest.Options
	// Recipient receives every digest; each mailbox's own address when empty.
	Recipient string
	Recorder  RunRecorder
}

// Outcome is the result of one mailbox in a batch.
type Outcome struct {
	Mailbox  string
	Report   model.Report
	Delivery string
	Err      error
}

// Batch analyzes every mailbox, then renders, delivers and records each
// report. A failing mailbox does not stop the others; its error is in its
// Outcome. Outcomes follow the order of mailboxes.
func (r *Runner) Batch(ctx context.Context, mailboxes []string, cfg BatchConfig) ([]Outcome, error) {
	outcomes := make([]Outcome, len(mailboxes))
	work := func() error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(cfg.Concurrency, 1))
		for i, mb := range mailboxes {
			g.Go(func() error {
				outcomes[i] = r.runMailbox(gctx, mb, cfg)
				return gctx.Err()
			})
		}
		return g.Wait()
	}

	var err error
	if cfg.LockPath != "" {
		err = lock.WithRunLock(cfg.LockPath, work)
	} else {
		err = work()
	}
	if err != nil {
		return outcomes, fmt.Errorf("batch run: %w", err)
	}
	return outcomes, nil
}

func (r *Runner) runMailbox(ctx context.Context, mailbox string, cfg BatchConfig) Outcome {
	started := r.now()
	out := Outcome{Mailbox: mailbox}
	logger := r.logger.With("mailbox", mailbox)

	rep, err := r.AnalyzeMailbox(ctx, mailbox)
	if err != nil {
		logger.Error("mailbox run failed", "err", err)
		out.Err = err
		return out
	}
	out.Report = rep

	if cfg.Deliverer != nil {
		out.Delivery, out.Err = r.publish(ctx, rep, cfg)
		if out.Err != nil {
			logger.Error("digest not delivered", "err", out.Err)
		} else {
			logger.Info("digest delivered", "to", out.Delivery)
		}
	}

	if cfg.Recorder != nil {
		rec := store.NewRunRecord(rep, started, r.now(), out.Delivery)
		if err := cfg.Recorder.RecordRun(ctx, rec); err != nil {
			logger.Warn("run history not recorded", "run", rep.RunID, "err", err)
		}
	}
	return out
}

func (r *Runner) publish(ctx context.Context, rep model.Report, cfg BatchConfig) (string, error) {
	name := util.OwnerName(rep.Mailbox)
	opts := cfg.Render
	opts.OwnerName = name
	opts.Now = rep.GeneratedAt

	body, err := digest.RenderHTML(rep, opts)
	if err != nil {
		return "", err
	}
	to := cfg.Recipient
	if to == "" {
		to = rep.Mailbox
	}
	generated := rep.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	return cfg.Deliverer.Deliver(ctx, digest.Digest{
		Mailbox: rep.Mailbox,
		To:      to,
		Subject: digest.Subject(rep, name, generated),
		HTML:    body,
	})
}
