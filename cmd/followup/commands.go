package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"followup/internal/config"
	"followup/internal/gmail"
	"followup/internal/lock"
	"followup/internal/store"
	"followup/internal/tui"
	"followup/internal/webhook"

	tea "github.com/charmbracelet/bubbletea"
	crondesc "github.com/lnquy/cron"
	"github.com/robfig/cron/v3"
)

type RunCommand struct {
	Mailboxes   []string `short:"m" long:"mailbox" description:"Mailbox to analyze (repeatable); defaults to MAILBOXES"`
	FileOnly    bool     `long:"file-only" description:"Write digests to OUTPUT_DIR without sending or drafting"`
	Concurrency int      `long:"concurrency" description:"Mailboxes analyzed in parallel; overrides MAILBOX_CONCURRENCY"`
}

func (c *RunCommand) Execute(_ []string) error {
	a, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	mailboxes := a.cfg.Mailboxes
	if len(c.Mailboxes) > 0 {
		mailboxes = c.Mailboxes
	}
	if len(mailboxes) == 0 {
		return errors.New("no mailboxes: set MAILBOXES or pass --mailbox")
	}
	if c.Concurrency > 0 {
		a.cfg.MailboxConcurrency = c.Concurrency
	}

	r, err := a.runner()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcomes, err := r.Batch(ctx, mailboxes, a.batchConfig(c.FileOnly))
	if err != nil {
		return err
	}
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			fmt.Printf("%s: failed: %v\n", o.Mailbox, o.Err)
			continue
		}
		fmt.Printf("%s: %d need attention (%d urgent), %d auto-closed, %d skipped -> %s\n",
			o.Mailbox, o.Report.Attention(), len(o.Report.Urgent), len(o.Report.AutoClosed), o.Report.NoAction, o.Delivery)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d mailboxes failed", failed, len(outcomes))
	}
	return nil
}

type ServeCommand struct {
	Host       string `long:"host" description:"Listen host; overrides WEBHOOK_HOST"`
	Port       int    `long:"port" description:"Listen port; overrides WEBHOOK_PORT"`
	NoSchedule bool   `long:"no-schedule" description:"Ignore DIGEST_SCHEDULE"`
}

func (c *ServeCommand) Execute(_ []string) error {
	a, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	host, port := a.cfg.WebhookHost, a.cfg.WebhookPort
	if c.Host != "" {
		host = c.Host
	}
	if c.Port > 0 {
		port = c.Port
	}
	if a.cfg.WebhookAPIKey == "" {
		a.logger.Warn("WEBHOOK_API_KEY not set, endpoints are unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.DigestSchedule != "" && !c.NoSchedule {
		sched, err := scheduleDigests(ctx, a)
		if err != nil {
			return err
		}
		defer sched.Stop()
	}

	srv := webhook.New(a.store, a.cfg.WebhookAPIKey, a.logger)
	return srv.ListenAndServe(ctx, net.JoinHostPort(host, strconv.Itoa(port)))
}

// scheduleDigests runs the configured mailboxes on DIGEST_SCHEDULE.
func scheduleDigests(ctx context.Context, a *app) (*cron.Cron, error) {
	if len(a.cfg.Mailboxes) == 0 {
		return nil, errors.New("DIGEST_SCHEDULE set but MAILBOXES is empty")
	}
	r, err := a.runner()
	if err != nil {
		return nil, err
	}
	cfg := a.batchConfig(false)

	sched := cron.New()
	_, err = sched.AddFunc(a.cfg.DigestSchedule, func() {
		if n, err := a.store.Expire(ctx, a.cfg.SuppressionTTL()); err != nil {
			a.logger.Warn("expire suppressions failed", "err", err)
		} else if n > 0 {
			a.logger.Info("expired suppressions", "removed", n)
		}
		outcomes, err := r.Batch(ctx, a.cfg.Mailboxes, cfg)
		if errors.Is(err, lock.ErrLocked) {
			a.logger.Warn("scheduled run skipped, another run is in progress")
			return
		}
		if err != nil {
			a.logger.Error("scheduled run failed", "err", err)
			return
		}
		for _, o := range outcomes {
			if o.Err != nil {
				a.logger.Error("scheduled mailbox failed", "mailbox", o.Mailbox, "err", o.Err)
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("parse DIGEST_SCHEDULE %q: %w", a.cfg.DigestSchedule, err)
	}
	sched.Start()
	a.logger.Info("digests scheduled", "schedule", a.cfg.DigestSchedule, "when", describeSchedule(a.cfg.DigestSchedule))
	return sched, nil
}

// describeSchedule renders a cron expression as English, or returns it
// unchanged when it cannot be described.
func describeSchedule(expr string) string {
	desc, err := crondesc.NewDescriptor()
	if err != nil {
		return expr
	}
	text, err := desc.ToDescription(expr, crondesc.Locale_en)
	if err != nil {
		return expr
	}
	return text
}

type ExpireCommand struct {
	Days int `long:"days" description:"Expire suppressions older than this many days; overrides SUPPRESSION_TTL_DAYS"`
}

func (c *ExpireCommand) Execute(_ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if c.Days > 0 {
		cfg.SuppressionTTLDays = c.Days
	}
	logger := config.NewLogger(cfg.LogLevel)

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open suppression store: %w", err)
	}
	defer st.Close()

	n, err := st.Expire(context.Background(), cfg.SuppressionTTL())
	if err != nil {
		return err
	}
	logger.Info("suppressions expired", "removed", n, "older_than_days", cfg.SuppressionTTLDays)
	return nil
}

type BrowseCommand struct {
	Mailbox string `short:"m" long:"mailbox" description:"Mailbox to analyze; defaults to the first of MAILBOXES"`
}

func (c *BrowseCommand) Execute(_ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// The terminal belongs to the UI, so logs go to a file.
	if err := os.MkdirAll(cfg.GmailConfigDir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(cfg.GmailConfigDir, "browse.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	a, err := newApp(logFile)
	if err != nil {
		return err
	}
	defer a.Close()

	mailbox := c.Mailbox
	if mailbox == "" && len(a.cfg.Mailboxes) > 0 {
		mailbox = a.cfg.Mailboxes[0]
	}
	if mailbox == "" {
		return errors.New("no mailbox: set MAILBOXES or pass --mailbox")
	}

	r, err := a.runner()
	if err != nil {
		return err
	}
	appModel := tui.NewAppModel(r, a.store, mailbox)
	r.OnProgress(appModel.Progress)
	p := tea.NewProgram(&appModel, tea.WithAltScreen())
	appModel.SetProgram(p)
	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("run terminal UI: %w", err)
	}
	if m, ok := finalModel.(*tui.AppModel); ok && m.Err != nil {
		return m.Err
	}
	return nil
}

type LoginCommand struct{}

func (c *LoginCommand) Execute(_ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.GmailServiceAccountFile != "" {
		fmt.Println("GMAIL_SERVICE_ACCOUNT_FILE is set; mailboxes are accessed by delegation and need no login.")
		return nil
	}
	addr, err := gmail.Login(context.Background(), cfg.GmailConfigDir)
	if err != nil {
		return fmt.Errorf("gmail login: %w", err)
	}
	fmt.Printf("Authorized %s. Token cached in %s\n", addr, cfg.GmailConfigDir)
	return nil
}
