package main

import (
	"fmt"
	"io"
	"os"

	"followup/internal/classify"
	"followup/internal/config"
	"followup/internal/detect"
	"followup/internal/digest"
	"followup/internal/gmail"
	"followup/internal/judge"
	"followup/internal/pipeline"
	"followup/internal/store"

	"github.com/charmbracelet/log"
)

// app holds the collaborators shared by the commands.
type app struct {
	cfg    *config.Config
	logger *log.Logger
	store  *store.SQLiteStore
	gmail  *gmail.Provider
}

func loadConfig() (*config.Config, error) {
	if opts.EnvFile != "" {
		if err := os.Setenv("ENV_FILE", opts.EnvFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	return cfg, nil
}

// newApp loads configuration and opens the store, expiring old suppressions
// first. Logs go to w.
func newApp(w io.Writer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := config.NewLoggerTo(w, cfg.LogLevel)

	st, err := store.Open(cfg.DBPath, logger, store.WithExpiry(cfg.SuppressionTTL()))
	if err != nil {
		return nil, fmt.Errorf("open suppression store: %w", err)
	}

	factory := gmail.InstalledApp(cfg.GmailConfigDir)
	if cfg.GmailServiceAccountFile != "" {
		factory = gmail.Delegated(cfg.GmailServiceAccountFile)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		gmail:  gmail.NewProvider(factory, logger),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) classifier() (*classify.Classifier, error) {
	var (
		j classify.Judge
		u classify.UrgencyJudge
	)
	if a.cfg.OpenAIAPIKey != "" {
		svc := judge.New(a.logger, a.cfg.OpenAIAPIKey, a.cfg.OpenAIBaseURL, a.cfg.OpenAIModel)
		j, u = svc, svc
	} else {
		a.logger.Warn("OPENAI_API_KEY not set, classifying from message direction only")
	}

	c := classify.New(j, u, a.store, a.logger)
	c.AutoCloseDays = a.cfg.AutoCloseDays
	c.RecentThresholdDays = a.cfg.RecentThresholdDays
	c.AutoCloseOtherParty = a.cfg.AutoCloseOtherParty
	if a.cfg.ClosureSignalsFile != "" {
		sig, err := detect.LoadSignals(a.cfg.ClosureSignalsFile)
		if err != nil {
			return nil, fmt.Errorf("load closure signals: %w", err)
		}
		c.Signals = sig
	}
	return c, nil
}

func (a *app) runner() (*pipeline.Runner, error) {
	c, err := a.classifier()
	if err != nil {
		return nil, err
	}
	return pipeline.NewRunner(a.gmail, c, pipeline.Options{
		LookbackDays:     a.cfg.LookbackDays,
		ReplyWaitDays:    a.cfg.ReplyWaitDays,
		FallbackScanDays: a.cfg.FallbackScanDays,
	}, a.logger), nil
}

// deliverer chains SMTP (when configured), a Gmail draft and a local file.
func (a *app) deliverer(fileOnly bool) digest.Deliverer {
	var chain []digest.Deliverer
	if !fileOnly {
		if a.cfg.SMTPHost != "" {
			chain = append(chain, digest.NewSMTPDeliverer(a.cfg.SMTPHost, a.cfg.SMTPPort, a.cfg.SMTPUsername, a.cfg.SMTPPassword, a.cfg.SMTPUsername))
		}
		chain = append(chain, digest.NewDraftDeliverer(a.gmail))
	}
	chain = append(chain, digest.NewFileDeliverer(a.cfg.OutputDir))
	return digest.Chain{Deliverers: chain, Logger: a.logger}
}

func (a *app) batchConfig(fileOnly bool) pipeline.BatchConfig {
	return pipeline.BatchConfig{
		Concurrency: a.cfg.MailboxConcurrency,
		LockPath:    a.cfg.LockPath(),
		Deliverer:   a.deliverer(fileOnly),
		Render: digest.Options{
			WebhookURL:          a.cfg.WebhookAPIURL,
			RecentThresholdDays: a.cfg.RecentThresholdDays,
			ReplyWaitDays:       a.cfg.ReplyWaitDays,
			AutoCloseDays:       a.cfg.AutoCloseDays,
		},
		Recipient: a.cfg.DigestRecipient,
		Recorder:  a.store,
	}
}
