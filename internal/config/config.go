// Package config loads runtime settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

type Config struct {
	Mailboxes []string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	LookbackDays        int
	ReplyWaitDays       int
	RecentThresholdDays int
	AutoCloseDays       int
	FallbackScanDays    int
	SuppressionTTLDays  int
	AutoCloseOtherParty bool

	DBPath string

	WebhookHost   string
	WebhookPort   int
	WebhookAPIKey string
	WebhookAPIURL string

	GmailConfigDir          string
	GmailServiceAccountFile string

	DigestRecipient string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	OutputDir       string

	ClosureSignalsFile string
	MailboxConcurrency int
	DigestSchedule     string
	LogLevel           string
}

// SuppressionTTL is the age after which a suppression expires.
func (c *Config) SuppressionTTL() time.Duration {
	return time.Duration(c.SuppressionTTLDays) * 24 * time.Hour
}

// LockPath is the run lock file, kept next to the database.
func (c *Config) LockPath() string {
	return filepath.Join(filepath.Dir(c.DBPath), "run.lock")
}

// Load reads ENV_FILE (or .env in the working directory) when present, then
// the process environment. A missing .env file is not an error.
func Load() (*Config, error) {
	if path := os.Getenv("ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", path, err)
		}
	} else {
		_ = godotenv.Load()
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	configDir := filepath.Join(home, ".config", "followup")

	var errs []error
	num := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	c := &Config{
		Mailboxes:               splitList(getEnv("MAILBOXES", "")),
		OpenAIAPIKey:            getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:           getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:             getEnv("OPENAI_MODEL", "gpt-4o"),
		LookbackDays:            num("LOOKBACK_DAYS", 7),
		ReplyWaitDays:           num("REPLY_WAIT_DAYS", 2),
		RecentThresholdDays:     num("RECENT_THRESHOLD_DAYS", 2),
		AutoCloseDays:           num("AUTO_CLOSE_DAYS", 14),
		FallbackScanDays:        num("FALLBACK_SCAN_DAYS", 90),
		SuppressionTTLDays:      num("SUPPRESSION_TTL_DAYS", 14),
		AutoCloseOtherParty:     getEnvBool("AUTO_CLOSE_OTHER_PARTY", false),
		DBPath:                  getEnv("EXCLUSIONS_DB_PATH", filepath.Join(configDir, "email_exclusions.db")),
		WebhookHost:             getEnv("WEBHOOK_HOST", "0.0.0.0"),
		WebhookPort:             num("WEBHOOK_PORT", 5000),
		WebhookAPIKey:           getEnv("WEBHOOK_API_KEY", ""),
		WebhookAPIURL:           getEnv("WEBHOOK_API_URL", ""),
		GmailConfigDir:          getEnv("GMAIL_CONFIG_DIR", configDir),
		GmailServiceAccountFile: getEnv("GMAIL_SERVICE_ACCOUNT_FILE", ""),
		DigestRecipient:         getEnv("DIGEST_RECIPIENT", ""),
		SMTPHost:                getEnv("SMTP_HOST", ""),
		SMTPPort:                num("SMTP_PORT", 465),
		SMTPUsername:            getEnv("SMTP_USERNAME", ""),
		SMTPPassword:            getEnv("SMTP_PASSWORD", ""),
		OutputDir:               getEnv("OUTPUT_DIR", "."),
		ClosureSignalsFile:      getEnv("CLOSURE_SIGNALS_FILE", ""),
		MailboxConcurrency:      num("MAILBOX_CONCURRENCY", 1),
		DigestSchedule:          getEnv("DIGEST_SCHEDULE", ""),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks value ranges. Missing credentials are reported by the
// commands that need them.
func (c *Config) Validate() error {
	var errs []error
	positive := map[string]int{
		"LOOKBACK_DAYS":        c.LookbackDays,
		"AUTO_CLOSE_DAYS":      c.AutoCloseDays,
		"SUPPRESSION_TTL_DAYS": c.SuppressionTTLDays,
		"MAILBOX_CONCURRENCY":  c.MailboxConcurrency,
	}
	for key, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, v))
		}
	}
	if c.ReplyWaitDays < 0 || c.RecentThresholdDays < 0 {
		errs = append(errs, errors.New("REPLY_WAIT_DAYS and RECENT_THRESHOLD_DAYS must not be negative"))
	}
	if c.WebhookPort <= 0 || c.WebhookPort > 65535 {
		errs = append(errs, fmt.Errorf("WEBHOOK_PORT out of range: %d", c.WebhookPort))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == ' ' }) {
		out = append(out, strings.ToLower(part))
	}
	return out
}
