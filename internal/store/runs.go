package store

import (
	"context"
	"fmt"
	"time"

	"followup/internal/model"
)

// RunRecord is the persisted summary of one mailbox run.
type RunRecord struct {
	ID              string    `json:"runId"`
	Mailbox         string    `json:"mailbox"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
	Urgent          int       `json:"urgent"`
	RecentImportant int       `json:"recentImportant"`
	Hanging         int       `json:"hanging"`
	AutoClosed      int       `json:"autoClosed"`
	NoAction        int       `json:"noAction"`
	Suppressed      int       `json:"suppressed"`
	Errors          int       `json:"errors"`
	TotalProcessed  int       `json:"totalProcessed"`
	// Delivery names the deliverer that succeeded, or is empty.
	Delivery string `json:"delivery"`
}

// NewRunRecord summarizes a report.
func NewRunRecord(r model.Report, started, finished time.Time, delivery string) RunRecord {
	return RunRecord{
		ID:              r.RunID,
		Mailbox:         r.Mailbox,
		StartedAt:       started,
		FinishedAt:      finished,
		Urgent:          len(r.Urgent),
		RecentImportant: len(r.RecentImportant),
		Hanging:         len(r.Hanging),
		AutoClosed:      len(r.AutoClosed),
		NoAction:        r.NoAction,
		Suppressed:      r.Suppressed,
		Errors:          r.Errors,
		TotalProcessed:  r.TotalProcessed,
		Delivery:        delivery,
	}
}

func (s *SQLiteStore) RecordRun(ctx context.Context, r RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, mailbox, started_at, finished_at, urgent, recent_important, hanging,
			auto_closed, no_action, suppressed, errors, total_processed, delivery)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			finished_at      = excluded.finished_at,
			urgent           = excluded.urgent,
			recent_important = excluded.recent_important,
			hanging          = excluded.hanging,
			auto_closed      = excluded.auto_closed,
			no_action        = excluded.no_action,
			suppressed       = excluded.suppressed,
			errors           = excluded.errors,
			total_processed  = excluded.total_processed,
			delivery         = excluded.delivery
	`, r.ID, normOwner(r.Mailbox), formatTS(r.StartedAt), formatTS(r.FinishedAt), r.Urgent, r.RecentImportant,
		r.Hanging, r.AutoClosed, r.NoAction, r.Suppressed, r.Errors, r.TotalProcessed, r.Delivery)
	if err != nil {
		return fmt.Errorf("record run: %w: %w", ErrStorage, err)
	}
	return nil
}

// RecentRuns returns up to limit runs for mailbox, newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, mailbox string, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, mailbox, started_at, finished_at, urgent, recent_important, hanging,
			auto_closed, no_action, suppressed, errors, total_processed, delivery
		FROM runs
		WHERE mailbox = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, normOwner(mailbox), limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w: %w", ErrStorage, err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Mailbox, &started, &finished, &r.Urgent, &r.RecentImportant, &r.Hanging,
			&r.AutoClosed, &r.NoAction, &r.Suppressed, &r.Errors, &r.TotalProcessed, &r.Delivery); err != nil {
			return nil, fmt.Errorf("scan run: %w: %w", ErrStorage, err)
		}
		r.StartedAt, r.FinishedAt = parseTS(started), parseTS(finished)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query runs: %w: %w", ErrStorage, err)
	}
	return out, nil
}
