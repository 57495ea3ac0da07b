// Package digest turns classified conversations into a per-mailbox report,
// renders it as HTML and delivers it.
package digest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"followup/internal/model"
)

// Stats carries the run counters that are not represented by results.
type Stats struct {
	// Skipped counts sent messages that never produced a result: prefilter
	// rejections, duplicates within the run and per-message failures.
	Skipped int
	Errors  int
	// Total is the number of sent messages examined.
	Total int
}

// Build routes results into the report buckets. Bucket order follows result
// order; auto-closed rows are listed longest-inactive first.
func Build(results []model.Result, stats Stats) model.Report {
	rep := model.Report{
		NoAction:       stats.Skipped,
		Errors:         stats.Errors,
		TotalProcessed: stats.Total,
	}
	for _, r := range results {
		switch r.Category {
		case model.CategoryUrgent:
			rep.Urgent = append(rep.Urgent, r)
		case model.CategoryRecentImportant:
			rep.RecentImportant = append(rep.RecentImportant, r)
		case model.CategoryHanging:
			rep.Hanging = append(rep.Hanging, r)
		case model.CategoryAutoClosed:
			rep.AutoClosed = append(rep.AutoClosed, r)
		case model.CategorySuppressed:
			rep.Suppressed++
		default:
			rep.NoAction++
		}
	}
	sort.SliceStable(rep.AutoClosed, func(i, j int) bool {
		return rep.AutoClosed[i].AgeDays > rep.AutoClosed[j].AgeDays
	})
	return rep
}

// Subject is the digest mail subject line for the named owner.
func Subject(rep model.Report, name string, now time.Time) string {
	date := now.Format("Jan 02")
	if rep.Attention() == 0 {
		return fmt.Sprintf("[Email Digest] %s - All caught up! - %s", name, date)
	}
	var parts []string
	if n := len(rep.Urgent); n > 0 {
		parts = append(parts, fmt.Sprintf("%d urgent", n))
	}
	if n := len(rep.RecentImportant); n > 0 {
		parts = append(parts, fmt.Sprintf("%d important", n))
	}
	if n := len(rep.Hanging); n > 0 {
		parts = append(parts, fmt.Sprintf("%d hanging", n))
	}
	return fmt.Sprintf("[Email Digest] %s - %s - %s", name, strings.Join(parts, ", "), date)
}
