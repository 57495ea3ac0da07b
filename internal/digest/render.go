package digest

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"followup/internal/model"
	"followup/internal/util"
)

//go:embed templates/digest.html.tmpl
var digestTemplate string

var tmpl = template.Must(template.New("digest").Funcs(template.FuncMap{
	"sender":  senderName,
	"age":     func(d float64) string { return fmt.Sprintf("%.1fd", d) },
	"days":    func(d float64) string { return fmt.Sprintf("%.0fd", d) },
	"orNA":    orNA,
	"summary": func(s string) string { return orDefault(s, "No summary available") },
}).Parse(digestTemplate))

// Options controls rendering.
type Options struct {
	// OwnerName is shown in the heading.
	OwnerName string
	// WebhookURL is the public base URL of the mark-dealt-with endpoint. Rows
	// get no mark link when it is empty.
	WebhookURL          string
	RecentThresholdDays int
	ReplyWaitDays       int
	AutoCloseDays       int
	// Location for displayed times; America/New_York when nil.
	Location *time.Location
	Now      time.Time
}

type section struct {
	Key         string
	Title       string
	Color       string
	Description string
	Note        bool
	Rows        []row
}

type row struct {
	Index      int
	Result     model.Result
	LowConf    bool
	LastET     string
	MarkURL    string
	ReplyBadge bool
	AutoClosed bool
}

type page struct {
	OwnerName   string
	Generated   string
	Report      model.Report
	Attention   int
	Sections    []section
	AllCaughtUp bool
}

// RenderHTML renders the report as a self-contained HTML fragment suitable
// for a mail body.
func RenderHTML(rep model.Report, opts Options) (string, error) {
	loc := opts.Location
	if loc == nil {
		loc = eastern()
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	if opts.AutoCloseDays == 0 {
		opts.AutoCloseDays = 14
	}

	build := func(key string, results []model.Result) []row {
		rows := make([]row, 0, len(results))
		for i, r := range results {
			rows = append(rows, row{
				Index:      i + 1,
				Result:     r,
				LowConf:    r.Confidence == model.ConfidenceLow,
				LastET:     formatET(r.LastActivity, loc),
				MarkURL:    markURL(opts.WebhookURL, r),
				ReplyBadge: r.ActionLabel == "You need to reply",
				AutoClosed: key == "auto_closed",
			})
		}
		return rows
	}

	p := page{
		OwnerName:   opts.OwnerName,
		Generated:   now.In(loc).Format("2006-01-02 15:04"),
		Report:      rep,
		Attention:   rep.Attention(),
		AllCaughtUp: rep.Attention() == 0,
	}
	if len(rep.Urgent) > 0 {
		p.Sections = append(p.Sections, section{
			Key: "urgent", Title: fmt.Sprintf("🔴 URGENT - Action Required - %d", len(rep.Urgent)), Color: "#c62828",
			Description: "High-priority conversations flagged by urgency analysis",
			Rows:        build("urgent", rep.Urgent),
		})
	}
	if len(rep.RecentImportant) > 0 {
		p.Sections = append(p.Sections, section{
			Key: "recent_important", Title: fmt.Sprintf("🟠 Recent but Important - %d", len(rep.RecentImportant)), Color: "#ef6c00",
			Description: fmt.Sprintf("Less than %d days old, but these need attention", opts.RecentThresholdDays),
			Rows:        build("recent_important", rep.RecentImportant),
		})
	}
	if len(rep.Hanging) > 0 {
		p.Sections = append(p.Sections, section{
			Key: "hanging", Title: fmt.Sprintf("⏳ Hanging Conversations - %d", len(rep.Hanging)), Color: "#1565c0",
			Description: fmt.Sprintf("Conversations waiting %d+ days for a response", opts.ReplyWaitDays),
			Note:        true,
			Rows:        build("hanging", rep.Hanging),
		})
	}
	if len(rep.AutoClosed) > 0 {
		p.Sections = append(p.Sections, section{
			Key: "auto_closed", Title: fmt.Sprintf("⚪ Auto-Closed - Inactive Conversations - %d", len(rep.AutoClosed)), Color: "#9e9e9e",
			Description: fmt.Sprintf("These conversations were inactive for %d+ days and were automatically marked as closed. Review to confirm closure or reopen if needed.", opts.AutoCloseDays),
			Rows:        build("auto_closed", rep.AutoClosed),
		})
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("render digest: %w", err)
	}
	return buf.String(), nil
}

// markURL builds the mark-dealt-with link for one row.
func markURL(base string, r model.Result) string {
	base = strings.TrimRight(base, "/")
	if base == "" || r.ConversationID == "" || r.LatestMessageID == "" || r.Owner == "" {
		return ""
	}
	q := url.Values{}
	q.Set("conversationId", r.ConversationID)
	q.Set("latestMessageId", r.LatestMessageID)
	q.Set("userEmail", r.Owner)
	q.Set("subject", r.Subject)
	return base + "/api/mark-dealt-with?" + q.Encode()
}

func eastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}

func formatET(t time.Time, loc *time.Location) string {
	if t.IsZero() || t.Unix() == 0 {
		return "N/A"
	}
	return t.In(loc).Format("Jan 02, 2006 03:04 PM") + " ET"
}

// senderName formats the last sender for display, capped at 25 characters.
func senderName(s string) string {
	name := []rune(util.FormatSenderName(orNA(s)))
	if len(name) > 25 {
		name = name[:25]
	}
	return string(name)
}

func orNA(s string) string { return orDefault(s, "N/A") }

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
