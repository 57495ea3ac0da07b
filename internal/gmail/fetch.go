// Package gmail is the mail retrieval adapter: it lists and decodes Gmail
// messages into model.Message values and creates digest drafts.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"followup/internal/conversation"
	"followup/internal/model"
	"followup/internal/util"

	"github.com/charmbracelet/log"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

const (
	user        = "me"
	workerCount = 16
	pageSize    = 500
)

var folderQueries = map[model.Folder]string{
	model.FolderInbox:   "in:inbox",
	model.FolderSent:    "in:sent",
	model.FolderArchive: "-in:inbox -in:sent -in:trash -in:spam -in:drafts",
	model.FolderTrash:   "in:trash",
}

var _ conversation.Provider = (*Provider)(nil)

// Provider implements conversation.Provider over the Gmail API. Gmail threads
// are the conversation identifier. Services are created once per mailbox and
// reused.
type Provider struct {
	factory ServiceFactory
	logger  *log.Logger

	mu       sync.Mutex
	services map[string]*gmailv1.Service
}

func NewProvider(factory ServiceFactory, logger *log.Logger) *Provider {
	return &Provider{factory: factory, logger: logger, services: make(map[string]*gmailv1.Service)}
}

func (p *Provider) service(ctx context.Context, mailbox string) (*gmailv1.Service, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if svc, ok := p.services[mailbox]; ok {
		return svc, nil
	}
	svc, err := p.factory(ctx, mailbox)
	if err != nil {
		return nil, err
	}
	p.services[mailbox] = svc
	return svc, nil
}

// FetchSent returns every message in the sent folder since the given time.
func (p *Provider) FetchSent(ctx context.Context, mailbox string, since time.Time) ([]model.Message, error) {
	return p.FetchFolder(ctx, mailbox, model.FolderSent, conversation.Filter{Since: since})
}

// FetchFolder lists messages in folder matching f and fetches them in full.
// The listing is paged until exhausted or f.Limit messages were seen.
func (p *Provider) FetchFolder(ctx context.Context, mailbox string, folder model.Folder, f conversation.Filter) ([]model.Message, error) {
	q, err := buildQuery(folder, f)
	if err != nil {
		return nil, err
	}
	svc, err := p.service(ctx, mailbox)
	if err != nil {
		return nil, err
	}
	ids, err := listIDs(ctx, svc, q, f.Limit)
	if err != nil {
		return nil, err
	}
	return p.fetchAll(ctx, svc, ids, folder)
}

// buildQuery renders a Gmail search query. Conversation equality is never
// part of the query; callers filter by thread after fetching.
func buildQuery(folder model.Folder, f conversation.Filter) (string, error) {
	base, ok := folderQueries[folder]
	if !ok {
		return "", fmt.Errorf("unknown folder %q", folder)
	}
	parts := []string{base}
	if s := strings.TrimSpace(f.Subject); s != "" {
		s = strings.NewReplacer(`"`, " ", `\`, " ").Replace(s)
		parts = append(parts, fmt.Sprintf(`subject:"%s"`, strings.Join(strings.Fields(s), " ")))
	}
	if !f.Since.IsZero() {
		parts = append(parts, fmt.Sprintf("after:%d", f.Since.Unix()))
	}
	return strings.Join(parts, " "), nil
}

func listIDs(ctx context.Context, svc *gmailv1.Service, q string, limit int64) ([]string, error) {
	var ids []string
	pageToken := ""
	for {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		size := int64(pageSize)
		if remaining := limit - int64(len(ids)); limit > 0 && remaining < size {
			size = remaining
		}
		call := svc.Users.Messages.List(user).Q(q).MaxResults(size).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return ids, fmt.Errorf("list messages %q: %w", q, classifyErr(err))
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" || (limit > 0 && int64(len(ids)) >= limit) {
			break
		}
		pageToken = resp.NextPageToken
	}
	return ids, nil
}

// fetchAll retrieves full messages with a bounded worker pool. Individual
// failures are logged and skipped; the result keeps listing order.
func (p *Provider) fetchAll(ctx context.Context, svc *gmailv1.Service, ids []string, folder model.Folder) ([]model.Message, error) {
	type job struct {
		idx int
		id  string
	}
	type result struct {
		idx int
		msg model.Message
		err error
	}

	jobs := make(chan job, len(ids))
	results := make(chan result, len(ids))

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					return
				}
				raw, err := svc.Users.Messages.Get(user, j.id).Format("full").Context(ctx).Do()
				if err != nil {
					results <- result{idx: j.idx, err: fmt.Errorf("get message %s: %w", j.id, classifyErr(err))}
					continue
				}
				results <- result{idx: j.idx, msg: toMessage(raw, folder)}
			}
		}()
	}
	for i, id := range ids {
		jobs <- job{idx: i, id: id}
	}
	close(jobs)
	wg.Wait()
	close(results)

	slots := make([]*model.Message, len(ids))
	var failed int
	var firstErr error
	for r := range results {
		if r.err != nil {
			failed++
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		m := r.msg
		slots[r.idx] = &m
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(ids))
	for _, m := range slots {
		if m != nil {
			out = append(out, *m)
		}
	}
	if failed > 0 {
		p.logger.Warn("some messages could not be fetched", "folder", folder, "failed", failed, "err", firstErr)
		if len(out) == 0 {
			return nil, firstErr
		}
	}
	return out, nil
}

// toMessage decodes a full-format Gmail message. Messages carrying the SENT
// label have no received time and are filed under the sent folder.
func toMessage(raw *gmailv1.Message, folder model.Folder) model.Message {
	m := model.Message{
		ID:             raw.Id,
		ConversationID: raw.ThreadId,
		Folder:         folder,
		WebLink:        "https://mail.google.com/mail/#all/" + raw.Id,
	}
	sent := false
	for _, l := range raw.LabelIds {
		if l == "SENT" {
			sent = true
		}
	}
	if sent {
		m.Folder = model.FolderSent
	}

	var fromHeader string
	if raw.Payload != nil {
		for _, h := range raw.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "from":
				fromHeader = h.Value
				m.From = util.NormalizeAddress(h.Value)
			case "sender":
				m.Sender = util.NormalizeAddress(h.Value)
			case "to":
				m.To = util.ParseAddressList(h.Value)
			case "cc":
				m.Cc = util.ParseAddressList(h.Value)
			case "bcc":
				m.Bcc = util.ParseAddressList(h.Value)
			case "subject":
				m.Subject = h.Value
			case "date":
				m.SentAt = parseDate(h.Value)
			}
		}
		m.TextBody = plainBody(raw.Payload)
		m.HTMLBody = htmlBody(raw.Payload)
	}
	if m.TextBody == "" && m.HTMLBody == "" {
		m.TextBody = raw.Snippet
	}
	m.FromName = util.DisplayNameFromFrom(fromHeader, m.From)
	if !sent && raw.InternalDate > 0 {
		m.ReceivedAt = time.UnixMilli(raw.InternalDate).UTC()
	}
	return m
}

func parseDate(h string) time.Time {
	h = strings.TrimSpace(h)
	if h == "" {
		return time.Time{}
	}
	// Drop trailing comments such as "(UTC)".
	if i := strings.Index(h, " ("); i > 0 {
		h = h[:i]
	}
	layouts := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"2 Jan 2006 15:04:05 -0700",
		time.RFC822Z,
		time.RFC822,
		time.RFC850,
		time.RFC3339,
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, h); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// CreateDraft stores a raw RFC 5322 message as a draft in mailbox.
func (p *Provider) CreateDraft(ctx context.Context, mailbox string, raw []byte) (string, error) {
	svc, err := p.service(ctx, mailbox)
	if err != nil {
		return "", err
	}
	d, err := svc.Users.Drafts.Create(user, &gmailv1.Draft{
		Message: &gmailv1.Message{Raw: base64.URLEncoding.EncodeToString(raw)},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create draft: %w", classifyErr(err))
	}
	return d.Id, nil
}

// classifyErr marks rate limiting and server errors as transient.
func classifyErr(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500) {
		return fmt.Errorf("%w: %w", model.ErrTransient, err)
	}
	return err
}
