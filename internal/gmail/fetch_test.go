package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"followup/internal/conversation"
	"followup/internal/model"

	"github.com/charmbracelet/log"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

func b64(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

func TestBuildQuery(t *testing.T) {
	since := time.Unix(1700000000, 0)
	cases := []struct {
		folder model.Folder
		f      conversation.Filter
		want   string
	}{
		{model.FolderInbox, conversation.Filter{}, "in:inbox"},
		{model.FolderSent, conversation.Filter{Since: since}, "in:sent after:1700000000"},
		{model.FolderArchive, conversation.Filter{Subject: "budget  review"}, `-in:inbox -in:sent -in:trash -in:spam -in:drafts subject:"budget review"`},
		{model.FolderTrash, conversation.Filter{Subject: `say "hi"`, Since: since}, `in:trash subject:"say hi" after:1700000000`},
	}
	for _, c := range cases {
		got, err := buildQuery(c.folder, c.f)
		if err != nil {
			t.Fatalf("buildQuery(%s): %v", c.folder, err)
		}
		if got != c.want {
			t.Fatalf("buildQuery(%s) = %q, want %q", c.folder, got, c.want)
		}
	}
	if _, err := buildQuery("spam", conversation.Filter{}); err == nil {
		t.Fatalf("expected error for unknown folder")
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	for _, h := range []string{
		"Mon, 02 Jun 2025 10:30:00 -0400",
		"Mon, 2 Jun 2025 10:30:00 -0400",
		"Mon, 02 Jun 2025 14:30:00 +0000 (UTC)",
		"2 Jun 2025 14:30:00 +0000",
	} {
		if got := parseDate(h); !got.Equal(want) {
			t.Fatalf("parseDate(%q) = %v, want %v", h, got, want)
		}
	}
	if got := parseDate("yesterday-ish"); !got.IsZero() {
		t.Fatalf("expected zero time, got %v", got)
	}
}

func TestToMessage(t *testing.T) {
	raw := &gmailv1.Message{
		Id:           "m1",
		ThreadId:     "t1",
		InternalDate: 1748874600000,
		Snippet:      "snippet text",
		Payload: &gmailv1.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmailv1.MessagePartHeader{
				{Name: "From", Value: `"Bob Smith" <Bob@Example.com>`},
				{Name: "To", Value: "jane@example.com, Carl <carl@example.com>"},
				{Name: "Cc", Value: "dee@example.com"},
				{Name: "Subject", Value: "Re: Budget"},
				{Name: "Date", Value: "Mon, 02 Jun 2025 10:30:00 -0400"},
			},
			Parts: []*gmailv1.MessagePart{
				{MimeType: "multipart/alternative", Parts: []*gmailv1.MessagePart{
					{MimeType: "text/plain", Body: &gmailv1.MessagePartBody{Data: b64("plain body")}},
					{MimeType: "text/html", Body: &gmailv1.MessagePartBody{Data: b64("<p>html body</p>")}},
				}},
				{MimeType: "text/plain", Filename: "notes.txt", Body: &gmailv1.MessagePartBody{Data: b64("attachment")}},
			},
		},
	}

	m := toMessage(raw, model.FolderInbox)
	if m.ConversationID != "t1" || m.ID != "m1" {
		t.Fatalf("ids: %+v", m)
	}
	if m.From != "bob@example.com" || m.FromName != "Bob Smith" {
		t.Fatalf("from: %q %q", m.From, m.FromName)
	}
	if len(m.To) != 2 || m.To[1] != "carl@example.com" || len(m.Cc) != 1 {
		t.Fatalf("recipients: %v %v", m.To, m.Cc)
	}
	if m.TextBody != "plain body" || m.HTMLBody != "<p>html body</p>" {
		t.Fatalf("bodies: %q %q", m.TextBody, m.HTMLBody)
	}
	if m.ReceivedAt.IsZero() || m.Folder != model.FolderInbox {
		t.Fatalf("inbox message should carry received time: %+v", m)
	}
	if m.WebLink != "https://mail.google.com/mail/#all/m1" {
		t.Fatalf("weblink %q", m.WebLink)
	}

	raw.LabelIds = []string{"SENT"}
	raw.Payload.Parts = nil
	sent := toMessage(raw, model.FolderInbox)
	if !sent.ReceivedAt.IsZero() || sent.Folder != model.FolderSent {
		t.Fatalf("sent message: %+v", sent)
	}
	if sent.TextBody != "snippet text" {
		t.Fatalf("snippet fallback, got %q", sent.TextBody)
	}
}

func TestClassifyErr(t *testing.T) {
	for code, transient := range map[int]bool{429: true, 500: true, 503: true, 400: false, 404: false} {
		err := classifyErr(&googleapi.Error{Code: code})
		if errors.Is(err, model.ErrTransient) != transient {
			t.Fatalf("code %d: transient=%v", code, !transient)
		}
	}
	if err := classifyErr(io.EOF); !errors.Is(err, io.EOF) || errors.Is(err, model.ErrTransient) {
		t.Fatalf("plain errors pass through, got %v", err)
	}
}

// fakeGmail serves the subset of the Gmail REST API the provider uses.
type fakeGmail struct {
	pages    map[string][]string // page token -> ids
	next     map[string]string
	messages map[string]*gmailv1.Message

	mu      sync.Mutex
	queries []string
	drafts  int
	lastRaw string
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const prefix = "/gmail/v1/users/me/"
	path := strings.TrimPrefix(r.URL.Path, prefix)
	w.Header().Set("Content-Type", "application/json")
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case path == "messages" && r.Method == http.MethodGet:
		f.queries = append(f.queries, r.URL.Query().Get("q"))
		tok := r.URL.Query().Get("pageToken")
		var refs []map[string]string
		for _, id := range f.pages[tok] {
			refs = append(refs, map[string]string{"id": id})
		}
		json.NewEncoder(w).Encode(map[string]any{"messages": refs, "nextPageToken": f.next[tok]})
	case strings.HasPrefix(path, "messages/"):
		id := strings.TrimPrefix(path, "messages/")
		m, ok := f.messages[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":404,"message":"not found"}}`)
			return
		}
		json.NewEncoder(w).Encode(m)
	case path == "drafts" && r.Method == http.MethodPost:
		var d gmailv1.Draft
		json.NewDecoder(r.Body).Decode(&d)
		f.lastRaw = d.Message.Raw
		f.drafts++
		fmt.Fprint(w, `{"id":"draft-1"}`)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeGmail) listQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func testProvider(t *testing.T, f *fakeGmail) *Provider {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	factory := func(ctx context.Context, _ string) (*gmailv1.Service, error) {
		return gmailv1.NewService(ctx, option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	}
	return NewProvider(factory, log.New(io.Discard))
}

func fakeMessage(id, thread, subject string) *gmailv1.Message {
	return &gmailv1.Message{
		Id:       id,
		ThreadId: thread,
		LabelIds: []string{"SENT"},
		Payload: &gmailv1.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmailv1.MessagePartHeader{
				{Name: "From", Value: "jane@example.com"},
				{Name: "To", Value: "bob@example.com"},
				{Name: "Subject", Value: subject},
				{Name: "Date", Value: "Mon, 02 Jun 2025 10:30:00 +0000"},
			},
			Body: &gmailv1.MessagePartBody{Data: b64("body of " + id)},
		},
	}
}

func TestFetchFolder_PagesAndKeepsOrder(t *testing.T) {
	f := &fakeGmail{
		pages: map[string][]string{"": {"a", "b"}, "p2": {"c", "missing"}},
		next:  map[string]string{"": "p2"},
		messages: map[string]*gmailv1.Message{
			"a": fakeMessage("a", "t1", "One"),
			"b": fakeMessage("b", "t2", "Two"),
			"c": fakeMessage("c", "t1", "Re: One"),
		},
	}
	p := testProvider(t, f)

	since := time.Unix(1700000000, 0)
	msgs, err := p.FetchSent(context.Background(), "jane@example.com", since)
	if err != nil {
		t.Fatalf("FetchSent: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("want 3 messages (missing one skipped), got %d", len(msgs))
	}
	for i, id := range []string{"a", "b", "c"} {
		if msgs[i].ID != id {
			t.Fatalf("order: got %s at %d", msgs[i].ID, i)
		}
	}
	if msgs[2].ConversationID != "t1" || msgs[2].TextBody != "body of c" || msgs[2].Folder != model.FolderSent {
		t.Fatalf("decoded: %+v", msgs[2])
	}
	if q := f.listQueries(); len(q) != 2 || q[0] != "in:sent after:1700000000" {
		t.Fatalf("queries: %v", q)
	}
}

func TestFetchFolder_Limit(t *testing.T) {
	f := &fakeGmail{
		pages: map[string][]string{"": {"a"}, "p2": {"b"}},
		next:  map[string]string{"": "p2"},
		messages: map[string]*gmailv1.Message{
			"a": fakeMessage("a", "t1", "One"),
			"b": fakeMessage("b", "t2", "Two"),
		},
	}
	p := testProvider(t, f)
	msgs, err := p.FetchFolder(context.Background(), "jane@example.com", model.FolderInbox, conversation.Filter{Limit: 1})
	if err != nil {
		t.Fatalf("FetchFolder: %v", err)
	}
	if q := f.listQueries(); len(msgs) != 1 || len(q) != 1 {
		t.Fatalf("limit not honored: %d messages, %d list calls", len(msgs), len(q))
	}
}

func TestFetchFolder_AllFailedReturnsError(t *testing.T) {
	f := &fakeGmail{pages: map[string][]string{"": {"x"}}, messages: map[string]*gmailv1.Message{}}
	p := testProvider(t, f)
	if _, err := p.FetchFolder(context.Background(), "jane@example.com", model.FolderInbox, conversation.Filter{}); err == nil {
		t.Fatalf("expected error when every message fails")
	}
}

func TestCreateDraft(t *testing.T) {
	f := &fakeGmail{}
	p := testProvider(t, f)
	id, err := p.CreateDraft(context.Background(), "jane@example.com", []byte("Subject: hi\r\n\r\nbody"))
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != "draft-1" || f.drafts != 1 {
		t.Fatalf("draft id %q count %d", id, f.drafts)
	}
	if got := decodeBase64URL(f.lastRaw); got != "Subject: hi\r\n\r\nbody" {
		t.Fatalf("raw %q", got)
	}
}

func TestCodeFromInput(t *testing.T) {
	if c, _ := codeFromInput("  abc  "); c != "abc" {
		t.Fatalf("bare code, got %q", c)
	}
	if c, _ := codeFromInput("http://127.0.0.1:1234/?state=s&code=xyz"); c != "xyz" {
		t.Fatalf("url code, got %q", c)
	}
	if _, err := codeFromInput("https://example.com/?state=s"); err == nil {
		t.Fatalf("expected error for url without code")
	}
}

func TestVerifyMailbox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gmail/v1/users/me/profile" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"emailAddress":"Jane@Example.com"}`)
	}))
	t.Cleanup(srv.Close)
	svc, err := gmailv1.NewService(context.Background(), option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	if err != nil {
		t.Fatal(err)
	}

	if err := verifyMailbox(context.Background(), svc, "jane@example.com"); err != nil {
		t.Fatalf("authorized mailbox rejected: %v", err)
	}
	err = verifyMailbox(context.Background(), svc, "bob@example.com")
	if !errors.Is(err, ErrMailboxMismatch) {
		t.Fatalf("expected ErrMailboxMismatch, got %v", err)
	}
}
