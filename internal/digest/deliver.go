package digest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"mime"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/jaytaylor/html2text"
)

// Digest is a rendered report ready for delivery.
type Digest struct {
	Mailbox string
	To      string
	Subject string
	HTML    string
}

// Deliverer hands a digest to its destination and returns a short
// description of where it went.
type Deliverer interface {
	Deliver(ctx context.Context, d Digest) (string, error)
}

// Chain tries each deliverer in order until one succeeds.
type Chain struct {
	Deliverers []Deliverer
	Logger     *log.Logger
}

func (c Chain) Deliver(ctx context.Context, d Digest) (string, error) {
	var errs []error
	for _, dl := range c.Deliverers {
		where, err := dl.Deliver(ctx, d)
		if err == nil {
			return where, nil
		}
		if c.Logger != nil {
			c.Logger.Warn("digest delivery failed, trying next", "mailbox", d.Mailbox, "err", err)
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", errors.New("no digest deliverers configured")
	}
	return "", fmt.Errorf("deliver digest for %s: %w", d.Mailbox, errors.Join(errs...))
}

var lineBreaks = strings.NewReplacer("\r", " ", "\n", " ")

// oneLine replaces line breaks so a value cannot start a new header.
func oneLine(s string) string {
	return lineBreaks.Replace(s)
}

func htmlPage(title, body string) string {
	return "<html><head><title>" + html.EscapeString(title) + "</title></head><body>" + body + "</body></html>"
}

// BuildMessage renders an RFC 5322 message with HTML and plain text
// alternatives.
func BuildMessage(from string, d Digest, now time.Time) []byte {
	subject := oneLine(d.Subject)
	headers := []string{
		fmt.Sprintf("From: %s", oneLine(from)),
		fmt.Sprintf("To: %s", oneLine(d.To)),
		fmt.Sprintf("Subject: %s", mime.QEncoding.Encode("utf-8", subject)),
		fmt.Sprintf("Date: %s", now.Format(time.RFC1123Z)),
		"MIME-Version: 1.0",
	}
	text, err := html2text.FromString(d.HTML, html2text.Options{OmitLinks: true, TextOnly: true})
	if err != nil {
		text = ""
	}
	body := htmlPage(subject, d.HTML)

	boundary := fmt.Sprintf("followup-digest-%d", now.UnixNano())
	headers = append(headers, fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", boundary))
	var b strings.Builder
	b.WriteString(strings.Join(headers, "\r\n"))
	b.WriteString("\r\n\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(crlf(text))
	b.WriteString("\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(crlf(body))
	b.WriteString("\r\n")
	b.WriteString("--" + boundary + "--\r\n")
	return []byte(b.String())
}

func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// SMTPDeliverer sends the digest over implicit TLS with PLAIN auth.
type SMTPDeliverer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// dial is replaced in tests to skip TLS.
	dial func(addr string) (net.Conn, error)
	now  func() time.Time
}

func NewSMTPDeliverer(host string, port int, username, password, from string) *SMTPDeliverer {
	if from == "" {
		from = username
	}
	return &SMTPDeliverer{
		Host: host, Port: port, Username: username, Password: password, From: from,
		dial: func(addr string) (net.Conn, error) {
			return tls.Dial("tcp", addr, &tls.Config{ServerName: host})
		},
		now: time.Now,
	}
}

func (s *SMTPDeliverer) Deliver(ctx context.Context, d Digest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	addr := net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
	conn, err := s.dial(addr)
	if err != nil {
		return "", fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	c := smtp.NewClient(conn)
	defer c.Close()

	if s.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.Username, s.Password)); err != nil {
			return "", fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(s.From, nil); err != nil {
		return "", fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(d.To, nil); err != nil {
		return "", fmt.Errorf("smtp rcpt %s: %w", d.To, err)
	}
	w, err := c.Data()
	if err != nil {
		return "", fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(BuildMessage(s.From, d, s.now())); err != nil {
		w.Close()
		return "", fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("smtp close data: %w", err)
	}
	if err := c.Quit(); err != nil {
		return "", fmt.Errorf("smtp quit: %w", err)
	}
	return "smtp:" + d.To, nil
}

// DraftCreator stores a raw message as a draft in a mailbox.
type DraftCreator interface {
	CreateDraft(ctx context.Context, mailbox string, raw []byte) (string, error)
}

// DraftDeliverer leaves the digest as a draft in the recipient's mailbox.
type DraftDeliverer struct {
	Drafts DraftCreator
	now    func() time.Time
}

func NewDraftDeliverer(drafts DraftCreator) *DraftDeliverer {
	return &DraftDeliverer{Drafts: drafts, now: time.Now}
}

func (dd *DraftDeliverer) Deliver(ctx context.Context, d Digest) (string, error) {
	id, err := dd.Drafts.CreateDraft(ctx, d.To, BuildMessage(d.To, d, dd.now()))
	if err != nil {
		return "", fmt.Errorf("create digest draft in %s: %w", d.To, err)
	}
	return "draft:" + id, nil
}

// FileDeliverer writes the digest as an HTML file.
type FileDeliverer struct {
	Dir string
	now func() time.Time
}

func NewFileDeliverer(dir string) *FileDeliverer {
	return &FileDeliverer{Dir: dir, now: time.Now}
}

func (f *FileDeliverer) Deliver(_ context.Context, d Digest) (string, error) {
	dir := f.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, FileName(d.Mailbox, f.now()))
	if err := os.WriteFile(path, []byte(htmlPage(oneLine(d.Subject), d.HTML)), 0o644); err != nil {
		return "", fmt.Errorf("write digest file: %w", err)
	}
	return "file:" + path, nil
}

// FileName is the digest file name for a mailbox at a given time.
func FileName(mailbox string, t time.Time) string {
	safe := strings.NewReplacer("@", "_at_", ".", "_").Replace(mailbox)
	return fmt.Sprintf("email_digest_%s_%s.html", safe, t.Format("20060102_150405"))
}
