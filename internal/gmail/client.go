package gmail

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Scopes requested for every mailbox: read mail, and compose for digest drafts.
var Scopes = []string{gmailv1.GmailReadonlyScope, gmailv1.GmailComposeScope}

// ErrMailboxMismatch is returned when a mailbox is not the account the cached
// token authorizes.
var ErrMailboxMismatch = errors.New("mailbox is not the authorized account")

// ServiceFactory returns a Gmail service acting as mailbox.
type ServiceFactory func(ctx context.Context, mailbox string) (*gmailv1.Service, error)

// InstalledApp returns a factory for the single user authorized via configDir:
// - Client credentials at <configDir>/client_secret.json
// - Token cache at <configDir>/token.json
// A missing or invalid token fails; run Login first. Any mailbox other than
// the authorized one fails with ErrMailboxMismatch.
func InstalledApp(configDir string) ServiceFactory {
	return func(ctx context.Context, mailbox string) (*gmailv1.Service, error) {
		cfg, err := oauthConfig(configDir)
		if err != nil {
			return nil, err
		}
		tok, err := readToken(filepath.Join(configDir, "token.json"))
		if err != nil {
			return nil, fmt.Errorf("read cached token (run login): %w", err)
		}
		svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx, tok)))
		if err != nil {
			return nil, fmt.Errorf("create gmail service: %w", err)
		}
		if err := verifyMailbox(ctx, svc, mailbox); err != nil {
			return nil, err
		}
		return svc, nil
	}
}

func verifyMailbox(ctx context.Context, svc *gmailv1.Service, mailbox string) error {
	prof, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get authorized profile: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(prof.EmailAddress), strings.TrimSpace(mailbox)) {
		return fmt.Errorf("%w: token is for %s, not %s", ErrMailboxMismatch, prof.EmailAddress, mailbox)
	}
	return nil
}

// Delegated returns a factory that impersonates each mailbox through a
// service account with domain-wide delegation.
func Delegated(serviceAccountFile string) ServiceFactory {
	return func(ctx context.Context, mailbox string) (*gmailv1.Service, error) {
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account at %s: %w", serviceAccountFile, err)
		}
		jwt, err := google.JWTConfigFromJSON(b, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("parse service account: %w", err)
		}
		jwt.Subject = mailbox
		svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
		if err != nil {
			return nil, fmt.Errorf("create gmail service for %s: %w", mailbox, err)
		}
		return svc, nil
	}
}

// Login authorizes the installed app, reusing a cached token when it still
// works, and returns the authorized address.
func Login(ctx context.Context, configDir string) (string, error) {
	cfg, err := oauthConfig(configDir)
	if err != nil {
		return "", err
	}

	tokFile := filepath.Join(configDir, "token.json")
	if tok, err := readToken(tokFile); err == nil {
		// Validate the cached token by making a lightweight API call.
		svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx, tok)))
		if err == nil {
			if prof, err := svc.Users.GetProfile("me").Do(); err == nil {
				return prof.EmailAddress, nil
			}
		}
		// Token is invalid/expired; remove it and fall through to re-auth.
		os.Remove(tokFile)
	}

	tok, err := tokenFromWeb(ctx, cfg)
	if err != nil {
		return "", err
	}
	if err := saveToken(tokFile, tok); err != nil {
		return "", err
	}
	svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx, tok)))
	if err != nil {
		return "", fmt.Errorf("create gmail service: %w", err)
	}
	prof, err := svc.Users.GetProfile("me").Do()
	if err != nil {
		return "", fmt.Errorf("get profile: %w", classifyErr(err))
	}
	return prof.EmailAddress, nil
}

func oauthConfig(configDir string) (*oauth2.Config, error) {
	credPath := filepath.Join(configDir, "client_secret.json")
	b, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials at %s: %w", credPath, err)
	}
	cfg, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse oauth config: %w", err)
	}
	return cfg, nil
}

func readToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return err
	}
	f.Close()
	return os.Rename(tmp, path)
}

// tokenFromWeb runs a loopback HTTP server to capture the auth code. If that
// fails or times out, it falls back to manual paste (code or URL).
func tokenFromWeb(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err == nil {
		redirect := fmt.Sprintf("http://127.0.0.1:%d/", ln.Addr().(*net.TCPAddr).Port)
		oldRedirect := cfg.RedirectURL
		cfg.RedirectURL = redirect

		codes := make(chan string, 1)
		mux := http.NewServeMux()
		srv := &http.Server{ReadHeaderTimeout: 5 * time.Second, Handler: mux}
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "Missing 'code' parameter", http.StatusBadRequest)
				return
			}
			fmt.Fprintln(w, "Authentication complete. You can close this window.")
			select {
			case codes <- code:
			default:
			}
			go func() { _ = srv.Shutdown(context.Background()) }()
		})
		go func() { _ = srv.Serve(ln) }()

		authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
		fmt.Fprintln(os.Stderr, "A browser window will open. If it does not, copy this URL:")
		fmt.Fprintln(os.Stderr, authURL)
		fmt.Fprintf(os.Stderr, "Waiting for redirect on %s …\n", redirect)
		_ = OpenBrowser(authURL)

		select {
		case <-ctx.Done():
			cfg.RedirectURL = oldRedirect
			_ = srv.Shutdown(context.Background())
			return nil, ctx.Err()
		case code := <-codes:
			// Exchange before restoring the redirect to avoid invalid_grant.
			tok, err := cfg.Exchange(ctx, strings.TrimSpace(code))
			cfg.RedirectURL = oldRedirect
			if err != nil {
				return nil, fmt.Errorf("token exchange: %w", err)
			}
			fmt.Fprintln(os.Stderr, "Authentication successful.")
			return tok, nil
		case <-time.After(120 * time.Second):
			cfg.RedirectURL = oldRedirect
			_ = srv.Shutdown(context.Background())
			fmt.Fprintln(os.Stderr, "Timeout waiting for redirect; falling back to manual paste.")
		}
	}

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintln(os.Stderr, "Open this URL in your browser to authorize followup:")
	fmt.Fprintln(os.Stderr, authURL)
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Paste the AUTH CODE itself or the FULL redirect URL here, then press Enter.")
	fmt.Fprint(os.Stderr, "> ")

	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 1024), 1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read auth code: %w", err)
		}
		return nil, errors.New("empty authorization code")
	}
	code, err := codeFromInput(sc.Text())
	if err != nil {
		return nil, err
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Authentication successful.")
	return tok, nil
}

// codeFromInput accepts either a bare auth code or a full redirect URL.
func codeFromInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty authorization code")
	}
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		return input, nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parse redirect URL: %w", err)
	}
	c := u.Query().Get("code")
	if c == "" {
		return "", errors.New("no 'code' parameter found in pasted URL")
	}
	return c, nil
}
