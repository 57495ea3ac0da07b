package util

import (
	"net/mail"
	"strings"
	"unicode"
)

// NormalizeAddress extracts and normalizes an email address from a header value.
// - Parses RFC 5322 values like "Name <User@Example.COM>"
// - Lowercases and trims
// Returns empty string if parsing fails or address is missing.
// Unlike sender grouping, +alias parts are kept: a reply from user+x@ is a
// different identity from user@ for recipient matching.
func NormalizeAddress(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	addr, err := mail.ParseAddress(header)
	if err != nil || addr == nil {
		// Some headers may be a list; try a crude fallback by splitting on comma.
		for _, p := range strings.Split(header, ",") {
			a, e := mail.ParseAddress(strings.TrimSpace(p))
			if e == nil && a != nil {
				addr = a
				break
			}
		}
		if addr == nil {
			// Bare addresses with odd characters still count if they look like one.
			if strings.Count(header, "@") == 1 && !strings.ContainsAny(header, " <>\"") {
				return strings.ToLower(header)
			}
			return ""
		}
	}
	return strings.ToLower(strings.TrimSpace(addr.Address))
}

// ParseAddressList normalizes every address in a To/Cc/Bcc header value,
// dropping entries that do not parse.
func ParseAddressList(header string) []string {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	var out []string
	if list, err := mail.ParseAddressList(header); err == nil {
		for _, a := range list {
			if a.Address != "" {
				out = append(out, strings.ToLower(a.Address))
			}
		}
		return out
	}
	for _, p := range strings.Split(header, ",") {
		if a := NormalizeAddress(p); a != "" {
			out = append(out, a)
		}
	}
	return out
}

var subjectPrefixes = []string{"re:", "fw:", "fwd:"}

// CleanSubject strips RE:/FW:/FWD: prefixes repeatedly, case-insensitively,
// and lowercases the remainder. It is idempotent.
func CleanSubject(subject string) string {
	clean := strings.TrimSpace(subject)
	for changed := true; changed; {
		changed = false
		lower := strings.ToLower(clean)
		for _, p := range subjectPrefixes {
			if strings.HasPrefix(lower, p) {
				clean = strings.TrimSpace(clean[len(p):])
				changed = true
				break
			}
		}
	}
	return strings.ToLower(clean)
}

// OwnerName derives a display name from a mailbox address:
// "jane.doe@example.com" -> "Jane Doe".
func OwnerName(email string) string {
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}
	return titleWords(strings.ReplaceAll(local, ".", " "))
}

// FormatSenderName turns an address into a readable name; values without an
// @ are assumed to already be names.
func FormatSenderName(emailOrName string) string {
	if emailOrName == "" {
		return "Unknown"
	}
	at := strings.IndexByte(emailOrName, '@')
	if at < 0 {
		return emailOrName
	}
	r := strings.NewReplacer(".", " ", "_", " ", "-", " ")
	return titleWords(r.Replace(emailOrName[:at]))
}

// DisplayNameFromFrom returns the quoted display name of a From header, or a
// name derived from the normalized address.
// E.g., "Twitter <notify@twitter.com>" -> "Twitter"
func DisplayNameFromFrom(fromHeader, normalized string) string {
	if idx := strings.Index(fromHeader, "<"); idx > 0 {
		name := strings.Trim(strings.TrimSpace(fromHeader[:idx]), `"'`)
		if name != "" {
			return name
		}
	}
	if normalized == "" {
		return ""
	}
	return OwnerName(normalized)
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
