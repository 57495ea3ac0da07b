package gmail

import (
	"encoding/base64"
	"strings"

	gmailv1 "google.golang.org/api/gmail/v1"
)

// bodyOf walks a MIME part tree depth-first and returns the first body of the
// wanted type (base64url decoded). Direct children of the wanted type are
// tried before descending, so multipart/alternative resolves to its own
// part rather than one nested in an attachment.
func bodyOf(part *gmailv1.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.EqualFold(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		return decodeBase64URL(part.Body.Data)
	}
	for _, sub := range part.Parts {
		if strings.EqualFold(sub.MimeType, mimeType) && sub.Filename == "" {
			if body := bodyOf(sub, mimeType); body != "" {
				return body
			}
		}
	}
	for _, sub := range part.Parts {
		if sub.Filename != "" {
			continue
		}
		if body := bodyOf(sub, mimeType); body != "" {
			return body
		}
	}
	return ""
}

func plainBody(part *gmailv1.MessagePart) string { return bodyOf(part, "text/plain") }
func htmlBody(part *gmailv1.MessagePart) string  { return bodyOf(part, "text/html") }

func decodeBase64URL(data string) string {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		// Gmail uses unpadded base64url
		b, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(b)
}
