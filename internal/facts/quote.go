package facts

import "strings"

// QuoteStripper removes quoted or forwarded history from a message body,
// leaving only the author's new content.
type QuoteStripper interface {
	Strip(body string) string
}

// DefaultQuoteMarkers start quoted content when found near the beginning of a line.
var DefaultQuoteMarkers = []string{
	"From:",
	"-----Original Message-----",
	"On ",
	"> ",
	"wrote:",
	"Sent from",
	"________________________________",
	"-----Forwarded message-----",
	"Begin forwarded message:",
}

// MarkerStripper cuts the body at the first line whose leading Window
// characters contain any marker (case-insensitive). It is a heuristic: a line
// such as "On Monday we ship" is treated as a quote header.
type MarkerStripper struct {
	Markers []string
	Window  int
}

// NewMarkerStripper returns a stripper using DefaultQuoteMarkers and a 50
// character window.
func NewMarkerStripper() *MarkerStripper {
	return &MarkerStripper{Markers: DefaultQuoteMarkers, Window: 50}
}

func (s *MarkerStripper) Strip(body string) string {
	kept, _ := s.StripReport(body)
	return kept
}

// StripReport returns the kept text and whether anything was cut, so callers
// can flag bodies where stripping may have removed real content.
func (s *MarkerStripper) StripReport(body string) (string, bool) {
	if body == "" {
		return "", false
	}
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	for i, line := range lines {
		if s.isQuoteStart(line) {
			return strings.TrimSpace(strings.Join(lines[:i], "\n")), true
		}
	}
	return strings.TrimSpace(body), false
}

func (s *MarkerStripper) isQuoteStart(line string) bool {
	head := strings.ToLower(line)
	if s.Window > 0 {
		if r := []rune(head); len(r) > s.Window {
			head = string(r[:s.Window])
		}
	}
	for _, m := range s.Markers {
		if strings.Contains(head, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
