package detect

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Signals holds the phrase lists used to recognise an owner's closing message.
// Both lists are data: edit them, or load them from a JSON file, rather than
// adding cases to code.
type Signals struct {
	Closure           []string `json:"closure"`
	ResolvedElsewhere []string `json:"resolved_elsewhere"`
}

// DefaultSignals returns a fresh copy of the built-in phrase lists.
func DefaultSignals() Signals {
	return Signals{
		Closure: []string{
			"thank you", "thanks", "confirmed", "access granted", "done", "we will close",
			"sent you the keys", "here are the credentials", "access provided",
			"no further action needed", "all set", "looks good", "resolved", "fixed",
			"completed", "finished", "closed", "resolved this", "taken care of",
		},
		ResolvedElsewhere: []string{
			"will reply to that other chain", "resolved in another thread", "handled in separate email",
			"resolved in another email", "will reply in other thread", "answered in another chain",
			"handled in other email", "resolved elsewhere", "will respond in other thread",
		},
	}
}

// LoadSignals reads phrase lists from a JSON file. Lists missing from the file
// keep their defaults.
func LoadSignals(path string) (Signals, error) {
	s := DefaultSignals()
	b, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read signals file: %w", err)
	}
	var file Signals
	if err := json.Unmarshal(b, &file); err != nil {
		return s, fmt.Errorf("parse signals file %s: %w", path, err)
	}
	if len(file.Closure) > 0 {
		s.Closure = file.Closure
	}
	if len(file.ResolvedElsewhere) > 0 {
		s.ResolvedElsewhere = file.ResolvedElsewhere
	}
	return s, nil
}

// ClosureMatch reports which phrase list matched. Elsewhere takes precedence
// for the reported phrase since it is the more specific statement.
type ClosureMatch struct {
	Closed    bool
	Elsewhere bool
	Phrase    string
}

func (m ClosureMatch) Any() bool { return m.Closed || m.Elsewhere }

// Match runs a case-insensitive substring search of body against both lists.
func (s Signals) Match(body string) ClosureMatch {
	lower := strings.ToLower(body)
	var m ClosureMatch
	if p, ok := firstContained(lower, s.ResolvedElsewhere); ok {
		m.Elsewhere, m.Phrase = true, p
	}
	if p, ok := firstContained(lower, s.Closure); ok {
		m.Closed = true
		if m.Phrase == "" {
			m.Phrase = p
		}
	}
	return m
}

// ClosureSignals reports whether body contains any default closure or
// resolved-elsewhere phrase.
func ClosureSignals(body string) bool {
	return DefaultSignals().Match(body).Any()
}

func firstContained(lower string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}
