package facts

import (
	"testing"
	"time"

	"followup/internal/model"

	"github.com/nalgeon/be"
)

func TestBestTime(t *testing.T) {
	sent := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	recv := sent.Add(time.Minute)

	be.Equal(t, BestTime(model.Message{SentAt: sent, ReceivedAt: recv}), sent)
	be.Equal(t, BestTime(model.Message{ReceivedAt: recv}), recv)
	be.Equal(t, BestTime(model.Message{}), Epoch)
	be.True(t, IsEpoch(BestTime(model.Message{})))
	be.True(t, !IsEpoch(sent))
}

func TestIsFromOwner(t *testing.T) {
	now := time.Now()
	owner := "me@example.com"
	tests := []struct {
		name string
		msg  model.Message
		want bool
	}{
		{"from matches", model.Message{From: owner, ReceivedAt: now}, true},
		{"sender matches", model.Message{From: "x@example.com", Sender: owner, ReceivedAt: now}, true},
		{"sent folder", model.Message{From: "alias@example.com", Folder: model.FolderSent, ReceivedAt: now}, true},
		{"sent only, no sender", model.Message{From: "alias@example.com", SentAt: now}, true},
		{"sent only, foreign sender", model.Message{From: "a@x.com", Sender: "a@x.com", SentAt: now}, false},
		{"someone else", model.Message{From: "bob@example.com", SentAt: now, ReceivedAt: now}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			be.Equal(t, IsFromOwner(tc.msg, "ME@example.com"), tc.want)
		})
	}
}

func TestRecipients(t *testing.T) {
	m := model.Message{
		To:  []string{"A@x.com", "b@x.com"},
		Cc:  []string{"b@x.com", "c@x.com"},
		Bcc: []string{"d@x.com", ""},
	}
	be.Equal(t, Recipients(m), []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com"})
}

func TestIsForward(t *testing.T) {
	be.True(t, IsForward("FW: report"))
	be.True(t, IsForward("fwd: report"))
	be.True(t, IsForward(" Fw:report"))
	be.True(t, !IsForward("RE: FW: report"))
	be.True(t, !IsForward("Forward planning"))
}

func TestPlainBody(t *testing.T) {
	html := model.Message{HTMLBody: "<p>Hello <b>there</b></p>", TextBody: "snippet"}
	be.Equal(t, PlainBody(html), "Hello there.")

	plain := model.Message{TextBody: "  just text \n"}
	be.Equal(t, PlainBody(plain), "just text")
}

func TestTruncate(t *testing.T) {
	be.Equal(t, Truncate("abcdef", 3), "abc...")
	be.Equal(t, Truncate("abc", 3), "abc")
}

func TestMarkerStripper(t *testing.T) {
	s := NewMarkerStripper()

	body := "Can you send the report today?\nThanks\n\nOn Mon, Mar 3, 2025 Bob wrote:\n> urgent: deadline"
	kept, cut := s.StripReport(body)
	be.Equal(t, kept, "Can you send the report today?\nThanks")
	be.True(t, cut)

	outlook := "Approved.\r\n________________________________\r\nFrom: Alice\r\nSent: Monday"
	be.Equal(t, s.Strip(outlook), "Approved.")

	untouched, cut := s.StripReport("No history here")
	be.Equal(t, untouched, "No history here")
	be.True(t, !cut)

	// Markers beyond the window do not start a quote.
	long := "This line is deliberately long enough that the marker wrote: sits past fifty characters"
	be.Equal(t, s.Strip(long), long)
}
