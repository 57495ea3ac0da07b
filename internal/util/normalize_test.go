package util

import (
	"reflect"
	"testing"
)

func TestNormalizeAddress_Basic(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`Name <User@Example.COM>`, "user@example.com"},
		{`"Name" <user+news@Example.com>`, "user+news@example.com"}, // alias kept
		{`user.name@example.com`, "user.name@example.com"},
		{`  Bob@Example.com `, "bob@example.com"},
		{`bad address`, ""}, // unparsable
		{`"A" <not-an-email> , "B" <c@D.com>`, "c@d.com"}, // list fallback picks first valid
		{``, ""},
	}
	for _, tc := range tests {
		if got := NormalizeAddress(tc.in); got != tc.want {
			t.Errorf("NormalizeAddress(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseAddressList(t *testing.T) {
	got := ParseAddressList(`"A" <a@X.com>, b@y.com`)
	want := []string{"a@x.com", "b@y.com"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if got := ParseAddressList(""); got != nil {
		t.Fatalf("empty header: got %v", got)
	}
}

func TestCleanSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Budget review", "budget review"},
		{"RE: Budget review", "budget review"},
		{"Re: FW: re: Budget review", "budget review"},
		{"FWD:Fwd: RE:  Budget review ", "budget review"},
		{"fw: fW: Fw: x", "x"},
		{"Reply needed", "reply needed"}, // "Re" without colon is not a prefix
		{"", ""},
	}
	for _, tc := range tests {
		got := CleanSubject(tc.in)
		if got != tc.want {
			t.Errorf("CleanSubject(%q) = %q; want %q", tc.in, got, tc.want)
		}
		if again := CleanSubject(got); again != got {
			t.Errorf("CleanSubject not idempotent for %q: %q -> %q", tc.in, got, again)
		}
	}
}

func TestNames(t *testing.T) {
	if got := OwnerName("jane.doe@example.com"); got != "Jane Doe" {
		t.Errorf("OwnerName = %q", got)
	}
	if got := FormatSenderName("mary_ann-smith@example.com"); got != "Mary Ann Smith" {
		t.Errorf("FormatSenderName = %q", got)
	}
	if got := FormatSenderName("Already Named"); got != "Already Named" {
		t.Errorf("FormatSenderName name = %q", got)
	}
	if got := FormatSenderName(""); got != "Unknown" {
		t.Errorf("FormatSenderName empty = %q", got)
	}
	if got := DisplayNameFromFrom(`"Twitter" <notify@twitter.com>`, "notify@twitter.com"); got != "Twitter" {
		t.Errorf("DisplayNameFromFrom quoted = %q", got)
	}
	if got := DisplayNameFromFrom("john.smith@x.com", "john.smith@x.com"); got != "John Smith" {
		t.Errorf("DisplayNameFromFrom bare = %q", got)
	}
}
