package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestStripHTML(t *testing.T) {
	got := Text("<html><head><style>p{color:red}</style></head><body><p>Hi &amp; thanks,</p><br>Ann</body></html>")
	if got != "Hi & thanks, Ann" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestSnippetPrefersTextAndDropsQuotedHistory(t *testing.T) {
	text := "Sounds good, call me Tuesday.\n\nOn Mon, 2 Mar 2026 at 09:00, Acme <outreach@acme.io> wrote:\n> Hi Ann"
	if got := Snippet(text, "<p>ignored</p>", 500); got != "Sounds good, call me Tuesday." {
		t.Fatalf("unexpected snippet %q", got)
	}
	if got := Snippet("  ", "<div>Only <b>html</b></div>", 500); got != "Only html" {
		t.Fatalf("expected html fallback, got %q", got)
	}
}

func TestSnippetTruncatesRunes(t *testing.T) {
	long := strings.Repeat("é", 600)
	got := Snippet(long, "", 500)
	if n := len([]rune(got)); n != 500 {
		t.Fatalf("expected 500 runes, got %d", n)
	}
}

func TestTruncateKeepsMultibyteRunesWhole(t *testing.T) {
	in := strings.Repeat("a", 499) + "é…"
	got := Truncate(in, 500)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated text is not valid utf-8")
	}
	if got != strings.Repeat("a", 499)+"é" {
		t.Fatalf("unexpected tail %q", got[len(got)-3:])
	}
	if Truncate("short", 500) != "short" {
		t.Fatalf("short input must be returned unchanged")
	}
}
