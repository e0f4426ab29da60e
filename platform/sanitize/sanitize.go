// Package sanitize turns untrusted inbound text (email bodies, provider
// summaries) into plain text that is safe to store and display.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	htmlTagRegex     = regexp.MustCompile(`<[^>]*>`)
	styleBlockRegex  = regexp.MustCompile(`(?is)<(style|script|head)[^>]*>.*?</(style|script|head)>`)
	whitespaceRegex  = regexp.MustCompile(`\s+`)
	quotedReplyRegex = regexp.MustCompile(`(?m)^On .+ wrote:\s*$`)
)

// StripHTML removes tags and decodes the common entities.
func StripHTML(s string) string {
	result := styleBlockRegex.ReplaceAllString(s, " ")
	result = htmlTagRegex.ReplaceAllString(result, " ")
	result = strings.ReplaceAll(result, "&nbsp;", " ")
	result = strings.ReplaceAll(result, "&lt;", "<")
	result = strings.ReplaceAll(result, "&gt;", ">")
	result = strings.ReplaceAll(result, "&quot;", "\"")
	result = strings.ReplaceAll(result, "&#39;", "'")
	result = strings.ReplaceAll(result, "&amp;", "&")
	// Re-strip after entity decode to catch encoded tags
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// Text strips HTML and collapses all whitespace runs to single spaces.
func Text(s string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(StripHTML(s), " "))
}

// Snippet returns at most max runes of plain text, preferring text over html.
// Quoted history below an "On ... wrote:" line is dropped.
func Snippet(text, html string, max int) string {
	src := text
	if strings.TrimSpace(src) == "" {
		src = html
	}
	if loc := quotedReplyRegex.FindStringIndex(src); loc != nil {
		src = src[:loc[0]]
	}
	return Truncate(Text(src), max)
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
