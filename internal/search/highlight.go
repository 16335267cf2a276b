package search

import (
	"strings"
	"unicode/utf8"
)

// Span is a half-open byte range [Start, End) of a snippet that matches the query.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Highlight returns the case-insensitive, non-overlapping occurrences of query in text.
func Highlight(text, query string) []Span {
	query = strings.TrimSpace(query)
	if query == "" || text == "" {
		return nil
	}
	qRunes := utf8.RuneCountInString(query)

	var spans []Span
	for i := 0; i < len(text); {
		end := advanceRunes(text, i, qRunes)
		if end < 0 {
			break
		}
		if strings.EqualFold(text[i:end], query) {
			spans = append(spans, Span{Start: i, End: end})
			i = end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return spans
}

func advanceRunes(s string, from, n int) int {
	i := from
	for ; n > 0; n-- {
		if i >= len(s) {
			return -1
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}

// Snippet cuts a window of text around the first case-insensitive match of query,
// marking truncation with "...". Without a match the head of the text is returned.
func Snippet(text, query string, window int) string {
	if text == "" {
		return ""
	}
	runes := []rune(text)
	if window <= 0 {
		window = 80
	}

	pos := -1
	if spans := Highlight(text, query); len(spans) > 0 {
		pos = utf8.RuneCountInString(text[:spans[0].Start])
	}
	if pos < 0 {
		if len(runes) <= window*2 {
			return text
		}
		return string(runes[:window*2]) + "..."
	}

	start := max(0, pos-window)
	end := min(len(runes), pos+utf8.RuneCountInString(strings.TrimSpace(query))+window)
	out := string(runes[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}
