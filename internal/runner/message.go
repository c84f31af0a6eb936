package runner

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// shortMessageLen caps the short_message column.
const shortMessageLen = 250

var stripPolicy = bluemonday.StrictPolicy()

// rawMessage joins a field's error messages and unescapes HTML entities,
// preserving any markup the form layer embedded.
func rawMessage(messages []string) string {
	return html.UnescapeString(strings.Join(messages, "\n"))
}

// plainMessage strips HTML markup from a raw message. The sanitizer
// re-escapes text content, so entities are unescaped again afterwards.
func plainMessage(raw string) string {
	return html.UnescapeString(stripPolicy.Sanitize(raw))
}

// truncate cuts a message to at most n characters, not bytes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
