// ABOUTME: Markdown to HTML rendering for formatted notices
// ABOUTME: Uses goldmark with default (CommonMark) settings

package matrix

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
)

// renderMarkdown converts markdown to HTML for the formatted_body of an
// outgoing event.
func renderMarkdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
