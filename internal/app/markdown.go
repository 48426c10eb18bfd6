package app

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdownRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// renderMarkdown converts a chat message or task output's Markdown body to
// HTML for clients that render the thin chat surface directly, grounded on
// the teacher's own goldmark-based renderer in frontend/telegram/markdown.go
// (there adapted to Telegram's HTML subset; here the plain default
// renderer, since this surface has no such constraint).
func renderMarkdown(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdownRenderer.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
