package render

import (
	"bytes"
	"fmt"
	stdhtml "html"
	"io"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"chat-widget/internal/domain"
)

const documentHead = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; color: #5C5C5C; }
.message { margin-bottom: 1.5rem; padding: .75rem; border-radius: .5rem; }
.user { background: #7209b7; color: #fff; margin-left: 20%%; white-space: pre-wrap; }
.assistant { background: #F2F2F2; }
.fallback { border: 1px solid #d97706; }
</style>
</head>
<body>
`

const documentTail = "</body>\n</html>\n"

// HTML accumulates the thread as an HTML transcript. Assistant Markdown is
// converted with raw HTML disabled; user text is escaped.
type HTML struct {
	md goldmark.Markdown

	mu  sync.Mutex
	buf bytes.Buffer
	err error
}

func NewHTML() *HTML {
	return &HTML{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

func (h *HTML) ShowMessage(msg domain.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if msg.Role == domain.RoleUser {
		fmt.Fprintf(&h.buf, "<div class=\"message user\">%s</div>\n", stdhtml.EscapeString(msg.Content))
		return
	}
	class := "message assistant"
	if msg.Kind == domain.KindFallback {
		class += " fallback"
	}
	fmt.Fprintf(&h.buf, "<div class=\"%s\">\n", class)
	if err := h.md.Convert([]byte(msg.Content), &h.buf); err != nil && h.err == nil {
		h.err = fmt.Errorf("render: convert message %d: %w", msg.ID, err)
	}
	h.buf.WriteString("</div>\n")
}

func (h *HTML) ShowPending() {}

func (h *HTML) HidePending() {}

func (h *HTML) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf.Reset()
	h.err = nil
}

// WriteDocument writes a standalone HTML page containing the messages shown
// so far.
func (h *HTML) WriteDocument(w io.Writer, title string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	if _, err := fmt.Fprintf(w, documentHead, stdhtml.EscapeString(title)); err != nil {
		return fmt.Errorf("render: write head: %w", err)
	}
	if _, err := w.Write(h.buf.Bytes()); err != nil {
		return fmt.Errorf("render: write body: %w", err)
	}
	if _, err := io.WriteString(w, documentTail); err != nil {
		return fmt.Errorf("render: write tail: %w", err)
	}
	return nil
}
