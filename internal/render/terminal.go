package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"chat-widget/internal/domain"
)

const (
	accent       = lipgloss.Color("#7209b7")
	muted        = lipgloss.Color("#5C5C5C")
	warn         = lipgloss.Color("#d97706")
	defaultWidth = 80

	ansiClearLine   = "\x1b[1A\x1b[2K"
	ansiClearScreen = "\x1b[H\x1b[2J"
)

// Terminal renders the thread to a terminal or any writer. Assistant replies
// are rendered as Markdown.
type Terminal struct {
	out   io.Writer
	tty   bool
	width int
	md    *glamour.TermRenderer

	userLabel     lipgloss.Style
	assistLabel   lipgloss.Style
	pendingStyle  lipgloss.Style
	fallbackStyle lipgloss.Style

	mu      sync.Mutex
	pending bool
}

type TerminalOption func(*Terminal)

func WithWidth(width int) TerminalOption {
	return func(t *Terminal) {
		if width > 0 {
			t.width = width
		}
	}
}

// WithTTY overrides terminal detection.
func WithTTY(tty bool) TerminalOption {
	return func(t *Terminal) {
		t.tty = tty
	}
}

func NewTerminal(out io.Writer, opts ...TerminalOption) (*Terminal, error) {
	if out == nil {
		return nil, fmt.Errorf("render: writer must not be nil")
	}
	t := &Terminal{
		out:   out,
		tty:   isTerminal(out),
		width: defaultWidth,
	}
	for _, opt := range opts {
		opt(t)
	}

	style := glamour.WithStandardStyle("notty")
	if t.tty {
		style = glamour.WithAutoStyle()
	}
	md, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(t.width))
	if err != nil {
		return nil, fmt.Errorf("render: create markdown renderer: %w", err)
	}
	t.md = md

	t.userLabel = lipgloss.NewStyle().Bold(true).Foreground(accent)
	t.assistLabel = lipgloss.NewStyle().Bold(true).Foreground(muted)
	t.pendingStyle = lipgloss.NewStyle().Italic(true).Foreground(muted)
	t.fallbackStyle = lipgloss.NewStyle().Foreground(warn)
	return t, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (t *Terminal) ShowMessage(msg domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case msg.Role == domain.RoleUser:
		t.printf("%s %s\n\n", t.userLabel.Render("you ›"), msg.Content)
	case msg.Kind == domain.KindFallback:
		t.printf("%s %s\n\n", t.assistLabel.Render("assistant ›"), t.fallbackStyle.Render(msg.Content))
	default:
		body, err := t.md.Render(msg.Content)
		if err != nil {
			body = msg.Content + "\n"
		}
		t.printf("%s\n%s\n", t.assistLabel.Render("assistant ›"), strings.TrimRight(body, "\n"))
	}
}

func (t *Terminal) ShowPending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending {
		return
	}
	t.pending = true
	t.printf("%s\n", t.pendingStyle.Render("assistant is typing…"))
}

// HidePending erases the pending line on a terminal. Plain writers keep it.
func (t *Terminal) HidePending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.pending {
		return
	}
	t.pending = false
	if t.tty {
		t.printf("%s", ansiClearLine)
	}
}

func (t *Terminal) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = false
	if t.tty {
		t.printf("%s", ansiClearScreen)
		return
	}
	t.printf("%s\n\n", t.pendingStyle.Render("--- new conversation ---"))
}

func (t *Terminal) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(t.out, format, args...)
}

// Notice prints a status line that is not part of the thread.
func (t *Terminal) Notice(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.printf("%s\n", t.fallbackStyle.Render("! "+text))
}
