package handler

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"chat-widget/internal/domain"
	"chat-widget/internal/usecase"
)

const (
	CommandNew  = "/new"
	CommandQuit = "/quit"
)

// ErrQuit is returned by Handle when the user asks to leave.
var ErrQuit = errors.New("handler: quit requested")

// Conversation is the subset of usecase.Conversation the handler drives.
type Conversation interface {
	Submit(ctx context.Context, text string) error
	ResetConversation(ctx context.Context) error
}

// Notifier shows short status lines that are not part of the thread.
type Notifier interface {
	Notice(text string)
}

// Handler turns input lines into conversation operations: plain text is
// submitted, /new starts over, /quit ends the session.
type Handler struct {
	conv   Conversation
	notify Notifier
	log    zerolog.Logger
}

func NewHandler(conv Conversation, notify Notifier, logger zerolog.Logger) (*Handler, error) {
	if conv == nil {
		return nil, errors.New("handler: conversation must not be nil")
	}
	if notify == nil {
		return nil, errors.New("handler: notifier must not be nil")
	}
	return &Handler{conv: conv, notify: notify, log: logger}, nil
}

// Handle processes one input line. Turn and reset failures are reported to
// the user and logged; only ErrQuit and context errors are returned.
func (h *Handler) Handle(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch strings.TrimSpace(line) {
	case CommandQuit:
		return ErrQuit
	case CommandNew:
		if err := h.conv.ResetConversation(ctx); err != nil {
			h.log.Error().Err(err).Msg("reset failed")
			h.notify.Notice("Could not start a new chat: " + err.Error())
			return nil
		}
		h.log.Info().Msg("conversation reset")
		return nil
	}

	if err := h.conv.Submit(ctx, line); err != nil {
		h.log.Error().Err(err).Msg("submit failed")
		h.notify.Notice(submitNotice(err))
	}
	return nil
}

// submitNotice tells a failed turn apart from one whose answer arrived but
// could not be saved. Submit only returns a write error after the user
// message was stored, so an unsaved user message is the only other case.
func submitNotice(err error) string {
	switch {
	case errors.Is(err, usecase.ErrTurnInProgress):
		return "Still waiting for the previous reply."
	case domain.HasCode(err, domain.ErrorWrite):
		return "Reply shown but not saved: " + err.Error()
	default:
		return "Message not sent: " + err.Error()
	}
}

// Run reads lines from r until EOF, /quit or cancellation. Lines are read on
// their own goroutine so cancellation is seen while r blocks; that goroutine
// exits when r returns.
func (h *Handler) Run(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return ctx.Err()
				}
			}
			err := h.Handle(ctx, line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
}
