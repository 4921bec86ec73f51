package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"chat-widget/internal/domain"
)

// State is the lifecycle of the most recent turn.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingReply State = "awaiting-reply"
	StateSettled       State = "settled"
	StateFailed        State = "failed"
)

// ErrTurnInProgress is returned by Submit while an earlier turn is still
// waiting for its reply.
var ErrTurnInProgress = errors.New("usecase: a turn is already awaiting a reply")

type MessageStore interface {
	Initialize(ctx context.Context) error
	Append(ctx context.Context, role domain.Role, content string) (domain.Message, error)
	AppendKind(ctx context.Context, role domain.Role, content string, kind domain.Kind) (domain.Message, error)
	ListAll(ctx context.Context) ([]domain.Message, error)
	Clear(ctx context.Context) error
}

type ChatClient interface {
	Send(ctx context.Context, message string) (string, error)
}

// Renderer displays the thread. It never feeds data back.
type Renderer interface {
	ShowMessage(msg domain.Message)
	ShowPending()
	HidePending()
	Clear()
}

// Conversation coordinates turns between the store, the chat client and the
// renderer.
type Conversation struct {
	store    MessageStore
	chat     ChatClient
	render   Renderer
	fallback string
	log      zerolog.Logger

	turn *semaphore.Weighted

	mu    sync.RWMutex
	state State
}

type Option func(*Conversation)

// WithFallbackMessage sets the text shown and stored when a reply cannot be
// obtained.
func WithFallbackMessage(text string) Option {
	return func(c *Conversation) {
		if strings.TrimSpace(text) != "" {
			c.fallback = text
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Conversation) {
		c.log = logger
	}
}

func NewConversation(store MessageStore, chat ChatClient, render Renderer, opts ...Option) (*Conversation, error) {
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if chat == nil {
		return nil, errors.New("usecase: chat client must not be nil")
	}
	if render == nil {
		return nil, errors.New("usecase: renderer must not be nil")
	}
	c := &Conversation{
		store:    store,
		chat:     chat,
		render:   render,
		fallback: domain.DefaultFallbackMessage,
		log:      zerolog.Nop(),
		turn:     semaphore.NewWeighted(1),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "conversation").Logger()
	return c, nil
}

func (c *Conversation) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Conversation) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Start opens the store, optionally wipes the previous conversation, and
// replays the history.
func (c *Conversation) Start(ctx context.Context, clearFirst bool) error {
	if err := c.store.Initialize(ctx); err != nil {
		return err
	}
	if clearFirst {
		if err := c.store.Clear(ctx); err != nil {
			return err
		}
	}
	return c.LoadHistory(ctx)
}

// Submit runs one turn. Whitespace-only input is ignored. Network failures
// end in a persisted fallback bubble and are never returned; storage
// failures are.
func (c *Conversation) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !c.turn.TryAcquire(1) {
		c.log.Warn().Msg("submit rejected: turn in progress")
		return ErrTurnInProgress
	}
	defer c.turn.Release(1)

	userMsg, err := c.store.Append(ctx, domain.RoleUser, text)
	if err != nil {
		return err
	}
	c.render.ShowMessage(userMsg)

	c.setState(StateAwaitingReply)
	c.render.ShowPending()

	reply, sendErr := c.chat.Send(ctx, text)
	if sendErr != nil {
		c.log.Error().Err(sendErr).Msg("chat request failed")
		c.setState(StateFailed)
		c.render.HidePending()
		return c.settle(ctx, c.fallback, domain.KindFallback)
	}

	c.setState(StateSettled)
	c.render.HidePending()
	return c.settle(ctx, reply, domain.KindContent)
}

// settle persists and renders the assistant bubble that ends a turn. The
// bubble is rendered even when the write fails. The write ignores
// cancellation of ctx so an interrupted turn still gets its stored end.
func (c *Conversation) settle(ctx context.Context, content string, kind domain.Kind) error {
	msg, err := c.store.AppendKind(context.WithoutCancel(ctx), domain.RoleAssistant, content, kind)
	if err != nil {
		c.log.Error().Err(err).Str("kind", string(kind)).Msg("failed to store assistant message")
		c.render.ShowMessage(domain.Message{Role: domain.RoleAssistant, Content: content, Kind: kind})
		return err
	}
	c.render.ShowMessage(msg)
	return nil
}

// LoadHistory renders every stored message in stored order.
func (c *Conversation) LoadHistory(ctx context.Context) error {
	msgs, err := c.store.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		c.render.ShowMessage(m)
	}
	c.log.Debug().Int("messages", len(msgs)).Msg("history loaded")
	return nil
}

// ResetConversation clears the store and then the display. If the store
// cannot be cleared the display is left untouched. A reset is refused while a
// turn is awaiting its reply.
func (c *Conversation) ResetConversation(ctx context.Context) error {
	if !c.turn.TryAcquire(1) {
		return ErrTurnInProgress
	}
	defer c.turn.Release(1)

	if err := c.store.Clear(ctx); err != nil {
		return err
	}
	c.render.Clear()
	c.setState(StateIdle)
	return nil
}
