package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"chat-widget/internal/domain"
)

// Backend is the raw storage engine behind Store. Implementations report plain
// errors; Store classifies them.
type Backend interface {
	Open(ctx context.Context) error
	Insert(ctx context.Context, role domain.Role, content string, kind domain.Kind) (int64, error)
	List(ctx context.Context) ([]domain.Message, error)
	Clear(ctx context.Context) error
	PutMeta(ctx context.Context, key, value string) error
	GetMeta(ctx context.Context, key string) (string, bool, error)
	Close() error
}

// TokenClearer drops the session token when the history is cleared.
type TokenClearer interface {
	ClearToken() error
}

// Store is the local message log and metadata collection.
type Store struct {
	backend Backend
	tokens  TokenClearer
	log     zerolog.Logger
}

// New creates a Store. Initialize must be called before any other operation.
func New(backend Backend, tokens TokenClearer, logger zerolog.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("repository: backend must not be nil")
	}
	if tokens == nil {
		return nil, errors.New("repository: token clearer must not be nil")
	}
	return &Store{
		backend: backend,
		tokens:  tokens,
		log:     logger.With().Str("component", "store").Logger(),
	}, nil
}

// Initialize opens the database, creating both collections when absent.
// Reopening an existing database keeps its data.
func (s *Store) Initialize(ctx context.Context) error {
	if err := s.backend.Open(ctx); err != nil {
		return domain.NewError(domain.ErrorStorageUnavailable, "initialize", err)
	}
	s.log.Debug().Msg("store opened")
	return nil
}

// Append stores a regular message and returns it with its assigned id.
func (s *Store) Append(ctx context.Context, role domain.Role, content string) (domain.Message, error) {
	return s.AppendKind(ctx, role, content, domain.KindContent)
}

// AppendKind stores a message of the given kind and returns it with its assigned id.
func (s *Store) AppendKind(ctx context.Context, role domain.Role, content string, kind domain.Kind) (domain.Message, error) {
	if !role.Valid() {
		return domain.Message{}, domain.NewError(domain.ErrorWrite, "append", errors.New("unknown role "+string(role)))
	}
	if kind == "" {
		kind = domain.KindContent
	}
	id, err := s.backend.Insert(ctx, role, content, kind)
	if err != nil {
		return domain.Message{}, domain.NewError(domain.ErrorWrite, "append", err)
	}
	s.log.Debug().Int64("id", id).Str("role", string(role)).Str("kind", string(kind)).Msg("message stored")
	return domain.Message{ID: id, Role: role, Content: content, Kind: kind}, nil
}

// ListAll returns every stored message in ascending id order.
func (s *Store) ListAll(ctx context.Context) ([]domain.Message, error) {
	msgs, err := s.backend.List(ctx)
	if err != nil {
		return nil, domain.NewError(domain.ErrorRead, "list", err)
	}
	return msgs, nil
}

// Clear empties the message log and metadata and removes the session token.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.tokens.ClearToken(); err != nil {
		return domain.NewError(domain.ErrorWrite, "clear token", err)
	}
	if err := s.backend.Clear(ctx); err != nil {
		return domain.NewError(domain.ErrorWrite, "clear", err)
	}
	s.log.Info().Msg("history cleared")
	return nil
}

func (s *Store) PutMeta(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.NewError(domain.ErrorWrite, "put meta", errors.New("key must not be empty"))
	}
	if err := s.backend.PutMeta(ctx, key, value); err != nil {
		return domain.NewError(domain.ErrorWrite, "put meta", err)
	}
	return nil
}

func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.backend.GetMeta(ctx, strings.TrimSpace(key))
	if err != nil {
		return "", false, domain.NewError(domain.ErrorRead, "get meta", err)
	}
	return v, ok, nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}
