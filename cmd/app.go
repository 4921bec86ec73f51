package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"

	"chat-widget/handler"
	"chat-widget/internal/config"
	"chat-widget/internal/domain"
	"chat-widget/internal/integrations/chatapi"
	"chat-widget/internal/render"
	"chat-widget/internal/repository"
	"chat-widget/internal/session"
	"chat-widget/internal/usecase"
)

// app holds the long-lived resources shared by every command.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	aws      *aws.Config
	sessions *session.Manager
	store    *repository.Store
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger}

	// ---- AWS SDK config (only when a component needs it) ----
	if cfg.NeedsAWS() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		a.aws = &awsCfg
	}

	// ---- Session ----
	kv, err := session.NewFileKV(cfg.SessionPath)
	if err != nil {
		return nil, err
	}
	a.sessions, err = session.NewManager(kv)
	if err != nil {
		return nil, err
	}

	// ---- Store ----
	backend, err := a.newBackend()
	if err != nil {
		return nil, err
	}
	a.store, err = repository.New(backend, a.sessions, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) newBackend() (repository.Backend, error) {
	switch a.cfg.Store {
	case config.StoreDynamo:
		client := awsdynamodb.NewFromConfig(*a.aws, func(o *awsdynamodb.Options) {
			if a.cfg.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(a.cfg.DynamoEndpoint)
			}
		})
		return repository.NewDynamoBackend(client, a.cfg.DynamoTable, a.cfg.Profile)
	default:
		return repository.NewSQLiteBackend(a.cfg.DBPath)
	}
}

// chatClient resolves the endpoint, from SSM when configured, and builds the
// HTTP client.
func (a *app) chatClient(ctx context.Context) (*chatapi.Client, error) {
	var params config.ParamGetter
	if a.aws != nil && a.cfg.EndpointParam != "" {
		ps, err := config.NewParamStore(awsssm.NewFromConfig(*a.aws))
		if err != nil {
			return nil, err
		}
		params = ps
	}
	if err := a.cfg.ResolveEndpoint(ctx, params); err != nil {
		return nil, err
	}
	a.log.Debug().Str("endpoint", a.cfg.Endpoint).Msg("chat endpoint resolved")
	return chatapi.NewClient(a.cfg.Endpoint, a.sessions, chatapi.WithLogger(a.log))
}

func (a *app) conversation(chat usecase.ChatClient, r usecase.Renderer) (*usecase.Conversation, error) {
	return usecase.NewConversation(a.store, chat, r,
		usecase.WithFallbackMessage(a.cfg.FallbackMessage),
		usecase.WithLogger(a.log),
	)
}

func (a *app) close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close store")
	}
}

// offlineChat stands in for the chat client in commands that never send.
type offlineChat struct{}

func (offlineChat) Send(context.Context, string) (string, error) {
	return "", domain.NewError(domain.ErrorNetwork, "send", errors.New("offline command"))
}

func runChat(ctx context.Context, cfg config.Config, logger zerolog.Logger, in io.Reader, out io.Writer) error {
	ctx, cancel := interruptible(ctx)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	client, err := a.chatClient(ctx)
	if err != nil {
		return err
	}
	term, err := render.NewTerminal(out)
	if err != nil {
		return err
	}
	conv, err := a.conversation(client, term)
	if err != nil {
		return err
	}
	if err := conv.Start(ctx, cfg.ClearOnStart); err != nil {
		return err
	}

	h, err := handler.NewHandler(conv, term, logger)
	if err != nil {
		return err
	}
	term.Notice(fmt.Sprintf("Type a message and press Enter. %s starts over, %s exits.", handler.CommandNew, handler.CommandQuit))
	err = h.Run(ctx, in)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runHistory(ctx context.Context, cfg config.Config, logger zerolog.Logger, out io.Writer) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	term, err := render.NewTerminal(out)
	if err != nil {
		return err
	}
	conv, err := a.conversation(offlineChat{}, term)
	if err != nil {
		return err
	}
	return conv.Start(ctx, false)
}

func runReset(ctx context.Context, cfg config.Config, logger zerolog.Logger, out io.Writer) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.Initialize(ctx); err != nil {
		return err
	}
	term, err := render.NewTerminal(out)
	if err != nil {
		return err
	}
	conv, err := a.conversation(offlineChat{}, term)
	if err != nil {
		return err
	}
	if err := conv.ResetConversation(ctx); err != nil {
		return err
	}
	term.Notice("Conversation cleared.")
	return nil
}

func runExport(ctx context.Context, cfg config.Config, logger zerolog.Logger, out io.Writer) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	page := render.NewHTML()
	conv, err := a.conversation(offlineChat{}, page)
	if err != nil {
		return err
	}
	if err := conv.Start(ctx, false); err != nil {
		return err
	}
	return page.WriteDocument(out, "Chat history ("+cfg.Profile+")")
}
