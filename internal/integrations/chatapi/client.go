package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-widget/internal/domain"
)

// chatRequest is the request body of POST {endpoint}/chat.
type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// chatResponse is the success body. Reply is a pointer so a missing field is
// told apart from an empty reply.
type chatResponse struct {
	Reply     *string `json:"reply"`
	SessionID string  `json:"session_id,omitempty"`
}

// Session is the token store the client reads from and seeds.
type Session interface {
	Token() (string, bool)
	SetTokenIfAbsent(token string) (bool, error)
}

// HTTPStatusError captures non-2xx responses from the chat service.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("chatapi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client exchanges one user message for one assistant reply.
type Client struct {
	endpoint   string
	httpClient *http.Client
	session    Session
	log        zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.log = logger
	}
}

// NewClient creates a Client for the given base endpoint. The default HTTP
// client has no timeout; the transport's own defaults apply.
func NewClient(endpoint string, session Session, opts ...Option) (*Client, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("chatapi: endpoint must not be empty")
	}
	if session == nil {
		return nil, errors.New("chatapi: session must not be nil")
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		session:    session,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "chatapi").Logger()
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return http.DefaultClient
}

func chatURL(endpoint string) string {
	return strings.TrimRight(endpoint, "/") + "/chat"
}

// Send issues exactly one request and returns the assistant's reply. Any
// transport failure, non-2xx status or malformed body is a NETWORK_ERROR.
func (c *Client) Send(ctx context.Context, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", domain.NewError(domain.ErrorInvalidInput, "send", errors.New("message must not be empty"))
	}

	token, hadToken := c.session.Token()
	body, err := json.Marshal(chatRequest{Message: message, SessionID: token})
	if err != nil {
		return "", domain.NewError(domain.ErrorNetwork, "send", fmt.Errorf("marshal request: %w", err))
	}

	url := chatURL(c.endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", domain.NewError(domain.ErrorNetwork, "send", fmt.Errorf("create request: %w", err))
	}
	correlationID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-Id", correlationID)

	log := c.log.With().Str("correlation_id", correlationID).Logger()
	log.Debug().Str("url", url).Bool("has_session", hadToken).Msg("sending chat request")

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return "", domain.NewError(domain.ErrorNetwork, "send", err)
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", domain.NewError(domain.ErrorNetwork, "send", fmt.Errorf("decode response: %w", err))
	}
	if payload.Reply == nil {
		return "", domain.NewError(domain.ErrorNetwork, "send", errors.New("response missing reply"))
	}

	if payload.SessionID != "" && !hadToken {
		stored, err := c.session.SetTokenIfAbsent(payload.SessionID)
		if err != nil {
			log.Warn().Err(err).Msg("failed to store session token")
		} else if stored {
			log.Info().Msg("session token stored")
		}
	}

	return *payload.Reply, nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
