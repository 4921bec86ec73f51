package chatapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-widget/internal/domain"
)

// fakeSession is a first-write-wins token holder for tests.
type fakeSession struct {
	token  string
	setErr error
	sets   []string
}

func (f *fakeSession) Token() (string, bool) { return f.token, f.token != "" }

func (f *fakeSession) SetTokenIfAbsent(token string) (bool, error) {
	f.sets = append(f.sets, token)
	if f.setErr != nil {
		return false, f.setErr
	}
	if f.token != "" {
		return false, nil
	}
	f.token = token
	return true, nil
}

type capturedRequest struct {
	method  string
	path    string
	headers http.Header
	body    map[string]any
}

func newServer(t *testing.T, status int, respBody string, captured *[]capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		*captured = append(*captured, capturedRequest{
			method:  r.Method,
			path:    r.URL.Path,
			headers: r.Header.Clone(),
			body:    body,
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(" ", &fakeSession{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "endpoint")

	_, err = NewClient("http://localhost", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestChatURL(t *testing.T) {
	require.Equal(t, "https://api.example.com/chat", chatURL("https://api.example.com"))
	require.Equal(t, "https://api.example.com/v2/chat", chatURL("https://api.example.com/v2/"))
}

func TestSend_FirstTurnStoresToken(t *testing.T) {
	var reqs []capturedRequest
	srv := newServer(t, http.StatusOK, `{"reply":"hi","session_id":"abc"}`, &reqs)
	sess := &fakeSession{}
	c, err := NewClient(srv.URL+"/", sess)
	require.NoError(t, err)

	reply, err := c.Send(context.Background(), "  hello ")
	require.NoError(t, err)
	require.Equal(t, "hi", reply)

	require.Len(t, reqs, 1)
	require.Equal(t, http.MethodPost, reqs[0].method)
	require.Equal(t, "/chat", reqs[0].path)
	require.Equal(t, map[string]any{"message": "hello"}, reqs[0].body)
	require.Equal(t, "application/json", reqs[0].headers.Get("Content-Type"))
	require.NotEmpty(t, reqs[0].headers.Get("X-Correlation-Id"))

	tok, ok := sess.Token()
	require.True(t, ok)
	require.Equal(t, "abc", tok)
}

func TestSend_IncludesExistingToken(t *testing.T) {
	var reqs []capturedRequest
	srv := newServer(t, http.StatusOK, `{"reply":"again","session_id":"other"}`, &reqs)
	sess := &fakeSession{token: "abc"}
	c, err := NewClient(srv.URL, sess)
	require.NoError(t, err)

	_, err = c.Send(context.Background(), "second")
	require.NoError(t, err)
	require.Equal(t, "abc", reqs[0].body["session_id"])

	tok, _ := sess.Token()
	require.Equal(t, "abc", tok)
	require.Empty(t, sess.sets, "an existing token must not be replaced")
}

func TestSend_NoTokenInResponse(t *testing.T) {
	var reqs []capturedRequest
	srv := newServer(t, http.StatusOK, `{"reply":"ok"}`, &reqs)
	sess := &fakeSession{}
	c, err := NewClient(srv.URL, sess)
	require.NoError(t, err)

	_, err = c.Send(context.Background(), "hello")
	require.NoError(t, err)
	_, ok := sess.Token()
	require.False(t, ok)
}

func TestSend_TokenStoreFailureDoesNotFailTurn(t *testing.T) {
	var reqs []capturedRequest
	srv := newServer(t, http.StatusOK, `{"reply":"hi","session_id":"abc"}`, &reqs)
	c, err := NewClient(srv.URL, &fakeSession{setErr: errors.New("disk full")})
	require.NoError(t, err)

	reply, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "hi", reply)
}

func TestSend_EmptyMessage(t *testing.T) {
	var reqs []capturedRequest
	srv := newServer(t, http.StatusOK, `{"reply":"hi"}`, &reqs)
	c, err := NewClient(srv.URL, &fakeSession{})
	require.NoError(t, err)

	_, err = c.Send(context.Background(), " \t ")
	require.True(t, domain.HasCode(err, domain.ErrorInvalidInput))
	require.Empty(t, reqs)
}

func TestSend_Non2xx(t *testing.T) {
	var reqs []capturedRequest
	srv := newServer(t, http.StatusBadGateway, `{"error":"upstream"}`, &reqs)
	sess := &fakeSession{}
	c, err := NewClient(srv.URL, sess)
	require.NoError(t, err)

	_, err = c.Send(context.Background(), "hello")
	require.True(t, domain.HasCode(err, domain.ErrorNetwork))
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.HTTPStatusCode())
	require.Contains(t, err.Error(), "502")
	require.Len(t, reqs, 1, "no retries")
	_, ok := sess.Token()
	require.False(t, ok)
}

func TestSend_MalformedJSON(t *testing.T) {
	var reqs []capturedRequest
	srv := newServer(t, http.StatusOK, `not-json`, &reqs)
	c, err := NewClient(srv.URL, &fakeSession{})
	require.NoError(t, err)

	_, err = c.Send(context.Background(), "hello")
	require.True(t, domain.HasCode(err, domain.ErrorNetwork))
	require.Contains(t, err.Error(), "decode")
}

func TestSend_MissingReply(t *testing.T) {
	var reqs []capturedRequest
	srv := newServer(t, http.StatusOK, `{"session_id":"abc"}`, &reqs)
	sess := &fakeSession{}
	c, err := NewClient(srv.URL, sess)
	require.NoError(t, err)

	_, err = c.Send(context.Background(), "hello")
	require.True(t, domain.HasCode(err, domain.ErrorNetwork))
	require.Contains(t, err.Error(), "missing reply")
	_, ok := sess.Token()
	require.False(t, ok)
}

func TestSend_EmptyReplyIsValid(t *testing.T) {
	var reqs []capturedRequest
	srv := newServer(t, http.StatusOK, `{"reply":""}`, &reqs)
	c, err := NewClient(srv.URL, &fakeSession{})
	require.NoError(t, err)

	reply, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.Empty(t, reply)
}

func TestSend_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, &fakeSession{}, WithHTTPClient(&http.Client{}))
	require.NoError(t, err)
	_, err = c.Send(context.Background(), "hello")
	require.True(t, domain.HasCode(err, domain.ErrorNetwork))
}

func TestResolvedHTTPClient_Default(t *testing.T) {
	c := &Client{}
	require.Equal(t, http.DefaultClient, c.resolvedHTTPClient())
}
