package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gaspardpetit/chatrelay/internal/ollama"
	"github.com/gaspardpetit/chatrelay/internal/relay"
)

func readWS(t *testing.T, ctx context.Context, c *websocket.Conn) WSEvent {
	t.Helper()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	var ev WSEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestChatWSEvents(t *testing.T) {
	b := &mockBackend{}
	b.On("ChatStream", mock.Anything, mock.Anything).
		Return(ndjson(`{"message":{"content":"A"}}`, `{"message":{"content":"B"}}`, `{"done":true}`), nil).Once()
	b.On("ChatStream", mock.Anything, mock.Anything).
		Return(nil, &ollama.BackendUnavailableError{Err: errors.New("connection refused")}).Once()

	srv := httptest.NewServer(ChatWSHandler(relay.NewStreamer(b, testOptions()), []string{"*"}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer func() { _ = c.Close(websocket.StatusNormalClosure, "done") }()

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"message":"hi"}`)))
	assert.Equal(t, WSEvent{Type: "fragment", Text: "A"}, readWS(t, ctx, c))
	assert.Equal(t, WSEvent{Type: "fragment", Text: "B"}, readWS(t, ctx, c))
	assert.Equal(t, WSEvent{Type: "end"}, readWS(t, ctx, c))

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"message":"again"}`)))
	ev := readWS(t, ctx, c)
	assert.Equal(t, "error", ev.Type)
	assert.Contains(t, ev.Detail, "connection refused")

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"message":"  "}`)))
	assert.Equal(t, WSEvent{Type: "error", Detail: "message is empty"}, readWS(t, ctx, c))

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`nope`)))
	assert.Equal(t, WSEvent{Type: "error", Detail: "invalid request body"}, readWS(t, ctx, c))
	b.AssertExpectations(t)
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t, []string{"*"}, originPatterns([]string{"https://a.example", "*"}))
	assert.Equal(t, []string{"a.example", "b.example:8443"}, originPatterns([]string{"https://a.example", "http://b.example:8443/"}))
	assert.Empty(t, originPatterns(nil))
}
