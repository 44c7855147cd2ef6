package transport

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sandwich "github.com/WelcomerTeam/Sandwich-Gateway"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func newGatewayServer(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn)) string {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		handler(r.Context(), conn)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebsocketTransportReadsTextAndCompressed(t *testing.T) {
	var compressed bytes.Buffer

	writer := zlib.NewWriter(&compressed)
	_, err := writer.Write([]byte(`{"op":11}`))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	url := newGatewayServer(t, func(ctx context.Context, conn *websocket.Conn) {
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"op":10}`))
		_ = conn.Write(ctx, websocket.MessageBinary, compressed.Bytes())

		_, _, _ = conn.Read(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := NewWebsocketDialer(zerolog.Nop()).Dial(ctx, url)
	require.NoError(t, err)

	defer conn.Close(int(websocket.StatusNormalClosure), "")

	data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":10}`, string(data))

	data, err = conn.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":11}`, string(data))
}

func TestWebsocketTransportReportsCloseCode(t *testing.T) {
	received := make(chan []byte, 1)

	url := newGatewayServer(t, func(ctx context.Context, conn *websocket.Conn) {
		_, data, err := conn.Read(ctx)
		if err == nil {
			received <- data
		}

		_ = conn.Close(websocket.StatusCode(4004), "Authentication failed.")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := NewWebsocketDialer(zerolog.Nop()).Dial(ctx, url)
	require.NoError(t, err)

	require.NoError(t, conn.Write(ctx, []byte(`{"op":2}`)))
	assert.Equal(t, `{"op":2}`, string(<-received))

	_, err = conn.Read(ctx)

	var closeErr *sandwich.CloseError
	require.True(t, errors.As(err, &closeErr))
	assert.Equal(t, 4004, closeErr.Code)
	assert.Equal(t, "Authentication failed.", closeErr.Reason)
}
