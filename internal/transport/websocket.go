package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	sandwich "github.com/WelcomerTeam/Sandwich-Gateway"
	"github.com/WelcomerTeam/czlib"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// WebsocketReadLimit is the largest message accepted from the gateway.
const WebsocketReadLimit = 512 << 20

// WebsocketDialer dials the gateway with nhooyr websockets. Binary messages
// are zlib payloads and are inflated before being returned.
type WebsocketDialer struct {
	Logger     zerolog.Logger
	HTTPClient *http.Client
	Header     http.Header
}

func NewWebsocketDialer(logger zerolog.Logger) *WebsocketDialer {
	header := http.Header{}
	header.Set("User-Agent", sandwich.UserAgent)

	return &WebsocketDialer{
		Logger:     logger,
		HTTPClient: http.DefaultClient,
		Header:     header,
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (sandwich.Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient:      d.HTTPClient,
		HTTPHeader:      d.Header,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to websocket: %w", err)
	}

	conn.SetReadLimit(WebsocketReadLimit)

	return &websocketTransport{conn: conn, logger: d.Logger}, nil
}

type websocketTransport struct {
	conn   *websocket.Conn
	logger zerolog.Logger
}

func (t *websocketTransport) Read(ctx context.Context) ([]byte, error) {
	messageType, data, err := t.conn.Read(ctx)
	if err != nil {
		var closeError websocket.CloseError
		if errors.As(err, &closeError) {
			return nil, &sandwich.CloseError{CloseEvent: sandwich.CloseEvent{
				Code:     int(closeError.Code),
				Reason:   closeError.Reason,
				WasClean: true,
			}}
		}

		return nil, fmt.Errorf("failed to read from gateway: %w", err)
	}

	if messageType == websocket.MessageBinary {
		data, err = czlib.Decompress(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress data: %w", err)
		}
	}

	return data, nil
}

func (t *websocketTransport) Write(ctx context.Context, data []byte) error {
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to write to gateway: %w", err)
	}

	return nil
}

func (t *websocketTransport) Close(code int, reason string) error {
	t.logger.Debug().Int("code", code).Msg("Closing websocket connection")

	err := t.conn.Close(websocket.StatusCode(code), reason)
	if err != nil && !errors.Is(err, context.Canceled) {
		t.logger.Warn().Err(err).Msg("Failed to close websocket connection")

		return fmt.Errorf("failed to close websocket: %w", err)
	}

	return nil
}
