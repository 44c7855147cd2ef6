package sandwich

import (
	"context"
)

// Transport is one open gateway connection.
//
// Read blocks until a complete message is available and returns it as JSON,
// already decompressed. Once the peer closes the connection Read returns a
// *CloseError; any other error is treated as an abnormal closure.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Dialer opens Transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, url string) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Transport, error) {
	return f(ctx, url)
}
