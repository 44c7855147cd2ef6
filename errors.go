package sandwich

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMissingToken      = errors.New("manager missing bot token")
	ErrMissingIdentifier = errors.New("manager missing identifier")
	ErrInvalidShardRange = errors.New("shard range does not contain any shards")
	ErrInvalidSendLimit  = errors.New("send limit must be positive")

	ErrInvalidToken       = errors.New("invalid token was provided")
	ErrShardUnrecoverable = errors.New("shard closed with an unrecoverable code")
	ErrManagerDestroyed   = errors.New("manager destroyed")

	ErrShardInvalidSession      = errors.New("shard session was invalidated")
	ErrShardDestroyed           = errors.New("shard destroyed")
	ErrInvalidHeartbeatInterval = errors.New("shard invalid heartbeat interval")
	ErrChunkTimeout             = errors.New("timed out waiting for guild members")

	ErrNoGatewayHandler = errors.New("no gateway handler found")
)

// CloseEvent describes how a shard's transport closed.
type CloseEvent struct {
	Code     int    `json:"code"`
	Reason   string `json:"reason"`
	WasClean bool   `json:"was_clean"`
}

// CloseError is returned by a shard connect attempt that ended with a close.
type CloseError struct {
	CloseEvent
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("shard closed with code %d (%s): %s", e.Code, CloseCodeDescription(e.Code), e.Reason)
}

// HTTPError is a non-2xx response from the REST API.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

func (e *HTTPError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrInvalidToken
	}

	return nil
}
