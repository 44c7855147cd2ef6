package sandwich

import (
	"encoding/json"
	"time"

	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
	"github.com/rs/zerolog"
)

// DispatchEvent is a decoded dispatch handed to an EventSink.
type DispatchEvent struct {
	Identifier string          `json:"identifier"`
	ShardID    int32           `json:"shard_id"`
	ShardCount int32           `json:"shard_count"`
	Type       string          `json:"type"`
	Sequence   int64           `json:"sequence"`
	Data       any             `json:"data"`
	Raw        json.RawMessage `json:"-"`
}

// RateLimitInfo describes a shard whose outbound budget ran out.
type RateLimitInfo struct {
	ShardID int32         `json:"shard_id"`
	Limit   int32         `json:"limit"`
	Window  time.Duration `json:"window"`
	Timeout time.Duration `json:"timeout"`
	Queued  int           `json:"queued"`
}

// EventSink receives everything a manager produces. Calls are made from a
// single goroutine per manager.
type EventSink interface {
	Debug(message string)
	Warn(message string)
	Dispatch(event DispatchEvent)

	Ready()
	ShardReady(shardID int32, unavailableGuilds []discord.Snowflake)
	ShardReconnecting(shardID int32)
	ShardResumed(shardID int32, replayed int64)
	ShardDisconnect(event CloseEvent, shardID int32)
	ShardException(err error, shardID int32)
	Invalidated()
	RateLimit(info RateLimitInfo)
}

// NoopEventSink ignores everything. Embed it to implement only some methods.
type NoopEventSink struct{}

func (NoopEventSink) Debug(string)                          {}
func (NoopEventSink) Warn(string)                           {}
func (NoopEventSink) Dispatch(DispatchEvent)                {}
func (NoopEventSink) Ready()                                {}
func (NoopEventSink) ShardReady(int32, []discord.Snowflake) {}
func (NoopEventSink) ShardReconnecting(int32)               {}
func (NoopEventSink) ShardResumed(int32, int64)             {}
func (NoopEventSink) ShardDisconnect(CloseEvent, int32)     {}
func (NoopEventSink) ShardException(error, int32)           {}
func (NoopEventSink) Invalidated()                          {}
func (NoopEventSink) RateLimit(RateLimitInfo)               {}

// LoggerEventSink writes every notification to a zerolog logger.
type LoggerEventSink struct {
	Logger zerolog.Logger
}

func NewLoggerEventSink(logger zerolog.Logger) *LoggerEventSink {
	return &LoggerEventSink{Logger: logger}
}

func (s *LoggerEventSink) Debug(message string) {
	s.Logger.Debug().Msg(message)
}

func (s *LoggerEventSink) Warn(message string) {
	s.Logger.Warn().Msg(message)
}

func (s *LoggerEventSink) Dispatch(event DispatchEvent) {
	s.Logger.Trace().
		Int32("shardId", event.ShardID).
		Str("type", event.Type).
		Int64("sequence", event.Sequence).
		Msg("Dispatch")
}

func (s *LoggerEventSink) Ready() {
	s.Logger.Info().Msg("All shards are ready")
}

func (s *LoggerEventSink) ShardReady(shardID int32, unavailableGuilds []discord.Snowflake) {
	s.Logger.Info().
		Int32("shardId", shardID).
		Int("unavailable", len(unavailableGuilds)).
		Msg("Shard is ready")
}

func (s *LoggerEventSink) ShardReconnecting(shardID int32) {
	s.Logger.Info().Int32("shardId", shardID).Msg("Shard is reconnecting")
}

func (s *LoggerEventSink) ShardResumed(shardID int32, replayed int64) {
	s.Logger.Info().Int32("shardId", shardID).Int64("replayed", replayed).Msg("Shard resumed")
}

func (s *LoggerEventSink) ShardDisconnect(event CloseEvent, shardID int32) {
	s.Logger.Warn().
		Int32("shardId", shardID).
		Int("code", event.Code).
		Str("reason", event.Reason).
		Bool("clean", event.WasClean).
		Msg("Shard disconnected")
}

func (s *LoggerEventSink) ShardException(err error, shardID int32) {
	s.Logger.Error().Err(err).Int32("shardId", shardID).Msg("Shard encountered an error")
}

func (s *LoggerEventSink) Invalidated() {
	s.Logger.Error().Msg("Session invalidated, the token is no longer valid")
}

func (s *LoggerEventSink) RateLimit(info RateLimitInfo) {
	s.Logger.Warn().
		Int32("shardId", info.ShardID).
		Int32("limit", info.Limit).
		Dur("timeout", info.Timeout).
		Int("queued", info.Queued).
		Msg("Shard hit the gateway send limit")
}
