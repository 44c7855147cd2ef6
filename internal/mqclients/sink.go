package mqclients

import (
	"context"
	"time"

	sandwich "github.com/WelcomerTeam/Sandwich-Gateway"
	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
	"github.com/WelcomerTeam/Sandwich-Gateway/sandwichjson"
	"github.com/rs/zerolog"
)

// DefaultPublishTimeout bounds a single publish.
const DefaultPublishTimeout = 5 * time.Second

// ProducerSink publishes dispatches and shard status changes to a message
// queue. Every notification is also passed to Next.
type ProducerSink struct {
	sandwich.EventSink

	Logger zerolog.Logger

	Client     MQClient
	Identifier string
	Timeout    time.Duration

	blacklist map[string]struct{}
}

func NewProducerSink(next sandwich.EventSink, client MQClient, identifier string, logger zerolog.Logger) *ProducerSink {
	if next == nil {
		next = sandwich.NoopEventSink{}
	}

	return &ProducerSink{
		EventSink:  next,
		Logger:     logger.With().Str("producer", client.String()).Logger(),
		Client:     client,
		Identifier: identifier,
		Timeout:    DefaultPublishTimeout,
	}
}

// WithBlacklist stops dispatches of the given types from being produced.
func (s *ProducerSink) WithBlacklist(eventTypes []string) *ProducerSink {
	s.blacklist = sandwich.NewEventTypeSet(eventTypes)

	return s
}

func (s *ProducerSink) Dispatch(event sandwich.DispatchEvent) {
	s.EventSink.Dispatch(event)

	if _, ok := s.blacklist[event.Type]; ok {
		return
	}

	s.publish(SandwichPayload{
		Op:       discord.GatewayOpDispatch,
		Data:     event.Raw,
		Sequence: event.Sequence,
		Type:     event.Type,
		Metadata: SandwichMetadata{
			Version:    sandwich.Version,
			Identifier: s.Identifier,
			Shard:      [2]int32{event.ShardID, event.ShardCount},
		},
	})
}

func (s *ProducerSink) Ready() {
	s.EventSink.Ready()

	s.publishEvent(SandwichApplicationStatusUpdate, -1, ApplicationStatusUpdateEvent{
		Identifier: s.Identifier,
		Status:     sandwich.StatusReady,
	})
}

func (s *ProducerSink) ShardReady(shardID int32, unavailableGuilds []discord.Snowflake) {
	s.EventSink.ShardReady(shardID, unavailableGuilds)

	s.publishEvent(SandwichShardStatusUpdate, shardID, ShardStatusUpdateEvent{
		Identifier:        s.Identifier,
		ShardID:           shardID,
		Status:            sandwich.StatusReady,
		UnavailableGuilds: unavailableGuilds,
	})
}

func (s *ProducerSink) ShardReconnecting(shardID int32) {
	s.EventSink.ShardReconnecting(shardID)

	s.publishEvent(SandwichShardStatusUpdate, shardID, ShardStatusUpdateEvent{
		Identifier: s.Identifier,
		ShardID:    shardID,
		Status:     sandwich.StatusReconnecting,
	})
}

func (s *ProducerSink) ShardResumed(shardID int32, replayed int64) {
	s.EventSink.ShardResumed(shardID, replayed)

	s.publishEvent(SandwichShardStatusUpdate, shardID, ShardStatusUpdateEvent{
		Identifier: s.Identifier,
		ShardID:    shardID,
		Status:     sandwich.StatusReady,
		Replayed:   replayed,
	})
}

func (s *ProducerSink) ShardDisconnect(event sandwich.CloseEvent, shardID int32) {
	s.EventSink.ShardDisconnect(event, shardID)

	s.publishEvent(SandwichShardStatusUpdate, shardID, ShardStatusUpdateEvent{
		Identifier: s.Identifier,
		ShardID:    shardID,
		Status:     sandwich.StatusDisconnected,
		Close:      &event,
	})
}

func (s *ProducerSink) publishEvent(eventType string, shardID int32, data any) {
	raw, err := sandwichjson.Marshal(data)
	if err != nil {
		s.Logger.Error().Err(err).Str("type", eventType).Msg("Failed to marshal event")

		return
	}

	s.publish(SandwichPayload{
		Op:   discord.GatewayOpDispatch,
		Data: raw,
		Type: eventType,
		Metadata: SandwichMetadata{
			Version:    sandwich.Version,
			Identifier: s.Identifier,
			Shard:      [2]int32{shardID, 0},
		},
	})
}

func (s *ProducerSink) publish(payload SandwichPayload) {
	data, err := sandwichjson.Marshal(payload)
	if err != nil {
		s.Logger.Error().Err(err).Str("type", payload.Type).Msg("Failed to marshal payload")

		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	if err := s.Client.Publish(ctx, s.Client.Channel(), data); err != nil {
		s.Logger.Error().Err(err).Str("type", payload.Type).Msg("Failed to publish event")
	}
}
