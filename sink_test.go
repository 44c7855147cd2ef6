package sandwich

import (
	"bytes"
	"errors"
	"testing"

	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLoggerEventSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	sink := NewLoggerEventSink(zerolog.New(&buf).Level(zerolog.InfoLevel))

	sink.Debug("hidden")
	sink.ShardReady(2, []discord.Snowflake{1})
	sink.ShardDisconnect(CloseEvent{Code: discord.CloseInvalidShard, Reason: "Invalid shard"}, 2)
	sink.ShardException(errors.New("boom"), 2)

	out := buf.String()

	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"shardId":2`)
	assert.Contains(t, out, `"unavailable":1`)
	assert.Contains(t, out, `"code":4010`)
	assert.Contains(t, out, `"error":"boom"`)
}

func TestNewManagerDefaults(t *testing.T) {
	t.Parallel()

	m := NewManager(testLogger(), ManagerConfiguration{Identifier: "welcomer"}, nil, nil, nil)

	assert.IsType(t, NoopEventSink{}, m.sink)
	assert.Equal(t, StatusIdle, m.Status())
	assert.Equal(t, "welcomer", m.Configuration().ProducerIdentifier)
	assert.Equal(t, DefaultSpawnDelay, m.Configuration().SpawnDelay.Duration())
	assert.Zero(t, m.Ping())
	assert.Empty(t, m.Shards())
	assert.True(t, m.ReadyAt().IsZero())
}

func TestBlacklistEventSink(t *testing.T) {
	t.Parallel()

	next := newRecordingSink()

	assert.Same(t, next, NewBlacklistEventSink(next, nil))

	sink := NewBlacklistEventSink(next, []string{discord.EventPresenceUpdate})
	sink.Dispatch(DispatchEvent{Type: discord.EventPresenceUpdate})
	sink.Dispatch(DispatchEvent{Type: discord.EventMessageCreate})
	sink.ShardReady(0, nil)

	assert.Equal(t, []string{discord.EventMessageCreate}, next.dispatchTypes())
	assert.Equal(t, 1, next.shardReadyCount())
}
