package sandwich

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerConnectSingleShard(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1, nil)
	h.gateway.guilds = []discord.Snowflake{10, 11}

	h.connectReady(t)

	assert.Equal(t, StatusReady, h.manager.Status())
	assert.Equal(t, map[int32]Status{0: StatusReady}, h.manager.ShardStatuses())

	shard, ok := h.manager.Shard(0)
	require.True(t, ok)
	assert.Equal(t, []discord.Snowflake{10, 11}, shard.Guilds())
	assert.Equal(t, "session-1", shard.Session().SessionID.OrElse(""))

	h.sink.with(func(s *recordingSink) {
		assert.Equal(t, []int32{0}, s.shardReady)
		assert.Empty(t, s.unavailable[0])
		assert.Equal(t, 1, s.ready)
	})

	conn := h.gateway.conn(0)
	assert.Equal(t, testGatewayURL+"/?v=10", conn.url)

	identifies := conn.frames(discord.GatewayOpIdentify)
	require.Len(t, identifies, 1)

	var identify discord.Identify
	require.NoError(t, json.Unmarshal(identifies[0].Data, &identify))
	assert.Equal(t, "token", identify.Token)
	assert.Equal(t, [2]int32{0, 1}, identify.Shard)

	assert.Equal(t, []string{discord.EventReady, discord.EventGuildCreate, discord.EventGuildCreate}, h.sink.dispatchTypes())
}

func TestManagerConnectTwice(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1, nil)
	h.connectReady(t)

	assert.ErrorIs(t, h.manager.Connect(context.Background()), ErrManagerAlreadyConnected)
}

func TestManagerSpawnsShardsFiveSecondsApart(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 3, nil)
	errs := h.connect()

	require.Eventually(t, func() bool {
		h.clock.Add(time.Second)

		return h.gateway.connCount() == 3
	}, waitFor, tick)

	var connectErr error

	require.Eventually(t, func() bool {
		select {
		case connectErr = <-errs:
			return true
		default:
			h.clock.Add(time.Second)

			return false
		}
	}, waitFor, tick)
	require.NoError(t, connectErr)

	dials := h.gateway.dialTimes()
	require.Len(t, dials, 3)

	for i := 1; i < len(dials); i++ {
		assert.GreaterOrEqual(t, dials[i].Sub(dials[i-1]), DefaultSpawnDelay)
	}

	require.Eventually(t, func() bool {
		return h.sink.readyCount() == 1
	}, waitFor, tick)

	h.sink.with(func(s *recordingSink) {
		assert.ElementsMatch(t, []int32{0, 1, 2}, s.shardReady)
	})

	for i := 0; i < 3; i++ {
		var identify discord.Identify
		require.NoError(t, json.Unmarshal(h.gateway.conn(i).frames(discord.GatewayOpIdentify)[0].Data, &identify))
		assert.Equal(t, [2]int32{int32(i), 3}, identify.Shard)
	}
}

func TestManagerShardIDs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		configuration ManagerConfiguration
		recommended   int32
		ids           []int32
		count         int32
	}{
		{
			name:          "auto sharded",
			configuration: ManagerConfiguration{AutoSharded: true, ShardCount: 8},
			recommended:   3,
			ids:           []int32{0, 1, 2},
			count:         3,
		},
		{
			name:          "fixed count",
			configuration: ManagerConfiguration{ShardCount: 2},
			recommended:   5,
			ids:           []int32{0, 1},
			count:         2,
		},
		{
			name:          "range",
			configuration: ManagerConfiguration{ShardCount: 10, ShardIDs: "2-4,9"},
			recommended:   1,
			ids:           []int32{2, 3, 4, 9},
			count:         10,
		},
		{
			name:          "no recommendation",
			configuration: ManagerConfiguration{AutoSharded: true},
			ids:           []int32{0},
			count:         1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := NewManager(testLogger(), tt.configuration, nil, nil, newFakeGatewayInfo(tt.recommended))

			ids, count := m.shardIDs(tt.recommended)
			assert.Equal(t, tt.ids, ids)
			assert.Equal(t, tt.count, count)
		})
	}
}

func TestManagerAuthenticationFailureDestroys(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1, nil)
	h.gateway.identifyClose = discord.CloseAuthenticationFailed

	errs := h.connect()

	var err error
	select {
	case err = <-errs:
	case <-time.After(waitFor):
		t.Fatal("Connect did not return")
	}

	require.ErrorIs(t, err, ErrShardUnrecoverable)

	var closeErr *CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, discord.CloseAuthenticationFailed, closeErr.Code)

	assert.True(t, h.manager.Destroyed())

	select {
	case <-h.manager.Done():
	case <-time.After(waitFor):
		t.Fatal("manager event loop did not stop")
	}

	assert.Equal(t, 1, h.gateway.connCount())

	h.sink.with(func(s *recordingSink) {
		assert.Equal(t, 1, s.invalidated)
		require.Len(t, s.disconnects, 1)
		assert.Equal(t, discord.CloseAuthenticationFailed, s.disconnects[0].Code)
		assert.Empty(t, s.reconnecting)
	})
}

func TestManagerInvalidTokenOnFetch(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1, nil)
	h.info.err = &HTTPError{StatusCode: 401, Body: "401: Unauthorized"}

	err := h.manager.Connect(context.Background())
	require.ErrorIs(t, err, ErrInvalidToken)
	assert.True(t, h.manager.Destroyed())
	assert.Zero(t, h.gateway.connCount())

	select {
	case <-h.manager.Done():
	case <-time.After(waitFor):
		t.Fatal("manager event loop did not stop")
	}

	h.sink.with(func(s *recordingSink) {
		assert.Equal(t, 1, s.invalidated)
	})

	assert.ErrorIs(t, h.manager.Connect(context.Background()), ErrManagerDestroyed)
}

func TestManagerZombieConnectionResumes(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1, nil)
	h.connectReady(t)

	h.gateway.setAutoAck(false)

	shard, _ := h.manager.Shard(0)

	// The next heartbeat is never acknowledged and the one after that finds
	// the connection dead.
	require.Eventually(t, func() bool {
		if h.gateway.connCount() == 1 && shard.Status() == StatusReady {
			h.clock.Add(testHeartbeatInterval)
		}

		return h.gateway.connCount() == 2
	}, waitFor, tick)

	first := h.gateway.conn(0)
	require.Eventually(t, func() bool {
		return first.closeCode() == WebsocketZombieCloseCode
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		return h.sink.resumedCount() == 1
	}, waitFor, tick)

	second := h.gateway.conn(1)
	assert.Equal(t, testResumeURL+"/?v=10", second.url)
	assert.Empty(t, second.frames(discord.GatewayOpIdentify))

	resumes := second.frames(discord.GatewayOpResume)
	require.Len(t, resumes, 1)

	var resume discord.Resume
	require.NoError(t, json.Unmarshal(resumes[0].Data, &resume))
	assert.Equal(t, "session-1", resume.SessionID)
	assert.Equal(t, int64(1), resume.Sequence)

	h.sink.with(func(s *recordingSink) {
		assert.Equal(t, []int32{0}, s.reconnecting)
		assert.Equal(t, 1, s.ready)
	})
}

func TestManagerNonResumableCloseIdentifiesAgain(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1, nil)
	h.connectReady(t)

	h.gateway.conn(0).remoteClose(discord.CloseInvalidSeq)

	require.Eventually(t, func() bool {
		return h.sink.shardReadyCount() == 2
	}, waitFor, tick)

	require.Equal(t, 2, h.gateway.connCount())

	second := h.gateway.conn(1)
	assert.Equal(t, testGatewayURL+"/?v=10", second.url)
	assert.Len(t, second.frames(discord.GatewayOpIdentify), 1)
	assert.Empty(t, second.frames(discord.GatewayOpResume))

	shard, _ := h.manager.Shard(0)
	assert.Equal(t, "session-2", shard.Session().SessionID.OrElse(""))

	h.sink.with(func(s *recordingSink) {
		assert.Equal(t, []int32{0}, s.reconnecting)
		assert.Equal(t, 1, s.ready)
	})
}

func TestManagerReconnectRequest(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1, nil)
	h.connectReady(t)

	h.gateway.conn(0).push(discord.GatewayOpReconnect, "", nil)

	require.Eventually(t, func() bool {
		return h.sink.resumedCount() == 1
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		return h.gateway.conn(0).closeCode() == WebsocketReconnectCloseCode
	}, waitFor, tick)
	assert.Len(t, h.gateway.conn(1).frames(discord.GatewayOpResume), 1)
}

func TestManagerInvalidSession(t *testing.T) {
	t.Parallel()

	t.Run("resumable", func(t *testing.T) {
		t.Parallel()

		h := newTestHarness(t, 1, nil)
		h.connectReady(t)

		conn := h.gateway.conn(0)
		conn.push(discord.GatewayOpInvalidSession, "", true)

		require.Eventually(t, func() bool {
			return len(conn.frames(discord.GatewayOpResume)) == 1
		}, waitFor, tick)

		assert.Equal(t, 1, h.gateway.connCount())
	})

	t.Run("not resumable", func(t *testing.T) {
		t.Parallel()

		h := newTestHarness(t, 1, nil)
		h.connectReady(t)

		conn := h.gateway.conn(0)
		conn.push(discord.GatewayOpInvalidSession, "", false)

		require.Eventually(t, func() bool {
			return h.sink.shardReadyCount() == 2
		}, waitFor, tick)

		assert.Equal(t, 1, h.gateway.connCount())
		assert.Len(t, conn.frames(discord.GatewayOpIdentify), 2)

		h.sink.with(func(s *recordingSink) {
			assert.Equal(t, []int32{0}, s.reconnecting)
		})
	})
}

func TestManagerHandlePacketHoldsUntilReady(t *testing.T) {
	t.Parallel()

	sink := newRecordingSink()
	m := NewManager(testLogger(), ManagerConfiguration{Identifier: "test"}, sink, nil, nil)

	message := func(sequence int64) *discord.GatewayPayload {
		return &discord.GatewayPayload{
			Op:       discord.GatewayOpDispatch,
			Type:     discord.EventMessageCreate,
			Sequence: &sequence,
			Data:     json.RawMessage(`{"id":"1","channel_id":"2","content":"hi"}`),
		}
	}

	assert.False(t, m.HandlePacket(message(1), nil))
	assert.False(t, m.HandlePacket(message(2), nil))
	assert.True(t, m.HandlePacket(&discord.GatewayPayload{
		Op:   discord.GatewayOpDispatch,
		Type: discord.EventGuildCreate,
		Data: json.RawMessage(`{"id":"5"}`),
	}, nil))
	assert.False(t, m.HandlePacket(message(3), nil))

	assert.Equal(t, 3, m.PendingPackets())
	assert.Equal(t, []string{discord.EventGuildCreate}, sink.dispatchTypes())

	m.setStatus(StatusReady)

	// Each release hands one packet to the next tick of the event loop.
	m.HandlePacket(nil, nil)
	assert.Equal(t, 2, m.PendingPackets())
	assert.Equal(t, 1, m.events.Len())

	m.processEvents()
	assert.Zero(t, m.PendingPackets())

	sink.with(func(s *recordingSink) {
		require.Len(t, s.dispatches, 4)

		for i, event := range s.dispatches[1:] {
			assert.Equal(t, discord.EventMessageCreate, event.Type)
			assert.Equal(t, int64(i+1), event.Sequence)
			assert.IsType(t, &discord.MessageCreate{}, event.Data)
		}
	})
}

func TestManagerDispatchDecodeFailure(t *testing.T) {
	t.Parallel()

	sink := newRecordingSink()
	m := NewManager(testLogger(), ManagerConfiguration{Identifier: "test"}, sink, nil, nil)
	m.setStatus(StatusReady)

	m.HandlePacket(&discord.GatewayPayload{
		Type: discord.EventGuildCreate,
		Data: json.RawMessage(`{"id":true}`),
	}, nil)
	m.HandlePacket(&discord.GatewayPayload{
		Type: "TYPING_START",
		Data: json.RawMessage(`{"user_id":"1"}`),
	}, nil)

	sink.with(func(s *recordingSink) {
		require.Len(t, s.exceptions, 1)
		require.Len(t, s.dispatches, 2)

		assert.IsType(t, discord.RawEvent{}, s.dispatches[0].Data)
		assert.Equal(t, discord.RawEvent(`{"user_id":"1"}`), s.dispatches[1].Data)
	})
}

func TestManagerBroadcast(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1, nil)
	h.connectReady(t)

	require.NoError(t, h.manager.UpdatePresence(discord.UpdateStatus{Status: discord.PresenceStatusIdle}))

	conn := h.gateway.conn(0)
	require.Eventually(t, func() bool {
		return len(conn.frames(discord.GatewayOpPresenceUpdate)) == 1
	}, waitFor, tick)

	var presence discord.UpdateStatus
	require.NoError(t, json.Unmarshal(conn.frames(discord.GatewayOpPresenceUpdate)[0].Data, &presence))
	assert.Equal(t, discord.PresenceStatusIdle, presence.Status)

	h.manager.Destroy()
	assert.ErrorIs(t, h.manager.Broadcast(discord.SentPayload{Op: discord.GatewayOpPresenceUpdate}), ErrManagerDestroyed)
	assert.Equal(t, StatusDisconnected, h.manager.Status())

	require.Eventually(t, func() bool {
		return conn.closeCode() == discord.CloseNormal
	}, waitFor, tick)
}

func TestManagerDestroyStopsReconnecting(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1, nil)
	h.connectReady(t)

	h.manager.Destroy()
	h.manager.Destroy()

	select {
	case <-h.manager.Done():
	case <-time.After(waitFor):
		t.Fatal("manager event loop did not stop")
	}

	_, err := h.manager.Reconnect(false)
	assert.NoError(t, err)
	assert.Equal(t, 1, h.gateway.connCount())

	h.sink.with(func(s *recordingSink) {
		assert.Empty(t, s.reconnecting)
	})
}

func TestConnectFailedIgnoresTransientErrors(t *testing.T) {
	t.Parallel()

	m := NewManager(testLogger(), ManagerConfiguration{Identifier: "test"}, nil, nil, nil)

	err := m.connectFailed(errors.New("connection reset"))
	assert.EqualError(t, err, "connection reset")
	assert.False(t, m.Destroyed())
}

func TestManagerReadyTimeoutReportsUnavailableGuilds(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1, nil)
	h.gateway.guilds = []discord.Snowflake{20, 10}
	h.gateway.withholdGuilds = true

	errs := h.connect()

	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Connect did not return")
	}

	shard, _ := h.manager.Shard(0)

	require.Eventually(t, func() bool {
		return shard.Status() == StatusWaitingForGuilds
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		if h.sink.shardReadyCount() == 0 {
			h.clock.Add(time.Second)
		}

		return h.sink.readyCount() == 1
	}, waitFor, tick)

	h.sink.with(func(s *recordingSink) {
		assert.Equal(t, []discord.Snowflake{10, 20}, s.unavailable[0])
	})

	assert.Empty(t, shard.Guilds())
}

func TestManagerCloseWhileWaitingForGuildsReconnects(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1, nil)
	h.gateway.guilds = []discord.Snowflake{10}
	h.gateway.withholdGuilds = true

	errs := h.connect()

	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Connect did not return")
	}

	shard, _ := h.manager.Shard(0)

	require.Eventually(t, func() bool {
		return shard.Status() == StatusWaitingForGuilds
	}, waitFor, tick)
	assert.NotEqual(t, StatusReady, h.manager.Status())

	h.gateway.conn(0).remoteClose(discord.CloseUnknownError)

	require.Eventually(t, func() bool {
		return h.sink.readyCount() == 1
	}, waitFor, tick)

	assert.Equal(t, 2, h.gateway.connCount())
	assert.Len(t, h.gateway.conn(1).frames(discord.GatewayOpResume), 1)
	assert.Equal(t, 1, h.sink.resumedCount())
	assert.Equal(t, StatusReady, h.manager.Status())
	assert.Zero(t, h.manager.queueLen())
}

func TestManagerBrokenPacketWarns(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1, nil)
	h.connectReady(t)

	h.gateway.conn(0).incoming <- []byte(`{"op":`)

	var warnings []string

	require.Eventually(t, func() bool {
		h.sink.with(func(s *recordingSink) { warnings = append([]string(nil), s.warnings...) })

		return len(warnings) == 1
	}, waitFor, tick)

	assert.Contains(t, warnings[0], "[WS => Shard 0] Received broken packet")
	assert.Equal(t, StatusReady, h.manager.Status())
}
