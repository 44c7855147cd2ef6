package sandwich

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
	"github.com/WelcomerTeam/Sandwich-Gateway/sandwichjson"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testHeartbeatInterval = 45 * time.Second
	testResumeURL         = "wss://resume.gateway.test"
	testGatewayURL        = "wss://gateway.test"

	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeGateway answers like discord's gateway: HELLO on connect, READY on
// IDENTIFY, RESUMED on RESUME and an ACK for every heartbeat.
type fakeGateway struct {
	clock clock.Clock

	mu            sync.Mutex
	autoAck       bool
	identifyClose int
	guilds        []discord.Snowflake
	// withholdGuilds lists guilds in READY but never sends their GUILD_CREATE.
	withholdGuilds bool
	conns          []*fakeConn
	dialedAt       []time.Time
	sessions       int
}

func newFakeGateway(clk clock.Clock) *fakeGateway {
	return &fakeGateway{clock: clk, autoAck: true}
}

func (g *fakeGateway) Dial(_ context.Context, url string) (Transport, error) {
	conn := newFakeConn(g, url)

	g.mu.Lock()
	g.conns = append(g.conns, conn)
	g.dialedAt = append(g.dialedAt, g.clock.Now())
	g.mu.Unlock()

	conn.push(discord.GatewayOpHello, "", discord.Hello{HeartbeatInterval: int32(testHeartbeatInterval.Milliseconds())})

	return conn, nil
}

func (g *fakeGateway) connCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.conns)
}

func (g *fakeGateway) conn(i int) *fakeConn {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.conns[i]
}

func (g *fakeGateway) dialTimes() []time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]time.Time(nil), g.dialedAt...)
}

func (g *fakeGateway) setAutoAck(autoAck bool) {
	g.mu.Lock()
	g.autoAck = autoAck
	g.mu.Unlock()
}

type sentFrame struct {
	Op   discord.GatewayOp `json:"op"`
	Data json.RawMessage   `json:"d"`
}

type fakeConn struct {
	gateway *fakeGateway
	url     string

	incoming chan []byte
	closed   chan struct{}

	closeOnce sync.Once
	closeErr  error

	mu         sync.Mutex
	sent       []sentFrame
	sequence   int64
	closedWith int
}

func newFakeConn(gateway *fakeGateway, url string) *fakeConn {
	return &fakeConn{
		gateway:  gateway,
		url:      url,
		incoming: make(chan []byte, 256),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.incoming:
		return data, nil
	case <-c.closed:
		return nil, c.closeErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	// encoding/json keeps a literal null in RawMessage; jsoniter leaves it empty.
	var frame sentFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}

	c.mu.Lock()
	c.sent = append(c.sent, frame)
	c.mu.Unlock()

	if c.gateway != nil {
		c.respond(frame)
	}

	return nil
}

func (c *fakeConn) respond(frame sentFrame) {
	g := c.gateway

	g.mu.Lock()
	autoAck, identifyClose, guilds, withhold := g.autoAck, g.identifyClose, g.guilds, g.withholdGuilds
	g.mu.Unlock()

	switch frame.Op {
	case discord.GatewayOpHeartbeat:
		if autoAck {
			c.push(discord.GatewayOpHeartbeatACK, "", nil)
		}
	case discord.GatewayOpIdentify:
		if identifyClose != 0 {
			c.remoteClose(identifyClose)

			return
		}

		g.mu.Lock()
		g.sessions++
		sessionID := fmt.Sprintf("session-%d", g.sessions)
		g.mu.Unlock()

		unavailable := make(discord.UnavailableGuildList, 0, len(guilds))
		for _, guildID := range guilds {
			unavailable = append(unavailable, discord.UnavailableGuild{ID: guildID, Unavailable: true})
		}

		c.push(discord.GatewayOpDispatch, discord.EventReady, discord.Ready{
			Version:          DefaultGatewayVersion,
			SessionID:        sessionID,
			ResumeGatewayURL: testResumeURL,
			Guilds:           unavailable,
		})

		if withhold {
			return
		}

		for _, guildID := range guilds {
			c.push(discord.GatewayOpDispatch, discord.EventGuildCreate, discord.Guild{ID: guildID, Name: "guild"})
		}
	case discord.GatewayOpResume:
		c.push(discord.GatewayOpDispatch, discord.EventResumed, struct{}{})
	}
}

// push queues a frame for the shard to read. Dispatches get the next
// sequence number.
func (c *fakeConn) push(op discord.GatewayOp, eventType string, data any) {
	raw, err := sandwichjson.Marshal(data)
	if err != nil {
		panic(err)
	}

	payload := discord.GatewayPayload{Op: op, Data: raw, Type: eventType}

	if op == discord.GatewayOpDispatch {
		c.mu.Lock()
		c.sequence++
		sequence := c.sequence
		c.mu.Unlock()

		payload.Sequence = &sequence
	}

	frame, err := sandwichjson.Marshal(payload)
	if err != nil {
		panic(err)
	}

	c.incoming <- frame
}

// remoteClose closes the connection as the gateway would.
func (c *fakeConn) remoteClose(code int) {
	c.closeOnce.Do(func() {
		c.closeErr = &CloseError{CloseEvent: CloseEvent{Code: code, Reason: CloseCodeDescription(code), WasClean: true}}
		close(c.closed)
	})
}

func (c *fakeConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closedWith = code
		c.mu.Unlock()

		c.closeErr = &CloseError{CloseEvent: CloseEvent{Code: code, Reason: reason, WasClean: true}}
		close(c.closed)
	})

	return nil
}

func (c *fakeConn) closeCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closedWith
}

func (c *fakeConn) frames(op discord.GatewayOp) []sentFrame {
	c.mu.Lock()
	defer c.mu.Unlock()

	var frames []sentFrame

	for _, frame := range c.sent {
		if frame.Op == op {
			frames = append(frames, frame)
		}
	}

	return frames
}

type fakeGatewayInfo struct {
	mu       sync.Mutex
	response discord.GatewayBotResponse
	err      error
	calls    int
}

func newFakeGatewayInfo(shards int32) *fakeGatewayInfo {
	return &fakeGatewayInfo{
		response: discord.GatewayBotResponse{
			URL:    testGatewayURL,
			Shards: shards,
			SessionStartLimit: discord.SessionStartLimit{
				Total:          1000,
				Remaining:      1000,
				ResetAfter:     int64(time.Hour / time.Millisecond),
				MaxConcurrency: 1,
			},
		},
	}
}

func (f *fakeGatewayInfo) FetchGatewayInfo(context.Context) (*discord.GatewayBotResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	if f.err != nil {
		return nil, f.err
	}

	response := f.response

	return &response, nil
}

// recordingSink keeps every notification for assertions.
type recordingSink struct {
	mu sync.Mutex

	ready        int
	invalidated  int
	shardReady   []int32
	unavailable  map[int32][]discord.Snowflake
	reconnecting []int32
	resumed      []int32
	disconnects  []CloseEvent
	dispatches   []DispatchEvent
	exceptions   []error
	warnings     []string
	rateLimits   []RateLimitInfo
}

var _ EventSink = (*recordingSink)(nil)

func newRecordingSink() *recordingSink {
	return &recordingSink{unavailable: make(map[int32][]discord.Snowflake)}
}

func (s *recordingSink) with(fn func(s *recordingSink)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(s)
}

func (s *recordingSink) Debug(string) {}

func (s *recordingSink) Warn(message string) {
	s.with(func(s *recordingSink) { s.warnings = append(s.warnings, message) })
}

func (s *recordingSink) Dispatch(event DispatchEvent) {
	s.with(func(s *recordingSink) { s.dispatches = append(s.dispatches, event) })
}

func (s *recordingSink) Ready() {
	s.with(func(s *recordingSink) { s.ready++ })
}

func (s *recordingSink) ShardReady(shardID int32, unavailableGuilds []discord.Snowflake) {
	s.with(func(s *recordingSink) {
		s.shardReady = append(s.shardReady, shardID)
		s.unavailable[shardID] = unavailableGuilds
	})
}

func (s *recordingSink) ShardReconnecting(shardID int32) {
	s.with(func(s *recordingSink) { s.reconnecting = append(s.reconnecting, shardID) })
}

func (s *recordingSink) ShardResumed(shardID int32, _ int64) {
	s.with(func(s *recordingSink) { s.resumed = append(s.resumed, shardID) })
}

func (s *recordingSink) ShardDisconnect(event CloseEvent, _ int32) {
	s.with(func(s *recordingSink) { s.disconnects = append(s.disconnects, event) })
}

func (s *recordingSink) ShardException(err error, _ int32) {
	s.with(func(s *recordingSink) { s.exceptions = append(s.exceptions, err) })
}

func (s *recordingSink) Invalidated() {
	s.with(func(s *recordingSink) { s.invalidated++ })
}

func (s *recordingSink) RateLimit(info RateLimitInfo) {
	s.with(func(s *recordingSink) { s.rateLimits = append(s.rateLimits, info) })
}

func (s *recordingSink) readyCount() (n int) {
	s.with(func(s *recordingSink) { n = s.ready })

	return n
}

func (s *recordingSink) shardReadyCount() (n int) {
	s.with(func(s *recordingSink) { n = len(s.shardReady) })

	return n
}

func (s *recordingSink) resumedCount() (n int) {
	s.with(func(s *recordingSink) { n = len(s.resumed) })

	return n
}

func (s *recordingSink) dispatchTypes() (types []string) {
	s.with(func(s *recordingSink) {
		for _, event := range s.dispatches {
			types = append(types, event.Type)
		}
	})

	return types
}

type testHarness struct {
	manager *Manager
	sink    *recordingSink
	gateway *fakeGateway
	info    *fakeGatewayInfo
	clock   *clock.Mock
}

func newTestHarness(t *testing.T, shards int32, configure func(*ManagerConfiguration)) *testHarness {
	t.Helper()

	mock := clock.NewMock()

	configuration := ManagerConfiguration{
		Identifier:  "test",
		Token:       "token",
		AutoSharded: true,
	}

	if configure != nil {
		configure(&configuration)
	}

	h := &testHarness{
		sink:    newRecordingSink(),
		gateway: newFakeGateway(mock),
		info:    newFakeGatewayInfo(shards),
		clock:   mock,
	}

	h.manager = NewManager(zerolog.Nop(), configuration, h.sink, h.gateway, h.info).WithClock(mock)

	t.Cleanup(func() {
		h.manager.Destroy()

		select {
		case <-h.manager.Done():
		case <-time.After(waitFor):
			t.Error("manager event loop did not stop")
		}
	})

	return h
}

// connect runs Connect in the background and returns its result channel.
func (h *testHarness) connect() <-chan error {
	errs := make(chan error, 1)

	go func() {
		errs <- h.manager.Connect(context.Background())
	}()

	return errs
}

// connectReady connects and waits until the manager is ready.
func (h *testHarness) connectReady(t *testing.T) {
	t.Helper()

	errs := h.connect()

	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Connect did not return")
	}

	require.Eventually(t, func() bool {
		return h.sink.readyCount() == 1
	}, waitFor, tick)
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func discordLimit(maxConcurrency int32) discord.SessionStartLimit {
	return discord.SessionStartLimit{Total: 1000, Remaining: 1000, MaxConcurrency: maxConcurrency}
}
