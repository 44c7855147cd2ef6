package sandwich

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
	"github.com/WelcomerTeam/Sandwich-Gateway/sandwichjson"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	gotils_strconv "github.com/savsgio/gotils/strconv"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// gatewayEnvironment is shared by every shard of a manager and never changes
// once the manager has connected.
type gatewayEnvironment struct {
	identifier    string
	configuration ManagerConfiguration
	shardCount    int32
	gatewayURL    string

	dialer           Dialer
	clock            clock.Clock
	identifyProvider IdentifyProvider
	limiter          *SessionLimiter

	events *mailbox[shardEvent]
}

// DestroyOptions controls how a shard tears its connection down.
type DestroyOptions struct {
	// CloseCode is sent to the gateway. Zero means 1000.
	CloseCode    int
	ResetSession bool
	// Emit reports the teardown to the manager, as a close when a connection
	// was open or as a destroy when there was none.
	Emit bool
	Log  bool
}

// connectAttempt is settled once by whichever of READY, RESUMED, a close,
// an invalid session or a destroy happens first.
type connectAttempt struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newConnectAttempt() *connectAttempt {
	return &connectAttempt{done: make(chan struct{})}
}

func (a *connectAttempt) settle(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

func (a *connectAttempt) wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shard is a single gateway connection.
//
// All connection state is guarded by mu. Transport reads, dials and timers run
// on their own goroutines and take mu before touching the shard; anything they
// started for a connection that has since been replaced is ignored through
// connGeneration. Nothing holding mu calls into the manager, it only pushes
// to the manager's mailbox.
type Shard struct {
	Logger zerolog.Logger

	ShardID int32

	env *gatewayEnvironment

	status  *atomic.Int32
	latency *atomic.Duration

	mu sync.Mutex

	session        GatewaySession
	expectedGuilds map[discord.Snowflake]struct{}
	guilds         map[discord.Snowflake]struct{}

	conn           Transport
	connOpen       bool
	connGeneration uint64
	connCancel     context.CancelFunc
	dialing        bool
	connectStarted time.Time

	attempt *connectAttempt

	helloTimer        *clock.Timer
	readyTimer        *clock.Timer
	heartbeatTimer    *clock.Timer
	heartbeatInterval time.Duration

	lastHeartbeatAcked bool
	lastHeartbeatSent  time.Time

	cancelIdentify context.CancelFunc

	sendQueue *sendQueue

	chunkWaiters map[string]chan discord.GuildMembersChunk
}

func newShard(env *gatewayEnvironment, logger zerolog.Logger, shardID int32) *Shard {
	shard := &Shard{
		Logger: logger.With().Int32("shardId", shardID).Logger(),

		ShardID: shardID,

		env: env,

		status:  atomic.NewInt32(int32(StatusIdle)),
		latency: atomic.NewDuration(0),

		expectedGuilds: make(map[discord.Snowflake]struct{}),
		guilds:         make(map[discord.Snowflake]struct{}),

		lastHeartbeatAcked: true,

		sendQueue: newSendQueue(env.configuration.SendLimit, env.configuration.SendWindow.Duration()),

		chunkWaiters: make(map[string]chan discord.GuildMembersChunk),
	}

	return shard
}

// Status returns the current status of the shard.
func (shard *Shard) Status() Status {
	return Status(shard.status.Load())
}

// Latency is the time between the last heartbeat and its acknowledgement.
func (shard *Shard) Latency() time.Duration {
	return shard.latency.Load()
}

// ShardCount is the total number of shards the identify advertises.
func (shard *Shard) ShardCount() int32 {
	return shard.env.shardCount
}

// MaxConcurrency is the number of shards allowed to identify at once.
func (shard *Shard) MaxConcurrency() int32 {
	if concurrency := shard.env.limiter.Limit().MaxConcurrency; concurrency > 0 {
		return concurrency
	}

	return 1
}

// Session returns a copy of the resumable session state.
func (shard *Shard) Session() GatewaySession {
	shard.mu.Lock()
	defer shard.mu.Unlock()

	return shard.session
}

// HasSession reports whether a session id is present for resuming.
func (shard *Shard) HasSession() bool {
	shard.mu.Lock()
	defer shard.mu.Unlock()

	return shard.session.SessionID.IsSome()
}

// ResetSession forgets the session so the next connect identifies fresh.
func (shard *Shard) ResetSession() {
	shard.mu.Lock()
	shard.session.reset()
	shard.mu.Unlock()
}

// Guilds returns the available guilds this shard has received.
func (shard *Shard) Guilds() []discord.Snowflake {
	shard.mu.Lock()
	guildIDs := make([]discord.Snowflake, 0, len(shard.guilds))

	for guildID := range shard.guilds {
		guildIDs = append(guildIDs, guildID)
	}
	shard.mu.Unlock()

	sort.Slice(guildIDs, func(i, j int) bool { return guildIDs[i] < guildIDs[j] })

	return guildIDs
}

// Connect opens the connection, or identifies again on an open one, and
// returns once the session is READY or RESUMED. Concurrent callers share the
// same attempt.
func (shard *Shard) Connect(ctx context.Context) error {
	shard.mu.Lock()

	if shard.conn != nil && shard.connOpen && shard.Status() == StatusReady {
		shard.mu.Unlock()

		return nil
	}

	if shard.conn != nil && !shard.connOpen {
		shard.debug("A connection object was found. Cleaning up before continuing.")
		shard.destroyLocked(DestroyOptions{CloseCode: discord.CloseNormal})
	}

	attempt := shard.attempt
	if attempt == nil {
		attempt = newConnectAttempt()
		shard.attempt = attempt
	}

	switch {
	case shard.conn != nil && shard.connOpen:
		shard.debug("An open connection was found, attempting an immediate identify.")
		shard.identifyLocked()
	case !shard.dialing:
		shard.openLocked()
	}

	shard.mu.Unlock()

	return attempt.wait(ctx)
}

// Destroy tears the connection down and stops every timer.
func (shard *Shard) Destroy(opts DestroyOptions) {
	shard.mu.Lock()
	shard.destroyLocked(opts)
	shard.mu.Unlock()
}

// Send queues a payload for the gateway. Important payloads skip the queue.
func (shard *Shard) Send(payload discord.SentPayload, important bool) error {
	shard.mu.Lock()
	defer shard.mu.Unlock()

	return shard.sendLocked(payload, important)
}

// ChunkGuild requests every member of a guild and waits for all chunks.
func (shard *Shard) ChunkGuild(ctx context.Context, guildID discord.Snowflake) error {
	nonce := randomHex(16)
	chunks := make(chan discord.GuildMembersChunk, 64)
	timeout := shard.env.configuration.MemberChunkTimeout.Duration()

	shard.mu.Lock()
	shard.chunkWaiters[nonce] = chunks
	err := shard.sendLocked(discord.SentPayload{
		Op: discord.GatewayOpRequestGuildMembers,
		Data: discord.RequestGuildMembers{
			GuildID: guildID,
			Query:   "",
			Limit:   0,
			Nonce:   nonce,
		},
	}, false)
	shard.mu.Unlock()

	defer func() {
		shard.mu.Lock()
		delete(shard.chunkWaiters, nonce)
		shard.mu.Unlock()
	}()

	if err != nil {
		return err
	}

	timer := shard.env.clock.Timer(timeout)
	defer timer.Stop()

	var received int32

	for {
		select {
		case chunk := <-chunks:
			received++

			if received >= chunk.ChunkCount {
				return nil
			}

			timer.Reset(timeout)
		case <-timer.C:
			return fmt.Errorf("guild %s: %w", guildID, ErrChunkTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ChunkAllGuilds chunks every guild the shard has, one at a time.
func (shard *Shard) ChunkAllGuilds(ctx context.Context) (err error) {
	for _, guildID := range shard.Guilds() {
		if chunkErr := shard.ChunkGuild(ctx, guildID); chunkErr != nil {
			if ctx.Err() != nil {
				return multierr.Append(err, ctx.Err())
			}

			err = multierr.Append(err, chunkErr)
		}
	}

	return err
}

func (shard *Shard) openLocked() {
	gatewayURL := shard.env.gatewayURL
	if _, ok := shard.session.SessionID.Get(); ok && shard.session.ResumeGatewayURL != "" {
		gatewayURL = shard.session.ResumeGatewayURL
	}

	gatewayURL = fmt.Sprintf("%s/?v=%d", strings.TrimSuffix(gatewayURL, "/"), shard.env.configuration.Version)

	if shard.Status() == StatusDisconnected {
		shard.setStatusLocked(StatusReconnecting)
	} else {
		shard.setStatusLocked(StatusConnecting)
	}

	shard.debugf("[CONNECT]\n    Gateway    : %s\n    Version    : %d\n    Compression: %t",
		gatewayURL, shard.env.configuration.Version, shard.env.configuration.Compress)

	shard.setHelloTimeoutLocked()

	shard.connGeneration++
	generation := shard.connGeneration

	ctx, cancel := context.WithCancel(context.Background())
	shard.connCancel = cancel
	shard.dialing = true
	shard.connectStarted = shard.env.clock.Now()

	go shard.dial(ctx, generation, gatewayURL)
}

func (shard *Shard) dial(ctx context.Context, generation uint64, gatewayURL string) {
	conn, err := shard.env.dialer.Dial(ctx, gatewayURL)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if generation != shard.connGeneration {
		if conn != nil {
			go closeTransport(conn, discord.CloseNormal, nil)
		}

		return
	}

	shard.dialing = false

	if err != nil {
		shard.exceptionLocked(fmt.Errorf("failed to dial gateway: %w", err))
		shard.handleCloseLocked(CloseEvent{Code: discord.CloseAbnormal, Reason: err.Error()})

		return
	}

	shard.conn = conn
	shard.connOpen = true

	shard.debugf("[CONNECTED] %s in %dms", gatewayURL, shard.env.clock.Since(shard.connectStarted).Milliseconds())
	shard.setStatusLocked(StatusNearly)

	go shard.readLoop(ctx, generation, conn)
}

func (shard *Shard) readLoop(ctx context.Context, generation uint64, conn Transport) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			shard.mu.Lock()

			if generation == shard.connGeneration {
				event := closeEventFromError(err)
				if !event.WasClean && event.Code == discord.CloseAbnormal {
					shard.exceptionLocked(err)
				}

				shard.handleCloseLocked(event)
			}

			shard.mu.Unlock()

			return
		}

		payload := &discord.GatewayPayload{}

		if err := sandwichjson.Unmarshal(data, payload); err != nil {
			shard.Logger.Warn().Err(err).Str("payload", gotils_strconv.B2S(data)).Msg("Received broken packet")
			shard.warn(fmt.Sprintf("Received broken packet: %s", err))

			continue
		}

		shard.mu.Lock()

		if generation != shard.connGeneration {
			shard.mu.Unlock()

			return
		}

		shard.onPacketLocked(payload)
		shard.mu.Unlock()
	}
}

func closeEventFromError(err error) CloseEvent {
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		return closeErr.CloseEvent
	}

	return CloseEvent{Code: discord.CloseAbnormal, Reason: err.Error()}
}

// closeTransport closes conn before cancelling its reader so the close
// handshake is not cut short.
func closeTransport(conn Transport, code int, cancel context.CancelFunc) {
	_ = conn.Close(code, "")

	if cancel != nil {
		cancel()
	}
}

func (shard *Shard) onPacketLocked(payload *discord.GatewayPayload) {
	shard.Logger.Trace().
		Str("op", payload.Op.String()).
		Str("type", payload.Type).
		Msg("Received payload")

	switch payload.Type {
	case discord.EventReady:
		var ready discord.Ready

		if err := unmarshalPayload(payload, &ready); err != nil {
			shard.exceptionLocked(err)

			break
		}

		shard.settleLocked(nil)

		shard.session.SessionID = Some(ready.SessionID)
		shard.session.ResumeGatewayURL = ready.ResumeGatewayURL

		shard.expectedGuilds = make(map[discord.Snowflake]struct{}, len(ready.Guilds))
		for _, guild := range ready.Guilds {
			shard.expectedGuilds[guild.ID] = struct{}{}
		}

		shard.setStatusLocked(StatusWaitingForGuilds)
		shard.debugf("[READY] Session %s.", ready.SessionID)

		shard.lastHeartbeatAcked = true
		shard.sendHeartbeatLocked("ReadyHeartbeat", shard.ignoreHeartbeatAckLocked())
	case discord.EventResumed:
		shard.settleLocked(nil)

		var replayed int64
		if payload.Sequence != nil {
			replayed = *payload.Sequence - shard.session.CloseSequence
		}

		shard.setStatusLocked(StatusReady)
		shard.debugf("[RESUMED] Session %s | Replayed %d events.", shard.session.SessionID.OrElse(""), replayed)
		shard.emit(shardEvent{kind: shardEventResumed, replayed: replayed})

		shard.lastHeartbeatAcked = true
		shard.sendHeartbeatLocked("ResumeHeartbeat", false)
	}

	if payload.Sequence != nil {
		shard.session.observe(*payload.Sequence)
	}

	handler, ok := gatewayHandlers[payload.Op]
	if !ok {
		shard.exceptionLocked(fmt.Errorf("%w for op %d", ErrNoGatewayHandler, payload.Op))

		return
	}

	if err := handler(shard, payload); err != nil {
		shard.exceptionLocked(err)
	}
}

// onDispatchLocked forwards a dispatch to the manager and keeps the shard's
// own view of its guilds.
func (shard *Shard) onDispatchLocked(payload *discord.GatewayPayload) error {
	shard.emit(shardEvent{kind: shardEventDispatch, packet: payload})

	switch payload.Type {
	case discord.EventReady:
		shard.checkReadyLocked()
	case discord.EventGuildCreate:
		var guild discord.Guild

		if err := unmarshalPayload(payload, &guild); err != nil {
			return err
		}

		if !guild.Unavailable {
			shard.guilds[guild.ID] = struct{}{}
		}

		if shard.Status() == StatusWaitingForGuilds {
			if _, ok := shard.expectedGuilds[guild.ID]; ok {
				delete(shard.expectedGuilds, guild.ID)
				shard.checkReadyLocked()
			}
		}
	case discord.EventGuildDelete:
		var guild discord.GuildDelete

		if err := unmarshalPayload(payload, &guild); err != nil {
			return err
		}

		delete(shard.guilds, guild.ID)
	case discord.EventGuildMembersChunk:
		var chunk discord.GuildMembersChunk

		if err := unmarshalPayload(payload, &chunk); err != nil {
			return err
		}

		if waiter, ok := shard.chunkWaiters[chunk.Nonce]; ok {
			select {
			case waiter <- chunk:
			default:
				shard.Logger.Warn().Str("nonce", chunk.Nonce).Msg("Dropped member chunk, waiter is full")
			}
		}
	}

	return nil
}

// checkReadyLocked marks the shard ready once every guild from READY has
// arrived, or after the ready timeout with whatever is still missing.
func (shard *Shard) checkReadyLocked() {
	stopTimer(&shard.readyTimer)

	if len(shard.expectedGuilds) == 0 {
		shard.debug("Shard received all its guilds. Marking as fully ready.")
		shard.setStatusLocked(StatusReady)
		shard.emit(shardEvent{kind: shardEventAllReady})

		return
	}

	timeout := shard.env.configuration.ReadyTimeout.Duration()

	shard.afterFunc(timeout, &shard.readyTimer, func() {
		shard.debugf("Shard did not receive any more guild packets in %d seconds.\n    Unavailable guild count: %d",
			int(timeout.Seconds()), len(shard.expectedGuilds))

		unavailable := make([]discord.Snowflake, 0, len(shard.expectedGuilds))
		for guildID := range shard.expectedGuilds {
			unavailable = append(unavailable, guildID)
		}

		sort.Slice(unavailable, func(i, j int) bool { return unavailable[i] < unavailable[j] })

		shard.setStatusLocked(StatusReady)
		shard.emit(shardEvent{kind: shardEventAllReady, unavailable: unavailable})
	})
}

func (shard *Shard) setHelloTimeoutLocked() {
	shard.afterFunc(shard.env.configuration.HelloTimeout.Duration(), &shard.helloTimer, func() {
		shard.debug("Did not receive HELLO in time. Destroying and connecting again.")
		shard.destroyLocked(DestroyOptions{
			CloseCode:    WebsocketZombieCloseCode,
			ResetSession: true,
			Emit:         true,
		})
	})
}

func (shard *Shard) setHeartbeatTimerLocked(interval time.Duration) {
	shard.debugf("Setting a heartbeat interval for %dms.", interval.Milliseconds())

	shard.heartbeatInterval = interval
	shard.armHeartbeatLocked()
}

func (shard *Shard) armHeartbeatLocked() {
	shard.afterFunc(shard.heartbeatInterval, &shard.heartbeatTimer, func() {
		shard.sendHeartbeatLocked("HeartbeatTimer", shard.ignoreHeartbeatAckLocked())

		if shard.connOpen {
			shard.armHeartbeatLocked()
		}
	})
}

// ignoreHeartbeatAckLocked is true while the session is still being set up,
// when a missing acknowledgement is expected.
func (shard *Shard) ignoreHeartbeatAckLocked() bool {
	switch shard.Status() {
	case StatusWaitingForGuilds, StatusIdentifying, StatusResuming:
		return true
	default:
		return false
	}
}

// sendHeartbeatLocked sends a heartbeat, or tears the connection down as a
// zombie when the previous one was never acknowledged.
func (shard *Shard) sendHeartbeatLocked(tag string, ignoreAck bool) {
	if ignoreAck && !shard.lastHeartbeatAcked {
		shard.debugf("[%s] Didn't process heartbeat ack yet but we are still connected. Sending one now.", tag)
	} else if !shard.lastHeartbeatAcked {
		shard.debugf("[%s] Didn't receive a heartbeat ack last time, assuming zombie connection. Destroying and reconnecting.\n    Status          : %s\n    Sequence        : %d",
			tag, shard.Status(), shard.session.Sequence.OrElse(-1))

		shard.destroyLocked(DestroyOptions{CloseCode: WebsocketZombieCloseCode, Emit: true, Log: true})

		return
	}

	shard.debugf("[%s] Sending a heartbeat.", tag)

	shard.lastHeartbeatAcked = false
	shard.lastHeartbeatSent = shard.env.clock.Now()

	if err := shard.sendLocked(discord.SentPayload{
		Op:   discord.GatewayOpHeartbeat,
		Data: shard.session.Sequence.Ptr(),
	}, true); err != nil {
		shard.exceptionLocked(err)
	}
}

func (shard *Shard) ackHeartbeatLocked() {
	shard.lastHeartbeatAcked = true

	latency := shard.env.clock.Since(shard.lastHeartbeatSent)
	shard.latency.Store(latency)

	UpdateGatewayLatency(shard.env.identifier, shard.ShardID, latency)

	shard.debugf("Heartbeat acknowledged, latency of %dms.", latency.Milliseconds())
}

// identifyLocked resumes when a session is present and identifies otherwise.
func (shard *Shard) identifyLocked() {
	if shard.session.SessionID.IsSome() {
		shard.identifyResumeLocked()
	} else {
		shard.identifyNewLocked()
	}
}

func (shard *Shard) identifyNewLocked() {
	configuration := shard.env.configuration

	if configuration.Token == "" {
		shard.debug("[IDENTIFY] No token available to identify a new session.")

		return
	}

	shard.setStatusLocked(StatusIdentifying)

	payload := discord.SentPayload{
		Op: discord.GatewayOpIdentify,
		Data: discord.Identify{
			Token: configuration.Token,
			Properties: discord.IdentifyProperties{
				OS:      runtime.GOOS,
				Browser: "Sandwich " + Version,
				Device:  "Sandwich " + Version,
			},
			Compress:       configuration.Compress,
			LargeThreshold: configuration.LargeThreshold,
			Shard:          [2]int32{shard.ShardID, shard.env.shardCount},
			Presence:       configuration.Presence,
			Intents:        configuration.Intents,
		},
	}

	shard.debugf("[IDENTIFY] Shard %d/%d", shard.ShardID, shard.env.shardCount)

	provider := shard.env.identifyProvider
	if provider == nil {
		if err := shard.sendLocked(payload, true); err != nil {
			shard.exceptionLocked(err)
		}

		return
	}

	if shard.cancelIdentify != nil {
		shard.cancelIdentify()
	}

	ctx, cancel := context.WithCancel(context.Background())
	shard.cancelIdentify = cancel
	generation := shard.connGeneration

	go func() {
		err := provider.Identify(ctx, shard)

		shard.mu.Lock()
		defer shard.mu.Unlock()

		if ctx.Err() != nil || generation != shard.connGeneration {
			return
		}

		cancel()
		shard.cancelIdentify = nil

		if err != nil {
			shard.Logger.Warn().Err(err).Msg("Identify provider failed, identifying anyway")
			shard.warn(fmt.Sprintf("Failed to wait for identify: %s", err))
		}

		if err := shard.sendLocked(payload, true); err != nil {
			shard.exceptionLocked(err)
		}
	}()
}

func (shard *Shard) identifyResumeLocked() {
	sessionID, ok := shard.session.SessionID.Get()
	if !ok {
		shard.debug("[RESUME] No session ID was present; identifying as a new session.")
		shard.identifyNewLocked()

		return
	}

	sequence := shard.session.Sequence.OrElse(shard.session.CloseSequence)

	shard.setStatusLocked(StatusResuming)
	shard.debugf("[RESUME] Session %s, sequence %d", sessionID, sequence)

	if err := shard.sendLocked(discord.SentPayload{
		Op: discord.GatewayOpResume,
		Data: discord.Resume{
			Token:     shard.env.configuration.Token,
			SessionID: sessionID,
			Sequence:  sequence,
		},
	}, true); err != nil {
		shard.exceptionLocked(err)
	}
}

// handleCloseLocked is called once the transport has closed.
func (shard *Shard) handleCloseLocked(event CloseEvent) {
	shard.session.closed()

	shard.debugf("[CLOSE]\n    Event Code: %d\n    Clean     : %t\n    Reason    : %s",
		event.Code, event.WasClean, replaceIfEmpty(event.Reason, "No reason received"))

	stopTimer(&shard.heartbeatTimer)
	stopTimer(&shard.helloTimer)
	stopTimer(&shard.readyTimer)
	shard.stopIdentifyLocked()

	shard.connGeneration++
	shard.connOpen = false
	shard.dialing = false

	if shard.connCancel != nil {
		shard.connCancel()
		shard.connCancel = nil
	}

	shard.setStatusLocked(StatusDisconnected)
	shard.emit(shardEvent{kind: shardEventClose, close: event})
	shard.settleLocked(&CloseError{CloseEvent: event})
}

func (shard *Shard) destroyLocked(opts DestroyOptions) {
	code := opts.CloseCode
	if code == 0 {
		code = discord.CloseNormal
	}

	if opts.Log {
		shard.debugf("[DESTROY]\n    Close Code    : %d\n    Reset         : %t\n    Emit DESTROYED: %t",
			code, opts.ResetSession, opts.Emit)
	}

	stopTimer(&shard.heartbeatTimer)
	stopTimer(&shard.helloTimer)
	stopTimer(&shard.readyTimer)
	shard.stopIdentifyLocked()

	conn, open := shard.conn, shard.connOpen
	cancel := shard.connCancel

	shard.conn = nil
	shard.connOpen = false
	shard.connCancel = nil
	shard.dialing = false
	shard.connGeneration++

	if conn != nil {
		go closeTransport(conn, code, cancel)
	} else if cancel != nil {
		cancel()
	}

	shard.session.closed()

	if opts.ResetSession {
		shard.session.reset()
	}

	shard.sendQueue.reset()
	shard.setStatusLocked(StatusDisconnected)

	if open && opts.Emit {
		shard.handleCloseLocked(CloseEvent{Code: code, Reason: "destroyed", WasClean: true})

		return
	}

	if opts.Emit {
		shard.emit(shardEvent{kind: shardEventDestroyed})
	}

	shard.settleLocked(ErrShardDestroyed)
}

func (shard *Shard) stopIdentifyLocked() {
	if shard.cancelIdentify != nil {
		shard.cancelIdentify()
		shard.cancelIdentify = nil
	}
}

func (shard *Shard) settleLocked(err error) {
	if shard.attempt != nil {
		shard.attempt.settle(err)
		shard.attempt = nil
	}
}

// sendLocked marshals the payload up front so a bad payload fails the caller
// rather than the queue.
func (shard *Shard) sendLocked(payload discord.SentPayload, important bool) error {
	data, err := sandwichjson.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", payload.Op, err)
	}

	shard.sendQueue.push(queuedPayload{op: payload.Op, data: data}, important)
	shard.processQueueLocked()

	return nil
}

// processQueueLocked writes as much of the queue as the budget allows. The
// window starts on the first write made with a full budget.
func (shard *Shard) processQueueLocked() {
	queue := shard.sendQueue

	if !shard.connOpen || len(queue.items) == 0 {
		return
	}

	if queue.remaining == 0 {
		shard.rateLimitedLocked()

		return
	}

	if queue.remaining == queue.total {
		shard.afterFunc(queue.window, &queue.timer, func() {
			queue.refill()
			shard.processQueueLocked()
		})
	}

	for queue.remaining > 0 {
		item, ok := queue.pop()
		if !ok {
			return
		}

		shard.writeLocked(item)
		queue.remaining--
	}

	if len(queue.items) > 0 {
		shard.rateLimitedLocked()
	}
}

func (shard *Shard) rateLimitedLocked() {
	queue := shard.sendQueue
	if queue.notified {
		return
	}

	queue.notified = true

	RecordRateLimitedSend(shard.env.identifier, shard.ShardID)

	shard.emit(shardEvent{kind: shardEventRateLimit, rateLimit: RateLimitInfo{
		ShardID: shard.ShardID,
		Limit:   queue.total,
		Window:  queue.window,
		Timeout: queue.window,
		Queued:  len(queue.items),
	}})
}

func (shard *Shard) writeLocked(item queuedPayload) {
	if item.op != discord.GatewayOpIdentify && item.op != discord.GatewayOpResume {
		shard.Logger.Trace().Str("payload", gotils_strconv.B2S(item.data)).Msg("Sending payload")
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultWriteTimeout)
	defer cancel()

	if err := shard.conn.Write(ctx, item.data); err != nil {
		shard.exceptionLocked(fmt.Errorf("failed to write %s payload: %w", item.op, err))
	}
}

func (shard *Shard) setStatusLocked(status Status) {
	if Status(shard.status.Swap(int32(status))) == status {
		return
	}

	shard.Logger.Debug().Str("status", status.String()).Msg("Shard status updated")
	UpdateShardStatus(shard.env.identifier, shard.ShardID, status)
}

// afterFunc arms fn on slot, replacing whatever was armed there. fn runs with
// mu held and only if slot still holds its timer.
func (shard *Shard) afterFunc(d time.Duration, slot **clock.Timer, fn func()) {
	stopTimer(slot)

	var timer *clock.Timer

	timer = shard.env.clock.AfterFunc(d, func() {
		shard.mu.Lock()
		defer shard.mu.Unlock()

		if *slot != timer {
			return
		}

		*slot = nil

		fn()
	})

	*slot = timer
}

func stopTimer(slot **clock.Timer) {
	if *slot != nil {
		(*slot).Stop()
		*slot = nil
	}
}

func (shard *Shard) emit(event shardEvent) {
	event.shard = shard
	shard.env.events.Push(event)
}

func (shard *Shard) debug(message string) {
	shard.Logger.Debug().Msg(message)
	shard.emit(shardEvent{kind: shardEventDebug, message: message})
}

func (shard *Shard) warn(message string) {
	shard.emit(shardEvent{kind: shardEventWarn, message: message})
}

func (shard *Shard) debugf(format string, args ...any) {
	shard.debug(fmt.Sprintf(format, args...))
}

func (shard *Shard) exceptionLocked(err error) {
	shard.Logger.Error().Err(err).Msg("Shard encountered an error")
	shard.emit(shardEvent{kind: shardEventException, err: err})
}
