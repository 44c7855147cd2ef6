package sandwich

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var ErrManagerAlreadyConnected = errors.New("manager has already been connected")

type pendingPacket struct {
	packet *discord.GatewayPayload
	shard  *Shard
}

// Manager owns every shard of one bot token. Notifications to the EventSink
// are made from a single goroutine that consumes the manager's mailbox, so
// the sink sees events in the order shards produced them.
type Manager struct {
	Logger zerolog.Logger

	Identifier string

	configuration    ManagerConfiguration
	sink             EventSink
	dialer           Dialer
	gatewayInfo      GatewayInfoProvider
	identifyProvider IdentifyProvider
	clock            clock.Clock
	limiter          *SessionLimiter

	events *mailbox[shardEvent]

	ctx    context.Context
	cancel context.CancelFunc

	loopOnce sync.Once
	loopDone chan struct{}

	// spawnMu serializes spawn loops so shards are always spawned one at a
	// time, whatever started them.
	spawnMu sync.Mutex

	status       *atomic.Int32
	destroyed    *atomic.Bool
	reconnecting *atomic.Bool
	readyAt      *atomic.Time

	mu          sync.Mutex
	env         *gatewayEnvironment
	gateway     *discord.GatewayBotResponse
	shards      map[int32]*Shard
	queue       map[int32]*Shard
	totalShards int
	pending     []pendingPacket
}

// NewManager creates a manager. Nothing is connected until Connect.
func NewManager(logger zerolog.Logger, configuration ManagerConfiguration, sink EventSink, dialer Dialer, gatewayInfo GatewayInfoProvider) *Manager {
	configuration.fillDefaults()

	if sink == nil {
		sink = NoopEventSink{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		Logger: logger.With().Str("manager", configuration.Identifier).Logger(),

		Identifier: configuration.Identifier,

		configuration: configuration,
		sink:          sink,
		dialer:        dialer,
		gatewayInfo:   gatewayInfo,

		events: newMailbox[shardEvent](),

		ctx:    ctx,
		cancel: cancel,

		loopDone: make(chan struct{}),

		status:       atomic.NewInt32(int32(StatusIdle)),
		destroyed:    atomic.NewBool(false),
		reconnecting: atomic.NewBool(false),
		readyAt:      atomic.NewTime(time.Time{}),

		shards: make(map[int32]*Shard),
		queue:  make(map[int32]*Shard),
	}

	m.WithClock(clock.New())

	return m
}

// WithClock replaces the clock used for every timer of the manager and its
// shards. It must be called before Connect.
func (m *Manager) WithClock(clk clock.Clock) *Manager {
	m.clock = clk
	m.limiter = NewSessionLimiter(m.gatewayInfo, clk, m.debug)

	return m
}

// WithIdentifyProvider paces identifies through an external provider.
func (m *Manager) WithIdentifyProvider(provider IdentifyProvider) *Manager {
	m.identifyProvider = provider

	return m
}

// Configuration returns the configuration of the manager with defaults
// applied.
func (m *Manager) Configuration() ManagerConfiguration {
	return m.configuration
}

// Connect fetches gateway information, creates every shard and spawns them
// one at a time. It returns once every shard has connected, or with the first
// error that stops the manager. A manager that failed for good is destroyed.
func (m *Manager) Connect(ctx context.Context) error {
	if m.destroyed.Load() {
		return ErrManagerDestroyed
	}

	m.mu.Lock()
	if m.env != nil {
		m.mu.Unlock()

		return ErrManagerAlreadyConnected
	}
	m.mu.Unlock()

	m.start()
	m.setStatus(StatusConnecting)

	gateway, err := m.gatewayInfo.FetchGatewayInfo(ctx)
	if err != nil {
		if isAuthenticationFailure(err) {
			m.events.Push(shardEvent{kind: managerEventInvalidated})
			m.Destroy()

			return fmt.Errorf("failed to fetch gateway: %w", ErrInvalidToken)
		}

		return fmt.Errorf("failed to fetch gateway: %w", err)
	}

	limit := gateway.SessionStartLimit

	m.debugf("Fetched Gateway Information\n    URL: %s\n    Recommended Shards: %d", gateway.URL, gateway.Shards)
	m.debugf("Session Limit Information\n    Total: %d\n    Remaining: %d", limit.Total, limit.Remaining)

	shardIDs, shardCount := m.shardIDs(gateway.Shards)
	if len(shardIDs) == 0 {
		return ErrInvalidShardRange
	}

	env := &gatewayEnvironment{
		identifier:       m.Identifier,
		configuration:    m.configuration,
		shardCount:       shardCount,
		gatewayURL:       replaceIfEmpty(m.configuration.GatewayURL, gateway.URL),
		dialer:           m.dialer,
		clock:            m.clock,
		identifyProvider: m.identifyProvider,
		limiter:          m.limiter,
		events:           m.events,
	}

	m.mu.Lock()
	m.env = env
	m.gateway = gateway
	m.totalShards = len(shardIDs)

	for _, shardID := range shardIDs {
		m.queue[shardID] = newShard(env, m.Logger, shardID)
	}
	m.mu.Unlock()

	m.debugf("Spawning shards: %v", shardIDs)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	if err := m.limiter.AwaitLimit(ctx, limit); err != nil {
		return m.connectFailed(err)
	}

	if _, err := m.spawnShards(ctx); err != nil {
		return m.connectFailed(err)
	}

	return nil
}

func (m *Manager) connectFailed(err error) error {
	if m.destroyed.Load() {
		return ErrManagerDestroyed
	}

	if errors.Is(err, ErrShardUnrecoverable) || isAuthenticationFailure(err) {
		if isAuthenticationFailure(err) {
			m.events.Push(shardEvent{kind: managerEventInvalidated})
		}

		m.Destroy()
	}

	return err
}

// shardIDs returns the shards this manager runs and the shard count sent in
// identify.
func (m *Manager) shardIDs(recommended int32) ([]int32, int32) {
	configuration := m.configuration

	shardCount := configuration.ShardCount
	if configuration.AutoSharded || shardCount <= 0 {
		shardCount = recommended

		m.debugf("Using the recommended shard count provided by Discord: %d", recommended)
	}

	if shardCount <= 0 {
		shardCount = 1
	}

	if configuration.ShardIDs == "" {
		shardIDs := make([]int32, 0, shardCount)
		for shardID := int32(0); shardID < shardCount; shardID++ {
			shardIDs = append(shardIDs, shardID)
		}

		return shardIDs, shardCount
	}

	return returnRangeInt32(configuration.ShardIDs, shardCount), shardCount
}

// HandlePacket dispatches a packet to the sink. Until the manager is ready
// only session setup events pass; everything else is held in a FIFO that is
// released one packet per call once the manager is ready. A nil packet only
// releases. It returns false when the packet was held.
func (m *Manager) HandlePacket(packet *discord.GatewayPayload, shard *Shard) bool {
	m.mu.Lock()

	ready := m.Status() == StatusReady

	if packet != nil && !ready && !isPreReadyEvent(packet.Type) {
		m.pending = append(m.pending, pendingPacket{packet: packet, shard: shard})
		m.mu.Unlock()

		RecordDeferredEvent(m.Identifier)

		return false
	}

	if ready && len(m.pending) > 0 {
		next := m.pending[0]
		m.pending[0] = pendingPacket{}
		m.pending = m.pending[1:]

		m.events.Push(shardEvent{kind: managerEventRedeliver, packet: next.packet, shard: next.shard})
	}

	m.mu.Unlock()

	if packet != nil {
		m.dispatch(packet, shard)
	}

	return true
}

// PendingPackets returns how many packets are held until the manager is ready.
func (m *Manager) PendingPackets() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.pending)
}

func (m *Manager) dispatch(packet *discord.GatewayPayload, shard *Shard) {
	var shardID, shardCount int32
	if shard != nil {
		shardID, shardCount = shard.ShardID, shard.ShardCount()
	}

	data, err := decodeDispatch(packet)
	if err != nil {
		m.sink.ShardException(fmt.Errorf("failed to decode %s: %w", packet.Type, err), shardID)

		data = discord.RawEvent(packet.Data)
	}

	var sequence int64
	if packet.Sequence != nil {
		sequence = *packet.Sequence
	}

	RecordEvent(m.Identifier, packet.Type)

	m.sink.Dispatch(DispatchEvent{
		Identifier: m.Identifier,
		ShardID:    shardID,
		ShardCount: shardCount,
		Type:       packet.Type,
		Sequence:   sequence,
		Data:       data,
		Raw:        packet.Data,
	})
}

// CheckShardsReady marks the manager ready once every shard is ready. When
// FetchAllMembers is set every guild is chunked first.
func (m *Manager) CheckShardsReady() {
	m.mu.Lock()

	status := m.Status()
	if status == StatusReady || status == StatusNearly || m.destroyed.Load() {
		m.mu.Unlock()

		return
	}

	if len(m.shards) != m.totalShards {
		m.mu.Unlock()

		return
	}

	shards := make([]*Shard, 0, len(m.shards))

	for _, shard := range m.shards {
		if shard.Status() != StatusReady {
			m.mu.Unlock()

			return
		}

		shards = append(shards, shard)
	}

	m.setStatus(StatusNearly)
	m.mu.Unlock()

	if !m.configuration.FetchAllMembers {
		m.events.Push(shardEvent{kind: managerEventClientReady})

		return
	}

	go func() {
		if err := m.fetchAllMembers(shards); err != nil {
			m.debugf("Failed to fetch all members: %s", err)
		}

		m.events.Push(shardEvent{kind: managerEventClientReady})
	}()
}

func (m *Manager) fetchAllMembers(shards []*Shard) error {
	eg, ctx := errgroup.WithContext(m.ctx)

	for _, shard := range shards {
		eg.Go(func() error {
			return shard.ChunkAllGuilds(ctx)
		})
	}

	return eg.Wait()
}

func (m *Manager) triggerClientReady() {
	if m.destroyed.Load() {
		return
	}

	m.setStatus(StatusReady)
	m.readyAt.Store(m.clock.Now())

	m.sink.Ready()

	m.HandlePacket(nil, nil)
}

// Broadcast sends a payload on every shard.
func (m *Manager) Broadcast(payload discord.SentPayload) (err error) {
	if m.destroyed.Load() {
		return ErrManagerDestroyed
	}

	for _, shard := range m.Shards() {
		if sendErr := shard.Send(payload, false); sendErr != nil {
			err = multierr.Append(err, fmt.Errorf("shard %d: %w", shard.ShardID, sendErr))
		}
	}

	return err
}

// UpdatePresence sets the presence of every shard.
func (m *Manager) UpdatePresence(presence discord.UpdateStatus) error {
	return m.Broadcast(discord.SentPayload{
		Op:   discord.GatewayOpPresenceUpdate,
		Data: presence,
	})
}

// Destroy closes every shard and stops all reconnecting. It is safe to call
// more than once.
func (m *Manager) Destroy() {
	if !m.destroyed.CompareAndSwap(false, true) {
		return
	}

	m.debug("Manager was destroyed. Called by: Destroy")

	m.mu.Lock()
	m.queue = make(map[int32]*Shard)

	shards := make([]*Shard, 0, len(m.shards))
	for _, shard := range m.shards {
		shards = append(shards, shard)
	}
	m.mu.Unlock()

	for _, shard := range shards {
		shard.Destroy(DestroyOptions{CloseCode: discord.CloseNormal, ResetSession: true})
	}

	m.setStatus(StatusDisconnected)

	// The loop drains what is left and closes Done.
	m.start()
	m.cancel()
}

// Destroyed reports whether Destroy has been called.
func (m *Manager) Destroyed() bool {
	return m.destroyed.Load()
}

// Done is closed once the event loop has delivered everything after Destroy.
func (m *Manager) Done() <-chan struct{} {
	return m.loopDone
}

// Status returns the aggregate status of the manager.
func (m *Manager) Status() Status {
	return Status(m.status.Load())
}

// ReadyAt is when the manager first became ready.
func (m *Manager) ReadyAt() time.Time {
	return m.readyAt.Load()
}

// Gateway returns the gateway information fetched on connect.
func (m *Manager) Gateway() *discord.GatewayBotResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.gateway
}

// Shards returns every spawned shard ordered by id.
func (m *Manager) Shards() []*Shard {
	m.mu.Lock()
	shards := make([]*Shard, 0, len(m.shards))

	for _, shard := range m.shards {
		shards = append(shards, shard)
	}
	m.mu.Unlock()

	sort.Slice(shards, func(i, j int) bool { return shards[i].ShardID < shards[j].ShardID })

	return shards
}

// Shard returns a spawned shard.
func (m *Manager) Shard(shardID int32) (*Shard, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	shard, ok := m.shards[shardID]

	return shard, ok
}

// ShardStatuses returns the status of every spawned shard.
func (m *Manager) ShardStatuses() map[int32]Status {
	statuses := make(map[int32]Status)

	for _, shard := range m.Shards() {
		statuses[shard.ShardID] = shard.Status()
	}

	return statuses
}

// Ping is the average heartbeat latency across shards.
func (m *Manager) Ping() time.Duration {
	shards := m.Shards()
	if len(shards) == 0 {
		return 0
	}

	var total time.Duration
	for _, shard := range shards {
		total += shard.Latency()
	}

	return total / time.Duration(len(shards))
}

func (m *Manager) start() {
	m.loopOnce.Do(func() {
		go m.run()
	})
}

func (m *Manager) run() {
	defer close(m.loopDone)

	for {
		select {
		case <-m.events.C():
			m.processEvents()
		case <-m.ctx.Done():
			m.processEvents()

			return
		}
	}
}

func (m *Manager) processEvents() {
	for {
		event, ok := m.events.Pop()
		if !ok {
			return
		}

		m.handleEvent(event)
	}
}

func (m *Manager) handleEvent(event shardEvent) {
	shard := event.shard

	switch event.kind {
	case shardEventDebug:
		m.sink.Debug(fmt.Sprintf("[WS => Shard %d] %s", shard.ShardID, event.message))
	case managerEventDebug:
		m.sink.Debug("[WS => Manager] " + event.message)
	case shardEventWarn:
		m.sink.Warn(fmt.Sprintf("[WS => Shard %d] %s", shard.ShardID, event.message))
	case shardEventException:
		m.sink.ShardException(event.err, shard.ShardID)
	case shardEventRateLimit:
		m.sink.RateLimit(event.rateLimit)
	case shardEventDispatch, managerEventRedeliver:
		m.HandlePacket(event.packet, shard)
	case shardEventAllReady:
		m.onShardAllReady(shard, event.unavailable)
	case shardEventResumed:
		m.sink.ShardResumed(shard.ShardID, event.replayed)
		m.CheckShardsReady()
	case shardEventClose:
		m.onShardClose(shard, event.close)
	case shardEventInvalidSession:
		m.onShardInvalidSession(shard)
	case shardEventDestroyed:
		m.onShardDestroyed(shard)
	case managerEventClientReady:
		m.triggerClientReady()
	case managerEventInvalidated:
		m.sink.Invalidated()
	}
}

func (m *Manager) onShardAllReady(shard *Shard, unavailable []discord.Snowflake) {
	m.sink.ShardReady(shard.ShardID, unavailable)

	if m.queueLen() == 0 {
		m.reconnecting.Store(false)
	}

	m.CheckShardsReady()
}

func (m *Manager) onShardClose(shard *Shard, event CloseEvent) {
	var terminal bool
	if event.Code == discord.CloseNormal {
		terminal = m.destroyed.Load()
	} else {
		terminal = !IsCloseCodeRecoverable(event.Code)
	}

	if terminal || m.destroyed.Load() {
		m.sink.ShardDisconnect(event, shard.ShardID)
		m.sink.Debug(fmt.Sprintf("[WS => Shard %d] %s", shard.ShardID, CloseCodeDescription(event.Code)))

		return
	}

	if !IsCloseCodeResumable(event.Code) {
		shard.ResetSession()
	}

	m.sink.ShardReconnecting(shard.ShardID)
	RecordReconnect(m.Identifier, shard.ShardID)

	if shard.HasSession() {
		m.sink.Debug(fmt.Sprintf("[WS => Shard %d] Session ID is present, attempting an immediate reconnect...", shard.ShardID))
		m.enqueue(shard)

		go m.reconnectInBackground(true)

		return
	}

	shard.Destroy(DestroyOptions{ResetSession: true})
	m.enqueue(shard)

	go m.reconnectInBackground(false)
}

func (m *Manager) onShardInvalidSession(shard *Shard) {
	m.sink.ShardReconnecting(shard.ShardID)
	RecordReconnect(m.Identifier, shard.ShardID)

	m.enqueue(shard)

	go m.reconnectInBackground(false)
}

func (m *Manager) onShardDestroyed(shard *Shard) {
	m.sink.Debug(fmt.Sprintf("[WS => Shard %d] Shard was destroyed but no WebSocket connection was present! Reconnecting...", shard.ShardID))
	m.sink.ShardReconnecting(shard.ShardID)
	RecordReconnect(m.Identifier, shard.ShardID)

	m.enqueue(shard)

	go m.reconnectInBackground(false)
}

func (m *Manager) setStatus(status Status) {
	if Status(m.status.Swap(int32(status))) == status {
		return
	}

	m.Logger.Debug().Str("status", status.String()).Msg("Manager status updated")
	UpdateManagerStatus(m.Identifier, status)
}

func (m *Manager) debug(message string) {
	m.Logger.Debug().Msg(message)
	m.events.Push(shardEvent{kind: managerEventDebug, message: message})
}

func (m *Manager) debugf(format string, args ...any) {
	m.debug(fmt.Sprintf(format, args...))
}
