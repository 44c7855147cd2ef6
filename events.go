package sandwich

import "github.com/WelcomerTeam/Sandwich-Gateway/discord"

type shardEventKind uint8

const (
	shardEventDispatch shardEventKind = iota
	shardEventAllReady
	shardEventResumed
	shardEventClose
	shardEventInvalidSession
	shardEventDestroyed
	shardEventDebug
	shardEventWarn
	shardEventException
	shardEventRateLimit

	// Posted by the manager to itself.
	managerEventRedeliver
	managerEventClientReady
	managerEventInvalidated
	managerEventDebug
)

// shardEvent is the single message type of a manager's mailbox. Only the
// fields relevant to kind are set.
type shardEvent struct {
	kind  shardEventKind
	shard *Shard

	packet      *discord.GatewayPayload
	close       CloseEvent
	unavailable []discord.Snowflake
	replayed    int64
	message     string
	err         error
	rateLimit   RateLimitInfo
}

// preReadyEvents may be dispatched before every shard of the manager is
// ready. Everything else waits.
var preReadyEvents = map[string]struct{}{
	discord.EventReady:             {},
	discord.EventResumed:           {},
	discord.EventGuildCreate:       {},
	discord.EventGuildDelete:       {},
	discord.EventGuildMembersChunk: {},
	discord.EventGuildMemberAdd:    {},
	discord.EventGuildMemberRemove: {},
}

func isPreReadyEvent(eventType string) bool {
	_, ok := preReadyEvents[eventType]

	return ok
}
