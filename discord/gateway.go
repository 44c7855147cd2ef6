package discord

import (
	"encoding/json"
	"strconv"
)

// gateway.go contains all structures for interacting with discord's gateway and contains
// all events and structures we send to discord.

// GatewayOp represents the operation codes of a gateway message.
type GatewayOp uint8

const (
	GatewayOpDispatch GatewayOp = iota
	GatewayOpHeartbeat
	GatewayOpIdentify
	GatewayOpPresenceUpdate
	GatewayOpVoiceStateUpdate
	_
	GatewayOpResume
	GatewayOpReconnect
	GatewayOpRequestGuildMembers
	GatewayOpInvalidSession
	GatewayOpHello
	GatewayOpHeartbeatACK
)

var gatewayOpNames = [...]string{
	"DISPATCH",
	"HEARTBEAT",
	"IDENTIFY",
	"PRESENCE_UPDATE",
	"VOICE_STATE_UPDATE",
	"",
	"RESUME",
	"RECONNECT",
	"REQUEST_GUILD_MEMBERS",
	"INVALID_SESSION",
	"HELLO",
	"HEARTBEAT_ACK",
}

func (op GatewayOp) String() string {
	if int(op) < len(gatewayOpNames) && gatewayOpNames[op] != "" {
		return gatewayOpNames[op]
	}

	return "UNKNOWN(" + strconv.Itoa(int(op)) + ")"
}

// GatewayIntent represents a bitflag for intents.
type GatewayIntent uint32

const (
	IntentGuilds GatewayIntent = 1 << iota
	IntentGuildMembers
	IntentGuildBans
	IntentGuildEmojis
	IntentGuildIntegrations
	IntentGuildWebhooks
	IntentGuildInvites
	IntentGuildVoiceStates
	IntentGuildPresences
	IntentGuildMessages
	IntentGuildMessageReactions
	IntentGuildMessageTyping
	IntentDirectMessages
	IntentDirectMessageReactions
	IntentDirectMessageTyping
	IntentMessageContent
)

// Gateway close codes.
const (
	CloseNormal = 1000
	// CloseAbnormal is never sent on the wire; it is reported when the
	// connection dropped without a close frame.
	CloseAbnormal = 1006
)

const (
	CloseUnknownError = 4000 + iota
	CloseUnknownOpCode
	CloseDecodeError
	CloseNotAuthenticated
	CloseAuthenticationFailed
	CloseAlreadyAuthenticated
	CloseSessionNoLongerValid
	CloseInvalidSeq
	CloseRateLimited
	CloseSessionTimeout
	CloseInvalidShard
	CloseShardingRequired
	CloseInvalidAPIVersion
	CloseInvalidIntents
	CloseDisallowedIntents
)

// Dispatch event types the gateway subsystem itself inspects.
const (
	EventReady             = "READY"
	EventResumed           = "RESUMED"
	EventGuildCreate       = "GUILD_CREATE"
	EventGuildDelete       = "GUILD_DELETE"
	EventGuildMembersChunk = "GUILD_MEMBERS_CHUNK"
	EventGuildMemberAdd    = "GUILD_MEMBER_ADD"
	EventGuildMemberRemove = "GUILD_MEMBER_REMOVE"
	EventMessageCreate     = "MESSAGE_CREATE"
	EventPresenceUpdate    = "PRESENCE_UPDATE"
)

// GatewayPayload represents the base payload received from discord gateway.
type GatewayPayload struct {
	Op       GatewayOp       `json:"op"`
	Data     json.RawMessage `json:"d"`
	Sequence *int64          `json:"s"`
	Type     string          `json:"t"`
}

// SentPayload represents the base payload we send to discords gateway.
type SentPayload struct {
	Op   GatewayOp `json:"op"`
	Data any       `json:"d"`
}

// Gateway Commands

// Identify represents the initial handshake with the gateway.
type Identify struct {
	Token          string             `json:"token"`
	Properties     IdentifyProperties `json:"properties"`
	Compress       bool               `json:"compress"`
	LargeThreshold int32              `json:"large_threshold,omitempty"`
	Shard          [2]int32           `json:"shard"`
	Presence       *UpdateStatus      `json:"presence,omitempty"`
	Intents        int32              `json:"intents"`
}

// IdentifyProperties are the extra properties sent in the identify packet.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Resume resumes a dropped gateway connection.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

// RequestGuildMembers requests members for a guild.
type RequestGuildMembers struct {
	GuildID   Snowflake     `json:"guild_id"`
	Query     string        `json:"query"`
	Limit     int32         `json:"limit"`
	Presences bool          `json:"presences,omitempty"`
	Nonce     string        `json:"nonce,omitempty"`
	UserIDs   SnowflakeList `json:"user_ids,omitempty"`
}

// GatewayBotResponse is the response of GET /gateway/bot.
type GatewayBotResponse struct {
	URL               string            `json:"url"`
	Shards            int32             `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// SessionStartLimit is the identify budget of a token. ResetAfter is in
// milliseconds.
type SessionStartLimit struct {
	Total          int32 `json:"total"`
	Remaining      int32 `json:"remaining"`
	ResetAfter     int64 `json:"reset_after"`
	MaxConcurrency int32 `json:"max_concurrency"`
}
