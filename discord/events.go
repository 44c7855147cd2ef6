package discord

import "encoding/json"

// events.go contains the structures of all received events from discord

// Hello represents a hello event when connecting.
type Hello struct {
	HeartbeatInterval int32 `json:"heartbeat_interval"`
}

// Ready represents when the client has completed the initial handshake.
type Ready struct {
	Version          int32                `json:"v"`
	User             User                 `json:"user"`
	Guilds           UnavailableGuildList `json:"guilds"`
	SessionID        string               `json:"session_id"`
	ResumeGatewayURL string               `json:"resume_gateway_url,omitempty"`
	Shard            []int32              `json:"shard,omitempty"`
}

// Resumed represents the response to a resume event.
type Resumed struct{}

// InvalidSession is the payload of op 9, whether the session may be resumed.
type InvalidSession bool

// UnavailableGuild represents an unavailable guild.
type UnavailableGuild struct {
	ID          Snowflake `json:"id"`
	Unavailable bool      `json:"unavailable"`
}

// GuildDelete represents a guild delete event.
type GuildDelete UnavailableGuild

// Guild carries the fields of GUILD_CREATE the gateway needs; the rest of the
// payload is kept in Raw by consumers that want it.
type Guild struct {
	ID          Snowflake       `json:"id"`
	Name        string          `json:"name"`
	Unavailable bool            `json:"unavailable"`
	MemberCount int32           `json:"member_count"`
	Large       bool            `json:"large"`
	Members     GuildMemberList `json:"members,omitempty"`
}

// User represents a discord user.
type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator,omitempty"`
	GlobalName    string    `json:"global_name,omitempty"`
	Bot           bool      `json:"bot,omitempty"`
}

// GuildMember represents a member of a guild.
type GuildMember struct {
	GuildID  Snowflake     `json:"guild_id,omitempty"`
	User     *User         `json:"user,omitempty"`
	Nick     string        `json:"nick,omitempty"`
	Roles    SnowflakeList `json:"roles"`
	JoinedAt string        `json:"joined_at"`
}

// GuildMemberAdd represents a guild member add event.
type GuildMemberAdd GuildMember

// GuildMemberRemove represents a guild member remove event.
type GuildMemberRemove struct {
	GuildID Snowflake `json:"guild_id"`
	User    User      `json:"user"`
}

// GuildMembersChunk represents a guild members chunk event.
type GuildMembersChunk struct {
	GuildID    Snowflake       `json:"guild_id"`
	Members    GuildMemberList `json:"members"`
	ChunkIndex int32           `json:"chunk_index"`
	ChunkCount int32           `json:"chunk_count"`
	NotFound   SnowflakeList   `json:"not_found,omitempty"`
	Nonce      string          `json:"nonce,omitempty"`
}

// MessageCreate represents a message create event.
type MessageCreate struct {
	ID        Snowflake `json:"id"`
	ChannelID Snowflake `json:"channel_id"`
	GuildID   Snowflake `json:"guild_id,omitempty"`
	Author    User      `json:"author"`
	Content   string    `json:"content"`
}

// RawEvent is any dispatch without a dedicated structure.
type RawEvent json.RawMessage

func (r RawEvent) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}

	return r, nil
}
