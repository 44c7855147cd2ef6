package mqclients

import (
	"encoding/json"

	sandwich "github.com/WelcomerTeam/Sandwich-Gateway"
	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
)

// Event types of payloads produced by sandwich itself rather than discord.
const (
	SandwichShardStatusUpdate       = "SW_SHARD_STATUS_UPDATE"
	SandwichApplicationStatusUpdate = "SW_APPLICATION_STATUS_UPDATE"
)

type SandwichMetadata struct {
	Version    string `json:"v"`
	Identifier string `json:"i"`
	// Shard ID, Shard Count
	Shard [2]int32 `json:"s"`
}

// SandwichPayload represents the data that is sent to consumers.
type SandwichPayload struct {
	Op       discord.GatewayOp `json:"op"`
	Data     json.RawMessage   `json:"d"`
	Sequence int64             `json:"s"`
	Type     string            `json:"t"`

	Metadata SandwichMetadata `json:"__sandwich"`
}

type ShardStatusUpdateEvent struct {
	Identifier string          `json:"identifier"`
	ShardID    int32           `json:"shard_id"`
	Status     sandwich.Status `json:"status"`

	Close             *sandwich.CloseEvent `json:"close,omitempty"`
	UnavailableGuilds []discord.Snowflake  `json:"unavailable_guilds,omitempty"`
	Replayed          int64                `json:"replayed,omitempty"`
}

type ApplicationStatusUpdateEvent struct {
	Identifier string          `json:"identifier"`
	Status     sandwich.Status `json:"status"`
}
