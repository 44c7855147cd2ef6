package discord

// PresenceStatus represents a presence's status.
type PresenceStatus string

// Presence statuses.
const (
	PresenceStatusIdle    PresenceStatus = "idle"
	PresenceStatusDND     PresenceStatus = "dnd"
	PresenceStatusOnline  PresenceStatus = "online"
	PresenceStatusOffline PresenceStatus = "offline"
)

// ActivityType represents an activity's type.
type ActivityType int

// Activity types.
const (
	ActivityTypeGame ActivityType = iota
	ActivityTypeStreaming
	ActivityTypeListening
	ActivityTypeWatching
	ActivityTypeCustom
	ActivityTypeCompeting
)

// Activity represents an activity as sent in a presence update.
type Activity struct {
	Name  string       `json:"name" yaml:"name" toml:"name"`
	Type  ActivityType `json:"type" yaml:"type" toml:"type"`
	State string       `json:"state,omitempty" yaml:"state" toml:"state"`
	URL   string       `json:"url,omitempty" yaml:"url" toml:"url"`
}

// UpdateStatus updates a client's presence. It is sent with op 3 and as the
// initial presence of an identify.
type UpdateStatus struct {
	Since      *int64         `json:"since" yaml:"since" toml:"since"`
	Activities ActivityList   `json:"activities" yaml:"activities" toml:"activities"`
	Status     PresenceStatus `json:"status" yaml:"status" toml:"status"`
	AFK        bool           `json:"afk" yaml:"afk" toml:"afk"`
}
