package sandwich

import "fmt"

// Status is the connection state of a shard. A manager reports the same
// vocabulary for the aggregate of its shards.
type Status int32

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusNearly
	StatusReconnecting
	StatusWaitingForGuilds
	StatusIdentifying
	StatusResuming
	StatusReady
	StatusDisconnected
)

func (status Status) String() string {
	if status < 0 || int(status) >= len(statusNames) {
		return "Unknown"
	}

	return statusNames[status]
}

var statusNames = [...]string{
	"Idle",
	"Connecting",
	"Nearly",
	"Reconnecting",
	"WaitingForGuilds",
	"Identifying",
	"Resuming",
	"Ready",
	"Disconnected",
}

func (status Status) MarshalText() ([]byte, error) {
	return []byte(status.String()), nil
}

func (status *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*status = Status(i)

			return nil
		}
	}

	return fmt.Errorf("unknown status %q", string(b))
}
