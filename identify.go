package sandwich

import (
	"context"
	"time"
)

var (
	StandardIdentifyLimit = 5 * time.Second
	IdentifyRateLimit     = StandardIdentifyLimit + (time.Millisecond * 500)
)

// IdentifyProvider is consulted before a shard sends IDENTIFY. It blocks
// until the shard may identify.
type IdentifyProvider interface {
	Identify(ctx context.Context, shard *Shard) error
}

// NewIdentifyProvider picks the provider described by configuration. A nil
// provider means identifies are only paced by the spawn loop.
func NewIdentifyProvider(configuration IdentifyConfiguration) IdentifyProvider {
	switch {
	case configuration.URL != "":
		return NewIdentifyViaURL(configuration.URL, configuration.Headers)
	case configuration.UseBuckets:
		return NewIdentifyViaBuckets()
	default:
		return nil
	}
}
