package sandwich

import (
	"context"
	"fmt"

	"github.com/WelcomerTeam/RealRock/bucketstore"
)

// IdentifyViaBuckets rate limits identifies in process. Every rate limit key
// (shard id modulo max_concurrency) gets its own bucket allowing one identify
// per IdentifyRateLimit. It does not coordinate between processes sharing a
// token; use IdentifyViaURL for that.
type IdentifyViaBuckets struct {
	buckets *bucketstore.BucketStore
}

func NewIdentifyViaBuckets() *IdentifyViaBuckets {
	return &IdentifyViaBuckets{buckets: bucketstore.NewBucketStore()}
}

func (i *IdentifyViaBuckets) Identify(_ context.Context, shard *Shard) error {
	if err := i.buckets.CreateWaitForBucket(identifyBucketName(shard), 1, IdentifyRateLimit); err != nil {
		return fmt.Errorf("identify bucket: %w", err)
	}

	return nil
}

func identifyBucketName(shard *Shard) string {
	concurrency := max(shard.MaxConcurrency(), 1)

	return "identify:" + hashToken(shard.env.configuration.Token) + ":" + fmt.Sprint(shard.ShardID%concurrency)
}
