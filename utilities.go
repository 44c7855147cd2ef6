package sandwich

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
	"github.com/WelcomerTeam/Sandwich-Gateway/sandwichjson"
	"github.com/benbjohnson/clock"
)

func randomHex(length int) string {
	if length <= 0 {
		return ""
	}

	buf := make([]byte, length)

	_, err := rand.Read(buf)
	if err != nil {
		return ""
	}

	return hex.EncodeToString(buf)
}

func replaceIfEmpty(v string, s string) string {
	if v == "" {
		return s
	}

	return v
}

// returnRangeInt32 converts a string like 0-4,6-7 to [0,1,2,3,4,6,7].
func returnRangeInt32(rangeString string, limit int32) (result []int32) {
	for _, split := range strings.Split(rangeString, ",") {
		ranges := strings.Split(strings.TrimSpace(split), "-")

		low, err := strconv.Atoi(ranges[0])
		if err != nil {
			continue
		}

		hi, err := strconv.Atoi(ranges[len(ranges)-1])
		if err != nil {
			continue
		}

		// Clamp before converting so large bounds cannot wrap around.
		low = min(max(low, 0), int(limit))
		hi = min(hi, int(limit)-1)

		for i := low; i <= hi; i++ {
			result = append(result, int32(i))
		}
	}

	return result
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))

	return hex.EncodeToString(sum[:])
}

func unmarshalPayload(payload *discord.GatewayPayload, out any) error {
	err := sandwichjson.Unmarshal(payload.Data, out)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", payload.Op, err)
	}

	return nil
}

// sleep waits for d on clk, returning early with the context's error.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := clk.Timer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
