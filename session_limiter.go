package sandwich

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
	"github.com/benbjohnson/clock"
)

// SessionLimiter holds back identifies once the token's session start budget
// is spent. It never consumes budget itself; discord counts identifies.
type SessionLimiter struct {
	provider GatewayInfoProvider
	clock    clock.Clock
	debug    func(message string)

	limitMu sync.RWMutex
	limit   discord.SessionStartLimit
}

func NewSessionLimiter(provider GatewayInfoProvider, clk clock.Clock, debug func(message string)) *SessionLimiter {
	if debug == nil {
		debug = func(string) {}
	}

	return &SessionLimiter{
		provider: provider,
		clock:    clk,
		debug:    debug,
	}
}

// Limit returns the last known session start limit.
func (l *SessionLimiter) Limit() discord.SessionStartLimit {
	l.limitMu.RLock()
	defer l.limitMu.RUnlock()

	return l.limit
}

func (l *SessionLimiter) store(limit discord.SessionStartLimit) {
	l.limitMu.Lock()
	l.limit = limit
	l.limitMu.Unlock()
}

// Await fetches the current limit and waits for it to reset if no sessions
// remain.
func (l *SessionLimiter) Await(ctx context.Context) error {
	gateway, err := l.provider.FetchGatewayInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch session start limit: %w", err)
	}

	limit := gateway.SessionStartLimit

	l.debug(fmt.Sprintf(
		"Session Limit Information\n    Total: %d\n    Remaining: %d",
		limit.Total, limit.Remaining,
	))

	return l.AwaitLimit(ctx, limit)
}

// AwaitLimit waits for limit.ResetAfter when no sessions remain.
func (l *SessionLimiter) AwaitLimit(ctx context.Context, limit discord.SessionStartLimit) error {
	l.store(limit)

	return l.AwaitWith(ctx, limit.Remaining, time.Duration(limit.ResetAfter)*time.Millisecond)
}

// AwaitWith waits for resetAfter when remaining is zero and returns
// immediately otherwise.
func (l *SessionLimiter) AwaitWith(ctx context.Context, remaining int32, resetAfter time.Duration) error {
	if remaining > 0 {
		return nil
	}

	l.debug(fmt.Sprintf("Exceeded identify threshold. Will attempt a connection in %dms", resetAfter.Milliseconds()))

	return sleep(ctx, l.clock, resetAfter)
}
