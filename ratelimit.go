package sandwich

import (
	"time"

	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
	"github.com/benbjohnson/clock"
)

type queuedPayload struct {
	op   discord.GatewayOp
	data []byte
}

// sendQueue is the outbound budget of a shard. The window starts with the
// first send made on a full budget.
type sendQueue struct {
	items     []queuedPayload
	remaining int32
	total     int32
	window    time.Duration
	timer     *clock.Timer

	// notified is set once the rate limit was reported for this window.
	notified bool
}

func newSendQueue(total int32, window time.Duration) *sendQueue {
	return &sendQueue{
		remaining: total,
		total:     total,
		window:    window,
	}
}

// push puts important payloads ahead of everything already queued.
func (q *sendQueue) push(item queuedPayload, important bool) {
	if important {
		q.items = append([]queuedPayload{item}, q.items...)
	} else {
		q.items = append(q.items, item)
	}
}

func (q *sendQueue) pop() (queuedPayload, bool) {
	if len(q.items) == 0 {
		return queuedPayload{}, false
	}

	item := q.items[0]
	q.items[0] = queuedPayload{}
	q.items = q.items[1:]

	return item, true
}

func (q *sendQueue) refill() {
	q.remaining = q.total
	q.notified = false
}

func (q *sendQueue) reset() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}

	q.items = nil
	q.refill()
}
