package sandwich

import (
	"context"
	"errors"
	"fmt"
)

// SpawnNext takes one shard off the queue and connects it. It returns false
// when the queue was empty. Shards that fail with anything but an
// unrecoverable close are put back on the queue.
func (m *Manager) SpawnNext(ctx context.Context) (bool, error) {
	shard := m.dequeue()
	if shard == nil {
		return false, nil
	}

	m.mu.Lock()
	m.shards[shard.ShardID] = shard
	m.mu.Unlock()

	err := shard.Connect(ctx)
	if err == nil {
		return true, nil
	}

	if m.destroyed.Load() {
		return true, ErrManagerDestroyed
	}

	if ctx.Err() != nil {
		m.enqueue(shard)

		return true, ctx.Err()
	}

	var closeErr *CloseError
	if errors.As(err, &closeErr) && !IsCloseCodeRecoverable(closeErr.Code) {
		return true, fmt.Errorf("%w: %w", ErrShardUnrecoverable, closeErr)
	}

	shard.debugf("Failed to connect to the gateway, requeueing... (%s)", err)
	m.enqueue(shard)

	return true, nil
}

// spawnShards drains the queue, waiting SpawnDelay and the session limiter
// between shards.
func (m *Manager) spawnShards(ctx context.Context) (bool, error) {
	m.spawnMu.Lock()
	defer m.spawnMu.Unlock()

	spawnDelay := m.configuration.SpawnDelay.Duration()

	for {
		spawned, err := m.SpawnNext(ctx)
		if err != nil {
			return false, err
		}

		if !spawned {
			return false, nil
		}

		remaining := m.queueLen()
		if remaining == 0 {
			return true, nil
		}

		m.debugf("Shard Queue Size: %d; continuing in %d seconds...", remaining, int(spawnDelay.Seconds()))

		if err := sleep(ctx, m.clock, spawnDelay); err != nil {
			return false, err
		}

		if err := m.limiter.Await(ctx); err != nil {
			return false, err
		}
	}
}

// Reconnect spawns every queued shard again once the manager has been ready.
// It does nothing while a reconnect is already running. Transient failures
// are retried every ReconnectDelay; an invalid token or unrecoverable close
// destroys the manager.
func (m *Manager) Reconnect(skipLimit bool) (bool, error) {
	if m.destroyed.Load() || m.Status() != StatusReady {
		return false, nil
	}

	if !m.reconnecting.CompareAndSwap(false, true) {
		return false, nil
	}
	defer m.reconnecting.Store(false)

	return m.respawn(skipLimit)
}

// respawn drains the queue until it succeeds, the manager is destroyed or a
// failure cannot be retried.
func (m *Manager) respawn(skipLimit bool) (bool, error) {
	ctx := m.ctx
	reconnectDelay := m.configuration.ReconnectDelay.Duration()

	for {
		spawned, err := m.reconnectOnce(ctx, skipLimit)
		if err == nil {
			return spawned, nil
		}

		if m.destroyed.Load() {
			return false, ErrManagerDestroyed
		}

		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		m.debugf("Couldn't reconnect or fetch information about the gateway. %s", err)

		if isAuthenticationFailure(err) || errors.Is(err, ErrShardUnrecoverable) {
			if isAuthenticationFailure(err) {
				m.events.Push(shardEvent{kind: managerEventInvalidated})
			}

			m.Destroy()

			return false, err
		}

		m.debugf("Possible network error occurred. Retrying in %ds...", int(reconnectDelay.Seconds()))

		if err := sleep(ctx, m.clock, reconnectDelay); err != nil {
			return false, err
		}

		skipLimit = false
	}
}

func (m *Manager) reconnectOnce(ctx context.Context, skipLimit bool) (bool, error) {
	if !skipLimit {
		if err := m.limiter.Await(ctx); err != nil {
			return false, err
		}
	}

	return m.spawnShards(ctx)
}

// reconnectInBackground respawns a re-queued shard. Before the manager has
// been ready Reconnect is a no-op, so the queue is drained directly; a spawn
// loop that is still running holds spawnMu and picks the shard up first.
func (m *Manager) reconnectInBackground(skipLimit bool) {
	if m.destroyed.Load() {
		return
	}

	var err error

	if m.Status() == StatusReady {
		_, err = m.Reconnect(skipLimit)
	} else {
		_, err = m.respawn(skipLimit)
	}

	if err != nil && !errors.Is(err, ErrManagerDestroyed) && !errors.Is(err, context.Canceled) {
		m.Logger.Error().Err(err).Msg("Failed to reconnect shards")
	}
}

func (m *Manager) enqueue(shard *Shard) {
	if m.destroyed.Load() {
		return
	}

	m.mu.Lock()
	m.queue[shard.ShardID] = shard
	m.mu.Unlock()
}

// dequeue removes the lowest queued shard.
func (m *Manager) dequeue() *Shard {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *Shard
	for _, shard := range m.queue {
		if next == nil || shard.ShardID < next.ShardID {
			next = shard
		}
	}

	if next != nil {
		delete(m.queue, next.ShardID)
	}

	return next
}

func (m *Manager) queueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.queue)
}
