package sandwich

import "sync"

// mailbox is an unbounded FIFO. Push never blocks so shards can report to
// their manager while the manager is busy calling into them.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{
		notify: make(chan struct{}, 1),
	}
}

func (m *mailbox[T]) Push(item T) {
	m.mu.Lock()
	m.items = append(m.items, item)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns everything queued.
func (m *mailbox[T]) Drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.items
	m.items = nil

	return items
}

// Pop removes the oldest item.
func (m *mailbox[T]) Pop() (item T, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) == 0 {
		return item, false
	}

	item = m.items[0]

	var zero T
	m.items[0] = zero
	m.items = m.items[1:]

	return item, true
}

func (m *mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.items)
}

// C is signalled after a Push.
func (m *mailbox[T]) C() <-chan struct{} {
	return m.notify
}
