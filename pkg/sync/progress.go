package sync

import "sync"

// Broadcaster fans out job snapshots to subscribers. Slow subscribers
// miss intermediate snapshots rather than blocking the publisher; each
// snapshot is complete, so dropping one loses nothing durable.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Job]struct{}
	closed bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[chan Job]struct{}),
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// must be called to release the subscription.
func (b *Broadcaster) Subscribe() (<-chan Job, func()) {
	ch := make(chan Job, 16)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers a snapshot to every subscriber without blocking.
func (b *Broadcaster) Publish(job Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- job:
		default:
		}
	}
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = make(map[chan Job]struct{})
}
