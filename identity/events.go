package identity

import "sync"

// Notifier delivers password change notifications.
type Notifier interface {
	// Subscribe registers fn and returns a function removing it.  fn is
	// called synchronously by the publisher and must not block.
	Subscribe(fn func(PasswordChanged)) (unsubscribe func())
}

// Broadcaster is a Notifier fanning events out to every subscriber.
type Broadcaster struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(PasswordChanged)
}

var _ Notifier = (*Broadcaster)(nil)

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: map[int]func(PasswordChanged){},
	}
}

// Subscribe implements the Notifier interface for *Broadcaster.
func (b *Broadcaster) Subscribe(fn func(PasswordChanged)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
		})
	}
}

// Publish delivers ev to all current subscribers.
func (b *Broadcaster) Publish(ev PasswordChanged) {
	b.mu.RLock()
	subs := make([]func(PasswordChanged), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}
