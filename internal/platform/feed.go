package platform

import (
	"context"
	"sync"
)

// Feed fans values out to subscribers. Each subscription is a buffered
// channel that is closed when the subscriber's context is done.
//
// A blocking feed waits for every live subscriber to accept a value, which
// preserves delivery order. A lossy feed drops values for subscribers whose
// buffer is full.
type Feed[T any] struct {
	mu     sync.Mutex
	subs   map[int]feedSub[T]
	nextID int
	buffer int
	lossy  bool
}

type feedSub[T any] struct {
	ch   chan T
	done <-chan struct{}
}

// NewFeed creates a blocking feed.
func NewFeed[T any](buffer int) *Feed[T] {
	return &Feed[T]{subs: make(map[int]feedSub[T]), buffer: buffer}
}

// NewLossyFeed creates a feed that never blocks publishers.
func NewLossyFeed[T any](buffer int) *Feed[T] {
	f := NewFeed[T](buffer)
	f.lossy = true
	return f
}

// Subscribe registers a new subscriber for the lifetime of ctx.
func (f *Feed[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, f.buffer)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = feedSub[T]{ch: ch, done: ctx.Done()}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		close(ch)
		f.mu.Unlock()
	}()

	return ch
}

// Publish delivers v to every subscriber. It returns the number of
// subscribers that received the value.
func (f *Feed[T]) Publish(v T) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	delivered := 0
	for _, sub := range f.subs {
		if f.lossy {
			select {
			case sub.ch <- v:
				delivered++
			default:
			}
			continue
		}
		select {
		case sub.ch <- v:
			delivered++
		case <-sub.done:
		}
	}
	return delivered
}

// PublishContext is Publish with a bound on how long a blocking feed waits
// for slow subscribers. It stops at the first subscriber still full when ctx
// is done.
func (f *Feed[T]) PublishContext(ctx context.Context, v T) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delivered := 0
	for _, sub := range f.subs {
		if f.lossy {
			select {
			case sub.ch <- v:
				delivered++
			default:
			}
			continue
		}
		select {
		case sub.ch <- v:
			delivered++
		case <-sub.done:
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}
	return delivered, nil
}

// Subscribers returns the number of live subscriptions.
func (f *Feed[T]) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// SessionBroker is a UserSessions source fed by PublishLifecycle. It is used
// where the window system has no native user lifecycle stream.
type SessionBroker struct {
	feed *Feed[LifecyclePhase]
	user int

	mu    sync.Mutex
	phase LifecyclePhase
}

var (
	_ UserSessions       = (*SessionBroker)(nil)
	_ LifecyclePublisher = (*SessionBroker)(nil)
)

// NewSessionBroker creates a broker that reports user as the foreground user.
func NewSessionBroker(user int) *SessionBroker {
	return &SessionBroker{feed: NewFeed[LifecyclePhase](8), user: user}
}

// WatchLifecycle subscribes to lifecycle phases.
func (b *SessionBroker) WatchLifecycle(ctx context.Context) (<-chan LifecyclePhase, error) {
	return b.feed.Subscribe(ctx), nil
}

// CurrentUser returns the foreground user identity.
func (b *SessionBroker) CurrentUser() int {
	return b.user
}

// PublishLifecycle records phase and delivers it to subscribers.
func (b *SessionBroker) PublishLifecycle(phase LifecyclePhase) {
	b.mu.Lock()
	b.phase = phase
	b.mu.Unlock()
	b.feed.Publish(phase)
}

// Phase returns the last published phase.
func (b *SessionBroker) Phase() LifecyclePhase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}
