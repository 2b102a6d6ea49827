package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Bus delivers events to subscribers using a Pub/Sub model.
// Posting blocks while a subscriber buffer is full (backpressure).
type Bus struct {
	logger *zap.Logger

	// Map of event type to subscriber channels.
	subscribers map[Type][]chan Event
	mu          sync.RWMutex
	bufferSize  int

	// Tracks Post calls in flight so Shutdown can wait for them.
	activePostsWg sync.WaitGroup

	isShutdown bool
	shutdownMu sync.Mutex
}

// NewBus initializes a Bus. Each subscriber gets a channel of bufferSize.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		logger:      logger.Named("event_bus"),
		subscribers: make(map[Type][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Post sends an event onto the bus. Blocks if subscriber buffers are full.
func (b *Bus) Post(ctx context.Context, ev Event) (err error) {
	if !ev.Type.Valid() {
		return fmt.Errorf("unknown event type %q", ev.Type)
	}

	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return fmt.Errorf("cannot post event: bus is shut down")
	}
	b.activePostsWg.Add(1)
	b.shutdownMu.Unlock()
	defer b.activePostsWg.Done()

	// A send on a channel closed by Shutdown or an unsubscribe panics.
	defer func() {
		if r := recover(); r != nil {
			b.logger.Debug("Recovered from panic in Post, likely due to shutdown.", zap.Any("panic", r))
			err = fmt.Errorf("failed to post event: bus is shutting down")
		}
	}()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := b.subscribers[ev.Type]
	if len(subs) == 0 {
		b.mu.RUnlock()
		return nil
	}
	// Copy so the lock is not held during channel sends.
	subsCopy := make([]chan Event, len(subs))
	copy(subsCopy, subs)
	b.mu.RUnlock()

	for _, ch := range subsCopy {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Emit implements Emitter. Failures are logged, never returned.
func (b *Bus) Emit(ctx context.Context, ev Event) {
	if err := b.Post(ctx, ev); err != nil {
		b.logger.Debug("Event dropped.", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// Subscribe returns a channel receiving the given event types, and a function
// that unsubscribes and closes it. With no types, every type is delivered.
func (b *Bus) Subscribe(types ...Type) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if len(types) == 0 {
		types = AllTypes
	}
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			if b.isShutdownLocked() {
				return
			}
			for _, t := range types {
				subs := b.subscribers[t]
				for i, subscriberCh := range subs {
					if subscriberCh == ch {
						b.subscribers[t] = append(subs[:i], subs[i+1:]...)
						break
					}
				}
			}
			close(ch)
		})
	}
	return ch, unsubscribe
}

func (b *Bus) isShutdownLocked() bool {
	b.shutdownMu.Lock()
	defer b.shutdownMu.Unlock()
	return b.isShutdown
}

// Shutdown stops accepting posts, closes every subscriber channel and waits
// for in-flight posts to return.
func (b *Bus) Shutdown() {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return
	}
	b.isShutdown = true
	b.shutdownMu.Unlock()

	// Closing unblocks any Post waiting on a full buffer.
	b.mu.Lock()
	unique := make(map[chan Event]struct{})
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			unique[ch] = struct{}{}
		}
	}
	for ch := range unique {
		close(ch)
	}
	b.subscribers = make(map[Type][]chan Event)
	b.mu.Unlock()

	b.activePostsWg.Wait()
}
