package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

const subscriberBuffer = 256

var ErrClosed = errors.New("bus closed")

// MemoryBus is an in-process Bus. Publish fans out under a read lock;
// per-subscriber buffered channels preserve publish order.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{} // topic → subscribers
	closed bool
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*memorySub]struct{})}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	for sub := range b.subs[topic] {
		select {
		case sub.ch <- Envelope{Topic: topic, Data: data}:
		default:
			// Subscriber is not keeping up. Dropping beats blocking the
			// runner; the terminal frame still closes the session.
			slog.Warn("bus subscriber full, dropping frame", "topic", topic)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySub{
		bus:    b,
		topics: topics,
		ch:     make(chan Envelope, subscriberBuffer),
	}
	for _, t := range topics {
		if b.subs[t] == nil {
			b.subs[t] = make(map[*memorySub]struct{})
		}
		b.subs[t][sub] = struct{}{}
	}
	return sub, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	seen := make(map[*memorySub]struct{})
	for _, subs := range b.subs {
		for sub := range subs {
			if _, ok := seen[sub]; ok {
				continue
			}
			seen[sub] = struct{}{}
			sub.closeOnce.Do(func() { close(sub.ch) })
		}
	}
	b.subs = make(map[string]map[*memorySub]struct{})
	return nil
}

type memorySub struct {
	bus       *MemoryBus
	topics    []string
	ch        chan Envelope
	closeOnce sync.Once
}

func (s *memorySub) C() <-chan Envelope { return s.ch }

func (s *memorySub) Close() {
	s.bus.mu.Lock()
	for _, t := range s.topics {
		delete(s.bus.subs[t], s)
		if len(s.bus.subs[t]) == 0 {
			delete(s.bus.subs, t)
		}
	}
	s.bus.mu.Unlock()

	s.closeOnce.Do(func() { close(s.ch) })
}
