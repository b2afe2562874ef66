package bus

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func recv(t *testing.T, sub Subscription) Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return Envelope{}
}

func TestPublishSubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if err := b.Publish(ctx, "t1", []byte("hello")); err != nil {
		t.Fatal(err)
	}

	env := recv(t, sub)
	if env.Topic != "t1" || string(env.Data) != "hello" {
		t.Errorf("got %s %q", env.Topic, env.Data)
	}
}

func TestPublishOrder(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	for i := 0; i < 10; i++ {
		if err := b.Publish(ctx, "t1", []byte(fmt.Sprintf("%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 10; i++ {
		env := recv(t, sub)
		if string(env.Data) != fmt.Sprintf("%d", i) {
			t.Fatalf("out of order at %d: %q", i, env.Data)
		}
	}
}

func TestSubscribeMultipleTopics(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, OutputTopic("j1"), CompleteTopic("j1"))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	b.Publish(ctx, OutputTopic("j1"), []byte("chunk"))
	b.Publish(ctx, CompleteTopic("j1"), []byte("done"))

	first := recv(t, sub)
	second := recv(t, sub)
	if first.Topic != OutputTopic("j1") || second.Topic != CompleteTopic("j1") {
		t.Errorf("topics: %s, %s", first.Topic, second.Topic)
	}
}

func TestPublishNoSubscribers(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	// Publishing into the void is not an error.
	if err := b.Publish(context.Background(), "nobody", []byte("x")); err != nil {
		t.Fatal(err)
	}
}

func TestSubscriberIsolation(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	s1, _ := b.Subscribe(ctx, "t1")
	s2, _ := b.Subscribe(ctx, "t2")
	defer s1.Close()
	defer s2.Close()

	b.Publish(ctx, "t1", []byte("for s1"))

	if env := recv(t, s1); string(env.Data) != "for s1" {
		t.Errorf("s1 got %q", env.Data)
	}
	select {
	case env := <-s2.C():
		t.Errorf("s2 should receive nothing, got %q", env.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriptionClose(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	sub, _ := b.Subscribe(ctx, "t1")
	sub.Close()
	sub.Close() // idempotent

	if _, ok := <-sub.C(); ok {
		t.Error("channel should be closed")
	}

	// Publishing after close must not panic or deliver.
	if err := b.Publish(ctx, "t1", []byte("x")); err != nil {
		t.Fatal(err)
	}
}

func TestBusClose(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	sub, _ := b.Subscribe(ctx, "t1")
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	if _, ok := <-sub.C(); ok {
		t.Error("subscription should be closed with the bus")
	}
	if err := b.Publish(ctx, "t1", []byte("x")); err != ErrClosed {
		t.Errorf("got %v, want ErrClosed", err)
	}
	if _, err := b.Subscribe(ctx, "t1"); err != ErrClosed {
		t.Errorf("got %v, want ErrClosed", err)
	}
}

func TestDropWhenFull(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	sub, _ := b.Subscribe(ctx, "t1")
	defer sub.Close()

	// Overflow the buffer without a reader; publish must not block.
	for i := 0; i < subscriberBuffer+10; i++ {
		if err := b.Publish(ctx, "t1", []byte("x")); err != nil {
			t.Fatal(err)
		}
	}
	// The buffered frames are still delivered.
	for i := 0; i < subscriberBuffer; i++ {
		recv(t, sub)
	}
}
