// Package bus carries execution frames from the runner to whoever is
// watching the job. Topics are plain strings; subscribers get their own
// buffered channel and slow consumers lose frames rather than stall the
// publisher.
package bus

import (
	"context"
	"fmt"
)

// Envelope is a single published frame.
type Envelope struct {
	Topic string
	Data  []byte
}

// Subscription is a live feed of envelopes for one or more topics.
type Subscription interface {
	// C delivers envelopes in publish order per topic. The channel closes
	// when the subscription is closed.
	C() <-chan Envelope

	// Close detaches the subscription. Safe to call more than once.
	Close()
}

// Bus is a topic-based publish/subscribe fabric.
type Bus interface {
	// Publish delivers data to every current subscriber of topic.
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe attaches to one or more topics.
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)

	// Close shuts the bus down and closes all subscriptions.
	Close() error
}

// OutputTopic names the stream of output frames for a job.
func OutputTopic(jobID string) string {
	return fmt.Sprintf("job:%s:output", jobID)
}

// CompleteTopic names the terminal frame channel for a job.
func CompleteTopic(jobID string) string {
	return fmt.Sprintf("job:%s:complete", jobID)
}
