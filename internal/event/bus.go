// Package event provides the pub/sub fabric used to demultiplex the single
// upstream event feed into one ordered queue per session, built on
// watermill's gochannel transport.
package event

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// SessionTopic returns the topic name carrying events for one session.
func SessionTopic(sessionID string) string {
	return "session." + sessionID
}

// Bus is a thin typed wrapper around a watermill gochannel pub/sub.
// Delivery within a topic is in publish order as long as each topic has a
// single subscriber, which is how the bridge uses it: one worker per session.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates a new in-process bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 128,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
	}
}

// Publish sends a raw event payload to a topic.
func (b *Bus) Publish(topic string, payload []byte) error {
	msg := message.NewMessage(watermill.NewULID(), payload)
	return b.pubsub.Publish(topic, msg)
}

// Subscribe returns an ordered channel of payloads for a topic. The channel
// is closed when ctx is cancelled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, 1)
	go func() {
		defer close(out)
		for msg := range msgs {
			select {
			case out <- msg.Payload:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
