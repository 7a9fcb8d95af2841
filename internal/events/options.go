package events

import "github.com/sethvargo/go-retry"

type ProducerOptions func(e *EventProducer)

func WithOutputTopic(topic string) ProducerOptions {
	return func(e *EventProducer) {
		e.topic = topic
	}
}

// WithSource sets the cloudevent source attribute.
func WithSource(source string) ProducerOptions {
	return func(e *EventProducer) {
		e.source = source
	}
}

// WithBackoff replaces the retry policy of failed writes. The factory is
// called once per event.
func WithBackoff(fn func() retry.Backoff) ProducerOptions {
	return func(e *EventProducer) {
		e.backoff = fn
	}
}
