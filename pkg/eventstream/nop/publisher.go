package nop

import (
	"context"

	"github.com/papercomputeco/twin/pkg/eventstream"
)

// Publisher is a no-op eventstream publisher used for tests and disabled mode.
type Publisher struct{}

// NewPublisher creates a new no-op eventstream publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// PublishOperation validates input and otherwise does nothing.
func (p *Publisher) PublishOperation(_ context.Context, event *eventstream.OperationTimedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	return nil
}

// PublishMemoryChange validates input and otherwise does nothing.
func (p *Publisher) PublishMemoryChange(_ context.Context, event *eventstream.MemoryChangedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
