// Package eventstream defines the events twin emits about its own operation
// and the publishers that ship them. Publishing is best-effort: callers log
// publish failures and never fail the operation that produced the event.
package eventstream

import "context"

// Publisher publishes events to an event stream backend.
type Publisher interface {
	PublishOperation(ctx context.Context, event *OperationTimedEvent) error
	PublishMemoryChange(ctx context.Context, event *MemoryChangedEvent) error
	Close() error
}
