package notify

import (
	"context"
	"errors"
)

// CompositeSink fans a notification out to multiple sinks.
type CompositeSink struct {
	sinks []Sink
}

func NewCompositeSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		if ws, ok := sink.(*WebhookSink); ok && ws == nil {
			continue
		}
		filtered = append(filtered, sink)
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeSink{sinks: filtered}
}

func (c *CompositeSink) Deliver(ctx context.Context, n Notification, msg Message) error {
	if c == nil {
		return nil
	}
	var err error
	for _, sink := range c.sinks {
		if deliverErr := sink.Deliver(ctx, n, msg); deliverErr != nil {
			err = errors.Join(err, deliverErr)
		}
	}
	return err
}
